package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryLeaderLock implements the same set-if-absent-with-expiry semantics
// in process. It backs the memory storage driver and the scheduler tests.
type MemoryLeaderLock struct {
	mu     sync.Mutex
	leases map[string]memoryLease
}

type memoryLease struct {
	token     int64
	expiresAt time.Time
}

func NewMemoryLeaderLock() *MemoryLeaderLock {
	return &MemoryLeaderLock{leases: make(map[string]memoryLease)}
}

func (l *MemoryLeaderLock) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Handle, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if lease, ok := l.leases[key]; ok && lease.expiresAt.After(now) {
		return nil, false, nil
	}

	token := now.UnixNano()
	l.leases[key] = memoryLease{token: token, expiresAt: now.Add(ttl)}
	return &memoryHandle{lock: l, key: key, token: token}, true, nil
}

type memoryHandle struct {
	lock  *MemoryLeaderLock
	key   string
	token int64
}

func (h *memoryHandle) Key() string {
	return h.key
}

func (h *memoryHandle) Release(ctx context.Context) error {
	h.lock.mu.Lock()
	defer h.lock.mu.Unlock()

	if lease, ok := h.lock.leases[h.key]; ok && lease.token == h.token {
		delete(h.lock.leases, h.key)
	}
	return nil
}
