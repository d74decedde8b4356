package lock

import (
	"context"
	"time"
)

// Handle represents one acquired lease on a leader lock. It is acquired
// fresh each tick and passed into the evaluation call; there is no
// process-wide "is leader" state.
type Handle interface {
	Key() string

	// Release gives the lock up early. The TTL still bounds the lease if
	// the release is lost, so failures here are safe to ignore.
	Release(ctx context.Context) error
}

// LeaderLock elects a single active scheduler instance per tick via a
// set-if-absent-with-expiry primitive on a shared store.
type LeaderLock interface {
	// TryAcquire returns (handle, true, nil) when this instance won the
	// lock, (nil, false, nil) when another instance holds it.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (Handle, bool, error)
}
