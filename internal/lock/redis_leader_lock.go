package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only when the stored token still belongs
// to this holder, so an expired-and-reacquired lock is never released by
// the previous owner.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// RedisLike is the subset of the go-redis client the lock needs. Satisfied
// by *redis.Client.
type RedisLike interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

type RedisLeaderLock struct {
	client RedisLike
}

func NewRedisLeaderLock(client RedisLike) *RedisLeaderLock {
	return &RedisLeaderLock{client: client}
}

func (l *RedisLeaderLock) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Handle, bool, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire leader lock %q: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	return &redisHandle{client: l.client, key: key, token: token}, true, nil
}

type redisHandle struct {
	client RedisLike
	key    string
	token  string
}

func (h *redisHandle) Key() string {
	return h.key
}

func (h *redisHandle) Release(ctx context.Context) error {
	return h.client.Eval(ctx, releaseScript, []string{h.key}, h.token).Err()
}
