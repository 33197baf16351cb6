package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLockTimeout is returned when a key mutex cannot be acquired before the
// acquisition deadline.
var ErrLockTimeout = errors.New("timed out acquiring lock")

// releaseScript deletes the lock only if it still holds our token, so an
// expired lock taken over by another holder is never released by us.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// KeyMutex serializes critical sections per key across all service
// instances using a Redis SET NX lock with a TTL safety net.
type KeyMutex struct {
	redis      *redis.Client
	ttl        time.Duration
	retryEvery time.Duration
	maxWait    time.Duration
}

func NewKeyMutex(client *redis.Client, ttl time.Duration) *KeyMutex {
	return &KeyMutex{
		redis:      client,
		ttl:        ttl,
		retryEvery: 25 * time.Millisecond,
		maxWait:    5 * time.Second,
	}
}

// WithLock runs fn while holding the lock for key. Acquisition retries until
// maxWait, then fails with ErrLockTimeout. The lock is released on return;
// if the process dies mid-section the TTL reclaims it.
func (m *KeyMutex) WithLock(ctx context.Context, key string, fn func() error) error {
	token, err := GenerateCode(16)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(m.maxWait)
	for {
		ok, err := m.redis.SetNX(ctx, key, token, m.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s", ErrLockTimeout, key)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.retryEvery):
		}
	}

	defer releaseScript.Run(context.WithoutCancel(ctx), m.redis, []string{key}, token)

	return fn()
}
