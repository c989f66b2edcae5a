package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/order-saga/internal/core/domain"
	"github.com/rl1809/order-saga/internal/port"
)

const (
	defaultLockPrefix   = "lock:"
	lockPollInterval    = 50 * time.Millisecond
	idempotencySentinel = "1"
)

var ErrLockNotHeld = errors.New("lock not held")

// Deletes the key only when it still carries our token, so an expired lease
// never releases somebody else's lock.
var releaseLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

type RedisAdapter struct {
	client     redis.UniversalClient
	lockPrefix string
	newToken   func() string
	poll       time.Duration
}

func NewRedisAdapter(client redis.UniversalClient, lockPrefix string) *RedisAdapter {
	if lockPrefix == "" {
		lockPrefix = defaultLockPrefix
	}
	return &RedisAdapter{
		client:     client,
		lockPrefix: lockPrefix,
		newToken:   uuid.NewString,
		poll:       lockPollInterval,
	}
}

func (r *RedisAdapter) Acquire(ctx context.Context, key string, lease, wait time.Duration) (port.Lock, error) {
	fullKey := r.lockPrefix + key
	token := r.newToken()
	deadline := time.Now().Add(wait)

	for {
		ok, err := r.client.SetNX(ctx, fullKey, token, lease).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", fullKey, err)
		}
		if ok {
			return &redisLock{client: r.client, key: fullKey, token: token}, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: %s", domain.ErrLockTimeout, fullKey)
		}

		timer := time.NewTimer(min(r.poll, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("acquire lock %s: %w", fullKey, ctx.Err())
		case <-timer.C:
		}
	}
}

type redisLock struct {
	client redis.UniversalClient
	key    string
	token  string
}

func (l *redisLock) Key() string { return l.key }

func (l *redisLock) Release(ctx context.Context) error {
	n, err := releaseLockScript.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrLockNotHeld, l.key)
	}
	return nil
}

func (r *RedisAdapter) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisAdapter) Mark(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, key, idempotencySentinel, ttl).Result()
}

func (r *RedisAdapter) Release(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}
