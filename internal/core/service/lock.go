package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rl1809/order-saga/internal/port"
)

type LockOptions struct {
	Lease time.Duration
	Wait  time.Duration
}

// KeyFunc builds the lock key for one invocation.
type KeyFunc func() string

func productKey(productID int64) KeyFunc {
	return func() string { return fmt.Sprintf("product:%d", productID) }
}

func jobKey(name string) KeyFunc {
	return func() string { return "job:" + name }
}

// WithLock runs fn while holding the lock built by key. The lock is released
// after fn returns, so a transaction opened inside fn is already committed or
// rolled back by then. A failed release is logged, never returned: fn's
// effects are durable at that point.
func WithLock[T any](ctx context.Context, locker port.Locker, opts LockOptions, key KeyFunc, log zerolog.Logger, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	lock, err := locker.Acquire(ctx, key(), opts.Lease, opts.Wait)
	if err != nil {
		return zero, err
	}
	defer func() {
		// release even if the caller's context was canceled meanwhile
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			log.Warn().Err(err).Str("lock", lock.Key()).Msg("lock release failed, lease may have expired")
		}
	}()

	return fn(ctx)
}
