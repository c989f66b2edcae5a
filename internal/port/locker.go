package port

import (
	"context"
	"time"
)

type Locker interface {
	// Acquire blocks up to wait for the key, returns domain.ErrLockTimeout when it stays held
	Acquire(ctx context.Context, key string, lease, wait time.Duration) (Lock, error)
}

type Lock interface {
	Key() string

	// Release deletes the key only if this holder still owns it
	Release(ctx context.Context) error
}
