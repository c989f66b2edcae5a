package port

import (
	"context"
	"time"
)

type IdempotencyStore interface {
	// Exists reports whether the key was already marked
	Exists(ctx context.Context, key string) (bool, error)

	// Mark sets the key with a TTL, returns false if it already existed
	Mark(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release drops a key so the next delivery can claim it again
	Release(ctx context.Context, key string) error
}
