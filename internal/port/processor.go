package port

import (
	"context"

	"github.com/rl1809/order-saga/internal/core/domain"
)

// OrderProcessor is the downstream step of the saga (payment, provisioning, ...).
// Errors should be wrapped with domain.Transient or domain.Permanent.
type OrderProcessor interface {
	Process(ctx context.Context, event domain.OrderCreatedEvent) error
}
