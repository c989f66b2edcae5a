package port

import (
	"context"
	"time"

	"github.com/rl1809/order-saga/internal/core/domain"
)

type ReprocessTarget string

const (
	TargetMain  ReprocessTarget = "main"
	TargetRetry ReprocessTarget = "retry"
)

type EventPublisher interface {
	// PublishOrderCreated sends the event to the main exchange with routing key orders.created
	PublishOrderCreated(ctx context.Context, event domain.OrderCreatedEvent) error

	// PublishOrderRetry parks the event in the retry queue until its TTL returns it to the main queue.
	// attempt is stamped on the message so the next delivery knows how many cycles it went through.
	PublishOrderRetry(ctx context.Context, event domain.OrderCreatedEvent, attempt int) error

	// PublishStockRestore sends the compensating command with routing key orders.stock-restore
	PublishStockRestore(ctx context.Context, cmd domain.StockRestoreCommand) error

	// PublishStockRestoreRetry parks the command in the stock-restore retry queue until its TTL
	// returns it to orders.stock-restore.queue
	PublishStockRestoreRetry(ctx context.Context, cmd domain.StockRestoreCommand) error
}

// DeadLetterMessage is a raw message popped from a dead-letter queue.
type DeadLetterMessage struct {
	MessageID   string
	ContentType string
	Body        []byte
}

type DeadLetterQueue interface {
	Name() string

	// Count returns the number of messages waiting in the queue
	Count(ctx context.Context) (int, error)

	// Receive pops one message, returns nil when none arrives within timeout
	Receive(ctx context.Context, timeout time.Duration) (*DeadLetterMessage, error)

	// Republish sends a popped message to the main exchange or the retry queue
	Republish(ctx context.Context, msg DeadLetterMessage, target ReprocessTarget) error
}
