package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rl1809/order-saga/internal/core/domain"
	"github.com/rl1809/order-saga/internal/port"
)

// Outcome is what happened to one OrderCreated delivery.
type Outcome string

const (
	OutcomeProcessed    Outcome = "processed"
	OutcomeSkipped      Outcome = "skipped"
	OutcomeRetried      Outcome = "retried"
	OutcomeCompensated  Outcome = "compensated"
	OutcomeDeadLettered Outcome = "dead-lettered"
	OutcomeInterrupted  Outcome = "interrupted"
)

const releaseTimeout = 2 * time.Second

type ConsumerOptions struct {
	IdempotencyTTL        time.Duration
	MaxAttempts           int
	ForcePermanentFailure bool
}

func processedKey(orderID int64) string {
	return fmt.Sprintf("processed:%d", orderID)
}

// OrderEventConsumer is the worker side of the saga.
type OrderEventConsumer struct {
	idem      port.IdempotencyStore
	processor port.OrderProcessor
	publisher port.EventPublisher
	metrics   port.Metrics
	opts      ConsumerOptions
	log       zerolog.Logger
}

func NewOrderEventConsumer(
	idem port.IdempotencyStore,
	processor port.OrderProcessor,
	publisher port.EventPublisher,
	metrics port.Metrics,
	opts ConsumerOptions,
	log zerolog.Logger,
) *OrderEventConsumer {
	return &OrderEventConsumer{
		idem:      idem,
		processor: processor,
		publisher: publisher,
		metrics:   metrics,
		opts:      opts,
		log:       log.With().Str("component", "order-consumer").Logger(),
	}
}

// HandleOrderCreated applies exactly one of processed, skipped, retried or
// compensated to a delivery. attempt counts previous trips through the retry
// queue. A returned error means the delivery must not be acked.
//
// The processed key is claimed before processing, so of two concurrent
// deliveries only the first writer runs the effect. A failed attempt gives
// the claim back for the retry.
func (c *OrderEventConsumer) HandleOrderCreated(ctx context.Context, event domain.OrderCreatedEvent, attempt int) (Outcome, error) {
	log := c.log.With().Int64("orderId", event.OrderID).Int("attempt", attempt).Logger()

	if c.opts.ForcePermanentFailure {
		// idempotency is deliberately not marked so redeliveries exercise this path again
		log.Warn().Msg("forced permanent failure, triggering compensation")
		return c.compensate(ctx, event, log)
	}

	key := processedKey(event.OrderID)
	claimed, err := c.idem.Mark(ctx, key, c.opts.IdempotencyTTL)
	if err != nil {
		return c.retry(ctx, event, attempt, domain.Transient(fmt.Errorf("idempotency claim: %w", err)), log)
	}
	if !claimed {
		c.metrics.EventSkipped()
		log.Info().Msg("skip duplicated order event")
		return OutcomeSkipped, nil
	}

	start := time.Now()
	err = c.processor.Process(ctx, event)
	c.metrics.ObserveProcessing(time.Since(start))

	if err != nil {
		c.release(ctx, key, log)
		if domain.IsPermanent(err) {
			log.Error().Err(err).Msg("permanent processing error")
			return c.compensate(ctx, event, log)
		}
		return c.retry(ctx, event, attempt, err, log)
	}

	c.metrics.EventProcessed()
	log.Info().Int64("userId", event.UserID).Int64("productId", event.ProductID).
		Int("quantity", event.Quantity).Str("totalPrice", event.TotalPrice.String()).
		Msg("order event processed")
	return OutcomeProcessed, nil
}

// release runs on a context detached from shutdown; a claim left behind
// would make the retried event look processed.
func (c *OrderEventConsumer) release(ctx context.Context, key string, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if err := c.idem.Release(ctx, key); err != nil {
		log.Error().Err(err).Bool("critical", true).Msg("failed to release idempotency claim, retry will be skipped")
	}
}

func (c *OrderEventConsumer) retry(ctx context.Context, event domain.OrderCreatedEvent, attempt int, cause error, log zerolog.Logger) (Outcome, error) {
	if ctx.Err() != nil {
		// shutting down: the unacked delivery goes back to the queue with the channel
		log.Info().Err(cause).Msg("interrupted, leaving delivery unacked")
		return OutcomeInterrupted, fmt.Errorf("order %d: %w", event.OrderID, ctx.Err())
	}

	if c.opts.MaxAttempts > 0 && attempt >= c.opts.MaxAttempts {
		c.metrics.EventDeadLettered()
		log.Error().Err(cause).Msg("retries exhausted, dead-lettering")
		return OutcomeDeadLettered, fmt.Errorf("%w: order %d after %d attempts: %v", domain.ErrRetriesExhausted, event.OrderID, attempt, cause)
	}

	if err := c.publisher.PublishOrderRetry(ctx, event, attempt+1); err != nil {
		c.metrics.EventDeadLettered()
		log.Error().Err(err).AnErr("cause", cause).Msg("retry publish failed, dead-lettering")
		return OutcomeDeadLettered, fmt.Errorf("publish retry for order %d: %w", event.OrderID, err)
	}

	c.metrics.EventRetried()
	log.Warn().Err(cause).Msg("transient error, sent to retry")
	return OutcomeRetried, nil
}

func (c *OrderEventConsumer) compensate(ctx context.Context, event domain.OrderCreatedEvent, log zerolog.Logger) (Outcome, error) {
	if err := c.publisher.PublishStockRestore(ctx, event.RestoreCommand()); err != nil {
		if ctx.Err() != nil {
			log.Info().Err(err).Msg("interrupted, leaving delivery unacked")
			return OutcomeInterrupted, fmt.Errorf("order %d: %w", event.OrderID, ctx.Err())
		}
		c.metrics.EventDeadLettered()
		log.Error().Err(err).Msg("compensation publish failed, dead-lettering")
		return OutcomeDeadLettered, fmt.Errorf("publish stock restore for order %d: %w", event.OrderID, err)
	}

	c.metrics.EventCompensated()
	return OutcomeCompensated, nil
}

// LogProcessor is the default processing step. It only records the order.
type LogProcessor struct {
	Log zerolog.Logger
}

func (p LogProcessor) Process(ctx context.Context, event domain.OrderCreatedEvent) error {
	if err := ctx.Err(); err != nil {
		return domain.Transient(err)
	}
	p.Log.Debug().Int64("orderId", event.OrderID).Msg("consumed OrderCreated")
	return nil
}
