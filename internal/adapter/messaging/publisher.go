package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/rl1809/order-saga/internal/core/domain"
)

// AttemptHeader carries the retry cycle a message is on.
const AttemptHeader = "x-retry-attempt"

var ErrNotConfirmed = errors.New("broker did not confirm publish")

// Publisher sends events with publisher confirms. Every publish waits for
// the broker ack, so a nil error means the message is on a durable queue.
type Publisher struct {
	mu sync.Mutex
	ch *amqp.Channel
}

func NewPublisher(conn *amqp.Connection) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open publisher channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	return &Publisher{ch: ch}, nil
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}

func (p *Publisher) PublishOrderCreated(ctx context.Context, event domain.OrderCreatedEvent) error {
	return p.publishJSON(ctx, Exchange, RoutingOrderCreated, event, nil)
}

// PublishOrderRetry goes straight to the retry queue through the default exchange.
func (p *Publisher) PublishOrderRetry(ctx context.Context, event domain.OrderCreatedEvent, attempt int) error {
	return p.publishJSON(ctx, "", QueueOrderRetry, event, amqp.Table{AttemptHeader: int32(attempt)})
}

func (p *Publisher) PublishStockRestore(ctx context.Context, cmd domain.StockRestoreCommand) error {
	return p.publishJSON(ctx, Exchange, RoutingStockRestore, cmd, nil)
}

func (p *Publisher) PublishStockRestoreRetry(ctx context.Context, cmd domain.StockRestoreCommand) error {
	return p.publishJSON(ctx, "", QueueStockRestoreRetry, cmd, nil)
}

func (p *Publisher) publishJSON(ctx context.Context, exchange, key string, v any, headers amqp.Table) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message for %s: %w", key, err)
	}
	return p.publish(ctx, exchange, key, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
		Body:         body,
	})
}

func (p *Publisher) publish(ctx context.Context, exchange, key string, msg amqp.Publishing) error {
	p.mu.Lock()
	confirm, err := p.ch.PublishWithDeferredConfirmWithContext(ctx,
		exchange, // exchange
		key,      // routing key
		false,    // mandatory
		false,    // immediate
		msg,
	)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish to %s/%s: %w", exchange, key, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm for %s/%s: %w", exchange, key, err)
	}
	if !acked {
		return fmt.Errorf("%w: %s/%s", ErrNotConfirmed, exchange, key)
	}
	return nil
}
