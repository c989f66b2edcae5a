package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/rl1809/order-saga/internal/port"
)

const receivePoll = 50 * time.Millisecond

// DeadLetterQueue gives the reprocessing job pull access to orders.created.dlq.
type DeadLetterQueue struct {
	mu   sync.Mutex
	ch   *amqp.Channel
	pub  *Publisher
	name string
}

func NewDeadLetterQueue(conn *amqp.Connection, pub *Publisher) (*DeadLetterQueue, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open dlq channel: %w", err)
	}
	return &DeadLetterQueue{ch: ch, pub: pub, name: QueueOrderDLQ}, nil
}

func (q *DeadLetterQueue) Name() string { return q.name }

func (q *DeadLetterQueue) Close() error { return q.ch.Close() }

func (q *DeadLetterQueue) Count(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	info, err := q.ch.QueueDeclarePassive(q.name, true, false, false, false, nil)
	if err != nil {
		return 0, fmt.Errorf("inspect %s: %w", q.name, err)
	}
	return info.Messages, nil
}

// Receive polls basic.get until a message arrives or timeout elapses. The
// message is auto-acked: once returned it is no longer in the DLQ.
func (q *DeadLetterQueue) Receive(ctx context.Context, timeout time.Duration) (*port.DeadLetterMessage, error) {
	deadline := time.Now().Add(timeout)

	for {
		q.mu.Lock()
		d, ok, err := q.ch.Get(q.name, true)
		q.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("get from %s: %w", q.name, err)
		}
		if ok {
			return &port.DeadLetterMessage{
				MessageID:   d.MessageId,
				ContentType: d.ContentType,
				Body:        d.Body,
			}, nil
		}

		if !time.Now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(receivePoll):
		}
	}
}

// Republish sends the raw body to the main exchange or to the retry queue.
// Retry headers are not carried over, the message starts a fresh cycle.
func (q *DeadLetterQueue) Republish(ctx context.Context, msg port.DeadLetterMessage, target port.ReprocessTarget) error {
	exchange, key := Exchange, RoutingOrderCreated
	if target == port.TargetRetry {
		exchange, key = "", QueueOrderRetry
	}

	contentType := msg.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	return q.pub.publish(ctx, exchange, key, amqp.Publishing{
		ContentType:  contentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.MessageID,
		Timestamp:    time.Now().UTC(),
		Body:         msg.Body,
	})
}
