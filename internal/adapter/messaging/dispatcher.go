package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rl1809/order-saga/internal/core/domain"
)

// Message is what a handler sees of a delivery.
type Message struct {
	Queue       string
	MessageID   string
	Body        []byte
	Attempt     int
	Redelivered bool
}

// HandlerFunc returns nil to ack. ErrMalformedMessage and ErrRetriesExhausted
// dead-letter the delivery, anything else requeues it once. Failures seen
// while the dispatcher is stopping always requeue.
type HandlerFunc func(ctx context.Context, msg Message) error

type DispatcherOptions struct {
	Concurrency int
	Prefetch    int
}

// Dispatcher consumes each registered queue with a fixed pool of goroutines.
type Dispatcher struct {
	conn     *amqp.Connection
	opts     DispatcherOptions
	log      zerolog.Logger
	mu       sync.Mutex
	handlers map[string]HandlerFunc
}

func NewDispatcher(conn *amqp.Connection, opts DispatcherOptions, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		conn:     conn,
		opts:     opts,
		log:      log.With().Str("component", "dispatcher").Logger(),
		handlers: make(map[string]HandlerFunc),
	}
}

// Register binds a queue to its handler. Call before Run.
func (d *Dispatcher) Register(queue string, h HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[queue] = h
}

// Run blocks until ctx is done or a consumer channel is closed by the broker.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	handlers := make(map[string]HandlerFunc, len(d.handlers))
	for q, h := range d.handlers {
		handlers[q] = h
	}
	d.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for queue, h := range handlers {
		g.Go(func() error {
			return d.consume(ctx, queue, h)
		})
	}
	return g.Wait()
}

func (d *Dispatcher) consume(ctx context.Context, queue string, h HandlerFunc) error {
	ch, err := d.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel for %s: %w", queue, err)
	}
	defer ch.Close()

	if err := ch.Qos(max(1, d.opts.Prefetch), 0, false); err != nil {
		return fmt.Errorf("set qos for %s: %w", queue, err)
	}

	deliveries, err := ch.Consume(
		queue, // queue
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}

	log := d.log.With().Str("queue", queue).Logger()
	log.Info().Int("workers", max(1, d.opts.Concurrency)).Msg("consumer started")

	var wg sync.WaitGroup
	closed := make(chan struct{})
	for i := 0; i < max(1, d.opts.Concurrency); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for del := range deliveries {
				d.handle(ctx, queue, h, del, log)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(closed)
	}()

	select {
	case <-ctx.Done():
		// closing the channel ends the deliveries range; unacked messages return to the queue
		ch.Close()
		<-closed
		log.Info().Msg("consumer stopped")
		return nil
	case <-closed:
		return fmt.Errorf("consumer channel for %s closed", queue)
	}
}

func (d *Dispatcher) handle(ctx context.Context, queue string, h HandlerFunc, del amqp.Delivery, log zerolog.Logger) {
	msg := Message{
		Queue:       queue,
		MessageID:   del.MessageId,
		Body:        del.Body,
		Attempt:     attemptOf(del.Headers),
		Redelivered: del.Redelivered,
	}
	log = log.With().Str("messageId", msg.MessageID).Int("attempt", msg.Attempt).Logger()

	err := h(ctx, msg)

	var ackErr error
	switch {
	case err == nil:
		ackErr = del.Ack(false)
	case errors.Is(err, domain.ErrMalformedMessage), errors.Is(err, domain.ErrRetriesExhausted):
		log.Error().Err(err).Msg("rejecting message to dead-letter queue")
		ackErr = del.Reject(false)
	case ctx.Err() != nil:
		log.Info().Err(err).Msg("stopping, returning delivery to the queue")
		ackErr = del.Nack(false, true)
	case !del.Redelivered:
		log.Warn().Err(err).Msg("handler failed, requeueing once")
		ackErr = del.Nack(false, true)
	default:
		log.Error().Err(err).Msg("handler failed on redelivery, rejecting to dead-letter queue")
		ackErr = del.Reject(false)
	}
	if ackErr != nil {
		log.Warn().Err(ackErr).Msg("failed to settle delivery")
	}
}

// attemptOf prefers the header stamped by the retry publisher and falls
// back to the broker's x-death count for the retry queue.
func attemptOf(headers amqp.Table) int {
	attempt := toInt(headers[AttemptHeader])

	deaths, _ := headers["x-death"].([]interface{})
	for _, raw := range deaths {
		death, ok := raw.(amqp.Table)
		if !ok || death["queue"] != QueueOrderRetry {
			continue
		}
		attempt = max(attempt, toInt(death["count"]))
	}
	return attempt
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int8:
		return int(n)
	case int16:
		return int(n)
	case int32:
		return int(n)
	case int64:
		return int(n)
	case uint8:
		return int(n)
	case uint16:
		return int(n)
	case uint32:
		return int(n)
	default:
		return 0
	}
}

// DecodeJSON unmarshals a message body, reporting bad payloads as malformed.
func DecodeJSON[T any](body []byte) (T, error) {
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return v, fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
	}
	return v, nil
}
