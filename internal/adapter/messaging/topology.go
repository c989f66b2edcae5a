package messaging

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	Exchange     = "orders.exchange"
	ExchangeType = "topic"

	RoutingOrderCreated = "orders.created"
	RoutingStockRestore = "orders.stock-restore"

	QueueOrderCreated    = "orders.created.queue"
	QueueOrderRetry      = "orders.created.retry"
	QueueOrderDLQ        = "orders.created.dlq"
	QueueStockRestore      = "orders.stock-restore.queue"
	QueueStockRestoreRetry = "orders.stock-restore.retry"
	QueueStockRestoreDLQ   = "orders.stock-restore.dlq"
)

// DeclareTopology creates the exchange and queues. Dead-letter queues are
// reached through the default exchange, keyed by queue name.
//
//	orders.created       -> orders.created.queue  --reject-->  orders.created.dlq
//	(default) retry      -> orders.created.retry  --ttl----->  orders.exchange/orders.created
//	orders.stock-restore -> orders.stock-restore.queue --reject--> orders.stock-restore.dlq
//	(default) retry      -> orders.stock-restore.retry --ttl--> orders.exchange/orders.stock-restore
func DeclareTopology(ch *amqp.Channel, retryTTL time.Duration) error {
	if err := ch.ExchangeDeclare(
		Exchange,     // name
		ExchangeType, // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	); err != nil {
		return fmt.Errorf("declare exchange %s: %w", Exchange, err)
	}

	queues := []struct {
		name string
		args amqp.Table
	}{
		{QueueOrderDLQ, nil},
		{QueueStockRestoreDLQ, nil},
		{QueueOrderCreated, amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": QueueOrderDLQ,
		}},
		{QueueOrderRetry, amqp.Table{
			"x-message-ttl":             retryTTL.Milliseconds(),
			"x-dead-letter-exchange":    Exchange,
			"x-dead-letter-routing-key": RoutingOrderCreated,
		}},
		{QueueStockRestoreRetry, amqp.Table{
			"x-message-ttl":             retryTTL.Milliseconds(),
			"x-dead-letter-exchange":    Exchange,
			"x-dead-letter-routing-key": RoutingStockRestore,
		}},
		{QueueStockRestore, amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": QueueStockRestoreDLQ,
		}},
	}
	for _, q := range queues {
		if _, err := ch.QueueDeclare(
			q.name, // name
			true,   // durable
			false,  // delete when unused
			false,  // exclusive
			false,  // no-wait
			q.args, // arguments
		); err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	bindings := []struct{ queue, key string }{
		{QueueOrderCreated, RoutingOrderCreated},
		{QueueStockRestore, RoutingStockRestore},
	}
	for _, b := range bindings {
		if err := ch.QueueBind(b.queue, b.key, Exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", b.queue, b.key, err)
		}
	}
	return nil
}
