package messaging

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const (
	dialAttempts = 5
	dialBackoff  = 2 * time.Second
)

// Dial connects to the broker, retrying while it is still starting up.
func Dial(ctx context.Context, url string, log zerolog.Logger) (*amqp.Connection, error) {
	var (
		conn *amqp.Connection
		err  error
	)
	for i := 0; i < dialAttempts; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("failed to connect to RabbitMQ")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(dialBackoff):
		}
	}
	return nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
}

// Setup declares the topology on a short-lived channel.
func Setup(conn *amqp.Connection, retryTTL time.Duration) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	return DeclareTopology(ch, retryTTL)
}
