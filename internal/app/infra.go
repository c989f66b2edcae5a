// Package app wires adapters and services into the two runnable processes.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/rl1809/order-saga/internal/adapter/handler"
	"github.com/rl1809/order-saga/internal/adapter/messaging"
	"github.com/rl1809/order-saga/internal/adapter/storage"
	"github.com/rl1809/order-saga/internal/config"
	"github.com/rl1809/order-saga/internal/metrics"
)

// Infra holds the connections one process owns. Fields stay nil for
// dependencies the process did not ask for.
type Infra struct {
	DB        *sql.DB
	Redis     *redis.Client
	AMQP      *amqp.Connection
	MySQL     *storage.MySQLAdapter
	Locks     *storage.RedisAdapter
	Publisher *messaging.Publisher
	Registry  *prometheus.Registry
	Metrics   *metrics.Metrics
}

type needs struct {
	mysql bool
}

func connect(ctx context.Context, cfg config.Config, n needs, log zerolog.Logger) (*Infra, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	in := &Infra{Registry: reg, Metrics: metrics.New(reg)}

	if n.mysql {
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			return nil, fmt.Errorf("open mysql: %w", err)
		}
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
		in.DB = db

		if err := db.PingContext(ctx); err != nil {
			in.Close()
			return nil, fmt.Errorf("ping mysql: %w", err)
		}
		in.MySQL = storage.NewMySQLAdapter(db)
		if err := in.MySQL.EnsureSchema(ctx); err != nil {
			in.Close()
			return nil, err
		}
		log.Info().Msg("connected to mysql")
	}

	in.Redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, PoolSize: 100})
	if err := in.Redis.Ping(ctx).Err(); err != nil {
		in.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	in.Locks = storage.NewRedisAdapter(in.Redis, cfg.Lock.Prefix)
	log.Info().Msg("connected to redis")

	conn, err := messaging.Dial(ctx, cfg.AMQPURL, log)
	if err != nil {
		in.Close()
		return nil, err
	}
	in.AMQP = conn
	if err := messaging.Setup(conn, cfg.Retry.TTL); err != nil {
		in.Close()
		return nil, err
	}
	if in.Publisher, err = messaging.NewPublisher(conn); err != nil {
		in.Close()
		return nil, err
	}
	log.Info().Msg("connected to rabbitmq")

	return in, nil
}

func (in *Infra) HealthChecks() map[string]handler.HealthCheck {
	checks := map[string]handler.HealthCheck{
		"redis": func(ctx context.Context) error { return in.Redis.Ping(ctx).Err() },
		"rabbitmq": func(ctx context.Context) error {
			if in.AMQP.IsClosed() {
				return errors.New("connection closed")
			}
			return nil
		},
	}
	if in.DB != nil {
		checks["mysql"] = in.DB.PingContext
	}
	return checks
}

// Close releases connections in reverse order of opening.
func (in *Infra) Close() {
	if in.Publisher != nil {
		in.Publisher.Close()
	}
	if in.AMQP != nil {
		in.AMQP.Close()
	}
	if in.Redis != nil {
		in.Redis.Close()
	}
	if in.DB != nil {
		in.DB.Close()
	}
}
