package app

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rl1809/order-saga/internal/adapter/handler"
	"github.com/rl1809/order-saga/internal/adapter/messaging"
	"github.com/rl1809/order-saga/internal/config"
	"github.com/rl1809/order-saga/internal/core/service"
)

// RunWorker consumes OrderCreated events and serves the DLQ reprocess
// endpoint. It blocks until ctx is canceled.
func RunWorker(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	in, err := connect(ctx, cfg, needs{}, log)
	if err != nil {
		return err
	}
	defer in.Close()

	if cfg.ForcePermanentFailure {
		log.Warn().Msg("FORCE_PERMANENT_FAILURE is on, every order will be compensated")
	}

	consumer := service.NewOrderEventConsumer(in.Locks, service.LogProcessor{Log: log}, in.Publisher, in.Metrics, service.ConsumerOptions{
		IdempotencyTTL:        cfg.Idempotency,
		MaxAttempts:           cfg.Retry.MaxAttempts,
		ForcePermanentFailure: cfg.ForcePermanentFailure,
	}, log)

	dlq, err := messaging.NewDeadLetterQueue(in.AMQP, in.Publisher)
	if err != nil {
		return err
	}
	defer dlq.Close()

	reprocess := service.NewDLQService(dlq, in.Locks, in.Metrics, service.DLQOptions{
		Token:          cfg.DLQ.Token,
		BatchSize:      cfg.DLQ.BatchSize,
		ReceiveTimeout: cfg.DLQ.ReceiveTimeout,
	}, log)
	if cfg.DLQ.Token == "" {
		log.Warn().Msg("DLQ_TOKEN not set, reprocessing endpoint rejects every request")
	}

	dispatcher := messaging.NewDispatcher(in.AMQP, messaging.DispatcherOptions{
		Concurrency: cfg.Consumer.Concurrency,
		Prefetch:    cfg.Consumer.Prefetch,
	}, log)
	dispatcher.Register(messaging.QueueOrderCreated, orderCreatedHandler(consumer))

	gin.SetMode(gin.ReleaseMode)
	router := handler.NewRouter(in.Registry, in.HealthChecks(), log)
	handler.NewWorkerHandler(reprocess, log).Register(router)

	g, ctx := errgroup.WithContext(ctx)
	serveHTTP(ctx, g, cfg.HTTPAddr, router, cfg.ShutdownTimeout, log)
	g.Go(func() error { return dispatcher.Run(ctx) })

	return g.Wait()
}
