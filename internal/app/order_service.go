package app

import (
	"context"
	"fmt"
	"net"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/rl1809/order-saga/internal/adapter/handler"
	"github.com/rl1809/order-saga/internal/adapter/messaging"
	"github.com/rl1809/order-saga/internal/config"
	"github.com/rl1809/order-saga/internal/core/domain"
	"github.com/rl1809/order-saga/internal/core/service"
)

// RunOrderService serves the order API over HTTP and gRPC, applies
// stock-restore commands and runs the reconciliation sweep. It blocks until
// ctx is canceled.
func RunOrderService(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	in, err := connect(ctx, cfg, needs{mysql: true}, log)
	if err != nil {
		return err
	}
	defer in.Close()

	if cfg.Seed.Enabled() {
		p := domain.Product{ID: cfg.Seed.ProductID, Name: fmt.Sprintf("product-%d", cfg.Seed.ProductID), Price: cfg.Seed.Price, Stock: cfg.Seed.Stock}
		if err := in.MySQL.UpsertProduct(ctx, p); err != nil {
			return fmt.Errorf("seed product: %w", err)
		}
		log.Info().Int64("productId", p.ID).Int("stock", p.Stock).Msg("seeded product")
	}

	lockOpts := service.LockOptions{Lease: cfg.Lock.Lease, Wait: cfg.Lock.Wait}

	orders := service.NewOrderService(in.MySQL, in.Locks, in.Publisher, in.Metrics, lockOpts, cfg.PublishTimeout, log)
	compensation := service.NewCompensationHandler(in.MySQL, in.Locks, in.Locks, in.Publisher, in.Metrics, lockOpts, cfg.Idempotency, log)
	reconciler := service.NewReconciler(in.MySQL, in.Locks, in.Publisher, in.Metrics, service.ReconcileOptions{
		Interval:  cfg.Reconcile.Interval,
		Grace:     cfg.Reconcile.Grace,
		BatchSize: cfg.Reconcile.BatchSize,
	}, log)

	dispatcher := messaging.NewDispatcher(in.AMQP, messaging.DispatcherOptions{
		Concurrency: cfg.Consumer.Concurrency,
		Prefetch:    cfg.Consumer.Prefetch,
	}, log)
	dispatcher.Register(messaging.QueueStockRestore, stockRestoreHandler(compensation))

	gin.SetMode(gin.ReleaseMode)
	router := handler.NewRouter(in.Registry, in.HealthChecks(), log)
	handler.NewHTTPHandler(orders, log).Register(router)

	grpcServer := grpc.NewServer()
	handler.RegisterGRPC(grpcServer, handler.NewGRPCHandler(orders, log))
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	serveHTTP(ctx, g, cfg.HTTPAddr, router, cfg.ShutdownTimeout, log)
	serveGRPC(ctx, g, lis, grpcServer, log)
	g.Go(func() error { return dispatcher.Run(ctx) })
	g.Go(func() error { return reconciler.Run(ctx) })

	return g.Wait()
}
