package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/rl1809/order-saga/internal/core/domain"
	"github.com/rl1809/order-saga/internal/port"
)

type ReconcileOptions struct {
	Interval  time.Duration
	Grace     time.Duration
	BatchSize int
}

// Reconciler republishes OrderCreated for committed orders whose publish
// failed. Consumers are idempotent, so a duplicate publish is harmless.
type Reconciler struct {
	db        port.DatabaseRepository
	locker    port.Locker
	publisher port.EventPublisher
	metrics   port.Metrics
	opts      ReconcileOptions
	log       zerolog.Logger
	now       func() time.Time
}

func NewReconciler(db port.DatabaseRepository, locker port.Locker, publisher port.EventPublisher, metrics port.Metrics, opts ReconcileOptions, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		db:        db,
		locker:    locker,
		publisher: publisher,
		metrics:   metrics,
		opts:      opts,
		log:       log.With().Str("component", "reconciler").Logger(),
		now:       time.Now,
	}
}

// Run sweeps every Interval until ctx is done. A zero interval disables it.
func (r *Reconciler) Run(ctx context.Context) error {
	if r.opts.Interval <= 0 {
		r.log.Info().Msg("reconciliation disabled")
		return nil
	}

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.log.Error().Err(err).Msg("reconciliation sweep failed")
			}
		}
	}
}

// Sweep republishes one batch. Another instance holding the job lock makes
// this run a no-op.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	lockOpts := LockOptions{Lease: r.opts.Interval + time.Minute, Wait: 0}

	n, err := WithLock(ctx, r.locker, lockOpts, jobKey("order-reconcile"), r.log, r.sweep)
	if errors.Is(err, domain.ErrLockTimeout) {
		r.log.Debug().Msg("skip sweep, lock held by another instance")
		return 0, nil
	}
	return n, err
}

func (r *Reconciler) sweep(ctx context.Context) (int, error) {
	orders, err := r.db.ListUnpublishedOrders(ctx, r.now().UTC().Add(-r.opts.Grace), r.opts.BatchSize)
	if err != nil {
		return 0, err
	}

	republished := 0
	for _, o := range orders {
		log := r.log.With().Int64("orderId", o.ID).Logger()

		if err := r.publisher.PublishOrderCreated(ctx, o.CreatedEvent()); err != nil {
			log.Error().Err(err).Msg("republish failed, will retry next sweep")
			continue
		}
		if err := r.db.MarkOrderPublished(ctx, o.ID); err != nil {
			log.Warn().Err(err).Msg("republished but order not marked")
		}
		r.metrics.OrderRepublished()
		republished++
	}

	if republished > 0 {
		r.log.Info().Int("republished", republished).Int("pending", len(orders)).Msg("reconciliation sweep done")
	}
	return republished, nil
}
