package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rl1809/order-saga/internal/core/domain"
	"github.com/rl1809/order-saga/internal/port"
)

func restoreKey(orderID int64) string {
	return fmt.Sprintf("restore:%d", orderID)
}

// CompensationHandler reverses a committed order: stock back, order CANCELED.
// It takes the same product lock as OrderService so a restore never
// interleaves with a debit on the same product. A command that cannot be
// applied yet is parked in the stock-restore retry queue, never dropped.
type CompensationHandler struct {
	db        port.DatabaseRepository
	locker    port.Locker
	idem      port.IdempotencyStore
	publisher port.EventPublisher
	metrics   port.Metrics
	lockOpts  LockOptions
	ttl       time.Duration
	log       zerolog.Logger
}

func NewCompensationHandler(
	db port.DatabaseRepository,
	locker port.Locker,
	idem port.IdempotencyStore,
	publisher port.EventPublisher,
	metrics port.Metrics,
	lockOpts LockOptions,
	idempotencyTTL time.Duration,
	log zerolog.Logger,
) *CompensationHandler {
	return &CompensationHandler{
		db:        db,
		locker:    locker,
		idem:      idem,
		publisher: publisher,
		metrics:   metrics,
		lockOpts:  lockOpts,
		ttl:       idempotencyTTL,
		log:       log.With().Str("component", "compensation").Logger(),
	}
}

// HandleStockRestore reports whether the compensation was applied by this call.
// Duplicate commands are no-ops.
func (h *CompensationHandler) HandleStockRestore(ctx context.Context, cmd domain.StockRestoreCommand) (bool, error) {
	log := h.log.With().Int64("orderId", cmd.OrderID).Int64("productId", cmd.ProductID).Int("quantity", cmd.Quantity).Logger()

	if cmd.Quantity <= 0 {
		return false, fmt.Errorf("%w: restore quantity %d", domain.ErrMalformedMessage, cmd.Quantity)
	}

	key := restoreKey(cmd.OrderID)
	done, err := h.idem.Exists(ctx, key)
	if err != nil {
		// the order status guard below still prevents a double increment
		log.Warn().Err(err).Msg("restore idempotency check failed")
	}
	if done {
		h.metrics.StockRestoreSkipped()
		log.Info().Msg("skip duplicated stock restore")
		return false, nil
	}

	applied, err := WithLock(ctx, h.locker, h.lockOpts, productKey(cmd.ProductID), log,
		func(ctx context.Context) (bool, error) {
			return h.restoreTx(ctx, cmd)
		})
	if err != nil {
		return false, h.retry(ctx, cmd, err, log)
	}

	if _, err := h.idem.Mark(ctx, key, h.ttl); err != nil {
		log.Warn().Err(err).Msg("stock restore applied but idempotency key not stored")
	}

	if !applied {
		h.metrics.StockRestoreSkipped()
		log.Info().Msg("order not in CREATED state, stock left unchanged")
		return false, nil
	}

	h.metrics.StockRestored()
	log.Warn().Msg("compensation applied: stock restored, order canceled")
	return true, nil
}

// retry parks the command unless the failure can never succeed. A nil return
// means the delivery can be acked.
func (h *CompensationHandler) retry(ctx context.Context, cmd domain.StockRestoreCommand, cause error, log zerolog.Logger) error {
	if errors.Is(cause, domain.ErrProductNotFound) {
		log.Error().Err(cause).Msg("stock restore for unknown product")
		return fmt.Errorf("%w: %v", domain.ErrMalformedMessage, cause)
	}
	if ctx.Err() != nil {
		// the delivery returns to the queue when the consumer channel closes
		return cause
	}

	if err := h.publisher.PublishStockRestoreRetry(ctx, cmd); err != nil {
		log.Error().Err(err).AnErr("cause", cause).Msg("stock restore failed and retry publish failed")
		return fmt.Errorf("park stock restore for order %d: %w", cmd.OrderID, err)
	}

	h.metrics.StockRestoreRetried()
	log.Warn().Err(cause).Msg("stock restore deferred to retry queue")
	return nil
}

func (h *CompensationHandler) restoreTx(ctx context.Context, cmd domain.StockRestoreCommand) (bool, error) {
	var applied bool

	err := h.db.WithTx(ctx, func(tx port.TxRepository) error {
		canceled, err := tx.CancelOrder(ctx, cmd.OrderID)
		if err != nil {
			return err
		}
		if !canceled {
			return nil
		}
		if err := tx.AdjustStock(ctx, cmd.ProductID, cmd.Quantity); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}
