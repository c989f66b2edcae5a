package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/rl1809/order-saga/internal/core/domain"
	"github.com/rl1809/order-saga/internal/port"
)

const MaxProductPage = 500

// OrderService is the producer side of the saga: lock, local transaction,
// then publish.
type OrderService struct {
	db             port.DatabaseRepository
	locker         port.Locker
	publisher      port.EventPublisher
	metrics        port.Metrics
	lockOpts       LockOptions
	publishTimeout time.Duration
	log            zerolog.Logger
	now            func() time.Time
}

func NewOrderService(
	db port.DatabaseRepository,
	locker port.Locker,
	publisher port.EventPublisher,
	metrics port.Metrics,
	lockOpts LockOptions,
	publishTimeout time.Duration,
	log zerolog.Logger,
) *OrderService {
	return &OrderService{
		db:             db,
		locker:         locker,
		publisher:      publisher,
		metrics:        metrics,
		lockOpts:       lockOpts,
		publishTimeout: publishTimeout,
		log:            log.With().Str("component", "order-service").Logger(),
		now:            time.Now,
	}
}

func (s *OrderService) CreateOrder(ctx context.Context, userID, productID int64, quantity int) (*domain.PurchaseOrder, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive, got %d", domain.ErrInvalidInput, quantity)
	}

	log := s.log.With().Int64("userId", userID).Int64("productId", productID).Int("quantity", quantity).Logger()

	order, err := WithLock(ctx, s.locker, s.lockOpts, productKey(productID), log,
		func(ctx context.Context) (*domain.PurchaseOrder, error) {
			return s.createOrderTx(ctx, userID, productID, quantity)
		})
	if err != nil {
		log.Warn().Err(err).Msg("order rejected")
		return nil, err
	}

	s.metrics.OrderCreated()
	log.Info().Int64("orderId", order.ID).Str("totalPrice", order.TotalPrice.String()).Msg("order committed")

	s.publishCreated(ctx, order)
	return order, nil
}

func (s *OrderService) createOrderTx(ctx context.Context, userID, productID int64, quantity int) (*domain.PurchaseOrder, error) {
	var order *domain.PurchaseOrder

	err := s.db.WithTx(ctx, func(tx port.TxRepository) error {
		product, err := tx.GetProductForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		if product.Stock < quantity {
			return fmt.Errorf("%w: product %d has %d, requested %d", domain.ErrInsufficientStock, productID, product.Stock, quantity)
		}

		if err := tx.AdjustStock(ctx, productID, -quantity); err != nil {
			return err
		}

		o := &domain.PurchaseOrder{
			UserID:     userID,
			ProductID:  productID,
			Quantity:   quantity,
			TotalPrice: product.Price.Mul(decimal.NewFromInt(int64(quantity))),
			Status:     domain.OrderStatusCreated,
			CreatedAt:  s.now().UTC(),
		}
		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// publishCreated runs strictly after commit. A failure leaves the order
// unpublished for the reconciler; the caller still gets the committed order.
func (s *OrderService) publishCreated(ctx context.Context, order *domain.PurchaseOrder) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()

	log := s.log.With().Int64("orderId", order.ID).Logger()

	if err := s.publisher.PublishOrderCreated(ctx, order.CreatedEvent()); err != nil {
		s.metrics.OrderPublishFailed()
		log.Error().Err(err).Bool("critical", true).Msg("order committed but OrderCreated was not published")
		return
	}

	order.Published = true
	if err := s.db.MarkOrderPublished(ctx, order.ID); err != nil {
		log.Warn().Err(err).Msg("event published but order not marked, reconciler may republish")
	}
}

func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*domain.PurchaseOrder, error) {
	return s.db.GetOrder(ctx, orderID)
}

func (s *OrderService) GetProduct(ctx context.Context, productID int64) (*domain.Product, error) {
	return s.db.GetProduct(ctx, productID)
}

// ListProducts returns at most limit products, limit is clamped to [1, MaxProductPage].
func (s *OrderService) ListProducts(ctx context.Context, limit int) ([]domain.Product, error) {
	if limit <= 0 || limit > MaxProductPage {
		limit = MaxProductPage
	}
	return s.db.ListProducts(ctx, limit)
}
