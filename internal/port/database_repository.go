package port

import (
	"context"
	"time"

	"github.com/rl1809/order-saga/internal/core/domain"
)

type DatabaseRepository interface {
	// WithTx runs fn inside one local transaction: commit when fn returns nil, rollback otherwise
	WithTx(ctx context.Context, fn func(tx TxRepository) error) error

	// GetProduct retrieves a product by ID, returns domain.ErrProductNotFound if missing
	GetProduct(ctx context.Context, productID int64) (*domain.Product, error)

	// ListProducts returns up to limit products ordered by ID
	ListProducts(ctx context.Context, limit int) ([]domain.Product, error)

	// GetOrder retrieves an order by ID, returns domain.ErrOrderNotFound if missing
	GetOrder(ctx context.Context, orderID int64) (*domain.PurchaseOrder, error)

	// MarkOrderPublished records that the OrderCreated event left the process
	MarkOrderPublished(ctx context.Context, orderID int64) error

	// ListUnpublishedOrders returns CREATED orders older than the cutoff whose event was never published
	ListUnpublishedOrders(ctx context.Context, createdBefore time.Time, limit int) ([]domain.PurchaseOrder, error)
}

// TxRepository is only valid inside DatabaseRepository.WithTx.
type TxRepository interface {
	// GetProductForUpdate loads a product and locks its row, returns domain.ErrProductNotFound if missing
	GetProductForUpdate(ctx context.Context, productID int64) (*domain.Product, error)

	// AdjustStock adds delta to the product stock; the result must stay non-negative
	AdjustStock(ctx context.Context, productID int64, delta int) error

	// InsertOrder persists a new order and assigns its ID
	InsertOrder(ctx context.Context, order *domain.PurchaseOrder) error

	// CancelOrder moves an order from CREATED to CANCELED, returns false if it was not CREATED
	CancelOrder(ctx context.Context, orderID int64) (bool, error)
}
