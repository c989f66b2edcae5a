package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusCreated  OrderStatus = "CREATED"
	OrderStatusCanceled OrderStatus = "CANCELED"
)

type PurchaseOrder struct {
	ID         int64
	UserID     int64
	ProductID  int64
	Quantity   int
	TotalPrice decimal.Decimal
	Status     OrderStatus
	Published  bool
	CreatedAt  time.Time
}

// CreatedEvent builds the wire event announcing a committed order.
func (o PurchaseOrder) CreatedEvent() OrderCreatedEvent {
	return OrderCreatedEvent{
		OrderID:    o.ID,
		UserID:     o.UserID,
		ProductID:  o.ProductID,
		Quantity:   o.Quantity,
		TotalPrice: o.TotalPrice,
		CreatedAt:  o.CreatedAt,
	}
}
