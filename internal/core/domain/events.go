package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderCreatedEvent struct {
	OrderID    int64           `json:"orderId"`
	UserID     int64           `json:"userId"`
	ProductID  int64           `json:"productId"`
	Quantity   int             `json:"quantity"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// StockRestoreCommand is the compensating command for a failed order.
type StockRestoreCommand struct {
	OrderID   int64 `json:"orderId"`
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

func (e OrderCreatedEvent) RestoreCommand() StockRestoreCommand {
	return StockRestoreCommand{
		OrderID:   e.OrderID,
		ProductID: e.ProductID,
		Quantity:  e.Quantity,
	}
}
