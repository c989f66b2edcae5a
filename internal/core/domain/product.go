package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is seeded out-of-band. Stock is only mutated under the product lock.
type Product struct {
	ID        int64
	Name      string
	Price     decimal.Decimal
	Stock     int
	CreatedAt time.Time
	UpdatedAt time.Time
}
