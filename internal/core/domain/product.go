package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is one catalog entry, identified by its barcode. The barcode is
// immutable once created; stock only moves through the checkout decrement.
type Product struct {
	ID            int64
	Name          string
	Barcode       string
	Price         decimal.Decimal
	StockQuantity int
	ExpiryDate    time.Time
}
