package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BasketLine is one scanned entry in a checkout request, in scan order.
type BasketLine struct {
	Barcode  string
	Quantity int
}

// Transaction is one committed checkout. Immutable once written; the ID is
// assigned by the ledger and strictly increasing.
type Transaction struct {
	ID            int64
	ParticipantID int64
	Timestamp     time.Time
	TotalAmount   decimal.Decimal
}

// TransactionItem is one line of a transaction. PriceAtPurchase captures the
// unit price at checkout time so history stays accurate across later catalog
// price changes.
type TransactionItem struct {
	ID              int64
	TransactionID   int64
	ProductID       int64
	Quantity        int
	PriceAtPurchase decimal.Decimal
}

// ExportRow is one flattened line of the reporting join: a transaction item
// together with its transaction, product and participant.
type ExportRow struct {
	TransactionID         int64
	Timestamp             time.Time
	ParticipantExternalID string
	ParticipantGroup      string
	ProductName           string
	ProductBarcode        string
	Quantity              int
	PricePaid             decimal.Decimal
}
