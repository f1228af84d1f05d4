// Package port defines the contracts between the checkout core and its
// storage adapters. The SQL store is the source of truth; Redis provides an
// optional request-dedup layer.
package port

import (
	"context"
	"errors"

	"github.com/labmart/pos/internal/core/domain"
)

var (
	// ErrProductNotFound is returned when a barcode resolves to no product.
	ErrProductNotFound = errors.New("product not found")

	// ErrParticipantNotFound is returned when an external id resolves to no
	// participant.
	ErrParticipantNotFound = errors.New("participant not found")

	// ErrInsufficientStock is returned when a decrement would take stock
	// below zero.
	ErrInsufficientStock = errors.New("insufficient stock")
)

// CatalogRepository reads the product catalog.
type CatalogRepository interface {
	// LookupProduct retrieves a product by barcode.
	LookupProduct(ctx context.Context, barcode string) (*domain.Product, error)

	// ListProducts returns the full catalog in creation order.
	ListProducts(ctx context.Context) ([]domain.Product, error)
}

// CatalogWriter mutates stock levels. Only available inside a unit of work.
type CatalogWriter interface {
	// DecrementStock atomically subtracts quantity from the product's stock,
	// failing with ErrInsufficientStock before any mutation if not enough is
	// available. No reader ever observes negative stock.
	DecrementStock(ctx context.Context, barcode string, quantity int) error
}

// DirectoryRepository reads the participant directory.
type DirectoryRepository interface {
	// LookupParticipant retrieves a participant by external id.
	LookupParticipant(ctx context.Context, externalID string) (*domain.Participant, error)
}

// LedgerRepository appends to the transaction history. Only available inside
// a unit of work, so a transaction and its items become durable together
// with the stock decrements or not at all.
type LedgerRepository interface {
	// AppendTransaction persists the transaction and all of its items as one
	// unit and returns the newly assigned, strictly increasing id.
	AppendTransaction(ctx context.Context, tx domain.Transaction, items []domain.TransactionItem) (int64, error)
}

// LedgerReader enumerates committed history for reporting.
type LedgerReader interface {
	// ForEachJoinedItem streams every transaction item joined with its
	// transaction, product and participant, ordered by transaction id then
	// item order. Each call opens a fresh cursor; fn returning an error
	// stops the enumeration.
	ForEachJoinedItem(ctx context.Context, fn func(domain.ExportRow) error) error
}

// UnitOfWork scopes the mutation phase of one checkout. Rollback after a
// successful Commit is a no-op, so callers defer it on every path.
type UnitOfWork interface {
	Catalog() CatalogWriter
	Ledger() LedgerRepository
	Commit() error
	Rollback() error
}

// Store aggregates the read-side repositories and opens units of work.
type Store interface {
	Catalog() CatalogRepository
	Directory() DirectoryRepository
	Ledger() LedgerReader
	Begin(ctx context.Context) (UnitOfWork, error)
}
