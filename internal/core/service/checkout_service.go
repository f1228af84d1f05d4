// Package service holds the checkout engine and the reporting projector.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/labmart/pos/internal/core/domain"
	"github.com/labmart/pos/internal/logging"
	"github.com/labmart/pos/internal/port"
)

var (
	// ErrDuplicateRequest is returned when a request id was already accepted.
	ErrDuplicateRequest = errors.New("duplicate request")

	// ErrInvalidRequest is returned for an empty basket or a non-positive
	// line quantity.
	ErrInvalidRequest = errors.New("invalid request")
)

// Receipt is the outcome of a committed checkout.
type Receipt struct {
	TransactionID int64
	TotalAmount   decimal.Decimal
}

// CheckoutService validates, prices and commits one checkout as a single
// atomic unit against the backing store.
type CheckoutService struct {
	store port.Store
	cache port.CacheRepository // optional request dedup, may be nil
	now   func() time.Time
}

func NewCheckoutService(store port.Store, cache port.CacheRepository) *CheckoutService {
	return &CheckoutService{
		store: store,
		cache: cache,
		now:   time.Now,
	}
}

// Checkout runs in two phases: a read-only validation pass that resolves the
// participant and every product and prices the basket, then a mutation pass
// inside one unit of work that decrements stock and appends the transaction
// with its items. A failure anywhere leaves stock and ledger untouched.
//
// requestID deduplicates retries when a cache is configured; an empty id
// skips the check.
func (s *CheckoutService) Checkout(ctx context.Context, requestID, participantExternalID string, basket []domain.BasketLine) (*Receipt, error) {
	committed := false
	if s.cache != nil && requestID != "" {
		ok, err := s.cache.SetIdempotency(ctx, requestID)
		if err != nil {
			return nil, fmt.Errorf("idempotency check failed: %w", err)
		}
		if !ok {
			return nil, ErrDuplicateRequest
		}
		// The claim only sticks for committed checkouts. A failed one left
		// no effect behind, so the same request id must stay resubmittable.
		defer func() {
			if committed {
				return
			}
			if err := s.cache.DeleteIdempotency(ctx, requestID); err != nil {
				logging.FromCtx(ctx).Warn("failed to release idempotency key",
					"request_id", requestID, "error", err)
			}
		}()
	}

	if len(basket) == 0 {
		return nil, fmt.Errorf("%w: empty basket", ErrInvalidRequest)
	}
	for _, line := range basket {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity %d for barcode %s", ErrInvalidRequest, line.Quantity, line.Barcode)
		}
	}

	participant, err := s.store.Directory().LookupParticipant(ctx, participantExternalID)
	if err != nil {
		return nil, err
	}

	// Validation pass: reads only. Prices are captured here so a concurrent
	// catalog price change cannot skew the recorded history.
	total := decimal.Zero
	items := make([]domain.TransactionItem, 0, len(basket))
	for _, line := range basket {
		product, err := s.store.Catalog().LookupProduct(ctx, line.Barcode)
		if err != nil {
			return nil, err
		}
		if product.StockQuantity < line.Quantity {
			return nil, fmt.Errorf("%w: barcode %s", port.ErrInsufficientStock, line.Barcode)
		}

		total = total.Add(product.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
		items = append(items, domain.TransactionItem{
			ProductID:       product.ID,
			Quantity:        line.Quantity,
			PriceAtPurchase: product.Price,
		})
	}

	// Mutation pass: all decrements and the ledger append commit together.
	// The conditional decrement re-checks stock, so a concurrent checkout
	// that won the race still fails here and rolls back cleanly.
	uow, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin checkout: %w", err)
	}
	defer uow.Rollback()

	for _, line := range basket {
		if err := uow.Catalog().DecrementStock(ctx, line.Barcode, line.Quantity); err != nil {
			return nil, err
		}
	}

	txID, err := uow.Ledger().AppendTransaction(ctx, domain.Transaction{
		ParticipantID: participant.ID,
		Timestamp:     s.now().UTC().Truncate(time.Second),
		TotalAmount:   total,
	}, items)
	if err != nil {
		return nil, fmt.Errorf("append transaction: %w", err)
	}

	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("commit checkout: %w", err)
	}
	committed = true

	return &Receipt{TransactionID: txID, TotalAmount: total}, nil
}
