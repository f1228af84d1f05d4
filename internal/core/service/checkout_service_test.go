package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labmart/pos/internal/core/domain"
	"github.com/labmart/pos/internal/port"
)

// memStore is an in-memory port.Store. Begin takes the store lock and holds
// it until Commit or Rollback, mirroring the single-writer behavior of the
// SQLite backend.
type memStore struct {
	mu           sync.Mutex
	products     map[string]*domain.Product
	participants map[string]*domain.Participant
	transactions []domain.Transaction
	items        [][]domain.TransactionItem
	nextTxID     int64
}

func newMemStore() *memStore {
	return &memStore{
		products:     make(map[string]*domain.Product),
		participants: make(map[string]*domain.Participant),
	}
}

func (s *memStore) addProduct(id int64, name, barcode, price string, stock int) {
	s.products[barcode] = &domain.Product{
		ID: id, Name: name, Barcode: barcode,
		Price:         decimal.RequireFromString(price),
		StockQuantity: stock,
		ExpiryDate:    time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC),
	}
}

func (s *memStore) addParticipant(id int64, externalID, group string) {
	s.participants[externalID] = &domain.Participant{ID: id, ExternalID: externalID, GroupID: group}
}

func (s *memStore) stock(barcode string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[barcode].StockQuantity
}

func (s *memStore) Catalog() port.CatalogRepository     { return memCatalog{s} }
func (s *memStore) Directory() port.DirectoryRepository { return memDirectory{s} }
func (s *memStore) Ledger() port.LedgerReader           { return memLedger{s} }

func (s *memStore) Begin(ctx context.Context) (port.UnitOfWork, error) {
	s.mu.Lock()
	return &memUOW{s: s}, nil
}

type memCatalog struct{ s *memStore }

func (c memCatalog) LookupProduct(ctx context.Context, barcode string) (*domain.Product, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	p, ok := c.s.products[barcode]
	if !ok {
		return nil, fmt.Errorf("%w: barcode %s", port.ErrProductNotFound, barcode)
	}
	cp := *p
	return &cp, nil
}

func (c memCatalog) ListProducts(ctx context.Context) ([]domain.Product, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	var out []domain.Product
	for _, p := range c.s.products {
		out = append(out, *p)
	}
	return out, nil
}

type memDirectory struct{ s *memStore }

func (d memDirectory) LookupParticipant(ctx context.Context, externalID string) (*domain.Participant, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	pa, ok := d.s.participants[externalID]
	if !ok {
		return nil, fmt.Errorf("%w: external id %s", port.ErrParticipantNotFound, externalID)
	}
	cp := *pa
	return &cp, nil
}

type memLedger struct{ s *memStore }

func (l memLedger) ForEachJoinedItem(ctx context.Context, fn func(domain.ExportRow) error) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	for i, tr := range l.s.transactions {
		for _, it := range l.s.items[i] {
			row := domain.ExportRow{
				TransactionID: tr.ID,
				Timestamp:     tr.Timestamp,
				Quantity:      it.Quantity,
				PricePaid:     it.PriceAtPurchase,
			}
			for _, p := range l.s.products {
				if p.ID == it.ProductID {
					row.ProductName, row.ProductBarcode = p.Name, p.Barcode
				}
			}
			for _, pa := range l.s.participants {
				if pa.ID == tr.ParticipantID {
					row.ParticipantExternalID, row.ParticipantGroup = pa.ExternalID, pa.GroupID
				}
			}
			if err := fn(row); err != nil {
				return err
			}
		}
	}
	return nil
}

type memUOW struct {
	s    *memStore
	undo []func()
	done bool
}

func (u *memUOW) Catalog() port.CatalogWriter   { return u }
func (u *memUOW) Ledger() port.LedgerRepository { return u }

func (u *memUOW) DecrementStock(ctx context.Context, barcode string, quantity int) error {
	p, ok := u.s.products[barcode]
	if !ok {
		return fmt.Errorf("%w: barcode %s", port.ErrProductNotFound, barcode)
	}
	if p.StockQuantity < quantity {
		return fmt.Errorf("%w: barcode %s", port.ErrInsufficientStock, barcode)
	}
	p.StockQuantity -= quantity
	u.undo = append(u.undo, func() { p.StockQuantity += quantity })
	return nil
}

func (u *memUOW) AppendTransaction(ctx context.Context, tr domain.Transaction, items []domain.TransactionItem) (int64, error) {
	u.s.nextTxID++
	tr.ID = u.s.nextTxID
	for i := range items {
		items[i].TransactionID = tr.ID
	}
	u.s.transactions = append(u.s.transactions, tr)
	u.s.items = append(u.s.items, items)
	u.undo = append(u.undo, func() {
		u.s.transactions = u.s.transactions[:len(u.s.transactions)-1]
		u.s.items = u.s.items[:len(u.s.items)-1]
		u.s.nextTxID--
	})
	return tr.ID, nil
}

func (u *memUOW) Commit() error {
	u.done = true
	u.s.mu.Unlock()
	return nil
}

func (u *memUOW) Rollback() error {
	if u.done {
		return nil
	}
	u.done = true
	for i := len(u.undo) - 1; i >= 0; i-- {
		u.undo[i]()
	}
	u.s.mu.Unlock()
	return nil
}

// mockCacheRepo mirrors the Redis dedup adapter.
type mockCacheRepo struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMockCacheRepo() *mockCacheRepo {
	return &mockCacheRepo{seen: make(map[string]bool)}
}

func (m *mockCacheRepo) SetIdempotency(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

func (m *mockCacheRepo) DeleteIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, key)
	return nil
}

// flakyStore fails Begin a fixed number of times before delegating, standing
// in for a database that drops out mid-checkout and comes back.
type flakyStore struct {
	*memStore
	beginFailures int
}

func (s *flakyStore) Begin(ctx context.Context) (port.UnitOfWork, error) {
	if s.beginFailures > 0 {
		s.beginFailures--
		return nil, errors.New("database is down")
	}
	return s.memStore.Begin(ctx)
}

func seededStore() *memStore {
	s := newMemStore()
	s.addProduct(1, "Milk", "1001", "2.50", 50)
	s.addProduct(2, "Bread", "1002", "1.20", 30)
	s.addParticipant(1, "P-101", "A")
	return s
}

func TestCheckout_Success(t *testing.T) {
	store := seededStore()
	svc := NewCheckoutService(store, nil)

	receipt, err := svc.Checkout(context.Background(), "", "P-101", []domain.BasketLine{
		{Barcode: "1001", Quantity: 3},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), receipt.TransactionID)
	assert.True(t, receipt.TotalAmount.Equal(decimal.RequireFromString("7.50")),
		"total = %s", receipt.TotalAmount)
	assert.Equal(t, 47, store.stock("1001"))

	require.Len(t, store.transactions, 1)
	require.Len(t, store.items[0], 1)
	item := store.items[0][0]
	assert.Equal(t, 3, item.Quantity)
	assert.True(t, item.PriceAtPurchase.Equal(decimal.RequireFromString("2.50")))
}

func TestCheckout_TotalEqualsSumOfLines(t *testing.T) {
	store := seededStore()
	svc := NewCheckoutService(store, nil)

	receipt, err := svc.Checkout(context.Background(), "", "P-101", []domain.BasketLine{
		{Barcode: "1001", Quantity: 2},
		{Barcode: "1002", Quantity: 3},
	})
	require.NoError(t, err)

	// 2*2.50 + 3*1.20
	assert.True(t, receipt.TotalAmount.Equal(decimal.RequireFromString("8.60")))

	sum := decimal.Zero
	for _, it := range store.items[0] {
		sum = sum.Add(it.PriceAtPurchase.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	assert.True(t, store.transactions[0].TotalAmount.Equal(sum))
}

func TestCheckout_ParticipantNotFound(t *testing.T) {
	store := seededStore()
	svc := NewCheckoutService(store, nil)

	_, err := svc.Checkout(context.Background(), "", "P-999", []domain.BasketLine{
		{Barcode: "1001", Quantity: 1},
	})
	require.ErrorIs(t, err, port.ErrParticipantNotFound)
	assert.Equal(t, 50, store.stock("1001"))
	assert.Empty(t, store.transactions)
}

func TestCheckout_ProductNotFound_NoPartialEffects(t *testing.T) {
	store := seededStore()
	svc := NewCheckoutService(store, nil)

	_, err := svc.Checkout(context.Background(), "", "P-101", []domain.BasketLine{
		{Barcode: "1001", Quantity: 1},
		{Barcode: "9999", Quantity: 1},
	})
	require.ErrorIs(t, err, port.ErrProductNotFound)
	assert.Contains(t, err.Error(), "9999")
	assert.Equal(t, 50, store.stock("1001"))
	assert.Empty(t, store.transactions)
}

func TestCheckout_InsufficientStock_SecondItemLeavesFirstUntouched(t *testing.T) {
	store := seededStore()
	svc := NewCheckoutService(store, nil)

	_, err := svc.Checkout(context.Background(), "", "P-101", []domain.BasketLine{
		{Barcode: "1001", Quantity: 1},
		{Barcode: "1002", Quantity: 1000},
	})
	require.ErrorIs(t, err, port.ErrInsufficientStock)
	assert.Contains(t, err.Error(), "1002")
	assert.Equal(t, 50, store.stock("1001"))
	assert.Equal(t, 30, store.stock("1002"))
	assert.Empty(t, store.transactions)
}

func TestCheckout_InvalidRequest(t *testing.T) {
	store := seededStore()
	svc := NewCheckoutService(store, nil)

	cases := []struct {
		name   string
		basket []domain.BasketLine
	}{
		{"empty basket", nil},
		{"zero quantity", []domain.BasketLine{{Barcode: "1001", Quantity: 0}}},
		{"negative quantity", []domain.BasketLine{{Barcode: "1001", Quantity: -2}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Checkout(context.Background(), "", "P-101", tc.basket)
			require.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
	assert.Equal(t, 50, store.stock("1001"))
	assert.Empty(t, store.transactions)
}

func TestCheckout_DuplicateRequest(t *testing.T) {
	store := seededStore()
	cache := newMockCacheRepo()
	svc := NewCheckoutService(store, cache)

	_, err := svc.Checkout(context.Background(), "req-1", "P-101", []domain.BasketLine{
		{Barcode: "1001", Quantity: 1},
	})
	require.NoError(t, err)

	_, err = svc.Checkout(context.Background(), "req-1", "P-101", []domain.BasketLine{
		{Barcode: "1001", Quantity: 1},
	})
	require.ErrorIs(t, err, ErrDuplicateRequest)

	// Stock decremented exactly once.
	assert.Equal(t, 49, store.stock("1001"))
	assert.Len(t, store.transactions, 1)
}

func TestCheckout_RetryAfterStorageFailure(t *testing.T) {
	store := &flakyStore{memStore: seededStore(), beginFailures: 1}
	cache := newMockCacheRepo()
	svc := NewCheckoutService(store, cache)

	basket := []domain.BasketLine{{Barcode: "1001", Quantity: 1}}

	_, err := svc.Checkout(context.Background(), "req-1", "P-101", basket)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrDuplicateRequest)

	// Nothing committed, so the same request id must go through on retry.
	receipt, err := svc.Checkout(context.Background(), "req-1", "P-101", basket)
	require.NoError(t, err)
	assert.Equal(t, int64(1), receipt.TransactionID)
	assert.Equal(t, 49, store.stock("1001"))
	assert.Len(t, store.transactions, 1)

	// A third attempt with the same id is a genuine duplicate.
	_, err = svc.Checkout(context.Background(), "req-1", "P-101", basket)
	require.ErrorIs(t, err, ErrDuplicateRequest)
	assert.Equal(t, 49, store.stock("1001"))
}

func TestCheckout_RejectedRequestReleasesIdempotencyKey(t *testing.T) {
	store := seededStore()
	cache := newMockCacheRepo()
	svc := NewCheckoutService(store, cache)

	_, err := svc.Checkout(context.Background(), "req-2", "P-101", []domain.BasketLine{
		{Barcode: "1001", Quantity: 1000},
	})
	require.ErrorIs(t, err, port.ErrInsufficientStock)

	// The client fixes the quantity and resubmits under the same id.
	receipt, err := svc.Checkout(context.Background(), "req-2", "P-101", []domain.BasketLine{
		{Barcode: "1001", Quantity: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), receipt.TransactionID)
	assert.Equal(t, 49, store.stock("1001"))
}

func TestCheckout_PriceCapturedAtPurchase(t *testing.T) {
	store := seededStore()
	svc := NewCheckoutService(store, nil)

	_, err := svc.Checkout(context.Background(), "", "P-101", []domain.BasketLine{
		{Barcode: "1001", Quantity: 1},
	})
	require.NoError(t, err)

	// A later catalog price change must not rewrite history.
	store.mu.Lock()
	store.products["1001"].Price = decimal.RequireFromString("9.99")
	store.mu.Unlock()

	assert.True(t, store.items[0][0].PriceAtPurchase.Equal(decimal.RequireFromString("2.50")))
	assert.True(t, store.transactions[0].TotalAmount.Equal(decimal.RequireFromString("2.50")))
}

func TestCheckout_ConcurrentLastUnit(t *testing.T) {
	store := newMemStore()
	store.addProduct(1, "Cheese", "1005", "4.50", 1)
	store.addParticipant(1, "P-101", "A")
	svc := NewCheckoutService(store, nil)

	var success, insufficient atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Checkout(context.Background(), "", "P-101", []domain.BasketLine{
				{Barcode: "1005", Quantity: 1},
			})
			switch {
			case err == nil:
				success.Add(1)
			case errors.Is(err, port.ErrInsufficientStock):
				insufficient.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), success.Load())
	assert.Equal(t, int32(1), insufficient.Load())
	assert.Equal(t, 0, store.stock("1005"))
	assert.Len(t, store.transactions, 1)
}
