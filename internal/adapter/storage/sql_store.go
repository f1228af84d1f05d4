// Package storage implements the catalog, directory and ledger contracts on
// top of database/sql. MySQL backs a shared inventory store; the pure-Go
// SQLite driver backs a single standalone terminal and the tests.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/labmart/pos/internal/core/domain"
	"github.com/labmart/pos/internal/port"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"

	timeLayout = time.RFC3339
	dateLayout = "2006-01-02"
)

// Open opens a database handle for the configured driver. SQLite gets WAL
// mode, foreign keys and a single connection (single-writer engine); MySQL
// pool sizing is left to the caller.
func Open(driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
		if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	}

	return db, nil
}

// querier is implemented by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore implements port.Store.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Catalog() port.CatalogRepository {
	return catalogReader{q: s.db}
}

func (s *SQLStore) Directory() port.DirectoryRepository {
	return directoryReader{q: s.db}
}

func (s *SQLStore) Ledger() port.LedgerReader {
	return ledgerReader{q: s.db}
}

// Begin opens a unit of work spanning stock decrements and the ledger
// append. Rollback after Commit is a no-op.
func (s *SQLStore) Begin(ctx context.Context) (port.UnitOfWork, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &unitOfWork{tx: tx}, nil
}

type unitOfWork struct {
	tx   *sql.Tx
	done bool
}

func (u *unitOfWork) Catalog() port.CatalogWriter {
	return catalogWriter{tx: u.tx}
}

func (u *unitOfWork) Ledger() port.LedgerRepository {
	return ledgerWriter{tx: u.tx}
}

func (u *unitOfWork) Commit() error {
	u.done = true
	return u.tx.Commit()
}

func (u *unitOfWork) Rollback() error {
	if u.done {
		return nil
	}
	return u.tx.Rollback()
}

type catalogReader struct {
	q querier
}

func (r catalogReader) LookupProduct(ctx context.Context, barcode string) (*domain.Product, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, name, barcode, price, stock_quantity, expiry_date
		FROM products WHERE barcode = ?`, barcode)

	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: barcode %s", port.ErrProductNotFound, barcode)
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return p, nil
}

func (r catalogReader) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, name, barcode, price, stock_quantity, expiry_date
		FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	var (
		p      domain.Product
		price  string
		expiry string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Barcode, &price, &p.StockQuantity, &expiry); err != nil {
		return nil, err
	}

	var err error
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("parse price %q: %w", price, err)
	}
	if p.ExpiryDate, err = time.Parse(dateLayout, expiry); err != nil {
		return nil, fmt.Errorf("parse expiry %q: %w", expiry, err)
	}
	return &p, nil
}

type directoryReader struct {
	q querier
}

func (r directoryReader) LookupParticipant(ctx context.Context, externalID string) (*domain.Participant, error) {
	var pa domain.Participant
	err := r.q.QueryRowContext(ctx, `
		SELECT id, external_id, group_id
		FROM participants WHERE external_id = ?`, externalID,
	).Scan(&pa.ID, &pa.ExternalID, &pa.GroupID)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: external id %s", port.ErrParticipantNotFound, externalID)
	}
	if err != nil {
		return nil, fmt.Errorf("query participant: %w", err)
	}
	return &pa, nil
}

type catalogWriter struct {
	tx *sql.Tx
}

// DecrementStock re-checks availability in the same statement that
// subtracts, so two checkouts racing for the last unit serialize on the row
// and exactly one wins.
func (w catalogWriter) DecrementStock(ctx context.Context, barcode string, quantity int) error {
	res, err := w.tx.ExecContext(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity - ?
		WHERE barcode = ? AND stock_quantity >= ?`,
		quantity, barcode, quantity,
	)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	if rows > 0 {
		return nil
	}

	// Nothing matched: distinguish an unknown barcode from an oversell.
	var stock int
	err = w.tx.QueryRowContext(ctx,
		`SELECT stock_quantity FROM products WHERE barcode = ?`, barcode,
	).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: barcode %s", port.ErrProductNotFound, barcode)
	}
	if err != nil {
		return fmt.Errorf("query stock: %w", err)
	}
	return fmt.Errorf("%w: barcode %s", port.ErrInsufficientStock, barcode)
}

type ledgerWriter struct {
	tx *sql.Tx
}

func (w ledgerWriter) AppendTransaction(ctx context.Context, tr domain.Transaction, items []domain.TransactionItem) (int64, error) {
	res, err := w.tx.ExecContext(ctx, `
		INSERT INTO transactions (participant_id, ts, total_amount)
		VALUES (?, ?, ?)`,
		tr.ParticipantID, tr.Timestamp.UTC().Format(timeLayout), tr.TotalAmount.String(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert transaction: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("transaction id: %w", err)
	}

	for _, it := range items {
		_, err := w.tx.ExecContext(ctx, `
			INSERT INTO transaction_items (transaction_id, product_id, quantity, price_at_purchase)
			VALUES (?, ?, ?, ?)`,
			id, it.ProductID, it.Quantity, it.PriceAtPurchase.String(),
		)
		if err != nil {
			return 0, fmt.Errorf("insert transaction item: %w", err)
		}
	}

	return id, nil
}

type ledgerReader struct {
	q querier
}

func (r ledgerReader) ForEachJoinedItem(ctx context.Context, fn func(domain.ExportRow) error) error {
	rows, err := r.q.QueryContext(ctx, `
		SELECT t.id, t.ts, pa.external_id, pa.group_id,
		       pr.name, pr.barcode, ti.quantity, ti.price_at_purchase
		FROM transaction_items ti
		JOIN transactions t ON ti.transaction_id = t.id
		JOIN products pr ON ti.product_id = pr.id
		JOIN participants pa ON t.participant_id = pa.id
		ORDER BY t.id, ti.id`)
	if err != nil {
		return fmt.Errorf("query joined items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			row   domain.ExportRow
			ts    string
			price string
		)
		if err := rows.Scan(&row.TransactionID, &ts, &row.ParticipantExternalID,
			&row.ParticipantGroup, &row.ProductName, &row.ProductBarcode,
			&row.Quantity, &price); err != nil {
			return fmt.Errorf("scan joined item: %w", err)
		}
		if row.Timestamp, err = time.Parse(timeLayout, ts); err != nil {
			return fmt.Errorf("parse timestamp %q: %w", ts, err)
		}
		if row.PricePaid, err = decimal.NewFromString(price); err != nil {
			return fmt.Errorf("parse price %q: %w", price, err)
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return rows.Err()
}

// InsertProduct adds a catalog entry. Used by bootstrap and tests; normal
// operation never creates products.
func InsertProduct(ctx context.Context, db *sql.DB, p domain.Product) (int64, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO products (name, barcode, price, stock_quantity, expiry_date)
		VALUES (?, ?, ?, ?, ?)`,
		p.Name, p.Barcode, p.Price.String(), p.StockQuantity, p.ExpiryDate.Format(dateLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("insert product: %w", err)
	}
	return res.LastInsertId()
}

// InsertParticipant adds a directory entry. Used by bootstrap and tests.
func InsertParticipant(ctx context.Context, db *sql.DB, pa domain.Participant) (int64, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO participants (external_id, group_id)
		VALUES (?, ?)`,
		pa.ExternalID, pa.GroupID,
	)
	if err != nil {
		return 0, fmt.Errorf("insert participant: %w", err)
	}
	return res.LastInsertId()
}

// CountProducts reports catalog size; the seeder uses it to stay idempotent.
func CountProducts(ctx context.Context, db *sql.DB) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count products: %w", err)
	}
	return n, nil
}
