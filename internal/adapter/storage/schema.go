package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// Dates and timestamps are stored as text (RFC3339 / 2006-01-02) so both
// drivers round-trip them identically; prices are stored as exact decimal
// strings.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		barcode TEXT NOT NULL UNIQUE,
		price TEXT NOT NULL,
		stock_quantity INTEGER NOT NULL CHECK (stock_quantity >= 0),
		expiry_date TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS participants (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		external_id TEXT NOT NULL UNIQUE,
		group_id TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		participant_id INTEGER NOT NULL REFERENCES participants(id),
		ts TEXT NOT NULL,
		total_amount TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS transaction_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		transaction_id INTEGER NOT NULL REFERENCES transactions(id),
		product_id INTEGER NOT NULL REFERENCES products(id),
		quantity INTEGER NOT NULL,
		price_at_purchase TEXT NOT NULL
	)`,
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		barcode VARCHAR(64) NOT NULL UNIQUE,
		price VARCHAR(32) NOT NULL,
		stock_quantity INT NOT NULL,
		expiry_date CHAR(10) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS participants (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		external_id VARCHAR(64) NOT NULL UNIQUE,
		group_id VARCHAR(64) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		participant_id BIGINT NOT NULL,
		ts VARCHAR(32) NOT NULL,
		total_amount VARCHAR(32) NOT NULL,
		FOREIGN KEY (participant_id) REFERENCES participants(id)
	)`,
	`CREATE TABLE IF NOT EXISTS transaction_items (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		transaction_id BIGINT NOT NULL,
		product_id BIGINT NOT NULL,
		quantity INT NOT NULL,
		price_at_purchase VARCHAR(32) NOT NULL,
		FOREIGN KEY (transaction_id) REFERENCES transactions(id),
		FOREIGN KEY (product_id) REFERENCES products(id)
	)`,
}

// EnsureSchema creates the three logical stores if they do not exist yet.
// Safe to run on every boot.
func EnsureSchema(ctx context.Context, db *sql.DB, driver string) error {
	var stmts []string
	switch driver {
	case DriverSQLite:
		stmts = sqliteSchema
	case DriverMySQL:
		stmts = mysqlSchema
	default:
		return fmt.Errorf("unsupported driver %q", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
