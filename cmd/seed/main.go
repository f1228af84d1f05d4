// Command seed creates the schema and loads the sample catalog and
// participant roster. Running it against an already-seeded store is a no-op.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/labmart/pos/configs"
	"github.com/labmart/pos/internal/adapter/storage"
	"github.com/labmart/pos/internal/core/domain"
)

func main() {
	configDir := flag.String("config", "./configs", "config directory")
	envName := flag.String("env", "dev", "environment overlay name")
	flag.Parse()

	if err := run(*configDir, *envName); err != nil {
		fmt.Fprintln(os.Stderr, "seed:", err)
		os.Exit(1)
	}
}

func run(configDir, envName string) error {
	cfg, err := configs.Load(configDir, envName)
	if err != nil {
		return err
	}

	ctx := context.Background()

	db, err := storage.Open(cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := storage.EnsureSchema(ctx, db, cfg.DB.Driver); err != nil {
		return err
	}

	n, err := storage.CountProducts(ctx, db)
	if err != nil {
		return err
	}
	if n > 0 {
		fmt.Println("database already initialized")
		return nil
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	days := func(d int) time.Time { return today.AddDate(0, 0, d) }
	price := func(s string) decimal.Decimal { return decimal.RequireFromString(s) }

	products := []domain.Product{
		{Name: "Milk", Barcode: "1001", Price: price("2.50"), StockQuantity: 50, ExpiryDate: days(7)},
		{Name: "Bread", Barcode: "1002", Price: price("1.20"), StockQuantity: 30, ExpiryDate: days(3)},
		{Name: "Apples", Barcode: "1003", Price: price("0.50"), StockQuantity: 100, ExpiryDate: days(14)},
		{Name: "Yogurt", Barcode: "1004", Price: price("0.99"), StockQuantity: 40, ExpiryDate: days(10)},
		{Name: "Cheese", Barcode: "1005", Price: price("4.50"), StockQuantity: 20, ExpiryDate: days(30)},
		{Name: "Eggs", Barcode: "1006", Price: price("3.00"), StockQuantity: 60, ExpiryDate: days(21)},
		// Expired items, kept on the shelf for the freshness studies.
		{Name: "Expired Milk", Barcode: "2001", Price: price("1.00"), StockQuantity: 10, ExpiryDate: days(-2)},
		{Name: "Old Bread", Barcode: "2002", Price: price("0.50"), StockQuantity: 5, ExpiryDate: days(-1)},
		{Name: "Rotten Apples", Barcode: "2003", Price: price("0.10"), StockQuantity: 20, ExpiryDate: days(-5)},
		{Name: "Sour Yogurt", Barcode: "2004", Price: price("0.20"), StockQuantity: 15, ExpiryDate: days(-3)},
	}
	for _, p := range products {
		if _, err := storage.InsertProduct(ctx, db, p); err != nil {
			return err
		}
	}

	participants := []domain.Participant{
		{ExternalID: "P-101", GroupID: "A"},
		{ExternalID: "P-102", GroupID: "B"},
		{ExternalID: "P-103", GroupID: "A"},
	}
	for _, pa := range participants {
		if _, err := storage.InsertParticipant(ctx, db, pa); err != nil {
			return err
		}
	}

	fmt.Printf("seeded %d products, %d participants\n", len(products), len(participants))
	return nil
}
