package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/labmart/pos/internal/core/domain"
	"github.com/labmart/pos/internal/port"
)

// exportHeader is the fixed column order of the research export.
var exportHeader = []string{
	"transaction_id", "timestamp", "participant_external_id", "participant_group",
	"product_name", "product_barcode", "quantity", "price_paid",
}

// ReportService projects the ledger's joined view into a flat CSV: one row
// per transaction item, in transaction order. It only ever reads, so it can
// run at any time alongside checkouts.
type ReportService struct {
	ledger port.LedgerReader
}

func NewReportService(ledger port.LedgerReader) *ReportService {
	return &ReportService{ledger: ledger}
}

// WriteCSV streams the export to w. The output is deterministic: running it
// twice with no new checkouts yields identical bytes.
func (s *ReportService) WriteCSV(ctx context.Context, w io.Writer) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(exportHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	err := s.ledger.ForEachJoinedItem(ctx, func(row domain.ExportRow) error {
		return cw.Write([]string{
			strconv.FormatInt(row.TransactionID, 10),
			row.Timestamp.UTC().Format(time.RFC3339),
			row.ParticipantExternalID,
			row.ParticipantGroup,
			row.ProductName,
			row.ProductBarcode,
			strconv.Itoa(row.Quantity),
			row.PricePaid.StringFixed(2),
		})
	})
	if err != nil {
		return fmt.Errorf("export ledger: %w", err)
	}

	cw.Flush()
	return cw.Error()
}
