package csvio

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"salesmerge/internal/models"
)

// FormatNumber renders a float the way spreadsheet exports expect: no
// trailing zeros, integers without a decimal point, NaN as "NaN".
func FormatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// RecordFields flattens a record in models.SalesRecordHeader order.
func RecordFields(r models.SalesRecord) []string {
	return []string{
		r.SaleDate,
		r.OrderDateTime,
		r.OrderID,
		r.Brand,
		r.PromoCode,
		r.ProductID,
		r.ProductName,
		r.Quantity,
		r.ShipCountry,
		FormatNumber(r.AmountKRW),
		r.Category,
	}
}

// TopNFields flattens a Top-N row in models.TopNHeader order.
func TopNFields(r models.TopNRow) []string {
	return []string{
		r.ProductID,
		r.ProductName,
		r.Brand,
		r.Category,
		FormatNumber(r.AmountKRW),
		strconv.Itoa(r.Quantity),
	}
}

// WriteRecords writes the merged table with a header row.
func WriteRecords(w io.Writer, records []models.SalesRecord) error {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, RecordFields(r))
	}
	return writeCSV(w, models.SalesRecordHeader, rows)
}

// WriteTopN writes a Top-N result with a header row.
func WriteTopN(w io.Writer, rows []models.TopNRow) error {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, TopNFields(r))
	}
	return writeCSV(w, models.TopNHeader, out)
}

func writeCSV(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	cw.UseCRLF = true

	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	return nil
}
