package csvio

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"salesmerge/internal/models"
)

const (
	mergedSheet = "Merged"
	topNSheet   = "TopN"
)

// WriteRecordsXLSX writes the merged table as a single-sheet workbook.
func WriteRecordsXLSX(w io.Writer, records []models.SalesRecord) error {
	rows := make([][]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, []any{
			r.SaleDate,
			r.OrderDateTime,
			r.OrderID,
			r.Brand,
			r.PromoCode,
			r.ProductID,
			r.ProductName,
			cellText(r.Quantity),
			r.ShipCountry,
			cellNumber(r.AmountKRW),
			r.Category,
		})
	}
	return writeWorkbook(w, mergedSheet, models.SalesRecordHeader, rows)
}

// WriteTopNXLSX writes a Top-N result as a single-sheet workbook.
func WriteTopNXLSX(w io.Writer, result []models.TopNRow) error {
	rows := make([][]any, 0, len(result))
	for _, r := range result {
		rows = append(rows, []any{
			r.ProductID,
			r.ProductName,
			r.Brand,
			r.Category,
			cellNumber(r.AmountKRW),
			r.Quantity,
		})
	}
	return writeWorkbook(w, topNSheet, models.TopNHeader, rows)
}

// cellNumber keeps non-finite values out of numeric cells, which Excel
// refuses to open.
func cellNumber(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return FormatNumber(f)
	}
	return f
}

// cellText stores a finite numeric cell as a number and anything else as the
// original text.
func cellText(s string) any {
	if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	return s
}

func writeWorkbook(w io.Writer, sheet string, header []string, rows [][]any) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("stream writer: %w", err)
	}

	head := make([]any, len(header))
	for i, h := range header {
		head[i] = h
	}
	if err := sw.SetRow("A1", head); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, row); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush sheet: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
