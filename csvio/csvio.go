/*
Package csvio converts between CSV rows and ledger records.

PURPOSE:
  The import side turns CSV rows into candidate records for the normal bulk
  merge path; the export side writes the full ledger out in a stable column
  order. Encoding heuristics are deliberately absent: files are plain UTF-8,
  and a malformed header or row shape is a structural error, while a bad
  field value is a per-record error reported alongside the good rows.

COLUMN ORDER:
  name, qty, unit, category, item_kind, subtype, due_type, due_date, memo,
  created_at, updated_at. Import requires only name and qty; every other
  column is optional and may appear in any order.

SEE ALSO:
  - ledger: Candidate validation happens downstream in the merge path
*/
package csvio

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bousai/stockpile-engine/ledger"
)

// exportColumns is the stable export order.
var exportColumns = []string{
	"name", "qty", "unit", "category", "item_kind", "subtype",
	"due_type", "due_date", "memo", "created_at", "updated_at",
}

// ExportFilename stamps the download name the way the original app did.
func ExportFilename(t time.Time) string {
	return "stock_" + t.Format("20060102_1504") + ".csv"
}

// Write renders entries as CSV with a header row.
func Write(w io.Writer, entries []ledger.StockEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportColumns); err != nil {
		return err
	}
	for _, e := range entries {
		record := []string{
			e.Name, e.Qty.String(), string(e.Unit), string(e.Category), string(e.Kind),
			e.Subtype, string(e.DueType), e.DueDate, e.Memo,
			e.CreatedAt.Format(time.RFC3339), e.UpdatedAt.Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Read parses CSV into candidates. Rows whose quantity is not a number are
// returned as record errors; structural problems (no header, no name
// column, ragged rows) fail the whole read.
func Read(r io.Reader) ([]ledger.Candidate, []ledger.RecordError, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	index := map[string]int{}
	for i, col := range header {
		index[strings.ToLower(strings.TrimSpace(col))] = i
	}
	if _, ok := index["name"]; !ok {
		return nil, nil, fmt.Errorf("CSV header has no name column")
	}

	field := func(row []string, col string) string {
		i, ok := index[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var (
		cands  []ledger.Candidate
		broken []ledger.RecordError
	)
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read CSV line %d: %w", line, err)
		}

		c := ledger.Candidate{
			Name:     field(row, "name"),
			Unit:     field(row, "unit"),
			Category: field(row, "category"),
			Kind:     field(row, "item_kind"),
			Subtype:  field(row, "subtype"),
			DueType:  field(row, "due_type"),
			DueDate:  field(row, "due_date"),
			Memo:     field(row, "memo"),
		}
		if raw := field(row, "qty"); raw != "" {
			qty, err := decimal.NewFromString(raw)
			if err != nil {
				broken = append(broken, ledger.RecordError{
					Candidate: c,
					Reason:    fmt.Sprintf("line %d: quantity %q is not a number", line, raw),
				})
				continue
			}
			c.Qty = qty
		}
		cands = append(cands, c)
	}
	return cands, broken, nil
}
