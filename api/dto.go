/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupling the
  internal record types from the external contract. Incoming records are
  untrusted (AI extraction output especially): quantity may arrive as a
  JSON number or a string, unknown keys are ignored, and nothing reaches
  the ledger without full validation.

NAMING CONVENTION:
  - *Record/*Request: Request body types from clients
  - *DTO: Response types returned to clients

SEE ALSO:
  - handlers.go: Uses these types
  - ledger: Candidate, the validated internal form
*/
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bousai/stockpile-engine/ledger"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// StockRecord is one incoming observation. Only name is required.
type StockRecord struct {
	Name     string  `json:"name"`
	Qty      FlexQty `json:"qty"`
	Unit     string  `json:"unit"`
	Category string  `json:"category"`
	Kind     string  `json:"item_kind"`
	Subtype  string  `json:"subtype"`
	DueType  string  `json:"due_type"`
	DueDate  string  `json:"due_date"`
	Memo     string  `json:"memo"`
}

// Candidate converts the record to the validated internal form. A quantity
// that is neither a number nor a numeric string is a per-record failure.
func (r StockRecord) Candidate() (ledger.Candidate, error) {
	qty, err := r.Qty.Value()
	if err != nil {
		return ledger.Candidate{}, err
	}
	return ledger.Candidate{
		Name:     r.Name,
		Qty:      qty,
		Unit:     r.Unit,
		Category: r.Category,
		Kind:     r.Kind,
		Subtype:  r.Subtype,
		DueType:  r.DueType,
		DueDate:  r.DueDate,
		Memo:     r.Memo,
	}, nil
}

// FlexQty tolerates the shapes AI extraction produces for quantity: a JSON
// number, a numeric string, or absent (defaults to 0). The raw text is kept
// so a non-numeric value fails validation per-record instead of failing the
// whole request body.
type FlexQty struct {
	raw string
}

func (q *FlexQty) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		q.raw = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		q.raw = strings.TrimSpace(s)
		return nil
	}
	q.raw = string(data)
	return nil
}

func (q FlexQty) MarshalJSON() ([]byte, error) {
	if q.raw == "" {
		return []byte(`"0"`), nil
	}
	return json.Marshal(q.raw)
}

// Value parses the captured quantity, defaulting the empty value to zero.
func (q FlexQty) Value() (decimal.Decimal, error) {
	if q.raw == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(q.raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("quantity %q is not a number", q.raw)
	}
	return v, nil
}

// ImportRequest is a bulk write. Atomic requests roll back entirely on any
// single record failure; the default collects per-record errors.
type ImportRequest struct {
	Records []StockRecord `json:"records"`
	Atomic  bool          `json:"atomic"`
}

// ClearRequest guards the destructive clear-all operation.
type ClearRequest struct {
	Confirm bool `json:"confirm"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// StockEntryDTO is one ledger row in API responses. Quantity is rendered
// as a string to keep decimal exactness across the wire.
type StockEntryDTO struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Qty       string `json:"qty"`
	Unit      string `json:"unit"`
	Category  string `json:"category"`
	Kind      string `json:"item_kind"`
	Subtype   string `json:"subtype,omitempty"`
	DueType   string `json:"due_type"`
	DueDate   string `json:"due_date,omitempty"`
	Memo      string `json:"memo,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func toStockEntryDTO(e ledger.StockEntry) StockEntryDTO {
	return StockEntryDTO{
		ID:        e.ID,
		Name:      e.Name,
		Qty:       e.Qty.String(),
		Unit:      string(e.Unit),
		Category:  string(e.Category),
		Kind:      string(e.Kind),
		Subtype:   e.Subtype,
		DueType:   string(e.DueType),
		DueDate:   e.DueDate,
		Memo:      e.Memo,
		CreatedAt: e.CreatedAt.Format(time.RFC3339),
		UpdatedAt: e.UpdatedAt.Format(time.RFC3339),
	}
}

func toStockEntryDTOs(entries []ledger.StockEntry) []StockEntryDTO {
	dtos := make([]StockEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, toStockEntryDTO(e))
	}
	return dtos
}

// RecordErrorDTO pairs a rejected record with the reason.
type RecordErrorDTO struct {
	Record StockRecord `json:"record"`
	Reason string      `json:"reason"`
}

// ImportResultDTO reports a bulk write outcome.
type ImportResultDTO struct {
	Inserted int              `json:"inserted"`
	Merged   int              `json:"merged"`
	Errors   []RecordErrorDTO `json:"errors"`
}

// CategoryAggregateDTO is one row of the per-category report.
type CategoryAggregateDTO struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
	TotalQty string `json:"total_qty"`
}

// ExpiryBucketsDTO reports dated entries by proximity.
type ExpiryBucketsDTO struct {
	Expired  int `json:"expired"`
	Within30 int `json:"within_30_days"`
	Within90 int `json:"within_90_days"`
}

// ToiletBreakdownDTO keeps uses and fixtures strictly apart.
type ToiletBreakdownDTO struct {
	Uses   string            `json:"uses"`
	Booths map[string]string `json:"booths_by_subtype"`
}

// SufficiencyDTO scores one category against its population target.
type SufficiencyDTO struct {
	Category  string `json:"category"`
	Have      string `json:"have"`
	Target    string `json:"target"`
	Ratio     string `json:"ratio"`     // clamped to [0, 1]
	Shortfall string `json:"shortfall"` // unclamped
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
