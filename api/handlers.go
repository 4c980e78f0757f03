/*
handlers.go - HTTP handlers for the stockpile ledger

PURPOSE:
  Exposes the ledger engine via REST. Handlers parse and validate input,
  delegate to the store, and serialize results; no query text or merge
  logic lives here.

ENDPOINTS:
  Stocks:
    GET    /api/stocks               List entries (optional ?category=)
    POST   /api/stocks               Merge one record
    POST   /api/stocks/import        Bulk merge (partial or atomic)
    DELETE /api/stocks/{id}          Delete one entry
    POST   /api/stocks/clear         Clear all (requires confirm flag)

  Reports (read-only):
    GET    /api/reports/categories   Per-category count and quantity sum
    GET    /api/reports/expiry       Expired / 30-day / 90-day buckets
    GET    /api/reports/toilet       Uses vs fixture breakdown
    GET    /api/reports/sufficiency  have/target scoring per category

  Export:
    GET    /api/export.csv           Full ledger as CSV download

ERROR HANDLING:
  - 400: Validation errors, malformed input
  - 404: Entry not found
  - 503: Lock-wait timeout (retriable; client may resubmit)
  - 500: Everything else

SECURITY NOTE:
  No authentication. The application boundary in front of this decides
  exposure; nothing here assumes a trusted caller for data validity.

SEE ALSO:
  - dto.go: Request/response shapes
  - server.go: Router and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bousai/stockpile-engine/csvio"
	"github.com/bousai/stockpile-engine/ledger"
	"github.com/bousai/stockpile-engine/store/sqlite"
)

// Handler holds the API dependencies.
type Handler struct {
	Store   *sqlite.Store
	Targets ledger.TargetProfile
}

// NewHandler wires the store and the default sufficiency targets.
func NewHandler(store *sqlite.Store, targets ledger.TargetProfile) *Handler {
	return &Handler{Store: store, Targets: targets}
}

// =============================================================================
// STOCK ENDPOINTS
// =============================================================================

// ListStocks returns all entries, newest first.
// GET /api/stocks?category=water
func (h *Handler) ListStocks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		entries []ledger.StockEntry
		err     error
	)
	if raw := r.URL.Query().Get("category"); raw != "" {
		entries, err = h.Store.ByCategory(ctx, ledger.NormalizeCategory(raw))
	} else {
		entries, err = h.Store.All(ctx)
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStockEntryDTOs(entries))
}

// CreateStock merges one record into the ledger.
// POST /api/stocks
func (h *Handler) CreateStock(w http.ResponseWriter, r *http.Request) {
	var record StockRecord
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	cand, err := record.Candidate()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid record", err)
		return
	}

	entry, merged, err := h.Store.MergeUpsert(r.Context(), cand)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	status := http.StatusCreated
	if merged {
		status = http.StatusOK
	}
	writeJSON(w, status, toStockEntryDTO(entry))
}

// ImportStocks bulk-merges records. The body is either JSON (AI extraction
// output) or CSV rows; atomicity for CSV comes from the ?atomic=true query.
// POST /api/stocks/import
func (h *Handler) ImportStocks(w http.ResponseWriter, r *http.Request) {
	var (
		cands     []ledger.Candidate
		preErrors []RecordErrorDTO
		atomic    bool
	)

	if strings.Contains(r.Header.Get("Content-Type"), "csv") {
		atomic = r.URL.Query().Get("atomic") == "true"
		parsed, broken, err := csvio.Read(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid CSV body", err)
			return
		}
		if atomic && len(broken) > 0 {
			writeError(w, http.StatusBadRequest, "invalid record", errors.New(broken[0].Reason))
			return
		}
		cands = parsed
		for _, re := range broken {
			preErrors = append(preErrors, RecordErrorDTO{
				Record: candidateRecord(re.Candidate),
				Reason: re.Reason,
			})
		}
	} else {
		var req ImportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", err)
			return
		}
		atomic = req.Atomic

		for _, record := range req.Records {
			cand, err := record.Candidate()
			if err != nil {
				if atomic {
					writeError(w, http.StatusBadRequest, "invalid record", err)
					return
				}
				preErrors = append(preErrors, RecordErrorDTO{Record: record, Reason: err.Error()})
				continue
			}
			cands = append(cands, cand)
		}
	}

	result, err := h.Store.MergeBatch(r.Context(), cands, atomic)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	dto := ImportResultDTO{Inserted: result.Inserted, Merged: result.Merged, Errors: preErrors}
	for _, re := range result.Errors {
		dto.Errors = append(dto.Errors, RecordErrorDTO{
			Record: candidateRecord(re.Candidate),
			Reason: re.Reason,
		})
	}
	writeJSON(w, http.StatusOK, dto)
}

// DeleteStock removes one entry and its evidence links.
// DELETE /api/stocks/{id}
func (h *Handler) DeleteStock(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id", err)
		return
	}
	if err := h.Store.Delete(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearStocks removes every entry. Explicit confirmation required.
// POST /api/stocks/clear
func (h *Handler) ClearStocks(w http.ResponseWriter, r *http.Request) {
	var req ClearRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Confirm {
		writeError(w, http.StatusBadRequest, "clear requires confirm: true", err)
		return
	}
	if err := h.Store.Clear(r.Context()); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// REPORT ENDPOINTS (read-only)
// =============================================================================

// CategoryReport returns per-category count and quantity sum.
// GET /api/reports/categories?include_capacity=true
func (h *Handler) CategoryReport(w http.ResponseWriter, r *http.Request) {
	includeCapacity := r.URL.Query().Get("include_capacity") == "true"

	aggs, err := h.Store.CategoryAggregates(r.Context(), includeCapacity)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	dtos := make([]CategoryAggregateDTO, 0, len(aggs))
	for _, agg := range aggs {
		dtos = append(dtos, CategoryAggregateDTO{
			Category: string(agg.Category),
			Count:    agg.Count,
			TotalQty: agg.TotalQty.String(),
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ExpiryReport returns the expiry buckets as of today.
// GET /api/reports/expiry
func (h *Handler) ExpiryReport(w http.ResponseWriter, r *http.Request) {
	buckets, err := h.Store.ExpiryBuckets(r.Context(), time.Now())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ExpiryBucketsDTO{
		Expired:  buckets.Expired,
		Within30: buckets.Within30,
		Within90: buckets.Within90,
	})
}

// ToiletReport returns the uses/fixtures breakdown.
// GET /api/reports/toilet
func (h *Handler) ToiletReport(w http.ResponseWriter, r *http.Request) {
	breakdown, err := h.Store.ToiletBreakdown(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}

	dto := ToiletBreakdownDTO{Uses: breakdown.Uses.String(), Booths: map[string]string{}}
	for subtype, qty := range breakdown.Booths {
		dto.Booths[subtype] = qty.String()
	}
	writeJSON(w, http.StatusOK, dto)
}

// SufficiencyReport scores stock against population-derived targets.
// GET /api/reports/sufficiency?people=120&days=3
func (h *Handler) SufficiencyReport(w http.ResponseWriter, r *http.Request) {
	profile := h.Targets
	if v := r.URL.Query().Get("people"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "people must be a positive integer", err)
			return
		}
		profile.People = n
	}
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "days must be a positive integer", err)
			return
		}
		profile.Days = n
	}

	// Capacity items never count toward consumable sufficiency.
	aggs, err := h.Store.CategoryAggregates(r.Context(), false)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	scores := profile.Score(aggs)
	dtos := make([]SufficiencyDTO, 0, len(scores))
	for _, cat := range ledger.Categories {
		s, ok := scores[cat]
		if !ok {
			continue
		}
		dtos = append(dtos, SufficiencyDTO{
			Category:  string(s.Category),
			Have:      s.Have.String(),
			Target:    s.Target.String(),
			Ratio:     s.Ratio.StringFixed(3),
			Shortfall: s.Shortfall.String(),
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// EXPORT
// =============================================================================

// ExportCSV streams the full ledger as a CSV download.
// GET /api/export.csv
func (h *Handler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Store.All(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+csvio.ExportFilename(time.Now())+`"`)
	if err := csvio.Write(w, entries); err != nil {
		// Headers are gone; nothing to do but log via the middleware.
		return
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeStoreError maps the ledger error taxonomy onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case ledger.IsValidation(err):
		writeError(w, http.StatusBadRequest, "record rejected", err)
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, "entry not found", err)
	case ledger.IsRetryable(err):
		writeError(w, http.StatusServiceUnavailable, "store busy, retry", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal error", err)
	}
}

func candidateRecord(c ledger.Candidate) StockRecord {
	return StockRecord{
		Name:     c.Name,
		Qty:      FlexQty{raw: c.Qty.String()},
		Unit:     c.Unit,
		Category: c.Category,
		Kind:     c.Kind,
		Subtype:  c.Subtype,
		DueType:  c.DueType,
		DueDate:  c.DueDate,
		Memo:     c.Memo,
	}
}
