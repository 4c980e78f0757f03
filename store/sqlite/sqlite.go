/*
Package sqlite provides the SQLite-backed ledger store.

PURPOSE:
  Implements the write path (merge-upsert, delete, clear) and the read-only
  aggregation queries over the single stocks table. All SQL lives behind
  typed functions here; no other package issues query text.

MERGE-UPSERT:
  One row exists per canonical identity (name_norm, category, item_kind,
  due_type, due_date, unit, subtype). A write matching an existing identity
  sums quantity into it, backfills an empty memo, and bumps updated_at.
  The merge is commutative and associative over quantity, so replaying a
  batch in any order produces the same final rows.

KEY TABLES:
  stocks:       One row per canonical identity
  stock_photos: Evidence links, cleaned up when an entry is deleted
  schema_info:  Version marker advanced by the migrator

CONCURRENCY:
  The database is opened in WAL mode with a 30s busy timeout and immediate
  write transactions. Writes additionally retry a bounded number of times on
  lock contention before surfacing a retriable ErrLockTimeout. Reads run
  concurrently with writes and may observe pre- or post-write state, never
  a partially applied row.

CONSTRAINT VIOLATIONS:
  The unique identity index is a backstop behind the read-modify-write
  merge; it fires only when the on-disk schema predates the canonical
  identity. When that happens the store rebuilds the schema (see
  migrate.go) and retries the write once rather than swallowing the error.

USAGE:
  store, err := sqlite.New("./data/stock.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - migrate.go: Schema detection and rebuild
  - ledger: Identity, unit conversion, and validation rules
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/bousai/stockpile-engine/ledger"
)

// Store is the SQLite-backed ledger store.
type Store struct {
	db *sql.DB
	mu sync.RWMutex

	now func() time.Time
}

// busyRetries bounds the internal retry loop on lock contention.
const busyRetries = 3

// New opens (or creates) the ledger at dbPath and guarantees the canonical
// schema before returning. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=30000&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single writer connection keeps busy-handler semantics predictable.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// WRITE PATH
// =============================================================================

// MergeUpsert validates one candidate and merges it into the ledger.
// Returns the resulting row and whether it merged into an existing one.
func (s *Store) MergeUpsert(ctx context.Context, c ledger.Candidate) (ledger.StockEntry, bool, error) {
	entry, err := ledger.BuildEntry(c, s.now())
	if err != nil {
		return ledger.StockEntry{}, false, err
	}

	var merged bool
	err = s.writeWithRebuild(ctx, func(tx *sql.Tx) error {
		var txErr error
		entry, merged, txErr = s.mergeTx(ctx, tx, entry)
		return txErr
	})
	if err != nil {
		return ledger.StockEntry{}, false, err
	}
	return entry, merged, nil
}

// writeWithRebuild runs a write and, if a uniqueness constraint narrower
// than the canonical identity fires, rebuilds the schema and retries once.
// Constraint violations are never swallowed: a second failure surfaces as
// ErrLegacyConstraint.
func (s *Store) writeWithRebuild(ctx context.Context, fn func(tx *sql.Tx) error) error {
	err := s.withWriteTx(ctx, fn)
	if err == nil || !isUniqueConstraintError(err) {
		return err
	}
	if mErr := s.Rebuild(ctx); mErr != nil {
		return mErr
	}
	err = s.withWriteTx(ctx, fn)
	if err != nil && isUniqueConstraintError(err) {
		return fmt.Errorf("%w: %v", ledger.ErrLegacyConstraint, err)
	}
	return err
}

// MergeBatch applies candidates one by one. In partial mode (atomic=false)
// invalid records are collected per-record and the rest of the batch
// proceeds. In atomic mode any single failure rolls back the whole batch.
func (s *Store) MergeBatch(ctx context.Context, cands []ledger.Candidate, atomic bool) (ledger.BulkResult, error) {
	var result ledger.BulkResult
	now := s.now()

	entries := make([]ledger.StockEntry, 0, len(cands))
	for _, c := range cands {
		entry, err := ledger.BuildEntry(c, now)
		if err != nil {
			if atomic {
				return ledger.BulkResult{}, err
			}
			result.Errors = append(result.Errors, ledger.RecordError{Candidate: c, Reason: err.Error()})
			continue
		}
		entries = append(entries, entry)
	}

	err := s.writeWithRebuild(ctx, func(tx *sql.Tx) error {
		result.Inserted, result.Merged = 0, 0
		for _, entry := range entries {
			_, merged, err := s.mergeTx(ctx, tx, entry)
			if err != nil {
				return err
			}
			if merged {
				result.Merged++
			} else {
				result.Inserted++
			}
		}
		return nil
	})
	if err != nil {
		return ledger.BulkResult{}, err
	}
	return result, nil
}

// mergeTx is the single merge path. Live writes and migration replay both
// go through here so duplicates always collapse the same way.
func (s *Store) mergeTx(ctx context.Context, tx *sql.Tx, entry ledger.StockEntry) (ledger.StockEntry, bool, error) {
	key := entry.Key()

	var (
		id      int64
		qtyStr  string
		memo    string
		created string
	)
	err := tx.QueryRowContext(ctx, `
		SELECT id, qty, memo, created_at FROM stocks
		WHERE name_norm = ? AND category = ? AND item_kind = ?
		  AND due_type = ? AND due_date = ? AND unit = ? AND subtype = ?`,
		key.NameNorm, key.Category, key.Kind, key.DueType, key.DueDate, key.Unit, key.Subtype,
	).Scan(&id, &qtyStr, &memo, &created)

	switch {
	case err == sql.ErrNoRows:
		res, err := tx.ExecContext(ctx, `
			INSERT INTO stocks
			(name, name_norm, qty, unit, category, item_kind, subtype, due_type, due_date, memo, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.Name, entry.NameNorm, entry.Qty.String(), entry.Unit, entry.Category, entry.Kind,
			entry.Subtype, entry.DueType, entry.DueDate, entry.Memo,
			entry.CreatedAt.Format(time.RFC3339), entry.UpdatedAt.Format(time.RFC3339),
		)
		if err != nil {
			return ledger.StockEntry{}, false, err
		}
		entry.ID, _ = res.LastInsertId()
		return entry, false, nil

	case err != nil:
		return ledger.StockEntry{}, false, fmt.Errorf("failed to query identity: %w", err)

	default:
		existing, err := decimal.NewFromString(qtyStr)
		if err != nil {
			return ledger.StockEntry{}, false, fmt.Errorf("stored quantity %q is not decimal: %w", qtyStr, err)
		}
		sum := existing.Add(entry.Qty)
		// Existing memo wins; only an empty one is backfilled.
		if memo != "" {
			entry.Memo = memo
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE stocks SET qty = ?, memo = ?, updated_at = ? WHERE id = ?`,
			sum.String(), entry.Memo, entry.UpdatedAt.Format(time.RFC3339), id,
		); err != nil {
			return ledger.StockEntry{}, false, err
		}
		entry.ID = id
		entry.Qty = sum
		entry.CreatedAt, _ = time.Parse(time.RFC3339, created)
		return entry, true, nil
	}
}

// Delete removes exactly one row and its photo evidence links.
func (s *Store) Delete(ctx context.Context, id int64) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM stocks WHERE id = ?", id)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("%w: id %d", ledger.ErrNotFound, id)
		}
		_, err = tx.ExecContext(ctx, "DELETE FROM stock_photos WHERE stock_id = ?", id)
		return err
	})
}

// Clear removes every row. Destructive; callers confirm before invoking.
func (s *Store) Clear(ctx context.Context) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM stock_photos"); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM stocks")
		return err
	})
}

// AttachPhoto links a stored photo to an entry.
func (s *Store) AttachPhoto(ctx context.Context, stockID int64, path string) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO stock_photos (stock_id, path, created_at) VALUES (?, ?, ?)",
			stockID, path, s.now().Format(time.RFC3339))
		return err
	})
}

// Photos returns the evidence links for an entry.
func (s *Store) Photos(ctx context.Context, stockID int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT path FROM stock_photos WHERE stock_id = ? ORDER BY id", stockID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// =============================================================================
// READ PATH
// =============================================================================

const entryColumns = `id, name, name_norm, qty, unit, category, item_kind, subtype,
	due_type, due_date, memo, created_at, updated_at`

// All returns every entry, most recently updated first.
func (s *Store) All(ctx context.Context) ([]ledger.StockEntry, error) {
	return s.queryEntries(ctx,
		"SELECT "+entryColumns+" FROM stocks ORDER BY updated_at DESC, id DESC")
}

// ByCategory returns entries in one canonical category.
func (s *Store) ByCategory(ctx context.Context, cat ledger.Category) ([]ledger.StockEntry, error) {
	return s.queryEntries(ctx,
		"SELECT "+entryColumns+" FROM stocks WHERE category = ? ORDER BY updated_at DESC, id DESC", cat)
}

// CategoryAggregates returns the row count and exact quantity sum per
// canonical category. When includeCapacity is false only consumable stock
// is summed, which is the form sufficiency scoring consumes.
func (s *Store) CategoryAggregates(ctx context.Context, includeCapacity bool) ([]ledger.CategoryAggregate, error) {
	query := "SELECT category, qty FROM stocks"
	var args []any
	if !includeCapacity {
		query += " WHERE item_kind = ?"
		args = append(args, ledger.KindStock)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[ledger.Category]int{}
	sums := map[ledger.Category]decimal.Decimal{}
	for rows.Next() {
		var cat ledger.Category
		var qtyStr string
		if err := rows.Scan(&cat, &qtyStr); err != nil {
			return nil, err
		}
		qty, err := decimal.NewFromString(qtyStr)
		if err != nil {
			return nil, fmt.Errorf("stored quantity %q is not decimal: %w", qtyStr, err)
		}
		counts[cat]++
		sums[cat] = sums[cat].Add(qty)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var result []ledger.CategoryAggregate
	for _, cat := range ledger.Categories {
		if counts[cat] == 0 {
			continue
		}
		result = append(result, ledger.CategoryAggregate{Category: cat, Count: counts[cat], TotalQty: sums[cat]})
	}
	return result, nil
}

// ExpiryBuckets counts dated entries relative to today. Today itself is not
// expired; the 90-day bucket excludes everything already in the 30-day one.
func (s *Store) ExpiryBuckets(ctx context.Context, today time.Time) (ledger.ExpiryBuckets, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	day := today.Format(ledger.DateLayout)
	in30 := today.AddDate(0, 0, 30).Format(ledger.DateLayout)
	in90 := today.AddDate(0, 0, 90).Format(ledger.DateLayout)

	var b ledger.ExpiryBuckets
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN due_date < ? THEN 1 END),
			COUNT(CASE WHEN due_date >= ? AND due_date <= ? THEN 1 END),
			COUNT(CASE WHEN due_date > ? AND due_date <= ? THEN 1 END)
		FROM stocks
		WHERE due_type != ? AND due_date != ''`,
		day, day, in30, in30, in90, ledger.DueNone,
	).Scan(&b.Expired, &b.Within30, &b.Within90)
	if err != nil {
		return ledger.ExpiryBuckets{}, err
	}
	return b, nil
}

// ToiletBreakdown sums consumable uses and, separately, durable fixture
// counts per subtype. The two are never combined.
func (s *Store) ToiletBreakdown(ctx context.Context) (ledger.ToiletBreakdown, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT qty, item_kind, subtype FROM stocks WHERE category = ?", ledger.CategoryToilet)
	if err != nil {
		return ledger.ToiletBreakdown{}, err
	}
	defer rows.Close()

	breakdown := ledger.ToiletBreakdown{Booths: map[string]decimal.Decimal{}}
	for rows.Next() {
		var qtyStr, subtype string
		var kind ledger.ItemKind
		if err := rows.Scan(&qtyStr, &kind, &subtype); err != nil {
			return ledger.ToiletBreakdown{}, err
		}
		qty, err := decimal.NewFromString(qtyStr)
		if err != nil {
			return ledger.ToiletBreakdown{}, fmt.Errorf("stored quantity %q is not decimal: %w", qtyStr, err)
		}
		if kind == ledger.KindCapacity {
			if subtype == "" {
				subtype = ledger.SubtypeOtherGear
			}
			breakdown.Booths[subtype] = breakdown.Booths[subtype].Add(qty)
		} else {
			breakdown.Uses = breakdown.Uses.Add(qty)
		}
	}
	return breakdown, rows.Err()
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]ledger.StockEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.StockEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (ledger.StockEntry, error) {
	var (
		e                  ledger.StockEntry
		qtyStr             string
		createdAt, updated string
	)
	if err := rows.Scan(
		&e.ID, &e.Name, &e.NameNorm, &qtyStr, &e.Unit, &e.Category, &e.Kind,
		&e.Subtype, &e.DueType, &e.DueDate, &e.Memo, &createdAt, &updated,
	); err != nil {
		return e, fmt.Errorf("failed to scan entry: %w", err)
	}

	qty, err := decimal.NewFromString(qtyStr)
	if err != nil {
		return e, fmt.Errorf("stored quantity %q is not decimal: %w", qtyStr, err)
	}
	e.Qty = qty
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	e.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return e, nil
}

// =============================================================================
// WRITE TRANSACTION PLUMBING
// =============================================================================

// withWriteTx runs fn inside a single immediate transaction, retrying a
// bounded number of times on lock contention. Exhaustion surfaces a
// retriable ErrLockTimeout rather than corrupt or partial state.
func (s *Store) withWriteTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	for attempt := 0; attempt <= busyRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err = s.runTx(ctx, fn)
		if err == nil || !isBusyError(err) {
			return err
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ledger.ErrLockTimeout, busyRetries+1, err)
}

func (s *Store) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// =============================================================================
// DRIVER ERROR CLASSIFICATION
// =============================================================================

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isBusyError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}
