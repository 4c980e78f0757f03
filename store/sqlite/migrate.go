/*
migrate.go - Schema detection and rebuild

PURPOSE:
  Guarantees that the ledger is in the current canonical schema before any
  other access, regardless of which historical version last wrote the file.
  Three signals trigger a rebuild:
    (a) the stored version marker is behind schemaVersion
    (b) a required column is missing (the first-generation table stored
        free-text quantities in an "item"/"qty" pair with no kind or due
        columns)
    (c) a uniqueness constraint narrower than the canonical identity exists,
        which would make a current-version write fail with a constraint
        violation

REBUILD:
  The existing table is renamed to a timestamped legacy table (kept forever,
  never dropped), a fresh canonical table is created, and every legacy row
  is replayed through the same merge path used for live writes, so
  duplicates grouped differently by old constraints collapse correctly.
  The whole rebuild runs in one transaction: any row that cannot be coerced
  into a valid record rolls everything back and the pre-migration table
  remains authoritative.

LEGACY QUANTITIES:
  First-generation rows stored quantity as free text ("24本", "2 L"). The
  leading number becomes the quantity and the remainder becomes the unit
  when no unit column exists. A row with no leading number cannot be
  replayed and aborts the migration.

SEE ALSO:
  - sqlite.go: mergeTx, the shared merge path
  - ledger: BuildEntry validation applied to every replayed row
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bousai/stockpile-engine/ledger"
)

// schemaVersion is advanced whenever the canonical schema changes shape.
const schemaVersion = 2

const createStocksTable = `
	CREATE TABLE stocks (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		name       TEXT NOT NULL,
		name_norm  TEXT NOT NULL,
		qty        TEXT NOT NULL,
		unit       TEXT NOT NULL DEFAULT '',
		category   TEXT NOT NULL DEFAULT 'other',
		item_kind  TEXT NOT NULL DEFAULT 'stock',
		subtype    TEXT NOT NULL DEFAULT '',
		due_type   TEXT NOT NULL DEFAULT 'none',
		due_date   TEXT NOT NULL DEFAULT '',
		memo       TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`

const createStocksIndexes = `
	CREATE UNIQUE INDEX idx_stocks_identity
		ON stocks(name_norm, category, item_kind, due_type, due_date, unit, subtype);
	CREATE INDEX idx_stocks_category ON stocks(category);
	CREATE INDEX idx_stocks_due ON stocks(due_type, due_date)`

const createPhotosTable = `
	CREATE TABLE IF NOT EXISTS stock_photos (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		stock_id   INTEGER NOT NULL,
		path       TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_stock_photos_stock ON stock_photos(stock_id)`

// requiredColumns must all be present for the table to be current.
var requiredColumns = []string{
	"id", "name", "name_norm", "qty", "unit", "category", "item_kind",
	"subtype", "due_type", "due_date", "memo", "created_at", "updated_at",
}

// identityColumns is the canonical uniqueness constraint, as a set.
var identityColumns = map[string]bool{
	"name_norm": true, "category": true, "item_kind": true,
	"due_type": true, "due_date": true, "unit": true, "subtype": true,
}

// =============================================================================
// STARTUP MIGRATION
// =============================================================================

// Migrate brings the database to the canonical schema. Runs once at open,
// ahead of any other access.
func (s *Store) Migrate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		"CREATE TABLE IF NOT EXISTS schema_info (version INTEGER NOT NULL)"); err != nil {
		return &ledger.MigrationError{Step: "detect", Err: err}
	}
	if _, err := s.db.ExecContext(ctx, createPhotosTable); err != nil {
		return &ledger.MigrationError{Step: "detect", Err: err}
	}

	exists, err := s.tableExists(ctx, "stocks")
	if err != nil {
		return &ledger.MigrationError{Step: "detect", Err: err}
	}
	if !exists {
		return s.createFresh(ctx)
	}

	stale, err := s.schemaIsStale(ctx)
	if err != nil {
		return &ledger.MigrationError{Step: "detect", Err: err}
	}
	if !stale {
		return nil
	}
	return s.rebuild(ctx)
}

// Rebuild forces a schema rebuild. The live write path calls this when a
// legacy uniqueness constraint fires outside the migration path.
func (s *Store) Rebuild(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rebuild(ctx)
}

func (s *Store) createFresh(ctx context.Context) error {
	err := s.runTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []string{createStocksTable, createStocksIndexes} {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return setVersion(ctx, tx)
	})
	if err != nil {
		return &ledger.MigrationError{Step: "rebuild", Err: err}
	}
	return nil
}

// =============================================================================
// DETECTION
// =============================================================================

func (s *Store) tableExists(ctx context.Context, name string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&count)
	return count > 0, err
}

func (s *Store) schemaIsStale(ctx context.Context) (bool, error) {
	var version int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM schema_info").Scan(&version); err != nil {
		return false, err
	}
	if version < schemaVersion {
		return true, nil
	}

	cols, err := s.tableColumns(ctx, "stocks")
	if err != nil {
		return false, err
	}
	for _, required := range requiredColumns {
		if !cols[required] {
			return true, nil
		}
	}

	uniques, err := s.uniqueIndexColumnSets(ctx, "stocks")
	if err != nil {
		return false, err
	}
	canonical := false
	for _, set := range uniques {
		if sameColumnSet(set, identityColumns) {
			canonical = true
		} else {
			// A narrower (or just different) constraint would reject
			// current-version writes.
			return true, nil
		}
	}
	return !canonical, nil
}

func (s *Store) tableColumns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := map[string]bool{}
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, colType    string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[strings.ToLower(name)] = true
	}
	return cols, rows.Err()
}

func (s *Store) uniqueIndexColumnSets(ctx context.Context, table string) (map[string]map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_list(%q)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var uniqueNames []string
	for rows.Next() {
		var (
			seq, unique, partial int
			name, origin         string
		)
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			return nil, err
		}
		if unique == 1 {
			uniqueNames = append(uniqueNames, name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sets := map[string]map[string]bool{}
	for _, idx := range uniqueNames {
		cols, err := s.indexColumns(ctx, idx)
		if err != nil {
			return nil, err
		}
		sets[idx] = cols
	}
	return sets, nil
}

func (s *Store) indexColumns(ctx context.Context, index string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_info(%q)", index))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := map[string]bool{}
	for rows.Next() {
		var seqno, cid int
		var name sql.NullString
		if err := rows.Scan(&seqno, &cid, &name); err != nil {
			return nil, err
		}
		if name.Valid {
			cols[strings.ToLower(name.String)] = true
		}
	}
	return cols, rows.Err()
}

func sameColumnSet(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for col := range a {
		if !b[col] {
			return false
		}
	}
	return true
}

// =============================================================================
// REBUILD + REPLAY
// =============================================================================

func (s *Store) rebuild(ctx context.Context) error {
	legacyName := "stocks_legacy_" + s.now().Format("20060102150405")

	err := s.runTx(ctx, func(tx *sql.Tx) error {
		// Index names are global in SQLite and would collide with the
		// fresh table's indexes after the rename.
		if err := dropIndexes(ctx, tx, "stocks"); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("ALTER TABLE stocks RENAME TO %q", legacyName)); err != nil {
			return fmt.Errorf("failed to rename legacy table: %w", err)
		}
		for _, stmt := range []string{createStocksTable, createStocksIndexes} {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		if err := s.replayLegacy(ctx, tx, legacyName); err != nil {
			return err
		}
		return setVersion(ctx, tx)
	})
	if err != nil {
		return &ledger.MigrationError{Step: "rebuild", Err: err}
	}
	return nil
}

func dropIndexes(ctx context.Context, tx *sql.Tx, table string) error {
	rows, err := tx.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = ? AND name NOT LIKE 'sqlite_autoindex%'",
		table)
	if err != nil {
		return err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, name := range names {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP INDEX %q", name)); err != nil {
			return err
		}
	}
	return nil
}

// replayLegacy feeds every legacy row through the live merge path so
// duplicates collapse under the canonical identity.
func (s *Store) replayLegacy(ctx context.Context, tx *sql.Tx, legacyName string) error {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %q", legacyName))
	if err != nil {
		return err
	}

	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		return err
	}

	// Materialize before writing: the merge path issues its own statements
	// on the same transaction.
	var legacy []map[string]string
	for rows.Next() {
		values := make([]sql.NullString, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			rows.Close()
			return err
		}
		row := make(map[string]string, len(columns))
		for i, col := range columns {
			row[strings.ToLower(col)] = values[i].String
		}
		legacy = append(legacy, row)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, row := range legacy {
		entry, err := legacyEntry(row, s.now())
		if err != nil {
			return fmt.Errorf("row id=%s: %w", row["id"], err)
		}
		if _, _, err := s.mergeTx(ctx, tx, entry); err != nil {
			return fmt.Errorf("row id=%s: %w", row["id"], err)
		}
	}
	return nil
}

// legacyQty splits a free-text quantity ("24本", "2 L") into number and
// trailing unit hint.
var legacyQty = regexp.MustCompile(`^\s*(\d+(?:\.\d+)?)\s*(.*)$`)

func legacyEntry(row map[string]string, now time.Time) (ledger.StockEntry, error) {
	name := row["name"]
	if name == "" {
		name = row["item"]
	}

	qtyRaw, unit := row["qty"], row["unit"]
	m := legacyQty.FindStringSubmatch(strings.TrimSpace(qtyRaw))
	if m == nil {
		return ledger.StockEntry{}, fmt.Errorf("quantity %q is not a non-negative number", qtyRaw)
	}
	qty, err := decimal.NewFromString(m[1])
	if err != nil {
		return ledger.StockEntry{}, fmt.Errorf("quantity %q is not a non-negative number", qtyRaw)
	}
	if unit == "" {
		unit = strings.TrimSpace(m[2])
	}

	entry, err := ledger.BuildEntry(ledger.Candidate{
		Name:     name,
		Qty:      qty,
		Unit:     unit,
		Category: row["category"],
		Kind:     row["item_kind"],
		Subtype:  row["subtype"],
		DueType:  row["due_type"],
		DueDate:  row["due_date"],
		Memo:     row["memo"],
	}, now)
	if err != nil {
		return ledger.StockEntry{}, err
	}

	// First observation time survives the rebuild when parseable.
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, strings.SplitN(row["created_at"], ".", 2)[0]); err == nil {
			entry.CreatedAt = t
			break
		}
	}
	return entry, nil
}

func setVersion(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM schema_info"); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, "INSERT INTO schema_info (version) VALUES (?)", schemaVersion)
	return err
}
