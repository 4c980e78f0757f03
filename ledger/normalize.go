/*
normalize.go - Identity & key building from raw records

PURPOSE:
  Derives the canonical identity of an observation: normalized name,
  canonical category, kind, due type and due date. Identity fields fail
  hard on bad input (empty name, negative quantity); non-identity fields
  degrade gracefully (an unparseable due date becomes "no due date" with
  an explanatory memo note).

NAME NORMALIZATION:
  Full-width/half-width and compatibility forms are unified (NFKC plus
  width folding), whitespace is collapsed, and the comparison key is
  case-folded. The display name keeps its original casing and width.

SEE ALSO:
  - types.go: Key, StockEntry, Candidate
  - units.go: Basis-unit conversion invoked by BuildEntry
*/
package ledger

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// =============================================================================
// NAME NORMALIZATION
// =============================================================================

var spaceRun = regexp.MustCompile(`\s+`)

// NormalizeName returns the comparison form of a display name: NFKC +
// width-folded, trimmed, internal whitespace collapsed, case-folded.
// Returns "" for names that are empty after normalization.
func NormalizeName(name string) string {
	s := norm.NFKC.String(width.Fold.String(name))
	s = spaceRun.ReplaceAllString(strings.TrimSpace(s), " ")
	return strings.ToLower(s)
}

// foldText is NormalizeName without whitespace collapsing, used for
// matching category labels and unit spellings inside free text.
func foldText(s string) string {
	return strings.ToLower(norm.NFKC.String(width.Fold.String(s)))
}

// =============================================================================
// CATEGORY NORMALIZATION
// =============================================================================

// categoryAliases maps each canonical category to substrings that identify
// it inside a free-text label. First match wins, in Categories order, so
// "飲料水" lands on water before the food aliases ever run.
var categoryAliases = map[Category][]string{
	CategoryWater:     {"水", "飲料", "water", "beverage", "drink"},
	CategoryFood:      {"主食", "食料", "食品", "food", "米", "ご飯", "パン", "麺", "meal", "ration"},
	CategoryToilet:    {"トイレ", "衛生", "toilet", "hygiene", "sanit"},
	CategoryInfant:    {"乳幼児", "赤ちゃん", "ベビー", "ミルク", "おむつ", "infant", "baby"},
	CategoryBedding:   {"寝具", "毛布", "防寒", "テント", "bedding", "blanket", "shelter"},
	CategoryEquipment: {"資機材", "機材", "器材", "装備", "発電", "ラジオ", "ランタン", "equipment", "gear", "tool"},
}

// NormalizeCategory maps a free-text category label onto the canonical set
// by substring containment, defaulting to CategoryOther.
func NormalizeCategory(raw string) Category {
	label := foldText(raw)
	if label == "" {
		return CategoryOther
	}
	for _, cat := range Categories {
		if Category(label) == cat {
			return cat
		}
		for _, alias := range categoryAliases[cat] {
			if strings.Contains(label, foldText(alias)) {
				return cat
			}
		}
	}
	return CategoryOther
}

// NormalizeKind maps arbitrary input onto {stock, capacity}, defaulting to stock.
func NormalizeKind(raw string) ItemKind {
	switch ItemKind(foldText(raw)) {
	case KindCapacity:
		return KindCapacity
	default:
		return KindStock
	}
}

// NormalizeDueType maps arbitrary input onto {none, expiry, inspection},
// defaulting to none. A none due type forces the due date to empty.
func NormalizeDueType(raw string) DueType {
	switch DueType(foldText(raw)) {
	case DueExpiry:
		return DueExpiry
	case DueInspection:
		return DueInspection
	default:
		return DueNone
	}
}

// =============================================================================
// DUE DATE NORMALIZATION
// =============================================================================

// looseDate matches year-month-day with /, -, . or the Japanese era-free
// kanji separators. Full-width digits and separators are folded before this
// regex runs.
var looseDate = regexp.MustCompile(`(\d{4})\s*[/\-.年]\s*(\d{1,2})\s*[/\-.月]\s*(\d{1,2})`)

// NormalizeDueDate parses a date in ISO, ISO-datetime, or approximate locale
// form into the canonical ISO layout. Unparseable input yields ("", note):
// the record keeps flowing, the date is dropped, and the note explains why.
func NormalizeDueDate(raw string) (iso string, note string) {
	s := strings.TrimSpace(foldText(raw))
	if s == "" {
		return "", ""
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t.Format(DateLayout), ""
	}
	// ISO datetime: keep the date portion.
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(DateLayout), ""
		}
	}
	if m := looseDate.FindStringSubmatch(s); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		candidate := fmt.Sprintf("%04d-%02d-%02d", year, month, day)
		if t, err := time.Parse(DateLayout, candidate); err == nil {
			return t.Format(DateLayout), ""
		}
	}
	return "", fmt.Sprintf("日付を解釈できませんでした: %q", raw)
}

// =============================================================================
// ENTRY BUILDING
// =============================================================================

// BuildEntry validates a candidate and produces the canonical StockEntry it
// would merge as. Identity failures (empty name, negative quantity,
// unconvertible unit for a stock item in a basis category) are returned as
// errors; the candidate must not be persisted.
func BuildEntry(c Candidate, now time.Time) (StockEntry, error) {
	name := spaceRun.ReplaceAllString(strings.TrimSpace(c.Name), " ")
	nameNorm := NormalizeName(c.Name)
	if nameNorm == "" {
		return StockEntry{}, &ValidationError{Field: "name", Reason: "empty after normalization", Err: ErrEmptyName}
	}
	if c.Qty.IsNegative() {
		return StockEntry{}, &ValidationError{Field: "qty", Reason: "must be non-negative", Err: ErrNegativeQty}
	}

	category := NormalizeCategory(c.Category)
	kind := NormalizeKind(c.Kind)
	dueType := NormalizeDueType(c.DueType)

	memo := strings.TrimSpace(c.Memo)
	dueDate := ""
	if dueType != DueNone {
		var note string
		dueDate, note = NormalizeDueDate(c.DueDate)
		if dueDate == "" {
			dueType = DueNone
			if note != "" {
				memo = appendNote(memo, note)
			}
		}
	}

	conv, err := ConvertToBasis(category, kind, c.Qty, c.Unit, name, memo)
	if err != nil {
		return StockEntry{}, err
	}

	return StockEntry{
		Name:      name,
		NameNorm:  nameNorm,
		Qty:       conv.Qty,
		Unit:      conv.Unit,
		Category:  category,
		Kind:      conv.Kind,
		Subtype:   foldText(c.Subtype),
		DueType:   dueType,
		DueDate:   dueDate,
		Memo:      memo,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func appendNote(memo, note string) string {
	if memo == "" {
		return note
	}
	return memo + " / " + note
}
