/*
Package ledger provides the core types and rules of the stockpile ledger.

PURPOSE:
  This package contains the storage-independent half of the engine: the
  canonical record type, the identity rules that decide when two observations
  are "the same ledger line", unit conversion into per-category basis units,
  and the sufficiency math driven by population targets.

KEY CONCEPTS IN THIS FILE (types.go):
  - StockEntry: The sole persisted entity, one row per canonical identity
  - Candidate: An untrusted incoming observation (AI extraction, form, CSV)
  - Key: The canonical identity tuple used for merge deduplication
  - Category / ItemKind / DueType: Closed vocabularies with normalization

DESIGN PRINCIPLES:
  1. Merge, don't duplicate: Observations of the same item sum their quantity
  2. Precision: Uses decimal.Decimal to avoid floating-point drift in sums
  3. Boundary validation: Candidates are validated in full before persistence;
     nothing downstream trusts raw input
  4. No ambient state: Everything here is a pure library

USAGE:
  cand := ledger.Candidate{Name: "保存水 2L", Qty: decimal.NewFromInt(6), Unit: "本"}
  entry, err := ledger.BuildEntry(cand, time.Now())

SEE ALSO:
  - normalize.go: Name/category/due-date normalization and key building
  - units.go: Basis-unit conversion
  - targets.go: Sufficiency targets and scoring
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CLOSED VOCABULARIES
// =============================================================================

// Category is one of the fixed canonical stockpile categories.
// Free-text legacy categories are mapped onto this set by substring
// containment (see NormalizeCategory), falling back to CategoryOther.
type Category string

const (
	CategoryWater     Category = "water"      // drinking water and beverages, basis unit liters
	CategoryFood      Category = "food"       // staple food, basis unit meals
	CategoryToilet    Category = "toilet"     // toilet and hygiene supplies, basis unit uses
	CategoryInfant    Category = "infant"     // infant supplies
	CategoryBedding   Category = "bedding"    // bedding, blankets, shelter
	CategoryEquipment Category = "equipment"  // durable gear: lights, radios, generators
	CategoryOther     Category = "other"
)

// Categories lists every canonical category in display order.
var Categories = []Category{
	CategoryWater, CategoryFood, CategoryToilet,
	CategoryInfant, CategoryBedding, CategoryEquipment, CategoryOther,
}

// ItemKind distinguishes consumable inventory from installed capability.
type ItemKind string

const (
	// KindStock is consumable inventory, included in sufficiency math.
	KindStock ItemKind = "stock"
	// KindCapacity is durable equipment or installed capability. Tracked,
	// but never added into consumable totals.
	KindCapacity ItemKind = "capacity"
)

// DueType says what kind of date, if any, an entry carries.
type DueType string

const (
	DueNone       DueType = "none"
	DueExpiry     DueType = "expiry"
	DueInspection DueType = "inspection"
)

// Toilet equipment subtypes used by the toilet breakdown report.
const (
	SubtypePortable  = "portable"
	SubtypeAssembled = "assembled"
	SubtypeTemporary = "temporary"
	SubtypeBag       = "bag"
	SubtypeCoagulant = "coagulant"
	SubtypeOtherGear = "other"
)

// Basis units for the three scored categories.
const (
	UnitLiters Unit = "L" // water
	UnitMeals  Unit = "食" // staple food
	UnitUses   Unit = "回" // toilet/hygiene
	UnitBooths Unit = "基" // durable toilet fixtures, never convertible to uses
)

// Unit is a physical unit string as stored ("L", "食", "回", "基", "本", ...).
type Unit string

// DateLayout is the ISO form every persisted due_date uses.
const DateLayout = "2006-01-02"

// =============================================================================
// STOCK ENTRY - The sole persisted entity
// =============================================================================

// StockEntry is one canonical ledger line. Exactly one row exists per
// distinct Key; repeated observations merge into it by summing quantity.
type StockEntry struct {
	ID       int64
	Name     string // display form, original casing/width preserved
	NameNorm string // NFKC + width-folded + case-folded + whitespace-collapsed
	Qty      decimal.Decimal
	Unit     Unit
	Category Category
	Kind     ItemKind
	Subtype  string
	DueType  DueType
	DueDate  string // ISO date, empty whenever DueType == DueNone
	Memo     string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Key is the canonical identity tuple. Two records with equal keys are the
// same ledger line and must merge; any field differing keeps them apart.
type Key struct {
	NameNorm string
	Category Category
	Kind     ItemKind
	DueType  DueType
	DueDate  string
	Unit     Unit
	Subtype  string
}

// Key returns the entry's canonical identity.
func (e StockEntry) Key() Key {
	return Key{
		NameNorm: e.NameNorm,
		Category: e.Category,
		Kind:     e.Kind,
		DueType:  e.DueType,
		DueDate:  e.DueDate,
		Unit:     e.Unit,
		Subtype:  e.Subtype,
	}
}

// =============================================================================
// CANDIDATE - Untrusted incoming observation
// =============================================================================

// Candidate is a raw observation from a collaborator (AI photo extraction,
// manual form entry, CSV import). Every field except Name is optional;
// BuildEntry applies defaults and validates before anything is persisted.
type Candidate struct {
	Name     string
	Qty      decimal.Decimal
	Unit     string
	Category string
	Kind     string
	Subtype  string
	DueType  string
	DueDate  string
	Memo     string
}

// =============================================================================
// BULK RESULT - Outcome of a batch merge
// =============================================================================

// RecordError pairs a rejected candidate with the reason it was rejected.
type RecordError struct {
	Candidate Candidate
	Reason    string
}

// BulkResult reports the outcome of a bulk merge-upsert.
type BulkResult struct {
	Inserted int
	Merged   int
	Errors   []RecordError
}
