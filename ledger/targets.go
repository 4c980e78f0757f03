/*
targets.go - Population-derived sufficiency targets and scoring

PURPOSE:
  Converts a population profile (how many people, for how many days) into
  per-category target quantities in basis units, and scores on-hand stock
  against them. Targets are JSON-configurable so a facility can override
  the guideline defaults without code changes.

DEFAULTS:
  The standard civil-protection guideline figures per person per day:
    water  3 liters
    food   3 meals
    toilet 5 uses

JSON SCHEMA:
  {
    "people": 120,
    "days": 3,
    "per_person_per_day": {"water": "3", "food": "3", "toilet": "5"}
  }

USAGE:
  profile := ledger.DefaultTargets(120, 3)
  report := profile.Score(aggregates)
  report[ledger.CategoryWater].Ratio     // clamped to [0, 1] for display
  report[ledger.CategoryWater].Shortfall // raw, never clamped

SEE ALSO:
  - report.go: CategoryAggregate consumed by Score
  - store/sqlite: Produces the aggregates (capacity excluded)
*/
package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TARGET PROFILE
// =============================================================================

// TargetProfile derives per-category basis-unit targets from a population.
type TargetProfile struct {
	People          int                         `json:"people"`
	Days            int                         `json:"days"`
	PerPersonPerDay map[Category]decimal.Decimal `json:"per_person_per_day"`
}

// guidelinePerPersonPerDay holds the standard figures used when a profile
// does not override a category.
var guidelinePerPersonPerDay = map[Category]decimal.Decimal{
	CategoryWater:  decimal.NewFromInt(3),
	CategoryFood:   decimal.NewFromInt(3),
	CategoryToilet: decimal.NewFromInt(5),
}

// DefaultTargets returns the guideline profile for a population.
func DefaultTargets(people, days int) TargetProfile {
	per := make(map[Category]decimal.Decimal, len(guidelinePerPersonPerDay))
	for cat, v := range guidelinePerPersonPerDay {
		per[cat] = v
	}
	return TargetProfile{People: people, Days: days, PerPersonPerDay: per}
}

// ParseTargets decodes a JSON profile, filling unset categories from the
// guideline defaults.
func ParseTargets(data []byte) (TargetProfile, error) {
	var p TargetProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return TargetProfile{}, fmt.Errorf("failed to parse target profile: %w", err)
	}
	if p.People <= 0 || p.Days <= 0 {
		return TargetProfile{}, fmt.Errorf("target profile needs positive people and days")
	}
	if p.PerPersonPerDay == nil {
		p.PerPersonPerDay = map[Category]decimal.Decimal{}
	}
	for cat, v := range guidelinePerPersonPerDay {
		if _, ok := p.PerPersonPerDay[cat]; !ok {
			p.PerPersonPerDay[cat] = v
		}
	}
	return p, nil
}

// Target returns the total basis-unit target for a category, zero when the
// category is not scored.
func (p TargetProfile) Target(cat Category) decimal.Decimal {
	per, ok := p.PerPersonPerDay[cat]
	if !ok {
		return decimal.Zero
	}
	return per.Mul(decimal.NewFromInt(int64(p.People))).Mul(decimal.NewFromInt(int64(p.Days)))
}

// =============================================================================
// SUFFICIENCY SCORING
// =============================================================================

// Sufficiency scores one category's stock against its target.
type Sufficiency struct {
	Category  Category
	Have      decimal.Decimal // on-hand stock in the basis unit
	Target    decimal.Decimal
	Ratio     decimal.Decimal // have/target clamped to [0, 1] for display
	Shortfall decimal.Decimal // max(0, target-have), never clamped
}

// Score evaluates stock aggregates against the profile. Aggregates must
// already exclude capacity items; only scored categories (those with a
// per-person figure) appear in the result.
func (p TargetProfile) Score(aggregates []CategoryAggregate) map[Category]Sufficiency {
	have := make(map[Category]decimal.Decimal, len(aggregates))
	for _, agg := range aggregates {
		have[agg.Category] = agg.TotalQty
	}

	result := make(map[Category]Sufficiency, len(p.PerPersonPerDay))
	for cat := range p.PerPersonPerDay {
		target := p.Target(cat)
		h := have[cat]

		ratio := decimal.NewFromInt(1)
		if target.IsPositive() {
			ratio = h.Div(target)
			if ratio.GreaterThan(decimal.NewFromInt(1)) {
				ratio = decimal.NewFromInt(1)
			}
			if ratio.IsNegative() {
				ratio = decimal.Zero
			}
		}

		shortfall := target.Sub(h)
		if shortfall.IsNegative() {
			shortfall = decimal.Zero
		}

		result[cat] = Sufficiency{Category: cat, Have: h, Target: target, Ratio: ratio, Shortfall: shortfall}
	}
	return result
}
