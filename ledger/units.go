/*
units.go - Basis-unit conversion for the scored categories

PURPOSE:
  Converts heterogeneous (qty, unit) pairs into the single basis unit each
  scored category sums in: liters for water, meals for staple food, uses for
  toilet/hygiene. Conversion either succeeds exactly or fails with a
  ConversionError naming the category, the offending unit, and the reason.
  There is no best-effort path: an unconvertible stock quantity blocks
  persistence of that record.

PER-UNIT SUB-VALUES:
  Container units need extra numbers parsed from the item's free text:
    "保存水 2L" × 6本           -> per-bottle volume from the name
    "500ml×24本" 1箱            -> per-bottle volume AND pack count
    "アルファ米 50食入" 2箱      -> meal count per box
  When the text does not carry the required numbers the conversion fails.

TOILET FIXTURES:
  Booth units (基/台/unit/booth) count durable fixtures. They are never
  convertible to uses; a stock record carrying a booth unit is reclassified
  as capacity so it lands in the fixture bucket, not the uses total.

SEE ALSO:
  - normalize.go: BuildEntry calls ConvertToBasis
  - targets.go: Consumes basis-unit totals
*/
package ledger

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Conversion is the result of a basis-unit conversion.
type Conversion struct {
	Qty  decimal.Decimal
	Unit Unit
	Kind ItemKind // may differ from input: booth-unit stock becomes capacity
}

// =============================================================================
// UNIT VOCABULARY (matched after NFKC + width + case folding)
// =============================================================================

var (
	literUnits = set("l", "ℓ", "リットル", "liter", "liters", "litre", "litres")
	mlUnits    = set("ml", "cc", "ミリリットル")
	cubicUnits = set("m3", "立方メートル")
	pieceUnits = set("本", "缶", "個", "bottle", "bottles", "can", "cans", "each", "pcs")
	packUnits  = set("箱", "ケース", "box", "boxes", "case", "cases")
	mealUnits  = set("食", "食分", "meal", "meals", "serving", "servings")
	mealPacks  = set("箱", "袋", "ケース", "パック", "box", "bag", "case", "pack")
	useUnits   = set("", "回", "回分", "枚", "袋", "use", "uses", "sheet", "sheets", "bag", "bags")
	boothUnits = set("基", "台", "unit", "units", "booth", "booths")
	thousand   = decimal.NewFromInt(1000)
)

func set(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}

// =============================================================================
// FREE-TEXT SUB-VALUE PARSERS
// =============================================================================

var (
	volumeML  = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:ml|cc|ミリリットル)`)
	volumeL   = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:l|ℓ|リットル)`)
	packCount = regexp.MustCompile(`(?:[x×]\s*(\d+)|(\d+)\s*(?:本入|缶入|個入|パック)|(\d+)\s*[-\s]?pack)`)
	mealCount = regexp.MustCompile(`(\d+)\s*(?:食|meals?|servings?)`)
)

// parseVolumeLiters extracts a per-container volume in liters from free text.
// Milliliter figures win over liter figures so "500ml" in "500ml×24" is not
// misread as 500 liters by the broader liter pattern.
func parseVolumeLiters(text string) (decimal.Decimal, bool) {
	if m := volumeML.FindStringSubmatch(text); m != nil {
		v, err := decimal.NewFromString(m[1])
		if err == nil {
			return v.Div(thousand), true
		}
	}
	if m := volumeL.FindStringSubmatch(text); m != nil {
		v, err := decimal.NewFromString(m[1])
		if err == nil {
			return v, true
		}
	}
	return decimal.Zero, false
}

func parsePackCount(text string) (decimal.Decimal, bool) {
	m := packCount.FindStringSubmatch(text)
	if m == nil {
		return decimal.Zero, false
	}
	for _, g := range m[1:] {
		if g != "" {
			v, err := decimal.NewFromString(g)
			if err == nil && v.IsPositive() {
				return v, true
			}
		}
	}
	return decimal.Zero, false
}

func parseMealCount(text string) (decimal.Decimal, bool) {
	if m := mealCount.FindStringSubmatch(text); m != nil {
		v, err := decimal.NewFromString(m[1])
		if err == nil && v.IsPositive() {
			return v, true
		}
	}
	return decimal.Zero, false
}

// =============================================================================
// CONVERSION
// =============================================================================

// ConvertToBasis converts a quantity into the category's basis unit.
// Capacity items skip conversion in every category: they are tracked in
// whatever unit they arrive in. Categories outside {water, food, toilet}
// also store quantities as-is.
func ConvertToBasis(cat Category, kind ItemKind, qty decimal.Decimal, rawUnit, name, memo string) (Conversion, error) {
	unit := foldText(rawUnit)
	if kind == KindCapacity {
		return Conversion{Qty: qty, Unit: passUnit(rawUnit), Kind: KindCapacity}, nil
	}

	text := foldText(name + " " + memo)
	switch cat {
	case CategoryWater:
		return convertWater(qty, unit, text)
	case CategoryFood:
		return convertFood(qty, unit, text)
	case CategoryToilet:
		return convertToilet(qty, unit)
	default:
		return Conversion{Qty: qty, Unit: passUnit(rawUnit), Kind: KindStock}, nil
	}
}

func convertWater(qty decimal.Decimal, unit, text string) (Conversion, error) {
	out := func(q decimal.Decimal) (Conversion, error) {
		return Conversion{Qty: q, Unit: UnitLiters, Kind: KindStock}, nil
	}
	switch {
	case literUnits[unit]:
		return out(qty)
	case mlUnits[unit]:
		return out(qty.Div(thousand))
	case cubicUnits[unit]:
		return out(qty.Mul(thousand))
	case pieceUnits[unit]:
		vol, ok := parseVolumeLiters(text)
		if !ok {
			return Conversion{}, &ConversionError{Category: CategoryWater, Unit: unit,
				Reason: "per-container volume not found in name or memo"}
		}
		return out(qty.Mul(vol))
	case packUnits[unit]:
		vol, okVol := parseVolumeLiters(text)
		count, okCount := parsePackCount(text)
		if !okVol || !okCount {
			return Conversion{}, &ConversionError{Category: CategoryWater, Unit: unit,
				Reason: "box conversion needs both per-container volume and pack count"}
		}
		return out(qty.Mul(vol).Mul(count))
	default:
		return Conversion{}, &ConversionError{Category: CategoryWater, Unit: unit,
			Reason: "no conversion to liters"}
	}
}

func convertFood(qty decimal.Decimal, unit, text string) (Conversion, error) {
	switch {
	case mealUnits[unit]:
		return Conversion{Qty: qty, Unit: UnitMeals, Kind: KindStock}, nil
	case mealPacks[unit]:
		count, ok := parseMealCount(text)
		if !ok {
			return Conversion{}, &ConversionError{Category: CategoryFood, Unit: unit,
				Reason: "meal count per container not found in name or memo"}
		}
		return Conversion{Qty: qty.Mul(count), Unit: UnitMeals, Kind: KindStock}, nil
	default:
		return Conversion{}, &ConversionError{Category: CategoryFood, Unit: unit,
			Reason: "no conversion to meals"}
	}
}

func convertToilet(qty decimal.Decimal, unit string) (Conversion, error) {
	switch {
	case useUnits[unit]:
		return Conversion{Qty: qty, Unit: UnitUses, Kind: KindStock}, nil
	case boothUnits[unit]:
		// Durable fixtures: own bucket, never merged into the uses total.
		return Conversion{Qty: qty, Unit: UnitBooths, Kind: KindCapacity}, nil
	default:
		return Conversion{}, &ConversionError{Category: CategoryToilet, Unit: unit,
			Reason: "no conversion to uses"}
	}
}

func passUnit(raw string) Unit {
	return Unit(strings.TrimSpace(raw))
}
