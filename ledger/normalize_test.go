package ledger_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bousai/stockpile-engine/ledger"
)

// =============================================================================
// NAME NORMALIZATION
// =============================================================================

func TestNormalizeName_WidthAndCaseFolding(t *testing.T) {
	// Full-width latin, mixed case, and ragged whitespace all collapse to
	// the same comparison key.
	variants := []string{
		"保存水　２Ｌ",
		"保存水 2L",
		"保存水  2l",
		"  保存水 2L  ",
	}
	want := ledger.NormalizeName(variants[0])
	require.NotEmpty(t, want)
	for _, v := range variants {
		assert.Equal(t, want, ledger.NormalizeName(v), "variant %q", v)
	}
}

func TestNormalizeName_EmptyAfterFolding(t *testing.T) {
	assert.Equal(t, "", ledger.NormalizeName("   　  "))
}

// =============================================================================
// CATEGORY / DUE DATE NORMALIZATION
// =============================================================================

func TestNormalizeCategory(t *testing.T) {
	cases := map[string]ledger.Category{
		"water":        ledger.CategoryWater,
		"飲料水":          ledger.CategoryWater,
		"主食":           ledger.CategoryFood,
		"アルファ米・食料":     ledger.CategoryFood,
		"トイレ・衛生":       ledger.CategoryToilet,
		"乳幼児用品":        ledger.CategoryInfant,
		"毛布・寝具":        ledger.CategoryBedding,
		"資機材":          ledger.CategoryEquipment,
		"equipment":    ledger.CategoryEquipment,
		"":             ledger.CategoryOther,
		"謎のカテゴリ":       ledger.CategoryOther,
	}
	for raw, want := range cases {
		assert.Equal(t, want, ledger.NormalizeCategory(raw), "raw %q", raw)
	}
}

func TestNormalizeDueDate(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"2026-03-01", "2026-03-01"},
		{"2026/3/1", "2026-03-01"},
		{"2026.03.01", "2026-03-01"},
		{"2026年3月1日", "2026-03-01"},
		{"２０２６－０３－０１", "2026-03-01"}, // full-width digits fold first
		{"2026-03-01T00:00:00Z", "2026-03-01"},
	}
	for _, tc := range cases {
		iso, note := ledger.NormalizeDueDate(tc.raw)
		assert.Equal(t, tc.want, iso, "raw %q", tc.raw)
		assert.Empty(t, note, "raw %q", tc.raw)
	}
}

func TestNormalizeDueDate_UnparseableDegrades(t *testing.T) {
	iso, note := ledger.NormalizeDueDate("来年の春ごろ")
	assert.Equal(t, "", iso)
	assert.Contains(t, note, "来年の春ごろ")
}

func TestNormalizeDueDate_RejectsImpossibleDate(t *testing.T) {
	iso, _ := ledger.NormalizeDueDate("2026/13/45")
	assert.Equal(t, "", iso)
}

// =============================================================================
// ENTRY BUILDING
// =============================================================================

func TestBuildEntry_CanonicalIdentity(t *testing.T) {
	now := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)

	entry, err := ledger.BuildEntry(ledger.Candidate{
		Name:     "保存水　２Ｌ",
		Qty:      decimal.NewFromInt(6),
		Unit:     "本",
		Category: "飲料水",
		DueType:  "expiry",
		DueDate:  "2027/3/1",
		Memo:     " 3階倉庫 ",
	}, now)
	require.NoError(t, err)

	assert.Equal(t, "保存水　２Ｌ", entry.Name) // display form keeps original width
	assert.Equal(t, ledger.NormalizeName("保存水 2L"), entry.NameNorm)
	assert.Equal(t, "12", entry.Qty.String())
	assert.Equal(t, ledger.UnitLiters, entry.Unit)
	assert.Equal(t, ledger.CategoryWater, entry.Category)
	assert.Equal(t, ledger.KindStock, entry.Kind)
	assert.Equal(t, ledger.DueExpiry, entry.DueType)
	assert.Equal(t, "2027-03-01", entry.DueDate)
	assert.Equal(t, "3階倉庫", entry.Memo)
	assert.Equal(t, now, entry.CreatedAt)
}

func TestBuildEntry_EmptyNameFails(t *testing.T) {
	_, err := ledger.BuildEntry(ledger.Candidate{
		Name: "　 ",
		Qty:  decimal.NewFromInt(1),
		Unit: "個",
	}, time.Now())

	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrEmptyName))
	assert.True(t, ledger.IsValidation(err))
}

func TestBuildEntry_NegativeQtyFails(t *testing.T) {
	_, err := ledger.BuildEntry(ledger.Candidate{
		Name: "毛布",
		Qty:  decimal.NewFromInt(-3),
		Unit: "枚",
	}, time.Now())
	assert.True(t, errors.Is(err, ledger.ErrNegativeQty))
}

func TestBuildEntry_BadDueDateDegradesToMemoNote(t *testing.T) {
	// An unparseable due date never blocks the record: the date is dropped,
	// the due type resets to none, and the memo records why.
	entry, err := ledger.BuildEntry(ledger.Candidate{
		Name:     "乾パン",
		Qty:      decimal.NewFromInt(10),
		Unit:     "食",
		Category: "food",
		DueType:  "expiry",
		DueDate:  "だいたい再来年",
		Memo:     "備蓄棚A",
	}, time.Now())
	require.NoError(t, err)

	assert.Equal(t, ledger.DueNone, entry.DueType)
	assert.Equal(t, "", entry.DueDate)
	assert.True(t, strings.HasPrefix(entry.Memo, "備蓄棚A / "))
	assert.Contains(t, entry.Memo, "だいたい再来年")
}

func TestBuildEntry_DueDateClearedWhenTypeNone(t *testing.T) {
	entry, err := ledger.BuildEntry(ledger.Candidate{
		Name:    "軍手",
		Qty:     decimal.NewFromInt(50),
		Unit:    "組",
		DueType: "none",
		DueDate: "2027-01-01",
	}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, ledger.DueNone, entry.DueType)
	assert.Equal(t, "", entry.DueDate)
}

func TestBuildEntry_KeySeparatesByDueDate(t *testing.T) {
	now := time.Now()
	base := ledger.Candidate{
		Name:     "アルファ米",
		Qty:      decimal.NewFromInt(50),
		Unit:     "食",
		Category: "主食",
		DueType:  "expiry",
	}

	a := base
	a.DueDate = "2026-06-01"
	b := base
	b.DueDate = "2027-06-01"

	ea, err := ledger.BuildEntry(a, now)
	require.NoError(t, err)
	eb, err := ledger.BuildEntry(b, now)
	require.NoError(t, err)

	assert.NotEqual(t, ea.Key(), eb.Key())
}
