package csvio_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bousai/stockpile-engine/csvio"
	"github.com/bousai/stockpile-engine/ledger"
)

func TestExportFilename(t *testing.T) {
	stamp := time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)
	assert.Equal(t, "stock_20260401_0930.csv", csvio.ExportFilename(stamp))
}

func TestWrite_StableColumnOrder(t *testing.T) {
	now := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	entries := []ledger.StockEntry{{
		Name:      "保存水 500ml",
		NameNorm:  "保存水 500ml",
		Qty:       decimal.NewFromInt(12),
		Unit:      ledger.UnitLiters,
		Category:  ledger.CategoryWater,
		Kind:      ledger.KindStock,
		DueType:   ledger.DueExpiry,
		DueDate:   "2027-03-01",
		Memo:      "3階倉庫",
		CreatedAt: now,
		UpdatedAt: now,
	}}

	var buf bytes.Buffer
	require.NoError(t, csvio.Write(&buf, entries))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t,
		"name,qty,unit,category,item_kind,subtype,due_type,due_date,memo,created_at,updated_at",
		lines[0])
	assert.Equal(t,
		"保存水 500ml,12,L,water,stock,,expiry,2027-03-01,3階倉庫,2026-01-15T09:00:00Z,2026-01-15T09:00:00Z",
		lines[1])
}

func TestRead_ColumnsInAnyOrder(t *testing.T) {
	in := strings.NewReader(
		"category,name,qty,unit\n" +
			"飲料水,保存水 500ml,24,本\n" +
			"主食,アルファ米,50,食\n")

	cands, broken, err := csvio.Read(in)
	require.NoError(t, err)
	assert.Empty(t, broken)
	require.Len(t, cands, 2)

	assert.Equal(t, "保存水 500ml", cands[0].Name)
	assert.Equal(t, "24", cands[0].Qty.String())
	assert.Equal(t, "本", cands[0].Unit)
	assert.Equal(t, "飲料水", cands[0].Category)
}

func TestRead_BadQtyIsPerRecordError(t *testing.T) {
	in := strings.NewReader(
		"name,qty\n" +
			"保存水,24\n" +
			"カセットコンロ,たくさん\n" +
			"毛布,40\n")

	cands, broken, err := csvio.Read(in)
	require.NoError(t, err)
	require.Len(t, cands, 2)
	require.Len(t, broken, 1)
	assert.Equal(t, "カセットコンロ", broken[0].Candidate.Name)
	assert.Contains(t, broken[0].Reason, "line 3")
	assert.Contains(t, broken[0].Reason, "たくさん")
}

func TestRead_StructuralFailures(t *testing.T) {
	// Header without a name column.
	_, _, err := csvio.Read(strings.NewReader("qty,unit\n24,本\n"))
	require.Error(t, err)

	// A ragged row is a structural error, not a record error.
	_, _, err = csvio.Read(strings.NewReader("name,qty\n保存水,24,extra\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestRoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	entry := ledger.StockEntry{
		Name: "アルファ米", Qty: decimal.NewFromInt(50), Unit: ledger.UnitMeals,
		Category: ledger.CategoryFood, Kind: ledger.KindStock,
		DueType: ledger.DueExpiry, DueDate: "2027-06-01",
		CreatedAt: now, UpdatedAt: now,
	}

	var buf bytes.Buffer
	require.NoError(t, csvio.Write(&buf, []ledger.StockEntry{entry}))

	cands, broken, err := csvio.Read(&buf)
	require.NoError(t, err)
	assert.Empty(t, broken)
	require.Len(t, cands, 1)
	assert.Equal(t, entry.Name, cands[0].Name)
	assert.Equal(t, "50", cands[0].Qty.String())
	assert.Equal(t, string(entry.DueType), cands[0].DueType)
	assert.Equal(t, entry.DueDate, cands[0].DueDate)
}
