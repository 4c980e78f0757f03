package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bousai/stockpile-engine/ledger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "stock.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func water500ml(qty int64) ledger.Candidate {
	return ledger.Candidate{
		Name:     "保存水 500ml",
		Qty:      decimal.NewFromInt(qty),
		Unit:     "本",
		Category: "飲料水",
	}
}

// =============================================================================
// MERGE-UPSERT
// =============================================================================

func TestMergeUpsert_InsertThenMerge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// WHEN: the same observation arrives twice
	first, merged, err := store.MergeUpsert(ctx, water500ml(24))
	require.NoError(t, err)
	assert.False(t, merged)
	assert.Equal(t, "12", first.Qty.String())

	second, merged, err := store.MergeUpsert(ctx, water500ml(24))
	require.NoError(t, err)
	assert.True(t, merged)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "24", second.Qty.String())

	// THEN: exactly one row exists
	all, err := store.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "24", all[0].Qty.String())
}

func TestMergeUpsert_OrderIndependentTotals(t *testing.T) {
	// GIVEN: the same two observations in opposite orders on two ledgers
	a := ledger.Candidate{Name: "保存水", Qty: decimal.NewFromInt(5), Unit: "L", Category: "water"}
	b := ledger.Candidate{Name: "保存水", Qty: decimal.NewFromInt(500), Unit: "ml", Category: "water"}

	ctx := context.Background()
	forward, backward := newTestStore(t), newTestStore(t)

	for _, c := range []ledger.Candidate{a, b} {
		_, _, err := forward.MergeUpsert(ctx, c)
		require.NoError(t, err)
	}
	for _, c := range []ledger.Candidate{b, a} {
		_, _, err := backward.MergeUpsert(ctx, c)
		require.NoError(t, err)
	}

	// THEN: both collapse to one row with the exact liter sum
	for _, store := range []*Store{forward, backward} {
		all, err := store.All(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, "5.5", all[0].Qty.String())
		assert.Equal(t, ledger.UnitLiters, all[0].Unit)
	}
}

func TestMergeUpsert_DueDateSeparatesRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := ledger.Candidate{
		Name:     "アルファ米",
		Qty:      decimal.NewFromInt(50),
		Unit:     "食",
		Category: "主食",
		DueType:  "expiry",
	}
	lotA, lotB := base, base
	lotA.DueDate = "2026-06-01"
	lotB.DueDate = "2027-06-01"

	for _, c := range []ledger.Candidate{lotA, lotB} {
		_, merged, err := store.MergeUpsert(ctx, c)
		require.NoError(t, err)
		assert.False(t, merged)
	}

	all, err := store.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMergeUpsert_MemoBackfillsEmptyOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	c := water500ml(24)
	c.Memo = "3階倉庫"
	_, _, err := store.MergeUpsert(ctx, c)
	require.NoError(t, err)

	// A later duplicate with a different memo does not overwrite.
	c.Memo = "別の場所"
	entry, merged, err := store.MergeUpsert(ctx, c)
	require.NoError(t, err)
	assert.True(t, merged)
	assert.Equal(t, "3階倉庫", entry.Memo)
}

func TestMergeUpsert_UnconvertibleRejected(t *testing.T) {
	store := newTestStore(t)

	_, _, err := store.MergeUpsert(context.Background(), ledger.Candidate{
		Name:     "洗面器",
		Qty:      decimal.NewFromInt(3),
		Unit:     "basin",
		Category: "water",
	})

	require.Error(t, err)
	assert.True(t, ledger.IsValidation(err))

	all, err := store.All(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

// =============================================================================
// BATCH IMPORT
// =============================================================================

func batchCandidates() []ledger.Candidate {
	return []ledger.Candidate{
		water500ml(24),
		{Name: "洗面器", Qty: decimal.NewFromInt(3), Unit: "basin", Category: "water"},
		{Name: "アルファ米", Qty: decimal.NewFromInt(50), Unit: "食", Category: "food"},
		water500ml(24),
	}
}

func TestMergeBatch_PartialKeepsGoodRecords(t *testing.T) {
	store := newTestStore(t)

	result, err := store.MergeBatch(context.Background(), batchCandidates(), false)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Inserted)
	assert.Equal(t, 1, result.Merged)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "洗面器", result.Errors[0].Candidate.Name)

	all, err := store.All(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMergeBatch_AtomicRejectsWholeBatch(t *testing.T) {
	store := newTestStore(t)

	_, err := store.MergeBatch(context.Background(), batchCandidates(), true)
	require.Error(t, err)
	assert.True(t, ledger.IsValidation(err))

	all, err := store.All(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

// =============================================================================
// DELETE / CLEAR / PHOTOS
// =============================================================================

func TestDelete_RemovesRowAndPhotos(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entry, _, err := store.MergeUpsert(ctx, water500ml(24))
	require.NoError(t, err)
	require.NoError(t, store.AttachPhoto(ctx, entry.ID, "photos/water.jpg"))

	require.NoError(t, store.Delete(ctx, entry.ID))

	all, err := store.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	photos, err := store.Photos(ctx, entry.ID)
	require.NoError(t, err)
	assert.Empty(t, photos)
}

func TestDelete_MissingRowIsNotFound(t *testing.T) {
	store := newTestStore(t)
	err := store.Delete(context.Background(), 9999)
	assert.True(t, errors.Is(err, ledger.ErrNotFound))
}

func TestClear_EmptiesLedger(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, _, err := store.MergeUpsert(ctx, water500ml(24))
	require.NoError(t, err)
	require.NoError(t, store.Clear(ctx))

	all, err := store.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestAll_NewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	names := []string{"毛布", "懐中電灯", "軍手"}
	for _, name := range names {
		_, _, err := store.MergeUpsert(ctx, ledger.Candidate{
			Name: name, Qty: decimal.NewFromInt(1), Unit: "個",
		})
		require.NoError(t, err)
	}

	all, err := store.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "軍手", all[0].Name)
	assert.Equal(t, "毛布", all[2].Name)
}

// =============================================================================
// AGGREGATION
// =============================================================================

func TestCategoryAggregates_ExcludesCapacityByDefault(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, _, err := store.MergeUpsert(ctx, water500ml(24)) // 12 L stock
	require.NoError(t, err)
	_, _, err = store.MergeUpsert(ctx, ledger.Candidate{
		Name: "給水タンク", Qty: decimal.NewFromInt(2), Unit: "台",
		Category: "water", Kind: "capacity",
	})
	require.NoError(t, err)

	aggs, err := store.CategoryAggregates(ctx, false)
	require.NoError(t, err)
	require.Len(t, aggs, 1)
	assert.Equal(t, ledger.CategoryWater, aggs[0].Category)
	assert.Equal(t, 1, aggs[0].Count)
	assert.Equal(t, "12", aggs[0].TotalQty.String())

	withCap, err := store.CategoryAggregates(ctx, true)
	require.NoError(t, err)
	require.Len(t, withCap, 1)
	assert.Equal(t, 2, withCap[0].Count)
	assert.Equal(t, "14", withCap[0].TotalQty.String())
}

func TestExpiryBuckets_Edges(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	today := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	add := func(name, due string) {
		t.Helper()
		_, _, err := store.MergeUpsert(ctx, ledger.Candidate{
			Name: name, Qty: decimal.NewFromInt(1), Unit: "食",
			Category: "food", DueType: "expiry", DueDate: due,
		})
		require.NoError(t, err)
	}
	add("期限切れ", "2026-03-31")
	add("当日", "2026-04-01") // today is not expired
	add("30日後", "2026-05-01")
	add("31日後", "2026-05-02")
	add("90日後", "2026-06-30")
	add("91日後", "2026-07-01")

	// An undated row never lands in any bucket.
	_, _, err := store.MergeUpsert(ctx, ledger.Candidate{
		Name: "乾パン", Qty: decimal.NewFromInt(10), Unit: "食", Category: "food",
	})
	require.NoError(t, err)

	buckets, err := store.ExpiryBuckets(ctx, today)
	require.NoError(t, err)
	assert.Equal(t, 1, buckets.Expired)  // 3/31 only
	assert.Equal(t, 2, buckets.Within30) // today and +30d
	assert.Equal(t, 2, buckets.Within90) // +31d and +90d
}

func TestToiletBreakdown_UsesAndBoothsNeverCombined(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, _, err := store.MergeUpsert(ctx, ledger.Candidate{
		Name: "携帯トイレ", Qty: decimal.NewFromInt(300), Unit: "回", Category: "toilet",
	})
	require.NoError(t, err)
	_, _, err = store.MergeUpsert(ctx, ledger.Candidate{
		Name: "仮設トイレ", Qty: decimal.NewFromInt(4), Unit: "基",
		Category: "toilet", Subtype: "portable",
	})
	require.NoError(t, err)
	_, _, err = store.MergeUpsert(ctx, ledger.Candidate{
		Name: "便座ユニット", Qty: decimal.NewFromInt(2), Unit: "台", Category: "toilet",
	})
	require.NoError(t, err)

	breakdown, err := store.ToiletBreakdown(ctx)
	require.NoError(t, err)
	assert.Equal(t, "300", breakdown.Uses.String())
	assert.Equal(t, "4", breakdown.Booths["portable"].String())
	assert.Equal(t, "2", breakdown.Booths[ledger.SubtypeOtherGear].String())
}
