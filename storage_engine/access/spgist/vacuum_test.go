package spgist

import (
	"SpaceDB/storage_engine/access/spgist/opclass"
	"SpaceDB/storage_engine/page"
	"SpaceDB/types"
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chainPage builds a leaf page holding one chain 1 -> 2 -> ... -> n whose tuples point
// at rowFor(1..n), and returns its block.
func chainPage(t *testing.T, ms *memStore, n int) types.BlockNumber {
	t.Helper()
	pg, err := ms.Extend()
	require.NoError(t, err)
	defer ms.UnlockAndUnpin(pg, page.LockExclusive)

	InitIndexPage(pg, FlagLeaf)
	for i := 1; i <= n; i++ {
		next := types.OffsetNumber(i + 1)
		if i == n {
			next = types.InvalidOffsetNumber
		}
		raw, err := EncodeLeaf(&LeafTuple{Next: next, Key: opclass.EncodePoint(opclass.Point{X: float64(i)}), Row: rowFor(i)})
		require.NoError(t, err)
		_, err = AddItem(pg, raw)
		require.NoError(t, err)
	}
	return pg.Local()
}

func stateAt(t *testing.T, ms *memStore, blk types.BlockNumber, off types.OffsetNumber) TupleState {
	t.Helper()
	raw, err := Item(ms.block(blk), off)
	require.NoError(t, err)
	return TupleStateOf(raw)
}

func rowAt(t *testing.T, ms *memStore, blk types.BlockNumber, off types.OffsetNumber) types.RowPointer {
	t.Helper()
	raw, err := Item(ms.block(blk), off)
	require.NoError(t, err)
	return LeafRow(raw)
}

func nextAt(t *testing.T, ms *memStore, blk types.BlockNumber, off types.OffsetNumber) types.OffsetNumber {
	t.Helper()
	raw, err := Item(ms.block(blk), off)
	require.NoError(t, err)
	return LeafNext(raw)
}

func TestVacuumChainMiddle(t *testing.T) {
	wal := &recordingWAL{}
	ix, ms := newTestIndex(t, opclass.NewQuad(), testPageSize, wal)
	blk := chainPage(t, ms, 3)

	stats, err := ix.BulkDelete(context.Background(), deletedRows{rowFor(2): true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TuplesRemoved)
	assert.Equal(t, int64(2), stats.NumIndexTuples)

	assert.Equal(t, StateLive, stateAt(t, ms, blk, 1))
	assert.Equal(t, StatePlaceholder, stateAt(t, ms, blk, 2))
	assert.Equal(t, StateLive, stateAt(t, ms, blk, 3))
	assert.Equal(t, types.OffsetNumber(3), nextAt(t, ms, blk, 1))
	assert.Equal(t, 1, NPlaceholder(ms.block(blk)))
	assert.Equal(t, 1, wal.kinds()[RecordVacuumLeaf])
}

func TestVacuumChainHead(t *testing.T) {
	ix, ms := newTestIndex(t, opclass.NewQuad(), testPageSize, nil)
	blk := chainPage(t, ms, 3)

	_, err := ix.BulkDelete(context.Background(), deletedRows{rowFor(1): true})
	require.NoError(t, err)

	// the first survivor takes over the head slot the parent points at
	assert.Equal(t, StateLive, stateAt(t, ms, blk, 1))
	assert.Equal(t, rowFor(2), rowAt(t, ms, blk, 1))
	assert.Equal(t, types.OffsetNumber(3), nextAt(t, ms, blk, 1))
	assert.Equal(t, StatePlaceholder, stateAt(t, ms, blk, 2))
}

func TestVacuumChainTail(t *testing.T) {
	ix, ms := newTestIndex(t, opclass.NewQuad(), testPageSize, nil)
	blk := chainPage(t, ms, 3)

	_, err := ix.BulkDelete(context.Background(), deletedRows{rowFor(3): true})
	require.NoError(t, err)

	// the trailing placeholder is trimmed
	assert.Equal(t, types.OffsetNumber(2), MaxOffset(ms.block(blk)))
	assert.Equal(t, types.InvalidOffsetNumber, nextAt(t, ms, blk, 2))
	assert.Equal(t, 0, NPlaceholder(ms.block(blk)))
}

func TestVacuumWholeChain(t *testing.T) {
	ix, ms := newTestIndex(t, opclass.NewQuad(), testPageSize, nil)
	blk := chainPage(t, ms, 3)

	stats, err := ix.BulkDelete(context.Background(), deletedRows{rowFor(1): true, rowFor(2): true, rowFor(3): true})
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TuplesRemoved)
	assert.Zero(t, stats.NumIndexTuples)

	// the head stays behind as Dead so the parent downlink stays valid
	assert.Equal(t, types.OffsetNumber(1), MaxOffset(ms.block(blk)))
	assert.Equal(t, StateDead, stateAt(t, ms, blk, 1))
}

func TestVacuumRootLeaf(t *testing.T) {
	wal := &recordingWAL{}
	ix, ms := newTestIndex(t, opclass.NewQuad(), testPageSize, wal)
	for i := 0; i < 5; i++ {
		insertPoint(t, ix, opclass.Point{X: float64(i), Y: 1}, i)
	}

	stats, err := ix.BulkDelete(context.Background(), deletedRows{rowFor(0): true, rowFor(3): true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TuplesRemoved)
	assert.Equal(t, int64(3), stats.NumIndexTuples)

	// root leaf slots are removed outright
	assert.Equal(t, types.OffsetNumber(3), MaxOffset(ms.block(RootBlock)))
	assert.Equal(t, 1, wal.kinds()[RecordVacuumRoot])
}

func TestVacuumAccounting(t *testing.T) {
	ix, _ := newTestIndex(t, opclass.NewQuad(), testPageSize, nil)
	pts := randomPoints(1500, 21)
	for i, p := range pts {
		insertPoint(t, ix, p, i)
	}

	gone := deletedRows{}
	for i := 0; i < len(pts); i += 3 {
		gone[rowFor(i)] = true
	}
	stats, err := ix.BulkDelete(context.Background(), gone)
	require.NoError(t, err)
	assert.Equal(t, int64(len(gone)), stats.TuplesRemoved)
	assert.Equal(t, int64(len(pts)-len(gone)), stats.NumIndexTuples)

	rows := collectRows(t, ix, Query{})
	assert.Len(t, rows, len(pts)-len(gone))
	for r := range gone {
		assert.NotContains(t, rows, r)
	}

	// nothing left to remove
	stats, err = ix.BulkDelete(context.Background(), gone)
	require.NoError(t, err)
	assert.Zero(t, stats.TuplesRemoved)
	assert.Equal(t, int64(len(pts)-len(gone)), stats.NumIndexTuples)
}

func TestVacuumAgesRedirects(t *testing.T) {
	ix, ms := newTestIndex(t, opclass.NewQuad(), testPageSize, nil)
	pts := randomPoints(1500, 4)
	for i, p := range pts {
		insertPoint(t, ix, p, i)
	}
	countRedirects := func() int {
		summary, err := ix.InspectPages()
		require.NoError(t, err)
		n := 0
		for _, s := range summary {
			n += s.Redirect
		}
		return n
	}
	require.Positive(t, countRedirects())

	// without a horizon every redirect is kept
	_, err := ix.VacuumCleanup(context.Background())
	require.NoError(t, err)
	require.Positive(t, countRedirects())

	// a horizon past every inserting transaction frees them all
	aged, err := Open("test", ms, opclass.NewQuad(), Options{Horizon: fixedHorizon(uint64(len(pts) + 1))})
	require.NoError(t, err)
	_, err = aged.VacuumCleanup(context.Background())
	require.NoError(t, err)
	assert.Zero(t, countRedirects())
	assert.Len(t, collectRows(t, aged, Query{}), len(pts))
}

// countingOracle reports rows in gone as deleted and counts how often each row is asked.
type countingOracle struct {
	gone  deletedRows
	calls map[types.RowPointer]int
}

func (o *countingOracle) IsRowDeleted(r types.RowPointer) bool {
	o.calls[r]++
	return o.gone[r]
}

// redirectPage adds a leaf page holding one Redirect to target stamped with xid.
func redirectPage(t *testing.T, ms *memStore, target types.ItemPointer, xid uint64) types.BlockNumber {
	t.Helper()
	pg, err := ms.Extend()
	require.NoError(t, err)
	defer ms.UnlockAndUnpin(pg, page.LockExclusive)

	InitIndexPage(pg, FlagLeaf)
	_, err = AddItem(pg, EncodeDead(StateRedirect, target, xid))
	require.NoError(t, err)
	bumpDeadCounter(pg, StateRedirect)
	return pg.Local()
}

func TestVacuumChasesRecentRedirect(t *testing.T) {
	cases := []struct {
		name     string
		horizon  uint64
		row1Seen int
	}{
		// the mover may still be running, so the already scanned target is visited again
		{"recent", 10, 2},
		{"aged", 30, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, ms := newTestIndex(t, opclass.NewQuad(), testPageSize, nil)
			blk := chainPage(t, ms, 3)
			from := redirectPage(t, ms, types.ItemPointer{Block: blk, Offset: 1}, 20)
			require.Greater(t, from, blk)

			opts := testOptions(nil)
			opts.Horizon = fixedHorizon(tc.horizon)
			ix, err := Open("test", ms, opclass.NewQuad(), opts)
			require.NoError(t, err)

			oracle := &countingOracle{gone: deletedRows{rowFor(2): true}, calls: map[types.RowPointer]int{}}
			stats, err := ix.BulkDelete(context.Background(), oracle)
			require.NoError(t, err)

			assert.Equal(t, int64(1), stats.TuplesRemoved)
			assert.Equal(t, int64(2), stats.NumIndexTuples, "a revisited page is not counted twice")
			assert.Equal(t, tc.row1Seen, oracle.calls[rowFor(1)])
			assert.Equal(t, StatePlaceholder, stateAt(t, ms, blk, 2))
			assert.Equal(t, types.OffsetNumber(3), nextAt(t, ms, blk, 1))
		})
	}
}

func TestVacuumAccountingWithRecentRedirects(t *testing.T) {
	ix, ms := newTestIndex(t, opclass.NewQuad(), testPageSize, nil)
	pts := randomPoints(1500, 21)
	for i, p := range pts {
		insertPoint(t, ix, p, i)
	}
	const horizon = 750

	recent := 0
	n, err := ms.NumBlocks()
	require.NoError(t, err)
	for blk := MetaBlock + 1; blk < n; blk++ {
		pg := ms.block(blk)
		if IsNewPage(pg) || !IsLeafPage(pg) {
			continue
		}
		for off := types.FirstOffsetNumber; off <= MaxOffset(pg); off++ {
			raw, err := Item(pg, off)
			require.NoError(t, err)
			if TupleStateOf(raw) != StateRedirect {
				continue
			}
			dt, err := DecodeDead(raw)
			require.NoError(t, err)
			if dt.Xid >= horizon {
				recent++
			}
		}
	}
	require.Positive(t, recent, "no leaf redirect left by a transaction at or past the horizon")

	summary, err := ix.InspectPages()
	require.NoError(t, err)
	liveBefore := 0
	for _, s := range summary {
		if s.Kind == "leaf" {
			liveBefore += s.Live
		}
	}
	require.Equal(t, len(pts), liveBefore)

	opts := testOptions(nil)
	opts.Horizon = fixedHorizon(horizon)
	aged, err := Open("test", ms, opclass.NewQuad(), opts)
	require.NoError(t, err)

	gone := deletedRows{}
	for i := 0; i < len(pts); i += 3 {
		gone[rowFor(i)] = true
	}
	stats, err := aged.BulkDelete(context.Background(), gone)
	require.NoError(t, err)
	assert.Equal(t, int64(len(gone)), stats.TuplesRemoved)
	assert.Equal(t, int64(liveBefore), stats.TuplesRemoved+stats.NumIndexTuples)
	assert.Len(t, collectRows(t, aged, Query{}), liveBefore-len(gone))
}

func TestVacuumRecordsFreePages(t *testing.T) {
	ix, ms := newTestIndex(t, opclass.NewQuad(), testPageSize, nil)
	pg, err := ms.Extend()
	require.NoError(t, err)
	InitIndexPage(pg, FlagLeaf)
	blk := pg.Local()
	ms.UnlockAndUnpin(pg, page.LockExclusive)

	stats, err := ix.VacuumCleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.PagesFree)

	got, ok := ms.TakeFree()
	require.True(t, ok)
	assert.Equal(t, blk, got)
}

func TestVacuumCancelled(t *testing.T) {
	ix, _ := newTestIndex(t, opclass.NewQuad(), testPageSize, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ix.BulkDelete(ctx, deletedRows{})
	assert.True(t, errors.Is(err, ErrCancelled))
}
