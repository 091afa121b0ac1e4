package storageengine

import (
	"SpaceDB/storage_engine/access/spgist"
	"SpaceDB/storage_engine/access/spgist/opclass"
	"SpaceDB/types"
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openEngine(t *testing.T, dir string) *StorageEngine {
	t.Helper()
	cfg := DefaultConfig(dir)
	cfg.BufferPoolPages = 512
	se, err := NewStorageEngine(cfg)
	require.NoError(t, err)
	return se
}

// crash drops the engine without flushing a single buffered page.
func crash(t *testing.T, se *StorageEngine) {
	t.Helper()
	require.NoError(t, se.WalManager.Sync())
	require.NoError(t, se.WalManager.Close())
	require.NoError(t, se.DiskManager.CloseAll())
}

func row(i int) types.RowPointer {
	return types.RowPointer{FileID: 100, PageNumber: uint32(i / 50), SlotIndex: uint16(i % 50)}
}

func testPoints(n int, seed uint64) []opclass.Point {
	r := rand.New(rand.NewPCG(seed, seed+1))
	pts := make([]opclass.Point, n)
	for i := range pts {
		pts[i] = opclass.Point{X: r.Float64() * 1000, Y: r.Float64() * 1000}
	}
	return pts
}

func insertPoints(t *testing.T, se *StorageEngine, index string, pts []opclass.Point, from int) {
	t.Helper()
	tx := se.BeginTransaction()
	for i, p := range pts {
		require.NoError(t, se.InsertPoint(context.Background(), tx, index, p, row(from+i)))
	}
	require.NoError(t, se.CommitTransaction(tx))
}

func countAll(t *testing.T, se *StorageEngine, index string) int {
	t.Helper()
	matches, err := se.Search(context.Background(), index, spgist.Query{})
	require.NoError(t, err)
	return len(matches)
}

func TestCreateInsertReopen(t *testing.T) {
	dir := t.TempDir()
	se := openEngine(t, dir)
	_, err := se.CreateIndex("places", opclass.QuadName)
	require.NoError(t, err)

	pts := testPoints(800, 1)
	insertPoints(t, se, "places", pts, 0)
	require.NoError(t, se.Close())

	se = openEngine(t, dir)
	defer se.Close()
	assert.Equal(t, len(pts), countAll(t, se, "places"))

	target := opclass.Point{X: 500, Y: 500}
	dists := make([]float64, len(pts))
	for i, p := range pts {
		dists[i] = opclass.PointDistance(p, target)
	}
	sort.Float64s(dists)

	got, err := se.Nearest(context.Background(), "places", target, 5)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, m := range got {
		assert.InDelta(t, dists[i], m.Distance, 1e-9)
	}
}

func TestCreateIndexValidation(t *testing.T) {
	se := openEngine(t, t.TempDir())
	defer se.Close()

	_, err := se.CreateIndex("shapes", "rtree")
	assert.ErrorIs(t, err, opclass.ErrUnknownPolicy)
	assert.False(t, se.CatalogManager.IndexExists("shapes"))

	_, err = se.CreateIndex("", opclass.QuadName)
	assert.Error(t, err)

	_, err = se.CreateIndex("places", opclass.KDName)
	require.NoError(t, err)
	_, err = se.CreateIndex("places", opclass.QuadName)
	assert.Error(t, err)
}

func TestRecoverAfterCrash(t *testing.T) {
	dir := t.TempDir()
	se := openEngine(t, dir)
	_, err := se.CreateIndex("places", opclass.KDName)
	require.NoError(t, err)
	_, err = se.CreateIndex("words", opclass.RadixName)
	require.NoError(t, err)

	pts := testPoints(1200, 2)
	insertPoints(t, se, "places", pts[:600], 0)
	require.NoError(t, se.Checkpoint())

	// nothing below reaches the index files before the crash
	tx := se.BeginTransaction()
	for i, p := range pts[600:] {
		require.NoError(t, se.InsertPoint(context.Background(), tx, "places", p, row(600+i)))
	}
	for i := 0; i < 400; i++ {
		e := spgist.Entry{Key: []byte(fmt.Sprintf("street-%03d", i)), Row: row(i)}
		require.NoError(t, se.Insert(context.Background(), tx, "words", e))
	}
	crash(t, se)

	se = openEngine(t, dir)
	defer se.Close()
	assert.Equal(t, len(pts), countAll(t, se, "places"))
	assert.Equal(t, 400, countAll(t, se, "words"))

	matches, err := se.Search(context.Background(), "words", spgist.Query{
		Keys:       []opclass.ScanKey{{Strategy: opclass.StrategyPrefix, Arg: opclass.Datum("street-01")}},
		ReturnData: true,
	})
	require.NoError(t, err)
	require.Len(t, matches, 10)
	for _, m := range matches {
		assert.Contains(t, string(m.Key), "street-01")
	}
}

func TestRecoverTwice(t *testing.T) {
	dir := t.TempDir()
	se := openEngine(t, dir)
	_, err := se.CreateIndex("places", opclass.QuadName)
	require.NoError(t, err)
	tx := se.BeginTransaction()
	for i, p := range testPoints(300, 3) {
		require.NoError(t, se.InsertPoint(context.Background(), tx, "places", p, row(i)))
	}
	crash(t, se)

	// the first recovery crashes again before flushing
	se = openEngine(t, dir)
	assert.Equal(t, 300, countAll(t, se, "places"))
	crash(t, se)

	se = openEngine(t, dir)
	defer se.Close()
	assert.Equal(t, 300, countAll(t, se, "places"))
}

func TestAbortAndVacuum(t *testing.T) {
	se := openEngine(t, t.TempDir())
	defer se.Close()
	_, err := se.CreateIndex("places", opclass.QuadName)
	require.NoError(t, err)

	insertPoints(t, se, "places", testPoints(500, 4), 0)

	tx := se.BeginTransaction()
	for i, p := range testPoints(200, 5) {
		require.NoError(t, se.InsertPoint(context.Background(), tx, "places", p, row(500+i)))
	}
	require.NoError(t, se.AbortTransaction(tx))
	assert.True(t, se.IsRowDeleted(row(500)))

	// aborted rows are hidden before vacuum gets to them
	assert.Equal(t, 500, countAll(t, se, "places"))

	stats, err := se.VacuumAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(200), stats["places"].TuplesRemoved)
	assert.Equal(t, int64(500), stats["places"].NumIndexTuples)
	assert.False(t, se.IsRowDeleted(row(500)))

	ix, err := se.GetIndex("places")
	require.NoError(t, err)
	n := 0
	require.NoError(t, ix.Search(context.Background(), spgist.Query{}, func(spgist.Match) bool {
		n++
		return true
	}))
	assert.Equal(t, 500, n)
}

func TestNearestSkipsDeadRows(t *testing.T) {
	se := openEngine(t, t.TempDir())
	defer se.Close()
	_, err := se.CreateIndex("line", opclass.KDName)
	require.NoError(t, err)

	pts := make([]opclass.Point, 50)
	for i := range pts {
		pts[i] = opclass.Point{X: float64(i)}
	}
	insertPoints(t, se, "line", pts, 0)
	for i := 0; i < 5; i++ {
		se.DeleteRow(row(i))
	}

	got, err := se.Nearest(context.Background(), "line", opclass.Point{}, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, m := range got {
		assert.Equal(t, row(5+i), m.Row)
	}
}

func TestDropIndex(t *testing.T) {
	dir := t.TempDir()
	se := openEngine(t, dir)
	_, err := se.CreateIndex("places", opclass.QuadName)
	require.NoError(t, err)
	insertPoints(t, se, "places", testPoints(100, 6), 0)
	path := se.IndexManager.IndexPath("places")

	require.NoError(t, se.DropIndex("places"))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	_, err = se.GetIndex("places")
	assert.Error(t, err)
	assert.Error(t, se.DropIndex("places"))

	// a new index under the old name starts empty with a fresh file id
	_, err = se.CreateIndex("places", opclass.KDName)
	require.NoError(t, err)
	entry, err := se.CatalogManager.GetIndex("places")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), entry.FileID)
	assert.Zero(t, countAll(t, se, "places"))
	crash(t, se)

	// replay skips the records of the dropped file
	se = openEngine(t, dir)
	defer se.Close()
	assert.Zero(t, countAll(t, se, "places"))
}
