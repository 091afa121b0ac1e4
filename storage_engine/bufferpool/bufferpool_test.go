package bufferpool

import (
	diskmanager "SpaceDB/storage_engine/disk_manager"
	"SpaceDB/types"
	"path/filepath"
	"testing"
)

const testPageSize = 512

func newTestPool(t *testing.T, capacity int) (*BufferPool, *diskmanager.DiskManager) {
	t.Helper()
	dm := diskmanager.NewDiskManager(testPageSize)
	if _, err := dm.OpenFileWithID(filepath.Join(t.TempDir(), "pool.spg"), 1); err != nil {
		t.Fatalf("failed to open file: %v", err)
	}
	t.Cleanup(func() { dm.CloseAll() })
	return NewBufferPool(capacity, dm), dm
}

type fixedWAL struct{ flushed uint64 }

func (w *fixedWAL) GetFlushedLSN() uint64 { return w.flushed }

type syncingWAL struct {
	fixedWAL
	syncs int
}

func (w *syncingWAL) Sync() error {
	w.syncs++
	w.flushed = 1 << 20
	return nil
}

// TestBufferPoolEviction fills a pool of 3 with 4 pages, the first one must be written and evicted
func TestBufferPoolEviction(t *testing.T) {
	bp, _ := newTestPool(t, 3)

	ids := make([]int64, 4)
	for i := range ids {
		pg, err := bp.NewPage(1, types.PageTypeSpLeaf)
		if err != nil {
			t.Fatalf("failed to create page %d: %v", i, err)
		}
		pg.Data[64] = byte(i + 10)
		ids[i] = pg.ID
		bp.UnpinPage(pg.ID)
	}

	if bp.Size() != 3 {
		t.Fatalf("expected 3 cached pages, got %d", bp.Size())
	}
	if bp.GetPage(ids[0]) != nil {
		t.Fatalf("expected the least recently used page to be evicted")
	}

	pg, err := bp.FetchPage(ids[0])
	if err != nil {
		t.Fatalf("failed to reload evicted page: %v", err)
	}
	defer bp.UnpinPage(pg.ID)
	if pg.Data[64] != 10 {
		t.Errorf("evicted page lost its contents: got %d", pg.Data[64])
	}

	stats := bp.GetStats()
	if stats.PinnedPages != 1 || stats.Capacity != 3 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

// TestBufferPoolAllPinned checks that pinned pages are never evicted
func TestBufferPoolAllPinned(t *testing.T) {
	bp, _ := newTestPool(t, 2)
	for i := 0; i < 2; i++ {
		if _, err := bp.NewPage(1, types.PageTypeSpLeaf); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := bp.NewPage(1, types.PageTypeSpLeaf); err == nil {
		t.Fatalf("expected an error with every page pinned")
	}
}

// TestBufferPoolWALBeforeData refuses to write a page whose LSN the WAL has not made durable
func TestBufferPoolWALBeforeData(t *testing.T) {
	bp, _ := newTestPool(t, 4)
	wal := &fixedWAL{flushed: 5}
	bp.SetWALManager(wal)

	pg, err := bp.NewPage(1, types.PageTypeSpLeaf)
	if err != nil {
		t.Fatal(err)
	}
	pg.SetLSN(10)
	bp.UnpinPage(pg.ID)

	if err := bp.FlushPage(pg.ID); err == nil {
		t.Fatalf("flush succeeded ahead of the WAL")
	}
	if !pg.IsDirty {
		t.Fatalf("page marked clean after a refused flush")
	}

	wal.flushed = 10
	if err := bp.FlushPage(pg.ID); err != nil {
		t.Fatalf("flush failed with the WAL caught up: %v", err)
	}
	if pg.IsDirty {
		t.Errorf("page still dirty after flush")
	}

	// a WAL that can sync is forced instead of refused
	syncing := &syncingWAL{}
	bp.SetWALManager(syncing)
	pg.SetLSN(500)
	pg.IsDirty = true
	if err := bp.FlushAllPages(); err != nil {
		t.Fatalf("flush with syncing WAL failed: %v", err)
	}
	if syncing.syncs != 1 {
		t.Errorf("expected one forced WAL sync, got %d", syncing.syncs)
	}
}

// TestBufferPoolDropFile forgets pages and free space of a file
func TestBufferPoolDropFile(t *testing.T) {
	bp, _ := newTestPool(t, 4)
	pg, err := bp.NewPage(1, types.PageTypeSpLeaf)
	if err != nil {
		t.Fatal(err)
	}
	bp.FreeSpace().RecordFree(1, 5)

	if err := bp.DropFile(1); err == nil {
		t.Fatalf("dropped a pinned page")
	}
	bp.UnpinPage(pg.ID)
	if err := bp.DropFile(1); err != nil {
		t.Fatalf("drop failed: %v", err)
	}
	if bp.Size() != 0 || bp.FreeSpace().Count(1) != 0 {
		t.Errorf("file not forgotten: size=%d free=%d", bp.Size(), bp.FreeSpace().Count(1))
	}
}

func TestFreeSpaceMap(t *testing.T) {
	fsm := NewFreeSpaceMap()
	for _, p := range []int64{9, 3, 7, 3} {
		fsm.RecordFree(2, p)
	}
	if fsm.Count(2) != 3 {
		t.Fatalf("expected 3 free pages, got %d", fsm.Count(2))
	}
	for _, want := range []int64{3, 7, 9} {
		got, ok := fsm.TakeFree(2)
		if !ok || got != want {
			t.Fatalf("expected page %d, got %d (%v)", want, got, ok)
		}
	}
	if _, ok := fsm.TakeFree(2); ok {
		t.Fatalf("free space map should be empty")
	}
	if _, ok := fsm.TakeFree(4); ok {
		t.Fatalf("unknown file has no free pages")
	}
}
