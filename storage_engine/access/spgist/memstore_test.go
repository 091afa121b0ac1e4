package spgist

import (
	"SpaceDB/storage_engine/access/spgist/opclass"
	"SpaceDB/storage_engine/page"
	"SpaceDB/types"
	"bytes"
	"context"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// memStore keeps an index file in memory. Block 0 stands in for the meta page.
type memStore struct {
	mu       sync.Mutex
	fileID   uint32
	pageSize int
	pages    []*page.Page
	free     []types.BlockNumber
	meta     []byte
}

func newMemStore(fileID uint32, pageSize int) *memStore {
	ms := &memStore{fileID: fileID, pageSize: pageSize}
	ms.grow(MetaBlock)
	return ms
}

func (ms *memStore) grow(blk types.BlockNumber) {
	for types.BlockNumber(len(ms.pages)) <= blk {
		n := int64(len(ms.pages))
		ms.pages = append(ms.pages, &page.Page{
			ID:     int64(ms.fileID)<<32 | n,
			FileID: ms.fileID,
			Data:   make([]byte, ms.pageSize),
		})
	}
}

func (ms *memStore) FileID() uint32 { return ms.fileID }

func (ms *memStore) PageSize() int { return ms.pageSize }

func (ms *memStore) Extend() (*page.Page, error) {
	ms.mu.Lock()
	blk := types.BlockNumber(len(ms.pages))
	ms.grow(blk)
	pg := ms.pages[blk]
	ms.mu.Unlock()
	pg.Pin()
	pg.Lock()
	return pg, nil
}

func (ms *memStore) TakeFree() (types.BlockNumber, bool) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if len(ms.free) == 0 {
		return types.InvalidBlockNumber, false
	}
	blk := ms.free[len(ms.free)-1]
	ms.free = ms.free[:len(ms.free)-1]
	return blk, true
}

func (ms *memStore) RecordFree(blk types.BlockNumber) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.free = append(ms.free, blk)
}

func (ms *memStore) get(blk types.BlockNumber) (*page.Page, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if blk == MetaBlock || int(blk) >= len(ms.pages) {
		return nil, errors.Errorf("block %d not readable (%d blocks)", blk, len(ms.pages))
	}
	pg := ms.pages[blk]
	pg.Pin()
	return pg, nil
}

func (ms *memStore) ReadAndLock(blk types.BlockNumber, mode page.LockMode) (*page.Page, error) {
	pg, err := ms.get(blk)
	if err != nil {
		return nil, err
	}
	pg.Acquire(mode)
	return pg, nil
}

func (ms *memStore) TryReadAndLock(blk types.BlockNumber) (*page.Page, error) {
	pg, err := ms.get(blk)
	if err != nil {
		return nil, err
	}
	if !pg.TryLock() {
		pg.Unpin()
		return nil, errors.Wrapf(ErrWouldBlock, "block %d", blk)
	}
	return pg, nil
}

func (ms *memStore) ReadOrExtend(blk types.BlockNumber) (*page.Page, error) {
	ms.mu.Lock()
	ms.grow(blk)
	ms.mu.Unlock()
	return ms.ReadAndLock(blk, page.LockExclusive)
}

func (ms *memStore) MarkDirty(pg *page.Page) { pg.IsDirty = true }

func (ms *memStore) UnlockAndUnpin(pg *page.Page, mode page.LockMode) {
	pg.Release(mode)
	pg.Unpin()
}

func (ms *memStore) NumBlocks() (types.BlockNumber, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return types.BlockNumber(len(ms.pages)), nil
}

func (ms *memStore) ReadMeta() ([]byte, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return append([]byte(nil), ms.meta...), nil
}

func (ms *memStore) WriteMeta(data []byte) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.meta = append([]byte(nil), data...)
	return nil
}

// block returns the raw page for assertions. The caller must not hold its lock.
func (ms *memStore) block(blk types.BlockNumber) *page.Page {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.pages[blk]
}

func (ms *memStore) StoreFor(fileID uint32) (PageStore, error) {
	if fileID != ms.fileID {
		return nil, errors.Errorf("file %d unknown", fileID)
	}
	return ms, nil
}

var _ PageStore = (*memStore)(nil)

// ─────────────────────────────────────────────────────────────────────────────
// WAL and oracle fakes
// ─────────────────────────────────────────────────────────────────────────────

type walEntry struct {
	lsn  uint64
	data []byte
}

type recordingWAL struct {
	mu      sync.Mutex
	lsn     uint64
	records []walEntry
}

func (w *recordingWAL) AppendRecord(data []byte) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lsn++
	w.records = append(w.records, walEntry{lsn: w.lsn, data: append([]byte(nil), data...)})
	return w.lsn, nil
}

func (w *recordingWAL) kinds() map[RecordKind]int {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[RecordKind]int)
	for _, r := range w.records {
		rec, err := DecodeEnvelope(r.data)
		if err == nil {
			out[rec.Kind]++
		}
	}
	return out
}

type deletedRows map[types.RowPointer]bool

func (d deletedRows) IsRowDeleted(r types.RowPointer) bool { return d[r] }

type fixedHorizon uint64

func (h fixedHorizon) OldestXmin() uint64 { return uint64(h) }

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

const testPageSize = 1024

func testOptions(wal WALWriter) Options {
	opts := DefaultOptions()
	opts.Rand = rand.New(rand.NewPCG(1, 2))
	opts.WAL = wal
	return opts
}

func newTestIndex(t *testing.T, policy opclass.Policy, pageSize int, wal WALWriter) (*Index, *memStore) {
	t.Helper()
	store := newMemStore(7, pageSize)
	ix, err := Create("test", store, policy, testOptions(wal))
	require.NoError(t, err)
	return ix, store
}

func rowFor(i int) types.RowPointer {
	return types.RowPointer{FileID: 1, PageNumber: uint32(i / 100), SlotIndex: uint16(i % 100)}
}

func insertPoint(t *testing.T, ix *Index, p opclass.Point, i int) {
	t.Helper()
	res, err := ix.InsertWithRetry(context.Background(), Entry{Key: opclass.EncodePoint(p), Row: rowFor(i), Xid: uint64(i + 1)})
	require.NoError(t, err)
	require.Equal(t, InsertDone, res)
}

func insertString(t *testing.T, ix *Index, s string, i int) {
	t.Helper()
	res, err := ix.InsertWithRetry(context.Background(), Entry{Key: []byte(s), Row: rowFor(i), Xid: uint64(i + 1)})
	require.NoError(t, err)
	require.Equal(t, InsertDone, res)
}

func randomPoints(n int, seed uint64) []opclass.Point {
	r := rand.New(rand.NewPCG(seed, seed+1))
	pts := make([]opclass.Point, n)
	for i := range pts {
		pts[i] = opclass.Point{X: float64(r.IntN(1000)), Y: float64(r.IntN(1000))}
	}
	return pts
}

// collectRows runs q and returns the matched rows.
func collectRows(t *testing.T, ix *Index, q Query) map[types.RowPointer]int {
	t.Helper()
	rows := make(map[types.RowPointer]int)
	err := ix.Search(context.Background(), q, func(m Match) bool {
		rows[m.Row]++
		return true
	})
	require.NoError(t, err)
	return rows
}

// pageImages copies every page that carries an LSN, keyed by block.
func pageImages(ms *memStore) map[types.BlockNumber][]byte {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	out := make(map[types.BlockNumber][]byte)
	for blk := MetaBlock + 1; int(blk) < len(ms.pages); blk++ {
		pg := ms.pages[blk]
		pg.SyncLSN()
		if pg.LSN != 0 {
			out[blk] = bytes.Clone(pg.Data)
		}
	}
	return out
}
