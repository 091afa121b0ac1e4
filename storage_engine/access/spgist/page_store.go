package spgist

import (
	"SpaceDB/storage_engine/page"
	"SpaceDB/types"
)

// PageStore is everything the index needs from the storage layer for one index file.
// Every page it hands out is pinned; the caller gives it back through UnlockAndUnpin.
type PageStore interface {
	FileID() uint32
	PageSize() int

	// Extend adds a block at the end of the file, exclusively locked.
	Extend() (*page.Page, error)
	// TakeFree pops a block recorded free by vacuum. The caller must check that
	// the page is still unused once it holds the lock.
	TakeFree() (types.BlockNumber, bool)
	RecordFree(blk types.BlockNumber)

	ReadAndLock(blk types.BlockNumber, mode page.LockMode) (*page.Page, error)
	// TryReadAndLock takes an exclusive lock without waiting, else ErrWouldBlock.
	TryReadAndLock(blk types.BlockNumber) (*page.Page, error)
	// ReadOrExtend is ReadAndLock(exclusive) that first grows the file when blk is past its end.
	ReadOrExtend(blk types.BlockNumber) (*page.Page, error)

	MarkDirty(pg *page.Page)
	UnlockAndUnpin(pg *page.Page, mode page.LockMode)
	NumBlocks() (types.BlockNumber, error)

	ReadMeta() ([]byte, error)
	WriteMeta(data []byte) error
}

// StoreProvider resolves the page store of the file a WAL record belongs to.
type StoreProvider interface {
	StoreFor(fileID uint32) (PageStore, error)
}

// WALWriter appends one index record and returns its LSN.
type WALWriter interface {
	AppendRecord(data []byte) (uint64, error)
}

// RowOracle tells vacuum which rows are gone.
type RowOracle interface {
	IsRowDeleted(row types.RowPointer) bool
}

// XidHorizon yields the oldest transaction id any running transaction can see.
type XidHorizon interface {
	OldestXmin() uint64
}

// PageKind selects the kind of page getBuffer hands out.
// Inner pages come in three parities (block % 3): a tuple and its children never share a parity.
type PageKind uint8

const (
	KindInnerParity0 PageKind = 0
	KindInnerParity1 PageKind = 1
	KindInnerParity2 PageKind = 2
	KindLeaf         PageKind = 3
	KindNulls        PageKind = 4 // bit, combined with the above

	numPageKinds = 8
)

func innerParity(blk types.BlockNumber) PageKind {
	return PageKind(blk % 3)
}

func (k PageKind) isLeaf() bool { return k&3 == KindLeaf }

func (k PageKind) nulls() bool { return k&KindNulls != 0 }

func (k PageKind) pageFlags() uint8 {
	var flags uint8
	if k.isLeaf() {
		flags |= FlagLeaf
	}
	if k.nulls() {
		flags |= FlagNulls
	}
	return flags
}

func (k PageKind) String() string {
	s := "inner"
	switch k & 3 {
	case KindLeaf:
		s = "leaf"
	case KindInnerParity1:
		s = "inner1"
	case KindInnerParity2:
		s = "inner2"
	default:
		s = "inner0"
	}
	if k.nulls() {
		s += "+nulls"
	}
	return s
}

func withNulls(k PageKind, nulls bool) PageKind {
	if nulls {
		return k | KindNulls
	}
	return k
}

// pageKindOf classifies an initialised page for the hint cache.
func pageKindOf(pg *page.Page) PageKind {
	var k PageKind
	if IsLeafPage(pg) {
		k = KindLeaf
	} else {
		k = innerParity(pg.Local())
	}
	return withNulls(k, StoresNulls(pg))
}
