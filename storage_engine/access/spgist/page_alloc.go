package spgist

import (
	"SpaceDB/storage_engine/page"
	"SpaceDB/types"

	"github.com/pkg/errors"
)

// Free space kept back on a hinted page so that later inserts into existing
// chains still find room there.
const fillFactorReserve = 20 // percent of the page

// getBuffer returns an exclusively locked page of the given kind with at least
// needSpace bytes free. isNew reports that the page was (re)initialised and holds nothing.
func (ix *Index) getBuffer(kind PageKind, needSpace int) (*page.Page, bool, error) {
	if needSpace > ix.capacity {
		return nil, false, errors.Wrapf(ErrOversizeValue, "desired space %d exceeds page capacity %d", needSpace, ix.capacity)
	}
	needSpace += ix.pageSize * fillFactorReserve / 100
	needSpace = min(needSpace, ix.capacity)

	if hint, ok := ix.hints.Get(ix.fileID, kind); ok && hint.Block != types.InvalidBlockNumber && hint.FreeSpace >= needSpace {
		pg, err := ix.store.TryReadAndLock(hint.Block)
		switch {
		case err == nil:
			if IsNewPage(pg) || IsDeletedPage(pg) || IsEmptyPage(pg) {
				InitIndexPage(pg, kind.pageFlags())
				ix.hints.Set(ix.fileID, kind, Hint{Block: hint.Block, FreeSpace: ExactFreeSpace(pg) - needSpace})
				return pg, true, nil
			}
			if IsLeafPage(pg) == kind.isLeaf() && StoresNulls(pg) == kind.nulls() {
				if free := ExactFreeSpace(pg); free >= needSpace {
					ix.hints.Set(ix.fileID, kind, Hint{Block: hint.Block, FreeSpace: free - needSpace})
					return pg, false, nil
				}
			}
			ix.store.UnlockAndUnpin(pg, page.LockExclusive)
		case errors.Is(err, ErrWouldBlock):
		default:
			return nil, false, err
		}
	}

	pg, err := ix.allocNewBuffer(kind)
	if err != nil {
		return nil, false, err
	}
	return pg, true, nil
}

// allocNewBuffer initialises a fresh page of the requested kind. Inner pages of the
// wrong parity are parked in the hint cache for their own parity.
func (ix *Index) allocNewBuffer(kind PageKind) (*page.Page, error) {
	for {
		pg, err := ix.newBuffer()
		if err != nil {
			return nil, err
		}
		InitIndexPage(pg, kind.pageFlags())
		if kind.isLeaf() {
			return pg, nil
		}
		blk := pg.Local()
		got := withNulls(innerParity(blk), kind.nulls())
		if got == kind {
			return pg, nil
		}
		ix.hints.Set(ix.fileID, got, Hint{Block: blk, FreeSpace: ExactFreeSpace(pg)})
		ix.store.UnlockAndUnpin(pg, page.LockExclusive)
	}
}

// newBuffer prefers a page vacuum freed, falling back to extending the file.
func (ix *Index) newBuffer() (*page.Page, error) {
	for {
		blk, ok := ix.store.TakeFree()
		if !ok {
			break
		}
		if IsFixedBlock(blk) {
			continue
		}
		pg, err := ix.store.TryReadAndLock(blk)
		if errors.Is(err, ErrWouldBlock) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if IsNewPage(pg) || IsDeletedPage(pg) || IsEmptyPage(pg) {
			return pg, nil
		}
		ix.store.UnlockAndUnpin(pg, page.LockExclusive)
	}
	return ix.store.Extend()
}

// setLastUsedPage offers pg to the hint cache. Roots are never hinted.
func (ix *Index) setLastUsedPage(pg *page.Page) {
	blk := pg.Local()
	if IsFixedBlock(blk) || IsNewPage(pg) {
		return
	}
	kind := pageKindOf(pg)
	free := ExactFreeSpace(pg)
	cur, ok := ix.hints.Get(ix.fileID, kind)
	if !ok || cur.Block == types.InvalidBlockNumber || cur.Block == blk || cur.FreeSpace < free {
		ix.hints.Set(ix.fileID, kind, Hint{Block: blk, FreeSpace: free})
	}
}

// release unlocks a page the insert path held exclusively, offering it as a hint first.
func (ix *Index) release(pg *page.Page) {
	ix.setLastUsedPage(pg)
	ix.store.UnlockAndUnpin(pg, page.LockExclusive)
}
