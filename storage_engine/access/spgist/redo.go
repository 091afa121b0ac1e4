package spgist

import (
	"SpaceDB/storage_engine/page"
	"SpaceDB/types"

	"github.com/pkg/errors"
)

/*
Redo applies an index WAL record to the pages it names, one page at a time, using the
same page functions as the forward path. A page whose LSN is already at or past the
record's LSN is left alone, so replaying a record twice changes nothing.

Pages a record names more than once (a root split, an inner tuple stored on its parent's
page) are edited in a single visit.
*/

// Replay redoes one index record written at lsn.
func Replay(lsn uint64, data []byte, provider StoreProvider) error {
	rec, err := DecodeEnvelope(data)
	if err != nil {
		return err
	}
	store, err := provider.StoreFor(rec.FileID)
	if err != nil {
		return errors.Wrapf(err, "redo %s at lsn %d", rec.Kind, lsn)
	}
	r := &redo{lsn: lsn, store: store, rr: newRecordReader(rec)}

	switch rec.Kind {
	case RecordCreateIndex:
		err = r.createIndex()
	case RecordAddLeaf:
		err = r.addLeaf()
	case RecordMoveLeafs:
		err = r.moveLeafs()
	case RecordAddNode:
		err = r.addNode()
	case RecordSplitTuple:
		err = r.splitTuple()
	case RecordPickSplit:
		err = r.pickSplit()
	case RecordVacuumLeaf:
		err = r.vacuumLeaf()
	case RecordVacuumRoot:
		err = r.vacuumRoot()
	case RecordVacuumRedirect:
		err = r.vacuumRedirect()
	}
	return errors.Wrapf(err, "redo %s at lsn %d", rec.Kind, lsn)
}

type redo struct {
	lsn   uint64
	store PageStore
	rr    *recordReader
}

// apply runs fn on block blk unless the page already carries this record, then stamps it.
// init reinitialises the page with flags first.
func (r *redo) apply(blk types.BlockNumber, init bool, flags uint8, fn func(pg *page.Page) error) error {
	pg, err := r.store.ReadOrExtend(blk)
	if err != nil {
		return err
	}
	defer r.store.UnlockAndUnpin(pg, page.LockExclusive)

	pg.SyncLSN()
	if pg.LSN >= r.lsn {
		return nil
	}
	if init {
		InitIndexPage(pg, flags)
	}
	if fn != nil {
		if err := fn(pg); err != nil {
			return errors.Wrapf(err, "block %d", blk)
		}
	}
	pg.SetLSN(r.lsn)
	r.store.MarkDirty(pg)
	return nil
}

func leafFlags(nulls bool) uint8 {
	return withNulls(KindLeaf, nulls).pageFlags()
}

func innerFlags(nulls bool) uint8 {
	return withNulls(KindInnerParity0, nulls).pageFlags()
}

func deadState(s walState) TupleState {
	if s.IsBuild {
		return StatePlaceholder
	}
	return StateRedirect
}

// ─────────────────────────────────────────────────────────────────────────────
// Per-kind redo
// ─────────────────────────────────────────────────────────────────────────────

func (r *redo) createIndex() error {
	if err := r.rr.done(); err != nil {
		return err
	}
	if raw, err := r.store.ReadMeta(); err != nil || decodeMetaOK(raw) != nil {
		if err := r.store.WriteMeta(emptyMeta().encode()); err != nil {
			return err
		}
	}
	if err := r.apply(RootBlock, true, leafFlags(false), nil); err != nil {
		return err
	}
	return r.apply(NullRootBlock, true, leafFlags(true), nil)
}

func decodeMetaOK(raw []byte) error {
	_, err := decodeMeta(raw)
	return err
}

func (r *redo) addLeaf() error {
	var h addLeafRecord
	if err := r.rr.header(&h); err != nil {
		return err
	}
	leaf, err := r.rr.tuple()
	if err != nil {
		return err
	}
	if err := r.rr.done(); err != nil {
		return err
	}

	offLeaf := types.OffsetNumber(h.OffnumLeaf)
	offHead := types.OffsetNumber(h.OffnumHeadLeaf)
	err = r.apply(blkOf(h.BlkLeaf), h.NewPage, leafFlags(h.StoresNulls), func(pg *page.Page) error {
		if offLeaf != offHead {
			if err := AddOrReplaceItem(pg, leaf, offLeaf); err != nil {
				return err
			}
			if offHead != types.InvalidOffsetNumber {
				head, err := Item(pg, offHead)
				if err != nil {
					return err
				}
				SetLeafNext(head, offLeaf)
			}
			return nil
		}
		return ReplaceItem(pg, offLeaf, leaf)
	})
	if err != nil {
		return err
	}

	if blkOf(h.BlkParent) == types.InvalidBlockNumber {
		return nil
	}
	target := types.ItemPointer{Block: blkOf(h.BlkLeaf), Offset: offLeaf}
	return r.apply(blkOf(h.BlkParent), false, 0, func(pg *page.Page) error {
		return updateNodeLink(pg, types.OffsetNumber(h.OffnumParent), int(h.NodeI), target)
	})
}

func (r *redo) moveLeafs() error {
	var h moveLeafsRecord
	if err := r.rr.header(&h); err != nil {
		return err
	}
	toDelete, err := r.rr.offsets(int(h.NMoves))
	if err != nil {
		return err
	}
	toInsert, err := r.rr.offsets(int(h.NInsert))
	if err != nil {
		return err
	}
	if len(toInsert) == 0 {
		return corruptf("move of no tuples")
	}
	tuples := make([][]byte, h.NInsert)
	for i := range tuples {
		if tuples[i], err = r.rr.tuple(); err != nil {
			return err
		}
	}
	if err := r.rr.done(); err != nil {
		return err
	}

	err = r.apply(blkOf(h.BlkDst), h.NewPage, leafFlags(h.StoresNulls), func(pg *page.Page) error {
		for i, t := range tuples {
			if err := AddOrReplaceItem(pg, t, toInsert[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	target := types.ItemPointer{Block: blkOf(h.BlkDst), Offset: toInsert[len(toInsert)-1]}
	err = r.apply(blkOf(h.BlkSrc), false, 0, func(pg *page.Page) error {
		return multiDelete(pg, toDelete, deadState(h.State), StatePlaceholder, target, h.State.Xid)
	})
	if err != nil {
		return err
	}

	return r.apply(blkOf(h.BlkParent), false, 0, func(pg *page.Page) error {
		return updateNodeLink(pg, types.OffsetNumber(h.OffnumParent), int(h.NodeI), target)
	})
}

func (r *redo) addNode() error {
	var h addNodeRecord
	if err := r.rr.header(&h); err != nil {
		return err
	}
	inner, err := r.rr.tuple()
	if err != nil {
		return err
	}
	if err := r.rr.done(); err != nil {
		return err
	}

	blk, off := blkOf(h.Blk), types.OffsetNumber(h.Offnum)
	if blkOf(h.BlkNew) == types.InvalidBlockNumber {
		return r.apply(blk, false, 0, func(pg *page.Page) error {
			return ReplaceItem(pg, off, inner)
		})
	}

	newBlk, newOff := blkOf(h.BlkNew), types.OffsetNumber(h.OffnumNew)
	target := types.ItemPointer{Block: newBlk, Offset: newOff}
	parentOff := types.OffsetNumber(h.OffnumParent)
	linkParent := func(pg *page.Page) error {
		return updateNodeLink(pg, parentOff, int(h.NodeI), target)
	}

	// the new tuple first, so the Redirect never dangles
	err = r.apply(newBlk, h.NewPage, innerFlags(false), func(pg *page.Page) error {
		if err := AddOrReplaceItem(pg, inner, newOff); err != nil {
			return err
		}
		if h.ParentBlk == 1 {
			return linkParent(pg)
		}
		return nil
	})
	if err != nil {
		return err
	}

	err = r.apply(blk, false, 0, func(pg *page.Page) error {
		state := deadState(h.State)
		if err := ReplaceItem(pg, off, EncodeDead(state, target, h.State.Xid)); err != nil {
			return err
		}
		bumpDeadCounter(pg, state)
		if h.ParentBlk == 0 {
			return linkParent(pg)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if h.ParentBlk == 2 {
		return r.apply(blkOf(h.BlkParent), false, 0, linkParent)
	}
	return nil
}

func (r *redo) splitTuple() error {
	var h splitTupleRecord
	if err := r.rr.header(&h); err != nil {
		return err
	}
	prefix, err := r.rr.tuple()
	if err != nil {
		return err
	}
	postfix, err := r.rr.tuple()
	if err != nil {
		return err
	}
	if err := r.rr.done(); err != nil {
		return err
	}

	postOff := types.OffsetNumber(h.OffnumPostfix)
	if !h.PostfixBlkSame {
		err := r.apply(blkOf(h.BlkPostfix), h.NewPage, innerFlags(false), func(pg *page.Page) error {
			return AddOrReplaceItem(pg, postfix, postOff)
		})
		if err != nil {
			return err
		}
	}
	return r.apply(blkOf(h.BlkPrefix), false, 0, func(pg *page.Page) error {
		if err := ReplaceItem(pg, types.OffsetNumber(h.OffnumPrefix), prefix); err != nil {
			return err
		}
		if h.PostfixBlkSame {
			return AddOrReplaceItem(pg, postfix, postOff)
		}
		return nil
	})
}

func (r *redo) pickSplit() error {
	var h pickSplitRecord
	if err := r.rr.header(&h); err != nil {
		return err
	}
	toDelete, err := r.rr.offsets(int(h.NDelete))
	if err != nil {
		return err
	}
	toInsert, err := r.rr.offsets(int(h.NInsert))
	if err != nil {
		return err
	}
	leafPageSelect, err := r.rr.flags(int(h.NInsert))
	if err != nil {
		return err
	}
	inner, err := r.rr.tuple()
	if err != nil {
		return err
	}
	leafs := make([][]byte, h.NInsert)
	for i := range leafs {
		if leafs[i], err = r.rr.tuple(); err != nil {
			return err
		}
	}
	if err := r.rr.done(); err != nil {
		return err
	}

	innerBlk, innerOff := blkOf(h.BlkInner), types.OffsetNumber(h.OffnumInner)
	innerTarget := types.ItemPointer{Block: innerBlk, Offset: innerOff}
	insertLeafs := func(pg *page.Page, sel uint8) error {
		for i, t := range leafs {
			if leafPageSelect[i] != sel {
				continue
			}
			if err := AddOrReplaceItem(pg, t, toInsert[i]); err != nil {
				return err
			}
		}
		return nil
	}

	// src goes first: its Redirect points at the inner tuple, whose downlinks point back
	// at src, so neither order puts every destination before its source.
	if !h.IsRootSplit {
		err := r.apply(blkOf(h.BlkSrc), h.InitSrc, leafFlags(h.StoresNulls), func(pg *page.Page) error {
			if !h.InitSrc {
				state := deadState(h.State)
				if err := multiDelete(pg, toDelete, state, StatePlaceholder, innerTarget, h.State.Xid); err != nil {
					return err
				}
			}
			return insertLeafs(pg, 0)
		})
		if err != nil {
			return err
		}
	}

	if blkOf(h.BlkDest) != types.InvalidBlockNumber {
		err := r.apply(blkOf(h.BlkDest), h.InitDest, leafFlags(h.StoresNulls), func(pg *page.Page) error {
			return insertLeafs(pg, 1)
		})
		if err != nil {
			return err
		}
	}

	parentOff := types.OffsetNumber(h.OffnumParent)
	err = r.apply(innerBlk, h.InitInner, innerFlags(h.StoresNulls), func(pg *page.Page) error {
		if err := AddOrReplaceItem(pg, inner, innerOff); err != nil {
			return err
		}
		if h.InnerIsParent {
			return updateNodeLink(pg, parentOff, int(h.NodeI), innerTarget)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if !h.InnerIsParent && blkOf(h.BlkParent) != types.InvalidBlockNumber {
		return r.apply(blkOf(h.BlkParent), false, 0, func(pg *page.Page) error {
			return updateNodeLink(pg, parentOff, int(h.NodeI), innerTarget)
		})
	}
	return nil
}

func (r *redo) vacuumLeaf() error {
	var h vacuumLeafRecord
	if err := r.rr.header(&h); err != nil {
		return err
	}
	e := &leafEdits{}
	var err error
	for _, f := range []struct {
		dst *[]types.OffsetNumber
		n   uint16
	}{
		{&e.toDead, h.NDead},
		{&e.toPlaceholder, h.NPlaceholder},
		{&e.moveSrc, h.NMove},
		{&e.moveDest, h.NMove},
		{&e.chainSrc, h.NChain},
		{&e.chainDest, h.NChain},
	} {
		if *f.dst, err = r.rr.offsets(int(f.n)); err != nil {
			return err
		}
	}
	if err := r.rr.done(); err != nil {
		return err
	}
	return r.apply(blkOf(h.Blk), false, 0, e.apply)
}

func (r *redo) vacuumRoot() error {
	var h vacuumRootRecord
	if err := r.rr.header(&h); err != nil {
		return err
	}
	toDelete, err := r.rr.offsets(int(h.NDelete))
	if err != nil {
		return err
	}
	if err := r.rr.done(); err != nil {
		return err
	}
	return r.apply(blkOf(h.Blk), false, 0, func(pg *page.Page) error {
		return DeleteItems(pg, toDelete)
	})
}

func (r *redo) vacuumRedirect() error {
	var h vacuumRedirectRecord
	if err := r.rr.header(&h); err != nil {
		return err
	}
	toPlaceholder, err := r.rr.offsets(int(h.NToPlaceholder))
	if err != nil {
		return err
	}
	if err := r.rr.done(); err != nil {
		return err
	}
	return r.apply(blkOf(h.Blk), false, 0, func(pg *page.Page) error {
		return ageRedirects(pg, toPlaceholder, types.OffsetNumber(h.FirstPlaceholder))
	})
}
