package spgist

import (
	"SpaceDB/storage_engine/access/spgist/opclass"
	"SpaceDB/storage_engine/page"
	"SpaceDB/types"
	"context"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

/*
Insertion descends from the root one tuple at a time, holding at most two exclusive
page locks: current (the tuple being visited) and parent (the inner tuple whose node
leads to current).

	stateDescend  lock current; a leaf page ends the descent, an inner page goes on to stateInner
	stateInner    ask the policy where the value goes inside the inner tuple at current;
	              Match moves current to the child and returns to stateDescend,
	              AddNode and SplitTuple rewrite the tuple and stay in stateInner

Locking the child while the parent is held never waits. If the child lock is taken,
everything is released and the caller retries from the top.
*/

type pageDesc struct {
	blk  types.BlockNumber
	pg   *page.Page
	off  types.OffsetNumber
	node int
}

func emptyDesc() pageDesc {
	return pageDesc{blk: types.InvalidBlockNumber, off: types.InvalidOffsetNumber}
}

type insertState uint8

const (
	stateDescend insertState = iota
	stateInner
)

type insertion struct {
	ix      *Index
	entry   Entry
	isNull  bool
	current pageDesc
	parent  pageDesc
	isNew   bool

	level        int
	leafDatum    opclass.Datum
	leafSize     int
	bestLeafSize int
	noProgress   int
}

// Insert adds one entry. InsertRetryNeeded means nothing was changed and the caller
// should try again: a child page lock was busy, or ctx was cancelled with ErrInterrupted.
func (ix *Index) Insert(ctx context.Context, e Entry) (InsertResult, error) {
	in, err := ix.newInsertion(e)
	if err != nil {
		return InsertDone, err
	}
	done, err := in.run(ctx)
	in.releaseAll()
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return InsertRetryNeeded, nil
		}
		return InsertDone, err
	}
	if !done {
		if interrupted(ctx) {
			return cancelResult(ctx)
		}
		return InsertRetryNeeded, nil
	}
	return InsertDone, nil
}

// InsertWithRetry repeats Insert while it reports a lock conflict.
// A soft interrupt is handed back to the caller as InsertRetryNeeded.
func (ix *Index) InsertWithRetry(ctx context.Context, e Entry) (InsertResult, error) {
	for {
		res, err := ix.Insert(ctx, e)
		if err != nil || res == InsertDone || interrupted(ctx) {
			return res, err
		}
	}
}

func (ix *Index) newInsertion(e Entry) (*insertion, error) {
	in := &insertion{
		ix:      ix,
		entry:   e,
		isNull:  e.KeyNull,
		current: emptyDesc(),
		parent:  emptyDesc(),
	}
	if !in.isNull {
		in.leafDatum = e.Key
		if c, ok := ix.policy.(opclass.Compressor); ok {
			d, err := c.Compress(e.Key)
			if err != nil {
				return nil, errors.Wrapf(err, "%s compress", ix.policy.Name())
			}
			in.leafDatum = d
		}
	}
	in.leafSize = in.computeLeafSize()
	if in.leafSize > ix.capacity && (in.isNull || !ix.config.LongValuesOK) {
		return nil, errors.Wrapf(ErrOversizeValue, "index row size %s exceeds maximum %s for index %q",
			humanize.IBytes(uint64(in.leafSize-types.SlotSize)),
			humanize.IBytes(uint64(ix.capacity-types.SlotSize)), ix.name)
	}
	in.bestLeafSize = in.leafSize

	in.current.blk = RootBlock
	if in.isNull {
		in.current.blk = NullRootBlock
	}
	in.current.off = types.FirstOffsetNumber
	return in, nil
}

func (in *insertion) computeLeafSize() int {
	return LeafSize(len(in.leafDatum), len(in.entry.Payload)) + types.SlotSize
}

func (in *insertion) leafTuple() *LeafTuple {
	return &LeafTuple{
		KeyNull: in.isNull,
		Key:     in.leafDatum,
		Payload: in.entry.Payload,
		Row:     in.entry.Row,
	}
}

// run drives the state machine. false without error means the insert stopped early
// on cancellation.
func (in *insertion) run(ctx context.Context) (bool, error) {
	state := stateDescend
	for {
		if state == stateDescend {
			if interrupted(ctx) {
				return false, nil
			}
			if err := in.lockCurrent(); err != nil {
				return false, err
			}
			if StoresNulls(in.current.pg) != in.isNull {
				return false, corruptf("block %d nulls flag does not match the value inserted", in.current.blk)
			}
			if IsLeafPage(in.current.pg) {
				placed, err := in.leafStep()
				if err != nil || placed {
					return placed, err
				}
			}
			state = stateInner
		}

		if interrupted(ctx) {
			return false, nil
		}
		next, err := in.innerStep()
		if err != nil {
			return false, err
		}
		state = next
	}
}

// lockCurrent pins and locks the page current points at, allocating one if the
// parent's node was empty.
func (in *insertion) lockCurrent() error {
	ix := in.ix
	cur := &in.current
	switch {
	case cur.blk == types.InvalidBlockNumber:
		pg, isNew, err := ix.getBuffer(withNulls(KindLeaf, in.isNull), min(in.leafSize, ix.capacity))
		if err != nil {
			return err
		}
		cur.pg, cur.blk, cur.off = pg, pg.Local(), types.InvalidOffsetNumber
		in.isNew = isNew
		return nil

	case in.parent.pg == nil:
		pg, err := ix.store.ReadAndLock(cur.blk, page.LockExclusive)
		if err != nil {
			return err
		}
		cur.pg = pg

	case cur.blk != in.parent.blk:
		pg, err := ix.store.TryReadAndLock(cur.blk)
		if errors.Is(err, ErrWouldBlock) {
			return errors.Wrapf(ErrConflict, "block %d busy", cur.blk)
		}
		if err != nil {
			return err
		}
		cur.pg = pg

	default:
		cur.pg = in.parent.pg
	}
	in.isNew = false
	return nil
}

// leafStep places the value on the leaf page at current. It reports whether the value
// is stored; if not, current now addresses a fresh inner tuple to descend through.
func (in *insertion) leafStep() (bool, error) {
	ix := in.ix
	leaf := in.leafTuple()

	if in.leafSize <= FreeSpace(in.current.pg, 1) {
		return true, in.addLeafTuple(leaf)
	}

	sizeToSplit, nToSplit, err := in.checkSplitConditions()
	if err != nil {
		return false, err
	}
	if sizeToSplit < ix.capacity/2 && nToSplit < ix.opts.MoveLeafsMaxTuples &&
		in.leafSize+sizeToSplit <= ix.capacity {
		return true, in.moveLeafs(leaf)
	}
	return in.doPickSplit(leaf)
}

// innerStep consults the policy about the inner tuple at current.
func (in *insertion) innerStep() (insertState, error) {
	ix := in.ix
	raw, err := Item(in.current.pg, in.current.off)
	if err != nil {
		return stateDescend, err
	}
	inner, err := DecodeInner(raw)
	if err != nil {
		return stateDescend, err
	}

	labels := nodeLabels(inner)
	out := &opclass.ChooseOut{Action: opclass.ChooseMatch}
	if !in.isNull {
		out, err = ix.policy.Choose(&opclass.ChooseIn{
			Datum:      in.entry.Key,
			LeafDatum:  in.leafDatum,
			Level:      in.level,
			AllTheSame: inner.AllTheSame,
			HasPrefix:  inner.HasPrefix,
			Prefix:     inner.Prefix,
			NNodes:     len(inner.Nodes),
			NodeLabels: labels,
		})
		if err != nil {
			return stateDescend, errors.Wrapf(err, "%s choose", ix.policy.Name())
		}
	}

	if inner.AllTheSame {
		switch out.Action {
		case opclass.ChooseAddNode:
			return stateDescend, corruptf("cannot add a node to an allTheSame inner tuple on block %d", in.current.blk)
		case opclass.ChooseMatch:
			out.Match.NodeN = ix.randomNode(len(inner.Nodes))
		}
	}

	switch out.Action {
	case opclass.ChooseMatch:
		if err := in.matchNode(inner, out.Match.NodeN); err != nil {
			return stateDescend, err
		}
		in.level += out.Match.LevelAdd
		if !in.isNull {
			in.leafDatum = out.Match.RestDatum
			in.leafSize = in.computeLeafSize()
		}
		if in.leafSize > ix.capacity {
			ok := false
			if ix.config.LongValuesOK && !in.isNull {
				if in.leafSize < in.bestLeafSize {
					ok = true
					in.bestLeafSize = in.leafSize
					in.noProgress = 0
				} else if in.noProgress++; in.noProgress < ix.opts.MaxNonShrinkCycles {
					ok = true
				}
			}
			if !ok {
				return stateDescend, errors.Wrapf(ErrOversizeValue, "index row size %s exceeds maximum %s for index %q",
					humanize.IBytes(uint64(in.leafSize-types.SlotSize)),
					humanize.IBytes(uint64(ix.capacity-types.SlotSize)), ix.name)
			}
		}
		return stateDescend, nil

	case opclass.ChooseAddNode:
		if labels == nil {
			return stateDescend, corruptf("cannot add a node to an inner tuple without node labels")
		}
		if err := in.addNode(raw, inner, out.AddNode.NodeN, out.AddNode.Label); err != nil {
			return stateDescend, err
		}
		return stateInner, nil

	case opclass.ChooseSplitTuple:
		if err := in.splitNode(raw, inner, &out.SplitTup); err != nil {
			return stateDescend, err
		}
		return stateInner, nil

	default:
		return stateDescend, errors.Errorf("unrecognized choose result %d", out.Action)
	}
}

// nodeLabels returns nil when the tuple's nodes carry no labels.
func nodeLabels(inner *InnerTuple) []opclass.Datum {
	if len(inner.Nodes) == 0 || inner.Nodes[0].Label == nil {
		return nil
	}
	labels := make([]opclass.Datum, len(inner.Nodes))
	for i, n := range inner.Nodes {
		labels[i] = n.Label
	}
	return labels
}

// releaseAll drops whatever current and parent still hold. They may share a page.
func (in *insertion) releaseAll() {
	if in.current.pg != nil {
		in.ix.release(in.current.pg)
	}
	if in.parent.pg != nil && in.parent.pg != in.current.pg {
		in.ix.release(in.parent.pg)
	}
	in.current.pg, in.parent.pg = nil, nil
}
