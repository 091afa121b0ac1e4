package spgist

import (
	"SpaceDB/storage_engine/access/spgist/opclass"
	"SpaceDB/storage_engine/page"
	"SpaceDB/types"

	"github.com/pkg/errors"
)

// matchNode steps from the inner tuple at current into node nodeN. The inner tuple's page
// becomes the parent; the previous parent is released unless it is the same page.
func (in *insertion) matchNode(inner *InnerTuple, nodeN int) error {
	if nodeN < 0 || nodeN >= len(inner.Nodes) {
		return corruptf("policy chose node %d of %d at %d/%d", nodeN, len(inner.Nodes), in.current.blk, in.current.off)
	}
	if in.parent.pg != nil && in.parent.pg != in.current.pg {
		in.ix.release(in.parent.pg)
	}
	in.parent = pageDesc{blk: in.current.blk, pg: in.current.pg, off: in.current.off, node: nodeN}

	link := inner.Nodes[nodeN].Downlink
	if link.IsValid() {
		in.current = pageDesc{blk: link.Block, off: link.Offset}
	} else {
		in.current = emptyDesc()
	}
	return nil
}

// addNode inserts a labeled, empty node at position nodeN (negative: append). The grown
// tuple stays in place if it fits; otherwise it moves to another inner page of the same
// parity and a Redirect is left behind.
func (in *insertion) addNode(raw []byte, inner *InnerTuple, nodeN int, label opclass.Datum) error {
	ix, cur, parent := in.ix, &in.current, &in.parent
	if nodeN < 0 {
		nodeN = len(inner.Nodes)
	} else if nodeN > len(inner.Nodes) {
		return corruptf("invalid offset %d for adding node to tuple with %d nodes", nodeN, len(inner.Nodes))
	}

	nodes := make([]Node, 0, len(inner.Nodes)+1)
	nodes = append(nodes, inner.Nodes[:nodeN]...)
	nodes = append(nodes, Node{Label: append([]byte{}, label...), Downlink: types.InvalidItemPointer})
	nodes = append(nodes, inner.Nodes[nodeN:]...)
	grown := &InnerTuple{HasPrefix: inner.HasPrefix, Prefix: inner.Prefix, Nodes: nodes}
	newBytes, err := EncodeInner(grown, ix.pageSize)
	if err != nil {
		return err
	}

	xid := in.entry.Xid
	rec := addNodeRecord{
		Blk:       blk32(cur.blk),
		Offnum:    uint16(cur.off),
		BlkNew:    blk32(types.InvalidBlockNumber),
		ParentBlk: -1,
		BlkParent: blk32(types.InvalidBlockNumber),
		State:     ix.state(xid),
	}

	if ExactFreeSpace(cur.pg) >= len(newBytes)-len(raw) {
		mustNot("add node", ReplaceItem(cur.pg, cur.off, newBytes))
		w := &recordWriter{}
		w.header(&rec).tuple(newBytes)
		ix.logRecord(RecordAddNode, w.bytes(), cur.pg)
		return nil
	}

	if IsRootBlock(cur.blk) {
		return errors.Wrapf(ErrOversizeValue, "root inner tuple of index %q cannot grow to %d bytes", ix.name, len(newBytes))
	}
	if parent.pg == nil {
		return corruptf("inner tuple at %d/%d has no parent", cur.blk, cur.off)
	}

	old := *cur
	newPg, isNew, err := ix.getBuffer(withNulls(innerParity(old.blk), in.isNull), len(newBytes)+types.SlotSize)
	if err != nil {
		return err
	}
	newBlk := newPg.Local()
	if newBlk == old.blk {
		ix.store.UnlockAndUnpin(newPg, page.LockExclusive)
		return corruptf("inner tuple at %d/%d moved to its own block", old.blk, old.off)
	}

	switch parent.pg {
	case old.pg:
		rec.ParentBlk = 0
	case newPg:
		rec.ParentBlk = 1
	default:
		rec.ParentBlk = 2
	}
	rec.BlkParent = blk32(parent.blk)
	rec.OffnumParent = uint16(parent.off)
	rec.NodeI = uint16(parent.node)
	rec.NewPage = isNew

	// critical section
	off, err := AddNewItem(newPg, newBytes, nil)
	mustNot("add node", err)
	cur.blk, cur.pg, cur.off = newBlk, newPg, off
	target := types.ItemPointer{Block: newBlk, Offset: off}
	mustNot("add node", saveNodeLink(parent, target))

	state := ix.deadStateFor()
	mustNot("add node", ReplaceItem(old.pg, old.off, EncodeDead(state, target, xid)))
	bumpDeadCounter(old.pg, state)

	rec.BlkNew = blk32(newBlk)
	rec.OffnumNew = uint16(off)
	w := &recordWriter{}
	w.header(&rec).tuple(newBytes)
	ix.logRecord(RecordAddNode, w.bytes(), old.pg, newPg, parent.pg)

	ix.logger.Printf("ADDNODE index=%s moved %d/%d -> %d/%d nodes=%d", ix.name, old.blk, old.off, newBlk, off, len(nodes))

	if old.pg != cur.pg && old.pg != parent.pg {
		ix.release(old.pg)
	}
	return nil
}

// splitNode replaces the inner tuple at current with a prefix tuple whose child node
// leads to a postfix tuple holding the old nodes. The prefix tuple is never larger than
// the old one, so it always fits in place.
func (in *insertion) splitNode(raw []byte, inner *InnerTuple, st *opclass.SplitTuple) error {
	ix, cur := in.ix, &in.current
	if in.isNull {
		return corruptf("split of inner tuple on nulls tree at %d/%d", cur.blk, cur.off)
	}
	if st.PrefixNNodes <= 0 || st.PrefixNNodes > MaxNodes {
		return errors.Errorf("invalid number of prefix nodes %d", st.PrefixNNodes)
	}
	if st.ChildNodeN < 0 || st.ChildNodeN >= st.PrefixNNodes {
		return errors.Errorf("invalid child node number %d of %d", st.ChildNodeN, st.PrefixNNodes)
	}
	if st.PrefixNodeLabels != nil && len(st.PrefixNodeLabels) != st.PrefixNNodes {
		return errors.Errorf("%d labels for %d prefix nodes", len(st.PrefixNodeLabels), st.PrefixNNodes)
	}

	nodes := make([]Node, st.PrefixNNodes)
	for i := range nodes {
		nodes[i].Downlink = types.InvalidItemPointer
		if st.PrefixNodeLabels != nil {
			nodes[i].Label = append([]byte{}, st.PrefixNodeLabels[i]...)
		}
	}
	prefix := &InnerTuple{HasPrefix: st.PrefixHasPrefix, Nodes: nodes}
	if st.PrefixHasPrefix {
		prefix.Prefix = st.PrefixPrefix
	}
	prefixBytes, err := EncodeInner(prefix, ix.pageSize)
	if err != nil {
		return err
	}
	if len(prefixBytes) > len(raw) {
		return errors.Errorf("split-tuple prefix of %d bytes is larger than the %d byte original", len(prefixBytes), len(raw))
	}

	postfix := &InnerTuple{AllTheSame: inner.AllTheSame, HasPrefix: st.PostfixHasPrefix, Nodes: inner.Nodes}
	if st.PostfixHasPrefix {
		postfix.Prefix = st.PostfixPrefix
	}
	postfixBytes, err := EncodeInner(postfix, ix.pageSize)
	if err != nil {
		return err
	}

	rec := splitTupleRecord{
		BlkPrefix:    blk32(cur.blk),
		OffnumPrefix: uint16(cur.off),
	}
	var newPg *page.Page
	if IsRootBlock(cur.blk) ||
		FreeSpace(cur.pg, 1)+len(raw) < len(prefixBytes)+len(postfixBytes)+types.SlotSize {
		var isNew bool
		newPg, isNew, err = ix.getBuffer(withNulls(innerParity(cur.blk+1), false), len(postfixBytes)+types.SlotSize)
		if err != nil {
			return err
		}
		rec.NewPage = isNew
	}

	// critical section
	mustNot("split tuple", ReplaceItem(cur.pg, cur.off, prefixBytes))
	postPg := cur.pg
	if newPg != nil {
		postPg = newPg
	} else {
		rec.PostfixBlkSame = true
	}
	postOff, err := AddNewItem(postPg, postfixBytes, nil)
	mustNot("split tuple", err)
	postTarget := types.ItemPointer{Block: postPg.Local(), Offset: postOff}
	mustNot("split tuple", SetNodeLink(prefixBytes, st.ChildNodeN, postTarget))
	mustNot("split tuple", updateNodeLink(cur.pg, cur.off, st.ChildNodeN, postTarget))

	rec.BlkPostfix = blk32(postTarget.Block)
	rec.OffnumPostfix = uint16(postOff)
	w := &recordWriter{}
	w.header(&rec).tuple(prefixBytes).tuple(postfixBytes)
	ix.logRecord(RecordSplitTuple, w.bytes(), cur.pg, newPg)

	if newPg != nil {
		ix.release(newPg)
	}
	return nil
}
