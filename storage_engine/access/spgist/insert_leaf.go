package spgist

import (
	"SpaceDB/storage_engine/access/spgist/opclass"
	"SpaceDB/storage_engine/page"
	"SpaceDB/types"

	"github.com/pkg/errors"
)

// ─────────────────────────────────────────────────────────────────────────────
// Shared page edits
// ─────────────────────────────────────────────────────────────────────────────

// multiDelete turns the tuples at offs into dead tuples: offs[0] becomes firstState,
// the rest restState. Redirects point at target and carry xid.
func multiDelete(pg *page.Page, offs []types.OffsetNumber, firstState, restState TupleState, target types.ItemPointer, xid uint64) error {
	if len(offs) == 0 {
		return nil
	}
	max := MaxOffset(pg)
	replace := make(map[types.OffsetNumber][]byte, len(offs))
	nRedirect, nPlaceholder := 0, 0
	for i, off := range offs {
		if off < types.FirstOffsetNumber || off > max {
			return corruptf("delete of offset %d on block %d (max %d)", off, pg.Local(), max)
		}
		state := restState
		if i == 0 {
			state = firstState
		}
		replace[off] = EncodeDead(state, target, xid)
		switch state {
		case StateRedirect:
			nRedirect++
		case StatePlaceholder:
			nPlaceholder++
		}
	}
	if err := rewrite(pg, replace, nil); err != nil {
		return err
	}
	setNRedirection(pg, NRedirection(pg)+nRedirect)
	setNPlaceholder(pg, NPlaceholder(pg)+nPlaceholder)
	return nil
}

// updateNodeLink points node nodeN of the inner tuple at (pg, off) to target.
func updateNodeLink(pg *page.Page, off types.OffsetNumber, nodeN int, target types.ItemPointer) error {
	raw, err := Item(pg, off)
	if err != nil {
		return err
	}
	return SetNodeLink(raw, nodeN, target)
}

func saveNodeLink(parent *pageDesc, target types.ItemPointer) error {
	return updateNodeLink(parent.pg, parent.off, parent.node, target)
}

// deadStateFor is what an abandoned slot becomes: a Redirect for concurrent readers,
// or a Placeholder during build.
func (ix *Index) deadStateFor() TupleState {
	if ix.opts.IsBuild {
		return StatePlaceholder
	}
	return StateRedirect
}

func bumpDeadCounter(pg *page.Page, state TupleState) {
	switch state {
	case StateRedirect:
		setNRedirection(pg, NRedirection(pg)+1)
	case StatePlaceholder:
		setNPlaceholder(pg, NPlaceholder(pg)+1)
	}
}

// walkChain visits the leaf chain starting at head. A cycle or an offset past the
// page end is corruption.
func walkChain(pg *page.Page, head types.OffsetNumber, fn func(off types.OffsetNumber, item []byte) error) error {
	max := MaxOffset(pg)
	steps := 0
	for off := head; off != types.InvalidOffsetNumber; {
		if steps++; steps > int(max) {
			return corruptf("leaf chain from offset %d on block %d does not end", head, pg.Local())
		}
		item, err := Item(pg, off)
		if err != nil {
			return err
		}
		next := LeafNext(item)
		if err := fn(off, item); err != nil {
			return err
		}
		off = next
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// AddLeaf
// ─────────────────────────────────────────────────────────────────────────────

// addLeafTuple stores leaf on current's page, which has room for it. On a root or a
// fresh page it stands alone; otherwise it becomes the second member of the chain.
func (in *insertion) addLeafTuple(leaf *LeafTuple) error {
	ix, cur := in.ix, &in.current

	leaf.Next = types.InvalidOffsetNumber
	data, err := EncodeLeaf(leaf)
	if err != nil {
		return err
	}
	rec := addLeafRecord{
		NewPage:     in.isNew,
		StoresNulls: in.isNull,
		BlkLeaf:     blk32(cur.blk),
		BlkParent:   blk32(types.InvalidBlockNumber),
	}
	var parentPg *page.Page

	if cur.off == types.InvalidOffsetNumber || IsRootBlock(cur.blk) {
		off, err := AddNewItem(cur.pg, data, nil)
		mustNot("add leaf", err)
		cur.off = off
		rec.OffnumLeaf = uint16(off)
		if in.parent.pg != nil {
			rec.BlkParent = blk32(in.parent.blk)
			rec.OffnumParent = uint16(in.parent.off)
			rec.NodeI = uint16(in.parent.node)
			mustNot("add leaf", saveNodeLink(&in.parent, types.ItemPointer{Block: cur.blk, Offset: off}))
			parentPg = in.parent.pg
		}
	} else {
		head, err := Item(cur.pg, cur.off)
		if err != nil {
			return err
		}
		switch TupleStateOf(head) {
		case StateLive:
			SetLeafNext(data, LeafNext(head))
			off, err := AddNewItem(cur.pg, data, nil)
			mustNot("add leaf", err)
			head, err = Item(cur.pg, cur.off)
			mustNot("add leaf", err)
			SetLeafNext(head, off)
			rec.OffnumLeaf = uint16(off)
			rec.OffnumHeadLeaf = uint16(cur.off)
		case StateDead:
			mustNot("add leaf", ReplaceItem(cur.pg, cur.off, data))
			rec.OffnumLeaf = uint16(cur.off)
			rec.OffnumHeadLeaf = uint16(cur.off)
		default:
			return corruptf("unexpected %s tuple heading a leaf chain at %d/%d", TupleStateOf(head), cur.blk, cur.off)
		}
	}

	w := &recordWriter{}
	w.header(&rec).tuple(data)
	ix.logRecord(RecordAddLeaf, w.bytes(), cur.pg, parentPg)
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// MoveLeafs
// ─────────────────────────────────────────────────────────────────────────────

// checkSplitConditions sums the chain at current. Roots report sizes that force a split.
func (in *insertion) checkSplitConditions() (int, int, error) {
	if IsRootBlock(in.current.blk) {
		return in.ix.pageSize, in.ix.pageSize, nil
	}
	total, n := 0, 0
	err := walkChain(in.current.pg, in.current.off, func(off types.OffsetNumber, item []byte) error {
		switch TupleStateOf(item) {
		case StateLive:
			n++
			total += len(item) + types.SlotSize
		case StateDead:
			if off != in.current.off || LeafNext(item) != types.InvalidOffsetNumber {
				return corruptf("dead tuple inside leaf chain at %d/%d", in.current.blk, off)
			}
		default:
			return corruptf("unexpected %s tuple in leaf chain at %d/%d", TupleStateOf(item), in.current.blk, off)
		}
		return nil
	})
	return total, n, err
}

// moveLeafs relocates the whole chain at current plus the new tuple to another leaf page,
// leaving a Redirect at the old head.
func (in *insertion) moveLeafs(leaf *LeafTuple) error {
	ix, cur := in.ix, &in.current
	if in.parent.pg == nil {
		return corruptf("leaf chain at %d/%d has no parent", cur.blk, cur.off)
	}

	size := in.leafSize
	var delOffs []types.OffsetNumber
	var moving [][]byte
	replaceDead := false
	err := walkChain(cur.pg, cur.off, func(off types.OffsetNumber, item []byte) error {
		switch TupleStateOf(item) {
		case StateLive:
			delOffs = append(delOffs, off)
			moving = append(moving, append([]byte(nil), item...))
			size += len(item) + types.SlotSize
		case StateDead:
			if off != cur.off || LeafNext(item) != types.InvalidOffsetNumber {
				return corruptf("dead tuple inside leaf chain at %d/%d", cur.blk, off)
			}
			delOffs = append(delOffs, off)
			replaceDead = true
		default:
			return corruptf("unexpected %s tuple in leaf chain at %d/%d", TupleStateOf(item), cur.blk, off)
		}
		return nil
	})
	if err != nil {
		return err
	}

	leaf.Next = types.InvalidOffsetNumber
	data, err := EncodeLeaf(leaf)
	if err != nil {
		return err
	}

	dst, isNew, err := ix.getBuffer(withNulls(KindLeaf, in.isNull), size)
	if err != nil {
		return err
	}
	dstBlk := dst.Local()
	if dstBlk == cur.blk {
		ix.store.UnlockAndUnpin(dst, page.LockExclusive)
		return corruptf("leaf chain move to its own block %d", dstBlk)
	}

	// critical section
	toInsert := make([]types.OffsetNumber, 0, len(moving)+1)
	startOff := types.InvalidOffsetNumber
	r := types.InvalidOffsetNumber
	for _, t := range moving {
		SetLeafNext(t, r)
		r, err = AddNewItem(dst, t, &startOff)
		mustNot("move leafs", err)
		toInsert = append(toInsert, r)
	}
	SetLeafNext(data, r)
	r, err = AddNewItem(dst, data, &startOff)
	mustNot("move leafs", err)
	toInsert = append(toInsert, r)
	moving = append(moving, data)

	target := types.ItemPointer{Block: dstBlk, Offset: r}
	mustNot("move leafs", multiDelete(cur.pg, delOffs, ix.deadStateFor(), StatePlaceholder, target, in.entry.Xid))
	mustNot("move leafs", saveNodeLink(&in.parent, target))

	rec := moveLeafsRecord{
		NMoves:       uint16(len(delOffs)),
		NInsert:      uint16(len(toInsert)),
		NewPage:      isNew,
		ReplaceDead:  replaceDead,
		StoresNulls:  in.isNull,
		BlkSrc:       blk32(cur.blk),
		BlkDst:       blk32(dstBlk),
		BlkParent:    blk32(in.parent.blk),
		OffnumParent: uint16(in.parent.off),
		NodeI:        uint16(in.parent.node),
		State:        ix.state(in.entry.Xid),
	}
	w := &recordWriter{}
	w.header(&rec).offsets(delOffs).offsets(toInsert)
	for _, t := range moving {
		w.tuple(t)
	}
	ix.logRecord(RecordMoveLeafs, w.bytes(), dst, cur.pg, in.parent.pg)

	ix.release(dst)
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// PickSplit
// ─────────────────────────────────────────────────────────────────────────────

// checkAllTheSame detects a split that put every tuple into one node and replaces it with
// a round-robin assignment over AllTheSameNodes copies of that node. When the tuples do
// not fit one page the new tuple is left out of the test; if it then sits alone it is not
// included in the split. Returns allTheSame and includeNew.
func (ix *Index) checkAllTheSame(nTuples int, out *opclass.PickSplitOut, tooBig bool) (bool, bool) {
	if nTuples <= 1 {
		return false, true
	}
	limit := nTuples
	if tooBig {
		limit--
	}
	theNode := out.MapTuplesToNodes[0]
	for i := 1; i < limit; i++ {
		if out.MapTuplesToNodes[i] != theNode {
			return false, true
		}
	}

	includeNew := !(tooBig && out.MapTuplesToNodes[nTuples-1] != theNode)
	out.NNodes = ix.opts.AllTheSameNodes
	for i := range nTuples {
		out.MapTuplesToNodes[i] = i % out.NNodes
	}
	if out.NodeLabels != nil {
		label := out.NodeLabels[theNode]
		out.NodeLabels = make([]opclass.Datum, out.NNodes)
		for i := range out.NodeLabels {
			out.NodeLabels[i] = label
		}
	}
	return true, includeNew
}

func validatePickSplit(out *opclass.PickSplitOut, nTuples int) error {
	if out.NNodes <= 0 || out.NNodes > MaxNodes {
		return errors.Errorf("pick-split returned %d nodes", out.NNodes)
	}
	if len(out.MapTuplesToNodes) != nTuples || len(out.LeafTupleDatums) != nTuples {
		return errors.Errorf("pick-split mapped %d and reformed %d of %d tuples",
			len(out.MapTuplesToNodes), len(out.LeafTupleDatums), nTuples)
	}
	if out.NodeLabels != nil && len(out.NodeLabels) != out.NNodes {
		return errors.Errorf("pick-split returned %d labels for %d nodes", len(out.NodeLabels), out.NNodes)
	}
	for i, n := range out.MapTuplesToNodes {
		if n < 0 || n >= out.NNodes {
			return errors.Errorf("inconsistent pick-split result: tuple %d mapped to node %d of %d", i, n, out.NNodes)
		}
	}
	return nil
}

// doPickSplit replaces the leaf chain at current (or every tuple of a root leaf) with a new
// inner tuple whose nodes lead to the redistributed leaves. It reports whether the new
// tuple was placed too; if not, current is left on the new inner tuple.
func (in *insertion) doPickSplit(newLeaf *LeafTuple) (bool, error) {
	ix, cur, parent := in.ix, &in.current, &in.parent
	isRoot := IsRootBlock(cur.blk)

	var (
		oldLeafs      []*LeafTuple
		datums        []opclass.Datum
		toDelete      []types.OffsetNumber
		spaceToDelete int
	)
	collect := func(raw []byte) error {
		lt, err := DecodeLeaf(raw)
		if err != nil {
			return err
		}
		oldLeafs = append(oldLeafs, lt)
		if in.isNull {
			datums = append(datums, nil)
		} else {
			datums = append(datums, lt.Key)
		}
		return nil
	}

	if isRoot {
		for off := types.FirstOffsetNumber; off <= MaxOffset(cur.pg); off++ {
			raw, err := Item(cur.pg, off)
			if err != nil {
				return false, err
			}
			if TupleStateOf(raw) != StateLive {
				return false, corruptf("unexpected %s tuple on root leaf %d", TupleStateOf(raw), cur.blk)
			}
			if err := collect(raw); err != nil {
				return false, err
			}
			toDelete = append(toDelete, off)
			spaceToDelete += len(raw) + types.SlotSize
		}
	} else {
		err := walkChain(cur.pg, cur.off, func(off types.OffsetNumber, raw []byte) error {
			switch TupleStateOf(raw) {
			case StateLive:
				if err := collect(raw); err != nil {
					return err
				}
				toDelete = append(toDelete, off)
				spaceToDelete += len(raw) - DeadTupleSize
			case StateDead:
				if off != cur.off || LeafNext(raw) != types.InvalidOffsetNumber {
					return corruptf("dead tuple inside leaf chain at %d/%d", cur.blk, off)
				}
				toDelete = append(toDelete, off)
			default:
				return corruptf("unexpected %s tuple in leaf chain at %d/%d", TupleStateOf(raw), cur.blk, off)
			}
			return nil
		})
		if err != nil {
			return false, err
		}
	}
	nToInsert := len(oldLeafs)

	// the new tuple always takes part in the split decision
	oldLeafs = append(oldLeafs, newLeaf)
	if in.isNull {
		datums = append(datums, nil)
	} else {
		datums = append(datums, newLeaf.Key)
	}
	nTuples := len(oldLeafs)

	var out *opclass.PickSplitOut
	if !in.isNull {
		var err error
		out, err = ix.policy.PickSplit(&opclass.PickSplitIn{Datums: datums, Level: in.level})
		if err != nil {
			return false, errors.Wrapf(err, "%s pick-split", ix.policy.Name())
		}
	} else {
		out = &opclass.PickSplitOut{
			NNodes:           1,
			MapTuplesToNodes: make([]int, nTuples),
			LeafTupleDatums:  make([]opclass.Datum, nTuples),
		}
	}
	if err := validatePickSplit(out, nTuples); err != nil {
		return false, errors.Wrap(err, ix.policy.Name())
	}

	newLeafs := make([]*LeafTuple, nTuples)
	totalLeafSizes := 0
	for i, old := range oldLeafs {
		lt := &LeafTuple{KeyNull: in.isNull, Payload: old.Payload, Row: old.Row}
		if !in.isNull {
			lt.Key = out.LeafTupleDatums[i]
		}
		newLeafs[i] = lt
		totalLeafSizes += lt.Size() + types.SlotSize
	}

	allTheSame, includeNew := ix.checkAllTheSame(nTuples, out, totalLeafSizes > ix.capacity)
	maxToInclude := nTuples
	if !includeNew {
		maxToInclude--
		totalLeafSizes -= newLeafs[nTuples-1].Size() + types.SlotSize
	}

	nodes := make([]Node, out.NNodes)
	for i := range nodes {
		nodes[i].Downlink = types.InvalidItemPointer
		if out.NodeLabels != nil {
			nodes[i].Label = append([]byte{}, out.NodeLabels[i]...)
		}
	}
	innerTuple := &InnerTuple{AllTheSame: allTheSame, HasPrefix: out.HasPrefix, Nodes: nodes}
	if out.HasPrefix {
		innerTuple.Prefix = out.Prefix
	}
	innerBytes, err := EncodeInner(innerTuple, ix.pageSize)
	if err != nil {
		return false, err
	}

	leafSizes := make([]int, out.NNodes)
	for i := 0; i < maxToInclude; i++ {
		leafSizes[out.MapTuplesToNodes[i]] += newLeafs[i].Size() + types.SlotSize
	}

	leafBytes := make([][]byte, nTuples)
	for i, lt := range newLeafs {
		if leafBytes[i], err = EncodeLeaf(lt); err != nil {
			return false, err
		}
	}

	// The inner tuple joins the parent page when there is room, except on a root,
	// which holds exactly one inner tuple. A root split reuses the root itself.
	var newInner *page.Page
	initInner := false
	switch {
	case parent.pg != nil && !IsRootBlock(parent.blk) && FreeSpace(parent.pg, 1) >= len(innerBytes)+types.SlotSize:
		newInner = parent.pg
	case parent.pg != nil:
		newInner, initInner, err = ix.getBuffer(withNulls(innerParity(parent.blk+1), in.isNull), len(innerBytes)+types.SlotSize)
		if err != nil {
			return false, err
		}
	}
	releaseInner := func() {
		if newInner != nil && newInner != parent.pg {
			ix.store.UnlockAndUnpin(newInner, page.LockExclusive)
		}
	}

	currentFree := 0
	if !isRoot {
		currentFree = ExactFreeSpace(cur.pg) + spaceToDelete
	}

	insertedNew := false
	leafPageSelect := make([]uint8, nTuples)
	var newLeafPg *page.Page
	initDest := false

	switch {
	case totalLeafSizes <= currentFree:
		if includeNew {
			nToInsert++
			insertedNew = true
		}

	case nTuples == 1 && totalLeafSizes > ix.capacity:
		// a long value being suffixed: no leaf page can take it yet

	default:
		newLeafPg, initDest, err = ix.getBuffer(withNulls(KindLeaf, in.isNull), min(totalLeafSizes, ix.capacity))
		if err != nil {
			releaseInner()
			return false, err
		}

		// node groups cannot be divided: chains never cross pages
		nodePageSelect := make([]uint8, out.NNodes)
		assign := func() bool {
			curSpace, newSpace := currentFree, ExactFreeSpace(newLeafPg)
			for i, sz := range leafSizes {
				if sz <= curSpace {
					nodePageSelect[i] = 0
					curSpace -= sz
				} else {
					nodePageSelect[i] = 1
					newSpace -= sz
				}
			}
			return curSpace >= 0 && newSpace >= 0
		}
		ok := assign()
		if ok && includeNew {
			nToInsert++
			insertedNew = true
		} else if !ok && includeNew {
			n := out.MapTuplesToNodes[nTuples-1]
			leafSizes[n] -= newLeafs[nTuples-1].Size() + types.SlotSize
			ok = assign()
		}
		if !ok {
			ix.store.UnlockAndUnpin(newLeafPg, page.LockExclusive)
			releaseInner()
			return false, errors.New("failed to divide leaf tuple groups across pages")
		}
		for i := 0; i < nToInsert; i++ {
			leafPageSelect[i] = nodePageSelect[out.MapTuplesToNodes[i]]
		}
	}

	// critical section
	xid := in.entry.Xid
	rec := pickSplitRecord{
		IsRootSplit: isRoot,
		InitSrc:     in.isNew,
		StoresNulls: in.isNull,
		BlkSrc:      blk32(cur.blk),
		BlkDest:     blk32(types.InvalidBlockNumber),
		BlkInner:    blk32(types.InvalidBlockNumber),
		BlkParent:   blk32(types.InvalidBlockNumber),
		State:       ix.state(xid),
	}
	redirectPos := types.InvalidOffsetNumber
	if !isRoot {
		switch {
		case ix.opts.IsBuild && len(toDelete)+NPlaceholder(cur.pg) == int(MaxOffset(cur.pg)):
			InitIndexPage(cur.pg, withNulls(KindLeaf, in.isNull).pageFlags())
			rec.InitSrc = true
		case in.isNew:
		default:
			rec.NDelete = uint16(len(toDelete))
			if !ix.opts.IsBuild {
				if len(toDelete) > 0 {
					redirectPos = toDelete[0]
				}
				// target unknown until the inner tuple is placed
				placeholderTarget := types.ItemPointer{Block: MetaBlock, Offset: types.FirstOffsetNumber}
				mustNot("pick split", multiDelete(cur.pg, toDelete, StateRedirect, StatePlaceholder, placeholderTarget, xid))
			} else {
				mustNot("pick split", multiDelete(cur.pg, toDelete, StatePlaceholder, StatePlaceholder, types.InvalidItemPointer, 0))
			}
		}
	}

	leafPages := [2]*page.Page{cur.pg, newLeafPg}
	startOffs := [2]types.OffsetNumber{types.InvalidOffsetNumber, types.InvalidOffsetNumber}
	toInsert := make([]types.OffsetNumber, nToInsert)
	for i := 0; i < nToInsert; i++ {
		sel := leafPageSelect[i]
		dst := leafPages[sel]
		n := out.MapTuplesToNodes[i]
		next := types.InvalidOffsetNumber
		if nodes[n].Downlink.IsValid() {
			if nodes[n].Downlink.Block != dst.Local() {
				mustNot("pick split", corruptf("node %d chain split across blocks", n))
			}
			next = nodes[n].Downlink.Offset
		}
		SetLeafNext(leafBytes[i], next)
		off, err := AddNewItem(dst, leafBytes[i], &startOffs[sel])
		mustNot("pick split", err)
		toInsert[i] = off
		nodes[n].Downlink = types.ItemPointer{Block: dst.Local(), Offset: off}
	}
	for n, node := range nodes {
		mustNot("pick split", SetNodeLink(innerBytes, n, node.Downlink))
	}

	if newLeafPg != nil {
		rec.BlkDest = blk32(newLeafPg.Local())
		rec.InitDest = initDest
	}

	saveCurrent := cur.pg
	switch {
	case newInner != nil:
		off, err := AddNewItem(newInner, innerBytes, nil)
		mustNot("pick split", err)
		rec.InnerIsParent = newInner == parent.pg
		rec.InitInner = initInner
		rec.OffnumParent = uint16(parent.off)
		rec.NodeI = uint16(parent.node)
		rec.BlkParent = blk32(parent.blk)

		cur.blk, cur.pg, cur.off = newInner.Local(), newInner, off
		target := types.ItemPointer{Block: cur.blk, Offset: off}
		mustNot("pick split", saveNodeLink(parent, target))
		if redirectPos != types.InvalidOffsetNumber {
			item, err := Item(saveCurrent, redirectPos)
			mustNot("pick split", err)
			mustNot("pick split", SetRedirectTarget(item, target))
		}

	default:
		// the root leaf becomes an inner page in place
		InitIndexPage(cur.pg, withNulls(KindInnerParity0, in.isNull).pageFlags())
		off, err := AddItem(cur.pg, innerBytes)
		mustNot("pick split", err)
		if off != types.FirstOffsetNumber {
			mustNot("pick split", corruptf("root inner tuple landed at offset %d", off))
		}
		cur.off = off
		rec.InitInner = true
		saveCurrent = nil
	}
	rec.BlkInner = blk32(cur.blk)
	rec.OffnumInner = uint16(cur.off)
	rec.NInsert = uint16(nToInsert)

	w := &recordWriter{}
	w.header(&rec).offsets(toDelete[:rec.NDelete]).offsets(toInsert).flags(leafPageSelect[:nToInsert]).tuple(innerBytes)
	for i := 0; i < nToInsert; i++ {
		w.tuple(leafBytes[i])
	}
	var parentPg *page.Page
	if parent.pg != nil {
		parentPg = parent.pg
	}
	ix.logRecord(RecordPickSplit, w.bytes(), saveCurrent, newLeafPg, cur.pg, parentPg)

	ix.logger.Printf("PICKSPLIT index=%s block=%d tuples=%d nodes=%d allTheSame=%v root=%v insertedNew=%v",
		ix.name, rec.BlkSrc, nTuples, out.NNodes, allTheSame, isRoot, insertedNew)

	if newLeafPg != nil {
		ix.release(newLeafPg)
	}
	if saveCurrent != nil && saveCurrent != cur.pg && saveCurrent != parent.pg {
		ix.release(saveCurrent)
	}
	return insertedNew, nil
}
