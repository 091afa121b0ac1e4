package spgist

import (
	"SpaceDB/storage_engine/page"
	"SpaceDB/types"
	"context"

	"github.com/dustin/go-humanize"
)

/*
Vacuum scans every block after the meta page in order, holding one page lock at a time.

	leaf page      drop entries whose rows are gone (vacuumLeafPage), then age redirects
	root leaf      drop entries physically (vacuumLeafRoot)
	inner page     age redirects and trim trailing placeholders only

A Redirect newer than the scan start may hide entries that moved behind the scan position.
Its target goes on the pending list, which is drained after every page: leaf targets are
vacuumed whole, inner targets contribute their downlinks or their own redirect.

The scan restarts from where it stopped until the file stops growing.
*/

// Stats summarises one vacuum pass.
type Stats struct {
	TuplesRemoved  int64
	NumIndexTuples int64
	PagesFree      int64
	NumPages       int64
}

type pendingItem struct {
	tid  types.ItemPointer
	done bool
}

type bulkDelete struct {
	ix      *Index
	oracle  RowOracle
	stats   *Stats
	myXmin  uint64
	horizon uint64 // redirects with an xid below this are no longer reachable

	pending    []*pendingItem
	pendingSet map[types.ItemPointer]struct{}
}

type noneDeleted struct{}

func (noneDeleted) IsRowDeleted(types.RowPointer) bool { return false }

// BulkDelete removes every entry whose row the oracle reports deleted.
func (ix *Index) BulkDelete(ctx context.Context, oracle RowOracle) (*Stats, error) {
	bds := &bulkDelete{
		ix:         ix,
		oracle:     oracle,
		stats:      &Stats{},
		pendingSet: make(map[types.ItemPointer]struct{}),
	}
	// Without a horizon no redirect ages out and every one carrying an xid is chased.
	if ix.opts.Horizon != nil {
		bds.myXmin = ix.opts.Horizon.OldestXmin()
		bds.horizon = bds.myXmin
	}
	if err := bds.scan(ctx); err != nil {
		return bds.stats, err
	}
	ix.logger.Printf("VACUUM index=%s pages=%s removed=%s remaining=%s free=%s", ix.name,
		humanize.Comma(bds.stats.NumPages), humanize.Comma(bds.stats.TuplesRemoved),
		humanize.Comma(bds.stats.NumIndexTuples), humanize.Comma(bds.stats.PagesFree))
	return bds.stats, nil
}

// VacuumCleanup runs a pass that deletes nothing. It still ages redirects, trims
// placeholders and refreshes the free-space map and the page hints.
func (ix *Index) VacuumCleanup(ctx context.Context) (*Stats, error) {
	return ix.BulkDelete(ctx, noneDeleted{})
}

func (bds *bulkDelete) scan(ctx context.Context) error {
	ix := bds.ix
	blk := MetaBlock + 1
	var numPages types.BlockNumber
	for {
		n, err := ix.store.NumBlocks()
		if err != nil {
			return err
		}
		numPages = n
		if blk >= numPages {
			break
		}
		for ; blk < numPages; blk++ {
			if err := checkCancelled(ctx); err != nil {
				return err
			}
			if err := bds.vacuumPage(blk); err != nil {
				return err
			}
			if len(bds.pending) > 0 {
				if err := bds.processPending(ctx); err != nil {
					return err
				}
			}
		}
	}
	bds.stats.NumPages = int64(numPages)
	return ix.SaveHints()
}

func (bds *bulkDelete) vacuumPage(blk types.BlockNumber) error {
	ix := bds.ix
	pg, err := ix.store.ReadAndLock(blk, page.LockExclusive)
	if err != nil {
		return err
	}
	defer ix.store.UnlockAndUnpin(pg, page.LockExclusive)

	switch {
	case IsNewPage(pg), IsEmptyPage(pg):
	case IsLeafPage(pg) && IsRootBlock(blk):
		if err := bds.vacuumLeafRoot(pg); err != nil {
			return err
		}
	case IsLeafPage(pg):
		if err := bds.vacuumLeafPage(pg, false); err != nil {
			return err
		}
		if err := bds.vacuumRedirectAndPlaceholder(pg); err != nil {
			return err
		}
	default:
		if err := bds.vacuumRedirectAndPlaceholder(pg); err != nil {
			return err
		}
	}

	// roots are never offered for reuse
	if !IsRootBlock(blk) {
		if IsNewPage(pg) || IsEmptyPage(pg) {
			ix.store.RecordFree(blk)
			bds.stats.PagesFree++
		} else {
			ix.setLastUsedPage(pg)
		}
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Leaf pages
// ─────────────────────────────────────────────────────────────────────────────

// leafEdits is the ordered edit script of one vacuumed leaf page.
type leafEdits struct {
	toDead        []types.OffsetNumber
	toPlaceholder []types.OffsetNumber
	moveSrc       []types.OffsetNumber
	moveDest      []types.OffsetNumber
	chainSrc      []types.OffsetNumber
	chainDest     []types.OffsetNumber
}

// apply runs the script: retag, then move by slot swap and retag the sources, then re-chain.
func (e *leafEdits) apply(pg *page.Page) error {
	if err := multiDelete(pg, e.toDead, StateDead, StateDead, types.InvalidItemPointer, 0); err != nil {
		return err
	}
	if err := multiDelete(pg, e.toPlaceholder, StatePlaceholder, StatePlaceholder, types.InvalidItemPointer, 0); err != nil {
		return err
	}
	for i := range e.moveSrc {
		SwapSlots(pg, e.moveSrc[i], e.moveDest[i])
	}
	if err := multiDelete(pg, e.moveSrc, StatePlaceholder, StatePlaceholder, types.InvalidItemPointer, 0); err != nil {
		return err
	}
	for i, src := range e.chainSrc {
		item, err := Item(pg, src)
		if err != nil {
			return err
		}
		if TupleStateOf(item) != StateLive {
			return corruptf("re-chain of %s tuple at %d/%d", TupleStateOf(item), pg.Local(), src)
		}
		SetLeafNext(item, e.chainDest[i])
	}
	return nil
}

// vacuumLeafPage removes deleted entries from a non-root leaf page while keeping every
// chain head in its slot, since the parent's downlink addresses it by offset. forPending
// marks a visit through the pending list, whose live entries are not counted again.
func (bds *bulkDelete) vacuumLeafPage(pg *page.Page, forPending bool) error {
	blk := pg.Local()
	max := MaxOffset(pg)
	predecessor := make([]types.OffsetNumber, int(max)+1)
	deletable := make([]bool, int(max)+1)
	nDeletable := 0

	for off := types.FirstOffsetNumber; off <= max; off++ {
		item, err := Item(pg, off)
		if err != nil {
			return err
		}
		switch TupleStateOf(item) {
		case StateLive:
			if bds.oracle.IsRowDeleted(LeafRow(item)) {
				bds.stats.TuplesRemoved++
				deletable[off] = true
				nDeletable++
			} else if !forPending {
				bds.stats.NumIndexTuples++
			}
			if next := LeafNext(item); next != types.InvalidOffsetNumber {
				if next > max || predecessor[next] != types.InvalidOffsetNumber {
					return corruptf("inconsistent tuple chain links on block %d", blk)
				}
				predecessor[next] = off
			}
		case StateRedirect:
			dt, err := DecodeDead(item)
			if err != nil {
				return err
			}
			if dt.Xid != 0 && dt.Xid >= bds.myXmin {
				bds.addPending(dt.Target)
			}
		}
	}
	if nDeletable == 0 {
		return nil
	}

	e := &leafEdits{}
	for head := types.FirstOffsetNumber; head <= max; head++ {
		item, err := Item(pg, head)
		if err != nil {
			return err
		}
		if TupleStateOf(item) != StateLive || predecessor[head] != types.InvalidOffsetNumber {
			continue
		}
		intervening := false
		prevLive := head
		if deletable[head] {
			prevLive = types.InvalidOffsetNumber
		}
		for j := LeafNext(item); j != types.InvalidOffsetNumber; {
			lt, err := Item(pg, j)
			if err != nil {
				return err
			}
			if TupleStateOf(lt) != StateLive {
				return corruptf("unexpected %s tuple in leaf chain at %d/%d", TupleStateOf(lt), blk, j)
			}
			switch {
			case deletable[j]:
				e.toPlaceholder = append(e.toPlaceholder, j)
				intervening = true
			case prevLive == types.InvalidOffsetNumber:
				// first survivor takes over the head slot
				e.moveSrc = append(e.moveSrc, j)
				e.moveDest = append(e.moveDest, head)
				prevLive = head
				intervening = false
			default:
				if intervening {
					e.chainSrc = append(e.chainSrc, prevLive)
					e.chainDest = append(e.chainDest, j)
				}
				prevLive = j
				intervening = false
			}
			j = LeafNext(lt)
		}

		switch {
		case prevLive == types.InvalidOffsetNumber:
			e.toDead = append(e.toDead, head)
		case intervening:
			e.chainSrc = append(e.chainSrc, prevLive)
			e.chainDest = append(e.chainDest, types.InvalidOffsetNumber)
		}
	}

	if nDeletable != len(e.toDead)+len(e.toPlaceholder)+len(e.moveSrc) {
		return corruptf("inconsistent counts of deletable tuples on block %d", blk)
	}

	// critical section
	mustNot("vacuum leaf", e.apply(pg))

	rec := vacuumLeafRecord{
		Blk:          blk32(blk),
		NDead:        uint16(len(e.toDead)),
		NPlaceholder: uint16(len(e.toPlaceholder)),
		NMove:        uint16(len(e.moveSrc)),
		NChain:       uint16(len(e.chainSrc)),
		State:        bds.ix.state(0),
	}
	w := &recordWriter{}
	w.header(&rec).offsets(e.toDead).offsets(e.toPlaceholder).
		offsets(e.moveSrc).offsets(e.moveDest).offsets(e.chainSrc).offsets(e.chainDest)
	bds.ix.logRecord(RecordVacuumLeaf, w.bytes(), pg)
	return nil
}

// vacuumLeafRoot deletes entries from a root that is still a leaf. Nothing points into a
// root leaf by offset, so the slots are removed outright.
func (bds *bulkDelete) vacuumLeafRoot(pg *page.Page) error {
	var toDelete []types.OffsetNumber
	for off := types.FirstOffsetNumber; off <= MaxOffset(pg); off++ {
		item, err := Item(pg, off)
		if err != nil {
			return err
		}
		if TupleStateOf(item) != StateLive {
			return corruptf("unexpected %s tuple on root leaf %d", TupleStateOf(item), pg.Local())
		}
		if bds.oracle.IsRowDeleted(LeafRow(item)) {
			bds.stats.TuplesRemoved++
			toDelete = append(toDelete, off)
		} else {
			bds.stats.NumIndexTuples++
		}
	}
	if len(toDelete) == 0 {
		return nil
	}

	mustNot("vacuum root", DeleteItems(pg, toDelete))

	rec := vacuumRootRecord{
		Blk:         blk32(pg.Local()),
		NDelete:     uint16(len(toDelete)),
		StoresNulls: StoresNulls(pg),
	}
	w := &recordWriter{}
	w.header(&rec).offsets(toDelete)
	bds.ix.logRecord(RecordVacuumRoot, w.bytes(), pg)
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Redirect aging
// ─────────────────────────────────────────────────────────────────────────────

func (bds *bulkDelete) redirectRemovable(xid uint64) bool {
	if bds.ix.opts.Horizon == nil {
		return false
	}
	return xid == 0 || xid < bds.horizon
}

// vacuumRedirectAndPlaceholder turns Redirects no reader can still follow into
// Placeholders, then drops the trailing run of Placeholders. The backward scan stops once
// no Redirect is left and a non-placeholder has been seen.
func (bds *bulkDelete) vacuumRedirectAndPlaceholder(pg *page.Page) error {
	max := MaxOffset(pg)
	nRedirect := NRedirection(pg)
	var toPlaceholder []types.OffsetNumber
	firstPlaceholder := types.InvalidOffsetNumber
	hasNonPlaceholder := false
	var newestXid uint64

	for off := max; off >= types.FirstOffsetNumber && (nRedirect > 0 || !hasNonPlaceholder); off-- {
		item, err := Item(pg, off)
		if err != nil {
			return err
		}
		state := TupleStateOf(item)
		if state == StateRedirect {
			dt, err := DecodeDead(item)
			if err != nil {
				return err
			}
			if bds.redirectRemovable(dt.Xid) {
				state = StatePlaceholder
				nRedirect--
				toPlaceholder = append(toPlaceholder, off)
				newestXid = max64(newestXid, dt.Xid)
			}
		}
		if state == StatePlaceholder {
			if !hasNonPlaceholder {
				firstPlaceholder = off
			}
		} else {
			hasNonPlaceholder = true
		}
	}
	if len(toPlaceholder) == 0 && firstPlaceholder == types.InvalidOffsetNumber {
		return nil
	}

	// critical section
	mustNot("vacuum redirect", ageRedirects(pg, toPlaceholder, firstPlaceholder))

	rec := vacuumRedirectRecord{
		Blk:               blk32(pg.Local()),
		NToPlaceholder:    uint16(len(toPlaceholder)),
		FirstPlaceholder:  uint16(firstPlaceholder),
		NewestRedirectXid: newestXid,
	}
	w := &recordWriter{}
	w.header(&rec).offsets(toPlaceholder)
	bds.ix.logRecord(RecordVacuumRedirect, w.bytes(), pg)
	return nil
}

// ageRedirects converts the Redirects at offs and removes every slot from firstPlaceholder on.
func ageRedirects(pg *page.Page, offs []types.OffsetNumber, firstPlaceholder types.OffsetNumber) error {
	if len(offs) > 0 {
		replace := make(map[types.OffsetNumber][]byte, len(offs))
		for _, off := range offs {
			item, err := Item(pg, off)
			if err != nil {
				return err
			}
			if TupleStateOf(item) != StateRedirect {
				return corruptf("aging %s tuple at %d/%d", TupleStateOf(item), pg.Local(), off)
			}
			replace[off] = EncodeDead(StatePlaceholder, types.InvalidItemPointer, 0)
		}
		if err := rewrite(pg, replace, nil); err != nil {
			return err
		}
		setNRedirection(pg, NRedirection(pg)-len(offs))
		setNPlaceholder(pg, NPlaceholder(pg)+len(offs))
	}

	if firstPlaceholder == types.InvalidOffsetNumber {
		return nil
	}
	max := MaxOffset(pg)
	if firstPlaceholder > max {
		return corruptf("placeholder run from %d past the end of block %d", firstPlaceholder, pg.Local())
	}
	trailing := make([]types.OffsetNumber, 0, max-firstPlaceholder+1)
	for off := firstPlaceholder; off <= max; off++ {
		trailing = append(trailing, off)
	}
	if NPlaceholder(pg) < len(trailing) {
		return corruptf("block %d counts %d placeholders, trimming %d", pg.Local(), NPlaceholder(pg), len(trailing))
	}
	if err := DeleteItems(pg, trailing); err != nil {
		return err
	}
	setNPlaceholder(pg, NPlaceholder(pg)-len(trailing))
	return nil
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// ─────────────────────────────────────────────────────────────────────────────
// Pending list
// ─────────────────────────────────────────────────────────────────────────────

func (bds *bulkDelete) addPending(tid types.ItemPointer) {
	if _, ok := bds.pendingSet[tid]; ok {
		return
	}
	bds.pendingSet[tid] = struct{}{}
	bds.pending = append(bds.pending, &pendingItem{tid: tid})
}

// processPending drains the pending list to a fixpoint. Items may be appended while it runs.
func (bds *bulkDelete) processPending(ctx context.Context) error {
	ix := bds.ix
	for i := 0; i < len(bds.pending); i++ {
		item := bds.pending[i]
		if item.done {
			continue
		}
		if err := checkCancelled(ctx); err != nil {
			return err
		}
		blk := item.tid.Block
		if blk == types.InvalidBlockNumber {
			item.done = true
			continue
		}
		pg, err := ix.store.ReadAndLock(blk, page.LockExclusive)
		if err != nil {
			return err
		}
		err = bds.visitPending(pg, i)
		ix.store.UnlockAndUnpin(pg, page.LockExclusive)
		if err != nil {
			return err
		}
	}
	bds.pending = bds.pending[:0]
	clear(bds.pendingSet)
	return nil
}

func (bds *bulkDelete) visitPending(pg *page.Page, at int) error {
	blk := pg.Local()
	switch {
	case IsNewPage(pg) || IsDeletedPage(pg):
		bds.pending[at].done = true

	case IsLeafPage(pg):
		if IsRootBlock(blk) {
			return corruptf("redirection leads to root block %d of index %q", blk, bds.ix.name)
		}
		if err := bds.vacuumLeafPage(pg, true); err != nil {
			return err
		}
		if err := bds.vacuumRedirectAndPlaceholder(pg); err != nil {
			return err
		}
		bds.ix.setLastUsedPage(pg)
		// the whole page is done, so are later items on it
		for _, it := range bds.pending[at:] {
			if it.tid.Block == blk {
				it.done = true
			}
		}

	default:
		// collect every pending inner tuple on this page while it is locked
		for j := at; j < len(bds.pending); j++ {
			it := bds.pending[j]
			if it.done || it.tid.Block != blk {
				continue
			}
			raw, err := Item(pg, it.tid.Offset)
			if err != nil {
				return err
			}
			switch TupleStateOf(raw) {
			case StateLive:
				inner, err := DecodeInner(raw)
				if err != nil {
					return err
				}
				for _, n := range inner.Nodes {
					if n.Downlink.IsValid() {
						bds.addPending(n.Downlink)
					}
				}
			case StateRedirect:
				dt, err := DecodeDead(raw)
				if err != nil {
					return err
				}
				bds.addPending(dt.Target)
			default:
				return corruptf("unexpected %s tuple at pending %d/%d", TupleStateOf(raw), blk, it.tid.Offset)
			}
			it.done = true
		}
	}
	return nil
}
