package spgist

import (
	"SpaceDB/storage_engine/access/spgist/opclass"
	"SpaceDB/storage_engine/page"
	"SpaceDB/types"
	"container/heap"
	"context"

	"github.com/pkg/errors"
)

/*
Searches walk the tree from a root, one shared page lock at a time. Work items are
tuple addresses plus what the levels above reconstructed:

	inner tuple   InnerConsistent picks the nodes to visit
	leaf chain    LeafConsistent filters every live member (a root leaf: every tuple)
	Redirect      the item moves to the redirect target; a Redirect at a leaf chain head
	              or in an inner slot means a concurrent insert moved the tuple

Plain scans use a stack. Nearest-neighbour scans order work items and results by
distance in one heap, so results come out closest first.
*/

// Query selects the entries a scan returns.
type Query struct {
	Keys []opclass.ScanKey
	// IsNull scans the nulls tree instead of the value tree.
	IsNull bool
	// ReturnData asks for the indexed key to be rebuilt; only policies that can return
	// data honour it.
	ReturnData bool
	OrderBys   []opclass.Datum
}

// Match is one entry returned by a scan.
type Match struct {
	Row      types.RowPointer
	Key      opclass.Datum // set when the key was reconstructed
	Payload  []byte
	Recheck  bool
	Distance float64 // first order-by distance of a nearest-neighbour scan
}

type scanItem struct {
	ptr           types.ItemPointer
	level         int
	reconstructed opclass.Datum
	traversal     any

	// ordered scans only
	distance float64
	result   *Match
}

type scan struct {
	ix         *Index
	q          Query
	returnData bool
}

func (ix *Index) newScan(q Query) *scan {
	return &scan{ix: ix, q: q, returnData: q.ReturnData && ix.config.CanReturnData}
}

func (s *scan) root() *scanItem {
	blk := RootBlock
	if s.q.IsNull {
		blk = NullRootBlock
	}
	return &scanItem{ptr: types.ItemPointer{Block: blk, Offset: types.FirstOffsetNumber}}
}

// Search calls fn for every matching entry until fn returns false.
func (ix *Index) Search(ctx context.Context, q Query, fn func(Match) bool) error {
	s := ix.newScan(q)
	stack := []*scanItem{s.root()}
	for len(stack) > 0 {
		if err := checkCancelled(ctx); err != nil {
			return err
		}
		item := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		children, results, err := s.visit(item)
		if err != nil {
			return err
		}
		for _, m := range results {
			if !fn(*m.result) {
				return nil
			}
		}
		// reversed, so the first node is visited first
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
	return nil
}

// Nearest returns the k entries closest to p, closest first. The policy must report
// distances for its nodes. Matches carry the indexed point.
func (ix *Index) Nearest(ctx context.Context, p opclass.Point, k int, keys ...opclass.ScanKey) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}
	s := ix.newScan(Query{Keys: keys, ReturnData: true, OrderBys: []opclass.Datum{opclass.EncodePoint(p)}})
	q := &distanceQueue{}
	heap.Push(q, s.root())

	var out []Match
	for q.Len() > 0 && len(out) < k {
		if err := checkCancelled(ctx); err != nil {
			return out, err
		}
		item := heap.Pop(q).(*scanItem)
		if item.result != nil {
			out = append(out, *item.result)
			continue
		}
		children, results, err := s.visit(item)
		if err != nil {
			return out, err
		}
		for _, c := range children {
			heap.Push(q, c)
		}
		for _, r := range results {
			heap.Push(q, r)
		}
	}
	return out, nil
}

// visit reads the tuple item points at and returns the items to descend into and the
// matches found there.
func (s *scan) visit(item *scanItem) ([]*scanItem, []*scanItem, error) {
	ix := s.ix
	for {
		pg, err := ix.store.ReadAndLock(item.ptr.Block, page.LockShare)
		if err != nil {
			return nil, nil, err
		}
		children, results, redirect, err := s.visitPage(pg, item)
		ix.store.UnlockAndUnpin(pg, page.LockShare)
		if err != nil || redirect == nil {
			return children, results, err
		}
		if !redirect.IsValid() || redirect.Block == MetaBlock {
			return nil, nil, corruptf("redirect at %d/%d has no target", item.ptr.Block, item.ptr.Offset)
		}
		item.ptr = *redirect
	}
}

func (s *scan) visitPage(pg *page.Page, item *scanItem) ([]*scanItem, []*scanItem, *types.ItemPointer, error) {
	blk := item.ptr.Block
	if IsNewPage(pg) || IsDeletedPage(pg) {
		return nil, nil, nil, nil
	}
	if !IsLeafPage(pg) {
		return s.visitInner(pg, item)
	}

	var results []*scanItem
	if IsRootBlock(blk) {
		for off := types.FirstOffsetNumber; off <= MaxOffset(pg); off++ {
			raw, err := Item(pg, off)
			if err != nil {
				return nil, nil, nil, err
			}
			if TupleStateOf(raw) != StateLive {
				continue
			}
			r, err := s.testLeaf(raw, item)
			if err != nil {
				return nil, nil, nil, err
			}
			if r != nil {
				results = append(results, r)
			}
		}
		return nil, results, nil, nil
	}

	for off := item.ptr.Offset; off != types.InvalidOffsetNumber; {
		raw, err := Item(pg, off)
		if err != nil {
			return nil, nil, nil, err
		}
		switch TupleStateOf(raw) {
		case StateLive:
		case StateRedirect:
			if off != item.ptr.Offset {
				return nil, nil, nil, corruptf("redirect inside leaf chain at %d/%d", blk, off)
			}
			dt, err := DecodeDead(raw)
			if err != nil {
				return nil, nil, nil, err
			}
			return nil, nil, &dt.Target, nil
		case StateDead:
			if off != item.ptr.Offset {
				return nil, nil, nil, corruptf("dead tuple inside leaf chain at %d/%d", blk, off)
			}
			return nil, nil, nil, nil
		default:
			return nil, nil, nil, corruptf("unexpected %s tuple in leaf chain at %d/%d", TupleStateOf(raw), blk, off)
		}
		r, err := s.testLeaf(raw, item)
		if err != nil {
			return nil, nil, nil, err
		}
		if r != nil {
			results = append(results, r)
		}
		off = LeafNext(raw)
	}
	return nil, results, nil, nil
}

func (s *scan) testLeaf(raw []byte, item *scanItem) (*scanItem, error) {
	lt, err := DecodeLeaf(raw)
	if err != nil {
		return nil, err
	}
	m := &Match{Row: lt.Row, Payload: lt.Payload}
	if s.q.IsNull {
		return &scanItem{result: m}, nil
	}

	out, err := s.ix.policy.LeafConsistent(&opclass.LeafConsistentIn{
		ScanKeys:           s.q.Keys,
		OrderBys:           s.q.OrderBys,
		ReconstructedValue: item.reconstructed,
		TraversalValue:     item.traversal,
		Level:              item.level,
		ReturnData:         s.returnData,
		LeafDatum:          lt.Key,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "%s leaf consistent", s.ix.policy.Name())
	}
	if !out.Match {
		return nil, nil
	}
	m.Recheck = out.Recheck
	if s.returnData {
		m.Key = out.LeafValue
	}
	r := &scanItem{result: m}
	if len(s.q.OrderBys) > 0 {
		if len(out.Distances) == 0 {
			return nil, errors.Wrapf(opclass.ErrUnknownStrategy, "%s cannot order by distance", s.ix.policy.Name())
		}
		m.Distance = out.Distances[0]
		r.distance = m.Distance
	}
	return r, nil
}

func (s *scan) visitInner(pg *page.Page, item *scanItem) ([]*scanItem, []*scanItem, *types.ItemPointer, error) {
	blk := item.ptr.Block
	raw, err := Item(pg, item.ptr.Offset)
	if err != nil {
		return nil, nil, nil, err
	}
	switch TupleStateOf(raw) {
	case StateLive:
	case StateRedirect:
		dt, err := DecodeDead(raw)
		if err != nil {
			return nil, nil, nil, err
		}
		return nil, nil, &dt.Target, nil
	default:
		return nil, nil, nil, corruptf("unexpected %s tuple in inner slot %d/%d", TupleStateOf(raw), blk, item.ptr.Offset)
	}
	inner, err := DecodeInner(raw)
	if err != nil {
		return nil, nil, nil, err
	}

	var nodes []int
	var out *opclass.InnerConsistentOut
	if s.q.IsNull {
		nodes = make([]int, len(inner.Nodes))
		for i := range nodes {
			nodes[i] = i
		}
	} else {
		out, err = s.ix.policy.InnerConsistent(&opclass.InnerConsistentIn{
			ScanKeys:           s.q.Keys,
			OrderBys:           s.q.OrderBys,
			ReconstructedValue: item.reconstructed,
			TraversalValue:     item.traversal,
			Level:              item.level,
			ReturnData:         s.returnData,
			AllTheSame:         inner.AllTheSame,
			HasPrefix:          inner.HasPrefix,
			Prefix:             inner.Prefix,
			NNodes:             len(inner.Nodes),
			NodeLabels:         nodeLabels(inner),
		})
		if err != nil {
			return nil, nil, nil, errors.Wrapf(err, "%s inner consistent", s.ix.policy.Name())
		}
		nodes = out.NodeNumbers
	}

	var children []*scanItem
	for i, n := range nodes {
		if n < 0 || n >= len(inner.Nodes) {
			return nil, nil, nil, errors.Errorf("%s inner consistent returned node %d of %d", s.ix.policy.Name(), n, len(inner.Nodes))
		}
		link := inner.Nodes[n].Downlink
		if !link.IsValid() {
			continue
		}
		child := &scanItem{ptr: link, level: item.level, reconstructed: item.reconstructed, traversal: item.traversal}
		if out != nil {
			if out.LevelAdds != nil {
				child.level += out.LevelAdds[i]
			}
			if out.ReconstructedValues != nil {
				child.reconstructed = out.ReconstructedValues[i]
			}
			if out.TraversalValues != nil {
				child.traversal = out.TraversalValues[i]
			}
			if len(s.q.OrderBys) > 0 {
				if out.Distances == nil {
					return nil, nil, nil, errors.Wrapf(opclass.ErrUnknownStrategy, "%s cannot order by distance", s.ix.policy.Name())
				}
				child.distance = out.Distances[i][0]
			}
		}
		children = append(children, child)
	}
	return children, nil, nil, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Distance queue
// ─────────────────────────────────────────────────────────────────────────────

// distanceQueue is a min-heap on distance. At equal distance results come before
// tuples still to be visited.
type distanceQueue []*scanItem

func (q distanceQueue) Len() int { return len(q) }

func (q distanceQueue) Less(i, j int) bool {
	if q[i].distance != q[j].distance {
		return q[i].distance < q[j].distance
	}
	return q[i].result != nil && q[j].result == nil
}

func (q distanceQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *distanceQueue) Push(x any) { *q = append(*q, x.(*scanItem)) }

func (q *distanceQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return it
}
