package opclass

import (
	"github.com/pkg/errors"
)

// QuadName is the catalog name of the centroid quad-tree policy.
const QuadName = "quad"

// Quad splits a set of points into four quadrants around their centroid.
// The inner tuple prefix is the centroid; nodes carry no labels.
type Quad struct{}

func NewQuad() *Quad {
	return &Quad{}
}

func (q *Quad) Name() string { return QuadName }

func (q *Quad) Config() Config {
	return Config{
		PrefixType:    KindPoint,
		LabelType:     KindVoid,
		CanReturnData: true,
	}
}

// quadrant numbers 1..4 counter-clockwise starting top right.
// Points on an axis through the centroid belong to the quadrant on their right or top.
func quadrant(centroid, p Point) int {
	switch {
	case p.Y >= centroid.Y && p.X >= centroid.X:
		return 1
	case p.Y < centroid.Y && p.X >= centroid.X:
		return 2
	case p.Y <= centroid.Y && p.X < centroid.X:
		return 3
	default:
		return 4
	}
}

// quadrantBox is the part of parent lying in quadrant q of centroid.
func quadrantBox(parent Box, centroid Point, q int) Box {
	switch q {
	case 1:
		return Box{Low: centroid, High: parent.High}
	case 2:
		return Box{Low: Point{X: centroid.X, Y: parent.Low.Y}, High: Point{X: parent.High.X, Y: centroid.Y}}
	case 3:
		return Box{Low: parent.Low, High: centroid}
	default:
		return Box{Low: Point{X: parent.Low.X, Y: centroid.Y}, High: Point{X: centroid.X, Y: parent.High.Y}}
	}
}

func (q *Quad) Choose(in *ChooseIn) (*ChooseOut, error) {
	out := &ChooseOut{Action: ChooseMatch}
	out.Match.RestDatum = in.Datum

	if in.AllTheSame {
		// node picked by the caller
		return out, nil
	}
	if !in.HasPrefix || in.NNodes != 4 {
		return nil, errors.Errorf("quad inner tuple must have a centroid and 4 nodes, got %d nodes", in.NNodes)
	}

	centroid, err := DecodePoint(in.Prefix)
	if err != nil {
		return nil, err
	}
	p, err := DecodePoint(in.Datum)
	if err != nil {
		return nil, err
	}
	out.Match.NodeN = quadrant(centroid, p) - 1
	return out, nil
}

func (q *Quad) PickSplit(in *PickSplitIn) (*PickSplitOut, error) {
	points := make([]Point, len(in.Datums))
	var centroid Point
	for i, d := range in.Datums {
		p, err := DecodePoint(d)
		if err != nil {
			return nil, err
		}
		points[i] = p
		centroid.X += p.X
		centroid.Y += p.Y
	}
	n := float64(len(points))
	centroid.X /= n
	centroid.Y /= n

	out := &PickSplitOut{
		HasPrefix:        true,
		Prefix:           EncodePoint(centroid),
		NNodes:           4,
		MapTuplesToNodes: make([]int, len(points)),
		LeafTupleDatums:  make([]Datum, len(points)),
	}
	for i, p := range points {
		out.MapTuplesToNodes[i] = quadrant(centroid, p) - 1
		out.LeafTupleDatums[i] = in.Datums[i]
	}
	return out, nil
}

func (q *Quad) InnerConsistent(in *InnerConsistentIn) (*InnerConsistentOut, error) {
	bbox := traversalBox(in.TraversalValue)
	out := &InnerConsistentOut{}

	if in.AllTheSame {
		out.NodeNumbers = allNodes(in.NNodes)
		dists, err := boxDistances(bbox, in.OrderBys)
		if err != nil {
			return nil, err
		}
		for range out.NodeNumbers {
			out.TraversalValues = append(out.TraversalValues, bbox)
			if dists != nil {
				out.Distances = append(out.Distances, dists)
			}
		}
		return out, nil
	}

	centroid, err := DecodePoint(in.Prefix)
	if err != nil {
		return nil, err
	}

	which := 1<<1 | 1<<2 | 1<<3 | 1<<4
	for _, key := range in.ScanKeys {
		if key.Strategy == StrategyContainedBy {
			box, err := DecodeBox(key.Arg)
			if err != nil {
				return nil, err
			}
			if !box.Contains(centroid) {
				r := 1 << quadrant(centroid, box.Low)
				r |= 1 << quadrant(centroid, Point{X: box.Low.X, Y: box.High.Y})
				r |= 1 << quadrant(centroid, box.High)
				r |= 1 << quadrant(centroid, Point{X: box.High.X, Y: box.Low.Y})
				which &= r
			}
			continue
		}

		query, err := DecodePoint(key.Arg)
		if err != nil {
			return nil, err
		}
		switch key.Strategy {
		case StrategyLeft:
			if centroid.X > query.X {
				which &= 1<<3 | 1<<4
			}
		case StrategyRight:
			if centroid.X < query.X {
				which &= 1<<1 | 1<<2
			}
		case StrategyBelow:
			if centroid.Y > query.Y {
				which &= 1<<2 | 1<<3
			}
		case StrategyAbove:
			if centroid.Y < query.Y {
				which &= 1<<1 | 1<<4
			}
		case StrategySame:
			which &= 1 << quadrant(centroid, query)
		default:
			return nil, errors.Wrapf(ErrUnknownStrategy, "quad strategy %d", key.Strategy)
		}
		if which == 0 {
			break
		}
	}

	for i := 1; i <= 4; i++ {
		if which&(1<<i) == 0 {
			continue
		}
		area := quadrantBox(bbox, centroid, i)
		out.NodeNumbers = append(out.NodeNumbers, i-1)
		out.TraversalValues = append(out.TraversalValues, area)
		if len(in.OrderBys) > 0 {
			dists, err := boxDistances(area, in.OrderBys)
			if err != nil {
				return nil, err
			}
			out.Distances = append(out.Distances, dists)
		}
	}
	return out, nil
}

func (q *Quad) LeafConsistent(in *LeafConsistentIn) (*LeafConsistentOut, error) {
	return pointLeafConsistent(in)
}
