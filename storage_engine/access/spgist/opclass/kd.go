package opclass

import (
	"sort"

	"github.com/pkg/errors"
)

// KDName is the catalog name of the median k-d tree policy.
const KDName = "kd"

// KD splits alternately on y (even levels) and x (odd levels) at the median.
// The prefix is the split coordinate; node 0 holds the lower half.
type KD struct{}

func NewKD() *KD {
	return &KD{}
}

func (k *KD) Name() string { return KDName }

func (k *KD) Config() Config {
	return Config{
		PrefixType:    KindFloat,
		LabelType:     KindVoid,
		CanReturnData: true,
	}
}

func splitsOnX(level int) bool {
	return level%2 != 0
}

func coordAt(p Point, level int) float64 {
	if splitsOnX(level) {
		return p.X
	}
	return p.Y
}

func (k *KD) Choose(in *ChooseIn) (*ChooseOut, error) {
	if in.AllTheSame {
		return nil, errors.New("kd inner tuple cannot be allTheSame")
	}
	if !in.HasPrefix || in.NNodes != 2 {
		return nil, errors.Errorf("kd inner tuple must have a coordinate and 2 nodes, got %d nodes", in.NNodes)
	}
	coord, err := DecodeFloat(in.Prefix)
	if err != nil {
		return nil, err
	}
	p, err := DecodePoint(in.Datum)
	if err != nil {
		return nil, err
	}

	out := &ChooseOut{Action: ChooseMatch}
	out.Match.LevelAdd = 1
	out.Match.RestDatum = in.Datum
	if coordAt(p, in.Level) >= coord {
		out.Match.NodeN = 1
	}
	return out, nil
}

func (k *KD) PickSplit(in *PickSplitIn) (*PickSplitOut, error) {
	type entry struct {
		p Point
		i int
	}
	sorted := make([]entry, len(in.Datums))
	for i, d := range in.Datums {
		p, err := DecodePoint(d)
		if err != nil {
			return nil, err
		}
		sorted[i] = entry{p: p, i: i}
	}
	sort.SliceStable(sorted, func(a, b int) bool {
		return coordAt(sorted[a].p, in.Level) < coordAt(sorted[b].p, in.Level)
	})

	middle := len(sorted) >> 1
	coord := coordAt(sorted[middle].p, in.Level)

	out := &PickSplitOut{
		HasPrefix:        true,
		Prefix:           EncodeFloat(coord),
		NNodes:           2,
		MapTuplesToNodes: make([]int, len(sorted)),
		LeafTupleDatums:  make([]Datum, len(sorted)),
	}
	for i, e := range sorted {
		if i >= middle {
			out.MapTuplesToNodes[e.i] = 1
		}
		out.LeafTupleDatums[e.i] = in.Datums[e.i]
	}
	return out, nil
}

func (k *KD) InnerConsistent(in *InnerConsistentIn) (*InnerConsistentOut, error) {
	if in.AllTheSame {
		return nil, errors.New("kd inner tuple cannot be allTheSame")
	}
	coord, err := DecodeFloat(in.Prefix)
	if err != nil {
		return nil, err
	}
	onX := splitsOnX(in.Level)

	which := 1<<1 | 1<<2
	for _, key := range in.ScanKeys {
		if key.Strategy == StrategyContainedBy {
			box, err := DecodeBox(key.Arg)
			if err != nil {
				return nil, err
			}
			low, high := box.Low.Y, box.High.Y
			if onX {
				low, high = box.Low.X, box.High.X
			}
			if high < coord {
				which &= 1 << 1
			} else if low > coord {
				which &= 1 << 2
			}
			continue
		}

		query, err := DecodePoint(key.Arg)
		if err != nil {
			return nil, err
		}
		switch key.Strategy {
		case StrategyLeft:
			if onX && query.X < coord {
				which &= 1 << 1
			}
		case StrategyRight:
			if onX && query.X > coord {
				which &= 1 << 2
			}
		case StrategyBelow:
			if !onX && query.Y < coord {
				which &= 1 << 1
			}
		case StrategyAbove:
			if !onX && query.Y > coord {
				which &= 1 << 2
			}
		case StrategySame:
			v := coordAt(query, in.Level)
			if v < coord {
				which &= 1 << 1
			} else if v > coord {
				which &= 1 << 2
			}
		default:
			return nil, errors.Wrapf(ErrUnknownStrategy, "kd strategy %d", key.Strategy)
		}
	}

	bbox := traversalBox(in.TraversalValue)
	out := &InnerConsistentOut{}
	for node := 0; node < 2; node++ {
		if which&(1<<(node+1)) == 0 {
			continue
		}
		area := bbox
		switch {
		case onX && node == 0:
			area.High.X = coord
		case onX:
			area.Low.X = coord
		case node == 0:
			area.High.Y = coord
		default:
			area.Low.Y = coord
		}
		out.NodeNumbers = append(out.NodeNumbers, node)
		out.LevelAdds = append(out.LevelAdds, 1)
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

func (k *KD) LeafConsistent(in *LeafConsistentIn) (*LeafConsistentOut, error) {
	return pointLeafConsistent(in)
}
