package opclass

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/pkg/errors"
)

const (
	PointSize = 16
	BoxSize   = 32
)

type Point struct {
	X, Y float64
}

func (p Point) String() string {
	return fmt.Sprintf("(%g,%g)", p.X, p.Y)
}

// Box is closed on both ends. Low must not exceed High in either coordinate.
type Box struct {
	Low, High Point
}

// InfiniteBox bounds the whole plane; it is the traversal value of a root.
var InfiniteBox = Box{
	Low:  Point{X: math.Inf(-1), Y: math.Inf(-1)},
	High: Point{X: math.Inf(1), Y: math.Inf(1)},
}

func EncodePoint(p Point) Datum {
	buf := make([]byte, PointSize)
	binary.LittleEndian.PutUint64(buf[0:], math.Float64bits(p.X))
	binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(p.Y))
	return buf
}

func DecodePoint(d Datum) (Point, error) {
	if len(d) != PointSize {
		return Point{}, errors.Wrapf(ErrBadDatum, "point needs %d bytes, got %d", PointSize, len(d))
	}
	return Point{
		X: math.Float64frombits(binary.LittleEndian.Uint64(d[0:])),
		Y: math.Float64frombits(binary.LittleEndian.Uint64(d[8:])),
	}, nil
}

func EncodeBox(b Box) Datum {
	buf := make([]byte, BoxSize)
	copy(buf, EncodePoint(b.Low))
	copy(buf[PointSize:], EncodePoint(b.High))
	return buf
}

func DecodeBox(d Datum) (Box, error) {
	if len(d) != BoxSize {
		return Box{}, errors.Wrapf(ErrBadDatum, "box needs %d bytes, got %d", BoxSize, len(d))
	}
	low, _ := DecodePoint(d[:PointSize])
	high, _ := DecodePoint(d[PointSize:])
	return Box{Low: low, High: high}, nil
}

func EncodeFloat(f float64) Datum {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, math.Float64bits(f))
	return buf
}

func DecodeFloat(d Datum) (float64, error) {
	if len(d) != 8 {
		return 0, errors.Wrapf(ErrBadDatum, "float needs 8 bytes, got %d", len(d))
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(d)), nil
}

func (b Box) Contains(p Point) bool {
	return p.X >= b.Low.X && p.X <= b.High.X && p.Y >= b.Low.Y && p.Y <= b.High.Y
}

// Distance is the euclidean distance from p to the nearest point of b, 0 inside.
func (b Box) Distance(p Point) float64 {
	dx := math.Max(math.Max(b.Low.X-p.X, 0), p.X-b.High.X)
	dy := math.Max(math.Max(b.Low.Y-p.Y, 0), p.Y-b.High.Y)
	return math.Hypot(dx, dy)
}

func PointDistance(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// pointMatches evaluates the point operators of the geometric policies against one leaf.
func pointMatches(p Point, key ScanKey) (bool, error) {
	if key.Strategy == StrategyContainedBy {
		box, err := DecodeBox(key.Arg)
		if err != nil {
			return false, err
		}
		return box.Contains(p), nil
	}

	q, err := DecodePoint(key.Arg)
	if err != nil {
		return false, err
	}
	switch key.Strategy {
	case StrategyLeft:
		return p.X < q.X, nil
	case StrategyRight:
		return p.X > q.X, nil
	case StrategyBelow:
		return p.Y < q.Y, nil
	case StrategyAbove:
		return p.Y > q.Y, nil
	case StrategySame:
		return p == q, nil
	default:
		return false, errors.Wrapf(ErrUnknownStrategy, "strategy %d on points", key.Strategy)
	}
}

// pointLeafConsistent is shared by quad and kd: leaves hold the full point.
func pointLeafConsistent(in *LeafConsistentIn) (*LeafConsistentOut, error) {
	p, err := DecodePoint(in.LeafDatum)
	if err != nil {
		return nil, err
	}
	out := &LeafConsistentOut{Match: true, LeafValue: in.LeafDatum}
	for _, key := range in.ScanKeys {
		ok, err := pointMatches(p, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			out.Match = false
			return out, nil
		}
	}
	if len(in.OrderBys) > 0 {
		out.Distances = make([]float64, len(in.OrderBys))
		for i, ob := range in.OrderBys {
			q, err := DecodePoint(ob)
			if err != nil {
				return nil, err
			}
			out.Distances[i] = PointDistance(p, q)
		}
	}
	return out, nil
}

func boxDistances(b Box, orderBys []Datum) ([]float64, error) {
	if len(orderBys) == 0 {
		return nil, nil
	}
	dists := make([]float64, len(orderBys))
	for i, ob := range orderBys {
		q, err := DecodePoint(ob)
		if err != nil {
			return nil, err
		}
		dists[i] = b.Distance(q)
	}
	return dists, nil
}

func traversalBox(v any) Box {
	if b, ok := v.(Box); ok {
		return b
	}
	return InfiniteBox
}
