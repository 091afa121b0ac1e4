package opclass

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKDPickSplitMedian(t *testing.T) {
	in := &PickSplitIn{Datums: points(Point{0, 3}, Point{1, 1}, Point{2, 2}, Point{3, 0})}

	// level 0 splits on y
	out, err := NewKD().PickSplit(in)
	require.NoError(t, err)
	coord, err := DecodeFloat(out.Prefix)
	require.NoError(t, err)
	assert.Equal(t, 2.0, coord)
	assert.Equal(t, 2, out.NNodes)
	assert.Equal(t, []int{1, 0, 1, 0}, out.MapTuplesToNodes)

	// level 1 splits on x
	in.Level = 1
	out, err = NewKD().PickSplit(in)
	require.NoError(t, err)
	coord, err = DecodeFloat(out.Prefix)
	require.NoError(t, err)
	assert.Equal(t, 2.0, coord)
	assert.Equal(t, []int{0, 0, 1, 1}, out.MapTuplesToNodes)
}

func TestKDChoose(t *testing.T) {
	k := NewKD()
	choose := func(p Point, level int) int {
		out, err := k.Choose(&ChooseIn{
			Datum:     EncodePoint(p),
			Level:     level,
			HasPrefix: true,
			Prefix:    EncodeFloat(2),
			NNodes:    2,
		})
		require.NoError(t, err)
		assert.Equal(t, 1, out.Match.LevelAdd)
		return out.Match.NodeN
	}
	assert.Equal(t, 1, choose(Point{0, 2}, 0))
	assert.Equal(t, 0, choose(Point{5, 1}, 0))
	assert.Equal(t, 1, choose(Point{2, 0}, 1))
	assert.Equal(t, 0, choose(Point{1, 9}, 3))

	_, err := k.Choose(&ChooseIn{Datum: EncodePoint(Point{}), AllTheSame: true})
	assert.Error(t, err)
}

func TestKDInnerConsistent(t *testing.T) {
	in := &InnerConsistentIn{
		Level:     1,
		HasPrefix: true,
		Prefix:    EncodeFloat(5),
		NNodes:    2,
		ScanKeys:  []ScanKey{{Strategy: StrategyContainedBy, Arg: EncodeBox(Box{Low: Point{0, 0}, High: Point{3, 9}})}},
	}
	out, err := NewKD().InnerConsistent(in)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, out.NodeNumbers)
	assert.Equal(t, []int{1}, out.LevelAdds)
	area := out.TraversalValues[0].(Box)
	assert.Equal(t, 5.0, area.High.X)

	// on a y level the box straddles the split
	in.Level = 2
	out, err = NewKD().InnerConsistent(in)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, out.NodeNumbers)

	in.ScanKeys = []ScanKey{{Strategy: StrategyLeft, Arg: EncodePoint(Point{9, 9})}}
	out, err = NewKD().InnerConsistent(in)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, out.NodeNumbers)
}

func TestKDInnerDistances(t *testing.T) {
	out, err := NewKD().InnerConsistent(&InnerConsistentIn{
		Level:     1,
		HasPrefix: true,
		Prefix:    EncodeFloat(5),
		NNodes:    2,
		OrderBys:  []Datum{EncodePoint(Point{10, 0})},
	})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{5}, {0}}, out.Distances)
}
