package opclass

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/pkg/errors"
)

// RadixName is the catalog name of the byte-string radix tree policy.
const RadixName = "radix"

const (
	labelEndOfString int16 = -1
	labelDummy       int16 = -2
)

// Radix indexes byte strings as a compressed trie.
// Inner prefixes are common byte runs, node labels are the next byte of the key
// (-1 when the key ends at the node, -2 for the dummy node of an allTheSame split).
// Leaves keep only the unconsumed suffix.
type Radix struct {
	maxPrefix int
}

// NewRadix sizes the prefix limit so that an inner tuple with 256 labeled nodes fits a page.
func NewRadix(pageSize int) *Radix {
	maxPrefix := pageSize - 258*16 - 100
	if maxPrefix < 32 {
		maxPrefix = 32
	}
	return &Radix{maxPrefix: maxPrefix}
}

func (r *Radix) Name() string { return RadixName }

func (r *Radix) Config() Config {
	return Config{
		PrefixType:    KindBytes,
		LabelType:     KindInt16,
		CanReturnData: true,
		LongValuesOK:  true,
	}
}

func EncodeLabel(c int16) Datum {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, uint16(c))
	return buf
}

func DecodeLabel(d Datum) (int16, error) {
	if len(d) != 2 {
		return 0, errors.Wrapf(ErrBadDatum, "label needs 2 bytes, got %d", len(d))
	}
	return int16(binary.LittleEndian.Uint16(d)), nil
}

func commonPrefix(a, b []byte) int {
	i := 0
	for i < len(a) && i < len(b) && a[i] == b[i] {
		i++
	}
	return i
}

// searchLabel finds c among sorted labels. When absent, i is the insertion position.
func searchLabel(labels []Datum, c int16) (int, bool, error) {
	var decodeErr error
	i := sort.Search(len(labels), func(j int) bool {
		l, err := DecodeLabel(labels[j])
		if err != nil {
			decodeErr = err
			return true
		}
		return l >= c
	})
	if decodeErr != nil {
		return 0, false, decodeErr
	}
	if i < len(labels) {
		l, _ := DecodeLabel(labels[i])
		if l == c {
			return i, true, nil
		}
	}
	return i, false, nil
}

func (r *Radix) Choose(in *ChooseIn) (*ChooseOut, error) {
	if in.Level > len(in.Datum) {
		return nil, errors.Errorf("radix level %d beyond value of %d bytes", in.Level, len(in.Datum))
	}
	inStr := in.Datum[in.Level:]
	out := &ChooseOut{}

	nodeChar := labelEndOfString
	commonLen := 0
	if in.HasPrefix {
		prefix := in.Prefix
		commonLen = commonPrefix(inStr, prefix)
		if commonLen < len(prefix) {
			// value leaves the prefix: split it at the first difference
			out.Action = ChooseSplitTuple
			split := &out.SplitTup
			if commonLen > 0 {
				split.PrefixHasPrefix = true
				split.PrefixPrefix = append(Datum(nil), prefix[:commonLen]...)
			}
			split.PrefixNNodes = 1
			split.PrefixNodeLabels = []Datum{EncodeLabel(int16(prefix[commonLen]))}
			split.ChildNodeN = 0
			if len(prefix)-commonLen > 1 {
				split.PostfixHasPrefix = true
				split.PostfixPrefix = append(Datum(nil), prefix[commonLen+1:]...)
			}
			return out, nil
		}
	}
	if len(inStr) > commonLen {
		nodeChar = int16(inStr[commonLen])
	}

	i, found, err := searchLabel(in.NodeLabels, nodeChar)
	if err != nil {
		return nil, err
	}

	switch {
	case found:
		out.Action = ChooseMatch
		out.Match.NodeN = i
		out.Match.LevelAdd = commonLen
		if nodeChar >= 0 {
			out.Match.LevelAdd++
		}
		out.Match.RestDatum = append(Datum{}, inStr[out.Match.LevelAdd:]...)
	case in.AllTheSame:
		// no AddNode on allTheSame tuples: push the old tuple one level down
		// below a dummy node and retry against the new upper tuple
		out.Action = ChooseSplitTuple
		split := &out.SplitTup
		split.PrefixHasPrefix = in.HasPrefix
		split.PrefixPrefix = in.Prefix
		split.PrefixNNodes = 1
		split.PrefixNodeLabels = []Datum{EncodeLabel(labelDummy)}
		split.ChildNodeN = 0
	default:
		out.Action = ChooseAddNode
		out.AddNode.NodeN = i
		out.AddNode.Label = EncodeLabel(nodeChar)
	}
	return out, nil
}

func (r *Radix) PickSplit(in *PickSplitIn) (*PickSplitOut, error) {
	n := len(in.Datums)
	commonLen := len(in.Datums[0])
	for i := 1; i < n && commonLen > 0; i++ {
		commonLen = commonPrefix(in.Datums[0][:commonLen], in.Datums[i])
	}
	if commonLen > r.maxPrefix {
		commonLen = r.maxPrefix
	}

	out := &PickSplitOut{
		MapTuplesToNodes: make([]int, n),
		LeafTupleDatums:  make([]Datum, n),
	}
	if commonLen > 0 {
		out.HasPrefix = true
		out.Prefix = append(Datum(nil), in.Datums[0][:commonLen]...)
	}

	type node struct {
		c int16
		i int
	}
	nodes := make([]node, n)
	for i, d := range in.Datums {
		c := labelEndOfString
		if commonLen < len(d) {
			c = int16(d[commonLen])
		}
		nodes[i] = node{c: c, i: i}
	}
	sort.SliceStable(nodes, func(a, b int) bool { return nodes[a].c < nodes[b].c })

	for i, nd := range nodes {
		if i == 0 || nd.c != nodes[i-1].c {
			out.NodeLabels = append(out.NodeLabels, EncodeLabel(nd.c))
			out.NNodes++
		}
		d := in.Datums[nd.i]
		rest := Datum{}
		if commonLen < len(d) {
			rest = append(rest, d[commonLen+1:]...)
		}
		out.LeafTupleDatums[nd.i] = rest
		out.MapTuplesToNodes[nd.i] = out.NNodes - 1
	}
	return out, nil
}

func (r *Radix) InnerConsistent(in *InnerConsistentIn) (*InnerConsistentOut, error) {
	if len(in.ReconstructedValue) != in.Level {
		return nil, errors.Errorf("radix reconstructed value has %d bytes at level %d", len(in.ReconstructedValue), in.Level)
	}

	base := make([]byte, 0, in.Level+len(in.Prefix)+1)
	base = append(base, in.ReconstructedValue...)
	if in.HasPrefix {
		base = append(base, in.Prefix...)
	}

	out := &InnerConsistentOut{}
	for i := 0; i < in.NNodes; i++ {
		c, err := DecodeLabel(in.NodeLabels[i])
		if err != nil {
			return nil, err
		}
		value := base
		if c >= 0 {
			value = append(append([]byte(nil), base...), byte(c))
		}

		match := true
		for _, key := range in.ScanKeys {
			n := len(value)
			if len(key.Arg) < n {
				n = len(key.Arg)
			}
			cmp := bytes.Compare(value[:n], key.Arg[:n])
			switch key.Strategy {
			case StrategyLess, StrategyLessEqual:
				match = cmp <= 0
			case StrategyGreater, StrategyGreaterEqual:
				match = cmp >= 0
			case StrategyEqual:
				match = cmp == 0 && len(key.Arg) >= len(value)
			case StrategyPrefix:
				match = cmp == 0
			default:
				return nil, errors.Wrapf(ErrUnknownStrategy, "radix strategy %d", key.Strategy)
			}
			if !match {
				break
			}
		}
		if !match {
			continue
		}
		out.NodeNumbers = append(out.NodeNumbers, i)
		out.LevelAdds = append(out.LevelAdds, len(value)-in.Level)
		out.ReconstructedValues = append(out.ReconstructedValues, append(Datum(nil), value...))
	}
	return out, nil
}

func (r *Radix) LeafConsistent(in *LeafConsistentIn) (*LeafConsistentOut, error) {
	full := make(Datum, 0, len(in.ReconstructedValue)+len(in.LeafDatum))
	full = append(full, in.ReconstructedValue...)
	full = append(full, in.LeafDatum...)

	out := &LeafConsistentOut{Match: true, LeafValue: full}
	for _, key := range in.ScanKeys {
		var ok bool
		cmp := bytes.Compare(full, key.Arg)
		switch key.Strategy {
		case StrategyEqual:
			ok = cmp == 0
		case StrategyLess:
			ok = cmp < 0
		case StrategyLessEqual:
			ok = cmp <= 0
		case StrategyGreater:
			ok = cmp > 0
		case StrategyGreaterEqual:
			ok = cmp >= 0
		case StrategyPrefix:
			ok = bytes.HasPrefix(full, key.Arg)
		default:
			return nil, errors.Wrapf(ErrUnknownStrategy, "radix strategy %d", key.Strategy)
		}
		if !ok {
			out.Match = false
			break
		}
	}
	return out, nil
}
