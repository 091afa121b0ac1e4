package opclass

import (
	"sort"

	"github.com/pkg/errors"
)

/*
Split policies decide how keys are partitioned below an inner tuple.

The index core never looks inside a Datum. It hands the policy the prefix and node labels
of the inner tuple it is standing on and gets back one of three actions (Choose), or a full
partition of an overflowing leaf chain (PickSplit). Searches use the two consistent functions.

Redo never calls a policy: WAL records carry the tuples the policy produced.
*/

// Datum is an encoded key, prefix or node label. The encoding belongs to the policy.
type Datum []byte

type DatumKind uint8

const (
	KindVoid DatumKind = iota
	KindPoint
	KindFloat
	KindBytes
	KindInt16
)

type Config struct {
	PrefixType DatumKind
	LabelType  DatumKind // KindVoid: nodes carry no labels
	// CanReturnData: leaf values plus reconstructed values rebuild the indexed key.
	CanReturnData bool
	// LongValuesOK: Choose shortens the leaf datum on every level, so values
	// larger than a page can still be indexed.
	LongValuesOK bool
}

type ChooseAction uint8

const (
	ChooseMatch ChooseAction = iota + 1
	ChooseAddNode
	ChooseSplitTuple
)

func (a ChooseAction) String() string {
	switch a {
	case ChooseMatch:
		return "match"
	case ChooseAddNode:
		return "add-node"
	case ChooseSplitTuple:
		return "split-tuple"
	default:
		return "invalid"
	}
}

type ChooseIn struct {
	Datum      Datum // value as given by the caller
	LeafDatum  Datum // value reduced by the levels above
	Level      int
	AllTheSame bool
	HasPrefix  bool
	Prefix     Datum
	NNodes     int
	NodeLabels []Datum // nil when the inner tuple has no labels
}

type MatchNode struct {
	NodeN     int
	LevelAdd  int
	RestDatum Datum
}

type AddNode struct {
	NodeN int // position the new node is inserted at
	Label Datum
}

type SplitTuple struct {
	PrefixHasPrefix  bool
	PrefixPrefix     Datum
	PrefixNNodes     int
	PrefixNodeLabels []Datum
	ChildNodeN       int // node of the new upper tuple that leads to the postfix tuple

	PostfixHasPrefix bool
	PostfixPrefix    Datum
}

type ChooseOut struct {
	Action   ChooseAction
	Match    MatchNode
	AddNode  AddNode
	SplitTup SplitTuple
}

type PickSplitIn struct {
	Datums []Datum
	Level  int
}

type PickSplitOut struct {
	HasPrefix        bool
	Prefix           Datum
	NNodes           int
	NodeLabels       []Datum // nil for unlabeled nodes
	MapTuplesToNodes []int
	LeafTupleDatums  []Datum
}

// Strategy identifies a search operator.
type Strategy uint8

const (
	StrategyLeft Strategy = iota + 1
	StrategyRight
	StrategyBelow
	StrategyAbove
	StrategySame
	StrategyContainedBy
	StrategyEqual
	StrategyPrefix
	StrategyLess
	StrategyLessEqual
	StrategyGreater
	StrategyGreaterEqual
)

type ScanKey struct {
	Strategy Strategy
	Arg      Datum
}

type InnerConsistentIn struct {
	ScanKeys           []ScanKey
	OrderBys           []Datum // query points of a nearest-neighbour scan
	ReconstructedValue Datum
	TraversalValue     any
	Level              int
	ReturnData         bool

	AllTheSame bool
	HasPrefix  bool
	Prefix     Datum
	NNodes     int
	NodeLabels []Datum
}

type InnerConsistentOut struct {
	NodeNumbers         []int
	LevelAdds           []int   // nil means 0 for every node
	ReconstructedValues []Datum // nil unless the policy reconstructs
	TraversalValues     []any
	Distances           [][]float64 // per node, one entry per order-by
}

type LeafConsistentIn struct {
	ScanKeys           []ScanKey
	OrderBys           []Datum
	ReconstructedValue Datum
	TraversalValue     any
	Level              int
	ReturnData         bool
	LeafDatum          Datum
}

type LeafConsistentOut struct {
	Match     bool
	LeafValue Datum
	Recheck   bool
	Distances []float64
}

// Policy is the pluggable split strategy of an index.
type Policy interface {
	Name() string
	Config() Config
	Choose(in *ChooseIn) (*ChooseOut, error)
	PickSplit(in *PickSplitIn) (*PickSplitOut, error)
	InnerConsistent(in *InnerConsistentIn) (*InnerConsistentOut, error)
	LeafConsistent(in *LeafConsistentIn) (*LeafConsistentOut, error)
}

// Compressor is implemented by policies that store a reduced form of the input value.
type Compressor interface {
	Compress(d Datum) (Datum, error)
}

var (
	ErrBadDatum        = errors.New("malformed datum")
	ErrUnknownStrategy = errors.New("strategy not supported by policy")
	ErrUnknownPolicy   = errors.New("unknown split policy")
)

type factory func(pageSize int) Policy

var registry = map[string]factory{
	QuadName:  func(int) Policy { return NewQuad() },
	KDName:    func(int) Policy { return NewKD() },
	RadixName: func(pageSize int) Policy { return NewRadix(pageSize) },
}

// Lookup returns the policy registered under name, sized for pageSize byte pages.
func Lookup(name string, pageSize int) (Policy, error) {
	f, ok := registry[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownPolicy, "%q", name)
	}
	return f(pageSize), nil
}

// Names lists the registered policies in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// allNodes is the answer of an inner tuple that cannot be pruned.
func allNodes(n int) []int {
	nodes := make([]int, n)
	for i := range nodes {
		nodes[i] = i
	}
	return nodes
}
