package types

const (
	PageSize    = 8192 // default page size, overridable per engine
	MinPageSize = 256
	SlotSize    = 4 // 4 bytes per slot entry (offset: 2B, length: 2B)
)

type PageType uint8

const (
	PageTypeUnknown PageType = iota
	PageTypeMetadata
	PageTypeSpLeaf
	PageTypeSpInner
)

func (t PageType) String() string {
	switch t {
	case PageTypeMetadata:
		return "meta"
	case PageTypeSpLeaf:
		return "leaf"
	case PageTypeSpInner:
		return "inner"
	default:
		return "unknown"
	}
}

// BlockNumber is a page number local to one index file.
type BlockNumber uint32

// OffsetNumber addresses a slot on a page. Slots are 1-based; 0 is invalid.
type OffsetNumber uint16

const (
	InvalidBlockNumber  BlockNumber  = 0xFFFFFFFF
	InvalidOffsetNumber OffsetNumber = 0
	FirstOffsetNumber   OffsetNumber = 1
)

// ItemPointer addresses a tuple inside an index file.
type ItemPointer struct {
	Block  BlockNumber
	Offset OffsetNumber
}

var InvalidItemPointer = ItemPointer{Block: InvalidBlockNumber, Offset: InvalidOffsetNumber}

func (p ItemPointer) IsValid() bool {
	return p.Block != InvalidBlockNumber && p.Offset != InvalidOffsetNumber
}
