package spgist

import (
	"SpaceDB/types"
	"encoding/binary"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

/*
On-page tuple shapes. Every encoded tuple is a multiple of 8 bytes.

Leaf tuple (header 24B):

	0   state      uint8
	1   flags      uint8   bit 0: key is null
	2   next       uint16  same-page chain link, 0 = end
	4   keyLen     uint16
	6   payloadLen uint16
	8   row        FileID uint32, PageNumber uint32, SlotIndex uint16
	18  pad
	24  key bytes, payload bytes, pad

Dead tuple (fixed 24B), used for Redirect, Dead and Placeholder:

	0   state   uint8
	1   pad
	2   next    uint16  always 0
	4   block   uint32  Redirect target
	8   offset  uint16
	10  pad
	16  xid     uint64  transaction that left the Redirect

Inner tuple (header 8B):

	0   state      uint8
	1   flags      uint8   bit 0: allTheSame, bit 1: has prefix
	2   nNodes     uint16
	4   prefixLen  uint16
	6   pad
	8   prefix (padded), then nNodes nodes

Node: block uint32, offset uint16, labelLen uint16 (0xFFFF = no label), label (padded).

DeadTupleSize equals the smallest leaf, so every live tuple can be converted in place.
*/

type TupleState uint8

const (
	StateLive TupleState = iota
	StateRedirect
	StateDead
	StatePlaceholder
)

func (s TupleState) String() string {
	switch s {
	case StateLive:
		return "live"
	case StateRedirect:
		return "redirect"
	case StateDead:
		return "dead"
	case StatePlaceholder:
		return "placeholder"
	default:
		return "invalid"
	}
}

const (
	Alignment       = 8
	LeafHeaderSize  = 24
	DeadTupleSize   = 24
	InnerHeaderSize = 8
	NodeHeaderSize  = 8
	MinLeafSize     = LeafHeaderSize

	// MaxNodes bounds the node count of an inner tuple.
	MaxNodes = 0x1FFF

	noLabel        = 0xFFFF
	maxFieldLength = 0xFFFE

	leafFlagKeyNull   = 1 << 0
	innerFlagAllSame  = 1 << 0
	innerFlagHasPrefx = 1 << 1
)

func align(n int) int {
	return (n + Alignment - 1) &^ (Alignment - 1)
}

func TupleStateOf(b []byte) TupleState {
	return TupleState(b[0])
}

// ─────────────────────────────────────────────────────────────────────────────
// Leaf tuples
// ─────────────────────────────────────────────────────────────────────────────

type LeafTuple struct {
	Next    types.OffsetNumber
	KeyNull bool
	Key     []byte
	Payload []byte
	Row     types.RowPointer
}

// LeafSize predicts the encoded size of a leaf with the given key and payload lengths.
func LeafSize(keyLen, payloadLen int) int {
	return align(LeafHeaderSize + keyLen + payloadLen)
}

func (lt *LeafTuple) Size() int {
	return LeafSize(len(lt.Key), len(lt.Payload))
}

func EncodeLeaf(lt *LeafTuple) ([]byte, error) {
	if len(lt.Key) > maxFieldLength || len(lt.Payload) > maxFieldLength {
		return nil, errors.Wrapf(ErrOversizeValue, "leaf key %s, payload %s",
			humanize.IBytes(uint64(len(lt.Key))), humanize.IBytes(uint64(len(lt.Payload))))
	}
	buf := make([]byte, lt.Size())
	buf[0] = byte(StateLive)
	if lt.KeyNull {
		buf[1] = leafFlagKeyNull
	}
	binary.LittleEndian.PutUint16(buf[2:], uint16(lt.Next))
	binary.LittleEndian.PutUint16(buf[4:], uint16(len(lt.Key)))
	binary.LittleEndian.PutUint16(buf[6:], uint16(len(lt.Payload)))
	binary.LittleEndian.PutUint32(buf[8:], lt.Row.FileID)
	binary.LittleEndian.PutUint32(buf[12:], lt.Row.PageNumber)
	binary.LittleEndian.PutUint16(buf[16:], lt.Row.SlotIndex)
	copy(buf[LeafHeaderSize:], lt.Key)
	copy(buf[LeafHeaderSize+len(lt.Key):], lt.Payload)
	return buf, nil
}

func DecodeLeaf(b []byte) (*LeafTuple, error) {
	if len(b) < LeafHeaderSize || TupleStateOf(b) != StateLive {
		return nil, corruptf("not a live leaf tuple (%d bytes, state %s)", len(b), tupleStateOrEmpty(b))
	}
	keyLen := int(binary.LittleEndian.Uint16(b[4:]))
	payloadLen := int(binary.LittleEndian.Uint16(b[6:]))
	if LeafSize(keyLen, payloadLen) != len(b) {
		return nil, corruptf("leaf tuple of %d bytes declares key %d and payload %d", len(b), keyLen, payloadLen)
	}
	lt := &LeafTuple{
		Next:    types.OffsetNumber(binary.LittleEndian.Uint16(b[2:])),
		KeyNull: b[1]&leafFlagKeyNull != 0,
		Row: types.RowPointer{
			FileID:     binary.LittleEndian.Uint32(b[8:]),
			PageNumber: binary.LittleEndian.Uint32(b[12:]),
			SlotIndex:  binary.LittleEndian.Uint16(b[16:]),
		},
	}
	lt.Key = append([]byte{}, b[LeafHeaderSize:LeafHeaderSize+keyLen]...)
	lt.Payload = append([]byte{}, b[LeafHeaderSize+keyLen:LeafHeaderSize+keyLen+payloadLen]...)
	return lt, nil
}

// LeafNext reads the chain link of a leaf or dead tuple.
func LeafNext(b []byte) types.OffsetNumber {
	return types.OffsetNumber(binary.LittleEndian.Uint16(b[2:]))
}

// SetLeafNext rewrites the chain link in place.
func SetLeafNext(b []byte, next types.OffsetNumber) {
	binary.LittleEndian.PutUint16(b[2:], uint16(next))
}

// LeafRow reads the row back-reference of a live leaf without decoding it.
func LeafRow(b []byte) types.RowPointer {
	return types.RowPointer{
		FileID:     binary.LittleEndian.Uint32(b[8:]),
		PageNumber: binary.LittleEndian.Uint32(b[12:]),
		SlotIndex:  binary.LittleEndian.Uint16(b[16:]),
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Dead tuples
// ─────────────────────────────────────────────────────────────────────────────

type DeadTuple struct {
	State  TupleState
	Target types.ItemPointer // Redirect only
	Xid    uint64            // Redirect only
}

// EncodeDead forms a Redirect, Dead or Placeholder tuple.
// Only a Redirect keeps target and xid.
func EncodeDead(state TupleState, target types.ItemPointer, xid uint64) []byte {
	buf := make([]byte, DeadTupleSize)
	buf[0] = byte(state)
	if state != StateRedirect {
		target = types.InvalidItemPointer
		xid = 0
	}
	binary.LittleEndian.PutUint32(buf[4:], uint32(target.Block))
	binary.LittleEndian.PutUint16(buf[8:], uint16(target.Offset))
	binary.LittleEndian.PutUint64(buf[16:], xid)
	return buf
}

func DecodeDead(b []byte) (*DeadTuple, error) {
	if len(b) != DeadTupleSize {
		return nil, corruptf("dead tuple of %d bytes", len(b))
	}
	state := TupleStateOf(b)
	if state == StateLive || state > StatePlaceholder {
		return nil, corruptf("dead tuple in state %s", state)
	}
	return &DeadTuple{
		State: state,
		Target: types.ItemPointer{
			Block:  types.BlockNumber(binary.LittleEndian.Uint32(b[4:])),
			Offset: types.OffsetNumber(binary.LittleEndian.Uint16(b[8:])),
		},
		Xid: binary.LittleEndian.Uint64(b[16:]),
	}, nil
}

// SetRedirectTarget points an encoded Redirect somewhere else.
func SetRedirectTarget(b []byte, target types.ItemPointer) error {
	if len(b) != DeadTupleSize || TupleStateOf(b) != StateRedirect {
		return corruptf("redirect target set on %s tuple", tupleStateOrEmpty(b))
	}
	binary.LittleEndian.PutUint32(b[4:], uint32(target.Block))
	binary.LittleEndian.PutUint16(b[8:], uint16(target.Offset))
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Inner tuples
// ─────────────────────────────────────────────────────────────────────────────

type Node struct {
	Label    []byte // nil: node has no label
	Downlink types.ItemPointer
}

type InnerTuple struct {
	AllTheSame bool
	HasPrefix  bool
	Prefix     []byte
	Nodes      []Node
}

// InnerSize predicts the encoded size of an inner tuple.
func InnerSize(prefixLen int, labelLens []int) int {
	size := InnerHeaderSize + align(prefixLen)
	for _, l := range labelLens {
		size += NodeHeaderSize
		if l > 0 {
			size += align(l)
		}
	}
	// never smaller than a dead tuple, so it can be turned into one in place
	if size < DeadTupleSize {
		size = DeadTupleSize
	}
	return size
}

func (it *InnerTuple) Size() int {
	lens := make([]int, len(it.Nodes))
	for i, n := range it.Nodes {
		lens[i] = len(n.Label)
	}
	return InnerSize(len(it.Prefix), lens)
}

// EncodeInner checks the bounds an inner tuple must respect on a page of pageSize bytes.
func EncodeInner(it *InnerTuple, pageSize int) ([]byte, error) {
	if len(it.Nodes) > MaxNodes {
		return nil, errors.Wrapf(ErrOversizeValue, "inner tuple has %d nodes, maximum is %d", len(it.Nodes), MaxNodes)
	}
	if len(it.Prefix) > maxFieldLength {
		return nil, errors.Wrapf(ErrOversizeValue, "inner prefix of %s", humanize.IBytes(uint64(len(it.Prefix))))
	}
	size := it.Size()
	if limit := PageCapacity(pageSize) - types.SlotSize; size > limit {
		return nil, errors.Wrapf(ErrOversizeValue, "inner tuple size %s exceeds maximum %s",
			humanize.IBytes(uint64(size)), humanize.IBytes(uint64(limit)))
	}

	buf := make([]byte, size)
	buf[0] = byte(StateLive)
	if it.AllTheSame {
		buf[1] |= innerFlagAllSame
	}
	if it.HasPrefix {
		buf[1] |= innerFlagHasPrefx
	}
	binary.LittleEndian.PutUint16(buf[2:], uint16(len(it.Nodes)))
	binary.LittleEndian.PutUint16(buf[4:], uint16(len(it.Prefix)))
	pos := InnerHeaderSize
	copy(buf[pos:], it.Prefix)
	pos += align(len(it.Prefix))

	for _, n := range it.Nodes {
		if len(n.Label) > maxFieldLength {
			return nil, errors.Wrapf(ErrOversizeValue, "node label of %d bytes", len(n.Label))
		}
		binary.LittleEndian.PutUint32(buf[pos:], uint32(n.Downlink.Block))
		binary.LittleEndian.PutUint16(buf[pos+4:], uint16(n.Downlink.Offset))
		if n.Label == nil {
			binary.LittleEndian.PutUint16(buf[pos+6:], noLabel)
		} else {
			binary.LittleEndian.PutUint16(buf[pos+6:], uint16(len(n.Label)))
		}
		pos += NodeHeaderSize
		copy(buf[pos:], n.Label)
		if len(n.Label) > 0 {
			pos += align(len(n.Label))
		}
	}
	return buf, nil
}

func DecodeInner(b []byte) (*InnerTuple, error) {
	if len(b) < InnerHeaderSize || TupleStateOf(b) != StateLive {
		return nil, corruptf("not a live inner tuple (%d bytes, state %s)", len(b), tupleStateOrEmpty(b))
	}
	nNodes := int(binary.LittleEndian.Uint16(b[2:]))
	prefixLen := int(binary.LittleEndian.Uint16(b[4:]))
	it := &InnerTuple{
		AllTheSame: b[1]&innerFlagAllSame != 0,
		HasPrefix:  b[1]&innerFlagHasPrefx != 0,
		Nodes:      make([]Node, nNodes),
	}
	pos := InnerHeaderSize
	if pos+prefixLen > len(b) {
		return nil, corruptf("inner prefix of %d bytes overruns tuple of %d", prefixLen, len(b))
	}
	if it.HasPrefix {
		it.Prefix = append([]byte{}, b[pos:pos+prefixLen]...)
	}
	pos += align(prefixLen)

	for i := range it.Nodes {
		if pos+NodeHeaderSize > len(b) {
			return nil, corruptf("node %d overruns inner tuple of %d bytes", i, len(b))
		}
		n := &it.Nodes[i]
		n.Downlink = types.ItemPointer{
			Block:  types.BlockNumber(binary.LittleEndian.Uint32(b[pos:])),
			Offset: types.OffsetNumber(binary.LittleEndian.Uint16(b[pos+4:])),
		}
		labelLen := int(binary.LittleEndian.Uint16(b[pos+6:]))
		pos += NodeHeaderSize
		if labelLen == noLabel {
			continue
		}
		if pos+labelLen > len(b) {
			return nil, corruptf("label of node %d overruns inner tuple", i)
		}
		n.Label = append([]byte{}, b[pos:pos+labelLen]...)
		if labelLen > 0 {
			pos += align(labelLen)
		}
	}
	if max(pos, DeadTupleSize) != len(b) {
		return nil, corruptf("inner tuple of %d bytes decodes to %d", len(b), pos)
	}
	return it, nil
}

// SetNodeLink rewrites the downlink of node nodeN of an encoded inner tuple in place.
func SetNodeLink(b []byte, nodeN int, target types.ItemPointer) error {
	nNodes := int(binary.LittleEndian.Uint16(b[2:]))
	if nodeN < 0 || nodeN >= nNodes {
		return corruptf("node %d requested from inner tuple with %d nodes", nodeN, nNodes)
	}
	pos := InnerHeaderSize + align(int(binary.LittleEndian.Uint16(b[4:])))
	for i := 0; ; i++ {
		if pos+NodeHeaderSize > len(b) {
			return corruptf("node %d overruns inner tuple", i)
		}
		if i == nodeN {
			binary.LittleEndian.PutUint32(b[pos:], uint32(target.Block))
			binary.LittleEndian.PutUint16(b[pos+4:], uint16(target.Offset))
			return nil
		}
		labelLen := int(binary.LittleEndian.Uint16(b[pos+6:]))
		pos += NodeHeaderSize
		if labelLen != noLabel && labelLen > 0 {
			pos += align(labelLen)
		}
	}
}

func tupleStateOrEmpty(b []byte) string {
	if len(b) == 0 {
		return "empty"
	}
	return TupleStateOf(b).String()
}
