package spgist

import (
	"SpaceDB/types"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

/*
Index WAL records. The WAL manager frames and checksums the bytes; inside the frame:

	[ fileID uint32 ][ kind uint8 ][ payload ]

Payload = fixed-size header (binary.Write of the header struct, little-endian), then the
offset arrays the header counts, then tuples, each as [ len uint16 ][ bytes ].

Records carry block numbers, offsets and the bytes of new tuples only. Redo never calls
the split policy: it reproduces outcomes the forward path already decided.
*/

type RecordKind uint8

const (
	RecordCreateIndex RecordKind = iota + 1
	RecordAddLeaf
	RecordMoveLeafs
	RecordAddNode
	RecordSplitTuple
	RecordPickSplit
	RecordVacuumLeaf
	RecordVacuumRoot
	RecordVacuumRedirect
)

func (k RecordKind) String() string {
	switch k {
	case RecordCreateIndex:
		return "CreateIndex"
	case RecordAddLeaf:
		return "AddLeaf"
	case RecordMoveLeafs:
		return "MoveLeafs"
	case RecordAddNode:
		return "AddNode"
	case RecordSplitTuple:
		return "SplitTuple"
	case RecordPickSplit:
		return "PickSplit"
	case RecordVacuumLeaf:
		return "VacuumLeaf"
	case RecordVacuumRoot:
		return "VacuumRoot"
	case RecordVacuumRedirect:
		return "VacuumRedirect"
	default:
		return fmt.Sprintf("Record(%d)", uint8(k))
	}
}

const envelopeSize = 5

// walState is what redo needs to form the dead tuples the forward path formed.
type walState struct {
	Xid     uint64
	IsBuild bool
}

// ─────────────────────────────────────────────────────────────────────────────
// Record headers
// ─────────────────────────────────────────────────────────────────────────────

type addLeafRecord struct {
	NewPage        bool
	StoresNulls    bool
	BlkLeaf        uint32
	OffnumLeaf     uint16
	OffnumHeadLeaf uint16
	BlkParent      uint32
	OffnumParent   uint16
	NodeI          uint16
}

type moveLeafsRecord struct {
	NMoves       uint16
	NInsert      uint16
	NewPage      bool
	ReplaceDead  bool
	StoresNulls  bool
	BlkSrc       uint32
	BlkDst       uint32
	BlkParent    uint32
	OffnumParent uint16
	NodeI        uint16
	State        walState
}

type addNodeRecord struct {
	Blk       uint32
	Offnum    uint16
	BlkNew    uint32
	OffnumNew uint16
	NewPage   bool
	// ParentBlk: -1 no parent update, 0 parent is the old page, 1 the new page, 2 another page
	ParentBlk    int8
	BlkParent    uint32
	OffnumParent uint16
	NodeI        uint16
	State        walState
}

type splitTupleRecord struct {
	BlkPrefix      uint32
	OffnumPrefix   uint16
	BlkPostfix     uint32
	OffnumPostfix  uint16
	NewPage        bool
	PostfixBlkSame bool
}

type pickSplitRecord struct {
	IsRootSplit   bool
	NDelete       uint16
	NInsert       uint16
	InitSrc       bool
	InitDest      bool
	InitInner     bool
	StoresNulls   bool
	BlkSrc        uint32
	BlkDest       uint32
	BlkInner      uint32
	OffnumInner   uint16
	InnerIsParent bool
	BlkParent     uint32
	OffnumParent  uint16
	NodeI         uint16
	State         walState
}

type vacuumLeafRecord struct {
	Blk          uint32
	NDead        uint16
	NPlaceholder uint16
	NMove        uint16
	NChain       uint16
	State        walState
}

type vacuumRootRecord struct {
	Blk         uint32
	NDelete     uint16
	StoresNulls bool
}

type vacuumRedirectRecord struct {
	Blk               uint32
	NToPlaceholder    uint16
	FirstPlaceholder  uint16
	NewestRedirectXid uint64
}

// ─────────────────────────────────────────────────────────────────────────────
// Encoding
// ─────────────────────────────────────────────────────────────────────────────

func encodeEnvelope(fileID uint32, kind RecordKind, body []byte) []byte {
	buf := make([]byte, envelopeSize+len(body))
	binary.LittleEndian.PutUint32(buf[0:], fileID)
	buf[4] = byte(kind)
	copy(buf[envelopeSize:], body)
	return buf
}

// Record is a decoded envelope.
type Record struct {
	FileID  uint32
	Kind    RecordKind
	Payload []byte
}

func DecodeEnvelope(data []byte) (*Record, error) {
	if len(data) < envelopeSize {
		return nil, corruptf("index WAL record of %d bytes", len(data))
	}
	rec := &Record{
		FileID:  binary.LittleEndian.Uint32(data[0:]),
		Kind:    RecordKind(data[4]),
		Payload: data[envelopeSize:],
	}
	if rec.Kind < RecordCreateIndex || rec.Kind > RecordVacuumRedirect {
		return nil, corruptf("unknown index WAL record kind %d", data[4])
	}
	return rec, nil
}

type recordWriter struct {
	buf bytes.Buffer
}

// header writes a fixed-size record struct. Writes to a bytes.Buffer cannot fail.
func (w *recordWriter) header(h any) *recordWriter {
	_ = binary.Write(&w.buf, binary.LittleEndian, h)
	return w
}

func (w *recordWriter) offsets(offs []types.OffsetNumber) *recordWriter {
	for _, off := range offs {
		_ = binary.Write(&w.buf, binary.LittleEndian, uint16(off))
	}
	return w
}

func (w *recordWriter) flags(b []uint8) *recordWriter {
	w.buf.Write(b)
	return w
}

func (w *recordWriter) tuple(t []byte) *recordWriter {
	_ = binary.Write(&w.buf, binary.LittleEndian, uint16(len(t)))
	w.buf.Write(t)
	return w
}

func (w *recordWriter) bytes() []byte {
	return w.buf.Bytes()
}

type recordReader struct {
	r    *bytes.Reader
	kind RecordKind
}

func newRecordReader(rec *Record) *recordReader {
	return &recordReader{r: bytes.NewReader(rec.Payload), kind: rec.Kind}
}

func (rr *recordReader) fail(what string, err error) error {
	return errors.Wrapf(ErrCorruption, "%s record: %s: %v", rr.kind, what, err)
}

func (rr *recordReader) header(h any) error {
	if err := binary.Read(rr.r, binary.LittleEndian, h); err != nil {
		return rr.fail("header", err)
	}
	return nil
}

func (rr *recordReader) offsets(n int) ([]types.OffsetNumber, error) {
	raw := make([]uint16, n)
	if err := binary.Read(rr.r, binary.LittleEndian, raw); err != nil {
		return nil, rr.fail("offsets", err)
	}
	offs := make([]types.OffsetNumber, n)
	for i, o := range raw {
		offs[i] = types.OffsetNumber(o)
	}
	return offs, nil
}

func (rr *recordReader) flags(n int) ([]uint8, error) {
	b := make([]uint8, n)
	if _, err := io.ReadFull(rr.r, b); err != nil {
		return nil, rr.fail("flags", err)
	}
	return b, nil
}

func (rr *recordReader) tuple() ([]byte, error) {
	var n uint16
	if err := binary.Read(rr.r, binary.LittleEndian, &n); err != nil {
		return nil, rr.fail("tuple length", err)
	}
	t := make([]byte, n)
	if _, err := io.ReadFull(rr.r, t); err != nil {
		return nil, rr.fail("tuple", err)
	}
	return t, nil
}

func (rr *recordReader) done() error {
	if rr.r.Len() != 0 {
		return errors.Wrapf(ErrCorruption, "%s record has %d trailing bytes", rr.kind, rr.r.Len())
	}
	return nil
}

func blk32(b types.BlockNumber) uint32 { return uint32(b) }

func blkOf(b uint32) types.BlockNumber { return types.BlockNumber(b) }
