package spgist

import (
	"SpaceDB/types"
	"encoding/binary"

	"github.com/pkg/errors"
)

/*
Meta page payload (block 0, written by the disk manager outside the buffer pool):

	0   magic    uint32  "SPGI"
	4   version  uint32
	8   hints    8 × { block uint32, freeSpace uint32 }, one per PageKind

The hints are not WAL-logged. A crash loses at most some free-space knowledge.
*/

const (
	metaMagic   uint32 = 0x49475053
	metaVersion uint32 = 1
	metaSize           = 8 + numPageKinds*8
)

type metaPage struct {
	hints [numPageKinds]Hint
}

func emptyMeta() *metaPage {
	m := &metaPage{}
	for i := range m.hints {
		m.hints[i].Block = types.InvalidBlockNumber
	}
	return m
}

func (m *metaPage) encode() []byte {
	buf := make([]byte, metaSize)
	binary.LittleEndian.PutUint32(buf[0:], metaMagic)
	binary.LittleEndian.PutUint32(buf[4:], metaVersion)
	pos := 8
	for _, h := range m.hints {
		binary.LittleEndian.PutUint32(buf[pos:], uint32(h.Block))
		binary.LittleEndian.PutUint32(buf[pos+4:], uint32(max(h.FreeSpace, 0)))
		pos += 8
	}
	return buf
}

func decodeMeta(b []byte) (*metaPage, error) {
	if len(b) < metaSize {
		return nil, corruptf("meta page payload of %d bytes", len(b))
	}
	if magic := binary.LittleEndian.Uint32(b[0:]); magic != metaMagic {
		return nil, corruptf("meta page magic %08x", magic)
	}
	if v := binary.LittleEndian.Uint32(b[4:]); v != metaVersion {
		return nil, errors.Errorf("unsupported index version %d", v)
	}
	m := &metaPage{}
	pos := 8
	for i := range m.hints {
		m.hints[i] = Hint{
			Block:     types.BlockNumber(binary.LittleEndian.Uint32(b[pos:])),
			FreeSpace: int(binary.LittleEndian.Uint32(b[pos+4:])),
		}
		pos += 8
	}
	return m, nil
}

// loadHints seeds the hint cache from the meta page.
func (ix *Index) loadHints() error {
	raw, err := ix.store.ReadMeta()
	if err != nil {
		return errors.Wrap(err, "read meta page")
	}
	m, err := decodeMeta(raw)
	if err != nil {
		return err
	}
	for k, h := range m.hints {
		if h.Block == types.InvalidBlockNumber || IsFixedBlock(h.Block) {
			continue
		}
		ix.hints.Set(ix.fileID, PageKind(k), h)
	}
	ix.hints.Wait()
	return nil
}

// SaveHints writes the current hints to the meta page.
func (ix *Index) SaveHints() error {
	m := emptyMeta()
	ix.hints.Wait()
	for k := range m.hints {
		if h, ok := ix.hints.Get(ix.fileID, PageKind(k)); ok {
			m.hints[k] = h
		}
	}
	return errors.Wrap(ix.store.WriteMeta(m.encode()), "write meta page")
}
