package spgist

import (
	"SpaceDB/storage_engine/page"
	"SpaceDB/types"
	"encoding/binary"
	"fmt"
)

/*
This file contains standalone functions operating on *page.Page for index page layout.
The same functions run on the forward path and in redo, so a page rebuilt from WAL has
exactly the bytes the original run produced.

Index page binary layout (all values little-endian):

	Offset  Size  Field
	──────────────────────────────────────────────────────
	0       8     LSN           uint64  WAL LSN, first in every page type
	8       1     PageType      uint8   stamped by DiskManager on write
	9       1     Flags         uint8   Leaf | Nulls | Deleted
	10      2     TupleEnd      uint16  first free byte after tuple data
	12      2     SlotStart     uint16  first byte of slot directory
	14      2     SlotCount     uint16  highest offset number in use
	16      2     NRedirection  uint16  Redirect tuples on the page
	18      2     NPlaceholder  uint16  Placeholder tuples on the page
	20      4     Checksum      uint32  owned by DiskManager
	──────────────────────────────────────────────────────
	24            PageHeaderSize

	[ header 24B ][ tuples → ][ free space ][ ← slot dir ]

Offsets are 1-based. Slot i lives at PageSize - i*SlotSize and holds [ Offset uint16 ][ Length uint16 ].

Tuple data is kept compact and in slot order: every operation that removes or resizes a
tuple rewrites the data area. Free space is therefore always the single gap between
TupleEnd and SlotStart.

A page that was never initialised has TupleEnd == 0.
*/
const (
	offLSN          = 0
	offPageType     = 8
	offFlags        = 9
	offTupleEnd     = 10
	offSlotStart    = 12
	offSlotCount    = 14
	offNRedirection = 16
	offNPlaceholder = 18

	PageHeaderSize = 24
)

const (
	FlagLeaf    uint8 = 1 << 0
	FlagNulls   uint8 = 1 << 1
	FlagDeleted uint8 = 1 << 2
)

// Fixed blocks of every index file.
const (
	MetaBlock      types.BlockNumber = 0
	RootBlock      types.BlockNumber = 1
	NullRootBlock  types.BlockNumber = 2
	LastFixedBlock                   = NullRootBlock
)

func IsRootBlock(blk types.BlockNumber) bool {
	return blk == RootBlock || blk == NullRootBlock
}

func IsFixedBlock(blk types.BlockNumber) bool {
	return blk <= LastFixedBlock
}

// PageCapacity is the room for tuples plus slots on an empty page.
func PageCapacity(pageSize int) int {
	return pageSize - PageHeaderSize
}

// ─────────────────────────────────────────────────────────────────────────────
// Initialisation
// ─────────────────────────────────────────────────────────────────────────────

// InitIndexPage zeroes the page and stamps an empty header with the given flags.
// The LSN is reset too; the caller stamps the LSN of the record that initialised it.
func InitIndexPage(pg *page.Page, flags uint8) {
	clear(pg.Data)

	if flags&FlagLeaf != 0 {
		pg.PageType = types.PageTypeSpLeaf
	} else {
		pg.PageType = types.PageTypeSpInner
	}
	pg.Data[offPageType] = byte(pg.PageType)
	pg.Data[offFlags] = flags
	setU16(pg, offTupleEnd, PageHeaderSize)
	setU16(pg, offSlotStart, len(pg.Data))
	pg.LSN = 0
	pg.IsDirty = true
}

// ─────────────────────────────────────────────────────────────────────────────
// Header accessors
// ─────────────────────────────────────────────────────────────────────────────

func getU16(pg *page.Page, off int) int {
	return int(binary.LittleEndian.Uint16(pg.Data[off:]))
}

func setU16(pg *page.Page, off int, v int) {
	binary.LittleEndian.PutUint16(pg.Data[off:], uint16(v))
}

func PageFlags(pg *page.Page) uint8 { return pg.Data[offFlags] }

func IsLeafPage(pg *page.Page) bool { return PageFlags(pg)&FlagLeaf != 0 }

func StoresNulls(pg *page.Page) bool { return PageFlags(pg)&FlagNulls != 0 }

func IsDeletedPage(pg *page.Page) bool { return PageFlags(pg)&FlagDeleted != 0 }

// IsNewPage reports a page that was allocated but never initialised.
func IsNewPage(pg *page.Page) bool { return getU16(pg, offTupleEnd) == 0 }

func IsEmptyPage(pg *page.Page) bool { return MaxOffset(pg) == 0 }

func MaxOffset(pg *page.Page) types.OffsetNumber {
	return types.OffsetNumber(getU16(pg, offSlotCount))
}

func NRedirection(pg *page.Page) int { return getU16(pg, offNRedirection) }

func NPlaceholder(pg *page.Page) int { return getU16(pg, offNPlaceholder) }

func setNRedirection(pg *page.Page, n int) { setU16(pg, offNRedirection, n) }

func setNPlaceholder(pg *page.Page, n int) { setU16(pg, offNPlaceholder, n) }

// ExactFreeSpace is the gap between tuple data and the slot directory.
func ExactFreeSpace(pg *page.Page) int {
	return getU16(pg, offSlotStart) - getU16(pg, offTupleEnd)
}

// FreeSpace counts up to n placeholders as reusable space, since AddNewItem fills them first.
func FreeSpace(pg *page.Page, n int) int {
	if ph := NPlaceholder(pg); ph < n {
		n = ph
	}
	return ExactFreeSpace(pg) + n*(DeadTupleSize+types.SlotSize)
}

// ─────────────────────────────────────────────────────────────────────────────
// Slot directory
// ─────────────────────────────────────────────────────────────────────────────

func slotPos(pg *page.Page, off types.OffsetNumber) int {
	return len(pg.Data) - int(off)*types.SlotSize
}

func readSlot(pg *page.Page, off types.OffsetNumber) (int, int) {
	pos := slotPos(pg, off)
	return getU16(pg, pos), getU16(pg, pos+2)
}

func writeSlot(pg *page.Page, off types.OffsetNumber, dataOff, length int) {
	pos := slotPos(pg, off)
	setU16(pg, pos, dataOff)
	setU16(pg, pos+2, length)
}

// Item returns the tuple bytes at off. The slice aliases the page: writes go to the page.
func Item(pg *page.Page, off types.OffsetNumber) ([]byte, error) {
	if off < types.FirstOffsetNumber || off > MaxOffset(pg) {
		return nil, corruptf("offset %d out of range on block %d (max %d)", off, pg.Local(), MaxOffset(pg))
	}
	dataOff, length := readSlot(pg, off)
	if dataOff < PageHeaderSize || dataOff+length > len(pg.Data) {
		return nil, corruptf("slot %d on block %d points outside the page", off, pg.Local())
	}
	return pg.Data[dataOff : dataOff+length : dataOff+length], nil
}

// SwapSlots exchanges two slot entries; the tuples trade offset numbers.
func SwapSlots(pg *page.Page, a, b types.OffsetNumber) {
	ao, al := readSlot(pg, a)
	bo, bl := readSlot(pg, b)
	writeSlot(pg, a, bo, bl)
	writeSlot(pg, b, ao, al)
}

// ─────────────────────────────────────────────────────────────────────────────
// Tuple operations
// ─────────────────────────────────────────────────────────────────────────────

// AddItem appends data under a new highest offset number.
func AddItem(pg *page.Page, data []byte) (types.OffsetNumber, error) {
	if ExactFreeSpace(pg) < len(data)+types.SlotSize {
		return types.InvalidOffsetNumber, fmt.Errorf("failed to add item of size %d to block %d: %d bytes free",
			len(data), pg.Local(), ExactFreeSpace(pg))
	}
	end := getU16(pg, offTupleEnd)
	copy(pg.Data[end:], data)
	setU16(pg, offTupleEnd, end+len(data))

	off := MaxOffset(pg) + 1
	setU16(pg, offSlotCount, int(off))
	setU16(pg, offSlotStart, getU16(pg, offSlotStart)-types.SlotSize)
	writeSlot(pg, off, end, len(data))
	return off, nil
}

// rewrite lays the tuple area out again in slot order, with item replace[off] substituted
// and the offsets in drop removed. Surviving slots after a dropped one move down.
func rewrite(pg *page.Page, replace map[types.OffsetNumber][]byte, drop map[types.OffsetNumber]bool) error {
	max := MaxOffset(pg)
	items := make([][]byte, 0, max)
	need := 0
	for off := types.FirstOffsetNumber; off <= max; off++ {
		if drop[off] {
			continue
		}
		data, ok := replace[off]
		if !ok {
			cur, err := Item(pg, off)
			if err != nil {
				return err
			}
			data = cur
		}
		items = append(items, data)
		need += len(data) + types.SlotSize
	}
	if need > PageCapacity(len(pg.Data)) {
		return fmt.Errorf("block %d cannot hold %d bytes of tuples", pg.Local(), need)
	}

	area := make([]byte, 0, need)
	for _, data := range items {
		area = append(area, data...)
	}
	clear(pg.Data[PageHeaderSize:])
	copy(pg.Data[PageHeaderSize:], area)

	pos := PageHeaderSize
	for i, data := range items {
		writeSlot(pg, types.OffsetNumber(i+1), pos, len(data))
		pos += len(data)
	}
	setU16(pg, offTupleEnd, pos)
	setU16(pg, offSlotCount, len(items))
	setU16(pg, offSlotStart, len(pg.Data)-len(items)*types.SlotSize)
	return nil
}

// ReplaceItem swaps the tuple at off for data, keeping its offset number.
func ReplaceItem(pg *page.Page, off types.OffsetNumber, data []byte) error {
	if off < types.FirstOffsetNumber || off > MaxOffset(pg) {
		return corruptf("replace of offset %d on block %d (max %d)", off, pg.Local(), MaxOffset(pg))
	}
	return rewrite(pg, map[types.OffsetNumber][]byte{off: data}, nil)
}

// DeleteItems physically removes the given offsets. Later offsets are renumbered.
func DeleteItems(pg *page.Page, offs []types.OffsetNumber) error {
	if len(offs) == 0 {
		return nil
	}
	drop := make(map[types.OffsetNumber]bool, len(offs))
	for _, off := range offs {
		if off < types.FirstOffsetNumber || off > MaxOffset(pg) {
			return corruptf("delete of offset %d on block %d (max %d)", off, pg.Local(), MaxOffset(pg))
		}
		drop[off] = true
	}
	return rewrite(pg, nil, drop)
}

// AddNewItem stores data in the first Placeholder at or after *startOff, else appends.
// startOff may be nil; when set it is advanced past the slot used.
func AddNewItem(pg *page.Page, data []byte, startOff *types.OffsetNumber) (types.OffsetNumber, error) {
	if NPlaceholder(pg) > 0 && ExactFreeSpace(pg)+DeadTupleSize >= len(data) {
		max := MaxOffset(pg)
		found := types.InvalidOffsetNumber

		first := types.FirstOffsetNumber
		if startOff != nil && *startOff != types.InvalidOffsetNumber {
			first = *startOff
		}
		for pass := 0; pass < 2 && found == types.InvalidOffsetNumber; pass++ {
			for off := first; off <= max; off++ {
				item, err := Item(pg, off)
				if err != nil {
					return types.InvalidOffsetNumber, err
				}
				if TupleStateOf(item) == StatePlaceholder {
					found = off
					break
				}
			}
			first = types.FirstOffsetNumber
		}
		if found == types.InvalidOffsetNumber {
			return types.InvalidOffsetNumber, corruptf("block %d counts %d placeholders but has none", pg.Local(), NPlaceholder(pg))
		}

		if err := ReplaceItem(pg, found, data); err != nil {
			return types.InvalidOffsetNumber, err
		}
		setNPlaceholder(pg, NPlaceholder(pg)-1)
		if startOff != nil {
			*startOff = found + 1
		}
		return found, nil
	}
	return AddItem(pg, data)
}

// AddOrReplaceItem installs data at exactly off during redo.
// off must hold a Placeholder or be one past the last slot.
func AddOrReplaceItem(pg *page.Page, data []byte, off types.OffsetNumber) error {
	max := MaxOffset(pg)
	if off <= max {
		item, err := Item(pg, off)
		if err != nil {
			return err
		}
		if TupleStateOf(item) != StatePlaceholder {
			return corruptf("tuple %d on block %d to be replaced is not a placeholder", off, pg.Local())
		}
		if NPlaceholder(pg) == 0 {
			return corruptf("block %d has a placeholder but counts none", pg.Local())
		}
		setNPlaceholder(pg, NPlaceholder(pg)-1)
		return ReplaceItem(pg, off, data)
	}
	if off != max+1 {
		return corruptf("cannot add offset %d to block %d with %d slots", off, pg.Local(), max)
	}
	_, err := AddItem(pg, data)
	return err
}
