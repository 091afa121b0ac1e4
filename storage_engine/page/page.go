package page

import (
	"SpaceDB/types"
	"encoding/binary"
	"sync"
	"sync/atomic"
)

const (
	PageLSNOffset = 0 // first 8 bytes of every page = LSN
)

/*
This contains the page frame shared by the disk manager, the buffer pool and the index access method.

The frame only knows the conventions common to every page type:
the LSN lives in the first 8 bytes, the page type byte at offset 8.
The slotted layout of index pages is implemented in /SpaceDB/storage_engine/access/spgist/page_layout.go

Pins are atomic so that the buffer pool can pin a page while another goroutine holds its content lock;
the content lock itself is the RWMutex below, TryLock gives the conditional acquisition used during descent.
*/

type LockMode uint8

const (
	LockShare LockMode = iota
	LockExclusive
)

type Page struct {
	ID       int64
	FileID   uint32
	Data     []byte
	IsDirty  bool
	PinCount atomic.Int32
	PageType types.PageType
	LSN      uint64 // in-memory mirror of the first 8 bytes
	mu       sync.RWMutex
}

func (p *Page) Lock() {
	p.mu.Lock()
}

func (p *Page) TryLock() bool {
	return p.mu.TryLock()
}

func (p *Page) Unlock() {
	p.mu.Unlock()
}

func (p *Page) RLock() {
	p.mu.RLock()
}

func (p *Page) RUnlock() {
	p.mu.RUnlock()
}

// Acquire takes the content lock in the given mode.
func (p *Page) Acquire(mode LockMode) {
	if mode == LockExclusive {
		p.mu.Lock()
		return
	}
	p.mu.RLock()
}

// Release drops the content lock taken with Acquire.
func (p *Page) Release(mode LockMode) {
	if mode == LockExclusive {
		p.mu.Unlock()
		return
	}
	p.mu.RUnlock()
}

func (p *Page) Pin() {
	p.PinCount.Add(1)
}

func (p *Page) Unpin() {
	if p.PinCount.Add(-1) < 0 {
		p.PinCount.Store(0)
	}
}

func (p *Page) Pinned() bool {
	return p.PinCount.Load() > 0
}

// SetLSN writes the LSN into both the page image and the in-memory mirror.
func (p *Page) SetLSN(lsn uint64) {
	binary.LittleEndian.PutUint64(p.Data[PageLSNOffset:], lsn)
	p.LSN = lsn
}

// SyncLSN refreshes the in-memory mirror from the page image.
func (p *Page) SyncLSN() {
	if len(p.Data) >= 8 {
		p.LSN = binary.LittleEndian.Uint64(p.Data[PageLSNOffset:])
	}
}

// Local returns the file-local block number encoded in the global page ID.
func (p *Page) Local() types.BlockNumber {
	return types.BlockNumber(p.ID & 0xFFFFFFFF)
}
