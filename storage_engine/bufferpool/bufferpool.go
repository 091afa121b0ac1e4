package bufferpool

import (
	diskmanager "SpaceDB/storage_engine/disk_manager"
	"SpaceDB/storage_engine/page"
	"SpaceDB/types"
	"fmt"
	"io"
	"log"
)

/*
This file is the main file of the bufferpool
The buffer pool works on LRU based caching mechanism
and holds access to disk manager for flushing the pages in the cache onto the disk
similarly if page not found in the cache, disk manager loads the page from the disk and adds in the cache for future access

Pages are identified by globalPageID.

Pins are atomic counters on the page frame and are only taken while bp.mu is held,
so an unpinned page seen under bp.mu cannot be locked by anybody and may be evicted.
Content locks (page.Lock/RLock) are never awaited while bp.mu is held.
*/

// NewBufferPool creates a new buffer pool with the given capacity
func NewBufferPool(capacity int, diskManager *diskmanager.DiskManager) *BufferPool {
	return &BufferPool{
		pages:       make(map[int64]*page.Page, capacity),
		capacity:    capacity,
		diskManager: diskManager,
		accessOrder: make([]int64, 0, capacity),
		freeSpace:   NewFreeSpaceMap(),
		logger:      log.New(io.Discard, "[BufferPool] ", 0),
	}
}

func (bp *BufferPool) SetWALManager(wal WALFlushedLSNGetter) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.walManager = wal
}

func (bp *BufferPool) SetLogger(logger *log.Logger) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.logger = logger
}

func (bp *BufferPool) FreeSpace() *FreeSpaceMap {
	return bp.freeSpace
}

func (bp *BufferPool) DiskManager() *diskmanager.DiskManager {
	return bp.diskManager
}

// FetchPage retrieves a page from the buffer pool, loading from disk if necessary
// Returns the page with pin count incremented
func (bp *BufferPool) FetchPage(pageID int64) (*page.Page, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	// Check if page is in buffer pool
	if pg, exists := bp.pages[pageID]; exists {
		bp.hits++
		bp.updateAccessOrder(pageID)
		pg.Pin()
		return pg, nil
	}

	bp.misses++
	bp.logger.Printf("MISS pageID=%d, loading from disk", pageID)
	if bp.diskManager == nil {
		return nil, fmt.Errorf("disk manager not set")
	}

	pg, err := bp.diskManager.ReadPage(pageID)
	if err != nil {
		return nil, fmt.Errorf("failed to read page %d from disk: %w", pageID, err)
	}

	// Add to buffer pool (may trigger eviction)
	if err := bp.addPage(pg); err != nil {
		return nil, fmt.Errorf("failed to add page to buffer pool: %w", err)
	}

	pg.Pin()
	return pg, nil
}

// NewPage asks the DiskManager for the next available page ID for the given
// file, constructs a blank Page struct entirely in RAM, marks it dirty so
// the BufferPool will eventually flush it, and pins it for the caller.
func (bp *BufferPool) NewPage(fileID uint32, pageType types.PageType) (*page.Page, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if bp.diskManager == nil {
		return nil, fmt.Errorf("disk manager not set")
	}

	pageID, err := bp.diskManager.AllocatePage(fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate page: %w", err)
	}

	pg := bp.diskManager.NewPage(pageID, fileID, pageType)
	pg.IsDirty = true // New pages are dirty by default
	pg.Pin()

	if err := bp.addPage(pg); err != nil {
		pg.Unpin()
		return nil, fmt.Errorf("failed to add new page to buffer pool: %w", err)
	}

	bp.logger.Printf("NEW pageID=%d type=%s", pageID, pageType)
	return pg, nil
}

// UnpinPage decrements the pin count for a page.
// The caller must have released its content lock.
func (bp *BufferPool) UnpinPage(pageID int64) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	pg, exists := bp.pages[pageID]
	if !exists {
		return fmt.Errorf("page %d not in buffer pool", pageID)
	}

	pg.Unpin()
	return nil
}

// FlushPage writes a specific page to disk if dirty
func (bp *BufferPool) FlushPage(pageID int64) error {
	bp.mu.Lock()
	pg, exists := bp.pages[pageID]
	if !exists {
		bp.mu.Unlock()
		return fmt.Errorf("page %d not in buffer pool", pageID)
	}
	pg.Pin()
	bp.mu.Unlock()

	defer bp.UnpinPage(pageID)

	pg.Lock()
	defer pg.Unlock()
	return bp.flushLocked(pg)
}

// FlushAllPages writes all dirty pages to disk
func (bp *BufferPool) FlushAllPages() error {
	return bp.flushWhere(func(*page.Page) bool { return true })
}

// FlushFile writes the dirty pages of one file to disk
func (bp *BufferPool) FlushFile(fileID uint32) error {
	return bp.flushWhere(func(pg *page.Page) bool { return pg.FileID == fileID })
}

func (bp *BufferPool) flushWhere(match func(*page.Page) bool) error {
	bp.mu.Lock()
	if bp.diskManager == nil {
		bp.mu.Unlock()
		return fmt.Errorf("disk manager not set")
	}
	var dirty []*page.Page
	for _, pg := range bp.pages {
		if match(pg) {
			pg.Pin()
			dirty = append(dirty, pg)
		}
	}
	bp.logger.Printf("FlushAllPages, pool size=%d candidates=%d", len(bp.pages), len(dirty))
	bp.mu.Unlock()

	var firstErr error
	for _, pg := range dirty {
		pg.Lock()
		if err := bp.flushLocked(pg); err != nil && firstErr == nil {
			firstErr = err
		}
		pg.Unlock()
		pg.Unpin()
	}
	return firstErr
}

// flushLocked writes a page the caller holds exclusively.
// WAL is forced up to the page LSN first, WAL-before-data.
func (bp *BufferPool) flushLocked(pg *page.Page) error {
	if !pg.IsDirty {
		return nil
	}

	if err := bp.ensureWALCovers(pg); err != nil {
		return err
	}

	if err := bp.diskManager.WritePage(pg); err != nil {
		return fmt.Errorf("failed to flush page %d: %w", pg.ID, err)
	}
	pg.IsDirty = false
	return nil
}

func (bp *BufferPool) ensureWALCovers(pg *page.Page) error {
	if bp.walManager == nil {
		return nil
	}
	flushedLSN := bp.walManager.GetFlushedLSN()
	if pg.LSN <= flushedLSN {
		return nil
	}
	if syncer, ok := bp.walManager.(interface{ Sync() error }); ok {
		bp.logger.Printf("FLUSH forcing WAL pageID=%d pageLSN=%d flushedLSN=%d", pg.ID, pg.LSN, flushedLSN)
		if err := syncer.Sync(); err != nil {
			return fmt.Errorf("cannot flush page %d: WAL sync failed: %w", pg.ID, err)
		}
		if pg.LSN <= bp.walManager.GetFlushedLSN() {
			return nil
		}
	}
	return fmt.Errorf("cannot flush page %d: pageLSN=%d not yet covered by WAL flushedLSN=%d", pg.ID, pg.LSN, flushedLSN)
}

// addPage adds a page to the buffer pool, evicting if necessary
// Assumes lock is already held
func (bp *BufferPool) addPage(pg *page.Page) error {
	if _, exists := bp.pages[pg.ID]; exists {
		bp.updateAccessOrder(pg.ID)
		return nil
	}

	if len(bp.pages) >= bp.capacity {
		if err := bp.evictLRU(); err != nil {
			return fmt.Errorf("failed to evict page: %w", err)
		}
	}

	bp.pages[pg.ID] = pg
	bp.updateAccessOrder(pg.ID)

	return nil
}

// evictLRU evicts the least recently used unpinned page
// Assumes lock is already held
func (bp *BufferPool) evictLRU() error {
	for i := 0; i < len(bp.accessOrder); i++ {
		pageID := bp.accessOrder[i]
		pg, exists := bp.pages[pageID]

		if !exists {
			bp.accessOrder = append(bp.accessOrder[:i], bp.accessOrder[i+1:]...)
			i--
			continue
		}

		if pg.Pinned() {
			continue
		}

		bp.logger.Printf("EVICT pageID=%d dirty=%v", pageID, pg.IsDirty)
		if pg.IsDirty && bp.diskManager != nil {
			if err := bp.flushLocked(pg); err != nil {
				return fmt.Errorf("failed to write page %d during eviction: %w", pageID, err)
			}
		}

		delete(bp.pages, pageID)
		bp.accessOrder = append(bp.accessOrder[:i], bp.accessOrder[i+1:]...)
		return nil
	}

	return fmt.Errorf("all pages are pinned, cannot evict")
}

// updateAccessOrder moves a page to the end of access order (most recently used)
// Assumes lock is already held
func (bp *BufferPool) updateAccessOrder(pageID int64) {
	for i, id := range bp.accessOrder {
		if id == pageID {
			bp.accessOrder = append(bp.accessOrder[:i], bp.accessOrder[i+1:]...)
			break
		}
	}
	bp.accessOrder = append(bp.accessOrder, pageID)
}

// DropFile removes every unpinned page of a file from the pool without writing it.
// Callers flush first when the contents matter.
func (bp *BufferPool) DropFile(fileID uint32) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	for pageID, pg := range bp.pages {
		if pg.FileID != fileID {
			continue
		}
		if pg.Pinned() {
			return fmt.Errorf("cannot drop pinned page %d", pageID)
		}
		delete(bp.pages, pageID)
	}

	kept := bp.accessOrder[:0]
	for _, id := range bp.accessOrder {
		if _, ok := bp.pages[id]; ok {
			kept = append(kept, id)
		}
	}
	bp.accessOrder = kept
	bp.freeSpace.Forget(fileID)
	return nil
}
