package bufferpool

import (
	diskmanager "SpaceDB/storage_engine/disk_manager"
	"SpaceDB/storage_engine/page"
	"log"
	"sync"
)

// ############################################# BUFFER POOL #############################################

// BufferPool manages cached pages in memory with LRU eviction
// Shared by every index file opened by the engine
type BufferPool struct {
	pages       map[int64]*page.Page // pageID -> Page
	capacity    int
	diskManager *diskmanager.DiskManager
	walManager  WALFlushedLSNGetter
	accessOrder []int64 // LRU tracking: most recently used at end
	freeSpace   *FreeSpaceMap
	logger      *log.Logger
	hits        uint64
	misses      uint64
	mu          sync.Mutex
}

// Stats returns buffer pool statistics
type BufferPoolStats struct {
	TotalPages  int
	PinnedPages int
	DirtyPages  int
	Capacity    int
	HitRate     float64
}

// small interface so bufferpool doesn't import the whole wal package
type WALFlushedLSNGetter interface {
	GetFlushedLSN() uint64
}

// FreeSpaceMap remembers pages that were emptied and can be handed out again.
type FreeSpaceMap struct {
	free map[uint32][]int64 // fileID -> sorted local page numbers
	mu   sync.Mutex
}
