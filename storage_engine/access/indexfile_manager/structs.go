package indexfile

import (
	"SpaceDB/storage_engine/access/spgist"
	"SpaceDB/storage_engine/bufferpool"
	diskmanager "SpaceDB/storage_engine/disk_manager"
	"log"
	"sync"
)

type IndexFileManager struct {
	baseDir     string                   // e.g., /data/spacedb/indexes
	indexes     map[string]*spgist.Index // index name → open index
	stores      map[uint32]*FileStore    // fileID → page store, also used by redo
	bufferPool  *bufferpool.BufferPool   // ← shared by every index file
	diskManager *diskmanager.DiskManager // ← shared by every index file
	hints       *spgist.HintCache        // ← shared by every index file
	opts        spgist.Options           // template for every index opened here
	logger      *log.Logger
	mu          sync.RWMutex
}

// FileStore is the page store of one index file: pages come from the shared buffer
// pool, the meta page is read and written directly by the disk manager.
type FileStore struct {
	fileID      uint32
	bufferPool  *bufferpool.BufferPool
	diskManager *diskmanager.DiskManager
}
