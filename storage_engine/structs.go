package storageengine

import (
	indexfile "SpaceDB/storage_engine/access/indexfile_manager"
	"SpaceDB/storage_engine/bufferpool"
	"SpaceDB/storage_engine/catalog"
	checkpoint "SpaceDB/storage_engine/checkpoint_manager"
	diskmanager "SpaceDB/storage_engine/disk_manager"
	txn "SpaceDB/storage_engine/transaction_manager"
	"SpaceDB/storage_engine/wal_manager"
	"SpaceDB/types"
	"io"
	"log"
	"sync"
)

type StorageEngine struct {
	BufferPool *bufferpool.BufferPool

	DiskManager       *diskmanager.DiskManager
	CatalogManager    *catalog.CatalogManager
	IndexManager      *indexfile.IndexFileManager
	WalManager        *wal_manager.WALManager
	TxnManager        *txn.TxnManager
	CheckpointManager *checkpoint.CheckpointManager

	config Config
	logger *log.Logger

	// rows reported dead by deletes and aborted transactions, consumed by vacuum
	deadMu   sync.RWMutex
	deadRows map[types.RowPointer]struct{}
}

// Config is everything needed to open an engine directory.
type Config struct {
	Dir              string
	PageSize         int
	BufferPoolPages  int
	WALSegmentSize   int64
	HintCacheEntries int64
	// LogOutput receives the bracket-tagged component logs; nil discards them.
	LogOutput io.Writer
}

func DefaultConfig(dir string) Config {
	return Config{
		Dir:              dir,
		PageSize:         types.PageSize,
		BufferPoolPages:  1024,
		WALSegmentSize:   wal_manager.DefaultSegmentSize,
		HintCacheEntries: 1 << 12,
	}
}
