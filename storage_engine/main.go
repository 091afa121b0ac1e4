package storageengine

import (
	indexfile "SpaceDB/storage_engine/access/indexfile_manager"
	"SpaceDB/storage_engine/access/spgist"
	"SpaceDB/storage_engine/bufferpool"
	"SpaceDB/storage_engine/catalog"
	checkpoint "SpaceDB/storage_engine/checkpoint_manager"
	diskmanager "SpaceDB/storage_engine/disk_manager"
	txn "SpaceDB/storage_engine/transaction_manager"
	"SpaceDB/storage_engine/wal_manager"
	"SpaceDB/types"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

/*
The main file of storage engine, it initializes every component in dependency order:

	catalog      → which index lives in which file, with which split policy
	disk manager → one file per index under <dir>/indexes
	buffer pool  → shared page cache, WAL-before-data guard wired to the WAL
	index files  → page stores + open indexes
	WAL          → <dir>/logs
	txn          → transaction ids, vacuum horizon
	checkpoint   → <dir>/checkpoint.json

After wiring, every index file in the catalog is registered, the WAL is replayed from the
last checkpoint and only then are the indexes opened.
*/

func NewStorageEngine(cfg Config) (*StorageEngine, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("storage engine directory cannot be empty")
	}
	defaults := DefaultConfig(cfg.Dir)
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaults.PageSize
	}
	if cfg.PageSize < types.MinPageSize {
		return nil, fmt.Errorf("page size %d below minimum %d", cfg.PageSize, types.MinPageSize)
	}
	if cfg.BufferPoolPages <= 0 {
		cfg.BufferPoolPages = defaults.BufferPoolPages
	}
	if cfg.WALSegmentSize <= 0 {
		cfg.WALSegmentSize = defaults.WALSegmentSize
	}
	if cfg.HintCacheEntries <= 0 {
		cfg.HintCacheEntries = defaults.HintCacheEntries
	}
	tagged := func(tag string) *log.Logger { return newTaggedLogger(cfg.LogOutput, tag) }

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db root: %w", err)
	}

	catalogManager, err := catalog.NewCatalogManager(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to init catalog manager: %w", err)
	}
	catalogManager.SetLogger(tagged("Catalog"))

	// Initialize DiskManager
	diskManager := diskmanager.NewDiskManager(cfg.PageSize)
	diskManager.SetLogger(tagged("DiskManager"))

	// Initialize BufferPool
	bufferPool := bufferpool.NewBufferPool(cfg.BufferPoolPages, diskManager)
	bufferPool.SetLogger(tagged("BufferPool"))

	// Open WAL
	walManager, err := wal_manager.OpenWAL(filepath.Join(cfg.Dir, "logs"), cfg.WALSegmentSize)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL: %w", err)
	}
	walManager.SetLogger(tagged("WAL"))
	bufferPool.SetWALManager(walManager)

	// Initialize TransactionManager
	txnManager := txn.NewTxnManager()
	txnManager.SetLogger(tagged("TXN"))

	// Initialize CheckPointManager
	checkpointManager, err := checkpoint.NewCheckpointManager(cfg.Dir)
	if err != nil {
		walManager.Close()
		return nil, err
	}
	checkpointManager.SetLogger(tagged("Checkpoint"))

	// Initialize IndexFileManager
	hints, err := spgist.NewHintCache(cfg.HintCacheEntries)
	if err != nil {
		walManager.Close()
		return nil, err
	}
	opts := spgist.DefaultOptions()
	opts.Hints = hints
	opts.Logger = tagged("SPGist")
	opts.Horizon = txnManager
	indexManager, err := indexfile.NewIndexFileManager(filepath.Join(cfg.Dir, "indexes"), diskManager, bufferPool, opts)
	if err != nil {
		walManager.Close()
		return nil, fmt.Errorf("failed to init index manager: %w", err)
	}
	indexManager.SetLogger(tagged("IndexFile"))

	se := &StorageEngine{
		BufferPool:        bufferPool,
		DiskManager:       diskManager,
		CatalogManager:    catalogManager,
		IndexManager:      indexManager,
		WalManager:        walManager,
		TxnManager:        txnManager,
		CheckpointManager: checkpointManager,
		config:            cfg,
		logger:            tagged("DB"),
		deadRows:          make(map[types.RowPointer]struct{}),
	}
	se.logger.Printf("DiskManager initialized pageSize=%d", cfg.PageSize)
	se.logger.Printf("BufferPool initialized capacity=%d", cfg.BufferPoolPages)
	se.logger.Printf("WALManager initialized dir=%s", filepath.Join(cfg.Dir, "logs"))

	// Redo needs the files, not the indexes: open them before replay.
	for _, entry := range catalogManager.AllIndexes() {
		if _, err := indexManager.OpenFile(entry.Name, entry.FileID); err != nil {
			se.shutdown(false)
			return nil, err
		}
	}
	if err := se.Recover(); err != nil {
		se.shutdown(false)
		return nil, fmt.Errorf("recovery failed: %w", err)
	}

	// Indexes opened from here on log their page changes.
	indexManager.SetWAL(walManager)

	for _, entry := range catalogManager.AllIndexes() {
		if _, err := se.openIndex(entry); err != nil {
			se.shutdown(false)
			return nil, err
		}
	}

	se.logger.Printf("engine ready dir=%s indexes=%d", cfg.Dir, len(catalogManager.AllIndexes()))
	return se, nil
}

// Close checkpoints and releases every file.
func (se *StorageEngine) Close() error {
	return se.shutdown(true)
}

func (se *StorageEngine) shutdown(saveCheckpoint bool) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if se.WalManager != nil {
		keep(se.WalManager.Sync()) // ensure WAL is durable first
	}
	if se.IndexManager != nil {
		keep(se.IndexManager.CloseAll())
	}
	if saveCheckpoint && firstErr == nil {
		keep(se.CheckpointManager.SaveCheckpoint(se.WalManager.GetCurrentLSN(), se.TxnManager.NextID(), se.config.Dir))
	}
	if se.WalManager != nil {
		keep(se.WalManager.Close())
	}
	if se.DiskManager != nil {
		keep(se.DiskManager.CloseAll())
	}
	se.logger.Printf("engine closed dir=%s", se.config.Dir)
	return firstErr
}

// newTaggedLogger writes bracket-tagged lines, "[WAL] ...", to out; nil discards them.
func newTaggedLogger(out io.Writer, tag string) *log.Logger {
	if out == nil {
		out = io.Discard
	}
	return log.New(out, "["+tag+"] ", log.LstdFlags)
}

func (se *StorageEngine) taggedLogger(tag string) *log.Logger {
	return newTaggedLogger(se.config.LogOutput, tag)
}
