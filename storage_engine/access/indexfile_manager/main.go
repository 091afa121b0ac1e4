package indexfile

import (
	"SpaceDB/storage_engine/access/spgist"
	"SpaceDB/storage_engine/access/spgist/opclass"
	"SpaceDB/storage_engine/bufferpool"
	diskmanager "SpaceDB/storage_engine/disk_manager"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

/*
This file is the main file for Index File Manager that deals with the index files.
It has access to the disk manager and the buffer pool shared by the whole engine.

Every index lives in its own file, indexes/<name>.spg, registered with the disk manager
under the file id the catalog assigned. The manager keeps one FileStore per open file and
resolves file ids to stores for WAL replay.
*/

func NewIndexFileManager(baseDir string, diskManager *diskmanager.DiskManager, bufferPool *bufferpool.BufferPool, opts spgist.Options) (*IndexFileManager, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create indexes directory: %w", err)
	}

	hints := opts.Hints
	if hints == nil {
		var err error
		hints, err = spgist.NewHintCache(spgist.DefaultHintCacheEntries)
		if err != nil {
			return nil, err
		}
		opts.Hints = hints
	}

	return &IndexFileManager{
		baseDir:     baseDir,
		indexes:     make(map[string]*spgist.Index),
		stores:      make(map[uint32]*FileStore),
		bufferPool:  bufferPool,
		diskManager: diskManager,
		hints:       hints,
		opts:        opts,
		logger:      log.New(io.Discard, "[IndexFile] ", 0),
	}, nil
}

func (ifm *IndexFileManager) SetLogger(logger *log.Logger) {
	ifm.mu.Lock()
	defer ifm.mu.Unlock()
	ifm.logger = logger
}

// SetWAL makes every index opened from now on log its page changes.
func (ifm *IndexFileManager) SetWAL(wal spgist.WALWriter) {
	ifm.mu.Lock()
	defer ifm.mu.Unlock()
	ifm.opts.WAL = wal
}

// IndexPath is where the file of the named index lives.
func (ifm *IndexFileManager) IndexPath(name string) string {
	return filepath.Join(ifm.baseDir, name+".spg")
}

// OpenFile registers the file of an index with the disk manager without opening the
// index itself. Recovery opens every file this way before replaying the WAL.
func (ifm *IndexFileManager) OpenFile(name string, fileID uint32) (*FileStore, error) {
	ifm.mu.Lock()
	defer ifm.mu.Unlock()
	return ifm.openFileLocked(name, fileID)
}

func (ifm *IndexFileManager) openFileLocked(name string, fileID uint32) (*FileStore, error) {
	if fs, ok := ifm.stores[fileID]; ok {
		return fs, nil
	}
	if _, err := ifm.diskManager.OpenFileWithID(ifm.IndexPath(name), fileID); err != nil {
		return nil, fmt.Errorf("failed to open index file for '%s': %w", name, err)
	}
	fs := NewFileStore(fileID, ifm.bufferPool, ifm.diskManager)
	ifm.stores[fileID] = fs
	return fs, nil
}

// StoreFor resolves the page store of an open index file.
func (ifm *IndexFileManager) StoreFor(fileID uint32) (spgist.PageStore, error) {
	ifm.mu.RLock()
	defer ifm.mu.RUnlock()
	fs, ok := ifm.stores[fileID]
	if !ok {
		return nil, errors.Errorf("index file %d is not open", fileID)
	}
	return fs, nil
}

// GetOrCreateIndex returns the open index with this name, opening its file or creating
// a fresh index in it. Indexes are cached; CloseIndex and CloseAll drop them.
func (ifm *IndexFileManager) GetOrCreateIndex(name string, fileID uint32, policy opclass.Policy) (*spgist.Index, error) {
	ifm.mu.RLock()
	ix, exists := ifm.indexes[name]
	ifm.mu.RUnlock()
	if exists {
		return ix, nil
	}

	ifm.mu.Lock()
	defer ifm.mu.Unlock()

	// Double-check after acquiring write lock (another goroutine may have
	// opened it while we were waiting for the lock).
	if ix, exists := ifm.indexes[name]; exists {
		return ix, nil
	}

	_, statErr := os.Stat(ifm.IndexPath(name))
	isNew := os.IsNotExist(statErr)

	fs, err := ifm.openFileLocked(name, fileID)
	if err != nil {
		return nil, err
	}
	if !isNew {
		if n, err := fs.NumBlocks(); err == nil && n <= spgist.LastFixedBlock {
			isNew = true
		}
	}

	if isNew {
		ix, err = spgist.Create(name, fs, policy, ifm.opts)
	} else {
		ix, err = spgist.Open(name, fs, policy, ifm.opts)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open index '%s': %w", name, err)
	}

	ifm.logger.Printf("open index=%s fileID=%d policy=%s new=%v", name, fileID, policy.Name(), isNew)
	ifm.indexes[name] = ix
	return ix, nil
}

// LoadIndex opens an existing index file and caches it.
func (ifm *IndexFileManager) LoadIndex(name string, fileID uint32, policy opclass.Policy) (*spgist.Index, error) {
	if _, err := os.Stat(ifm.IndexPath(name)); os.IsNotExist(err) {
		return nil, fmt.Errorf("index file for '%s' not found at %s", name, ifm.IndexPath(name))
	}
	return ifm.GetOrCreateIndex(name, fileID, policy)
}

// Index returns an index opened earlier.
func (ifm *IndexFileManager) Index(name string) (*spgist.Index, bool) {
	ifm.mu.RLock()
	defer ifm.mu.RUnlock()
	ix, ok := ifm.indexes[name]
	return ix, ok
}

// CloseIndex saves the page hints of an index, flushes its pages and removes it from the
// cache. The file stays registered for WAL replay.
func (ifm *IndexFileManager) CloseIndex(name string) error {
	ifm.mu.Lock()
	defer ifm.mu.Unlock()

	ix, exists := ifm.indexes[name]
	if !exists {
		return nil
	}
	delete(ifm.indexes, name)
	return ifm.closeIndexLocked(ix)
}

func (ifm *IndexFileManager) closeIndexLocked(ix *spgist.Index) error {
	if err := ix.Close(); err != nil {
		return fmt.Errorf("failed to close index '%s': %w", ix.Name(), err)
	}
	if err := ifm.bufferPool.FlushFile(ix.FileID()); err != nil {
		return fmt.Errorf("failed to flush index '%s': %w", ix.Name(), err)
	}
	return nil
}

// DropIndex closes an index and deletes its file.
func (ifm *IndexFileManager) DropIndex(name string) error {
	ifm.mu.Lock()
	defer ifm.mu.Unlock()

	ix, exists := ifm.indexes[name]
	if !exists {
		return fmt.Errorf("index '%s' is not open", name)
	}
	fileID := ix.FileID()
	delete(ifm.indexes, name)
	delete(ifm.stores, fileID)

	if err := ifm.bufferPool.DropFile(fileID); err != nil {
		return fmt.Errorf("failed to drop pages of index '%s': %w", name, err)
	}
	ifm.hints.Forget(fileID)
	if err := ifm.diskManager.CloseFile(fileID); err != nil {
		return err
	}
	if err := os.Remove(ifm.IndexPath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove index file: %w", err)
	}
	ifm.logger.Printf("drop index=%s fileID=%d", name, fileID)
	return nil
}

// CloseAll closes all cached indexes and clears the cache.
// Called when shutting down the storage engine.
func (ifm *IndexFileManager) CloseAll() error {
	ifm.mu.Lock()
	defer ifm.mu.Unlock()

	var lastErr error
	for name, ix := range ifm.indexes {
		if err := ifm.closeIndexLocked(ix); err != nil {
			lastErr = err
		}
		delete(ifm.indexes, name)
	}
	if err := ifm.bufferPool.FlushAllPages(); err != nil {
		lastErr = err
	}
	if err := ifm.diskManager.Sync(); err != nil {
		lastErr = err
	}
	return lastErr
}
