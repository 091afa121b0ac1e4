package indexfile

import (
	"SpaceDB/storage_engine/access/spgist"
	"SpaceDB/storage_engine/bufferpool"
	diskmanager "SpaceDB/storage_engine/disk_manager"
	"SpaceDB/storage_engine/page"
	"SpaceDB/types"
	"fmt"

	"github.com/pkg/errors"
)

/*
FileStore adapts the shared buffer pool to the page store the index needs.

	block 0    meta page, DiskManager.ReadMetadata / WriteMetadata, never cached
	block 1+   buffer pool pages, pinned by every call that returns one

Extend and ReadOrExtend hand out exclusively locked pages. Free pages recorded by vacuum
live in the buffer pool's free space map.
*/

func NewFileStore(fileID uint32, bufferPool *bufferpool.BufferPool, diskManager *diskmanager.DiskManager) *FileStore {
	return &FileStore{
		fileID:      fileID,
		bufferPool:  bufferPool,
		diskManager: diskManager,
	}
}

func (fs *FileStore) FileID() uint32 { return fs.fileID }

func (fs *FileStore) PageSize() int { return fs.diskManager.PageSize() }

func (fs *FileStore) globalID(blk types.BlockNumber) int64 {
	return diskmanager.GlobalPageID(fs.fileID, int64(blk))
}

func (fs *FileStore) Extend() (*page.Page, error) {
	pg, err := fs.bufferPool.NewPage(fs.fileID, types.PageTypeUnknown)
	if err != nil {
		return nil, fmt.Errorf("extend file %d: %w", fs.fileID, err)
	}
	pg.Lock()
	return pg, nil
}

func (fs *FileStore) TakeFree() (types.BlockNumber, bool) {
	blk, ok := fs.bufferPool.FreeSpace().TakeFree(fs.fileID)
	return types.BlockNumber(blk), ok
}

func (fs *FileStore) RecordFree(blk types.BlockNumber) {
	fs.bufferPool.FreeSpace().RecordFree(fs.fileID, int64(blk))
}

func (fs *FileStore) fetch(blk types.BlockNumber) (*page.Page, error) {
	if blk == spgist.MetaBlock {
		return nil, errors.Errorf("block 0 of file %d is the meta page", fs.fileID)
	}
	n, err := fs.diskManager.NumPages(fs.fileID)
	if err != nil {
		return nil, err
	}
	if int64(blk) >= n {
		return nil, errors.Errorf("block %d of file %d is past the end (%d blocks)", blk, fs.fileID, n)
	}
	return fs.bufferPool.FetchPage(fs.globalID(blk))
}

func (fs *FileStore) ReadAndLock(blk types.BlockNumber, mode page.LockMode) (*page.Page, error) {
	pg, err := fs.fetch(blk)
	if err != nil {
		return nil, err
	}
	pg.Acquire(mode)
	return pg, nil
}

func (fs *FileStore) TryReadAndLock(blk types.BlockNumber) (*page.Page, error) {
	pg, err := fs.fetch(blk)
	if err != nil {
		return nil, err
	}
	if !pg.TryLock() {
		fs.bufferPool.UnpinPage(pg.ID)
		return nil, errors.Wrapf(spgist.ErrWouldBlock, "block %d of file %d", blk, fs.fileID)
	}
	return pg, nil
}

// ReadOrExtend is used by redo and index creation, where the block may have been
// allocated by a run that never flushed it.
func (fs *FileStore) ReadOrExtend(blk types.BlockNumber) (*page.Page, error) {
	if err := fs.diskManager.ExtendTo(fs.fileID, int64(blk)); err != nil {
		return nil, err
	}
	return fs.ReadAndLock(blk, page.LockExclusive)
}

func (fs *FileStore) MarkDirty(pg *page.Page) {
	pg.IsDirty = true
}

func (fs *FileStore) UnlockAndUnpin(pg *page.Page, mode page.LockMode) {
	pg.Release(mode)
	fs.bufferPool.UnpinPage(pg.ID)
}

func (fs *FileStore) NumBlocks() (types.BlockNumber, error) {
	n, err := fs.diskManager.NumPages(fs.fileID)
	if err != nil {
		return 0, err
	}
	return types.BlockNumber(n), nil
}

func (fs *FileStore) ReadMeta() ([]byte, error) {
	return fs.diskManager.ReadMetadata(fs.fileID)
}

func (fs *FileStore) WriteMeta(data []byte) error {
	return fs.diskManager.WriteMetadata(fs.fileID, data)
}

var _ spgist.PageStore = (*FileStore)(nil)
