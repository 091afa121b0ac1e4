package diskmanager

import (
	"SpaceDB/storage_engine/page"
	"SpaceDB/types"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

/*
This is main file for disk manager
It owns:
File descriptors (os.File)
Reading/writing raw bytes at specific offsets (ReadAt, WriteAt)
Page allocation (tracking NextPageID per file)
Page checksums (xxhash64, low 32 bits, stored in the common page header)

Page ID encoding:
globalPageID = int64(fileID) << 32 | localPageNum
This makes global IDs deterministic, no counter or lookup table is needed.

Bufferpool on Page hits return the pages, but if page miss occurs then it is disk manager which reads the page at the offset
*/

// ErrChecksum is returned by ReadPage when the stored checksum does not match the page image.
var ErrChecksum = errors.New("page checksum mismatch")

func NewDiskManager(pageSize int) *DiskManager {
	if pageSize <= 0 {
		pageSize = types.PageSize
	}
	return &DiskManager{
		files:      make(map[uint32]*FileDescriptor),
		nextFileID: 1,
		pageSize:   pageSize,
		logger:     log.New(io.Discard, "[DiskManager] ", 0),
	}
}

func (dm *DiskManager) SetLogger(logger *log.Logger) {
	dm.logger = logger
}

func (dm *DiskManager) PageSize() int {
	return dm.pageSize
}

// NewPage builds a zeroed in-memory frame for the given global page ID.
func (dm *DiskManager) NewPage(pageID int64, fileID uint32, pageType types.PageType) *page.Page {
	return &page.Page{
		ID:       pageID,
		FileID:   fileID,
		Data:     make([]byte, dm.pageSize),
		PageType: pageType,
	}
}

/*
Why two OpenFile variants:
OpenFileWithID: Used for index files, IDs maintained by the catalog (stable across restarts)
OpenFile: session-scoped IDs handed out by the DiskManager counter
*/
func (dm *DiskManager) OpenFileWithID(filePath string, catalogFileID uint32) (uint32, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	// Already open, return existing.
	for id, fd := range dm.files {
		if fd.FilePath == filePath {
			return id, nil
		}
	}

	fd, err := dm.openDescriptor(filePath, catalogFileID)
	if err != nil {
		return 0, err
	}

	dm.files[catalogFileID] = fd
	if catalogFileID >= dm.nextFileID {
		dm.nextFileID = catalogFileID + 1
	}

	dm.logger.Printf("open path=%s fileID=%d pages=%d", filePath, catalogFileID, fd.NextPageID)
	return catalogFileID, nil
}

// OpenFile opens or creates a file and returns its file ID
func (dm *DiskManager) OpenFile(filePath string) (uint32, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	for id, fd := range dm.files {
		if fd.FilePath == filePath {
			return id, nil
		}
	}

	fileID := dm.nextFileID
	fd, err := dm.openDescriptor(filePath, fileID)
	if err != nil {
		return 0, err
	}
	dm.nextFileID++
	dm.files[fileID] = fd

	dm.logger.Printf("open path=%s assigned fileID=%d", filePath, fileID)
	return fileID, nil
}

func (dm *DiskManager) openDescriptor(filePath string, fileID uint32) (*FileDescriptor, error) {
	file, err := os.OpenFile(filePath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", filePath, err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	return &FileDescriptor{
		FileID:     fileID,
		FilePath:   filePath,
		File:       file,
		NextPageID: stat.Size() / int64(dm.pageSize),
	}, nil
}

// ReadPage reads a page from disk and verifies its checksum.
// Pages past the end of the file, or never written, come back zeroed.
func (dm *DiskManager) ReadPage(globalPageID int64) (*page.Page, error) {
	fileID := FileIDOf(globalPageID)

	fd, err := dm.GetFileDescriptor(fileID)
	if err != nil {
		return nil, err
	}

	fd.mu.RLock()
	defer fd.mu.RUnlock()

	if fd.File == nil {
		return nil, fmt.Errorf("file %d is closed", fileID)
	}

	localPageID := LocalOf(globalPageID)
	offset := localPageID * int64(dm.pageSize)

	pg := dm.NewPage(globalPageID, fileID, types.PageTypeUnknown)
	n, err := fd.File.ReadAt(pg.Data, offset)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read page %d from file %d: %w", localPageID, fileID, err)
	}

	// Pad with zeros if partial read
	for i := n; i < dm.pageSize; i++ {
		pg.Data[i] = 0
	}

	pg.PageType = types.PageType(pg.Data[8])
	if pg.PageType != types.PageTypeUnknown {
		stored := binary.LittleEndian.Uint32(pg.Data[checksumOffset:])
		if want := pageChecksum(pg.Data); stored != want {
			return nil, fmt.Errorf("page %d of file %d (stored %08x, computed %08x): %w",
				localPageID, fileID, stored, want, ErrChecksum)
		}
	}
	pg.SyncLSN()

	return pg, nil
}

// WritePage stamps the page type and checksum and writes the page to disk
func (dm *DiskManager) WritePage(pg *page.Page) error {
	fd, err := dm.GetFileDescriptor(pg.FileID)
	if err != nil {
		return err
	}

	fd.mu.Lock()
	defer fd.mu.Unlock()

	if fd.File == nil {
		return fmt.Errorf("file %d is closed", pg.FileID)
	}

	if len(pg.Data) != dm.pageSize {
		return fmt.Errorf("page data size %d does not match page size %d", len(pg.Data), dm.pageSize)
	}

	buf := make([]byte, dm.pageSize)
	copy(buf, pg.Data)
	buf[8] = byte(pg.PageType)
	binary.LittleEndian.PutUint32(buf[checksumOffset:], pageChecksum(buf))

	localPageID := LocalOf(pg.ID)
	offset := localPageID * int64(dm.pageSize)

	if _, err := fd.File.WriteAt(buf, offset); err != nil {
		return fmt.Errorf("failed to write page %d to file %d: %w", localPageID, pg.FileID, err)
	}

	// Update next page ID if we wrote beyond current end
	if localPageID >= fd.NextPageID {
		fd.NextPageID = localPageID + 1
	}

	pg.IsDirty = false
	return nil
}

// AllocatePage reserves the next available page ID for a file. It does NOT
// write anything to disk, that is the BufferPool's responsibility when it
// later flushes the dirty page.
func (dm *DiskManager) AllocatePage(fileID uint32) (int64, error) {
	fd, err := dm.GetFileDescriptor(fileID)
	if err != nil {
		return 0, err
	}

	fd.mu.Lock()
	defer fd.mu.Unlock()

	if fd.File == nil {
		return 0, fmt.Errorf("file %d is closed", fileID)
	}

	localPageNum := fd.NextPageID
	fd.NextPageID++

	return GlobalPageID(fileID, localPageNum), nil
}

// ExtendTo makes sure local page localPageNum exists in the page-number space of the file.
// Used by redo, which may see a page number the crashed run allocated but never flushed.
func (dm *DiskManager) ExtendTo(fileID uint32, localPageNum int64) error {
	fd, err := dm.GetFileDescriptor(fileID)
	if err != nil {
		return err
	}

	fd.mu.Lock()
	defer fd.mu.Unlock()

	if localPageNum >= fd.NextPageID {
		fd.NextPageID = localPageNum + 1
	}
	return nil
}

// NumPages returns the number of allocated pages of a file.
func (dm *DiskManager) NumPages(fileID uint32) (int64, error) {
	fd, err := dm.GetFileDescriptor(fileID)
	if err != nil {
		return 0, err
	}

	fd.mu.RLock()
	defer fd.mu.RUnlock()
	return fd.NextPageID, nil
}

func GlobalPageID(fileID uint32, localPageNum int64) int64 {
	return int64(fileID)<<32 | localPageNum
}

func FileIDOf(globalPageID int64) uint32 {
	return uint32(globalPageID >> 32)
}

func LocalOf(globalPageID int64) int64 {
	return globalPageID & 0xFFFFFFFF
}

// Sync flushes all file buffers to disk
func (dm *DiskManager) Sync() error {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	for _, fd := range dm.files {
		fd.mu.Lock()
		if fd.File != nil {
			if err := fd.File.Sync(); err != nil {
				fd.mu.Unlock()
				return fmt.Errorf("failed to sync file %d: %w", fd.FileID, err)
			}
		}
		fd.mu.Unlock()
	}

	return nil
}

// CloseFile closes a specific file
func (dm *DiskManager) CloseFile(fileID uint32) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	fd, exists := dm.files[fileID]
	if !exists {
		return fmt.Errorf("file %d not found", fileID)
	}

	fd.mu.Lock()
	defer fd.mu.Unlock()

	if fd.File == nil {
		return nil // Already closed
	}

	if err := fd.File.Sync(); err != nil {
		return fmt.Errorf("failed to sync before close: %w", err)
	}

	if err := fd.File.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}

	fd.File = nil
	delete(dm.files, fileID)

	return nil
}

// CloseAll closes all open files
func (dm *DiskManager) CloseAll() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	var lastErr error
	for fileID, fd := range dm.files {
		fd.mu.Lock()
		if fd.File != nil {
			if err := fd.File.Sync(); err != nil {
				lastErr = err
			}
			if err := fd.File.Close(); err != nil {
				lastErr = err
			}
			fd.File = nil
		}
		fd.mu.Unlock()
		delete(dm.files, fileID)
	}

	return lastErr
}

// GetFileDescriptor returns the file descriptor for a given file ID
func (dm *DiskManager) GetFileDescriptor(fileID uint32) (*FileDescriptor, error) {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	fd, exists := dm.files[fileID]
	if !exists {
		return nil, fmt.Errorf("file %d not found", fileID)
	}

	return fd, nil
}

// WriteMetadata writes metadata to page 0 of a file, bypassing the buffer pool.
// The metadata page is at a fixed location and is never cached.
func (dm *DiskManager) WriteMetadata(fileID uint32, metadata []byte) error {
	if len(metadata) > dm.pageSize-MetadataOffset {
		return fmt.Errorf("metadata of %d bytes does not fit a page", len(metadata))
	}

	fd, err := dm.GetFileDescriptor(fileID)
	if err != nil {
		return err
	}

	fd.mu.Lock()
	defer fd.mu.Unlock()

	if fd.File == nil {
		return fmt.Errorf("file %d is closed", fileID)
	}

	metaPage := make([]byte, dm.pageSize)
	metaPage[8] = byte(types.PageTypeMetadata)
	copy(metaPage[MetadataOffset:], metadata)
	binary.LittleEndian.PutUint32(metaPage[checksumOffset:], pageChecksum(metaPage))

	if _, err := fd.File.WriteAt(metaPage, 0); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	if fd.NextPageID == 0 {
		fd.NextPageID = 1
	}

	return nil
}

// ReadMetadata reads metadata from page 0 of a file
func (dm *DiskManager) ReadMetadata(fileID uint32) ([]byte, error) {
	pg, err := dm.ReadPage(GlobalPageID(fileID, 0))
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	if pg.PageType != types.PageTypeMetadata {
		return nil, fmt.Errorf("page 0 of file %d is not a metadata page", fileID)
	}
	return pg.Data[MetadataOffset:], nil
}

// pageChecksum hashes the page with the checksum field treated as zero.
func pageChecksum(data []byte) uint32 {
	d := xxhash.New()
	d.Write(data[:checksumOffset])
	var zero [checksumSize]byte
	d.Write(zero[:])
	d.Write(data[checksumOffset+checksumSize:])
	return uint32(d.Sum64())
}
