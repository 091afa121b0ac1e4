package diskmanager

import (
	"log"
	"os"
	"sync"
)

// ############################################# FILE DESCRIPTOR ###########################################

// FileDescriptor represents an open file managed by the disk manager
type FileDescriptor struct {
	FileID     uint32
	FilePath   string
	File       *os.File
	NextPageID int64 // Next available page ID within this file
	mu         sync.RWMutex
}

// ############################################# DISK MANAGER #############################################

// DiskManager manages all disk I/O operations and file handles
type DiskManager struct {
	files      map[uint32]*FileDescriptor // fileID -> file descriptor
	nextFileID uint32                     // only used by OpenFile; index files use catalog IDs
	pageSize   int
	logger     *log.Logger
	mu         sync.RWMutex
}

const (
	// checksum lives in the common header, after the LSN and the page type
	checksumOffset = 20
	checksumSize   = 4

	// MetadataOffset is where WriteMetadata places its payload on page 0.
	MetadataOffset = 24
)
