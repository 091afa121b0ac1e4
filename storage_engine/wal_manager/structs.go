package wal_manager

import (
	"log"
	"os"
	"sync"
)

const (
	RecordHeaderSize   = 16
	DefaultSegmentSize = 16 * 1024 * 1024
)

type WALManager struct {
	Directory   string
	CurrSegment *WALSegment
	CurrentLSN  uint64
	FlushedLSN  uint64
	Segments    map[uint64]*WALSegment
	segmentSize int64
	logger      *log.Logger
	mu          sync.RWMutex
}

type WALSegment struct {
	SegmentId uint64
	FilePath  string
	File      *os.File
	Size      int64
	mu        sync.Mutex
}

type WALRecord struct {
	LSN  uint64
	Data []byte
	CRC  uint32
}
