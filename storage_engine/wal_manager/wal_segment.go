package wal_manager

import (
	"fmt"
	"os"
	"path/filepath"
)

/*
This file contains the internal operations of one wal segment file

Append only writes bytes into the OS buffer and tracks the size.
Sync forces the OS buffer to disk; only after it the records are durable.
*/

func InitializeWALSegment(segmentId uint64, basePath string) *WALSegment {
	fileName := fmt.Sprintf("wal_%016x.log", segmentId)
	filePath := filepath.Join(basePath, fileName)

	return &WALSegment{
		SegmentId: segmentId,
		FilePath:  filePath,
	}
}

// opens the segment file in append-only mode
func (ws *WALSegment) Open() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.File != nil {
		return nil
	}

	// O_APPEND ensures atomic appends at the OS level
	file, err := os.OpenFile(ws.FilePath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}

	ws.File = file
	ws.Size = stat.Size()
	return nil
}

// Append writes raw bytes and returns how many were written. No fsync.
func (ws *WALSegment) Append(data []byte) (int, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.File == nil {
		return 0, fmt.Errorf("segment not opened")
	}

	n, err := ws.File.Write(data)
	if err != nil {
		return 0, err
	}

	ws.Size += int64(n)
	return n, nil
}

// Truncate cuts a torn tail found during recovery.
func (ws *WALSegment) Truncate(size int64) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.File == nil {
		return fmt.Errorf("segment not opened")
	}
	if err := ws.File.Truncate(size); err != nil {
		return err
	}
	ws.Size = size
	return nil
}

func (ws *WALSegment) Sync() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.File == nil {
		return fmt.Errorf("segment not opened")
	}

	return ws.File.Sync()
}

// Close syncs and closes the segment file
func (ws *WALSegment) Close() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.File == nil {
		return nil
	}
	if err := ws.File.Sync(); err != nil {
		return err
	}
	err := ws.File.Close()
	ws.File = nil
	return err
}

// IsFull checks if segment has reached size limit
func (ws *WALSegment) IsFull(limit int64) bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.Size >= limit
}
