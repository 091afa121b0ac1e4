package wal_manager

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

/*

WAL Segment File
────────────────────────────────────
| Record | Record | Record | ...   |
────────────────────────────────────

Each Record:
────────────────────────────────────────────
| LSN (8) | LEN (4) | CRC (4) | DATA (LEN) |
────────────────────────────────────────────

	RecordHeaderSize   = 16
	DefaultSegmentSize = 16 * 1024 * 1024

DATA is opaque to this package. The index access method puts its own record
envelope inside (file id, record kind, payload).

A record whose header or data is cut short, or whose CRC does not match, at the
tail of the newest segment is a torn write from a crash: it is truncated away on
open and never replayed. The same damage anywhere else is an error.
*/

func OpenWAL(directory string, segmentSize int64) (*WALManager, error) {
	if err := os.MkdirAll(directory, 0755); err != nil {
		return nil, err
	}
	if segmentSize <= 0 {
		segmentSize = DefaultSegmentSize
	}

	wal := &WALManager{
		Directory:   directory,
		Segments:    make(map[uint64]*WALSegment),
		segmentSize: segmentSize,
		logger:      log.New(io.Discard, "[WAL] ", 0),
	}

	if err := wal.recoverWALEntries(); err != nil {
		return nil, err
	}

	if wal.CurrSegment == nil {
		if err := wal.createNewSegment(); err != nil {
			return nil, err
		}
	}

	return wal, nil
}

func (wm *WALManager) SetLogger(logger *log.Logger) {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	wm.logger = logger
}

// recover existing wal entries
// updates the current lsn and current segment number
// set the segmentId to segment mapping
func (wm *WALManager) recoverWALEntries() error {
	segmentIDs, err := wm.listSegmentIDs()
	if err != nil {
		return err
	}
	if len(segmentIDs) == 0 {
		return nil
	}

	maxLSN := uint64(0)
	for i, segmentID := range segmentIDs {
		segment := InitializeWALSegment(segmentID, wm.Directory)
		if err := segment.Open(); err != nil {
			return err
		}
		wm.Segments[segmentID] = segment

		validEnd, lsn, err := scanSegment(segment.FilePath, func(uint64, []byte) error { return nil })
		isLast := i == len(segmentIDs)-1
		if err != nil {
			if !isLast {
				return fmt.Errorf("segment %d damaged: %w", segmentID, err)
			}
			wm.logger.Printf("torn tail in segment %d at offset %d: %v", segmentID, validEnd, err)
			if err := segment.Truncate(validEnd); err != nil {
				return fmt.Errorf("failed to truncate torn tail: %w", err)
			}
		}
		if lsn > maxLSN {
			maxLSN = lsn
		}
	}

	lastSegmentID := segmentIDs[len(segmentIDs)-1]
	wm.CurrSegment = wm.Segments[lastSegmentID]
	wm.CurrentLSN = maxLSN
	wm.FlushedLSN = maxLSN

	wm.logger.Printf("recovered segments=%d currentLSN=%d", len(segmentIDs), maxLSN)
	return nil
}

func (wm *WALManager) listSegmentIDs() ([]uint64, error) {
	files, err := filepath.Glob(filepath.Join(wm.Directory, "wal_*.log"))
	if err != nil {
		return nil, err
	}

	var segmentIDs []uint64
	for _, file := range files {
		name := filepath.Base(file)
		hexPart := strings.TrimSuffix(strings.TrimPrefix(name, "wal_"), ".log")
		segmentID, err := strconv.ParseUint(hexPart, 16, 64)
		if err != nil {
			continue
		}
		segmentIDs = append(segmentIDs, segmentID)
	}

	slices.Sort(segmentIDs)
	return segmentIDs, nil
}

func (wm *WALManager) createNewSegment() error {
	var segmentID uint64
	if wm.CurrSegment != nil {
		segmentID = wm.CurrSegment.SegmentId + 1
	}
	segment := InitializeWALSegment(segmentID, wm.Directory)

	if err := segment.Open(); err != nil {
		return err
	}

	wm.Segments[segmentID] = segment
	wm.CurrSegment = segment
	return nil
}

// AppendRecord assigns the next LSN to data and appends it. The record is not
// durable until Sync.
func (wm *WALManager) AppendRecord(data []byte) (uint64, error) {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	if wm.CurrSegment.IsFull(wm.segmentSize) {
		if err := wm.CurrSegment.Sync(); err != nil {
			return 0, err
		}
		if err := wm.createNewSegment(); err != nil {
			return 0, err
		}
	}

	lsn := wm.CurrentLSN + 1
	record := &WALRecord{
		LSN:  lsn,
		Data: data,
		CRC:  calculateCRC(lsn, data),
	}

	// Append to current segment (atomic operation due to O_APPEND)
	if _, err := wm.CurrSegment.Append(record.Encode()); err != nil {
		return 0, err
	}

	wm.CurrentLSN = lsn
	return lsn, nil
}

// Sync makes every appended record durable.
func (wm *WALManager) Sync() error {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	if err := wm.CurrSegment.Sync(); err != nil {
		return err
	}
	wm.FlushedLSN = wm.CurrentLSN
	return nil
}

func (wm *WALManager) GetFlushedLSN() uint64 {
	wm.mu.RLock()
	defer wm.mu.RUnlock()
	return wm.FlushedLSN
}

func (wm *WALManager) GetCurrentLSN() uint64 {
	wm.mu.RLock()
	defer wm.mu.RUnlock()
	return wm.CurrentLSN
}

// ReplayFromLSN calls applyFunc for every record with LSN >= startLSN, in LSN order.
func (wm *WALManager) ReplayFromLSN(startLSN uint64, applyFunc func(lsn uint64, data []byte) error) error {
	wm.mu.RLock()
	defer wm.mu.RUnlock()

	var segmentIDs []uint64
	for id := range wm.Segments {
		segmentIDs = append(segmentIDs, id)
	}
	slices.Sort(segmentIDs)

	for _, segmentID := range segmentIDs {
		segment := wm.Segments[segmentID]
		_, _, err := scanSegment(segment.FilePath, func(lsn uint64, data []byte) error {
			if lsn < startLSN {
				return nil
			}
			if err := applyFunc(lsn, data); err != nil {
				return &applyError{lsn: lsn, err: err}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to replay segment %d: %w", segmentID, err)
		}
	}

	return nil
}

func (wm *WALManager) Close() error {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	for _, seg := range wm.Segments {
		if err := seg.Close(); err != nil {
			return err
		}
	}
	wm.FlushedLSN = wm.CurrentLSN

	return nil
}

// scanSegment walks the records of one segment file. It returns the offset just
// past the last good record and the largest LSN seen.
func scanSegment(path string, fn func(lsn uint64, data []byte) error) (int64, uint64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	header := make([]byte, RecordHeaderSize)
	var offset int64
	var maxLSN uint64

	for {
		if _, err := io.ReadFull(reader, header); err != nil {
			if err == io.EOF {
				return offset, maxLSN, nil
			}
			return offset, maxLSN, fmt.Errorf("short record header: %w", err)
		}

		lsn := binary.BigEndian.Uint64(header[0:8])
		dataLen := binary.BigEndian.Uint32(header[8:12])
		crc := binary.BigEndian.Uint32(header[12:16])

		data := make([]byte, dataLen)
		if _, err := io.ReadFull(reader, data); err != nil {
			return offset, maxLSN, fmt.Errorf("short record data at LSN %d: %w", lsn, err)
		}

		if calculateCRC(lsn, data) != crc {
			return offset, maxLSN, fmt.Errorf("CRC mismatch at LSN %d", lsn)
		}

		if err := fn(lsn, data); err != nil {
			return offset, maxLSN, err
		}

		offset += int64(RecordHeaderSize) + int64(dataLen)
		if lsn > maxLSN {
			maxLSN = lsn
		}
	}
}

type applyError struct {
	lsn uint64
	err error
}

func (e *applyError) Error() string {
	return fmt.Sprintf("failed to apply record at LSN %d: %v", e.lsn, e.err)
}

func (e *applyError) Unwrap() error {
	return e.err
}
