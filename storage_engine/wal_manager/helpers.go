package wal_manager

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

func (r *WALRecord) Encode() []byte {
	buf := make([]byte, RecordHeaderSize+len(r.Data))

	binary.BigEndian.PutUint64(buf[0:8], r.LSN)
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(r.Data)))
	binary.BigEndian.PutUint32(buf[12:16], r.CRC)
	copy(buf[16:], r.Data)

	return buf
}

// DecodeRecord parses one framed record, checking its CRC.
func DecodeRecord(buf []byte) (*WALRecord, error) {
	if len(buf) < RecordHeaderSize {
		return nil, fmt.Errorf("record shorter than header: %d bytes", len(buf))
	}
	dataLen := binary.BigEndian.Uint32(buf[8:12])
	if len(buf) < RecordHeaderSize+int(dataLen) {
		return nil, fmt.Errorf("record data truncated: want %d bytes, have %d", dataLen, len(buf)-RecordHeaderSize)
	}
	r := &WALRecord{
		LSN:  binary.BigEndian.Uint64(buf[0:8]),
		Data: buf[RecordHeaderSize : RecordHeaderSize+int(dataLen)],
		CRC:  binary.BigEndian.Uint32(buf[12:16]),
	}
	if !r.ValidateCRC() {
		return nil, fmt.Errorf("CRC mismatch at LSN %d", r.LSN)
	}
	return r, nil
}

func (r *WALRecord) ValidateCRC() bool {
	return calculateCRC(r.LSN, r.Data) == r.CRC
}

// calculateCRC computes CRC32 (IEEE) over the big-endian LSN followed by the data
func calculateCRC(lsn uint64, data []byte) uint32 {
	var lsnBytes [8]byte
	binary.BigEndian.PutUint64(lsnBytes[:], lsn)

	crc := crc32.Update(0, crc32.IEEETable, lsnBytes[:])
	return crc32.Update(crc, crc32.IEEETable, data)
}
