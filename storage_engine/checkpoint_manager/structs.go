package checkpoint

import (
	"log"
	"sync"
)

// CheckpointManager manages WAL checkpoints
type CheckpointManager struct {
	checkpointPath string
	logger         *log.Logger
	mu             sync.RWMutex
}

// Checkpoint represents a recovery point in the WAL
type Checkpoint struct {
	LSN       uint64 `json:"lsn"`
	NextXid   uint64 `json:"next_xid"`
	Timestamp int64  `json:"timestamp"` // only for writing the last checkpoint time, not used for replaying
	Database  string `json:"database"`
}
