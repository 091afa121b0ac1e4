package checkpoint

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"
)

/*
Checkpoint manager persists the LSN up to which every index page is known to be on disk.
Recovery replays the WAL from the record after it, so records already reflected in the
data files are not re-read. Redo is idempotent anyway (page LSN check), the checkpoint
only bounds how much WAL has to be scanned.
*/

func NewCheckpointManager(dbPath string) (*CheckpointManager, error) {
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint dir: %w", err)
	}
	return &CheckpointManager{
		checkpointPath: filepath.Join(dbPath, "checkpoint.json"),
		logger:         log.New(io.Discard, "[Checkpoint] ", 0),
	}, nil
}

func (cm *CheckpointManager) SetLogger(logger *log.Logger) {
	cm.logger = logger
}

// SaveCheckpoint atomically saves a checkpoint
func (cm *CheckpointManager) SaveCheckpoint(lsn, nextXid uint64, database string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	checkpoint := Checkpoint{
		LSN:       lsn,
		NextXid:   nextXid,
		Timestamp: time.Now().Unix(),
		Database:  database,
	}

	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	// write temp, fsync, rename over the old file, fsync the directory
	tempPath := cm.checkpointPath + ".tmp"

	tempFile, err := os.OpenFile(tempPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open temp checkpoint: %w", err)
	}
	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return fmt.Errorf("failed to write temp checkpoint: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return fmt.Errorf("failed to sync temp checkpoint: %w", err)
	}
	tempFile.Close()

	// On Unix, rename is atomic - file is either old or new, never corrupted
	if err := os.Rename(tempPath, cm.checkpointPath); err != nil {
		return fmt.Errorf("failed to rename checkpoint: %w", err)
	}

	if dir, err := os.Open(filepath.Dir(cm.checkpointPath)); err == nil {
		dir.Sync()
		dir.Close()
	}

	cm.logger.Printf("saved LSN=%d nextXid=%d", lsn, nextXid)
	return nil
}

// LoadCheckpoint loads the last checkpoint. A missing or unreadable file yields LSN 0.
func (cm *CheckpointManager) LoadCheckpoint() (*Checkpoint, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	data, err := os.ReadFile(cm.checkpointPath)
	if os.IsNotExist(err) {
		return &Checkpoint{LSN: 0}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		cm.logger.Printf("checkpoint file corrupted, starting from LSN 0: %v", err)
		return &Checkpoint{LSN: 0}, nil
	}

	cm.logger.Printf("loaded LSN=%d timestamp=%d", checkpoint.LSN, checkpoint.Timestamp)
	return &checkpoint, nil
}

// DeleteCheckpoint removes the checkpoint file
func (cm *CheckpointManager) DeleteCheckpoint() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if err := os.Remove(cm.checkpointPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}

	return nil
}
