package storageengine

import (
	"SpaceDB/storage_engine/access/spgist"
	"fmt"

	"github.com/dustin/go-humanize"
)

// Recover is called once at startup, after every index file in the catalog has been
// registered and before any index is opened. It loads the last checkpoint and redoes
// every index record that follows it.
//
// Redo is physical and idempotent: a record is skipped on every page whose LSN already
// covers it, so replaying records that had reached disk before the crash is harmless.
// Records of files the catalog no longer knows (dropped indexes) are skipped.
func (se *StorageEngine) Recover() error {

	// find the starting LSN from the last checkpoint

	var startLSN uint64 = 0

	if se.CheckpointManager != nil {
		checkpoint, err := se.CheckpointManager.LoadCheckpoint()
		if err != nil {
			se.logger.Printf("Warning: failed to load checkpoint: %v, replaying from LSN 0", err)
		} else {
			startLSN = checkpoint.LSN
			if checkpoint.NextXid > 0 {
				se.TxnManager.AdvancePast(checkpoint.NextXid - 1)
			}
		}
	}

	recovery := se.taggedLogger("Recovery")
	recovery.Printf("Starting WAL recovery")
	recovery.Printf("Checkpoint LSN=%d", startLSN)

	counts := make(map[spgist.RecordKind]int)
	replayed, skipped := 0, 0

	err := se.WalManager.ReplayFromLSN(startLSN+1, func(lsn uint64, data []byte) error {
		rec, err := spgist.DecodeEnvelope(data)
		if err != nil {
			return err
		}
		if _, err := se.IndexManager.StoreFor(rec.FileID); err != nil {
			recovery.Printf("SKIP kind=%s lsn=%d fileID=%d (file not in catalog)", rec.Kind, lsn, rec.FileID)
			skipped++
			return nil
		}

		recovery.Printf("REDO kind=%s lsn=%d fileID=%d", rec.Kind, lsn, rec.FileID)
		if err := spgist.Replay(lsn, data, se.IndexManager); err != nil {
			return err
		}
		counts[rec.Kind]++
		replayed++
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to replay WAL: %w", err)
	}

	if replayed == 0 {
		recovery.Printf("WAL recovery complete, no records to replay")
		return nil
	}

	for kind, n := range counts {
		recovery.Printf("  %-14s %s", kind, humanize.Comma(int64(n)))
	}
	recovery.Printf("Complete, redone=%s skipped=%d", humanize.Comma(int64(replayed)), skipped)
	return nil
}

// Checkpoint makes every index page change so far durable and records the WAL position
// recovery will start from next time.
func (se *StorageEngine) Checkpoint() error {
	if se.CheckpointManager == nil || se.WalManager == nil {
		return nil // checkpointing not enabled
	}

	// fsync WAL first: the buffer pool refuses to write a page its LSN is not covered
	if err := se.WalManager.Sync(); err != nil {
		return fmt.Errorf("checkpoint: WAL sync failed: %w", err)
	}
	lsn := se.WalManager.GetCurrentLSN()

	for _, entry := range se.CatalogManager.AllIndexes() {
		if ix, ok := se.IndexManager.Index(entry.Name); ok {
			if err := ix.SaveHints(); err != nil {
				return fmt.Errorf("checkpoint: %w", err)
			}
		}
	}
	if err := se.BufferPool.FlushAllPages(); err != nil {
		return fmt.Errorf("checkpoint: flush failed: %w", err)
	}
	if err := se.DiskManager.Sync(); err != nil {
		return fmt.Errorf("checkpoint: disk sync failed: %w", err)
	}

	se.taggedLogger("Checkpoint").Printf("Saving at LSN=%d", lsn)
	return se.CheckpointManager.SaveCheckpoint(lsn, se.TxnManager.NextID(), se.config.Dir)
}
