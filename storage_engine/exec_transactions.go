package storageengine

import (
	"SpaceDB/storage_engine/access/spgist"
	txn "SpaceDB/storage_engine/transaction_manager"
	"context"
	"fmt"
)

/*
Transactions only matter to the index in two ways: the inserting transaction's id is
left in every Redirect tuple, and vacuum may only turn a Redirect into a Placeholder
once no running transaction is older than that id (TxnManager.OldestXmin).

Commit makes the WAL durable. Abort reports every row the transaction inserted as dead;
vacuum removes their entries.
*/

// BeginTransaction starts a new transaction and returns it.
func (se *StorageEngine) BeginTransaction() *txn.Transaction {
	t := se.TxnManager.Begin()
	se.taggedLogger("TXN").Printf("BEGIN txnID=%d xmin=%d", t.ID, t.Xmin)
	return t
}

// CommitTransaction syncs the WAL and marks the transaction committed.
func (se *StorageEngine) CommitTransaction(t *txn.Transaction) error {
	if t == nil {
		return fmt.Errorf("CommitTransaction: nil transaction")
	}

	// fsync WAL, this is the durability boundary
	if err := se.WalManager.Sync(); err != nil {
		return err
	}

	// safe to flush dirty pages to disk
	// Buffer pool flush guard allows this because FlushedLSN is now up to date
	if err := se.BufferPool.FlushAllPages(); err != nil {
		// non-fatal, WAL can recover these pages on restart
		se.logger.Printf("warning: buffer pool flush failed after commit: %v", err)
	}

	se.taggedLogger("TXN").Printf("COMMIT txnID=%d entries=%d", t.ID, len(t.InsertedEntries))
	return se.TxnManager.Commit(t.ID)
}

// AbortTransaction marks a transaction aborted and its rows dead.
func (se *StorageEngine) AbortTransaction(t *txn.Transaction) error {
	if t == nil {
		return fmt.Errorf("AbortTransaction: nil transaction")
	}

	entries, err := se.TxnManager.Abort(t.ID)
	if err != nil {
		return err
	}
	for _, e := range entries {
		se.DeleteRow(e.RowPtr)
	}

	se.taggedLogger("TXN").Printf("ABORT txnID=%d deadRows=%d", t.ID, len(entries))
	return nil
}

// Vacuum removes the entries of dead rows from one index and recycles empty pages.
func (se *StorageEngine) Vacuum(ctx context.Context, index string) (*spgist.Stats, error) {
	ix, err := se.GetIndex(index)
	if err != nil {
		return nil, err
	}
	return ix.BulkDelete(ctx, se)
}

// VacuumAll vacuums every index in the catalog. Once every index is clean the dead row
// set is forgotten.
func (se *StorageEngine) VacuumAll(ctx context.Context) (map[string]*spgist.Stats, error) {
	se.deadMu.RLock()
	seen := len(se.deadRows)
	se.deadMu.RUnlock()

	result := make(map[string]*spgist.Stats)
	for _, entry := range se.CatalogManager.AllIndexes() {
		stats, err := se.Vacuum(ctx, entry.Name)
		if err != nil {
			return result, fmt.Errorf("vacuum '%s': %w", entry.Name, err)
		}
		result[entry.Name] = stats
	}

	se.deadMu.Lock()
	if len(se.deadRows) == seen {
		clear(se.deadRows)
	}
	se.deadMu.Unlock()
	return result, nil
}
