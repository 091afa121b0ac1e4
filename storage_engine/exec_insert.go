package storageengine

import (
	"SpaceDB/storage_engine/access/spgist"
	"SpaceDB/storage_engine/access/spgist/opclass"
	txn "SpaceDB/storage_engine/transaction_manager"
	"SpaceDB/types"
	"context"
	"fmt"
)

/*
This file contains the insert and delete operations on indexes.

	StorageEngine.Insert(ctx, txn, "places", entry)
	     ├── GetIndex("places")
	     ├── entry.Xid = txn.ID                  → left in every Redirect the insert creates
	     ├── Index.InsertWithRetry(ctx, entry)   → one WAL record per page change
	     └── txn.RecordInsert("places", row)     → reported dead if the txn aborts

Deletes never touch the index: the row is reported dead and the next vacuum pass of every
index removes the entries pointing at it.
*/

func (se *StorageEngine) Insert(ctx context.Context, t *txn.Transaction, index string, e spgist.Entry) error {
	if t == nil {
		return fmt.Errorf("transaction is required")
	}
	ix, err := se.GetIndex(index)
	if err != nil {
		return err
	}

	e.Xid = t.ID
	res, err := ix.InsertWithRetry(ctx, e)
	if err != nil {
		return fmt.Errorf("insert into '%s': %w", index, err)
	}
	if res != spgist.InsertDone {
		return fmt.Errorf("insert into '%s': %w", index, spgist.ErrInterrupted)
	}

	t.RecordInsert(index, e.Row)
	return nil
}

// InsertPoint indexes a 2-D point for row.
func (se *StorageEngine) InsertPoint(ctx context.Context, t *txn.Transaction, index string, p opclass.Point, row types.RowPointer) error {
	return se.Insert(ctx, t, index, spgist.Entry{Key: opclass.EncodePoint(p), Row: row})
}

// DeleteRow reports a row dead.
func (se *StorageEngine) DeleteRow(row types.RowPointer) {
	se.deadMu.Lock()
	defer se.deadMu.Unlock()
	se.deadRows[row] = struct{}{}
}

// IsRowDeleted answers vacuum's question about a row.
func (se *StorageEngine) IsRowDeleted(row types.RowPointer) bool {
	se.deadMu.RLock()
	defer se.deadMu.RUnlock()
	_, dead := se.deadRows[row]
	return dead
}
