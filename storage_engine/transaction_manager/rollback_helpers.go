package txn

import "SpaceDB/types"

/*
Before the transaction gets completed, it is not sure whether it will actually be commited or not (rollbacked or aborted)

Index entries are never removed at abort time; the rows they point at are reported dead
and the next vacuum pass of the index reclaims them.
*/

// RecordInsert remembers an index entry written by this transaction.
func (txn *Transaction) RecordInsert(index string, rowPtr types.RowPointer) {
	txn.InsertedEntries = append(txn.InsertedEntries, InsertedEntry{
		Index:  index,
		RowPtr: rowPtr,
	})
}
