package txn

import (
	"SpaceDB/types"
	"testing"
)

func TestOldestXmin(t *testing.T) {
	tm := NewTxnManager()

	t1 := tm.Begin()
	t2 := tm.Begin()
	if t1.ID != 1 || t2.ID != 2 {
		t.Fatalf("expected ids 1 and 2, got %d and %d", t1.ID, t2.ID)
	}
	if t2.Xmin != 1 {
		t.Fatalf("t2 began while t1 ran, expected xmin 1, got %d", t2.Xmin)
	}
	if got := tm.OldestXmin(); got != 1 {
		t.Fatalf("OldestXmin = %d, expected 1", got)
	}

	// t2 may still hold a snapshot from before t1 finished
	if err := tm.Commit(t1.ID); err != nil {
		t.Fatal(err)
	}
	if got := tm.OldestXmin(); got != 1 {
		t.Fatalf("OldestXmin = %d after t1 commit, expected 1", got)
	}

	if err := tm.Commit(t2.ID); err != nil {
		t.Fatal(err)
	}
	if got := tm.OldestXmin(); got != 3 {
		t.Fatalf("OldestXmin = %d with nothing running, expected 3", got)
	}
	if len(tm.ActiveTransactions()) != 0 {
		t.Fatalf("committed transactions still active")
	}
}

func TestAbortReturnsInsertedEntries(t *testing.T) {
	tm := NewTxnManager()
	tx := tm.Begin()
	tx.RecordInsert("places", types.RowPointer{FileID: 1, SlotIndex: 1})
	tx.RecordInsert("words", types.RowPointer{FileID: 1, SlotIndex: 2})

	if !tm.IsActive(tx.ID) || tm.GetTransaction(tx.ID) != tx {
		t.Fatalf("transaction not tracked")
	}

	entries, err := tm.Abort(tx.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[1].Index != "words" {
		t.Fatalf("abort returned %+v", entries)
	}
	if tx.State != TxnAborted || tm.IsActive(tx.ID) {
		t.Fatalf("aborted transaction still active")
	}

	// finished transactions are forgotten, a second abort or commit is a no-op
	if entries, err := tm.Abort(tx.ID); err != nil || entries != nil {
		t.Fatalf("second abort = %v, %v", entries, err)
	}
	if err := tm.Commit(tx.ID); err != nil {
		t.Fatalf("commit of a finished transaction: %v", err)
	}
}

func TestAdvancePast(t *testing.T) {
	tm := NewTxnManager()
	tm.AdvancePast(41)
	if tm.NextID() != 42 {
		t.Fatalf("expected next id 42, got %d", tm.NextID())
	}
	tm.AdvancePast(10)
	if tx := tm.Begin(); tx.ID != 42 {
		t.Fatalf("AdvancePast went backwards: got id %d", tx.ID)
	}
}
