package txn

import (
	"fmt"
	"io"
	"log"
)

/*
Transaction manager hands out transaction ids and tracks which transactions are running.

The index uses it for two things:
the id of the inserting transaction is stamped into every Redirect tuple it leaves behind,
and OldestXmin tells vacuum which Redirects no running snapshot can still need.
*/

func NewTxnManager() *TxnManager {
	return &TxnManager{
		nextID:     1,
		activeTxns: make(map[TransactionId]*Transaction),
		logger:     log.New(io.Discard, "[TXN] ", 0),
	}
}

func (tm *TxnManager) SetLogger(logger *log.Logger) {
	tm.logger = logger
}

// Begin starts a new transaction and registers it as active.
func (tm *TxnManager) Begin() *Transaction {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	txnID := tm.nextID
	tm.nextID++

	txn := &Transaction{
		ID:    txnID,
		State: TxnActive,
		Xmin:  tm.oldestActiveLocked(txnID),
	}
	tm.activeTxns[txnID] = txn

	return txn
}

// Commit marks a transaction as committed and removes it from the active set.
func (tm *TxnManager) Commit(txnID TransactionId) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	txn, exists := tm.activeTxns[txnID]
	if !exists {
		// Already committed/aborted or never existed, idempotent.
		return nil
	}

	if txn.State == TxnAborted {
		return fmt.Errorf("transaction %d was already aborted", txnID)
	}

	txn.State = TxnCommitted
	delete(tm.activeTxns, txnID)

	tm.logger.Printf("COMMIT complete txnID=%d", txnID)
	return nil
}

// Abort marks a transaction as aborted and removes it from the active set.
// The entries it inserted are returned so that the caller can treat their rows as dead.
func (tm *TxnManager) Abort(txnID TransactionId) ([]InsertedEntry, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	txn, exists := tm.activeTxns[txnID]
	if !exists {
		return nil, nil
	}

	if txn.State == TxnCommitted {
		return nil, fmt.Errorf("transaction %d was already committed", txnID)
	}

	txn.State = TxnAborted
	delete(tm.activeTxns, txnID)

	tm.logger.Printf("ABORT txnID=%d entries=%d", txnID, len(txn.InsertedEntries))
	return txn.InsertedEntries, nil
}

// GetTransaction returns the transaction with the given ID, or nil if not found.
func (tm *TxnManager) GetTransaction(txnID TransactionId) *Transaction {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.activeTxns[txnID]
}

// IsActive returns true if the given txnID is currently active.
func (tm *TxnManager) IsActive(txnID TransactionId) bool {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	_, exists := tm.activeTxns[txnID]
	return exists
}

// OldestXmin returns the oldest xmin among running transactions, or the next
// id to be assigned when nothing runs. Any xid below it is finished and no
// running snapshot can predate it.
func (tm *TxnManager) OldestXmin() TransactionId {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	oldest := tm.nextID
	for _, txn := range tm.activeTxns {
		if txn.Xmin < oldest {
			oldest = txn.Xmin
		}
	}
	return oldest
}

// NextID returns the id the next Begin will hand out.
func (tm *TxnManager) NextID() TransactionId {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.nextID
}

// AdvancePast makes sure ids handed out after recovery are above xid.
func (tm *TxnManager) AdvancePast(xid TransactionId) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if xid >= tm.nextID {
		tm.nextID = xid + 1
	}
}

// ActiveTransactions returns a snapshot of all currently active transactions.
func (tm *TxnManager) ActiveTransactions() []*Transaction {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	txns := make([]*Transaction, 0, len(tm.activeTxns))
	for _, txn := range tm.activeTxns {
		txns = append(txns, txn)
	}
	return txns
}

func (tm *TxnManager) oldestActiveLocked(self TransactionId) TransactionId {
	oldest := self
	for id := range tm.activeTxns {
		if id < oldest {
			oldest = id
		}
	}
	return oldest
}
