package txn

import (
	"SpaceDB/types"
	"log"
	"sync"
)

type TxnState uint8

const (
	TxnActive TxnState = iota
	TxnCommitted
	TxnAborted
)

// TransactionId 0 is invalid; the first transaction gets 1.
type TransactionId = uint64

const InvalidTransactionId TransactionId = 0

type Transaction struct {
	ID    TransactionId
	State TxnState

	// Xmin is the oldest transaction that was still running when this one began.
	// Nothing older than it can be invisible to this transaction's snapshot.
	Xmin TransactionId

	// index entries written by this transaction, handed back on abort
	InsertedEntries []InsertedEntry
}

type InsertedEntry struct {
	Index  string
	RowPtr types.RowPointer
}

type TxnManager struct {
	nextID     uint64
	activeTxns map[TransactionId]*Transaction // all currently active transactions
	logger     *log.Logger
	mu         sync.RWMutex
}
