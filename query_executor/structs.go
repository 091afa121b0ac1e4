package executor

import (
	storageengine "SpaceDB/storage_engine"
	"SpaceDB/storage_engine/access/spgist/opclass"
	txn "SpaceDB/storage_engine/transaction_manager"
	"SpaceDB/types"
	"io"
)

type OpCode byte

const (
	// stack
	OP_PUSH_VAL OpCode = iota

	// index commands
	OP_CREATE_INDEX
	OP_DROP_INDEX
	OP_SHOW_INDEXES
	OP_INSERT
	OP_DELETE
	OP_SELECT
	OP_NEAREST

	// maintenance
	OP_VACUUM
	OP_CHECKPOINT
	OP_INSPECT

	// transactions
	OP_TXN_BEGIN
	OP_TXN_COMMIT
	OP_TXN_ROLLBACK

	OP_END
)

type Instruction struct {
	Op    OpCode
	Value string
}

// InsertPayload is pushed before OP_INSERT.
type InsertPayload struct {
	Key     []byte           `json:"key,omitempty"`
	KeyNull bool             `json:"key_null,omitempty"`
	Row     types.RowPointer `json:"row"`
}

type ScanKeyPayload struct {
	Strategy opclass.Strategy `json:"strategy"`
	Arg      []byte           `json:"arg"`
}

// ScanPayload is pushed before OP_SELECT and OP_NEAREST.
type ScanPayload struct {
	Keys   []ScanKeyPayload `json:"keys,omitempty"`
	IsNull bool             `json:"is_null,omitempty"`
	Limit  int              `json:"limit,omitempty"`

	// nearest only
	K      int            `json:"k,omitempty"`
	Target *opclass.Point `json:"target,omitempty"`
}

type VM struct {
	storageEngine *storageengine.StorageEngine
	out           io.Writer

	currentTxn *txn.Transaction
	autoTxn    bool

	stack [][]byte
}
