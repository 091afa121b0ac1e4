package executor

/*
VM (VDBE) - Orchestrates index commands, does NOT write to disk
    ↓
    └─→ StorageEngine
            ├─→ Catalog      - index name → file id, split policy
            ├─→ SP-GiST      - one WAL record per page change, pages via the buffer pool
            └─→ WAL          - fsync on commit → replayed on the next open

Every command runs as one instruction list ending in OP_END. Payloads reach the
command opcode through the stack (OP_PUSH_VAL, JSON encoded by the code generator).
*/

import (
	storageengine "SpaceDB/storage_engine"
	"context"
	"fmt"
	"io"
	"os"
)

func NewVM(se *storageengine.StorageEngine, out io.Writer) *VM {
	if out == nil {
		out = os.Stdout
	}
	return &VM{
		storageEngine: se,
		out:           out,
		stack:         make([][]byte, 0),
	}
}

// InTransaction reports whether an explicit BEGIN is open.
func (vm *VM) InTransaction() bool {
	return vm.currentTxn != nil && !vm.autoTxn
}

func (vm *VM) Execute(ctx context.Context, instructions []Instruction) error {
	vm.stack = nil

	for _, instr := range instructions {
		switch instr.Op {
		case OP_PUSH_VAL:
			vm.stack = append(vm.stack, []byte(instr.Value))

		case OP_CREATE_INDEX:
			return vm.ExecuteCreateIndex(instr.Value)

		case OP_DROP_INDEX:
			return vm.ExecuteDropIndex(instr.Value)

		case OP_SHOW_INDEXES:
			return vm.ExecuteShowIndexes()

		case OP_INSERT:
			return vm.ExecuteInsert(ctx, instr.Value)

		case OP_DELETE:
			return vm.ExecuteDelete()

		case OP_SELECT:
			return vm.ExecuteSelect(ctx, instr.Value)

		case OP_NEAREST:
			return vm.ExecuteNearest(ctx, instr.Value)

		case OP_VACUUM:
			return vm.ExecuteVacuum(ctx, instr.Value)

		case OP_CHECKPOINT:
			if err := vm.storageEngine.Checkpoint(); err != nil {
				return err
			}
			fmt.Fprintln(vm.out, "checkpoint written")
			return nil

		case OP_INSPECT:
			ix, err := vm.storageEngine.GetIndex(instr.Value)
			if err != nil {
				return err
			}
			return ix.DumpPages(vm.out)

		case OP_TXN_BEGIN:
			if vm.currentTxn != nil {
				return fmt.Errorf("transaction %d already active", vm.currentTxn.ID)
			}
			vm.currentTxn = vm.storageEngine.BeginTransaction()
			fmt.Fprintf(vm.out, "BEGIN %d\n", vm.currentTxn.ID)
			return nil

		case OP_TXN_COMMIT:
			if vm.currentTxn == nil {
				return fmt.Errorf("no active transaction")
			}
			if err := vm.storageEngine.CommitTransaction(vm.currentTxn); err != nil {
				return err
			}
			fmt.Fprintf(vm.out, "COMMIT %d\n", vm.currentTxn.ID)
			vm.currentTxn = nil
			return nil

		case OP_TXN_ROLLBACK:
			if vm.currentTxn == nil {
				return fmt.Errorf("no active transaction")
			}
			if err := vm.storageEngine.AbortTransaction(vm.currentTxn); err != nil {
				return err
			}
			fmt.Fprintf(vm.out, "ROLLBACK %d\n", vm.currentTxn.ID)
			vm.currentTxn = nil
			return nil

		case OP_END:
			return nil

		default:
			return fmt.Errorf("unknown opcode: %d", instr.Op)
		}
	}
	return nil
}

// pop removes the payload pushed for the current command.
func (vm *VM) pop() ([]byte, error) {
	if len(vm.stack) == 0 {
		return nil, fmt.Errorf("stack underflow: missing payload")
	}
	top := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return top, nil
}
