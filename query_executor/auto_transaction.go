package executor

import (
	"fmt"
)

/*
This file contains functions that are required for starting automatic transactions
Called when the user executes INSERT without an explicit BEGIN/COMMIT/ROLLBACK.
*/

// autoTransactionBegin starts an implicit transaction for a single statement,
// unless the user already opened one.
func (vm *VM) autoTransactionBegin() {
	if vm.currentTxn != nil {
		return
	}
	vm.currentTxn = vm.storageEngine.BeginTransaction()
	vm.autoTxn = true
}

// autoTransactionEnd commits the implicit transaction when err is nil and aborts it otherwise.
// Explicit transactions are left alone.
func (vm *VM) autoTransactionEnd(err error) error {
	if !vm.autoTxn || vm.currentTxn == nil {
		return err
	}
	t := vm.currentTxn
	vm.currentTxn = nil
	vm.autoTxn = false

	if err != nil {
		if abortErr := vm.storageEngine.AbortTransaction(t); abortErr != nil {
			return fmt.Errorf("%w (abort failed: %v)", err, abortErr)
		}
		return err
	}
	if err := vm.storageEngine.CommitTransaction(t); err != nil {
		return fmt.Errorf("auto-commit failed: %w", err)
	}
	return nil
}
