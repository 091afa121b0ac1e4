package executor

import (
	"SpaceDB/storage_engine/access/spgist"
	"SpaceDB/types"
	"context"
	"encoding/json"
	"fmt"
)

func (vm *VM) ExecuteInsert(ctx context.Context, index string) error {
	raw, err := vm.pop()
	if err != nil {
		return err
	}
	var payload InsertPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("bad insert payload: %w", err)
	}

	vm.autoTransactionBegin()
	err = vm.storageEngine.Insert(ctx, vm.currentTxn, index, spgist.Entry{
		Key:     payload.Key,
		KeyNull: payload.KeyNull,
		Row:     payload.Row,
	})
	if err := vm.autoTransactionEnd(err); err != nil {
		return err
	}

	fmt.Fprintf(vm.out, "inserted %s\n", payload.Row)
	return nil
}

// ExecuteDelete reports a row dead at once; its entries stay in every index until vacuum.
func (vm *VM) ExecuteDelete() error {
	raw, err := vm.pop()
	if err != nil {
		return err
	}
	var row types.RowPointer
	if err := json.Unmarshal(raw, &row); err != nil {
		return fmt.Errorf("bad delete payload: %w", err)
	}

	vm.storageEngine.DeleteRow(row)
	fmt.Fprintf(vm.out, "deleted %s\n", row)
	return nil
}
