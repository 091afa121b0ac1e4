package executor

import (
	"SpaceDB/storage_engine/access/spgist/opclass"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

func (vm *VM) ExecuteCreateIndex(name string) error {
	policy, err := vm.pop()
	if err != nil {
		return err
	}
	if _, err := vm.storageEngine.CreateIndex(name, string(policy)); err != nil {
		return fmt.Errorf("%w (policies: %s)", err, strings.Join(opclass.Names(), ", "))
	}
	fmt.Fprintf(vm.out, "index %s created using %s\n", name, policy)
	return nil
}

func (vm *VM) ExecuteDropIndex(name string) error {
	if vm.InTransaction() {
		return fmt.Errorf("DROP INDEX cannot run inside a transaction")
	}
	if err := vm.storageEngine.DropIndex(name); err != nil {
		return err
	}
	fmt.Fprintf(vm.out, "index %s dropped\n", name)
	return nil
}

func (vm *VM) ExecuteShowIndexes() error {
	entries := vm.storageEngine.CatalogManager.AllIndexes()
	if len(entries) == 0 {
		fmt.Fprintln(vm.out, "no indexes")
		return nil
	}

	header := []string{"NAME", "POLICY", "FILE", "SIZE"}
	vm.PrintLine(header)
	vm.PrintSeparator(len(header))
	for _, e := range entries {
		size := "?"
		if ix, err := vm.storageEngine.GetIndex(e.Name); err == nil {
			if n, err := ix.Store().NumBlocks(); err == nil {
				size = humanize.IBytes(uint64(n) * uint64(ix.Store().PageSize()))
			}
		}
		vm.PrintLine([]string{e.Name, e.Policy, fmt.Sprint(e.FileID), size})
	}
	return nil
}
