package executor

import (
	"SpaceDB/storage_engine/access/spgist"
	"context"
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
)

// ExecuteVacuum vacuums one index, or every index when name is empty.
func (vm *VM) ExecuteVacuum(ctx context.Context, name string) error {
	if vm.InTransaction() {
		return fmt.Errorf("VACUUM cannot run inside a transaction")
	}

	results := map[string]*spgist.Stats{}
	if name == "" {
		all, err := vm.storageEngine.VacuumAll(ctx)
		if err != nil {
			return err
		}
		results = all
	} else {
		stats, err := vm.storageEngine.Vacuum(ctx, name)
		if err != nil {
			return err
		}
		results[name] = stats
	}

	names := make([]string, 0, len(results))
	for n := range results {
		names = append(names, n)
	}
	sort.Strings(names)

	header := []string{"INDEX", "REMOVED", "TUPLES", "FREE PAGES", "PAGES"}
	vm.PrintLine(header)
	vm.PrintSeparator(len(header))
	for _, n := range names {
		s := results[n]
		vm.PrintLine([]string{
			n,
			humanize.Comma(s.TuplesRemoved),
			humanize.Comma(s.NumIndexTuples),
			humanize.Comma(s.PagesFree),
			humanize.Comma(s.NumPages),
		})
	}
	return nil
}
