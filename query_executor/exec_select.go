package executor

import (
	"SpaceDB/storage_engine/access/spgist"
	"SpaceDB/storage_engine/access/spgist/opclass"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
)

func (vm *VM) decodeScan() (ScanPayload, error) {
	var payload ScanPayload
	raw, err := vm.pop()
	if err != nil {
		return payload, err
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return payload, fmt.Errorf("bad scan payload: %w", err)
	}
	return payload, nil
}

func (p ScanPayload) scanKeys() []opclass.ScanKey {
	keys := make([]opclass.ScanKey, len(p.Keys))
	for i, k := range p.Keys {
		keys[i] = opclass.ScanKey{Strategy: k.Strategy, Arg: k.Arg}
	}
	return keys
}

func (vm *VM) ExecuteSelect(ctx context.Context, index string) error {
	payload, err := vm.decodeScan()
	if err != nil {
		return err
	}
	ix, err := vm.storageEngine.GetIndex(index)
	if err != nil {
		return err
	}

	q := spgist.Query{Keys: payload.scanKeys(), IsNull: payload.IsNull, ReturnData: true}
	header := []string{"ROW", "KEY"}
	vm.PrintLine(header)
	vm.PrintSeparator(len(header))

	count := 0
	err = vm.storageEngine.Scan(ctx, index, q, func(m spgist.Match) bool {
		vm.PrintLine([]string{m.Row.String(), formatKey(ix.Policy().Name(), m, payload.IsNull)})
		count++
		return payload.Limit == 0 || count < payload.Limit
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(vm.out, "(%s rows)\n", humanize.Comma(int64(count)))
	return nil
}

func (vm *VM) ExecuteNearest(ctx context.Context, index string) error {
	payload, err := vm.decodeScan()
	if err != nil {
		return err
	}
	if payload.Target == nil {
		return fmt.Errorf("nearest payload without target")
	}
	ix, err := vm.storageEngine.GetIndex(index)
	if err != nil {
		return err
	}

	matches, err := vm.storageEngine.Nearest(ctx, index, *payload.Target, payload.K, payload.scanKeys()...)
	if err != nil {
		return err
	}

	header := []string{"ROW", "KEY", "DISTANCE"}
	vm.PrintLine(header)
	vm.PrintSeparator(len(header))
	for _, m := range matches {
		vm.PrintLine([]string{m.Row.String(), formatKey(ix.Policy().Name(), m, false), strconv.FormatFloat(m.Distance, 'g', 6, 64)})
	}
	fmt.Fprintf(vm.out, "(%s rows)\n", humanize.Comma(int64(len(matches))))
	return nil
}

// formatKey renders the key rebuilt by the scan: text for radix indexes, a point otherwise.
func formatKey(policy string, m spgist.Match, isNull bool) string {
	if isNull {
		return "NULL"
	}
	if m.Key == nil {
		return "-"
	}
	if policy == opclass.RadixName {
		return strconv.Quote(string(m.Key))
	}
	p, err := opclass.DecodePoint(m.Key)
	if err != nil {
		return fmt.Sprintf("%x", []byte(m.Key))
	}
	return p.String()
}
