package executor

import (
	"fmt"
	"strings"
)

func (vm *VM) PrintLine(cells []string) {
	for i, cell := range cells {
		fmt.Fprintf(vm.out, "%-20s", cell)
		if i < len(cells)-1 {
			fmt.Fprint(vm.out, "| ")
		}
	}
	fmt.Fprintln(vm.out)
}

func (vm *VM) PrintSeparator(count int) {
	if count > 0 {
		fmt.Fprintln(vm.out, strings.Repeat("-", (22*count)-2))
	}
}
