// Inspect a space-partitioned index: one line per page with its kind, LSN, tuple states
// and free space.
// Usage: go run ./cmd/inspect_idx <engine-dir> <index>
// Example: go run ./cmd/inspect_idx databases/demo points
package main

import (
	storageengine "SpaceDB/storage_engine"
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "Usage: %s <engine-dir> <index>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Example: %s databases/demo points\n", os.Args[0])
		os.Exit(1)
	}
	if err := inspect(os.Args[1], os.Args[2]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func inspect(dir, name string) error {
	se, err := storageengine.NewStorageEngine(storageengine.DefaultConfig(dir))
	if err != nil {
		return err
	}
	defer se.Close()

	ix, err := se.GetIndex(name)
	if err != nil {
		return err
	}
	return ix.DumpPages(os.Stdout)
}
