// dump_sample runs the seed and dumps every index it created, writing all output to
// cmd/sample_run_output.txt. Run from repo root: go run ./cmd/dump_sample
package main

import (
	storageengine "SpaceDB/storage_engine"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

const (
	baseDir    = "databases/demo"
	outputFile = "cmd/sample_run_output.txt"
)

func main() {
	outPath := outputFile
	// If run from cmd/dump_sample, output next to binary
	if _, err := os.Stat("cmd"); os.IsNotExist(err) {
		outPath = "sample_run_output.txt"
	}

	f, err := os.Create(outPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create output file: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	// Clean previous run so seed starts fresh
	os.RemoveAll(baseDir)

	// 1) Run seed: capture stdout/stderr to file
	fmt.Fprintln(f, "========== SEED (quad, kd and radix indexes, inserts, vacuum, queries) ==========")
	cmd := exec.Command("go", "run", "./cmd/seed", baseDir, "2000")
	cmd.Stdout = f
	cmd.Stderr = f
	cmd.Dir = repoRoot()
	if err := cmd.Run(); err != nil {
		fmt.Fprintf(f, "seed exited with error: %v\n", err)
	}

	// 2) Dump each index
	se, err := storageengine.NewStorageEngine(storageengine.DefaultConfig(filepath.Join(repoRoot(), baseDir)))
	if err != nil {
		fmt.Fprintf(f, "open engine: %v\n", err)
		return
	}
	defer se.Close()

	for _, entry := range se.CatalogManager.AllIndexes() {
		fmt.Fprintf(f, "\n========== INSPECT %s (%s) ==========\n", entry.Name, entry.Policy)
		ix, err := se.GetIndex(entry.Name)
		if err == nil {
			err = ix.DumpPages(f)
		}
		if err != nil {
			fmt.Fprintf(f, "inspect error: %v\n", err)
		}
	}

	fmt.Printf("Output written to %s\n", outPath)
}

func repoRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}
