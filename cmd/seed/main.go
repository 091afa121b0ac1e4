// Seed program: creates three indexes (quad and kd over points, radix over words), fills
// them with random data, deletes a fraction of the rows, vacuums and queries.
// Run: go run ./cmd/seed [engine-dir] [points]
// Then inspect: go run ./cmd/inspect_idx databases/demo points
package main

import (
	storageengine "SpaceDB/storage_engine"
	"SpaceDB/storage_engine/access/spgist"
	"SpaceDB/storage_engine/access/spgist/opclass"
	"SpaceDB/types"
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
)

const (
	defaultDir    = "databases/demo"
	defaultPoints = 10000
	deleteEvery   = 10
)

var words = []string{
	"apple", "application", "apply", "banana", "band", "bandana", "can", "candle",
	"candy", "cane", "dog", "dogma", "door", "east", "easter", "eastern",
}

func main() {
	dir, n := defaultDir, defaultPoints
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}
	if len(os.Args) > 2 {
		v, err := strconv.Atoi(os.Args[2])
		if err != nil || v <= 0 {
			log.Fatalf("points must be a positive integer, got %q", os.Args[2])
		}
		n = v
	}

	cfg := storageengine.DefaultConfig(dir)
	cfg.LogOutput = os.Stderr
	se, err := storageengine.NewStorageEngine(cfg)
	if err != nil {
		log.Fatalf("open engine: %v", err)
	}
	defer se.Close()

	ctx := context.Background()
	for _, ix := range []struct{ name, policy string }{
		{"points", opclass.QuadName},
		{"points_kd", opclass.KDName},
		{"words", opclass.RadixName},
	} {
		if se.CatalogManager.IndexExists(ix.name) {
			continue
		}
		if _, err := se.CreateIndex(ix.name, ix.policy); err != nil {
			log.Fatalf("create index %s: %v", ix.name, err)
		}
	}

	rng := rand.New(rand.NewPCG(1, 2))
	t := se.BeginTransaction()
	var rows []types.RowPointer
	for i := 0; i < n; i++ {
		row := types.RowPointer{FileID: 1, PageNumber: uint32(i / 100), SlotIndex: uint16(i % 100)}
		p := opclass.Point{X: rng.Float64() * 1000, Y: rng.Float64() * 1000}
		for _, name := range []string{"points", "points_kd"} {
			if err := se.InsertPoint(ctx, t, name, p, row); err != nil {
				log.Fatalf("insert %s: %v", p, err)
			}
		}
		w := words[i%len(words)] + strconv.Itoa(i%7)
		if err := se.Insert(ctx, t, "words", spgist.Entry{Key: []byte(w), Row: row}); err != nil {
			log.Fatalf("insert %q: %v", w, err)
		}
		rows = append(rows, row)
	}
	if err := se.CommitTransaction(t); err != nil {
		log.Fatalf("commit: %v", err)
	}
	fmt.Printf("inserted %s rows into 3 indexes\n", humanize.Comma(int64(n)))

	for i, row := range rows {
		if i%deleteEvery == 0 {
			se.DeleteRow(row)
		}
	}
	stats, err := se.VacuumAll(ctx)
	if err != nil {
		log.Fatalf("vacuum: %v", err)
	}
	for name, s := range stats {
		fmt.Printf("vacuum %-10s pages=%d removed=%s remaining=%s free=%d\n",
			name, s.NumPages, humanize.Comma(s.TuplesRemoved), humanize.Comma(s.NumIndexTuples), s.PagesFree)
	}

	origin := opclass.Point{X: 500, Y: 500}
	nearest, err := se.Nearest(ctx, "points", origin, 5)
	if err != nil {
		log.Fatalf("nearest: %v", err)
	}
	fmt.Printf("5 nearest to %s:\n", origin)
	for _, m := range nearest {
		fmt.Printf("  row=%s distance=%.3f\n", m.Row, m.Distance)
	}

	box := opclass.Box{Low: opclass.Point{X: 100, Y: 100}, High: opclass.Point{X: 200, Y: 200}}
	inBox, err := se.Search(ctx, "points_kd", spgist.Query{
		Keys: []opclass.ScanKey{{Strategy: opclass.StrategyContainedBy, Arg: opclass.EncodeBox(box)}},
	})
	if err != nil {
		log.Fatalf("search: %v", err)
	}
	fmt.Printf("points in %s-%s: %s\n", box.Low, box.High, humanize.Comma(int64(len(inBox))))

	withPrefix, err := se.Search(ctx, "words", spgist.Query{
		Keys:       []opclass.ScanKey{{Strategy: opclass.StrategyPrefix, Arg: []byte("band")}},
		ReturnData: true,
	})
	if err != nil {
		log.Fatalf("search: %v", err)
	}
	fmt.Printf("words with prefix \"band\": %s\n", humanize.Comma(int64(len(withPrefix))))

	if err := se.Checkpoint(); err != nil {
		log.Fatalf("checkpoint: %v", err)
	}
}
