package storageengine

import (
	"SpaceDB/storage_engine/access/spgist"
	"SpaceDB/storage_engine/access/spgist/opclass"
	"context"
)

// Scan streams the live matches of q in index to fn until fn returns false. Rows reported
// dead but not yet vacuumed are skipped.
func (se *StorageEngine) Scan(ctx context.Context, index string, q spgist.Query, fn func(spgist.Match) bool) error {
	ix, err := se.GetIndex(index)
	if err != nil {
		return err
	}
	return ix.Search(ctx, q, func(m spgist.Match) bool {
		if se.IsRowDeleted(m.Row) {
			return true
		}
		return fn(m)
	})
}

// Search returns every live match of q in index.
func (se *StorageEngine) Search(ctx context.Context, index string, q spgist.Query) ([]spgist.Match, error) {
	var result []spgist.Match
	err := se.Scan(ctx, index, q, func(m spgist.Match) bool {
		result = append(result, m)
		return true
	})
	return result, err
}

// Nearest returns the k live entries of index closest to p that satisfy keys.
func (se *StorageEngine) Nearest(ctx context.Context, index string, p opclass.Point, k int, keys ...opclass.ScanKey) ([]spgist.Match, error) {
	ix, err := se.GetIndex(index)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	// dead rows still in the index take places in the answer: ask for more until k live
	// rows are found or the index runs out
	want := k
	for {
		matches, err := ix.Nearest(ctx, p, want, keys...)
		if err != nil {
			return nil, err
		}
		live := matches[:0]
		for _, m := range matches {
			if !se.IsRowDeleted(m.Row) {
				live = append(live, m)
			}
		}
		if len(live) >= k || len(matches) < want {
			return live[:min(k, len(live))], nil
		}
		want *= 2
	}
}
