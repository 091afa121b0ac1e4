package spgist

import (
	"SpaceDB/types"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/pkg/errors"
)

/*
Last-used page hints.

For every (index file, page kind) pair the cache remembers one block that recently
had room, and how much. getBuffer tries that block before extending the file.
Entries are advisory: a hint may be stale, evicted or dropped by the cache admission
policy, and the page is always re-checked under its lock.

Key = fileID << 8 | kind
*/

type Hint struct {
	Block     types.BlockNumber
	FreeSpace int
}

type HintCache struct {
	cache *ristretto.Cache[uint64, Hint]
}

const DefaultHintCacheEntries = 1 << 12

// NewHintCache creates a cache holding at most maxEntries hints.
func NewHintCache(maxEntries int64) (*HintCache, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultHintCacheEntries
	}
	cache, err := ristretto.NewCache(&ristretto.Config[uint64, Hint]{
		NumCounters:        maxEntries * 10,
		MaxCost:            maxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create hint cache")
	}
	return &HintCache{cache: cache}, nil
}

func hintKey(fileID uint32, kind PageKind) uint64 {
	return uint64(fileID)<<8 | uint64(kind)
}

func (hc *HintCache) Get(fileID uint32, kind PageKind) (Hint, bool) {
	return hc.cache.Get(hintKey(fileID, kind))
}

// Set buffers the update. A Get right after Set may still miss it until Wait.
func (hc *HintCache) Set(fileID uint32, kind PageKind, h Hint) {
	hc.cache.Set(hintKey(fileID, kind), h, 1)
}

// Wait blocks until every buffered Set is visible to Get.
func (hc *HintCache) Wait() {
	hc.cache.Wait()
}

// Forget drops every hint of an index file.
func (hc *HintCache) Forget(fileID uint32) {
	for k := PageKind(0); k < numPageKinds; k++ {
		hc.cache.Del(hintKey(fileID, k))
	}
}

func (hc *HintCache) Close() {
	hc.cache.Close()
}
