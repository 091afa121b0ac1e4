package spgist

import (
	"SpaceDB/storage_engine/access/spgist/opclass"
	"SpaceDB/types"
	"context"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func replayAll(t *testing.T, wal *recordingWAL, provider StoreProvider) {
	t.Helper()
	for _, r := range wal.records {
		require.NoError(t, Replay(r.lsn, r.data, provider))
	}
}

// buildLoggedIndex runs a workload that produces every record kind of its policy.
func buildLoggedIndex(t *testing.T, policy opclass.Policy, load func(ix *Index)) (*memStore, *recordingWAL) {
	t.Helper()
	wal := &recordingWAL{}
	ix, ms := newTestIndex(t, policy, testPageSize, wal)
	load(ix)
	return ms, wal
}

func loadPoints(t *testing.T, n int) func(ix *Index) {
	return func(ix *Index) {
		pts := randomPoints(n, 8)
		for i, p := range pts {
			insertPoint(t, ix, p, i)
		}
		gone := deletedRows{}
		for i := 0; i < n; i += 4 {
			gone[rowFor(i)] = true
		}
		_, err := ix.BulkDelete(context.Background(), gone)
		require.NoError(t, err)
		for i, p := range randomPoints(n/4, 9) {
			insertPoint(t, ix, p, n+i)
		}
	}
}

// loadWords grows a long shared prefix first so that later words have to split it.
func loadWords(t *testing.T) func(ix *Index) {
	return func(ix *Index) {
		for i := 0; i < 200; i++ {
			insertString(t, ix, fmt.Sprintf("shared-prefix-%03d", i), i)
		}
		for i := 0; i < 600; i++ {
			insertString(t, ix, fmt.Sprintf("%c%c-key-%d", 'a'+i%7, 'a'+i%3, i), 200+i)
		}
	}
}

func TestReplayRebuildsIdenticalPages(t *testing.T) {
	cases := []struct {
		name   string
		policy opclass.Policy
		load   func(t *testing.T) func(ix *Index)
	}{
		{"quad", opclass.NewQuad(), func(t *testing.T) func(*Index) { return loadPoints(t, 1500) }},
		{"kd", opclass.NewKD(), func(t *testing.T) func(*Index) { return loadPoints(t, 1500) }},
		{"radix", opclass.NewRadix(testPageSize), loadWords},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ms, wal := buildLoggedIndex(t, tc.policy, tc.load(t))
			want := pageImages(ms)

			fresh := newMemStore(ms.fileID, testPageSize)
			replayAll(t, wal, fresh)
			got := pageImages(fresh)

			require.NotEmpty(t, want)
			for blk, img := range want {
				assert.Equal(t, img, got[blk], "block %d", blk)
			}

			// the rebuilt file answers like the original
			ix, err := Open("replayed", fresh, tc.policy, testOptions(nil))
			require.NoError(t, err)
			orig, err := Open("orig", ms, tc.policy, testOptions(nil))
			require.NoError(t, err)
			assert.Equal(t, collectRows(t, orig, Query{}), collectRows(t, ix, Query{}))
		})
	}
}

// Words over a 40 character alphabet keep adding labels to inner tuples that share a
// page, until some of them no longer fit and move to another inner page.
func TestReplayRelocatedAddNode(t *testing.T) {
	wal := &recordingWAL{}
	policy := opclass.NewRadix(testPageSize)
	ix, ms := newTestIndex(t, policy, testPageSize, wal)

	r := rand.New(rand.NewPCG(3, 4))
	const n = 4000
	for i := 0; i < n; i++ {
		word := make([]byte, 3+r.IntN(6))
		for j := range word {
			word[j] = byte('0' + r.IntN(40))
		}
		insertString(t, ix, string(word), i)
	}

	moved := 0
	parents := map[int8]int{}
	for _, e := range wal.records {
		rec, err := DecodeEnvelope(e.data)
		require.NoError(t, err)
		if rec.Kind != RecordAddNode {
			continue
		}
		var h addNodeRecord
		require.NoError(t, newRecordReader(rec).header(&h))
		if blkOf(h.BlkNew) == types.InvalidBlockNumber {
			continue
		}
		moved++
		parents[h.ParentBlk]++
		assert.NotEqual(t, h.Blk, h.BlkNew)
	}
	require.Positive(t, moved, "no inner tuple was relocated")
	assert.NotContains(t, parents, int8(-1), "a moved tuple always updates its parent")

	summary, err := ix.InspectPages()
	require.NoError(t, err)
	redirects := 0
	for _, s := range summary {
		if s.Kind == "inner" {
			redirects += s.Redirect
		}
	}
	assert.Positive(t, redirects)

	want := pageImages(ms)
	fresh := newMemStore(ms.fileID, testPageSize)
	replayAll(t, wal, fresh)
	got := pageImages(fresh)
	require.Equal(t, len(want), len(got))
	for blk, img := range want {
		assert.Equal(t, img, got[blk], "block %d", blk)
	}

	replayed, err := Open("replayed", fresh, policy, testOptions(nil))
	require.NoError(t, err)
	rows := collectRows(t, replayed, Query{})
	require.Len(t, rows, n)
	assert.Equal(t, collectRows(t, ix, Query{}), rows)
}

func TestReplayIsIdempotent(t *testing.T) {
	ms, wal := buildLoggedIndex(t, opclass.NewQuad(), loadPoints(t, 800))
	want := pageImages(ms)

	// replaying over pages that already carry every record changes nothing
	replayAll(t, wal, ms)
	assert.Equal(t, want, pageImages(ms))

	fresh := newMemStore(ms.fileID, testPageSize)
	replayAll(t, wal, fresh)
	once := pageImages(fresh)
	replayAll(t, wal, fresh)
	assert.Equal(t, once, pageImages(fresh))
}

func TestReplayCoversRecordKinds(t *testing.T) {
	_, wal := buildLoggedIndex(t, opclass.NewQuad(), loadPoints(t, 1500))
	kinds := wal.kinds()
	for _, k := range []RecordKind{RecordCreateIndex, RecordAddLeaf, RecordMoveLeafs, RecordPickSplit, RecordVacuumLeaf} {
		assert.Positive(t, kinds[k], "no %s records", k)
	}

	_, wal = buildLoggedIndex(t, opclass.NewRadix(testPageSize), loadWords(t))
	kinds = wal.kinds()
	assert.Positive(t, kinds[RecordAddNode])
	assert.Positive(t, kinds[RecordSplitTuple])
}

func TestReplayUnknownFile(t *testing.T) {
	ms, wal := buildLoggedIndex(t, opclass.NewQuad(), func(*Index) {})
	other := newMemStore(ms.fileID+1, testPageSize)
	err := Replay(wal.records[0].lsn, wal.records[0].data, other)
	assert.Error(t, err)
}

func TestDecodeEnvelope(t *testing.T) {
	rec, err := DecodeEnvelope(encodeEnvelope(4, RecordAddNode, []byte{1, 2}))
	require.NoError(t, err)
	assert.Equal(t, uint32(4), rec.FileID)
	assert.Equal(t, RecordAddNode, rec.Kind)
	assert.Equal(t, []byte{1, 2}, rec.Payload)
	assert.Equal(t, "AddNode", rec.Kind.String())

	_, err = DecodeEnvelope([]byte{1, 2})
	assert.True(t, errors.Is(err, ErrCorruption))
	_, err = DecodeEnvelope(encodeEnvelope(4, RecordKind(99), nil))
	assert.True(t, errors.Is(err, ErrCorruption))
}
