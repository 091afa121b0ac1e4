package spgist

import (
	"SpaceDB/storage_engine/access/spgist/opclass"
	"SpaceDB/storage_engine/page"
	"SpaceDB/types"
	"context"
	"io"
	"log"
	"math/rand/v2"
	"sync"

	"github.com/pkg/errors"
)

/*
Index is one space-partitioned tree stored in one index file.

	block 0   meta page (hints)
	block 1   root of the value tree
	block 2   root of the nulls tree
	block 3+  inner and leaf pages

Both roots start as leaf pages. A root leaf holds unchained tuples; when it overflows it is
split in place and turns into an inner page holding exactly one inner tuple at offset 1.
*/

type Options struct {
	// MaxNonShrinkCycles bounds descents that do not shrink an oversize leaf value.
	MaxNonShrinkCycles int
	// MoveLeafsMaxTuples is the longest chain moved whole to another page instead of split.
	MoveLeafsMaxTuples int
	// AllTheSameNodes is the node count forced on a split that separated nothing.
	AllTheSameNodes int
	// Rand picks the node of an allTheSame tuple to descend into.
	Rand    *rand.Rand
	Hints   *HintCache
	Logger  *log.Logger
	IsBuild bool
	// Horizon is consulted by vacuum; nil keeps every Redirect.
	Horizon XidHorizon
	// WAL receives one record per page mutation; nil runs unlogged.
	WAL WALWriter
}

func DefaultOptions() Options {
	return Options{
		MaxNonShrinkCycles: 10,
		MoveLeafsMaxTuples: 64,
		AllTheSameNodes:    8,
	}
}

// Entry is one key to index together with the row it belongs to.
type Entry struct {
	Key     []byte
	KeyNull bool
	Payload []byte
	Row     types.RowPointer
	// Xid of the inserting transaction, left in Redirects this insert creates.
	Xid uint64
}

type InsertResult uint8

const (
	InsertDone InsertResult = iota
	InsertRetryNeeded
)

func (r InsertResult) String() string {
	if r == InsertDone {
		return "done"
	}
	return "retry"
}

type Index struct {
	name     string
	fileID   uint32
	store    PageStore
	policy   opclass.Policy
	config   opclass.Config
	wal      WALWriter
	hints    *HintCache
	ownHints bool
	opts     Options
	logger   *log.Logger
	pageSize int
	capacity int

	rngMu sync.Mutex
	rng   *rand.Rand
}

func newIndex(name string, store PageStore, policy opclass.Policy, opts Options) (*Index, error) {
	defaults := DefaultOptions()
	if opts.MaxNonShrinkCycles <= 0 {
		opts.MaxNonShrinkCycles = defaults.MaxNonShrinkCycles
	}
	if opts.MoveLeafsMaxTuples <= 0 {
		opts.MoveLeafsMaxTuples = defaults.MoveLeafsMaxTuples
	}
	if opts.AllTheSameNodes <= 1 {
		opts.AllTheSameNodes = defaults.AllTheSameNodes
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "[SPGist] ", 0)
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	ix := &Index{
		name:     name,
		fileID:   store.FileID(),
		store:    store,
		policy:   policy,
		config:   policy.Config(),
		wal:      opts.WAL,
		hints:    opts.Hints,
		opts:     opts,
		logger:   opts.Logger,
		pageSize: store.PageSize(),
		capacity: PageCapacity(store.PageSize()),
		rng:      opts.Rand,
	}
	if ix.hints == nil {
		hints, err := NewHintCache(numPageKinds)
		if err != nil {
			return nil, err
		}
		ix.hints = hints
		ix.ownHints = true
	}
	return ix, nil
}

// Create initialises a new index in an empty file: meta page, then both roots as empty
// leaves, logged as one CreateIndex record.
func Create(name string, store PageStore, policy opclass.Policy, opts Options) (*Index, error) {
	ix, err := newIndex(name, store, policy, opts)
	if err != nil {
		return nil, err
	}
	if err := store.WriteMeta(emptyMeta().encode()); err != nil {
		return nil, errors.Wrapf(err, "create index %s", name)
	}

	root, err := store.ReadOrExtend(RootBlock)
	if err != nil {
		return nil, errors.Wrapf(err, "create index %s", name)
	}
	nullRoot, err := store.ReadOrExtend(NullRootBlock)
	if err != nil {
		store.UnlockAndUnpin(root, page.LockExclusive)
		return nil, errors.Wrapf(err, "create index %s", name)
	}

	InitIndexPage(root, FlagLeaf)
	InitIndexPage(nullRoot, FlagLeaf|FlagNulls)
	ix.logRecord(RecordCreateIndex, nil, root, nullRoot)

	store.UnlockAndUnpin(nullRoot, page.LockExclusive)
	store.UnlockAndUnpin(root, page.LockExclusive)

	ix.logger.Printf("CREATE index=%s fileID=%d policy=%s pageSize=%d", name, ix.fileID, policy.Name(), ix.pageSize)
	return ix, nil
}

// Open attaches to an existing index file and loads its page hints.
func Open(name string, store PageStore, policy opclass.Policy, opts Options) (*Index, error) {
	ix, err := newIndex(name, store, policy, opts)
	if err != nil {
		return nil, err
	}
	n, err := store.NumBlocks()
	if err != nil {
		return nil, errors.Wrapf(err, "open index %s", name)
	}
	if n <= LastFixedBlock {
		return nil, corruptf("index %s has %d blocks", name, n)
	}
	if err := ix.loadHints(); err != nil {
		return nil, errors.Wrapf(err, "open index %s", name)
	}
	ix.logger.Printf("OPEN index=%s fileID=%d policy=%s blocks=%d", name, ix.fileID, policy.Name(), n)
	return ix, nil
}

// Close persists the page hints. The pages themselves belong to the buffer pool.
func (ix *Index) Close() error {
	err := ix.SaveHints()
	if ix.ownHints {
		ix.hints.Close()
	}
	return err
}

func (ix *Index) Name() string { return ix.name }

func (ix *Index) FileID() uint32 { return ix.fileID }

func (ix *Index) Policy() opclass.Policy { return ix.policy }

func (ix *Index) Store() PageStore { return ix.store }

// SetBuild switches build mode, where no concurrent reader exists and Placeholders
// replace Redirects.
func (ix *Index) SetBuild(on bool) { ix.opts.IsBuild = on }

func (ix *Index) randomNode(n int) int {
	ix.rngMu.Lock()
	defer ix.rngMu.Unlock()
	return ix.rng.IntN(n)
}

func (ix *Index) state(xid uint64) walState {
	return walState{Xid: xid, IsBuild: ix.opts.IsBuild}
}

// logRecord appends one record for a mutation already applied to pages, then stamps
// its LSN on every page it touched and marks them dirty. It runs inside the critical
// section: failure panics.
func (ix *Index) logRecord(kind RecordKind, body []byte, pages ...*page.Page) {
	var lsn uint64
	if ix.wal != nil {
		var err error
		lsn, err = ix.wal.AppendRecord(encodeEnvelope(ix.fileID, kind, body))
		mustNot(kind.String(), err)
	}
	for _, pg := range pages {
		if pg == nil {
			continue
		}
		if lsn != 0 {
			pg.SetLSN(lsn)
		}
		ix.store.MarkDirty(pg)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Cancellation
// ─────────────────────────────────────────────────────────────────────────────

// interrupted reports a pending cancellation without consuming it.
func interrupted(ctx context.Context) bool {
	return ctx.Err() != nil
}

// cancelResult maps a cancelled context to the insert outcome: a soft interrupt asks
// the caller to retry, anything else aborts.
func cancelResult(ctx context.Context) (InsertResult, error) {
	cause := context.Cause(ctx)
	if errors.Is(cause, ErrInterrupted) {
		return InsertRetryNeeded, nil
	}
	return InsertRetryNeeded, errors.Wrap(ErrCancelled, cause.Error())
}

// checkCancelled is the hard check used by long-running scans.
func checkCancelled(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	return errors.Wrap(ErrCancelled, context.Cause(ctx).Error())
}
