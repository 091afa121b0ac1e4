package spgist

import (
	"SpaceDB/storage_engine/page"
	"SpaceDB/types"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
)

// PageSummary describes one index page for tools and tests.
type PageSummary struct {
	Block       types.BlockNumber
	Kind        string // "new", "deleted", "leaf", "inner", with "+nulls" on the nulls tree
	LSN         uint64
	Live        int
	Redirect    int
	Dead        int
	Placeholder int
	FreeSpace   int
}

func (s PageSummary) Tuples() int {
	return s.Live + s.Redirect + s.Dead + s.Placeholder
}

// InspectPages summarises every page after the meta page, holding one share lock at a time.
func (ix *Index) InspectPages() ([]PageSummary, error) {
	n, err := ix.store.NumBlocks()
	if err != nil {
		return nil, err
	}
	out := make([]PageSummary, 0, n)
	for blk := MetaBlock + 1; blk < n; blk++ {
		pg, err := ix.store.ReadAndLock(blk, page.LockShare)
		if err != nil {
			return nil, err
		}
		s, err := summarisePage(blk, pg)
		ix.store.UnlockAndUnpin(pg, page.LockShare)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func summarisePage(blk types.BlockNumber, pg *page.Page) (PageSummary, error) {
	s := PageSummary{Block: blk, LSN: pg.LSN}
	switch {
	case IsNewPage(pg):
		s.Kind = "new"
		return s, nil
	case IsDeletedPage(pg):
		s.Kind = "deleted"
		return s, nil
	case IsLeafPage(pg):
		s.Kind = "leaf"
	default:
		s.Kind = "inner"
	}
	if StoresNulls(pg) {
		s.Kind += "+nulls"
	}
	s.FreeSpace = ExactFreeSpace(pg)

	for off := types.FirstOffsetNumber; off <= MaxOffset(pg); off++ {
		raw, err := Item(pg, off)
		if err != nil {
			return s, err
		}
		switch TupleStateOf(raw) {
		case StateLive:
			s.Live++
		case StateRedirect:
			s.Redirect++
		case StateDead:
			s.Dead++
		case StatePlaceholder:
			s.Placeholder++
		}
	}
	return s, nil
}

// DumpPages writes one line per page.
func (ix *Index) DumpPages(w io.Writer) error {
	pages, err := ix.InspectPages()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "index %s  fileID=%d  policy=%s  pageSize=%s  blocks=%d\n",
		ix.name, ix.fileID, ix.policy.Name(), humanize.IBytes(uint64(ix.pageSize)), len(pages)+1)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BLOCK\tKIND\tLSN\tLIVE\tREDIRECT\tDEAD\tPLACEHOLDER\tFREE")
	var total PageSummary
	for _, s := range pages {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			s.Block, s.Kind, s.LSN, s.Live, s.Redirect, s.Dead, s.Placeholder, humanize.IBytes(uint64(s.FreeSpace)))
		total.Live += s.Live
		total.Redirect += s.Redirect
		total.Dead += s.Dead
		total.Placeholder += s.Placeholder
		total.FreeSpace += s.FreeSpace
	}
	fmt.Fprintf(tw, "total\t\t\t%s\t%d\t%d\t%d\t%s\n",
		humanize.Comma(int64(total.Live)), total.Redirect, total.Dead, total.Placeholder, humanize.IBytes(uint64(total.FreeSpace)))
	return tw.Flush()
}
