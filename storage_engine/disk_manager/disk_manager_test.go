package diskmanager

import (
	"SpaceDB/types"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const testPageSize = 512

func openTestFile(t *testing.T, dm *DiskManager, path string, fileID uint32) {
	t.Helper()
	if _, err := dm.OpenFileWithID(path, fileID); err != nil {
		t.Fatalf("failed to open %s: %v", path, err)
	}
}

// TestDiskManagerPageRoundTrip writes a page, reads it back and reopens the file
func TestDiskManagerPageRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pts.spg")
	dm := NewDiskManager(testPageSize)
	openTestFile(t, dm, path, 7)

	if err := dm.WriteMetadata(7, []byte("meta")); err != nil {
		t.Fatalf("failed to write metadata: %v", err)
	}

	pageID, err := dm.AllocatePage(7)
	if err != nil {
		t.Fatalf("failed to allocate page: %v", err)
	}
	if FileIDOf(pageID) != 7 || LocalOf(pageID) != 1 {
		t.Fatalf("expected page 1 of file 7, got file %d page %d", FileIDOf(pageID), LocalOf(pageID))
	}

	pg := dm.NewPage(pageID, 7, types.PageTypeSpLeaf)
	copy(pg.Data[32:], []byte("Hello, index page!"))
	pg.SetLSN(42)
	if err := dm.WritePage(pg); err != nil {
		t.Fatalf("failed to write page: %v", err)
	}
	if err := dm.CloseAll(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}

	dm = NewDiskManager(testPageSize)
	openTestFile(t, dm, path, 7)
	defer dm.CloseAll()

	n, err := dm.NumPages(7)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 pages after reopen, got %d (%v)", n, err)
	}

	got, err := dm.ReadPage(pageID)
	if err != nil {
		t.Fatalf("failed to read page: %v", err)
	}
	if got.LSN != 42 {
		t.Errorf("expected LSN 42, got %d", got.LSN)
	}
	if got.PageType != types.PageTypeSpLeaf {
		t.Errorf("expected leaf page, got %s", got.PageType)
	}
	if !bytes.Equal(got.Data[32:50], []byte("Hello, index page!")) {
		t.Errorf("data mismatch: %q", got.Data[32:50])
	}

	meta, err := dm.ReadMetadata(7)
	if err != nil {
		t.Fatalf("failed to read metadata: %v", err)
	}
	if !bytes.HasPrefix(meta, []byte("meta")) {
		t.Errorf("metadata mismatch: %q", meta[:8])
	}
}

// TestDiskManagerChecksum flips one byte on disk and expects the read to fail
func TestDiskManagerChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pts.spg")
	dm := NewDiskManager(testPageSize)
	openTestFile(t, dm, path, 1)
	defer dm.CloseAll()

	pageID, _ := dm.AllocatePage(1)
	pg := dm.NewPage(pageID, 1, types.PageTypeSpInner)
	pg.Data[100] = 0xAB
	if err := dm.WritePage(pg); err != nil {
		t.Fatalf("failed to write page: %v", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt([]byte{0xAC}, LocalOf(pageID)*testPageSize+100); err != nil {
		t.Fatal(err)
	}
	f.Close()

	if _, err := dm.ReadPage(pageID); !errors.Is(err, ErrChecksum) {
		t.Fatalf("expected checksum error, got %v", err)
	}
}

// TestDiskManagerUnwrittenPages reads past the end of the file
func TestDiskManagerUnwrittenPages(t *testing.T) {
	dm := NewDiskManager(testPageSize)
	openTestFile(t, dm, filepath.Join(t.TempDir(), "empty.spg"), 3)
	defer dm.CloseAll()

	if err := dm.ExtendTo(3, 9); err != nil {
		t.Fatal(err)
	}
	n, _ := dm.NumPages(3)
	if n != 10 {
		t.Fatalf("expected 10 pages after ExtendTo(9), got %d", n)
	}

	pg, err := dm.ReadPage(GlobalPageID(3, 9))
	if err != nil {
		t.Fatalf("reading an unwritten page failed: %v", err)
	}
	if pg.PageType != types.PageTypeUnknown || pg.LSN != 0 {
		t.Errorf("expected a zeroed page, got type %s lsn %d", pg.PageType, pg.LSN)
	}

	if _, err := dm.ReadMetadata(3); err == nil {
		t.Errorf("expected an error reading metadata of a file that has none")
	}
	if err := dm.WriteMetadata(3, make([]byte, testPageSize)); err == nil {
		t.Errorf("expected oversize metadata to be rejected")
	}
}
