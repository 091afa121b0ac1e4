package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRegisterAndReload(t *testing.T) {
	dir := t.TempDir()

	cm, err := NewCatalogManager(dir)
	if err != nil {
		t.Fatalf("failed to create catalog: %v", err)
	}

	places, err := cm.RegisterNewIndex("places", "quad")
	if err != nil {
		t.Fatalf("register places: %v", err)
	}
	words, err := cm.RegisterNewIndex("words", "radix")
	if err != nil {
		t.Fatalf("register words: %v", err)
	}
	if places.FileID != 1 || words.FileID != 2 {
		t.Fatalf("expected file ids 1 and 2, got %d and %d", places.FileID, words.FileID)
	}
	if _, err := cm.RegisterNewIndex("places", "kd"); err == nil {
		t.Fatalf("duplicate index name accepted")
	}

	reloaded, err := NewCatalogManager(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	all := reloaded.AllIndexes()
	if len(all) != 2 {
		t.Fatalf("expected 2 indexes after reload, got %d", len(all))
	}
	if all[0] != places || all[1] != words {
		t.Fatalf("reloaded entries differ: %+v", all)
	}
	got, err := reloaded.GetIndex("words")
	if err != nil || got.Policy != "radix" {
		t.Fatalf("GetIndex(words) = %+v, %v", got, err)
	}
}

func TestFileIDsAreNeverReused(t *testing.T) {
	dir := t.TempDir()
	cm, err := NewCatalogManager(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"a", "b", "c"} {
		if _, err := cm.RegisterNewIndex(name, "quad"); err != nil {
			t.Fatal(err)
		}
	}
	if err := cm.UnregisterIndex("c"); err != nil {
		t.Fatal(err)
	}
	if cm.IndexExists("c") {
		t.Fatalf("c still registered")
	}
	if err := cm.UnregisterIndex("c"); err == nil {
		t.Fatalf("second unregister succeeded")
	}

	// the dropped id 3 is remembered across restarts
	cm, err = NewCatalogManager(dir)
	if err != nil {
		t.Fatal(err)
	}
	entry, err := cm.RegisterNewIndex("d", "kd")
	if err != nil {
		t.Fatal(err)
	}
	if entry.FileID != 4 {
		t.Fatalf("expected file id 4, got %d", entry.FileID)
	}
}

func TestCorruptMappingIsReported(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "metadata"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "metadata", "index_file_mapping.json"), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewCatalogManager(dir); err == nil {
		t.Fatalf("corrupt mapping loaded without error")
	}
}
