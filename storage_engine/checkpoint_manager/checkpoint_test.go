package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckpointRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cm, err := NewCheckpointManager(dir)
	if err != nil {
		t.Fatal(err)
	}

	cp, err := cm.LoadCheckpoint()
	if err != nil || cp.LSN != 0 {
		t.Fatalf("missing checkpoint should load as LSN 0, got %+v (%v)", cp, err)
	}

	if err := cm.SaveCheckpoint(42, 7, dir); err != nil {
		t.Fatal(err)
	}
	if err := cm.SaveCheckpoint(57, 9, dir); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewCheckpointManager(dir)
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := reopened.LoadCheckpoint()
	if err != nil {
		t.Fatal(err)
	}
	if loaded.LSN != 57 || loaded.NextXid != 9 || loaded.Database != dir {
		t.Fatalf("loaded %+v", loaded)
	}
	if _, err := os.Stat(filepath.Join(dir, "checkpoint.json.tmp")); !os.IsNotExist(err) {
		t.Errorf("temporary checkpoint file left behind")
	}

	if err := cm.DeleteCheckpoint(); err != nil {
		t.Fatal(err)
	}
	if err := cm.DeleteCheckpoint(); err != nil {
		t.Fatalf("deleting a missing checkpoint: %v", err)
	}
	if loaded, _ := cm.LoadCheckpoint(); loaded.LSN != 0 {
		t.Fatalf("deleted checkpoint still loads LSN %d", loaded.LSN)
	}
}

func TestCorruptCheckpointStartsOver(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "checkpoint.json"), []byte("{\"lsn\": "), 0644); err != nil {
		t.Fatal(err)
	}
	cm, err := NewCheckpointManager(dir)
	if err != nil {
		t.Fatal(err)
	}
	cp, err := cm.LoadCheckpoint()
	if err != nil || cp.LSN != 0 {
		t.Fatalf("corrupt checkpoint should load as LSN 0, got %+v (%v)", cp, err)
	}
}
