package archive

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"worldweaver.app/internal/persistence/worldfile"
	"worldweaver.app/internal/sim/terrain"
)

func saveVersion(t *testing.T, path string, at time.Time, fill float32) {
	t.Helper()
	cfg := terrain.DefaultConfig()
	cfg.WorldWidth, cfg.WorldHeight = 4, 4
	hm := terrain.NewHeightmap(4, 4)
	for i := range hm.Data {
		hm.Data[i] = fill
	}
	err := worldfile.Save(path, worldfile.File{
		Header:  worldfile.Header{WorldID: "w1", SavedAt: at, Config: cfg},
		Heights: hm,
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
}

func TestPreviousKeepsNewestVersions(t *testing.T) {
	dataDir := t.TempDir()
	path := filepath.Join(dataDir, "worlds", "isle.wwld")

	got, err := Previous(dataDir, path, 2)
	if err != nil || got != "" {
		t.Fatalf("nothing to archive: got=%q err=%v", got, err)
	}

	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		saveVersion(t, path, base.Add(time.Duration(i)*time.Minute), float32(i)/10)
		if _, err := Previous(dataDir, path, 2); err != nil {
			t.Fatalf("archive %d: %v", i, err)
		}
	}

	entries, err := List(dataDir, "isle.wwld")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries=%d want 2", len(entries))
	}
	if !entries[0].Meta.SavedAt.Equal(base.Add(2*time.Minute)) || !entries[1].Meta.SavedAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("order: %v, %v", entries[0].Meta.SavedAt, entries[1].Meta.SavedAt)
	}
	if entries[0].Meta.WorldID != "w1" || entries[0].Meta.Width != 4 {
		t.Fatalf("meta=%+v", entries[0].Meta)
	}

	f, err := worldfile.Load(entries[1].Path)
	if err != nil {
		t.Fatalf("load archived: %v", err)
	}
	if f.Heights.At(0, 0) != 0.1 {
		t.Fatalf("archived height=%v", f.Heights.At(0, 0))
	}
	if _, err := os.Stat(entries[1].Path + ".json"); err != nil {
		t.Fatalf("sidecar: %v", err)
	}
}

func TestPreviousDisabled(t *testing.T) {
	dataDir := t.TempDir()
	path := filepath.Join(dataDir, "a.wwld")
	saveVersion(t, path, time.Now(), 0.5)
	if got, err := Previous(dataDir, path, 0); err != nil || got != "" {
		t.Fatalf("got=%q err=%v", got, err)
	}
	if _, err := os.Stat(Dir(dataDir, path)); !os.IsNotExist(err) {
		t.Fatalf("archive dir created: %v", err)
	}
}
