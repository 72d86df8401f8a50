package tuning

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"worldweaver.app/internal/sim/terrain"
)

func TestDefaultsAreValid(t *testing.T) {
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("defaults: %v", err)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	src := `
undo_depth: 10
island_mask: true
brush:
  raise_rate: 0.05
terrain:
  world_width: 256
  world_height: 128
  seed: 9
`
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tune, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tune.UndoDepth != 10 || !tune.IslandMask {
		t.Fatalf("overrides not applied: %+v", tune)
	}
	if tune.Brush.RaiseRate != 0.05 || tune.Brush.ErodeRate != 0.5 {
		t.Fatalf("brush constants: %+v", tune.Brush)
	}
	if tune.Terrain.WorldWidth != 256 || tune.Terrain.Octaves != 8 || tune.Terrain.SeaLevel != 0.42 {
		t.Fatalf("terrain: %+v", tune.Terrain)
	}
	if tune.CanvasWidth != 1200 || tune.Render.ShadeFloor != 0.35 {
		t.Fatalf("untouched keys should keep defaults: %+v", tune)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte("undo_depth: 0\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); !errors.Is(err, terrain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); !os.IsNotExist(err) {
		t.Fatalf("missing file should surface as not-exist, got %v", err)
	}
}
