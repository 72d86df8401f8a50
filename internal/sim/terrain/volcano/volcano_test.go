package volcano

import (
	"errors"
	"math"
	"testing"

	"worldweaver.app/internal/sim/terrain"
)

func flat(w, h int, v float32) *terrain.Heightmap {
	hm := terrain.NewHeightmap(w, h)
	for i := range hm.Data {
		hm.Data[i] = v
	}
	return hm
}

func TestStamp_CenterAndFootprint(t *testing.T) {
	hm := flat(256, 256, 0.3)
	before := hm.Clone()
	cfg := Config{Count: 1, Radius: 20, Height: 0.9}
	centers, err := Stamp(hm, cfg, NewRand(1, 0))
	if err != nil {
		t.Fatalf("Stamp: %v", err)
	}
	if len(centers) != 1 {
		t.Fatalf("expected 1 center, got %d", len(centers))
	}
	c := centers[0]
	if c.X < 20 || c.X >= 236 || c.Y < 20 || c.Y >= 236 {
		t.Fatalf("center %+v should keep the cone inside the map", c)
	}
	if got := hm.At(c.X, c.Y); got != 0.9 {
		t.Fatalf("center height: got %v want 0.9", got)
	}
	for y := 0; y < hm.H; y++ {
		for x := 0; x < hm.W; x++ {
			dx, dy := float64(x-c.X), float64(y-c.Y)
			d := math.Sqrt(dx*dx + dy*dy)
			if d > 20 && hm.At(x, y) != before.At(x, y) {
				t.Fatalf("texel (%d,%d) beyond radius changed", x, y)
			}
			if hm.At(x, y) < before.At(x, y) {
				t.Fatalf("texel (%d,%d) was lowered", x, y)
			}
		}
	}
}

func TestStamp_Deterministic(t *testing.T) {
	a := flat(128, 128, 0.2)
	b := flat(128, 128, 0.2)
	cfg := Config{Count: 4, Radius: 10, Height: 1.5}
	ca, _ := Stamp(a, cfg, NewRand(42, 3))
	cb, _ := Stamp(b, cfg, NewRand(42, 3))
	if !a.Equal(b) {
		t.Fatalf("same seed should stamp identically")
	}
	for i := range ca {
		if ca[i] != cb[i] {
			t.Fatalf("center %d differs: %+v vs %+v", i, ca[i], cb[i])
		}
		if got := a.At(ca[i].X, ca[i].Y); got != 1 {
			t.Fatalf("tall cone center should clamp to 1, got %v", got)
		}
	}
}

func TestStamp_SmallWorldPlacesAnywhere(t *testing.T) {
	hm := flat(8, 8, 0)
	centers, err := Stamp(hm, Config{Count: 5, Radius: 50, Height: 0.5}, NewRand(7, 0))
	if err != nil {
		t.Fatalf("Stamp: %v", err)
	}
	for _, c := range centers {
		if !hm.InBounds(c.X, c.Y) {
			t.Fatalf("center %+v out of bounds", c)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	bad := []Config{
		{Count: 0, Radius: 10, Height: 0.5},
		{Count: 1, Radius: 0, Height: 0.5},
		{Count: 1, Radius: 10, Height: 0},
		{Count: 1, Radius: float32(math.NaN()), Height: 0.5},
	}
	for _, cfg := range bad {
		err := cfg.Validate()
		if !errors.Is(err, terrain.ErrValidation) {
			t.Fatalf("Validate(%+v): expected validation error, got %v", cfg, err)
		}
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config: %v", err)
	}
}

func TestAffected(t *testing.T) {
	hm := flat(64, 64, 0)
	r := Affected(hm, []Center{{X: 2, Y: 2}, {X: 60, Y: 10}}, 5)
	if r.X0 != 0 || r.Y0 != 0 || r.X1 != 64 || r.Y1 < 16 {
		t.Fatalf("unexpected affected rect %+v", r)
	}
}
