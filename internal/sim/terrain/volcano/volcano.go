// Package volcano stamps conical peaks onto a heightmap.
package volcano

import (
	"math"
	"math/rand"

	"worldweaver.app/internal/sim/terrain"
)

// SeedSalt is mixed into the world seed for volcano placement.
const SeedSalt = 0xF00DCAFE

type Config struct {
	Count  int     `json:"count"`
	Radius float32 `json:"radius"`
	Height float32 `json:"height"`
}

func DefaultConfig() Config { return Config{Count: 3, Radius: 80, Height: 0.95} }

func (c Config) Validate() error {
	const op = "volcano.config"
	switch {
	case c.Count < 1:
		return terrain.Validationf(op, "count must be >= 1, got %d", c.Count)
	case !(c.Radius > 0) || math.IsInf(float64(c.Radius), 0):
		return terrain.Validationf(op, "radius must be > 0, got %v", c.Radius)
	case !(c.Height > 0) || math.IsInf(float64(c.Height), 0):
		return terrain.Validationf(op, "height must be > 0, got %v", c.Height)
	}
	return nil
}

type Center struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// NewRand returns the placement RNG for the n-th stamp operation on a world.
func NewRand(worldSeed uint64, stamp uint64) *rand.Rand {
	return rand.New(rand.NewSource(int64(worldSeed ^ SeedSalt ^ stamp)))
}

// Pick chooses cfg.Count integer centers. Centers keep the whole cone inside
// the map when it is large enough.
func Pick(w, h int, cfg Config, rng *rand.Rand) []Center {
	r := int(math.Ceil(float64(cfg.Radius)))
	axis := func(n int) int {
		if n-2*r > 0 {
			return r + rng.Intn(n-2*r)
		}
		return rng.Intn(n)
	}
	out := make([]Center, cfg.Count)
	for i := range out {
		out[i].X = axis(w)
		out[i].Y = axis(h)
	}
	return out
}

// Affected is the bounding rect of all cones, clipped to the map.
func Affected(hm *terrain.Heightmap, centers []Center, radius float32) terrain.Rect {
	var out terrain.Rect
	for _, c := range centers {
		out = out.Union(terrain.CircleRect(float32(c.X), float32(c.Y), radius))
	}
	return out.Intersect(hm.Bounds())
}

// Stamp validates cfg, picks centers and stamps them.
func Stamp(hm *terrain.Heightmap, cfg Config, rng *rand.Rand) ([]Center, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	centers := Pick(hm.W, hm.H, cfg, rng)
	StampAt(hm, centers, cfg.Radius, cfg.Height)
	return centers, nil
}

// StampAt raises each texel within radius of a center to at least height·t²
// (t = 1 − d/radius). Center texels end at exactly min(height, 1).
func StampAt(hm *terrain.Heightmap, centers []Center, radius, height float32) {
	for _, c := range centers {
		rect := terrain.CircleRect(float32(c.X), float32(c.Y), radius).Intersect(hm.Bounds())
		for y := rect.Y0; y < rect.Y1; y++ {
			for x := rect.X0; x < rect.X1; x++ {
				dx := float32(x - c.X)
				dy := float32(y - c.Y)
				d := float32(math.Sqrt(float64(dx*dx + dy*dy)))
				if d > radius {
					continue
				}
				t := 1 - d/radius
				cone := height * t * t
				i := hm.Index(x, y)
				if cone > hm.Data[i] {
					hm.Data[i] = terrain.Clamp01(cone)
				}
			}
		}
		if hm.InBounds(c.X, c.Y) {
			hm.Data[hm.Index(c.X, c.Y)] = terrain.Clamp01(height)
		}
	}
}
