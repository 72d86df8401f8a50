package brush

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"worldweaver.app/internal/gpu"
	"worldweaver.app/internal/sim/terrain"
	"worldweaver.app/internal/sim/terrain/gen"
)

// Falloff is smoothstep(1 − d/radius); 0 outside the radius.
func Falloff(d, radius float32) float32 {
	if d > radius || radius <= 0 {
		return 0
	}
	return terrain.Smoothstep(1 - d/radius)
}

// tickParams is the uniform block of one brush dispatch.
type tickParams struct {
	Tool      Tool
	Center    mgl32.Vec2
	Params    Params
	Constants Constants
	Seed      int64
}

type texelRule func(src *gpu.Snapshot, x, y int, h, f float32, u *tickParams) float32

var rules = map[Tool]texelRule{
	ToolRaise:   raiseRule,
	ToolLower:   raiseRule,
	ToolSmooth:  smoothRule,
	ToolFlatten: flattenRule,
	ToolErode:   erodeRule,
	ToolNoise:   noiseRule,
}

func raiseRule(_ *gpu.Snapshot, _, _ int, h, f float32, u *tickParams) float32 {
	s := u.Params.Strength
	if u.Tool == ToolLower {
		s = -s
	}
	return h + s*f*u.Constants.RaiseRate
}

func smoothRule(src *gpu.Snapshot, x, y int, h, f float32, u *tickParams) float32 {
	var sum float32
	for dy := -1; dy <= 1; dy++ {
		wy := float32(2 - dy*dy)
		for dx := -1; dx <= 1; dx++ {
			sum += src.At(x+dx, y+dy) * wy * float32(2-dx*dx)
		}
	}
	avg := sum / 16
	return h + (avg-h)*terrain.Clamp01(f*u.Params.Strength)
}

func flattenRule(_ *gpu.Snapshot, _, _ int, h, f float32, u *tickParams) float32 {
	w := terrain.Clamp01(f * u.Params.Strength * u.Constants.FlattenRate)
	return h + (u.Params.FlattenTarget-h)*w
}

func erodeRule(src *gpu.Snapshot, x, y int, h, f float32, u *tickParams) float32 {
	lo := min(src.At(x-1, y), src.At(x+1, y), src.At(x, y-1), src.At(x, y+1))
	if lo >= h {
		return h
	}
	return h - (h-lo)*terrain.Clamp01(f*u.Params.Strength*u.Constants.ErodeRate)
}

func noiseRule(_ *gpu.Snapshot, x, y int, h, f float32, u *tickParams) float32 {
	s := u.Params.NoiseScale
	n := gen.FractalValueNoise2(u.Seed, float32(x)*s, float32(y)*s, 3)
	return h + n*f*u.Params.Strength*u.Constants.NoiseRate
}

func kernelFor(rule texelRule) gpu.Kernel {
	return func(src *gpu.Snapshot, dst *terrain.Heightmap, rect terrain.Rect, params any) {
		u := params.(*tickParams)
		r := u.Params.Radius
		for y := rect.Y0; y < rect.Y1; y++ {
			for x := rect.X0; x < rect.X1; x++ {
				d := mgl32.Vec2{float32(x), float32(y)}.Sub(u.Center).Len()
				if d > r {
					continue
				}
				h := src.At(x, y)
				dst.Set(x, y, rule(src, x, y, h, Falloff(d, r), u))
			}
		}
	}
}

// Register creates one compute pipeline per tool on dev.
func Register(dev *gpu.Device) error {
	for _, t := range Tools {
		if err := dev.CreatePipeline(t.Pipeline(), kernelFor(rules[t])); err != nil {
			return err
		}
	}
	return nil
}

// Footprint is the texel rect a tick at center touches, clipped to a w×h world.
func Footprint(center mgl32.Vec2, radius float32, w, h int) terrain.Rect {
	return terrain.CircleRect(center.X(), center.Y(), radius).Intersect(terrain.Rect{X1: w, Y1: h})
}

func inWorld(c mgl32.Vec2, w, h int) bool {
	return c.X() >= 0 && c.Y() >= 0 && c.X() < float32(w) && c.Y() < float32(h) &&
		!math.IsNaN(float64(c.X())) && !math.IsNaN(float64(c.Y()))
}
