// Package hydrology derives a flow-accumulation field (rivers) from a heightmap.
package hydrology

import (
	"math"
	"sort"

	"worldweaver.app/internal/sim/terrain"
)

// RiverThreshold is the normalized flow above which the renderer draws water.
const RiverThreshold = 0.15

// FlowField is normalized upstream drainage area in [0,1], same shape as its heightmap.
type FlowField struct {
	W, H   int
	Values []float32

	// Digest of the heightmap this field was derived from.
	Source string
}

func (f *FlowField) At(x, y int) float32 { return f.Values[x+y*f.W] }

// Matches reports whether f was derived from hm's current contents.
func (f *FlowField) Matches(hm *terrain.Heightmap) bool {
	return f != nil && hm != nil && f.W == hm.W && f.H == hm.H && f.Source == hm.Digest()
}

var neighbors = [8]struct {
	dx, dy int
	dist   float32
}{
	{-1, -1, math.Sqrt2}, {0, -1, 1}, {1, -1, math.Sqrt2},
	{-1, 0, 1}, {1, 0, 1},
	{-1, 1, math.Sqrt2}, {0, 1, 1}, {1, 1, math.Sqrt2},
}

// Downhill returns the D8 receiver of every cell (its own index for sinks).
func Downhill(hm *terrain.Heightmap) []int32 {
	recv := make([]int32, len(hm.Data))
	for y := 0; y < hm.H; y++ {
		for x := 0; x < hm.W; x++ {
			i := hm.Index(x, y)
			cur := hm.Data[i]
			best := int32(i)
			var bestSlope float32
			for _, n := range neighbors {
				nx, ny := x+n.dx, y+n.dy
				if !hm.InBounds(nx, ny) {
					continue
				}
				j := hm.Index(nx, ny)
				drop := cur - hm.Data[j]
				if drop <= 0 {
					continue
				}
				if slope := drop / n.dist; slope > bestSlope {
					bestSlope = slope
					best = int32(j)
				}
			}
			recv[i] = best
		}
	}
	return recv
}

// Recompute runs D8 steepest-descent flow accumulation over the whole grid.
func Recompute(hm *terrain.Heightmap) *FlowField {
	n := len(hm.Data)
	recv := Downhill(hm)

	// Highest first; ties by index keep the order stable across runs.
	order := make([]int32, n)
	for i := range order {
		order[i] = int32(i)
	}
	sort.SliceStable(order, func(a, b int) bool {
		return hm.Data[order[a]] > hm.Data[order[b]]
	})

	acc := make([]uint32, n)
	for i := range acc {
		acc[i] = 1
	}
	for _, i := range order {
		if dst := recv[i]; dst != i {
			acc[dst] += acc[i]
		}
	}

	var maxAcc uint32 = 1
	for _, a := range acc {
		if a > maxAcc {
			maxAcc = a
		}
	}
	norm := math.Sqrt(float64(maxAcc))

	out := &FlowField{W: hm.W, H: hm.H, Values: make([]float32, n), Source: hm.Digest()}
	if maxAcc == 1 {
		// Nothing drains anywhere.
		return out
	}
	for i, a := range acc {
		out.Values[i] = terrain.Clamp01(float32(math.Sqrt(float64(a)) / norm))
	}
	return out
}
