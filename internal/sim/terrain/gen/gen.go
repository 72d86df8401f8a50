package gen

import (
	"math"
	"runtime"
	"sync"

	"github.com/aquilax/go-perlin"

	"worldweaver.app/internal/sim/terrain"
)

// DefaultErosionRate is the fraction of the drop to the lowest 4-neighbor removed per pass.
const DefaultErosionRate = 0.1

type Options struct {
	// IslandMask fades the map edges toward 0.8·seaLevel.
	IslandMask  bool
	ErosionRate float32
	Workers     int
}

func (o Options) normalized() Options {
	if o.ErosionRate <= 0 {
		o.ErosionRate = DefaultErosionRate
	}
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	return o
}

// Generate builds the initial heightmap. cfg must already be validated.
func Generate(cfg terrain.Config, opts Options) (*terrain.Heightmap, terrain.Summary) {
	opts = opts.normalized()
	w, h := cfg.WorldWidth, cfg.WorldHeight
	hm := terrain.NewHeightmap(w, h)

	// go-perlin: octave i is divided by alpha^i and sampled at beta^i.
	alpha := 1 / cfg.Persistence
	seed := int64(cfg.Seed)
	noise := perlin.NewPerlin(alpha, cfg.Lacunarity, int32(cfg.Octaves), seed)

	// Keep the integer lattice (where Perlin is 0) off texel 0.
	off := Hash2(seed, 0x5eed, 0x0ff5)
	ox := float64(off&0xffff)/65536.0*256 + 0.5
	oy := float64((off>>16)&0xffff)/65536.0*256 + 0.5

	rows := make(chan int, h)
	for y := 0; y < h; y++ {
		rows <- y
	}
	close(rows)

	var wg sync.WaitGroup
	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for y := range rows {
				ny := float64(y)/float64(h)*cfg.Frequency + oy
				base := y * w
				for x := 0; x < w; x++ {
					nx := float64(x)/float64(w)*cfg.Frequency + ox
					hm.Data[base+x] = float32(noise.Noise2D(nx, ny) * cfg.Amplitude)
				}
			}
		}()
	}
	wg.Wait()

	normalize(hm.Data)
	if opts.IslandMask {
		applyIslandMask(hm, cfg.SeaLevel)
	}
	Erode(hm, cfg.ErosionPasses, opts.ErosionRate)

	return hm, cfg.Summary()
}

func normalize(data []float32) {
	lo := float32(math.Inf(1))
	hi := float32(math.Inf(-1))
	for _, v := range data {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	span := hi - lo
	if !(span > 0) {
		for i := range data {
			data[i] = 0.5
		}
		return
	}
	for i, v := range data {
		data[i] = terrain.Clamp01((v - lo) / span)
	}
}

func applyIslandMask(hm *terrain.Heightmap, seaLevel float32) {
	for y := 0; y < hm.H; y++ {
		for x := 0; x < hm.W; x++ {
			nx := float64(x)/float64(hm.W) - 0.5
			ny := float64(y)/float64(hm.H) - 0.5
			dist := math.Sqrt(nx*nx+ny*ny) * 2
			mask := float32(math.Pow(math.Max(1-dist, 0), 1.5))
			i := hm.Index(x, y)
			hm.Data[i] = terrain.Clamp01(hm.Data[i]*mask + seaLevel*0.8*(1-mask))
		}
	}
}

// Erode runs full-grid passes moving each cell toward its lowest 4-neighbor.
// Each pass reads the previous pass's result, so the outcome is order independent.
func Erode(hm *terrain.Heightmap, passes int, rate float32) {
	if passes <= 0 {
		return
	}
	src := make([]float32, len(hm.Data))
	for p := 0; p < passes; p++ {
		copy(src, hm.Data)
		for y := 0; y < hm.H; y++ {
			for x := 0; x < hm.W; x++ {
				i := hm.Index(x, y)
				cur := src[i]
				lowest := min(
					src[hm.Index(max(x-1, 0), y)],
					src[hm.Index(min(x+1, hm.W-1), y)],
					src[hm.Index(x, max(y-1, 0))],
					src[hm.Index(x, min(y+1, hm.H-1))],
				)
				if lowest < cur {
					cur -= (cur - lowest) * rate
				}
				hm.Data[i] = terrain.Clamp01(cur)
			}
		}
	}
}
