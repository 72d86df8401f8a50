// Package biome classifies heightmap texels by elevation and a latitude proxy.
package biome

import (
	"sort"

	"worldweaver.app/internal/sim/terrain"
)

type Biome uint8

const (
	DeepOcean Biome = iota
	ShallowSea
	Beach
	Grassland
	Shrubland
	Savanna
	TropicalRainforest
	TemperateForest
	BorealForest
	Tundra
	Snow
	Desert
	Mountain
	HighMountain

	numBiomes
)

var names = [numBiomes]string{
	"deep_ocean", "shallow_sea", "beach", "grassland", "shrubland", "savanna",
	"tropical_rainforest", "temperate_forest", "boreal_forest", "tundra", "snow",
	"desert", "mountain", "high_mountain",
}

func (b Biome) String() string {
	if b < numBiomes {
		return names[b]
	}
	return "unknown"
}

func (b Biome) IsWater() bool { return b == DeepOcean || b == ShallowSea }

// ClassifyTexel maps a height and the texel's row fraction (0 = north edge) to a biome.
func ClassifyTexel(h, seaLevel, yFrac float32) Biome {
	lat := yFrac - 0.5
	if lat < 0 {
		lat = -lat
	}
	lat *= 2 // 0 at the equator, 1 at the poles

	switch {
	case h < seaLevel-0.1:
		return DeepOcean
	case h < seaLevel:
		return ShallowSea
	case h < seaLevel+0.02:
		return Beach
	}

	above := float32(1)
	if seaLevel < 1 {
		above = (h - seaLevel) / (1 - seaLevel)
	}
	if above > 0.85 {
		return HighMountain
	}
	if above > 0.65 {
		if lat > 0.6 {
			return Snow
		}
		return Mountain
	}

	switch {
	case lat > 0.75:
		if above > 0.3 {
			return Snow
		}
		return Tundra
	case lat > 0.55:
		return BorealForest
	case lat > 0.35:
		if above > 0.4 {
			return Mountain
		}
		return TemperateForest
	case lat > 0.15:
		return Shrubland
	case above < 0.25:
		return TropicalRainforest
	case above < 0.5:
		return Savanna
	default:
		return Mountain
	}
}

// Classify returns one biome per texel.
func Classify(hm *terrain.Heightmap, seaLevel float32) []Biome {
	out := make([]Biome, len(hm.Data))
	for y := 0; y < hm.H; y++ {
		yFrac := float32(y) / float32(hm.H)
		row := y * hm.W
		for x := 0; x < hm.W; x++ {
			out[row+x] = ClassifyTexel(hm.Data[row+x], seaLevel, yFrac)
		}
	}
	return out
}

// Share is a biome's fraction of the map.
type Share struct {
	Biome    Biome   `json:"-"`
	Name     string  `json:"name"`
	Fraction float64 `json:"fraction"`
}

// Coverage summarizes a classification.
type Coverage struct {
	LandFraction float64 `json:"land_fraction"`
	Dominant     string  `json:"dominant_biome"`
	// Shares lists the biomes present, largest first.
	Shares []Share `json:"shares"`
}

func Summarize(biomes []Biome) Coverage {
	var counts [numBiomes]int
	for _, b := range biomes {
		if b < numBiomes {
			counts[b]++
		}
	}
	total := float64(len(biomes))
	if total == 0 {
		return Coverage{}
	}

	var cov Coverage
	land := 0
	for b, n := range counts {
		if n == 0 {
			continue
		}
		if !Biome(b).IsWater() {
			land += n
		}
		cov.Shares = append(cov.Shares, Share{Biome: Biome(b), Name: Biome(b).String(), Fraction: float64(n) / total})
	}
	sort.SliceStable(cov.Shares, func(i, j int) bool { return cov.Shares[i].Fraction > cov.Shares[j].Fraction })
	cov.LandFraction = float64(land) / total
	if len(cov.Shares) > 0 {
		cov.Dominant = cov.Shares[0].Name
	}
	return cov
}
