package gen

import "math"

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func Hash2(seed int64, x, y int) uint64 {
	ux := uint64(uint32(int32(x)))
	uy := uint64(uint32(int32(y)))
	v := uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uy * 0xbf58476d1ce4e5b9)
	return mix64(v)
}

// unit maps a hash to [-1,1].
func unit(h uint64) float32 {
	return float32(h>>40)/float32(1<<23) - 1
}

// ValueNoise2 is smooth lattice value noise in [-1,1].
func ValueNoise2(seed int64, x, y float32) float32 {
	fx := float32(math.Floor(float64(x)))
	fy := float32(math.Floor(float64(y)))
	ix, iy := int(fx), int(fy)
	tx := fade(x - fx)
	ty := fade(y - fy)

	v00 := unit(Hash2(seed, ix, iy))
	v10 := unit(Hash2(seed, ix+1, iy))
	v01 := unit(Hash2(seed, ix, iy+1))
	v11 := unit(Hash2(seed, ix+1, iy+1))

	a := v00 + (v10-v00)*tx
	b := v01 + (v11-v01)*tx
	return a + (b-a)*ty
}

// FractalValueNoise2 sums octaves (lacunarity 2, gain 0.5) and renormalizes to [-1,1].
func FractalValueNoise2(seed int64, x, y float32, octaves int) float32 {
	if octaves < 1 {
		octaves = 1
	}
	var sum, norm float32
	amp := float32(1)
	for i := 0; i < octaves; i++ {
		sum += ValueNoise2(seed+int64(i)*1013, x, y) * amp
		norm += amp
		amp *= 0.5
		x *= 2
		y *= 2
	}
	return sum / norm
}

func fade(t float32) float32 {
	return t * t * (3 - 2*t)
}
