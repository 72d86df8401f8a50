package terrain

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
)

// Heightmap is a W×H row-major grid of normalized heights in [0,1].
type Heightmap struct {
	W, H int
	Data []float32
}

func NewHeightmap(w, h int) *Heightmap {
	return &Heightmap{W: w, H: h, Data: make([]float32, w*h)}
}

func (m *Heightmap) Index(x, y int) int { return x + y*m.W }

func (m *Heightmap) InBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < m.W && y < m.H
}

func (m *Heightmap) At(x, y int) float32 { return m.Data[m.Index(x, y)] }

// AtClamped samples with clamp-to-edge addressing.
func (m *Heightmap) AtClamped(x, y int) float32 {
	return m.Data[m.Index(ClampInt(x, 0, m.W-1), ClampInt(y, 0, m.H-1))]
}

func (m *Heightmap) Set(x, y int, v float32) { m.Data[m.Index(x, y)] = Clamp01(v) }

func (m *Heightmap) Bounds() Rect { return Rect{X0: 0, Y0: 0, X1: m.W, Y1: m.H} }

func (m *Heightmap) Clone() *Heightmap {
	out := &Heightmap{W: m.W, H: m.H, Data: make([]float32, len(m.Data))}
	copy(out.Data, m.Data)
	return out
}

// ClampAll forces every texel into [0,1]; NaN becomes 0.
func (m *Heightmap) ClampAll() {
	for i, v := range m.Data {
		m.Data[i] = Clamp01(v)
	}
}

// Digest is the sha256 of the little-endian float32 bit patterns.
func (m *Heightmap) Digest() string {
	h := sha256.New()
	var tmp [4]byte
	for _, v := range m.Data {
		binary.LittleEndian.PutUint32(tmp[:], math.Float32bits(v))
		h.Write(tmp[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Equal reports bit-identical contents.
func (m *Heightmap) Equal(o *Heightmap) bool {
	if m == nil || o == nil {
		return m == o
	}
	if m.W != o.W || m.H != o.H || len(m.Data) != len(o.Data) {
		return false
	}
	for i := range m.Data {
		if math.Float32bits(m.Data[i]) != math.Float32bits(o.Data[i]) {
			return false
		}
	}
	return true
}

// Rect is a half-open texel rectangle [X0,X1)×[Y0,Y1).
type Rect struct {
	X0, Y0, X1, Y1 int
}

func (r Rect) Empty() bool { return r.X1 <= r.X0 || r.Y1 <= r.Y0 }
func (r Rect) Dx() int     { return r.X1 - r.X0 }
func (r Rect) Dy() int     { return r.Y1 - r.Y0 }

func (r Rect) Intersect(o Rect) Rect {
	out := Rect{
		X0: max(r.X0, o.X0),
		Y0: max(r.Y0, o.Y0),
		X1: min(r.X1, o.X1),
		Y1: min(r.Y1, o.Y1),
	}
	if out.Empty() {
		return Rect{}
	}
	return out
}

func (r Rect) Union(o Rect) Rect {
	if r.Empty() {
		return o
	}
	if o.Empty() {
		return r
	}
	return Rect{
		X0: min(r.X0, o.X0),
		Y0: min(r.Y0, o.Y0),
		X1: max(r.X1, o.X1),
		Y1: max(r.Y1, o.Y1),
	}
}

func (r Rect) Inset(n int) Rect {
	return Rect{X0: r.X0 - n, Y0: r.Y0 - n, X1: r.X1 + n, Y1: r.Y1 + n}
}

// CircleRect is the texel bounding box of a disc, before clipping.
func CircleRect(cx, cy, radius float32) Rect {
	return Rect{
		X0: int(math.Floor(float64(cx - radius))),
		Y0: int(math.Floor(float64(cy - radius))),
		X1: int(math.Ceil(float64(cx+radius))) + 1,
		Y1: int(math.Ceil(float64(cy+radius))) + 1,
	}
}

// Summary is what generate/load report back to the caller.
type Summary struct {
	WorldWidth  int     `json:"worldWidth"`
	WorldHeight int     `json:"worldHeight"`
	SeaLevel    float32 `json:"seaLevel"`
}

func Clamp01(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v >= 0 {
		return v
	}
	// Negative or NaN.
	return 0
}

func ClampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Smoothstep is the cubic Hermite t²(3−2t) on t already in [0,1].
func Smoothstep(t float32) float32 {
	return t * t * (3 - 2*t)
}
