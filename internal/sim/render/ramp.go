package render

import "github.com/go-gl/mathgl/mgl32"

type stop struct {
	at  float32
	rgb [3]uint8
}

// Hypsometric tint from deep ocean through lowland green to snow.
var stops = []stop{
	{0.00, [3]uint8{2, 20, 50}},
	{0.25, [3]uint8{4, 30, 66}},
	{0.35, [3]uint8{26, 84, 144}},
	{0.45, [3]uint8{43, 123, 185}},
	{0.48, [3]uint8{136, 201, 240}},
	{0.495, [3]uint8{200, 220, 235}},
	{0.50, [3]uint8{245, 230, 200}},
	{0.51, [3]uint8{225, 235, 190}},
	{0.54, [3]uint8{212, 231, 176}},
	{0.58, [3]uint8{184, 216, 139}},
	{0.65, [3]uint8{154, 199, 119}},
	{0.70, [3]uint8{135, 190, 105}},
	{0.75, [3]uint8{180, 170, 130}},
	{0.80, [3]uint8{170, 155, 120}},
	{0.85, [3]uint8{155, 140, 110}},
	{0.89, [3]uint8{140, 130, 105}},
	{0.92, [3]uint8{180, 175, 165}},
	{0.95, [3]uint8{212, 207, 201}},
	{0.98, [3]uint8{235, 232, 228}},
	{1.00, [3]uint8{255, 255, 255}},
}

// Ramp is the 256-entry color lookup, linear RGB in [0,1].
type Ramp [256]mgl32.Vec3

func BuildRamp() *Ramp {
	var r Ramp
	for i := range r {
		t := float32(i) / 255
		lo, hi := stops[0], stops[len(stops)-1]
		for j := 0; j+1 < len(stops); j++ {
			if t >= stops[j].at && t <= stops[j+1].at {
				lo, hi = stops[j], stops[j+1]
				break
			}
		}
		f := float32(0)
		if hi.at > lo.at {
			f = (t - lo.at) / (hi.at - lo.at)
		}
		for c := 0; c < 3; c++ {
			v := uint8(float32(lo.rgb[c])*(1-f) + float32(hi.rgb[c])*f + 0.5)
			r[i][c] = float32(v) / 255
		}
	}
	return &r
}

// Lookup indexes the ramp by a height clamped to [0,1].
func (r *Ramp) Lookup(h float32) mgl32.Vec3 {
	return r[int(mgl32.Clamp(h, 0, 1)*255+0.5)]
}
