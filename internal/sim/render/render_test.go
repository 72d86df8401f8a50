package render

import (
	"bytes"
	"image/png"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"worldweaver.app/internal/sim/terrain"
	"worldweaver.app/internal/sim/terrain/hydrology"
)

func near(a, b, eps float32) bool { return float32(math.Abs(float64(a-b))) <= eps }

func TestRampEndpoints(t *testing.T) {
	r := BuildRamp()
	if got := r.Lookup(0); got != (mgl32.Vec3{2.0 / 255, 20.0 / 255, 50.0 / 255}) {
		t.Fatalf("ramp[0]: got %v", got)
	}
	if got := r.Lookup(1); got != (mgl32.Vec3{1, 1, 1}) {
		t.Fatalf("ramp[255]: got %v", got)
	}
	if r.Lookup(-3) != r.Lookup(0) || r.Lookup(7) != r.Lookup(1) {
		t.Fatalf("lookup should clamp out-of-range heights")
	}
}

func TestCameraFitAndZoom(t *testing.T) {
	c := NewCamera(1200, 900)
	c.SetWorldSize(256, 256)
	if !near(c.Scale, 900.0/256, 1e-6) || c.MinScale != c.Scale {
		t.Fatalf("fit scale: got %v min %v", c.Scale, c.MinScale)
	}
	if !near(c.Translate.X(), 150, 1e-4) || !near(c.Translate.Y(), 0, 1e-4) {
		t.Fatalf("fit translate: got %v", c.Translate)
	}

	cursor := mgl32.Vec2{600, 450}
	anchor := c.ScreenToWorld(cursor)
	c.ZoomAt(cursor, 2)
	if !near(c.Scale, 2*900.0/256, 1e-5) {
		t.Fatalf("zoomed scale: got %v", c.Scale)
	}
	if got := c.ScreenToWorld(cursor); !near(got.X(), anchor.X(), 1e-3) || !near(got.Y(), anchor.Y(), 1e-3) {
		t.Fatalf("zoom should keep the cursor point fixed: %v vs %v", got, anchor)
	}

	c.ZoomAt(cursor, 1000)
	if c.Scale != MaxScale {
		t.Fatalf("zoom in should clamp to %v, got %v", float32(MaxScale), c.Scale)
	}
	c.ZoomAt(cursor, 1e-6)
	if c.Scale != c.MinScale {
		t.Fatalf("zoom out should clamp to the fitted scale, got %v", c.Scale)
	}
}

func TestCameraPanKeepsWorldVisible(t *testing.T) {
	c := NewCamera(400, 400)
	c.SetWorldSize(100, 100)
	c.Pan(mgl32.Vec2{1e6, -1e6})
	lo := c.WorldToScreen(mgl32.Vec2{0, 0})
	hi := c.WorldToScreen(mgl32.Vec2{100, 100})
	if lo.X() >= 400 || hi.Y() <= 0 {
		t.Fatalf("pan pushed the world off screen: %v..%v", lo, hi)
	}
}

func TestCameraSetTransform(t *testing.T) {
	c := NewCamera(400, 400)
	c.SetWorldSize(100, 100)
	scale, tx := float32(8), float32(-50)
	c.SetTransform(&tx, nil, &scale)
	if c.Scale != 8 || c.Translate.X() != -50 || c.Translate.Y() != 0 {
		t.Fatalf("after transform: %+v", c)
	}
	big := float32(1e6)
	c.SetTransform(nil, nil, &big)
	if c.Scale != MaxScale {
		t.Fatalf("scale should clamp to %v, got %v", MaxScale, c.Scale)
	}
	far := float32(1e9)
	c.SetTransform(&far, nil, nil)
	if lo := c.WorldToScreen(mgl32.Vec2{0, 0}); lo.X() >= 400 {
		t.Fatalf("translate pushed the world off screen: %v", lo)
	}
}

func TestContourPeriodicity(t *testing.T) {
	k := DefaultConstants()
	cases := []struct{ maxElev, interval float32 }{
		{1, 0.1},
		{250, 25},
		{4000, 100},
		{8848, 200},
		{12000, 50},
	}
	// Offsets are fractions of one interval; the contour band is 0.04 wide on each side.
	offsets := map[float32]bool{0.01: true, 0.1: false, 0.3: false, 0.5: false, 0.8: false, 0.99: true}
	for _, c := range cases {
		bands := int(c.maxElev / c.interval)
		for n := 0; n < bands; n += max(1, bands/7) {
			for off, want := range offsets {
				h := (float32(n) + off) * c.interval / c.maxElev
				if got := k.IsContour(h, c.maxElev, c.interval); got != want {
					t.Fatalf("maxElev=%v interval=%v band=%d offset=%v: contour=%v want %v", c.maxElev, c.interval, n, off, got, want)
				}
			}
		}
		if k.IsContour(0.5, c.maxElev, 0) {
			t.Fatalf("zero interval disables contours")
		}
	}
}

func TestSeaLevelConsistency(t *testing.T) {
	hm := terrain.NewHeightmap(16, 16)
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			hm.Set(x, y, float32(x)/15)
		}
	}
	p := NewPipeline(DefaultConstants(), 16, 16)
	p.SetWorldSize(16, 16)
	cfg := terrain.DefaultConfig()
	cfg.SeaLevel = 0.4
	cfg.ContourInterval = 0

	u := p.Uniforms(cfg, false, true)
	sun := SunDir(u.SunAzimuth, 45)
	for x := 0; x < 16; x++ {
		c := p.ShadeTexel(hm, nil, x, 8, u, sun)
		under := hm.At(x, 8) < 0.4
		if under != (c == WaterTint) {
			t.Fatalf("texel x=%d h=%v: underwater=%v but color %v", x, hm.At(x, 8), under, c)
		}
	}

	u = p.Uniforms(cfg, false, false)
	for x := 0; x < 6; x++ {
		c := p.ShadeTexel(hm, nil, x, 8, u, sun)
		if c.Z() <= c.X() {
			t.Fatalf("underwater texel x=%d should be blue-dominated: %v", x, c)
		}
	}

	// A saturated flow field draws rivers on land only.
	flow := &hydrology.FlowField{W: 16, H: 16, Values: make([]float32, 16*16)}
	for i := range flow.Values {
		flow.Values[i] = 1
	}
	plain := p.Uniforms(cfg, false, false)
	rivers := p.Uniforms(cfg, true, false)
	for x := 0; x < 16; x++ {
		without := p.ShadeTexel(hm, nil, x, 8, plain, sun)
		with := p.ShadeTexel(hm, flow, x, 8, rivers, sun)
		if hm.At(x, 8) < 0.4 {
			if with != without {
				t.Fatalf("underwater texel x=%d shows the river overlay: %v vs %v", x, with, without)
			}
		} else if with == without {
			t.Fatalf("land texel x=%d should show the river overlay", x)
		}
	}
}

func TestRiverWeight(t *testing.T) {
	k := DefaultConstants()
	if k.RiverWeight(0.15) != 0 || k.RiverWeight(0) != 0 {
		t.Fatalf("no river at or below the threshold")
	}
	if got := k.RiverWeight(1); got != k.RiverMaxBlend {
		t.Fatalf("full flow weight: got %v", got)
	}
	if a, b := k.RiverWeight(0.2), k.RiverWeight(0.4); !(a > 0 && a < b) {
		t.Fatalf("weight should grow with flow: %v %v", a, b)
	}
}

func TestWaterBlendCaps(t *testing.T) {
	k := DefaultConstants()
	if got := k.WaterBlend(0, 0.4); !near(got, 0.35, 1e-6) {
		t.Fatalf("blend at the shoreline: %v", got)
	}
	if got := k.WaterBlend(0.4, 0.4); got != k.MaxWaterBlend {
		t.Fatalf("deep water should cap at %v, got %v", k.MaxWaterBlend, got)
	}
}

func TestShadeFacesSun(t *testing.T) {
	k := DefaultConstants()
	sun := SunDir(315, 45)
	flat := k.Shade(mgl32.Vec3{0, 0, 1}, sun)
	if !near(flat, 0.35+0.65*float32(math.Sin(math.Pi/4)), 1e-5) {
		t.Fatalf("flat ground shade: %v", flat)
	}
	if got := k.Shade(sun.Mul(-1), sun); got != k.ShadeFloor {
		t.Fatalf("face away from the sun should hit the floor, got %v", got)
	}
}

func TestRenderFrame(t *testing.T) {
	hm := terrain.NewHeightmap(20, 20)
	for i := range hm.Data {
		hm.Data[i] = 0.7
	}
	flow := hydrology.Recompute(hm)
	p := NewPipeline(DefaultConstants(), 0, 0)
	p.SetWorldSize(20, 20)
	if err := p.SetCanvasSize(40, 20); err != nil {
		t.Fatalf("SetCanvasSize: %v", err)
	}
	cfg := terrain.DefaultConfig()
	img := p.Render(hm, flow, p.Uniforms(cfg, true, false))
	if img.Bounds().Dx() != 40 || img.Bounds().Dy() != 20 {
		t.Fatalf("frame size %v", img.Bounds())
	}
	if got := img.RGBAAt(0, 0); got != toRGBA(Background) {
		t.Fatalf("letterbox pixel should be background, got %v", got)
	}
	if got := img.RGBAAt(20, 10); got == toRGBA(Background) {
		t.Fatalf("world pixel rendered as background")
	}

	var buf bytes.Buffer
	if err := EncodePNG(&buf, Thumbnail(img, 10)); err != nil {
		t.Fatalf("EncodePNG: %v", err)
	}
	dec, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := dec.Bounds(); b.Dx() != 10 || b.Dy() != 5 {
		t.Fatalf("thumbnail size %v", b)
	}

	if err := p.SetCanvasSize(0, 10); err == nil {
		t.Fatalf("zero canvas should be rejected")
	}
}
