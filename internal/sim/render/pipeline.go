// Package render turns a heightmap into a shaded, colored relief frame.
package render

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io"
	"runtime"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/image/draw"

	"worldweaver.app/internal/sim/terrain"
	"worldweaver.app/internal/sim/terrain/hydrology"
)

type Pipeline struct {
	consts  Constants
	ramp    *Ramp
	cam     Camera
	workers int
}

func NewPipeline(consts Constants, canvasW, canvasH int) *Pipeline {
	return &Pipeline{
		consts:  consts,
		ramp:    BuildRamp(),
		cam:     NewCamera(canvasW, canvasH),
		workers: runtime.GOMAXPROCS(0),
	}
}

func (p *Pipeline) Constants() Constants { return p.consts }
func (p *Pipeline) Camera() Camera       { return p.cam }
func (p *Pipeline) Ramp() *Ramp          { return p.ramp }

func (p *Pipeline) SetWorldSize(w, h int) { p.cam.SetWorldSize(w, h) }

// SetCanvasSize resizes the canvas and refits the world.
func (p *Pipeline) SetCanvasSize(w, h int) error {
	if w <= 0 || h <= 0 || w > terrain.DefaultMaxTextureDimension || h > terrain.DefaultMaxTextureDimension {
		return terrain.Validationf("render.canvas", "canvas %dx%d out of range", w, h)
	}
	p.cam.SetCanvasSize(w, h)
	return nil
}

func (p *Pipeline) FitWorld() { p.cam.FitWorld() }

func (p *Pipeline) ZoomAt(sx, sy, factor float32) {
	p.cam.ZoomAt(mgl32.Vec2{sx, sy}, factor)
}

func (p *Pipeline) SetTransform(tx, ty, scale *float32) {
	p.cam.SetTransform(tx, ty, scale)
}

func (p *Pipeline) Pan(dx, dy float32) {
	p.cam.Pan(mgl32.Vec2{dx, dy})
}

func (p *Pipeline) ScreenToWorld(sx, sy float32) mgl32.Vec2 {
	return p.cam.ScreenToWorld(mgl32.Vec2{sx, sy})
}

// Uniforms builds the frame uniforms for the current camera and world config.
func (p *Pipeline) Uniforms(cfg terrain.Config, hasFlow, hideUnderwater bool) Uniforms {
	return Uniforms{
		Translate:       p.cam.Translate,
		Scale:           p.cam.Scale,
		CanvasSize:      p.cam.Canvas,
		WorldSize:       p.cam.World,
		SeaLevel:        cfg.SeaLevel,
		MaxElevation:    cfg.MaxElevation,
		ContourInterval: cfg.ContourInterval,
		HasFlow:         hasFlow,
		HideUnderwater:  hideUnderwater,
		SunAzimuth:      cfg.SunAzimuth,
	}
}

// Normal is the surface normal at (x,y) from an edge-clamped 3×3 Sobel
// gradient, with heights scaled by relief.
func Normal(hm *terrain.Heightmap, x, y int, relief float32) mgl32.Vec3 {
	h := func(dx, dy int) float32 { return hm.AtClamped(x+dx, y+dy) }
	gx := (h(1, -1) + 2*h(1, 0) + h(1, 1)) - (h(-1, -1) + 2*h(-1, 0) + h(-1, 1))
	gy := (h(-1, 1) + 2*h(0, 1) + h(1, 1)) - (h(-1, -1) + 2*h(0, -1) + h(1, -1))
	return mgl32.Vec3{-gx / 8 * relief, -gy / 8 * relief, 1}.Normalize()
}

// ShadeTexel is the final linear color of world texel (x,y).
func (p *Pipeline) ShadeTexel(hm *terrain.Heightmap, flow *hydrology.FlowField, x, y int, u Uniforms, sun mgl32.Vec3) mgl32.Vec3 {
	k := p.consts
	h := hm.At(x, y)
	under := IsUnderwater(h, u.SeaLevel)
	if under && u.HideUnderwater {
		return WaterTint
	}

	relief := float32(1)
	if k.ReliefScale > 0 {
		relief = u.MaxElevation / k.ReliefScale
	}
	c := p.ramp.Lookup(h).Mul(k.Shade(Normal(hm, x, y, relief), sun))

	if u.HasFlow && flow != nil && !under {
		if w := k.RiverWeight(flow.At(x, y)); w > 0 {
			c = mix(c, RiverColor, w)
		}
	}
	if k.IsContour(h, u.MaxElevation, u.ContourInterval) {
		c = c.Mul(k.ContourDarken)
	}
	if under {
		c = mix(c, WaterTint, k.WaterBlend(u.SeaLevel-h, u.SeaLevel))
	}
	return c
}

// Render draws one frame. flow may be nil; u.HasFlow must only be set when
// flow was derived from hm.
func (p *Pipeline) Render(hm *terrain.Heightmap, flow *hydrology.FlowField, u Uniforms) *image.RGBA {
	w, h := int(u.CanvasSize.X()), int(u.CanvasSize.Y())
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	if flow != nil && (flow.W != hm.W || flow.H != hm.H) {
		u.HasFlow = false
	}
	sun := SunDir(u.SunAzimuth, p.consts.SunAltitude)
	bg := toRGBA(Background)

	rows := make(chan int, h)
	for y := 0; y < h; y++ {
		rows <- y
	}
	close(rows)

	workers := max(1, min(p.workers, h))
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for sy := range rows {
				for sx := 0; sx < w; sx++ {
					// Sample at the pixel center.
					wp := mgl32.Vec2{float32(sx) + 0.5, float32(sy) + 0.5}.Sub(u.Translate).Mul(1 / u.Scale)
					if wp.X() < 0 || wp.Y() < 0 || wp.X() >= float32(hm.W) || wp.Y() >= float32(hm.H) {
						img.SetRGBA(sx, sy, bg)
						continue
					}
					c := p.ShadeTexel(hm, flow, int(wp.X()), int(wp.Y()), u, sun)
					img.SetRGBA(sx, sy, toRGBA(c))
				}
			}
		}()
	}
	wg.Wait()
	return img
}

func toRGBA(c mgl32.Vec3) color.RGBA {
	ch := func(v float32) uint8 { return uint8(mgl32.Clamp(v, 0, 1)*255 + 0.5) }
	return color.RGBA{R: ch(c[0]), G: ch(c[1]), B: ch(c[2]), A: 255}
}

// Thumbnail downsamples img so its longer side is at most maxSide.
func Thumbnail(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	if maxSide <= 0 || (b.Dx() <= maxSide && b.Dy() <= maxSide) {
		return img
	}
	w, h := maxSide, maxSide
	if b.Dx() > b.Dy() {
		h = max(1, b.Dy()*maxSide/b.Dx())
	} else {
		w = max(1, b.Dx()*maxSide/b.Dy())
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func EncodePNG(w io.Writer, img image.Image) error {
	return png.Encode(w, img)
}

func PNGBytes(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodePNG(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
