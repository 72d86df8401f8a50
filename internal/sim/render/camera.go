package render

import "github.com/go-gl/mathgl/mgl32"

const (
	DefaultCanvasWidth  = 1200
	DefaultCanvasHeight = 900
	MaxScale            = 50
)

// Camera maps world texels to screen pixels: screen = world·Scale + Translate.
type Camera struct {
	Translate mgl32.Vec2 `json:"translate"`
	Scale     float32    `json:"scale"`
	MinScale  float32    `json:"minScale"`
	Canvas    mgl32.Vec2 `json:"canvas"`
	World     mgl32.Vec2 `json:"world"`
}

func NewCamera(canvasW, canvasH int) Camera {
	if canvasW <= 0 || canvasH <= 0 {
		canvasW, canvasH = DefaultCanvasWidth, DefaultCanvasHeight
	}
	return Camera{Scale: 1, MinScale: 1, Canvas: mgl32.Vec2{float32(canvasW), float32(canvasH)}}
}

// FitWorld scales the world to fit the canvas and centers it. The fitted
// scale becomes the zoom-out limit.
func (c *Camera) FitWorld() {
	if c.World.X() <= 0 || c.World.Y() <= 0 {
		return
	}
	s := min(c.Canvas.X()/c.World.X(), c.Canvas.Y()/c.World.Y())
	c.Scale = s
	c.MinScale = min(s, MaxScale)
	c.Translate = c.Canvas.Sub(c.World.Mul(s)).Mul(0.5)
}

func (c *Camera) SetWorldSize(w, h int) {
	c.World = mgl32.Vec2{float32(w), float32(h)}
	c.FitWorld()
}

// SetCanvasSize resizes the canvas and refits the world.
func (c *Camera) SetCanvasSize(w, h int) {
	c.Canvas = mgl32.Vec2{float32(w), float32(h)}
	c.FitWorld()
}

func (c *Camera) ScreenToWorld(s mgl32.Vec2) mgl32.Vec2 {
	return s.Sub(c.Translate).Mul(1 / c.Scale)
}

func (c *Camera) WorldToScreen(w mgl32.Vec2) mgl32.Vec2 {
	return w.Mul(c.Scale).Add(c.Translate)
}

// ZoomAt multiplies the scale by factor, keeping the world point under the
// screen position s fixed.
func (c *Camera) ZoomAt(s mgl32.Vec2, factor float32) {
	if !(factor > 0) {
		return
	}
	anchor := c.ScreenToWorld(s)
	c.Scale = mgl32.Clamp(c.Scale*factor, c.MinScale, MaxScale)
	c.Translate = s.Sub(anchor.Mul(c.Scale))
	c.clamp()
}

// SetTransform overrides any of translate x, translate y and scale; nil keeps
// the current value. Scale is limited to the zoom range and the result is
// clamped like a pan.
func (c *Camera) SetTransform(tx, ty, scale *float32) {
	if scale != nil {
		c.Scale = mgl32.Clamp(*scale, c.MinScale, MaxScale)
	}
	if tx != nil {
		c.Translate[0] = *tx
	}
	if ty != nil {
		c.Translate[1] = *ty
	}
	c.clamp()
}

func (c *Camera) Pan(d mgl32.Vec2) {
	c.Translate = c.Translate.Add(d)
	c.clamp()
}

// clamp keeps at least half of the world (or half the canvas, if smaller) on screen.
func (c *Camera) clamp() {
	if c.World.X() <= 0 || c.World.Y() <= 0 {
		return
	}
	size := c.World.Mul(c.Scale)
	for i := 0; i < 2; i++ {
		margin := min(size[i]*0.5, c.Canvas[i]*0.5)
		c.Translate[i] = mgl32.Clamp(c.Translate[i], -(size[i] - margin), c.Canvas[i]-margin)
	}
}
