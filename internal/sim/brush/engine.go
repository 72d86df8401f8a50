package brush

import (
	"context"

	"github.com/go-gl/mathgl/mgl32"

	"worldweaver.app/internal/gpu"
	"worldweaver.app/internal/sim/terrain"
)

// CaptureFunc is called with a tick's footprint before it is dispatched.
type CaptureFunc func(ctx context.Context, r terrain.Rect) error

// Engine turns brush ticks into compute dispatches against one texture.
// It is not safe for concurrent use.
type Engine struct {
	queue   *gpu.Queue
	tex     *gpu.Texture
	capture CaptureFunc

	tool   Tool
	params Params
	consts Constants
	seed   int64
}

func NewEngine(q *gpu.Queue, consts Constants, seed int64) *Engine {
	return &Engine{queue: q, params: DefaultParams(), consts: consts, seed: seed}
}

// Bind points the engine at the current world texture.
func (e *Engine) Bind(tex *gpu.Texture, capture CaptureFunc) {
	e.tex = tex
	e.capture = capture
}

func (e *Engine) SetSeed(seed int64)  { e.seed = seed }
func (e *Engine) SetActiveTool(t Tool) { e.tool = t }
func (e *Engine) ActiveTool() Tool     { return e.tool }
func (e *Engine) Params() Params       { return e.params }

func (e *Engine) SetParams(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	e.params = p
	return nil
}

// ApplyTick dispatches the active tool once at center (world texels).
// Ticks with no active tool or outside the world return an empty rect and nil fence.
func (e *Engine) ApplyTick(ctx context.Context, center mgl32.Vec2) (terrain.Rect, *gpu.Fence, error) {
	if e.tex == nil {
		return terrain.Rect{}, nil, terrain.NoTerrain("brush.tick")
	}
	if e.tool == ToolNone || !inWorld(center, e.tex.W, e.tex.H) {
		return terrain.Rect{}, nil, nil
	}
	rect := Footprint(center, e.params.Radius, e.tex.W, e.tex.H)
	if rect.Empty() {
		return rect, nil, nil
	}
	if e.capture != nil {
		if err := e.capture(ctx, rect); err != nil {
			return terrain.Rect{}, nil, err
		}
	}
	f, err := e.queue.Submit(ctx, gpu.Dispatch{
		Pipeline: e.tool.Pipeline(),
		Target:   e.tex,
		Rect:     rect,
		Params: &tickParams{
			Tool:      e.tool,
			Center:    center,
			Params:    e.params,
			Constants: e.consts,
			Seed:      e.seed,
		},
	})
	if err != nil {
		return terrain.Rect{}, nil, err
	}
	return rect, f, nil
}
