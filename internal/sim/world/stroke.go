package world

import (
	"context"

	"github.com/go-gl/mathgl/mgl32"

	"worldweaver.app/internal/sim/terrain"
	"worldweaver.app/internal/sim/undo"
)

// Point is a brush position in canvas pixels, or world texels when World is set.
type Point struct {
	X, Y  float32
	World bool
}

func (w *World) textureIO() undo.TextureIO {
	return undo.TextureIO{Queue: w.queue, Tex: w.tex}
}

// capture is the brush engine's pre-dispatch hook.
func (w *World) capture(ctx context.Context, r terrain.Rect) error {
	return w.undo.Capture(ctx, w.textureIO(), r)
}

func (w *World) toWorld(p Point) mgl32.Vec2 {
	if p.World {
		return mgl32.Vec2{p.X, p.Y}
	}
	return w.pipe.ScreenToWorld(p.X, p.Y)
}

func (w *World) beginStroke(p Point) (terrain.Rect, error) {
	if err := w.requireTerrain("begin_stroke"); err != nil {
		return terrain.Rect{}, err
	}
	w.endStroke()
	w.undo.BeginStroke("brush:" + w.brush.ActiveTool().String())
	w.stroke = terrain.Rect{}
	return w.tick(p)
}

func (w *World) tick(p Point) (terrain.Rect, error) {
	if err := w.requireTerrain("brush_tick"); err != nil {
		return terrain.Rect{}, err
	}
	if !w.undo.InStroke() {
		w.undo.BeginStroke("brush:" + w.brush.ActiveTool().String())
		w.stroke = terrain.Rect{}
	}
	rect, fence, err := w.brush.ApplyTick(w.ctx, w.toWorld(p))
	if err != nil {
		return terrain.Rect{}, err
	}
	if fence != nil {
		w.lastFence = fence
		w.gen++
		w.digest = ""
		w.stroke = w.stroke.Union(rect)
	}
	return rect, nil
}

// endStroke waits for the stroke's dispatches and pushes its undo entry.
// It reports whether an entry was pushed.
func (w *World) endStroke() bool {
	if !w.undo.InStroke() {
		return false
	}
	if f := w.lastFence; f != nil {
		w.lastFence = nil
		if err := f.Wait(w.ctx); err != nil {
			w.noteFailure(err)
			w.logger.Printf("end_stroke: %v", err)
		}
	}
	e, ok := w.undo.Commit()
	if !ok {
		return false
	}
	w.metrics.strokes.Add(1)
	rect := w.stroke
	w.stroke = terrain.Rect{}
	w.emit(Event{Kind: EventStrokeCommitted, Rect: &rect, Message: e.Label})
	w.scheduleFlow()
	return true
}

type UndoResult struct {
	Undone bool          `json:"undone"`
	Label  string        `json:"label,omitempty"`
	Rect   *terrain.Rect `json:"rect,omitempty"`
}

func (w *World) undoStroke() (UndoResult, error) {
	if w.tex == nil {
		return UndoResult{}, nil
	}
	w.endStroke()
	e, ok, err := w.undo.Undo(w.ctx, w.textureIO())
	if err != nil {
		return UndoResult{}, err
	}
	if !ok {
		return UndoResult{}, nil
	}
	w.metrics.undos.Add(1)
	w.gen++
	w.digest = ""
	rect := e.Bounds()
	w.emit(Event{Kind: EventUndo, Rect: &rect, Message: e.Label})
	w.scheduleFlow()
	return UndoResult{Undone: true, Label: e.Label, Rect: &rect}, nil
}
