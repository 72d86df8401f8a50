package world

import (
	"context"
	"image"
	"math"

	"worldweaver.app/internal/gpu"
	"worldweaver.app/internal/sim/brush"
	"worldweaver.app/internal/sim/render"
	"worldweaver.app/internal/sim/terrain"
	"worldweaver.app/internal/sim/terrain/hydrology"
	"worldweaver.app/internal/sim/terrain/volcano"
)

func as[T any](v any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	out, _ := v.(T)
	return out, nil
}

// GenerateTerrain replaces the world with a freshly generated heightmap.
// Undo history is cleared and hydrology is recomputed in the background.
func (w *World) GenerateTerrain(ctx context.Context, cfg terrain.Config) (terrain.Summary, error) {
	return as[terrain.Summary](w.call(ctx, cmdReq{
		name: "generate_terrain", mutating: true, params: cfg,
		job: func() (*job, error) { return w.generateJob(cfg) },
	}))
}

func (w *World) LoadWorld(ctx context.Context, path string) (terrain.Summary, error) {
	return as[terrain.Summary](w.call(ctx, cmdReq{
		name: "load_world", mutating: true, params: map[string]string{"path": path},
		job: func() (*job, error) { return w.loadJob(path) },
	}))
}

func (w *World) SaveWorld(ctx context.Context, path string) (SaveResult, error) {
	return as[SaveResult](w.call(ctx, cmdReq{
		name: "save_world", mutating: true, params: map[string]string{"path": path},
		job: func() (*job, error) { return w.saveJob(path) },
	}))
}

func (w *World) GenerateVolcanoes(ctx context.Context, cfg volcano.Config) (VolcanoResult, error) {
	return as[VolcanoResult](w.call(ctx, cmdReq{
		name: "generate_volcanoes", mutating: true, params: cfg,
		job: func() (*job, error) { return w.volcanoJob(cfg) },
	}))
}

// SetActiveTool selects the brush; ToolNone disables editing. An open stroke
// is committed first so each undo entry belongs to one tool.
func (w *World) SetActiveTool(ctx context.Context, t brush.Tool) error {
	_, err := w.call(ctx, cmdReq{name: "set_active_tool", params: t, fn: func() (any, error) {
		if w.brush.ActiveTool() != t {
			w.endStroke()
		}
		w.brush.SetActiveTool(t)
		return nil, nil
	}})
	return err
}

func (w *World) SetBrushParams(ctx context.Context, patch brush.ParamsPatch) (brush.Params, error) {
	return as[brush.Params](w.call(ctx, cmdReq{name: "set_brush_params", params: patch, fn: func() (any, error) {
		p := patch.Apply(w.brush.Params())
		if err := w.brush.SetParams(p); err != nil {
			return nil, err
		}
		return p, nil
	}}))
}

func (w *World) BeginStroke(ctx context.Context, p Point) (terrain.Rect, error) {
	return as[terrain.Rect](w.call(ctx, cmdReq{name: "begin_stroke", mutating: true, params: p, fn: func() (any, error) {
		return w.beginStroke(p)
	}}))
}

// BrushTick applies the active tool once. Outside a stroke it opens one.
func (w *World) BrushTick(ctx context.Context, p Point) (terrain.Rect, error) {
	return as[terrain.Rect](w.call(ctx, cmdReq{name: "brush_tick", mutating: true, params: p, fn: func() (any, error) {
		return w.tick(p)
	}}))
}

// EndStroke commits the open stroke. It reports whether an undo entry was pushed.
func (w *World) EndStroke(ctx context.Context) (bool, error) {
	return as[bool](w.call(ctx, cmdReq{name: "end_stroke", mutating: true, fn: func() (any, error) {
		return w.endStroke(), nil
	}}))
}

// UndoStroke reverts the most recent stroke or volcano stamp. With nothing
// to undo it succeeds with Undone false.
func (w *World) UndoStroke(ctx context.Context) (UndoResult, error) {
	return as[UndoResult](w.call(ctx, cmdReq{name: "undo_stroke", mutating: true, fn: func() (any, error) {
		return w.undoStroke()
	}}))
}

func (w *World) ResetView(ctx context.Context) (render.Camera, error) {
	return w.view(ctx, "reset_view", nil, func() error {
		w.pipe.FitWorld()
		return nil
	})
}

func (w *World) SetCanvasSize(ctx context.Context, width, height int) (render.Camera, error) {
	return w.view(ctx, "set_canvas_size", [2]int{width, height}, func() error {
		return w.pipe.SetCanvasSize(width, height)
	})
}

func (w *World) ZoomAt(ctx context.Context, sx, sy, factor float32) (render.Camera, error) {
	return w.view(ctx, "zoom_at", [3]float32{sx, sy, factor}, func() error {
		if !(factor > 0) {
			return terrain.Validationf("zoom_at", "factor must be > 0, got %v", factor)
		}
		w.pipe.ZoomAt(sx, sy, factor)
		return nil
	})
}

// ViewTransform sets the camera directly; nil fields are left alone.
type ViewTransform struct {
	TranslateX *float32 `json:"translateX,omitempty"`
	TranslateY *float32 `json:"translateY,omitempty"`
	Scale      *float32 `json:"scale,omitempty"`
}

func (w *World) SetViewportTransform(ctx context.Context, t ViewTransform) (render.Camera, error) {
	return w.view(ctx, "set_viewport_transform", t, func() error {
		for _, v := range []*float32{t.TranslateX, t.TranslateY} {
			if v != nil && (math.IsNaN(float64(*v)) || math.IsInf(float64(*v), 0)) {
				return terrain.Validationf("set_viewport_transform", "translate must be finite, got %v", *v)
			}
		}
		if t.Scale != nil && !(*t.Scale > 0 && !math.IsInf(float64(*t.Scale), 0)) {
			return terrain.Validationf("set_viewport_transform", "scale must be > 0, got %v", *t.Scale)
		}
		w.pipe.SetTransform(t.TranslateX, t.TranslateY, t.Scale)
		return nil
	})
}

func (w *World) Pan(ctx context.Context, dx, dy float32) (render.Camera, error) {
	return w.view(ctx, "pan", [2]float32{dx, dy}, func() error {
		w.pipe.Pan(dx, dy)
		return nil
	})
}

func (w *World) view(ctx context.Context, name string, params any, apply func() error) (render.Camera, error) {
	return as[render.Camera](w.call(ctx, cmdReq{name: name, params: params, fn: func() (any, error) {
		if err := apply(); err != nil {
			return nil, err
		}
		return w.pipe.Camera(), nil
	}}))
}

// TerrainConfig returns the live world's config; ok is false before the
// first generate or load.
func (w *World) TerrainConfig(ctx context.Context) (cfg terrain.Config, ok bool, err error) {
	type reply struct {
		cfg terrain.Config
		ok  bool
	}
	r, err := as[reply](w.call(ctx, cmdReq{name: "get_terrain_config", fn: func() (any, error) {
		return reply{cfg: w.cfg, ok: w.tex != nil}, nil
	}}))
	return r.cfg, r.ok, err
}

func (w *World) Status(ctx context.Context) (Status, error) {
	return as[Status](w.call(ctx, cmdReq{name: "status", fn: func() (any, error) {
		return w.snapshotStatus(), nil
	}}))
}

type FrameOptions struct {
	HideUnderwater bool
}

// RenderFrame draws the current view. The heightmap read is queued from the
// loop, so it sees exactly the edits accepted before the call and the flow
// field is only overlaid when it was derived from that same state.
func (w *World) RenderFrame(ctx context.Context, opts FrameOptions) (*image.RGBA, error) {
	type frame struct {
		read *gpu.Readback
		flow *hydrology.FlowField
		u    render.Uniforms
	}
	f, err := as[frame](w.call(ctx, cmdReq{name: "render_frame", fn: func() (any, error) {
		if err := w.requireTerrain("render_frame"); err != nil {
			return nil, err
		}
		rb, err := w.queue.EnqueueDownload(w.ctx, w.tex)
		if err != nil {
			return nil, err
		}
		fr := frame{read: rb, u: w.pipe.Uniforms(w.cfg, false, opts.HideUnderwater)}
		if w.flowFresh() {
			fr.flow = w.flow
			fr.u.HasFlow = true
		}
		return fr, nil
	}}))
	if err != nil {
		return nil, err
	}
	hm, err := f.read.Heightmap(ctx)
	if err != nil {
		return nil, err
	}
	w.metrics.framesRendered.Add(1)
	return w.pipe.Render(hm, f.flow, f.u), nil
}

// Heightmap returns a host copy of the live heightmap as of the call.
func (w *World) Heightmap(ctx context.Context) (*terrain.Heightmap, error) {
	rb, err := as[*gpu.Readback](w.call(ctx, cmdReq{name: "read_heightmap", fn: func() (any, error) {
		if err := w.requireTerrain("read_heightmap"); err != nil {
			return nil, err
		}
		return w.queue.EnqueueDownload(w.ctx, w.tex)
	}}))
	if err != nil {
		return nil, err
	}
	return rb.Heightmap(ctx)
}
