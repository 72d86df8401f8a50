package undo

import (
	"context"

	"worldweaver.app/internal/gpu"
	"worldweaver.app/internal/sim/terrain"
)

// TextureIO reads and writes a device texture through its queue, so captures
// and restores are ordered with brush dispatches.
type TextureIO struct {
	Queue *gpu.Queue
	Tex   *gpu.Texture
}

func (t TextureIO) ReadRect(ctx context.Context, r terrain.Rect) ([]float32, error) {
	return t.Queue.ReadTexture(ctx, t.Tex, r)
}

func (t TextureIO) WriteRect(ctx context.Context, r terrain.Rect, data []float32) error {
	f, err := t.Queue.WriteTexture(ctx, t.Tex, r, data)
	if err != nil {
		return err
	}
	return f.Wait(ctx)
}

// HeightmapIO adapts a host heightmap.
type HeightmapIO struct{ HM *terrain.Heightmap }

func (h HeightmapIO) ReadRect(_ context.Context, r terrain.Rect) ([]float32, error) {
	out := make([]float32, 0, r.Dx()*r.Dy())
	for y := r.Y0; y < r.Y1; y++ {
		out = append(out, h.HM.Data[h.HM.Index(r.X0, y):h.HM.Index(r.X1, y)]...)
	}
	return out, nil
}

func (h HeightmapIO) WriteRect(_ context.Context, r terrain.Rect, data []float32) error {
	for y := r.Y0; y < r.Y1; y++ {
		copy(h.HM.Data[h.HM.Index(r.X0, y):h.HM.Index(r.X1, y)], data[(y-r.Y0)*r.Dx():])
	}
	return nil
}
