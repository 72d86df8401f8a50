package gpu

import (
	"context"
	"errors"
	"testing"
	"time"

	"worldweaver.app/internal/sim/terrain"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// addKernel adds params.(float32) to every texel in rect.
func addKernel(src *Snapshot, dst *terrain.Heightmap, rect terrain.Rect, params any) {
	d := params.(float32)
	for y := rect.Y0; y < rect.Y1; y++ {
		for x := rect.X0; x < rect.X1; x++ {
			dst.Set(x, y, src.At(x, y)+d)
		}
	}
}

// blurKernel averages each texel with its left neighbor.
func blurKernel(src *Snapshot, dst *terrain.Heightmap, rect terrain.Rect, _ any) {
	for y := rect.Y0; y < rect.Y1; y++ {
		for x := rect.X0; x < rect.X1; x++ {
			dst.Set(x, y, (src.At(x-1, y)+src.At(x, y))/2)
		}
	}
}

func TestQueue_OrderedDispatches(t *testing.T) {
	ctx := testCtx(t)
	dev := NewDevice(Options{})
	defer dev.Close()
	if err := dev.CreatePipeline("add", addKernel); err != nil {
		t.Fatalf("CreatePipeline: %v", err)
	}
	tex, err := dev.CreateTexture(8, 8)
	if err != nil {
		t.Fatalf("CreateTexture: %v", err)
	}
	q := dev.Queue()
	var last *Fence
	for i := 0; i < 10; i++ {
		last, err = q.Submit(ctx, Dispatch{Pipeline: "add", Target: tex, Rect: terrain.Rect{X0: 2, Y0: 2, X1: 4, Y1: 4}, Params: float32(0.125)})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	if err := last.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	hm, err := q.Download(ctx, tex)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if got := hm.At(2, 2); got != 1 {
		t.Fatalf("texel in rect should saturate at 1, got %v", got)
	}
	if got := hm.At(4, 4); got != 0 {
		t.Fatalf("texel outside rect changed: %v", got)
	}
	if q.Executed() < 11 {
		t.Fatalf("expected at least 11 executed ops, got %d", q.Executed())
	}
}

func TestQueue_KernelReadsPreDispatchState(t *testing.T) {
	ctx := testCtx(t)
	dev := NewDevice(Options{})
	defer dev.Close()
	_ = dev.CreatePipeline("blur", blurKernel)
	tex, _ := dev.CreateTexture(4, 1)
	q := dev.Queue()
	if _, err := q.WriteTexture(ctx, tex, tex.Bounds(), []float32{1, 0, 0, 0}); err != nil {
		t.Fatalf("WriteTexture: %v", err)
	}
	f, err := q.Submit(ctx, Dispatch{Pipeline: "blur", Target: tex, Rect: terrain.Rect{X0: 1, Y0: 0, X1: 4, Y1: 1}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := f.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	got, err := q.ReadTexture(ctx, tex, tex.Bounds())
	if err != nil {
		t.Fatalf("ReadTexture: %v", err)
	}
	want := []float32{1, 0.5, 0, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("texel %d: got %v want %v (kernel observed its own writes?)", i, got[i], want[i])
		}
	}
}

func TestQueue_ReadbackPinnedToSubmissionOrder(t *testing.T) {
	ctx := testCtx(t)
	dev := NewDevice(Options{})
	defer dev.Close()
	gate := make(chan struct{})
	release := func() {
		select {
		case <-gate:
		default:
			close(gate)
		}
	}
	defer release()
	_ = dev.CreatePipeline("gate", func(*Snapshot, *terrain.Heightmap, terrain.Rect, any) { <-gate })
	_ = dev.CreatePipeline("add", addKernel)
	tex, _ := dev.CreateTexture(4, 4)
	q := dev.Queue()

	if _, err := q.Submit(ctx, Dispatch{Pipeline: "gate", Target: tex, Rect: tex.Bounds()}); err != nil {
		t.Fatalf("Submit gate: %v", err)
	}
	rb, err := q.EnqueueDownload(ctx, tex)
	if err != nil {
		t.Fatalf("EnqueueDownload: %v", err)
	}
	// Queued after the read; the read must not observe it even though it is
	// waited on only afterwards.
	later, err := q.Submit(ctx, Dispatch{Pipeline: "add", Target: tex, Rect: tex.Bounds(), Params: float32(0.5)})
	if err != nil {
		t.Fatalf("Submit add: %v", err)
	}
	release()
	if err := later.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	hm, err := rb.Heightmap(ctx)
	if err != nil {
		t.Fatalf("Heightmap: %v", err)
	}
	if hm.W != 4 || hm.H != 4 || hm.At(1, 1) != 0 {
		t.Fatalf("readback saw a later dispatch: %dx%d at(1,1)=%v", hm.W, hm.H, hm.At(1, 1))
	}
	now, err := q.Download(ctx, tex)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if now.At(1, 1) != 0.5 {
		t.Fatalf("later dispatch did not run: %v", now.At(1, 1))
	}
}

func TestQueue_UnknownPipeline(t *testing.T) {
	dev := NewDevice(Options{})
	defer dev.Close()
	tex, _ := dev.CreateTexture(2, 2)
	_, err := dev.Queue().Submit(testCtx(t), Dispatch{Pipeline: "nope", Target: tex, Rect: tex.Bounds()})
	if !errors.Is(err, terrain.ErrDevice) || !errors.Is(err, ErrUnknownPipeline) {
		t.Fatalf("expected device error for unknown pipeline, got %v", err)
	}
}

func TestDevice_LostRejectsWork(t *testing.T) {
	dev := NewDevice(Options{})
	defer dev.Close()
	tex, _ := dev.CreateTexture(2, 2)
	dev.Lose(nil)
	if _, err := dev.Queue().ReadTexture(testCtx(t), tex, tex.Bounds()); !errors.Is(err, terrain.ErrDevice) {
		t.Fatalf("expected device error after loss, got %v", err)
	}
	if _, err := dev.CreateTexture(2, 2); !errors.Is(err, terrain.ErrDevice) {
		t.Fatalf("expected device error creating texture after loss, got %v", err)
	}
}

func TestDevice_KernelPanicLosesDevice(t *testing.T) {
	ctx := testCtx(t)
	dev := NewDevice(Options{})
	defer dev.Close()
	_ = dev.CreatePipeline("boom", func(*Snapshot, *terrain.Heightmap, terrain.Rect, any) { panic("bad kernel") })
	tex, _ := dev.CreateTexture(2, 2)
	f, err := dev.Queue().Submit(ctx, Dispatch{Pipeline: "boom", Target: tex, Rect: tex.Bounds()})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := f.Wait(ctx); !errors.Is(err, ErrDeviceLost) {
		t.Fatalf("expected lost device from panicking kernel, got %v", err)
	}
	if dev.Err() == nil {
		t.Fatalf("device should be marked lost")
	}
}

func TestCreateTexture_Limits(t *testing.T) {
	dev := NewDevice(Options{MaxTextureDimension: 64})
	defer dev.Close()
	if _, err := dev.CreateTexture(65, 1); !errors.Is(err, terrain.ErrValidation) {
		t.Fatalf("expected validation error above the limit, got %v", err)
	}
	if dev.Limits().MaxTextureDimension != 64 {
		t.Fatalf("unexpected limits %+v", dev.Limits())
	}
}
