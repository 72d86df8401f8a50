package undo

import (
	"context"
	"errors"
	"testing"

	"worldweaver.app/internal/sim/terrain"
)

func noisy(w, h int) *terrain.Heightmap {
	hm := terrain.NewHeightmap(w, h)
	for i := range hm.Data {
		hm.Data[i] = float32((i*7919)%1000) / 999
	}
	return hm
}

func paint(hm *terrain.Heightmap, r terrain.Rect, v float32) {
	for y := r.Y0; y < r.Y1; y++ {
		for x := r.X0; x < r.X1; x++ {
			hm.Set(x, y, v)
		}
	}
}

func TestUndoRestoresExactly(t *testing.T) {
	ctx := context.Background()
	hm := noisy(100, 70)
	orig := hm.Clone()
	io := HeightmapIO{HM: hm}

	s := New(DefaultDepth, DefaultTileSize)
	s.Reset(hm.W, hm.H)
	s.BeginStroke("raise")
	for _, r := range []terrain.Rect{{X0: 10, Y0: 10, X1: 40, Y1: 20}, {X0: 30, Y0: 15, X1: 90, Y1: 69}} {
		if err := s.Capture(ctx, io, r); err != nil {
			t.Fatalf("Capture: %v", err)
		}
		paint(hm, r, 1)
	}
	e, ok := s.Commit()
	if !ok || s.Len() != 1 {
		t.Fatalf("Commit: ok=%v len=%d", ok, s.Len())
	}
	if e.Size() == 0 || e.Label != "raise" {
		t.Fatalf("unexpected entry %+v", e)
	}

	got, ok, err := s.Undo(ctx, io)
	if err != nil || !ok {
		t.Fatalf("Undo: ok=%v err=%v", ok, err)
	}
	if !hm.Equal(orig) {
		t.Fatalf("undo did not restore the heightmap bit-exactly")
	}
	if b := got.Bounds(); b.X0 != 0 || b.Y0 != 0 || b.X1 != 96 || b.Y1 != 70 {
		t.Fatalf("unexpected undo bounds %+v", b)
	}
	if s.Len() != 0 {
		t.Fatalf("stack should be empty after undo, len=%d", s.Len())
	}
}

func TestUndoEmptyIsNotAnError(t *testing.T) {
	s := New(3, 8)
	s.Reset(16, 16)
	_, ok, err := s.Undo(context.Background(), HeightmapIO{HM: terrain.NewHeightmap(16, 16)})
	if ok || err != nil {
		t.Fatalf("empty undo: ok=%v err=%v", ok, err)
	}
}

func TestEmptyStrokeIsNotPushed(t *testing.T) {
	s := New(3, 8)
	s.Reset(16, 16)
	s.BeginStroke("noop")
	if err := s.Capture(context.Background(), HeightmapIO{HM: terrain.NewHeightmap(16, 16)}, terrain.Rect{X0: 20, Y0: 20, X1: 30, Y1: 30}); err != nil {
		t.Fatalf("Capture outside the world: %v", err)
	}
	if _, ok := s.Commit(); ok || s.Len() != 0 {
		t.Fatalf("empty stroke should not be pushed")
	}
}

func TestDepthIsBounded(t *testing.T) {
	ctx := context.Background()
	hm := terrain.NewHeightmap(16, 16)
	io := HeightmapIO{HM: hm}
	s := New(3, 8)
	s.Reset(16, 16)
	for i := 1; i <= 5; i++ {
		s.BeginStroke("paint")
		if err := s.Capture(ctx, io, hm.Bounds()); err != nil {
			t.Fatalf("Capture: %v", err)
		}
		paint(hm, hm.Bounds(), float32(i)/10)
		s.Commit()
	}
	if s.Len() != 3 {
		t.Fatalf("depth: got %d want 3", s.Len())
	}
	undone := 0
	for {
		_, ok, err := s.Undo(ctx, io)
		if err != nil {
			t.Fatalf("Undo: %v", err)
		}
		if !ok {
			break
		}
		undone++
	}
	if undone != 3 {
		t.Fatalf("undone: got %d want 3", undone)
	}
	// The oldest two strokes were evicted, so we stop at the state after stroke 2.
	if got := hm.At(5, 5); got != 0.2 {
		t.Fatalf("after exhausting history: got %v want 0.2", got)
	}
}

func TestCaptureOutsideStroke(t *testing.T) {
	s := New(3, 8)
	s.Reset(8, 8)
	if err := s.Capture(context.Background(), HeightmapIO{HM: terrain.NewHeightmap(8, 8)}, terrain.Rect{X1: 4, Y1: 4}); err == nil {
		t.Fatalf("capture without BeginStroke should fail")
	}
}

func TestCaptureKeepsFirstCopy(t *testing.T) {
	ctx := context.Background()
	hm := terrain.NewHeightmap(8, 8)
	io := HeightmapIO{HM: hm}
	s := New(3, 8)
	s.Reset(8, 8)
	s.BeginStroke("twice")
	r := terrain.Rect{X0: 2, Y0: 2, X1: 4, Y1: 4}
	_ = s.Capture(ctx, io, r)
	paint(hm, r, 0.5)
	_ = s.Capture(ctx, io, r)
	paint(hm, r, 0.9)
	s.Commit()
	if _, ok, _ := s.Undo(ctx, io); !ok {
		t.Fatalf("expected an entry")
	}
	if hm.At(3, 3) != 0 {
		t.Fatalf("undo should restore the pre-stroke value, got %v", hm.At(3, 3))
	}
}

// flakySink fails its nth write and passes every other one through.
type flakySink struct {
	HeightmapIO
	n, writes int
}

var errSink = errors.New("sink failed")

func (f *flakySink) WriteRect(ctx context.Context, r terrain.Rect, data []float32) error {
	f.writes++
	if f.writes == f.n {
		return errSink
	}
	return f.HeightmapIO.WriteRect(ctx, r, data)
}

func strokeAcross(t *testing.T, s *Stack, hm *terrain.Heightmap) {
	t.Helper()
	s.Reset(hm.W, hm.H)
	s.BeginStroke("wide")
	r := terrain.Rect{X0: 0, Y0: 0, X1: 24, Y1: 8}
	if err := s.Capture(context.Background(), HeightmapIO{HM: hm}, r); err != nil {
		t.Fatalf("Capture: %v", err)
	}
	paint(hm, r, 1)
	if e, ok := s.Commit(); !ok || len(e.tiles) != 3 {
		t.Fatalf("expected a three tile entry")
	}
}

func TestUndoWriteFailureKeepsEntryForRetry(t *testing.T) {
	ctx := context.Background()
	hm := noisy(24, 8)
	orig := hm.Clone()
	s := New(3, 8)
	strokeAcross(t, s, hm)

	if _, ok, err := s.Undo(ctx, &flakySink{HeightmapIO: HeightmapIO{HM: hm}, n: 2}); ok || !errors.Is(err, errSink) {
		t.Fatalf("Undo with failing sink: ok=%v err=%v", ok, err)
	}
	if s.Len() != 1 {
		t.Fatalf("failed undo should keep the entry, len=%d", s.Len())
	}
	if _, ok, err := s.Undo(ctx, HeightmapIO{HM: hm}); !ok || err != nil {
		t.Fatalf("retry: ok=%v err=%v", ok, err)
	}
	if !hm.Equal(orig) || s.Len() != 0 {
		t.Fatalf("retry should finish the restore")
	}
}

func TestUndoCorruptTileWritesNothing(t *testing.T) {
	ctx := context.Background()
	hm := noisy(24, 8)
	s := New(3, 8)
	strokeAcross(t, s, hm)
	edited := hm.Clone()

	s.entries[0].tiles[2].blob = []byte("not zstd")
	sink := &flakySink{HeightmapIO: HeightmapIO{HM: hm}}
	if _, ok, err := s.Undo(ctx, sink); ok || err == nil {
		t.Fatalf("corrupt tile: ok=%v err=%v", ok, err)
	}
	if sink.writes != 0 || !hm.Equal(edited) {
		t.Fatalf("corrupt entry should leave the heightmap untouched, writes=%d", sink.writes)
	}
}
