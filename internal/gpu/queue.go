package gpu

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"worldweaver.app/internal/sim/terrain"
)

// Dispatch runs Pipeline once over Rect of Target.
type Dispatch struct {
	Pipeline string
	Target   *Texture
	Rect     terrain.Rect
	Params   any
}

// Fence signals completion of one submission.
type Fence struct {
	done chan struct{}
	err  error
}

func newFence() *Fence { return &Fence{done: make(chan struct{})} }

func (f *Fence) signal(err error) {
	f.err = err
	close(f.done)
}

// Done is closed when the submission has executed or failed.
func (f *Fence) Done() <-chan struct{} { return f.done }

func (f *Fence) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type queueOp struct {
	fence *Fence
	run   func() error
}

type Queue struct {
	dev *Device
	ops chan queueOp

	closeOnce sync.Once
	stop      chan struct{}
	stopped   chan struct{}

	executed atomic.Uint64
}

func newQueue(d *Device, depth int) *Queue {
	q := &Queue{
		dev:     d,
		ops:     make(chan queueOp, depth),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go q.loop()
	return q
}

func (q *Queue) loop() {
	defer close(q.stopped)
	for {
		select {
		case op := <-q.ops:
			q.exec(op)
		case <-q.stop:
			for {
				select {
				case op := <-q.ops:
					op.fence.signal(terrain.DeviceErr("gpu.queue", ErrDeviceLost))
				default:
					return
				}
			}
		}
	}
}

func (q *Queue) exec(op queueOp) {
	if err := q.dev.Err(); err != nil {
		op.fence.signal(terrain.DeviceErr("gpu.queue", err))
		return
	}
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				lost := fmt.Errorf("%w: kernel panic: %v", ErrDeviceLost, r)
				q.dev.Lose(lost)
				err = terrain.DeviceErr("gpu.queue", lost)
			}
		}()
		return op.run()
	}()
	q.executed.Add(1)
	op.fence.signal(err)
}

func (q *Queue) close() {
	q.closeOnce.Do(func() {
		close(q.stop)
		<-q.stopped
	})
}

// Executed counts operations the queue has run.
func (q *Queue) Executed() uint64 { return q.executed.Load() }

func (q *Queue) submit(ctx context.Context, op string, run func() error) (*Fence, error) {
	if err := q.dev.Err(); err != nil {
		return nil, terrain.DeviceErr(op, err)
	}
	f := newFence()
	select {
	case q.ops <- queueOp{fence: f, run: run}:
		return f, nil
	case <-q.stop:
		return nil, terrain.DeviceErr(op, ErrDeviceLost)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *Queue) checkTexture(op string, t *Texture) error {
	if t == nil || t.dev != q.dev {
		return terrain.DeviceErr(op, fmt.Errorf("texture not owned by this device"))
	}
	return nil
}

// Submit enqueues a dispatch. The kernel sees a snapshot of Rect plus a
// one-texel apron taken when the dispatch executes.
func (q *Queue) Submit(ctx context.Context, d Dispatch) (*Fence, error) {
	const op = "gpu.submit"
	if err := q.checkTexture(op, d.Target); err != nil {
		return nil, err
	}
	k, err := q.dev.pipeline(d.Pipeline)
	if err != nil {
		return nil, terrain.DeviceErr(op, err)
	}
	rect := d.Rect.Intersect(d.Target.Bounds())
	return q.submit(ctx, op, func() error {
		if rect.Empty() {
			return nil
		}
		src := snapshot(d.Target.mem, rect.Inset(1).Intersect(d.Target.Bounds()))
		k(src, d.Target.mem, rect, d.Params)
		return nil
	})
}

// WriteTexture uploads data (row-major over rect) into the texture.
func (q *Queue) WriteTexture(ctx context.Context, t *Texture, rect terrain.Rect, data []float32) (*Fence, error) {
	const op = "gpu.write_texture"
	if err := q.checkTexture(op, t); err != nil {
		return nil, err
	}
	if rect.Intersect(t.Bounds()) != rect || len(data) != rect.Dx()*rect.Dy() {
		return nil, terrain.Validationf(op, "rect %+v with %d values does not fit %dx%d texture", rect, len(data), t.W, t.H)
	}
	buf := append([]float32(nil), data...)
	return q.submit(ctx, op, func() error {
		for y := rect.Y0; y < rect.Y1; y++ {
			row := buf[(y-rect.Y0)*rect.Dx() : (y-rect.Y0+1)*rect.Dx()]
			copy(t.mem.Data[t.mem.Index(rect.X0, y):t.mem.Index(rect.X1, y)], row)
		}
		return nil
	})
}

// Readback is a queued texture read. It observes exactly the submissions
// queued ahead of it, whoever waits on it and whenever.
type Readback struct {
	fence *Fence
	w, h  int
	data  []float32
}

// Wait blocks until the read has executed and returns the row-major data.
func (r *Readback) Wait(ctx context.Context) ([]float32, error) {
	if err := r.fence.Wait(ctx); err != nil {
		return nil, err
	}
	return r.data, nil
}

// Heightmap waits for a whole-texture read and wraps it as a heightmap.
func (r *Readback) Heightmap(ctx context.Context) (*terrain.Heightmap, error) {
	data, err := r.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return &terrain.Heightmap{W: r.w, H: r.h, Data: data}, nil
}

// EnqueueRead queues a copy of rect without waiting for it.
func (q *Queue) EnqueueRead(ctx context.Context, t *Texture, rect terrain.Rect) (*Readback, error) {
	const op = "gpu.read_texture"
	if err := q.checkTexture(op, t); err != nil {
		return nil, err
	}
	if rect.Intersect(t.Bounds()) != rect {
		return nil, terrain.Validationf(op, "rect %+v outside %dx%d texture", rect, t.W, t.H)
	}
	rb := &Readback{w: rect.Dx(), h: rect.Dy()}
	f, err := q.submit(ctx, op, func() error {
		rb.data = snapshot(t.mem, rect).data
		return nil
	})
	if err != nil {
		return nil, err
	}
	rb.fence = f
	return rb, nil
}

// EnqueueDownload queues a copy of the whole texture.
func (q *Queue) EnqueueDownload(ctx context.Context, t *Texture) (*Readback, error) {
	return q.EnqueueRead(ctx, t, t.Bounds())
}

// ReadTexture copies rect back to the host after all prior submissions.
func (q *Queue) ReadTexture(ctx context.Context, t *Texture, rect terrain.Rect) ([]float32, error) {
	rb, err := q.EnqueueRead(ctx, t, rect)
	if err != nil {
		return nil, err
	}
	return rb.Wait(ctx)
}

// Upload replaces the whole texture with hm.
func (q *Queue) Upload(ctx context.Context, t *Texture, hm *terrain.Heightmap) (*Fence, error) {
	if hm.W != t.W || hm.H != t.H {
		return nil, terrain.Validationf("gpu.upload", "heightmap %dx%d does not match texture %dx%d", hm.W, hm.H, t.W, t.H)
	}
	return q.WriteTexture(ctx, t, t.Bounds(), hm.Data)
}

// Download returns a host copy of the whole texture.
func (q *Queue) Download(ctx context.Context, t *Texture) (*terrain.Heightmap, error) {
	rb, err := q.EnqueueDownload(ctx, t)
	if err != nil {
		return nil, err
	}
	return rb.Heightmap(ctx)
}
