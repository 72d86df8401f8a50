// Package gpu is the compute device the terrain engine runs on: single-channel
// float32 textures, named compute pipelines and one ordered queue.
//
// The backend executes kernels on the CPU. Everything submitted to a Queue runs
// on one goroutine in submission order, which gives the same ordering guarantees
// a hardware queue would.
package gpu

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"worldweaver.app/internal/sim/terrain"
)

var (
	ErrDeviceLost      = errors.New("device lost")
	ErrUnknownPipeline = errors.New("unknown pipeline")
)

type Limits struct {
	MaxTextureDimension int
}

type Options struct {
	MaxTextureDimension int
	// QueueDepth bounds submitted-but-not-executed work.
	QueueDepth int
	Logger     *log.Logger
}

// Kernel is a compute pipeline body. src holds the pre-dispatch values of
// rect plus a one-texel apron; kernels write only inside rect.
type Kernel func(src *Snapshot, dst *terrain.Heightmap, rect terrain.Rect, params any)

type Device struct {
	limits Limits
	logger *log.Logger

	mu        sync.RWMutex
	pipelines map[string]Kernel
	lostErr   error
	nextTexID int

	queue *Queue
}

func NewDevice(opts Options) *Device {
	if opts.MaxTextureDimension <= 0 {
		opts.MaxTextureDimension = terrain.DefaultMaxTextureDimension
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 256
	}
	d := &Device{
		limits:    Limits{MaxTextureDimension: opts.MaxTextureDimension},
		logger:    opts.Logger,
		pipelines: map[string]Kernel{},
	}
	d.queue = newQueue(d, opts.QueueDepth)
	return d
}

func (d *Device) Limits() Limits { return d.limits }
func (d *Device) Queue() *Queue  { return d.queue }

// CreatePipeline registers a kernel under name. Re-registering replaces it.
func (d *Device) CreatePipeline(name string, k Kernel) error {
	if name == "" || k == nil {
		return terrain.DeviceErr("gpu.create_pipeline", fmt.Errorf("invalid pipeline %q", name))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lostErr != nil {
		return terrain.DeviceErr("gpu.create_pipeline", d.lostErr)
	}
	d.pipelines[name] = k
	return nil
}

func (d *Device) pipeline(name string) (Kernel, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.lostErr != nil {
		return nil, d.lostErr
	}
	k, ok := d.pipelines[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPipeline, name)
	}
	return k, nil
}

// CreateTexture allocates a zeroed w×h texture.
func (d *Device) CreateTexture(w, h int) (*Texture, error) {
	const op = "gpu.create_texture"
	if w < 1 || h < 1 || w > d.limits.MaxTextureDimension || h > d.limits.MaxTextureDimension {
		return nil, terrain.Validationf(op, "size %dx%d outside [1,%d]", w, h, d.limits.MaxTextureDimension)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lostErr != nil {
		return nil, terrain.DeviceErr(op, d.lostErr)
	}
	d.nextTexID++
	return &Texture{ID: d.nextTexID, W: w, H: h, mem: terrain.NewHeightmap(w, h), dev: d}, nil
}

// Err is non-nil once the device is lost or closed.
func (d *Device) Err() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lostErr
}

// Lose marks the device unusable. Pending and future work fails.
func (d *Device) Lose(reason error) {
	if reason == nil {
		reason = ErrDeviceLost
	}
	d.mu.Lock()
	first := d.lostErr == nil
	if first {
		d.lostErr = reason
	}
	d.mu.Unlock()
	if first && d.logger != nil {
		d.logger.Printf("device lost: %v", reason)
	}
}

// Close releases the queue goroutine.
func (d *Device) Close() {
	d.Lose(fmt.Errorf("%w: closed", ErrDeviceLost))
	d.queue.close()
}

// Texture is device-resident R32F storage.
type Texture struct {
	ID   int
	W, H int

	// Only the queue goroutine touches mem.
	mem *terrain.Heightmap
	dev *Device
}

func (t *Texture) Bounds() terrain.Rect { return terrain.Rect{X1: t.W, Y1: t.H} }

// Snapshot is a read-only copy of a texture region.
type Snapshot struct {
	Rect       terrain.Rect
	texW, texH int
	data       []float32
}

func snapshot(hm *terrain.Heightmap, r terrain.Rect) *Snapshot {
	s := &Snapshot{Rect: r, texW: hm.W, texH: hm.H, data: make([]float32, r.Dx()*r.Dy())}
	for y := r.Y0; y < r.Y1; y++ {
		copy(s.data[(y-r.Y0)*r.Dx():(y-r.Y0+1)*r.Dx()], hm.Data[hm.Index(r.X0, y):hm.Index(r.X1, y)])
	}
	return s
}

// At reads (x,y) with edge clamping to the texture, then to the snapshot.
func (s *Snapshot) At(x, y int) float32 {
	x = terrain.ClampInt(terrain.ClampInt(x, 0, s.texW-1), s.Rect.X0, s.Rect.X1-1)
	y = terrain.ClampInt(terrain.ClampInt(y, 0, s.texH-1), s.Rect.Y0, s.Rect.Y1-1)
	return s.data[(x-s.Rect.X0)+(y-s.Rect.Y0)*s.Rect.Dx()]
}
