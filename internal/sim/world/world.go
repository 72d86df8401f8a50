// Package world owns the live terrain session: the device texture, the
// brush engine, undo history, camera and cached hydrology. All of that state
// is touched only from the Run goroutine; callers talk to it through the
// ctx-aware command methods.
package world

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"strings"
	"sync/atomic"

	"worldweaver.app/internal/gpu"
	"worldweaver.app/internal/persistence/worldfile"
	"worldweaver.app/internal/sim/brush"
	"worldweaver.app/internal/sim/render"
	"worldweaver.app/internal/sim/terrain"
	"worldweaver.app/internal/sim/terrain/hydrology"
	"worldweaver.app/internal/sim/tuning"
	"worldweaver.app/internal/sim/undo"
)

// ErrStopped is returned by command methods once Run has exited.
var ErrStopped = errors.New("world stopped")

type Config struct {
	Tuning tuning.Tuning

	// DataDir resolves relative save/load paths (under DataDir/worlds).
	DataDir string
	Logger  *log.Logger

	// Device is optional; when nil the World creates and owns one.
	Device *gpu.Device

	Journal CommandLogger
	Index   SaveRecorder

	// ArchiveKeep is how many overwritten versions of each world file are
	// kept under DataDir/archives. Zero disables archiving.
	ArchiveKeep int
}

type World struct {
	tun     tuning.Tuning
	dataDir string
	archive int
	logger  *log.Logger

	dev       *gpu.Device
	queue     *gpu.Queue
	ownDevice bool

	journal CommandLogger
	index   SaveRecorder

	// Loop-owned state.
	ctx      context.Context
	tex      *gpu.Texture
	cfg      terrain.Config
	worldID  string
	gen      uint64 // bumped on every terrain edit
	digest   string // heightmap digest at gen, "" when unknown
	flow     *hydrology.FlowField
	flowGen  uint64
	flowBusy bool
	failed   error

	brush     *brush.Engine
	undo      *undo.Stack
	pipe      *render.Pipeline
	lastFence *gpu.Fence
	stroke    terrain.Rect

	volcanoStamps uint64

	job    string
	jobReq *cmdReq

	subs       map[int]chan Event
	nextSub    int
	seq        uint64
	journalSeq uint64

	cmds     chan cmdReq
	jobDone  chan jobResult
	flowDone chan flowResult
	subReqs  chan subReq
	stop     chan struct{}
	done     chan struct{}
	stopOnce atomic.Bool

	status  atomic.Pointer[Status]
	metrics counters
}

type cmdReq struct {
	name     string
	mutating bool
	params   any

	// Exactly one of fn or job is set. fn runs on the loop; job prepares
	// work that runs off the loop and answers when it completes.
	fn  func() (any, error)
	job func() (*job, error)

	resp chan cmdResp
}

type cmdResp struct {
	result any
	err    error
}

func New(cfg Config) (*World, error) {
	if err := cfg.Tuning.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	t := cfg.Tuning

	dev := cfg.Device
	own := false
	if dev == nil {
		dev = gpu.NewDevice(gpu.Options{
			MaxTextureDimension: t.MaxTextureDimension,
			QueueDepth:          t.QueueDepth,
			Logger:              logger,
		})
		own = true
	}
	if err := brush.Register(dev); err != nil {
		if own {
			dev.Close()
		}
		return nil, err
	}

	w := &World{
		tun:       t,
		dataDir:   cfg.DataDir,
		archive:   cfg.ArchiveKeep,
		logger:    logger,
		dev:       dev,
		queue:     dev.Queue(),
		ownDevice: own,
		journal:   cfg.Journal,
		index:     cfg.Index,
		ctx:       context.Background(),

		brush: brush.NewEngine(dev.Queue(), t.Brush, int64(t.Terrain.Seed)),
		undo:  undo.New(t.UndoDepth, t.UndoTileSize),
		pipe:  render.NewPipeline(t.Render, t.CanvasWidth, t.CanvasHeight),

		subs: map[int]chan Event{},

		cmds:     make(chan cmdReq, 64),
		jobDone:  make(chan jobResult, 1),
		flowDone: make(chan flowResult, 1),
		subReqs:  make(chan subReq),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	w.publishStatus()
	return w, nil
}

// Run is the coordinator loop. It returns when ctx is done or Stop is called.
func (w *World) Run(ctx context.Context) error {
	w.ctx = ctx
	defer close(w.done)
	defer w.shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.cmds:
			w.handle(&req)
		case res := <-w.jobDone:
			w.finishJob(res)
		case res := <-w.flowDone:
			w.finishFlow(res)
		case req := <-w.subReqs:
			w.handleSub(req)
		}
		w.publishStatus()
	}
}

func (w *World) Stop() {
	if w.stopOnce.CompareAndSwap(false, true) {
		close(w.stop)
	}
}

// Done is closed once Run has returned.
func (w *World) Done() <-chan struct{} { return w.done }

func (w *World) shutdown() {
	if w.undo.InStroke() {
		w.endStroke()
	}
	for id, ch := range w.subs {
		close(ch)
		delete(w.subs, id)
	}
	if w.ownDevice {
		w.dev.Close()
	}
}

func (w *World) call(ctx context.Context, req cmdReq) (any, error) {
	req.resp = make(chan cmdResp, 1)
	select {
	case w.cmds <- req:
	case <-w.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-req.resp:
		return r.result, r.err
	case <-w.done:
		select {
		case r := <-req.resp:
			return r.result, r.err
		default:
			return nil, ErrStopped
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *World) handle(req *cmdReq) {
	w.metrics.commands.Add(1)
	if req.mutating {
		if err := w.admit(req.name); err != nil {
			w.respond(req, nil, err)
			return
		}
	}
	if req.job != nil {
		j, err := req.job()
		if err != nil {
			w.respond(req, nil, err)
			return
		}
		w.startJob(j, req)
		return
	}
	res, err := req.fn()
	w.respond(req, res, err)
}

// admit rejects mutating commands while a job runs or after a device failure.
func (w *World) admit(op string) error {
	if w.failed != nil {
		return w.failed
	}
	if w.job != "" {
		w.metrics.busyRejects.Add(1)
		return terrain.Busyf(op, "%s in progress", w.job)
	}
	return nil
}

func (w *World) respond(req *cmdReq, res any, err error) {
	w.noteFailure(err)
	if err != nil && terrain.KindOf(err) != terrain.KindBusy {
		w.logger.Printf("%s: %v", req.name, err)
	}
	if req.mutating {
		w.writeJournal(req, err)
	}
	select {
	case req.resp <- cmdResp{result: res, err: err}:
	default:
	}
}

// noteFailure latches the first device error; later mutating commands
// return it unchanged.
func (w *World) noteFailure(err error) {
	if err == nil || w.failed != nil || terrain.KindOf(err) != terrain.KindDevice {
		return
	}
	w.failed = err
	w.logger.Printf("device failure, world is read-only: %v", err)
	w.emit(Event{Kind: EventDeviceFailed, Message: err.Error()})
}

func (w *World) requireTerrain(op string) error {
	if w.tex == nil {
		return terrain.NoTerrain(op)
	}
	return nil
}

func (w *World) flowFresh() bool {
	return w.flow != nil && w.flowGen == w.gen
}

// resolvePath maps a relative path under DataDir/worlds and adds the
// world file extension when missing.
func (w *World) resolvePath(op, p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", terrain.Validationf(op, "path is empty")
	}
	if filepath.Ext(p) == "" {
		p += worldfile.Ext
	}
	if !filepath.IsAbs(p) && w.dataDir != "" {
		p = filepath.Join(w.dataDir, "worlds", p)
	}
	return filepath.Clean(p), nil
}

// Tuning is the immutable configuration the world was built with.
func (w *World) Tuning() tuning.Tuning { return w.tun }
