package world

import (
	"context"
	"sync/atomic"
	"time"

	"worldweaver.app/internal/sim/brush"
	"worldweaver.app/internal/sim/render"
	"worldweaver.app/internal/sim/terrain"
)

type EventKind string

const (
	EventGenerated       EventKind = "generated"
	EventLoaded          EventKind = "loaded"
	EventSaved           EventKind = "saved"
	EventStrokeCommitted EventKind = "stroke_committed"
	EventUndo            EventKind = "undo"
	EventVolcanoes       EventKind = "volcanoes"
	EventFlowUpdated     EventKind = "flow_updated"
	EventBusy            EventKind = "busy"
	EventIdle            EventKind = "idle"
	EventDeviceFailed    EventKind = "device_failed"
)

type Event struct {
	Seq     uint64           `json:"seq"`
	Kind    EventKind        `json:"kind"`
	At      time.Time        `json:"at"`
	Job     string           `json:"job,omitempty"`
	WorldID string           `json:"worldId,omitempty"`
	Rect    *terrain.Rect    `json:"rect,omitempty"`
	Summary *terrain.Summary `json:"summary,omitempty"`
	Path    string           `json:"path,omitempty"`
	Message string           `json:"message,omitempty"`
}

type subReq struct {
	buf    int
	cancel int // >0 unsubscribes that id
	resp   chan subResp
}

type subResp struct {
	id int
	ch <-chan Event
}

// Subscribe registers an observer. Delivery never blocks the world: when the
// channel is full the oldest pending event is dropped. The channel is closed
// by cancel or when the world stops.
func (w *World) Subscribe(ctx context.Context, buf int) (<-chan Event, func(), error) {
	if buf < 1 {
		buf = 1
	}
	req := subReq{buf: buf, resp: make(chan subResp, 1)}
	select {
	case w.subReqs <- req:
	case <-w.done:
		return nil, nil, ErrStopped
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
	var r subResp
	select {
	case r = <-req.resp:
	case <-w.done:
		return nil, nil, ErrStopped
	}
	cancel := func() {
		select {
		case w.subReqs <- subReq{cancel: r.id, resp: make(chan subResp, 1)}:
		case <-w.done:
		}
	}
	return r.ch, cancel, nil
}

func (w *World) handleSub(req subReq) {
	if req.cancel > 0 {
		if ch, ok := w.subs[req.cancel]; ok {
			close(ch)
			delete(w.subs, req.cancel)
		}
		req.resp <- subResp{}
		return
	}
	w.nextSub++
	ch := make(chan Event, req.buf)
	w.subs[w.nextSub] = ch
	req.resp <- subResp{id: w.nextSub, ch: ch}
}

func (w *World) emit(ev Event) {
	w.seq++
	ev.Seq = w.seq
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	if ev.WorldID == "" {
		ev.WorldID = w.worldID
	}
	for _, ch := range w.subs {
		sendLatest(ch, ev)
	}
}

func sendLatest[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	// Drop one oldest queued item.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

type Status struct {
	Busy       bool             `json:"busy"`
	Job        string           `json:"job,omitempty"`
	HasTerrain bool             `json:"hasTerrain"`
	FlowStale  bool             `json:"flowStale"`
	UndoDepth  int              `json:"undoDepth"`
	InStroke   bool             `json:"inStroke"`
	Tool       brush.Tool       `json:"tool"`
	Params     brush.Params     `json:"params"`
	WorldID    string           `json:"worldId,omitempty"`
	World      *terrain.Summary `json:"world,omitempty"`
	Digest     string           `json:"digest,omitempty"`
	Camera     render.Camera    `json:"camera"`
	Failed     string           `json:"failed,omitempty"`
}

func (w *World) snapshotStatus() Status {
	st := Status{
		Busy:       w.job != "",
		Job:        w.job,
		HasTerrain: w.tex != nil,
		UndoDepth:  w.undo.Len(),
		InStroke:   w.undo.InStroke(),
		Tool:       w.brush.ActiveTool(),
		Params:     w.brush.Params(),
		WorldID:    w.worldID,
		Digest:     w.digest,
		Camera:     w.pipe.Camera(),
	}
	if w.tex != nil {
		sum := w.cfg.Summary()
		st.World = &sum
		st.FlowStale = !w.flowFresh()
	}
	if w.failed != nil {
		st.Failed = w.failed.Error()
	}
	return st
}

func (w *World) publishStatus() {
	st := w.snapshotStatus()
	w.status.Store(&st)
}

// LastStatus is the status as of the last loop iteration. Safe from any goroutine.
func (w *World) LastStatus() Status {
	if st := w.status.Load(); st != nil {
		return *st
	}
	return Status{}
}

type counters struct {
	commands        atomic.Uint64
	busyRejects     atomic.Uint64
	strokes         atomic.Uint64
	undos           atomic.Uint64
	flowRecomputes  atomic.Uint64
	flowDiscards    atomic.Uint64
	jobs            atomic.Uint64
	framesRendered  atomic.Uint64
	journalFailures atomic.Uint64
}

type Metrics struct {
	Commands        uint64
	BusyRejects     uint64
	Strokes         uint64
	Undos           uint64
	FlowRecomputes  uint64
	FlowDiscards    uint64
	Jobs            uint64
	FramesRendered  uint64
	Dispatches      uint64
	JournalFailures uint64
}

func (w *World) Metrics() Metrics {
	return Metrics{
		Commands:        w.metrics.commands.Load(),
		BusyRejects:     w.metrics.busyRejects.Load(),
		Strokes:         w.metrics.strokes.Load(),
		Undos:           w.metrics.undos.Load(),
		FlowRecomputes:  w.metrics.flowRecomputes.Load(),
		FlowDiscards:    w.metrics.flowDiscards.Load(),
		Jobs:            w.metrics.jobs.Load(),
		FramesRendered:  w.metrics.framesRendered.Load(),
		Dispatches:      w.queue.Executed(),
		JournalFailures: w.metrics.journalFailures.Load(),
	}
}
