package world

import (
	"time"

	"worldweaver.app/internal/gpu"
	"worldweaver.app/internal/sim/terrain/hydrology"
)

type flowResult struct {
	gen     uint64
	tex     *gpu.Texture
	flow    *hydrology.FlowField
	err     error
	elapsed time.Duration
}

// scheduleFlow starts a background recompute when the cached flow is stale.
// At most one runs at a time, none mid-stroke or during a job.
func (w *World) scheduleFlow() {
	if w.tex == nil || w.flowBusy || w.job != "" || w.failed != nil || w.undo.InStroke() || w.flowFresh() {
		return
	}
	tex, gen := w.tex, w.gen
	// Queued here so the read is pinned to gen.
	rb, err := w.queue.EnqueueDownload(w.ctx, tex)
	if err != nil {
		w.noteFailure(err)
		w.logger.Printf("hydrology: %v", err)
		return
	}
	w.flowBusy = true
	go func() {
		start := time.Now()
		res := flowResult{gen: gen, tex: tex}
		hm, err := rb.Heightmap(w.ctx)
		if err != nil {
			res.err = err
		} else {
			res.flow = hydrology.Recompute(hm)
		}
		res.elapsed = time.Since(start)
		select {
		case w.flowDone <- res:
		case <-w.done:
		}
	}()
}

func (w *World) finishFlow(res flowResult) {
	w.flowBusy = false
	if res.err != nil {
		w.noteFailure(res.err)
		w.logger.Printf("hydrology: %v", res.err)
		return
	}
	if res.tex != w.tex || res.gen != w.gen {
		// Terrain moved on while we were computing.
		w.metrics.flowDiscards.Add(1)
		w.scheduleFlow()
		return
	}
	w.flow, w.flowGen = res.flow, res.gen
	w.digest = res.flow.Source
	w.metrics.flowRecomputes.Add(1)
	w.emit(Event{Kind: EventFlowUpdated, Message: res.elapsed.Round(time.Millisecond).String()})
}
