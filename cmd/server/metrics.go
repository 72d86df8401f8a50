package main

import (
	"fmt"
	"io"

	"worldweaver.app/internal/persistence/indexdb"
)

func boolGauge(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (rt *runtime) writeMetrics(out io.Writer) {
	m := rt.world.Metrics()
	st := rt.world.LastStatus()

	counter := func(name, help string, v uint64) {
		fmt.Fprintf(out, "# HELP worldweaver_%s %s\n", name, help)
		fmt.Fprintf(out, "# TYPE worldweaver_%s counter\n", name)
		fmt.Fprintf(out, "worldweaver_%s %d\n", name, v)
	}
	gauge := func(name, help string, v int) {
		fmt.Fprintf(out, "# HELP worldweaver_%s %s\n", name, help)
		fmt.Fprintf(out, "# TYPE worldweaver_%s gauge\n", name)
		fmt.Fprintf(out, "worldweaver_%s %d\n", name, v)
	}

	counter("commands_total", "Commands handled by the world loop.", m.Commands)
	counter("busy_rejects_total", "Mutating commands rejected while a job ran.", m.BusyRejects)
	counter("strokes_total", "Committed brush strokes.", m.Strokes)
	counter("undos_total", "Undone strokes.", m.Undos)
	counter("jobs_total", "Generate/load/save/volcano jobs run.", m.Jobs)
	counter("flow_recomputes_total", "Hydrology recomputes adopted.", m.FlowRecomputes)
	counter("flow_discards_total", "Hydrology results discarded as stale.", m.FlowDiscards)
	counter("frames_rendered_total", "Frames rendered.", m.FramesRendered)
	counter("device_dispatches_total", "Compute dispatches executed.", m.Dispatches)
	counter("journal_failures_total", "Journal writes that failed.", m.JournalFailures)

	gauge("busy", "1 while a job runs.", boolGauge(st.Busy))
	gauge("has_terrain", "1 once a world is loaded.", boolGauge(st.HasTerrain))
	gauge("flow_stale", "1 while hydrology lags the heightmap.", boolGauge(st.FlowStale))
	gauge("undo_depth", "Entries on the undo stack.", st.UndoDepth)
	gauge("device_failed", "1 after the compute device is lost.", boolGauge(st.Failed != ""))
	gauge("ws_sessions", "Open websocket sessions.", int(rt.ws.Sessions()))

	switch idx := rt.index.(type) {
	case *indexdb.SQLiteIndex:
		s := idx.Stats()
		gauge("index_queue_depth", "SQLite index writer backlog.", s.QueueDepth)
		gauge("index_queue_capacity", "SQLite index writer capacity.", s.QueueCapacity)
		counter("index_drop_command_total", "Journal rows dropped by the index.", s.DropCommandTotal)
		counter("index_drop_save_total", "Save rows dropped by the index.", s.DropSaveTotal)
		counter("index_write_error_total", "Index write errors.", s.WriteErrorTotal)
	case *indexdb.RemoteIndex:
		s := idx.Stats()
		gauge("index_queue_depth", "Remote index backlog.", s.QueueDepth)
		counter("index_flush_ok_total", "Remote index batches accepted.", s.FlushOKTotal)
		counter("index_flush_fail_total", "Remote index batches failed.", s.FlushFailTotal)
		counter("index_queue_dropped_total", "Remote index events dropped on enqueue.", s.QueueDroppedTotal)
		counter("index_retain_dropped_total", "Retained remote index events dropped.", s.RetainDropTotal)
	}

	if rt.mirror != nil && rt.mirror.enabled {
		s := rt.mirror.mirror.Stats()
		gauge("r2_mirror_queue_depth", "Mirror queue depth.", s.QueueDepth)
		gauge("r2_mirror_queue_capacity", "Mirror queue capacity.", s.QueueCapacity)
		counter("r2_mirror_enqueued_total", "Mirror enqueue attempts.", s.EnqueuedTotal)
		counter("r2_mirror_queue_saturated_total", "Enqueue attempts that found the queue full.", s.QueueSaturatedTotal)
		counter("r2_mirror_dropped_total", "Files dropped because the queue stayed full.", s.DroppedTotal)
		counter("r2_mirror_upload_success_total", "Successful uploads.", s.UploadSuccessTotal)
		counter("r2_mirror_upload_fail_total", "Uploads that failed after retry.", s.UploadFailTotal)
		gauge("r2_mirror_last_success_unix", "Unix time of the last successful upload.", int(s.LastSuccessUnix))
		gauge("r2_mirror_last_error_unix", "Unix time of the last failed upload.", int(s.LastErrorUnix))
	}
}
