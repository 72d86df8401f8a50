package world

import (
	"time"

	"worldweaver.app/internal/sim/terrain"
	"worldweaver.app/internal/sim/terrain/biome"
)

// CommandLogEntry is one journal line per mutating command.
type CommandLogEntry struct {
	Seq     uint64    `json:"seq"`
	Time    time.Time `json:"time"`
	WorldID string    `json:"world_id,omitempty"`
	Command string    `json:"command"`
	Params  any       `json:"params,omitempty"`
	OK      bool      `json:"ok"`
	Kind    string    `json:"error_kind,omitempty"`
	Error   string    `json:"error,omitempty"`

	// Digest of the heightmap after the command, when it is known without a readback.
	Digest    string `json:"digest,omitempty"`
	UndoDepth int    `json:"undo_depth"`
}

type CommandLogger interface {
	WriteCommand(e CommandLogEntry) error
}

// SaveRecord describes a world file written by save_world.
type SaveRecord struct {
	WorldID  string
	Path     string
	SavedAt  time.Time
	Config   terrain.Config
	Digest   string
	Bytes    int64
	HasFlow  bool
	Coverage biome.Coverage
}

type SaveRecorder interface {
	RecordSave(r SaveRecord)
}

func (w *World) writeJournal(req *cmdReq, err error) {
	if w.journal == nil {
		return
	}
	w.journalSeq++
	e := CommandLogEntry{
		Seq:       w.journalSeq,
		Time:      time.Now().UTC(),
		WorldID:   w.worldID,
		Command:   req.name,
		Params:    req.params,
		OK:        err == nil,
		Digest:    w.digest,
		UndoDepth: w.undo.Len(),
	}
	if err != nil {
		e.Kind = terrain.KindOf(err).String()
		e.Error = err.Error()
	}
	if werr := w.journal.WriteCommand(e); werr != nil {
		w.metrics.journalFailures.Add(1)
		w.logger.Printf("journal: %v", werr)
	}
}
