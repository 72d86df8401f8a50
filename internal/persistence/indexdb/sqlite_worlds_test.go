package indexdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"worldweaver.app/internal/sim/terrain"
	"worldweaver.app/internal/sim/terrain/biome"
	"worldweaver.app/internal/sim/tuning"
	"worldweaver.app/internal/sim/world"
)

func saveRecord(path string, at time.Time) world.SaveRecord {
	cfg := terrain.DefaultConfig()
	cfg.Seed = 42
	return world.SaveRecord{
		WorldID: "w-" + filepath.Base(path),
		Path:    path,
		SavedAt: at,
		Config:  cfg,
		Digest:  "d1g3st",
		Bytes:   1234,
		HasFlow: true,
		Coverage: biome.Coverage{
			LandFraction: 0.6,
			Dominant:     "grassland",
		},
	}
}

func TestSQLiteIndex_ListWorldsNewestFirst(t *testing.T) {
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer idx.Close()

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	idx.RecordSave(saveRecord("/data/worlds/a.wwld", base))
	idx.RecordSave(saveRecord("/data/worlds/b.wwld", base.Add(time.Minute)))
	// Re-saving a path replaces its row.
	idx.RecordSave(saveRecord("/data/worlds/a.wwld", base.Add(2*time.Minute)))

	rows, err := idx.ListWorlds(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListWorlds: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows=%d want 2", len(rows))
	}
	if rows[0].Path != "/data/worlds/a.wwld" || rows[1].Path != "/data/worlds/b.wwld" {
		t.Fatalf("order: %q, %q", rows[0].Path, rows[1].Path)
	}
	r := rows[0]
	if r.Seed != 42 || !r.HasFlow || r.DominantBiome != "grassland" || r.LandFraction != 0.6 || r.Bytes != 1234 {
		t.Fatalf("row mismatch: %+v", r)
	}
	if !r.SavedAt.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("saved_at=%v", r.SavedAt)
	}

	rows, err = idx.ListWorlds(context.Background(), 1)
	if err != nil || len(rows) != 1 {
		t.Fatalf("limit: rows=%d err=%v", len(rows), err)
	}
}

func TestSQLiteIndex_CommandsAndTuning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}

	for i := 1; i <= 3; i++ {
		_ = idx.WriteCommand(world.CommandLogEntry{Seq: uint64(i), Time: time.Now(), WorldID: "w1", Command: "brush_tick", OK: true})
	}
	_ = idx.WriteCommand(world.CommandLogEntry{Seq: 4, Time: time.Now(), WorldID: "w2", Command: "undo_stroke", Kind: "busy"})

	ctx := context.Background()
	if n, err := idx.CommandCount(ctx, "w1"); err != nil || n != 3 {
		t.Fatalf("CommandCount(w1)=%d err=%v", n, err)
	}
	if n, err := idx.CommandCount(ctx, ""); err != nil || n != 4 {
		t.Fatalf("CommandCount()=%d err=%v", n, err)
	}
	if err := idx.UpsertTuning(tuning.Defaults()); err != nil {
		t.Fatalf("UpsertTuning: %v", err)
	}
	if v, ok, err := idx.Meta(ctx, "tuning_digest"); err != nil || !ok || len(v) != 64 {
		t.Fatalf("tuning_digest=%q ok=%v err=%v", v, ok, err)
	}
	if _, ok, err := idx.Meta(ctx, "missing"); err != nil || ok {
		t.Fatalf("missing key ok=%v err=%v", ok, err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	var (
		command string
		ok      int
		kind    sql.NullString
	)
	row := db.QueryRow(`SELECT command,ok,error_kind FROM commands WHERE seq=4`)
	if err := row.Scan(&command, &ok, &kind); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if command != "undo_stroke" || ok != 0 || kind.String != "busy" {
		t.Fatalf("row mismatch: command=%q ok=%d kind=%q", command, ok, kind.String)
	}
}
