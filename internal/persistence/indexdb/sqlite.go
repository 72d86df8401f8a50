package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"worldweaver.app/internal/sim/tuning"
	"worldweaver.app/internal/sim/world"
)

const schemaVersion = "1"

// Fixed-width timestamps sort lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropCommand atomic.Uint64
	dropSave    atomic.Uint64
	writeErrs   atomic.Uint64
}

type reqKind int

const (
	reqCommand reqKind = iota + 1
	reqSave
	reqFlush
)

type req struct {
	kind reqKind

	command world.CommandLogEntry
	save    world.SaveRecord
	done    chan struct{}
}

// Stats reports writer queue health.
type Stats struct {
	QueueDepth       int
	QueueCapacity    int
	DropCommandTotal uint64
	DropSaveTotal    uint64
	WriteErrorTotal  uint64
}

// WorldRow is one saved world file.
type WorldRow struct {
	WorldID       string    `json:"worldId"`
	Path          string    `json:"path"`
	SavedAt       time.Time `json:"savedAt"`
	Width         int       `json:"width"`
	Height        int       `json:"height"`
	Seed          uint64    `json:"seed"`
	SeaLevel      float64   `json:"seaLevel"`
	Digest        string    `json:"digest"`
	Bytes         int64     `json:"bytes"`
	HasFlow       bool      `json:"hasFlow"`
	LandFraction  float64   `json:"landFraction"`
	DominantBiome string    `json:"dominantBiome"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// Every brush tick journals one entry; absorb bursts without stalling the world loop.
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS tuning (
			digest TEXT PRIMARY KEY,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS worlds (
			path TEXT PRIMARY KEY,
			world_id TEXT NOT NULL,
			saved_at TEXT NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			seed INTEGER NOT NULL,
			sea_level REAL NOT NULL,
			digest TEXT NOT NULL,
			bytes INTEGER NOT NULL,
			has_flow INTEGER NOT NULL,
			land_fraction REAL NOT NULL,
			dominant_biome TEXT NOT NULL,
			config_json TEXT NOT NULL,
			coverage_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_worlds_saved_at ON worlds(saved_at);`,
		`CREATE INDEX IF NOT EXISTS idx_worlds_world_id ON worlds(world_id);`,
		`CREATE TABLE IF NOT EXISTS commands (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			seq INTEGER NOT NULL,
			at TEXT NOT NULL,
			world_id TEXT NOT NULL,
			command TEXT NOT NULL,
			ok INTEGER NOT NULL,
			error_kind TEXT,
			digest TEXT,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_commands_world ON commands(world_id, id);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','` + schemaVersion + `');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:       len(s.ch),
		QueueCapacity:    cap(s.ch),
		DropCommandTotal: s.dropCommand.Load(),
		DropSaveTotal:    s.dropSave.Load(),
		WriteErrorTotal:  s.writeErrs.Load(),
	}
}

// WriteCommand queues a journal entry without blocking. When the writer falls
// behind the entry is dropped; the JSONL journal remains the source of truth.
func (s *SQLiteIndex) WriteCommand(entry world.CommandLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqCommand, command: entry}:
	default:
		s.dropCommand.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordSave(r world.SaveRecord) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqSave, save: r}:
	default:
		s.dropSave.Add(1)
	}
}

// Flush waits until everything queued before the call is committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpsertTuning stores the tuning values the server actually applies.
func (s *SQLiteIndex) UpsertTuning(t tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	digest := hex.EncodeToString(sum[:])
	now := time.Now().UTC().Format(time.RFC3339Nano)

	if err := s.Flush(context.Background()); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.Exec(`INSERT OR REPLACE INTO tuning(digest,json,updated_at) VALUES(?,?,?)`, digest, string(b), now); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('tuning_digest',?)`, digest); err != nil {
		return err
	}
	return tx.Commit()
}

// Meta reads one meta value; ok is false when the key is absent.
func (s *SQLiteIndex) Meta(ctx context.Context, key string) (value string, ok bool, err error) {
	if err := s.Flush(ctx); err != nil {
		return "", false, err
	}
	err = s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key=?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	return value, err == nil, err
}

// ListWorlds returns saved worlds, newest first.
func (s *SQLiteIndex) ListWorlds(ctx context.Context, limit int) ([]WorldRow, error) {
	if limit <= 0 {
		limit = 50
	}
	if err := s.Flush(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT world_id,path,saved_at,width,height,seed,sea_level,digest,bytes,has_flow,land_fraction,dominant_biome
		FROM worlds ORDER BY saved_at DESC, path ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []WorldRow{}
	for rows.Next() {
		var (
			r       WorldRow
			savedAt string
			seed    int64
			hasFlow int
		)
		if err := rows.Scan(&r.WorldID, &r.Path, &savedAt, &r.Width, &r.Height, &seed, &r.SeaLevel,
			&r.Digest, &r.Bytes, &hasFlow, &r.LandFraction, &r.DominantBiome); err != nil {
			return nil, err
		}
		r.SavedAt, _ = time.Parse(tsLayout, savedAt)
		r.Seed = uint64(seed)
		r.HasFlow = hasFlow != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// CommandCount is the number of journaled commands for worldID ("" for all).
func (s *SQLiteIndex) CommandCount(ctx context.Context, worldID string) (int, error) {
	if err := s.Flush(ctx); err != nil {
		return 0, err
	}
	var n int
	var err error
	if worldID == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM commands`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM commands WHERE world_id=?`, worldID).Scan(&n)
	}
	return n, err
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertCommand, _ := s.db.Prepare(`INSERT INTO commands(seq,at,world_id,command,ok,error_kind,digest,raw_json) VALUES(?,?,?,?,?,?,?,?)`)
	insertWorld, _ := s.db.Prepare(`INSERT OR REPLACE INTO worlds(path,world_id,saved_at,width,height,seed,sea_level,digest,bytes,has_flow,land_fraction,dominant_biome,config_json,coverage_json) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	defer func() {
		if insertCommand != nil {
			_ = insertCommand.Close()
		}
		if insertWorld != nil {
			_ = insertWorld.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = 1 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.writeErrs.Add(1)
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeErrs.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		s.writeErrs.Add(1)
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	// An idle open tx would hold the only connection.
	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()

	for {
		var r req
		select {
		case rr, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			r = rr
		case <-ticker.C:
			flushIfNeeded()
			continue
		}

		if r.kind == reqFlush {
			commit()
			close(r.done)
			continue
		}

		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqCommand:
			e := r.command
			raw, _ := json.Marshal(e)
			if insertCommand != nil {
				if _, err := tx.Stmt(insertCommand).Exec(
					int64(e.Seq),
					e.Time.UTC().Format(tsLayout),
					e.WorldID,
					e.Command,
					boolInt(e.OK),
					e.Kind,
					e.Digest,
					string(raw),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqSave:
			sv := r.save
			cfgJSON, _ := json.Marshal(sv.Config)
			covJSON, _ := json.Marshal(sv.Coverage)
			if insertWorld != nil {
				if _, err := tx.Stmt(insertWorld).Exec(
					sv.Path,
					sv.WorldID,
					sv.SavedAt.UTC().Format(tsLayout),
					sv.Config.WorldWidth,
					sv.Config.WorldHeight,
					int64(sv.Config.Seed),
					float64(sv.Config.SeaLevel),
					sv.Digest,
					sv.Bytes,
					boolInt(sv.HasFlow),
					sv.Coverage.LandFraction,
					sv.Coverage.Dominant,
					string(cfgJSON),
					string(covJSON),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
			// Saves are rare and should be listable right away.
			commit()
			continue
		}
		flushIfNeeded()
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
