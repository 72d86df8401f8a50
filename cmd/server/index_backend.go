package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"worldweaver.app/internal/persistence/indexdb"
	"worldweaver.app/internal/sim/tuning"
	"worldweaver.app/internal/sim/world"
)

type runtimeIndex interface {
	world.CommandLogger
	world.SaveRecorder
	Close() error
	UpsertTuning(t tuning.Tuning) error
}

func openRuntimeIndex(dataDir, serverID string, disableDB bool, logger *log.Logger) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("WW_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(filepath.Join(dataDir, "index", "worlds.sqlite"))
	case "remote":
		endpoint := strings.TrimSpace(os.Getenv("WW_INDEX_INGEST_URL"))
		if endpoint == "" {
			return nil, fmt.Errorf("WW_INDEX_BACKEND=remote but WW_INDEX_INGEST_URL is empty")
		}
		return indexdb.OpenRemote(indexdb.RemoteConfig{
			Endpoint:      endpoint,
			Token:         strings.TrimSpace(os.Getenv("WW_INDEX_TOKEN")),
			ServerID:      serverID,
			BatchSize:     envInt("WW_INDEX_BATCH_SIZE", 128),
			FlushInterval: time.Duration(envInt("WW_INDEX_FLUSH_MS", 500)) * time.Millisecond,
			Logger:        logger,
		})
	default:
		return nil, fmt.Errorf("unsupported WW_INDEX_BACKEND: %s", backend)
	}
}

// multiCommandLogger fans journal entries out to the file journal and the index.
// The first error is reported so the world counts journal failures.
type multiCommandLogger []world.CommandLogger

func (m multiCommandLogger) WriteCommand(entry world.CommandLogEntry) error {
	var first error
	for _, l := range m {
		if err := l.WriteCommand(entry); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type multiSaveRecorder []world.SaveRecorder

func (m multiSaveRecorder) RecordSave(r world.SaveRecord) {
	for _, s := range m {
		s.RecordSave(r)
	}
}
