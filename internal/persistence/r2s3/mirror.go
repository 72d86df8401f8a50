package r2s3

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"worldweaver.app/internal/sim/world"
)

type Stats struct {
	QueueDepth          int
	QueueCapacity       int
	EnqueuedTotal       uint64
	QueueSaturatedTotal uint64
	DroppedTotal        uint64
	UploadSuccessTotal  uint64
	UploadFailTotal     uint64
	LastSuccessUnix     int64
	LastErrorUnix       int64
}

// Uploader is the object store the mirror writes to.
type Uploader interface {
	PutFile(ctx context.Context, objectKey, localPath string) error
	PutBytes(ctx context.Context, objectKey string, body []byte, contentType string) error
}

// upload is one queued file, optionally with a JSON manifest stored next to it.
type upload struct {
	localPath string
	manifest  []byte
}

// Manifest is stored as <world key>.json beside each mirrored world file.
type Manifest struct {
	WorldID       string    `json:"worldId"`
	SavedAt       time.Time `json:"savedAt"`
	Width         int       `json:"width"`
	Height        int       `json:"height"`
	Seed          uint64    `json:"seed"`
	Digest        string    `json:"digest"`
	Bytes         int64     `json:"bytes"`
	HasFlow       bool      `json:"hasFlow"`
	LandFraction  float64   `json:"landFraction"`
	DominantBiome string    `json:"dominantBiome"`
}

type Mirror struct {
	client  Uploader
	dataDir string
	prefix  string
	logger  *log.Logger

	jobs        chan upload
	enqueueWait time.Duration
	retryBase   time.Duration
	wg          sync.WaitGroup

	enqueuedTotal       atomic.Uint64
	queueSaturatedTotal atomic.Uint64
	droppedTotal        atomic.Uint64
	uploadSuccessTotal  atomic.Uint64
	uploadFailTotal     atomic.Uint64
	lastSuccessUnix     atomic.Int64
	lastErrorUnix       atomic.Int64
}

type MirrorConfig struct {
	DataDir       string
	Prefix        string
	Workers       int
	QueueCapacity int
	EnqueueWait   time.Duration
	Logger        *log.Logger
}

func NewMirror(client Uploader, cfg MirrorConfig) *Mirror {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 256
	}
	if cfg.EnqueueWait <= 0 {
		cfg.EnqueueWait = 25 * time.Millisecond
	}
	m := &Mirror{
		client:      client,
		dataDir:     cfg.DataDir,
		prefix:      strings.Trim(strings.ReplaceAll(cfg.Prefix, "\\", "/"), "/"),
		logger:      cfg.Logger,
		jobs:        make(chan upload, cfg.QueueCapacity),
		enqueueWait: cfg.EnqueueWait,
		retryBase:   200 * time.Millisecond,
	}
	for i := 0; i < cfg.Workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for u := range m.jobs {
				m.uploadOne(u)
			}
		}()
	}
	return m
}

// Enqueue mirrors a finished file, such as a rotated journal segment.
func (m *Mirror) Enqueue(localPath string) {
	m.enqueue(upload{localPath: localPath})
}

// RecordSave mirrors a saved world file together with its manifest.
func (m *Mirror) RecordSave(r world.SaveRecord) {
	b, err := json.Marshal(Manifest{
		WorldID:       r.WorldID,
		SavedAt:       r.SavedAt.UTC(),
		Width:         r.Config.WorldWidth,
		Height:        r.Config.WorldHeight,
		Seed:          r.Config.Seed,
		Digest:        r.Digest,
		Bytes:         r.Bytes,
		HasFlow:       r.HasFlow,
		LandFraction:  r.Coverage.LandFraction,
		DominantBiome: r.Coverage.Dominant,
	})
	if err != nil {
		m.printf("mirror manifest %s: %v", r.Path, err)
		b = nil
	}
	m.enqueue(upload{localPath: r.Path, manifest: b})
}

func (m *Mirror) enqueue(u upload) {
	if m == nil || m.client == nil {
		return
	}
	m.enqueuedTotal.Add(1)

	select {
	case m.jobs <- u:
		return
	default:
	}

	m.queueSaturatedTotal.Add(1)
	// Bounded so a save never stalls on a slow bucket.
	timer := time.NewTimer(m.enqueueWait)
	defer timer.Stop()
	select {
	case m.jobs <- u:
		return
	case <-timer.C:
		dropped := m.droppedTotal.Add(1)
		m.printf("mirror drop local=%s reason=queue_saturated wait_ms=%d dropped_total=%d", u.localPath, m.enqueueWait.Milliseconds(), dropped)
	}
}

func (m *Mirror) Close() {
	if m == nil {
		return
	}
	close(m.jobs)
	m.wg.Wait()
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:          len(m.jobs),
		QueueCapacity:       cap(m.jobs),
		EnqueuedTotal:       m.enqueuedTotal.Load(),
		QueueSaturatedTotal: m.queueSaturatedTotal.Load(),
		DroppedTotal:        m.droppedTotal.Load(),
		UploadSuccessTotal:  m.uploadSuccessTotal.Load(),
		UploadFailTotal:     m.uploadFailTotal.Load(),
		LastSuccessUnix:     m.lastSuccessUnix.Load(),
		LastErrorUnix:       m.lastErrorUnix.Load(),
	}
}

func (m *Mirror) uploadOne(u upload) {
	key, err := m.objectKey(u.localPath)
	if err != nil {
		m.printf("mirror skip local=%s err=%v", u.localPath, err)
		return
	}

	err = m.withRetry(func(ctx context.Context) error { return m.client.PutFile(ctx, key, u.localPath) })
	if err == nil && u.manifest != nil {
		err = m.withRetry(func(ctx context.Context) error {
			return m.client.PutBytes(ctx, key+".json", u.manifest, "application/json")
		})
	}
	if err != nil {
		m.uploadFailTotal.Add(1)
		m.lastErrorUnix.Store(time.Now().UTC().Unix())
		m.printf("mirror upload failed key=%s local=%s err=%v", key, u.localPath, err)
		return
	}
	m.uploadSuccessTotal.Add(1)
	m.lastSuccessUnix.Store(time.Now().UTC().Unix())
	m.printf("mirror uploaded key=%s", key)
}

func (m *Mirror) withRetry(put func(ctx context.Context) error) error {
	const maxAttempts = 4
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err := put(ctx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < maxAttempts {
			time.Sleep(time.Duration(attempt*attempt) * m.retryBase)
		}
	}
	return lastErr
}

// objectKey maps a local file to its key. Files under the data dir keep their
// relative layout; files saved elsewhere land under external/.
func (m *Mirror) objectKey(localPath string) (string, error) {
	if localPath == "" {
		return "", fmt.Errorf("empty local path")
	}
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}

	absBase, err := filepath.Abs(m.dataDir)
	if err != nil {
		return "", err
	}
	absLocal, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}

	key := "external/" + filepath.Base(absLocal)
	if rel, err := filepath.Rel(absBase, absLocal); err == nil {
		rel = filepath.ToSlash(rel)
		if rel != "." && !strings.HasPrefix(rel, "../") {
			key = rel
		}
	}
	if m.prefix != "" {
		key = path.Join(m.prefix, key)
	}
	return key, nil
}

func (m *Mirror) printf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}
