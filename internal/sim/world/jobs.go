package world

import (
	"os"
	"time"

	"github.com/google/uuid"

	"worldweaver.app/internal/gpu"
	"worldweaver.app/internal/persistence/archive"
	"worldweaver.app/internal/persistence/worldfile"
	"worldweaver.app/internal/sim/terrain"
	"worldweaver.app/internal/sim/terrain/biome"
	"worldweaver.app/internal/sim/terrain/gen"
	"worldweaver.app/internal/sim/terrain/hydrology"
	"worldweaver.app/internal/sim/terrain/volcano"
	"worldweaver.app/internal/sim/undo"
)

// job is heavy work that runs off the loop. work must not touch loop-owned
// state; the finish func it returns runs back on the loop.
type job struct {
	name string
	work func() (finish func() (any, error), err error)
}

type jobResult struct {
	finish func() (any, error)
	err    error
}

func (w *World) startJob(j *job, req *cmdReq) {
	w.job = j.name
	w.jobReq = req
	w.metrics.jobs.Add(1)
	w.emit(Event{Kind: EventBusy, Job: j.name})

	go func() {
		finish, err := j.work()
		select {
		case w.jobDone <- jobResult{finish: finish, err: err}:
		case <-w.done:
		}
	}()
}

func (w *World) finishJob(res jobResult) {
	var out any
	err := res.err
	if err == nil && res.finish != nil {
		out, err = res.finish()
	}
	name, req := w.job, w.jobReq
	w.job, w.jobReq = "", nil
	if req != nil {
		w.respond(req, out, err)
	}
	w.emit(Event{Kind: EventIdle, Job: name})
	w.scheduleFlow()
}

// install makes tex the live world and resets everything derived from the
// previous one.
func (w *World) install(tex *gpu.Texture, cfg terrain.Config, worldID, digest string, flow *hydrology.FlowField) {
	w.tex = tex
	w.cfg = cfg
	w.worldID = worldID
	w.gen++
	w.digest = digest
	w.flow = nil
	if flow != nil {
		w.flow, w.flowGen = flow, w.gen
	}
	w.lastFence = nil
	w.volcanoStamps = 0
	w.undo.Reset(tex.W, tex.H)
	w.brush.Bind(tex, w.capture)
	w.brush.SetSeed(int64(cfg.Seed))
	w.pipe.SetWorldSize(tex.W, tex.H)
}

// uploadNew creates a texture for hm and waits for the upload.
func (w *World) uploadNew(hm *terrain.Heightmap) (*gpu.Texture, error) {
	tex, err := w.dev.CreateTexture(hm.W, hm.H)
	if err != nil {
		return nil, err
	}
	f, err := w.queue.Upload(w.ctx, tex, hm)
	if err != nil {
		return nil, err
	}
	if err := f.Wait(w.ctx); err != nil {
		return nil, err
	}
	return tex, nil
}

func (w *World) generateJob(cfg terrain.Config) (*job, error) {
	if err := cfg.Validate(w.dev.Limits().MaxTextureDimension); err != nil {
		return nil, err
	}
	w.endStroke()
	opts := gen.Options{
		IslandMask:  w.tun.IslandMask,
		ErosionRate: w.tun.ErosionRate,
		Workers:     w.tun.Workers,
	}
	return &job{name: "generate", work: func() (func() (any, error), error) {
		start := time.Now()
		hm, sum := gen.Generate(cfg, opts)
		tex, err := w.uploadNew(hm)
		if err != nil {
			return nil, err
		}
		digest := hm.Digest()
		elapsed := time.Since(start)
		return func() (any, error) {
			w.install(tex, cfg, uuid.NewString(), digest, nil)
			w.logger.Printf("generated %dx%d seed=%d in %s", cfg.WorldWidth, cfg.WorldHeight, cfg.Seed, elapsed.Round(time.Millisecond))
			w.emit(Event{Kind: EventGenerated, Summary: &sum})
			return sum, nil
		}, nil
	}}, nil
}

func (w *World) loadJob(path string) (*job, error) {
	path, err := w.resolvePath("load_world", path)
	if err != nil {
		return nil, err
	}
	w.endStroke()
	return &job{name: "load", work: func() (func() (any, error), error) {
		f, err := worldfile.Load(path)
		if err != nil {
			return nil, err
		}
		tex, err := w.uploadNew(f.Heights)
		if err != nil {
			return nil, err
		}
		var flow *hydrology.FlowField
		if f.Header.HasFlow && len(f.Flow) == len(f.Heights.Data) {
			flow = &hydrology.FlowField{W: f.Heights.W, H: f.Heights.H, Values: f.Flow, Source: f.Header.HeightDigest}
		}
		id := f.Header.WorldID
		if id == "" {
			id = uuid.NewString()
		}
		cfg := f.Header.Config
		return func() (any, error) {
			w.install(tex, cfg, id, f.Header.HeightDigest, flow)
			sum := cfg.Summary()
			w.logger.Printf("loaded %s (%dx%d, flow=%t)", path, cfg.WorldWidth, cfg.WorldHeight, flow != nil)
			w.emit(Event{Kind: EventLoaded, Summary: &sum, Path: path})
			return sum, nil
		}, nil
	}}, nil
}

type SaveResult struct {
	Path    string `json:"path"`
	WorldID string `json:"worldId"`
	Digest  string `json:"digest"`
	Bytes   int64  `json:"bytes"`
	HasFlow bool   `json:"hasFlow"`
	// Archived is where the overwritten previous version was kept.
	Archived string `json:"archived,omitempty"`
}

func (w *World) saveJob(path string) (*job, error) {
	const op = "save_world"
	if err := w.requireTerrain(op); err != nil {
		return nil, err
	}
	path, err := w.resolvePath(op, path)
	if err != nil {
		return nil, err
	}
	w.endStroke()

	tex, cfg, id := w.tex, w.cfg, w.worldID
	var flow []float32
	if w.flowFresh() {
		flow = w.flow.Values
	}
	return &job{name: "save", work: func() (func() (any, error), error) {
		hm, err := w.queue.Download(w.ctx, tex)
		if err != nil {
			return nil, err
		}
		archived, err := archive.Previous(w.dataDir, path, w.archive)
		if err != nil {
			w.logger.Printf("archive %s: %v", path, err)
		}
		savedAt := time.Now().UTC()
		file := worldfile.File{
			Header:  worldfile.Header{WorldID: id, SavedAt: savedAt, Config: cfg},
			Heights: hm,
			Flow:    flow,
		}
		if err := worldfile.Save(path, file); err != nil {
			return nil, err
		}
		var size int64
		if fi, err := os.Stat(path); err == nil {
			size = fi.Size()
		}
		digest := hm.Digest()
		cov := biome.Summarize(biome.Classify(hm, cfg.SeaLevel))
		return func() (any, error) {
			if w.tex == tex {
				w.digest = digest
			}
			if w.index != nil {
				w.index.RecordSave(SaveRecord{
					WorldID:  id,
					Path:     path,
					SavedAt:  savedAt,
					Config:   cfg,
					Digest:   digest,
					Bytes:    size,
					HasFlow:  flow != nil,
					Coverage: cov,
				})
			}
			w.emit(Event{Kind: EventSaved, Path: path})
			return SaveResult{Path: path, WorldID: id, Digest: digest, Bytes: size, HasFlow: flow != nil, Archived: archived}, nil
		}, nil
	}}, nil
}

type VolcanoResult struct {
	Centers []volcano.Center `json:"centers"`
	Rect    terrain.Rect     `json:"rect"`
}

// volcanoJob stamps on a host copy, then on the loop captures the affected
// tiles for undo before writing the stamped region back.
func (w *World) volcanoJob(cfg volcano.Config) (*job, error) {
	const op = "generate_volcanoes"
	if err := w.requireTerrain(op); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	w.endStroke()

	tex := w.tex
	rng := volcano.NewRand(w.cfg.Seed, w.volcanoStamps)
	return &job{name: "volcanoes", work: func() (func() (any, error), error) {
		hm, err := w.queue.Download(w.ctx, tex)
		if err != nil {
			return nil, err
		}
		centers, err := volcano.Stamp(hm, cfg, rng)
		if err != nil {
			return nil, err
		}
		rect := volcano.Affected(hm, centers, cfg.Radius)
		region, err := undo.HeightmapIO{HM: hm}.ReadRect(w.ctx, rect)
		if err != nil {
			return nil, err
		}
		digest := hm.Digest()
		return func() (any, error) {
			if w.tex != tex {
				return nil, terrain.Validationf(op, "world replaced during stamping")
			}
			w.undo.BeginStroke("volcanoes")
			if err := w.undo.Capture(w.ctx, w.textureIO(), rect); err != nil {
				w.undo.Abort()
				return nil, err
			}
			if err := w.textureIO().WriteRect(w.ctx, rect, region); err != nil {
				w.undo.Abort()
				return nil, err
			}
			w.undo.Commit()
			w.gen++
			w.digest = digest
			w.volcanoStamps++
			w.emit(Event{Kind: EventVolcanoes, Rect: &rect})
			return VolcanoResult{Centers: centers, Rect: rect}, nil
		}, nil
	}}, nil
}
