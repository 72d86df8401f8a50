package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"worldweaver.app/internal/persistence/archive"
	persistlog "worldweaver.app/internal/persistence/log"
	"worldweaver.app/internal/persistence/worldfile"
	"worldweaver.app/internal/sim/render"
	"worldweaver.app/internal/sim/terrain"
	"worldweaver.app/internal/sim/terrain/biome"
	"worldweaver.app/internal/sim/terrain/volcano"
	"worldweaver.app/internal/sim/tuning"
	"worldweaver.app/internal/sim/world"
)

const usage = `usage: worldctl <command> [flags]

commands:
  generate   generate a world file
  info       describe a world file
  render     render a world file to PNG
  volcanoes  stamp volcanoes into a world file
  archives   list archived versions of a world file
  journal    print the command journal
  worlds     list saved worlds from the index
  state      fetch /admin/v1/state from a running server
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	var err error
	args := os.Args[2:]
	switch os.Args[1] {
	case "generate":
		err = generateCmd(args, os.Stdout)
	case "info":
		err = infoCmd(args, os.Stdout)
	case "render":
		err = renderCmd(args, os.Stdout)
	case "volcanoes":
		err = volcanoesCmd(args, os.Stdout)
	case "archives":
		err = archivesCmd(args, os.Stdout)
	case "journal":
		err = journalCmd(args, os.Stdout)
	case "worlds":
		err = worldsCmd(args, os.Stdout)
	case "state":
		err = stateCmd(args, os.Stdout)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if terrain.KindOf(err) == terrain.KindValidation {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// headless runs a world without a server for one command.
type headless struct {
	w      *world.World
	ctx    context.Context
	cancel context.CancelFunc
}

func startHeadless(tuningPath string, timeout time.Duration) (*headless, error) {
	tune := tuning.Defaults()
	if tuningPath != "" {
		t, err := tuning.Load(tuningPath)
		if err != nil {
			return nil, err
		}
		tune = t
	}
	dir, err := os.MkdirTemp("", "worldctl-")
	if err != nil {
		return nil, err
	}
	w, err := world.New(world.Config{
		Tuning:  tune,
		DataDir: dir,
		Logger:  log.New(io.Discard, "", 0),
	})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	go func() { _ = w.Run(ctx) }()
	return &headless{w: w, ctx: ctx, cancel: func() {
		w.Stop()
		<-w.Done()
		cancel()
		_ = os.RemoveAll(dir)
	}}, nil
}

// waitFlow blocks until hydrology matches the heightmap.
func (h *headless) waitFlow() error {
	for {
		st, err := h.w.Status(h.ctx)
		if err != nil {
			return err
		}
		if st.HasTerrain && !st.FlowStale {
			return nil
		}
		select {
		case <-h.ctx.Done():
			return h.ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func absPath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", terrain.Validationf("worldctl", "missing path")
	}
	return filepath.Abs(p)
}

func generateCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	tuningPath := fs.String("tuning", "", "tuning.yaml (optional)")
	outPath := fs.String("out", "world.wwld", "output world file")
	width := fs.Int("width", 0, "world width (default from tuning)")
	height := fs.Int("height", 0, "world height (default from tuning)")
	seed := fs.Uint64("seed", 0, "seed (default from tuning)")
	octaves := fs.Int("octaves", 0, "noise octaves (default from tuning)")
	sea := fs.Float64("sea_level", -1, "sea level in [0,1] (default from tuning)")
	erosion := fs.Int("erosion_passes", -1, "thermal erosion passes (default from tuning)")
	volcanoes := fs.Int("volcanoes", 0, "volcanoes to stamp after generation")
	if err := fs.Parse(args); err != nil {
		return terrain.Validationf("generate", "%v", err)
	}
	dst, err := absPath(*outPath)
	if err != nil {
		return err
	}

	h, err := startHeadless(*tuningPath, 5*time.Minute)
	if err != nil {
		return err
	}
	defer h.cancel()

	cfg := h.w.Tuning().Terrain
	if *width > 0 {
		cfg.WorldWidth = *width
	}
	if *height > 0 {
		cfg.WorldHeight = *height
	}
	if *seed > 0 {
		cfg.Seed = *seed
	}
	if *octaves > 0 {
		cfg.Octaves = *octaves
	}
	if *sea >= 0 {
		cfg.SeaLevel = float32(*sea)
	}
	if *erosion >= 0 {
		cfg.ErosionPasses = *erosion
	}

	start := time.Now()
	if _, err := h.w.GenerateTerrain(h.ctx, cfg); err != nil {
		return err
	}
	if *volcanoes > 0 {
		vc := volcano.DefaultConfig()
		vc.Count = *volcanoes
		if _, err := h.w.GenerateVolcanoes(h.ctx, vc); err != nil {
			return err
		}
	}
	if err := h.waitFlow(); err != nil {
		return err
	}
	res, err := h.w.SaveWorld(h.ctx, dst)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s (%s) %dx%d seed=%d digest=%s in %s\n",
		res.Path, humanize.Bytes(uint64(res.Bytes)), cfg.WorldWidth, cfg.WorldHeight, cfg.Seed,
		short(res.Digest), time.Since(start).Round(time.Millisecond))
	return nil
}

func infoCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return terrain.Validationf("info", "%v", err)
	}
	if fs.NArg() != 1 {
		return terrain.Validationf("info", "usage: worldctl info [-json] <file.wwld>")
	}
	path := fs.Arg(0)
	f, err := worldfile.Load(path)
	if err != nil {
		return err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return terrain.IOErr("info", err)
	}
	cfg := f.Header.Config
	cov := biome.Summarize(biome.Classify(f.Heights, cfg.SeaLevel))

	if *asJSON {
		printJSON(out, struct {
			Header   worldfile.Header `json:"header"`
			Bytes    int64            `json:"bytes"`
			Digest   string           `json:"digest"`
			Coverage biome.Coverage   `json:"coverage"`
		}{f.Header, fi.Size(), f.Heights.Digest(), cov})
		return nil
	}

	fmt.Fprintf(out, "world    %s\n", f.Header.WorldID)
	fmt.Fprintf(out, "saved    %s (%s)\n", f.Header.SavedAt.Format(time.RFC3339), humanize.Time(f.Header.SavedAt))
	fmt.Fprintf(out, "size     %dx%d, %s on disk\n", cfg.WorldWidth, cfg.WorldHeight, humanize.Bytes(uint64(fi.Size())))
	fmt.Fprintf(out, "seed     %d  octaves=%d sea=%.3f erosion=%d\n", cfg.Seed, cfg.Octaves, cfg.SeaLevel, cfg.ErosionPasses)
	fmt.Fprintf(out, "digest   %s\n", f.Heights.Digest())
	fmt.Fprintf(out, "flow     %v\n", f.Header.HasFlow)
	fmt.Fprintf(out, "land     %s%%\n", humanize.FtoaWithDigits(cov.LandFraction*100, 1))
	for _, s := range cov.Shares {
		fmt.Fprintf(out, "  %-14s %6.2f%%\n", s.Name, s.Fraction*100)
	}
	return nil
}

func renderCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("render", flag.ContinueOnError)
	outPath := fs.String("out", "", "output PNG (default: <file>.png)")
	canvasW := fs.Int("canvas_width", 0, "canvas width (default from tuning)")
	canvasH := fs.Int("canvas_height", 0, "canvas height (default from tuning)")
	thumb := fs.Int("thumb", 0, "limit the longer side to N pixels")
	hide := fs.Bool("hide_underwater", false, "flatten everything below sea level")
	tuningPath := fs.String("tuning", "", "tuning.yaml (optional)")
	if err := fs.Parse(args); err != nil {
		return terrain.Validationf("render", "%v", err)
	}
	if fs.NArg() != 1 {
		return terrain.Validationf("render", "usage: worldctl render [flags] <file.wwld>")
	}
	src, err := absPath(fs.Arg(0))
	if err != nil {
		return err
	}
	dst := *outPath
	if dst == "" {
		dst = strings.TrimSuffix(src, filepath.Ext(src)) + ".png"
	}

	h, err := startHeadless(*tuningPath, 2*time.Minute)
	if err != nil {
		return err
	}
	defer h.cancel()

	if _, err := h.w.LoadWorld(h.ctx, src); err != nil {
		return err
	}
	if *canvasW > 0 && *canvasH > 0 {
		if _, err := h.w.SetCanvasSize(h.ctx, *canvasW, *canvasH); err != nil {
			return err
		}
	}
	if err := h.waitFlow(); err != nil {
		return err
	}
	img, err := h.w.RenderFrame(h.ctx, world.FrameOptions{HideUnderwater: *hide})
	if err != nil {
		return err
	}
	b, err := render.PNGBytes(render.Thumbnail(img, *thumb))
	if err != nil {
		return err
	}
	if err := os.WriteFile(dst, b, 0o644); err != nil {
		return terrain.IOErr("render", err)
	}
	fmt.Fprintf(out, "wrote %s (%s)\n", dst, humanize.Bytes(uint64(len(b))))
	return nil
}

func volcanoesCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("volcanoes", flag.ContinueOnError)
	def := volcano.DefaultConfig()
	count := fs.Int("count", def.Count, "volcano count")
	radius := fs.Float64("radius", float64(def.Radius), "radius in texels")
	height := fs.Float64("height", float64(def.Height), "peak height in [0,1]")
	outPath := fs.String("out", "", "output world file (default: overwrite input)")
	if err := fs.Parse(args); err != nil {
		return terrain.Validationf("volcanoes", "%v", err)
	}
	if fs.NArg() != 1 {
		return terrain.Validationf("volcanoes", "usage: worldctl volcanoes [flags] <file.wwld>")
	}
	src, err := absPath(fs.Arg(0))
	if err != nil {
		return err
	}
	dst := src
	if *outPath != "" {
		if dst, err = absPath(*outPath); err != nil {
			return err
		}
	}

	h, err := startHeadless("", 5*time.Minute)
	if err != nil {
		return err
	}
	defer h.cancel()

	if _, err := h.w.LoadWorld(h.ctx, src); err != nil {
		return err
	}
	res, err := h.w.GenerateVolcanoes(h.ctx, volcano.Config{Count: *count, Radius: float32(*radius), Height: float32(*height)})
	if err != nil {
		return err
	}
	if err := h.waitFlow(); err != nil {
		return err
	}
	saved, err := h.w.SaveWorld(h.ctx, dst)
	if err != nil {
		return err
	}
	for _, c := range res.Centers {
		fmt.Fprintf(out, "volcano at (%d, %d)\n", c.X, c.Y)
	}
	fmt.Fprintf(out, "wrote %s (%s) digest=%s\n", saved.Path, humanize.Bytes(uint64(saved.Bytes)), short(saved.Digest))
	return nil
}

func archivesCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("archives", flag.ContinueOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	if err := fs.Parse(args); err != nil {
		return terrain.Validationf("archives", "%v", err)
	}
	if fs.NArg() != 1 {
		return terrain.Validationf("archives", "usage: worldctl archives [-data dir] <name>")
	}
	entries, err := archive.List(*dataDir, fs.Arg(0))
	if err != nil {
		return terrain.IOErr("archives", err)
	}
	for _, e := range entries {
		size := "?"
		if fi, err := os.Stat(e.Path); err == nil {
			size = humanize.Bytes(uint64(fi.Size()))
		}
		fmt.Fprintf(out, "%s  %-8s %s\n", e.Meta.SavedAt.Format(time.RFC3339), size, e.Path)
	}
	fmt.Fprintf(out, "%d versions\n", len(entries))
	return nil
}

func journalCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("journal", flag.ContinueOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "only entries for this world id")
	failed := fs.Bool("failed", false, "only failed commands")
	if err := fs.Parse(args); err != nil {
		return terrain.Validationf("journal", "%v", err)
	}
	files, err := persistlog.Files(filepath.Join(*dataDir, "journal"), "commands")
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return terrain.Validationf("journal", "no journal under %s", *dataDir)
	}
	var n int
	for _, f := range files {
		err := persistlog.ReadFile(f, func(e world.CommandLogEntry) error {
			if *worldID != "" && e.WorldID != *worldID {
				return nil
			}
			if *failed && e.OK {
				return nil
			}
			n++
			status := "ok"
			if !e.OK {
				status = e.Kind + ": " + e.Error
			}
			fmt.Fprintf(out, "%8d %s %-20s %s\n", e.Seq, e.Time.Format("15:04:05.000"), e.Command, status)
			return nil
		})
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
	}
	fmt.Fprintf(out, "%s entries in %d files\n", humanize.Comma(int64(n)), len(files))
	return nil
}

func short(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
