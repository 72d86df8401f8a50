package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io/fs"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"worldweaver.app/internal/persistence/indexdb"
	persistlog "worldweaver.app/internal/persistence/log"
	"worldweaver.app/internal/sim/tuning"
	"worldweaver.app/internal/sim/world"
	"worldweaver.app/internal/transport/ws"
)

type runtime struct {
	world  *world.World
	ws     *ws.Server
	index  runtimeIndex
	mirror *r2MirrorRuntime
	logger *log.Logger

	enableAdmin bool
	enablePprof bool
}

func main() {
	var (
		addr        = flag.String("addr", ":8080", "http listen address")
		dataDir     = flag.String("data", "./data", "runtime data directory")
		tuningPath  = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		disableDB   = flag.Bool("disable_db", false, "disable the world index (journal rows + saved world metadata)")
		worldPath   = flag.String("world", "", "world file to load at startup (optional)")
		noJournal   = flag.Bool("no_journal", false, "disable the compressed command journal")
		eventsLog   = flag.Bool("events_log", true, "write world events under <data>/events")
		serverID    = flag.String("server_id", "", "id reported to the remote index (default: random)")
		archiveKeep = flag.Int("archive_keep", 5, "overwritten versions kept per world file (0 disables)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", *tuningPath)
		tune = tuning.Defaults()
	}
	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}
	if *serverID == "" {
		*serverID = uuid.NewString()
	}

	// Optional read-model index; the world never reads from it.
	idx, err := openRuntimeIndex(*dataDir, *serverID, *disableDB, logger)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertTuning(tune); err != nil {
			logger.Printf("index backend: upsert tuning: %v", err)
		}
	}

	r2Mirror, err := buildR2MirrorRuntime(*dataDir, logger)
	if err != nil {
		logger.Fatalf("init r2 mirror: %v", err)
	}
	defer r2Mirror.Close()

	var journal multiCommandLogger
	var saves multiSaveRecorder
	if !*noJournal {
		cmdLog := persistlog.NewCommandLogger(*dataDir, persistlog.Options{OnClose: r2Mirror.onClose()})
		defer func() {
			_ = cmdLog.Close()
			logger.Printf("journal closed after %s entries", humanize.Comma(int64(cmdLog.Lines())))
		}()
		journal = append(journal, cmdLog)
	}
	if idx != nil {
		journal = append(journal, idx)
		saves = append(saves, idx)
	}
	if r2Mirror.enabled {
		saves = append(saves, r2Mirror.mirror)
	}

	w, err := world.New(world.Config{
		Tuning:  tune,
		DataDir: *dataDir,
		Logger:  log.New(os.Stdout, "[world] ", log.LstdFlags|log.Lmicroseconds),
		Journal: journal,
		Index:   saves,

		ArchiveKeep: *archiveKeep,
	})
	if err != nil {
		logger.Fatalf("world: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	go func() {
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("world stopped: %v", err)
		}
	}()
	defer func() {
		w.Stop()
		<-w.Done()
	}()

	if *eventsLog {
		evLog := persistlog.NewEventLogger(*dataDir, persistlog.Options{OnClose: r2Mirror.onClose()})
		evs, unsubscribe, err := w.Subscribe(ctx, 256)
		if err != nil {
			logger.Fatalf("subscribe events: %v", err)
		}
		drained := make(chan struct{})
		go func() {
			defer close(drained)
			evLog.Drain(evs, func(err error) { logger.Printf("event log: %v", err) })
		}()
		defer func() {
			unsubscribe()
			<-drained
			_ = evLog.Close()
		}()
	}

	if p := strings.TrimSpace(*worldPath); p != "" {
		loadCtx, loadCancel := context.WithTimeout(ctx, 2*time.Minute)
		sum, err := w.LoadWorld(loadCtx, p)
		loadCancel()
		if err != nil {
			logger.Fatalf("load world %s: %v", p, err)
		}
		size := "?"
		if fi, err := os.Stat(p); err == nil {
			size = humanize.Bytes(uint64(fi.Size()))
		}
		logger.Printf("loaded %s (%s) %dx%d sea=%.3f", p, size, sum.WorldWidth, sum.WorldHeight, sum.SeaLevel)
	}

	var lister ws.WorldLister
	if sq, ok := idx.(*indexdb.SQLiteIndex); ok {
		lister = sq
	}
	rt := &runtime{
		world: w,
		ws: ws.NewServer(w, logger, ws.Options{
			Index:   lister,
			Journal: !*noJournal,
		}),
		index:       idx,
		mirror:      r2Mirror,
		logger:      logger,
		enableAdmin: envBool("WW_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()),
		enablePprof: envBool("WW_ENABLE_PPROF_HTTP", false),
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           rt.mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s data=%s max_texture=%d", *addr, *dataDir, tune.MaxTextureDimension)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Printf("ListenAndServe: %v", err)
	}
}

func (rt *runtime) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		if rt.world.LastStatus().Failed != "" {
			http.Error(rw, "device failed", http.StatusServiceUnavailable)
			return
		}
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		rt.writeMetrics(rw)
	})

	if rt.enableAdmin {
		// Local-only admin endpoint.
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(struct {
				Status  world.Status  `json:"status"`
				Metrics world.Metrics `json:"metrics"`
			}{
				Status:  rt.world.LastStatus(),
				Metrics: rt.world.Metrics(),
			})
		})
	} else {
		rt.logger.Printf("admin endpoints disabled (WW_ENABLE_ADMIN_HTTP=false)")
	}
	if rt.enablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	mux.HandleFunc("/v1/ws", rt.ws.Handler())
	mux.HandleFunc("/v1/frame.png", rt.ws.FrameHandler())
	return mux
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
