package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"balldrop.ai/internal/persistence/r2s3"
	"balldrop.ai/internal/sim/runner"
	"balldrop.ai/internal/sim/tuning"
	"balldrop.ai/internal/transport/observer"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "tuning yaml (default <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the results index")
		seed       = flag.Int64("seed", 0, "seed for -autostart (0 = random)")
		variant    = flag.String("variant", "", "course variant for -autostart (classic|gauntlet)")
		namesFile  = flag.String("names", "", "participant names, one per line")
		autostart  = flag.Bool("autostart", false, "build and start a race at boot")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	if *tuningPath == "" {
		*tuningPath = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning %s not found, using defaults", *tuningPath)
		tune = tuning.Defaults()
	}

	var names []string
	if *namesFile != "" {
		names, err = loadNames(*namesFile)
		if err != nil {
			logger.Fatalf("names: %v", err)
		}
	}

	idx, err := openIndex(*dataDir, *disableDB)
	if err != nil {
		logger.Fatalf("index: %v", err)
	}
	if idx != nil {
		defer idx.Close()
	}
	mirror, err := buildR2Mirror(*dataDir, logger)
	if err != nil {
		logger.Fatalf("r2 mirror: %v", err)
	}
	if mirror != nil {
		defer mirror.Close()
	}

	opts := runner.Options{DataDir: *dataDir, Tuning: tune, Logger: logger}
	if idx != nil {
		if err := idx.UpsertTuning(tune); err != nil {
			logger.Printf("index tuning: %v", err)
		}
		opts.Index = idx
	}
	if mirror != nil {
		opts.Mirror = mirror
	}
	rn, err := runner.New(opts)
	if err != nil {
		logger.Fatalf("runner: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := rn.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("runner stopped: %v", err)
		}
	}()

	if *autostart {
		if err := autostartRace(ctx, rn, runner.BuildRequest{Seed: *seed, Variant: *variant}, names); err != nil {
			logger.Fatalf("autostart: %v", err)
		}
	}

	api := &raceAPI{runner: rn, idx: idx, log: logger, names: names}
	mux := newMux(api, observer.NewServer(rn, logger), mirror, muxOptions{
		admin: envBool("BD_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()),
		pprof: envBool("BD_ENABLE_PPROF_HTTP", false),
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Printf("ListenAndServe: %v", err)
		cancel()
	}
	// Let the runner finish the current race before the index closes.
	<-runDone
}

type muxOptions struct {
	admin bool
	pprof bool
}

func newMux(api *raceAPI, obs *observer.Server, mirror *r2s3.Mirror, o muxOptions) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeRaceMetrics(rw, api.runner.Status(), api.runner.Metrics())
		if api.idx != nil {
			writeIndexMetrics(rw, api.idx.Stats())
		}
		if mirror != nil {
			writeR2MirrorMetrics(rw, mirror.Stats())
		}
	})

	mux.HandleFunc("/v1/observer/bootstrap", obs.BootstrapHandler())
	mux.HandleFunc("/v1/observer/ws", obs.WSHandler())
	mux.HandleFunc("/v1/races", api.handleRaces)
	mux.HandleFunc("/v1/races/", api.handleRaces)

	if o.admin {
		// Local-only operator endpoints.
		mux.HandleFunc("/admin/v1/state", api.handleState)
		mux.HandleFunc("/admin/v1/race/build", api.adminOnly(api.handleBuild))
		mux.HandleFunc("/admin/v1/race/start", api.adminOnly(api.handleStart))
		mux.HandleFunc("/admin/v1/race/shake", api.adminOnly(api.handleShake))
		mux.HandleFunc("/admin/v1/race/reset", api.adminOnly(api.handleReset))
	} else if api.log != nil {
		api.log.Printf("admin endpoints disabled (BD_ENABLE_ADMIN_HTTP=false)")
	}
	if o.pprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

func autostartRace(ctx context.Context, rn *runner.Runner, req runner.BuildRequest, names []string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := rn.Build(ctx, req); err != nil {
		return fmt.Errorf("build: %w", err)
	}
	if len(names) == 0 {
		return nil
	}
	if _, err := rn.Start(ctx, names); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	return nil
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
