package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"packetworld.ai/internal/observerproto"
	"packetworld.ai/internal/persistence/indexdb"
	persistlog "packetworld.ai/internal/persistence/log"
	"packetworld.ai/internal/sim/engine"
	"packetworld.ai/internal/sim/events"
	"packetworld.ai/internal/sim/scenario"
	"packetworld.ai/internal/sim/tuning"
	"packetworld.ai/internal/transport/observer"
)

func main() {
	var (
		configPath   = flag.String("config", "", "scenario yaml (default: built-in demo)")
		dataDir      = flag.String("data", "./data", "runtime data directory")
		observerAddr = flag.String("observer_addr", "127.0.0.1:8080", "observer http listen address (empty to disable)")
		disableDB    = flag.Bool("disable_db", false, "disable the sqlite index of ticks, effects and mail")
		disableTrace = flag.Bool("disable_trace", false, "disable the zstd JSONL trace")
		verbose      = flag.Bool("verbose", false, "log unit membership and routing details")
		maxTicks     = flag.Uint64("max_ticks", 0, "override max_ticks from the scenario (0 keeps it)")
		seed         = flag.Uint64("seed", 0, "override seed from the scenario (0 keeps it)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(*configPath)
	if err != nil {
		logger.Fatalf("load scenario: %v", err)
	}
	if *maxTicks > 0 {
		tune.MaxTicks = *maxTicks
	}
	if *seed > 0 {
		tune.Seed = *seed
	}
	if *verbose {
		tune.Verbose = true
	}

	opts, _, err := scenario.Build(tune)
	if err != nil {
		logger.Fatalf("build scenario: %v", err)
	}

	runID := uuid.NewString()
	runDir := filepath.Join(*dataDir, "runs", runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		logger.Fatalf("create run dir: %v", err)
	}

	var ticks tickSinks
	var mails mailSinks
	if !*disableTrace {
		tickLog := persistlog.NewTickLogger(runDir)
		mailLog := persistlog.NewMailLogger(runDir)
		defer tickLog.Close()
		defer mailLog.Close()
		ticks = append(ticks, tickLog)
		mails = append(mails, mailLog)
	}
	var idx *indexdb.SQLiteIndex
	if !*disableDB && envBool("PW_ENABLE_INDEX", true) {
		idx, err = indexdb.OpenSQLite(filepath.Join(runDir, "index", "run.sqlite"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		if err := idx.RecordRun(runID, tune); err != nil {
			logger.Printf("index: record run: %v", err)
		}
		ticks = append(ticks, idx)
		mails = append(mails, idx)
	}

	bus := events.NewBus()
	opts.RunID = runID
	opts.Bus = bus
	opts.TickSink = ticks
	opts.MailSink = mails
	opts.Logger = logger

	env, err := engine.New(opts)
	if err != nil {
		logger.Fatalf("engine: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	var srv *http.Server
	if addr := strings.TrimSpace(*observerAddr); addr != "" {
		obs := observer.NewServer(observer.Config{
			Source:   env,
			Scenario: tune.Scenario,
			Grid:     observerproto.GridParams{Width: tune.Grid.Width, Height: tune.Grid.Height, View: tune.Grid.View},
			Agents:   agentInfos(tune),
			Metrics:  func() any { return runMetrics{Metrics: env.Metrics(), Index: idx.Stats()} },
			Logger:   logger,
		})
		mux := http.NewServeMux()
		mux.Handle("/v1/", obs.Handler())
		mux.Handle("/healthz", obs.Handler())
		mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
			rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
			writeMetrics(rw, env.Metrics(), idx.Stats(), obs.Sessions())
		})
		if envBool("PW_ENABLE_PPROF_HTTP", false) {
			mux.HandleFunc("/debug/pprof/", pprof.Index)
			mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
			mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
			mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
			mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
		} else {
			logger.Printf("pprof endpoints disabled (PW_ENABLE_PPROF_HTTP=false)")
		}

		srv = &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Printf("observer listening on %s", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Printf("observer: ListenAndServe: %v", err)
			}
		}()
	}

	logger.Printf("run %s: scenario=%s agents=%d sync=%s seed=%d max_ticks=%d dir=%s",
		runID, tune.Scenario, len(tune.Agents), tune.Synchronizer, tune.Seed, tune.MaxTicks, runDir)

	runErr := env.Run(ctx)
	bus.Close()

	if srv != nil {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(ctx2)
		cancel2()
	}

	m := env.Metrics()
	logger.Printf("run %s finished: tick=%d game_over=%v applied=%d rejected=%d failed=%d mails=%d",
		runID, m.Tick, m.GameOver, m.Reactor.EffectsApplied, m.Reactor.EffectsRejected, m.Reactor.EffectsFailed, m.MailsDelivered)
	if runErr != nil {
		logger.Fatalf("run: %v", runErr)
	}
}

type runMetrics struct {
	engine.Metrics
	Index indexdb.Stats `json:"index"`
}

// agentInfos lists every active item for observers. t was validated by Load.
func agentInfos(t tuning.Tuning) []observerproto.AgentInfo {
	items, err := t.Items()
	if err != nil {
		return nil
	}
	out := make([]observerproto.AgentInfo, 0, len(items))
	for _, it := range items {
		out = append(out, observerproto.AgentInfo{
			ID:       int(it.ID),
			Name:     it.Name,
			Priority: it.Priority.String(),
			Behavior: it.Behavior,
		})
	}
	return out
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

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
