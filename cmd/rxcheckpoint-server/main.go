package main

import (
	"context"
	"crypto/x509"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/yndnr/rxcheckpoint/internal/engine"
	"github.com/yndnr/rxcheckpoint/internal/engine/scheduler"
	"github.com/yndnr/rxcheckpoint/internal/infra/buildinfo"
	"github.com/yndnr/rxcheckpoint/internal/infra/confloader"
	"github.com/yndnr/rxcheckpoint/internal/infra/shutdown"
	"github.com/yndnr/rxcheckpoint/internal/infra/tlsroots"
	"github.com/yndnr/rxcheckpoint/internal/server/config"
	"github.com/yndnr/rxcheckpoint/internal/server/httpserver"
	"github.com/yndnr/rxcheckpoint/internal/server/httpserver/handler"
	"github.com/yndnr/rxcheckpoint/internal/server/localserver"
	"github.com/yndnr/rxcheckpoint/internal/storage"
	"github.com/yndnr/rxcheckpoint/internal/storage/backend"
	"github.com/yndnr/rxcheckpoint/internal/telemetry/logger"
	"github.com/yndnr/rxcheckpoint/internal/telemetry/metric"
	"github.com/yndnr/rxcheckpoint/internal/telemetry/tracer"
	"github.com/yndnr/rxcheckpoint/pkg/token"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Parse command line flags
	var (
		configFile  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		showConfig  = flag.Bool("print-config", false, "Print the effective configuration and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("rxcheckpoint-server %s\n", buildinfo.String())
		return nil
	}

	loader := newLoader(*configFile)
	cfg, err := loadConfig(loader)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *showConfig {
		return printConfig(os.Stdout, cfg)
	}

	log, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	log.Info("starting rxcheckpoint-server",
		"version", buildinfo.Get().Version,
		"commit", buildinfo.Get().Commit,
		"config", *configFile,
		"backend", cfg.Storage.Backend)

	// Hooks run in reverse registration order, so everything registered
	// below is torn down before what it depends on.
	sh := shutdown.NewHandler(cfg.Server.HTTP.ShutdownTimeout, log)

	tp, err := tracer.New(cfg.TracerConfig())
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	sh.OnShutdown("tracer", tp.Shutdown)

	var metrics *metric.Registry
	if cfg.Telemetry.Metrics.Enabled {
		metrics = metric.NewRegistry()
	}

	store, err := initStore(cfg, log, metrics)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	sh.OnShutdown("store", func(context.Context) error { return store.Close() })

	sched := scheduler.NewWorkerScheduler(scheduler.Config{
		Workers: cfg.Engine.Workers,
		Logger:  log.With("component", "scheduler"),
	})
	sh.OnShutdown("scheduler", func(context.Context) error { return sched.Close() })

	e, err := initEngine(cfg, store, sched, log, metrics, tp)
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}
	sh.OnShutdown("engine", e.Unload)

	ctx := context.Background()
	if cfg.Engine.RecoverOnStart {
		if err := recoverEngine(ctx, e, log); err != nil {
			return fmt.Errorf("recover: %w", err)
		}
	}

	if cfg.Engine.FinalCheckpoint {
		sh.OnShutdown("final-checkpoint", func(ctx context.Context) error {
			res, err := e.Checkpoint(ctx, engine.ModeFull)
			if err != nil {
				return err
			}
			log.Info("final checkpoint written", "sequence", res.Info.Sequence, "written", res.Written)
			return nil
		})
	}

	cp := engine.NewCheckpointer(e, cfg.CheckpointerConfig(log.With("component", "checkpointer")))
	cp.Start()
	sh.OnShutdown("checkpointer", cp.Stop)

	if loader.FilePath() != "" {
		w, err := watchConfig(loader, e, cp, log)
		if err != nil {
			log.Warn("configuration hot reload disabled", "error", err)
		} else {
			sh.OnShutdown("config-watcher", func(context.Context) error { return w.Close() })
		}
	}

	h := handler.New(handler.Config{Engine: e, Logger: log})
	srv, kp, err := initHTTP(cfg, h, metrics, tp, log)
	if err != nil {
		return fmt.Errorf("init http: %w", err)
	}
	if kp != nil {
		sh.OnShutdown("tls", func(context.Context) error { return kp.Stop() })
	}
	sh.OnShutdown("http", func(ctx context.Context) error {
		h.SetReady(false)
		return srv.Shutdown(ctx)
	})

	if path := cfg.Server.Local.SocketPath; path != "" {
		local := newLocalServer(path, h, tp, log)
		ln, err := local.Listen()
		if err != nil {
			return fmt.Errorf("local socket: %w", err)
		}
		sh.OnShutdown("local", local.Shutdown)
		go func() {
			if err := local.Serve(ln); err != nil {
				log.Error("local admin socket failed", "error", err)
				sh.Trigger("local socket failed")
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", "addr", cfg.Server.HTTP.Addr, "tls", srv.TLS())
		if err := srv.ListenAndServe(); err != nil {
			serveErr <- err
			sh.Trigger("http server failed")
		}
	}()
	h.SetReady(true)

	log.Info("server started, press Ctrl+C to stop")
	err = sh.Wait(ctx)
	select {
	case serr := <-serveErr:
		err = errors.Join(fmt.Errorf("http server: %w", serr), err)
	default:
	}
	if err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}

	log.Info("server stopped gracefully")
	return nil
}

func newLoader(configFile string) *confloader.Loader {
	opts := []confloader.Option{confloader.WithDefaults(config.Defaults())}
	if configFile != "" {
		opts = append(opts, confloader.WithConfigFile(configFile))
	}
	return confloader.NewLoader(opts...)
}

// loadConfig loads configuration from defaults, file and environment.
func loadConfig(loader *confloader.Loader) (*config.ServerConfig, error) {
	cfg := config.Default()
	if err := loader.Load(cfg); err != nil {
		return nil, err
	}
	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// printConfig writes the effective configuration with secrets masked.
func printConfig(w io.Writer, cfg *config.ServerConfig) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(config.Sanitize(cfg)); err != nil {
		return err
	}
	return enc.Close()
}

// initLogger initializes the structured logger and makes it the default.
func initLogger(cfg *config.ServerConfig) (*slog.Logger, error) {
	lc := cfg.LoggerConfig()
	lc.Output = os.Stdout
	log, err := logger.New(lc)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(log)
	return log, nil
}

func initStore(cfg *config.ServerConfig, log *slog.Logger, metrics *metric.Registry) (storage.Store, error) {
	bc, err := cfg.BackendConfig(log.With("component", "store"))
	if err != nil {
		return nil, err
	}
	if metrics != nil {
		bc.Registerer = metrics.Registerer()
	}
	return backend.Open(bc)
}

func initEngine(cfg *config.ServerConfig, store storage.Store, sched scheduler.Scheduler,
	log *slog.Logger, metrics *metric.Registry, tp *tracer.Provider) (*engine.Engine, error) {
	opts := engine.DefaultOptions(store)
	cfg.ApplyEngine(&opts)
	opts.Scheduler = sched
	opts.Logger = log.With("component", "engine")
	opts.Metrics = metrics
	opts.Tracer = tp

	e, err := engine.New(opts)
	if err != nil {
		return nil, err
	}
	if err := metrics.Register(metric.NewCollector(e)); err != nil {
		return nil, fmt.Errorf("register engine collector: %w", err)
	}
	return e, nil
}

// recoverEngine restores the committed checkpoint. Entities that fail to
// load are logged and left as invalid placeholders; only a failure of the
// whole recovery stops startup.
func recoverEngine(ctx context.Context, e *engine.Engine, log *slog.Logger) error {
	res, err := e.Recover(ctx)
	if res == nil {
		return err
	}
	if err != nil {
		log.Warn("recovered with entity failures", "error", err, "invalid", res.Invalid)
	}
	if !res.Found {
		log.Info("no checkpoint to recover, starting empty", "checkpoint_id", e.CheckpointID())
		return nil
	}
	log.Info("recovered checkpoint",
		"sequence", res.Info.Sequence,
		"loaded", res.Loaded,
		"templates", res.Templates,
		"elapsed", res.Elapsed)
	return nil
}

func initHTTP(cfg *config.ServerConfig, h *handler.Handler, metrics *metric.Registry,
	tp *tracer.Provider, log *slog.Logger) (*httpserver.Server, *tlsroots.KeyPair, error) {
	hc := cfg.Server.HTTP

	rc := httpserver.DefaultRouterConfig()
	rc.Handler = h
	rc.Metrics = metrics
	rc.MetricsPath = cfg.Telemetry.Metrics.Path
	rc.Tracer = tp
	rc.Logger = log
	rc.RateLimit = hc.RateLimit
	rc.RateBurst = hc.RateBurst
	rc.AdminAllowList = hc.AdminAllowList
	switch {
	case hc.AdminTokenHash != "":
		rc.AdminTokenHash, _ = token.NormalizeHash(hc.AdminTokenHash)
	case hc.AdminToken != "":
		rc.AdminTokenHash = token.Hash(hc.AdminToken)
	default:
		log.Warn("admin API has no bearer token configured")
	}

	sc := httpserver.Config{
		Addr:         hc.Addr,
		ReadTimeout:  hc.ReadTimeout,
		WriteTimeout: hc.WriteTimeout,
	}

	var kp *tlsroots.KeyPair
	if hc.TLSCertFile != "" {
		var err error
		kp, err = tlsroots.NewKeyPair(hc.TLSCertFile, hc.TLSKeyFile, tlsroots.WithLogger(log.With("component", "tls")))
		if err != nil {
			return nil, nil, err
		}
		var clientCAs *x509.CertPool
		if hc.ClientCAFile != "" {
			pool, err := tlsroots.LoadPool(hc.ClientCAFile)
			if err != nil {
				return nil, nil, err
			}
			clientCAs = pool
		}
		sc.TLSConfig = tlsroots.ServerConfig(kp, clientCAs)
		if err := kp.Start(); err != nil {
			log.Warn("certificate hot reload disabled", "error", err)
		}
	}

	return httpserver.New(sc, httpserver.NewRouter(rc)), kp, nil
}

// newLocalServer serves the API on a Unix socket without the bearer token,
// allow list and rate limit of the TCP listener.
func newLocalServer(path string, h *handler.Handler, tp *tracer.Provider, log *slog.Logger) *localserver.Server {
	rc := httpserver.DefaultRouterConfig()
	rc.Handler = h
	rc.Tracer = tp
	rc.Logger = log.With("listener", "local")
	rc.RateLimit = 0
	return localserver.New(path, httpserver.NewRouter(rc), log)
}

// watchConfig applies the settings that can change at runtime whenever
// the configuration file is rewritten. Invalid configurations are logged
// and ignored.
func watchConfig(loader *confloader.Loader, e *engine.Engine, cp *engine.Checkpointer, log *slog.Logger) (*confloader.Watcher, error) {
	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(log.With("component", "config")))
	if err != nil {
		return nil, err
	}
	if err := w.Watch(loader.FilePath()); err != nil {
		_ = w.Close()
		return nil, err
	}
	var mu sync.Mutex
	w.OnChange(func(string) {
		mu.Lock()
		defer mu.Unlock()
		cfg, err := loadConfig(loader)
		if err != nil {
			log.Error("configuration reload rejected", "error", err)
			return
		}
		changed := loader.Changed()
		if len(changed) == 0 {
			log.Debug("configuration file touched without changes")
			return
		}
		applyRuntimeConfig(cfg, e, cp)
		log.Info("configuration reloaded",
			"changed", changed,
			"checkpoint_parallelism", cfg.Engine.CheckpointParallelism,
			"recovery_parallelism", cfg.Engine.RecoveryParallelism,
			"checkpoint_interval", cfg.Engine.CheckpointInterval,
			"log_level", cfg.Log.Level)
	})
	go w.Run()
	return w, nil
}

// applyRuntimeConfig copies the hot-reloadable settings onto the running
// components. Storage, listener and identity settings need a restart.
func applyRuntimeConfig(cfg *config.ServerConfig, e *engine.Engine, cp *engine.Checkpointer) {
	_ = e.SetParallelism(cfg.Engine.CheckpointParallelism, cfg.Engine.RecoveryParallelism)
	e.SetTemplatize(cfg.Engine.TemplatizeExpressions)
	cp.SetInterval(cfg.Engine.CheckpointInterval)
	_ = logger.SetLevel(cfg.Log.Level)
}
