// cmd/rotationd/main.go

// rotationd is the rotation planning daemon. It wires the rules engine,
// session manager, persistence pipeline and observability stack behind
// the HTTP and WebSocket surface, then runs until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/courtkit/rotation/internal/api"
	"github.com/courtkit/rotation/internal/config"
	"github.com/courtkit/rotation/internal/dispatcher"
	"github.com/courtkit/rotation/internal/handlers"
	"github.com/courtkit/rotation/internal/influx"
	"github.com/courtkit/rotation/internal/logging"
	"github.com/courtkit/rotation/internal/monitor"
	"github.com/courtkit/rotation/internal/otel"
	"github.com/courtkit/rotation/internal/rules"
	"github.com/courtkit/rotation/internal/server"
	"github.com/courtkit/rotation/internal/session"
	"github.com/courtkit/rotation/internal/storage"
	"github.com/courtkit/rotation/internal/worker"
)

const serviceName = "rotationd"

// version is stamped via -ldflags at release time.
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	configDir := flag.String("config", ".", "directory containing rotationd.cfg.json")
	addr := flag.String("addr", "", "listen address, overrides http.addr")
	storageType := flag.String("storage", "", "storage backend, overrides storage.type (memory, database, websocket)")
	logLevel := flag.String("loglevel", "", "log level, overrides logLevel")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s %s\n", serviceName, version)
		return
	}

	// .env values land in the environment before viper reads it.
	_ = godotenv.Load()

	if err := config.Load(*configDir); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
	if *addr != "" {
		config.Set("http.addr", *addr)
	}
	if *storageType != "" {
		config.Set("storage.type", *storageType)
	}
	if *logLevel != "" {
		config.Set("logLevel", *logLevel)
	}

	if args := flag.Args(); len(args) > 0 {
		if err := runCommand(args[0], args[1:]); err != nil {
			fmt.Fprintf(os.Stderr, "%s %s: %v\n", serviceName, args[0], err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

// run wires the full service and blocks until a shutdown signal or a
// listener failure.
func run() error {
	sessionStart := time.Now().UTC()

	logsDir := config.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return fmt.Errorf("creating logs dir: %w", err)
	}
	logPath := logging.LogFilePath(logsDir, serviceName, sessionStart)
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer logFile.Close()

	logLevel := config.GetString("logLevel")

	// Infrastructure log: zerolog to stdout and the session file, plus
	// GELF when Graylog is configured.
	graylogAddr := ""
	if gl := config.GetGraylogConfig(); gl.Enabled {
		graylogAddr = gl.Address
	}
	logManager := logging.NewManager()
	if err := logManager.Setup(logLevel, logFile, graylogAddr); err != nil {
		return fmt.Errorf("logging setup: %w", err)
	}
	defer logManager.Close()
	log := logManager.Logger()

	log.Info().
		Str("version", version).
		Str("logFile", logPath).
		Msg("Starting rotationd")

	// OTel log pipeline, exporting to the session file and optionally to
	// an OTLP collector.
	otelCfg := config.GetOTelConfig()
	provider, err := otel.New(otel.Config{
		Enabled:      otelCfg.Enabled,
		ServiceName:  otelCfg.ServiceName,
		BatchTimeout: otelCfg.BatchTimeout,
		LogWriter:    logFile,
		Endpoint:     otelCfg.Endpoint,
		Insecure:     otelCfg.Insecure,
	})
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}

	// Operation log: slog to the session file, bridged into OTel when
	// enabled. The dynamic context funcs are wired once the components
	// they read exist.
	slogManager := logging.NewSlogManager()
	slogManager.Setup(logFile, logLevel, provider.LoggerProvider())

	storageCfg := config.GetStorageConfig()
	backend, err := storage.NewBackend(storageCfg, log)
	if err != nil {
		return fmt.Errorf("storage setup: %w", err)
	}
	if err := backend.Init(); err != nil {
		return fmt.Errorf("storage init: %w", err)
	}
	log.Info().Str("type", storageCfg.Type).Msg("Storage backend ready")

	pool := worker.NewPool(worker.Dependencies{
		Backend: backend,
		Logger:  log,
	}, worker.Config{})
	pool.Start()

	engineCfg := config.GetEngineConfig()
	sessions := session.NewManager(session.Dependencies{
		LogManager: slogManager,
	}, session.Config{
		Engine: rules.Config{
			SnapEnabled:      engineCfg.SnapEnabled,
			BoundsEnabled:    engineCfg.BoundsEnabled,
			AllowServiceZone: engineCfg.AllowServiceZone,
		},
		HistoryDepth: engineCfg.HistoryDepth,
	})

	slogManager.GetSessionCount = sessions.Count
	slogManager.GetBackendType = func() string { return storageCfg.Type }
	slogManager.IsPipelineRunning = pool.IsRunning

	var influxManager *influx.Manager
	if config.GetInfluxConfig().Enabled {
		influxManager = influx.NewManager(log, filepath.Join(logsDir, "influx_backup.gz"))
		if err := influxManager.Connect(); err != nil {
			log.Warn().Err(err).Msg("InfluxDB setup failed, metric points disabled")
			influxManager = nil
		} else {
			defer influxManager.Close()
		}
	}

	var hub *api.Client
	if hubCfg := config.GetHubConfig(); hubCfg.ServerURL != "" {
		hub = api.New(hubCfg.ServerURL, hubCfg.APIKey)
		go probeHub(hub, log)
	}

	svc := handlers.NewService(handlers.Dependencies{
		Sessions:   sessions,
		Backend:    backend,
		Pipeline:   pool,
		Hub:        hub,
		Influx:     influxManager,
		LogManager: slogManager,
	})

	disp, err := dispatcher.New(logManager.CommandLogger())
	if err != nil {
		return fmt.Errorf("dispatcher setup: %w", err)
	}
	svc.RegisterCommands(disp)

	srv := server.New(server.Dependencies{
		Service:    svc,
		Dispatcher: disp,
		Logger:     log,
	}, config.GetServerConfig())

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	mon := monitor.NewService(monitor.Dependencies{
		Service:  svc,
		Pipeline: pool,
		Influx:   influxManager,
		Logger:   log,
	}, monitor.Config{Interval: config.GetMonitorInterval()})
	mon.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("http server: %w", err)
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Stop taking new work, then drain in dependency order: listeners,
	// monitor, sessions, pipeline, backend, log exporters.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown did not complete cleanly")
	}
	mon.Stop()
	sessions.CloseAll()
	pool.Stop()
	if err := backend.Close(); err != nil {
		log.Warn().Err(err).Msg("Storage backend close failed")
	}
	if err := provider.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("OTel shutdown failed")
	}

	log.Info().Msg("Shutdown complete")
	return runErr
}

// probeHub checks the formation hub once at startup so a bad URL or key
// surfaces in the log early. Publishing stays per-request either way.
func probeHub(hub *api.Client, log zerolog.Logger) {
	if err := hub.Healthcheck(); err != nil {
		log.Warn().Err(err).Msg("Formation hub unreachable, share publishing will fail until it returns")
		return
	}
	log.Info().Msg("Formation hub reachable")
}
