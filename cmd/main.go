package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/l0p7/pluginrt/internal/config"
	"github.com/l0p7/pluginrt/internal/credentials"
	"github.com/l0p7/pluginrt/internal/gateway"
	"github.com/l0p7/pluginrt/internal/logging"
	"github.com/l0p7/pluginrt/internal/metrics"
	"github.com/l0p7/pluginrt/internal/plugins"
	"github.com/l0p7/pluginrt/internal/runtime"
	"github.com/l0p7/pluginrt/internal/runtime/admission"
	"github.com/l0p7/pluginrt/internal/server"
	"github.com/l0p7/pluginrt/internal/telemetry"
	"github.com/l0p7/pluginrt/internal/templates"
)

const minJanitorInterval = time.Second

type configLoader interface {
	Load(ctx context.Context) (config.Config, error)
	Watch(ctx context.Context, onChange func(config.Config), onError func(error)) (configWatcher, error)
}

type configWatcher interface {
	Stop()
}

type runnableServer interface {
	Run(ctx context.Context) error
}

type fileLoader struct {
	*config.Loader
}

func (l fileLoader) Watch(ctx context.Context, onChange func(config.Config), onError func(error)) (configWatcher, error) {
	if len(l.Files()) == 0 {
		return nil, nil
	}
	return l.Loader.Watch(ctx, onChange, onError)
}

var (
	newConfigLoader = func(envPrefix, configFile string) configLoader {
		return fileLoader{Loader: config.NewLoader(envPrefix, configFile)}
	}
	newHTTPServer = func(cfg config.Config, logger *slog.Logger, handler http.Handler) (runnableServer, error) {
		return server.New(cfg.Server.Listen, logger, handler)
	}
)

func main() {
	var (
		configFile = flag.String("config", "", "path to plugin configuration file")
		envPrefix  = flag.String("env-prefix", "PLUGINRT", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *envPrefix, *configFile); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, envPrefix, configFile string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loader := newConfigLoader(envPrefix, configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, level, err := logging.New(cfg.Server.Logging)
	if err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry, cfg.Plugin)
	if err != nil {
		logger.Warn("tracing setup failed", slog.Any("error", err))
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Error("tracing shutdown failed", slog.Any("error", err))
		}
	}()

	app, err := newApp(cfg, logger, level, prometheus.NewRegistry())
	if err != nil {
		return err
	}

	app.gate.Start(ctx)
	defer app.gate.Stop()
	go app.plugin.RunJanitor(ctx, janitorInterval(cfg.Cache))

	watcher, err := loader.Watch(ctx, func(next config.Config) {
		parsed, err := logging.ParseLevel(next.Server.Logging.Level)
		if err != nil {
			logger.Warn("config reload ignored log level", slog.Any("error", err))
			return
		}
		level.Set(parsed)
		logger.Info("config reloaded", slog.String("level", logging.LevelName(parsed)))
	}, func(err error) {
		if err != nil {
			logger.Error("config watcher error", slog.Any("error", err))
		}
	})
	if err != nil {
		logger.Error("config watcher setup failed", slog.Any("error", err))
	} else if watcher != nil {
		defer watcher.Stop()
	}

	srv, err := newHTTPServer(cfg, logger, app.handler)
	if err != nil {
		return fmt.Errorf("construct server: %w", err)
	}

	logger.Info("plugin starting",
		slog.String("plugin_kind", app.plugin.Kind()),
		slog.String("plugin_version", cfg.Plugin.Version),
		slog.Int("port", cfg.Server.Listen.Port),
		slog.Bool("initialized", app.creds.Ready()),
	)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server terminated: %w", err)
	}
	logger.Info("server shutdown complete")
	return nil
}

// app is the wired process minus its lifecycle goroutines.
type app struct {
	handler http.Handler
	plugin  plugins.Plugin
	gate    *admission.Gate
	creds   *credentials.Store
}

func newApp(cfg config.Config, logger *slog.Logger, level *slog.LevelVar, reg *prometheus.Registry) (*app, error) {
	recorder := metrics.NewRecorder(reg)

	creds := credentials.NewStore()
	if cfg.Credentials.WorkerID != "" || cfg.Credentials.AuthToken != "" {
		creds.Initialize(cfg.Credentials.WorkerID, cfg.Credentials.AuthToken)
	}

	tracer := telemetry.Tracer()
	gw := gateway.New(cfg.Gateway, creds, gateway.Options{
		Logger:   logger,
		Observer: recorder,
		Tracer:   tracer,
	})

	var sandbox *templates.Sandbox
	if root := strings.TrimSpace(cfg.Templates.Root); root != "" {
		sb, err := templates.NewSandbox(root)
		if err != nil {
			return nil, fmt.Errorf("templates.root: %w", err)
		}
		sandbox = sb
	}

	plugin, err := newPlugin(cfg.Plugin.Kind, plugins.Deps{
		Gateway:   gw,
		Readiness: creds,
		Cache:     cfg.Cache,
		Logger:    logger,
		Metrics:   recorder,
		Tracer:    tracer,
		Templates: templates.NewRenderer(sandbox),
	})
	if err != nil {
		return nil, err
	}

	gate := admission.NewGate(admission.Options{
		Enabled:        cfg.Admission.Enabled,
		SampleInterval: cfg.Admission.SampleInterval(),
		LagThreshold:   cfg.Admission.LagThreshold(),
		Observer:       recorder,
		Logger:         logger,
	})

	shared := runtime.NewShared(runtime.SharedOptions{
		Credentials: creds,
		Level:       level,
		Plugin:      cfg.Plugin,
		Logger:      logger,
	})

	handler := server.NewRouter(server.RouterOptions{
		Logger:            logger,
		CorrelationHeader: cfg.Server.Logging.CorrelationHeader,
		Gate:              gate,
		Metrics:           recorder.Handler(),
		Registrars:        []server.Registrar{shared, plugin},
	})
	return &app{handler: handler, plugin: plugin, gate: gate, creds: creds}, nil
}

// janitorInterval sweeps twice per TTL so expired contexts do not linger for
// more than half a lifetime.
func janitorInterval(cfg config.CacheConfig) time.Duration {
	interval := cfg.TTL() / 2
	if interval < minJanitorInterval {
		return minJanitorInterval
	}
	return interval
}
