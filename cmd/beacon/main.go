// beacon is a telemetry sidecar and smoke-test tool. It loads a config
// file, starts an engine against the configured collector, reports the
// process's runtime metrics until SIGINT or SIGTERM, and drains the
// buffers on the way out.
//
// With --message it sends a single message envelope and exits, which is
// useful for checking credentials and connectivity.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"github.com/strongdm/beacon/internal/config"
	"github.com/strongdm/beacon/pkg/beacon"
	"github.com/strongdm/beacon/pkg/beacon/producers"
	"github.com/strongdm/beacon/pkg/beacon/promstats"
	"github.com/strongdm/beacon/pkg/beacon/transport/httpx"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type flags struct {
	configPath  string
	endpoint    string
	apiKey      string
	environment string
	platform    string
	message     string
	level       string
	echo        bool
	cxdbAddr    string
	metrics     string
	version     bool
}

func parseFlags(args []string) (*flags, *pflag.FlagSet, error) {
	var f flags
	fs := pflag.NewFlagSet("beacon", pflag.ContinueOnError)
	fs.StringVarP(&f.configPath, "config", "c", os.Getenv("BEACON_CONFIG"), "path to beacon.yaml")
	fs.StringVar(&f.endpoint, "endpoint", "", "collector base URL (overrides config)")
	fs.StringVar(&f.apiKey, "api-key", "", "collector API key (overrides config)")
	fs.StringVar(&f.environment, "environment", "", "development or production (overrides config)")
	fs.StringVar(&f.platform, "platform", "", "platform tag (overrides config)")
	fs.StringVarP(&f.message, "message", "m", "", "send one message envelope and exit")
	fs.StringVar(&f.level, "level", string(beacon.LevelInfo), "level of --message: error, warning or info")
	fs.BoolVar(&f.echo, "echo", false, "also print envelopes to stderr")
	fs.StringVar(&f.cxdbAddr, "cxdb", "", "archive envelopes to the cxdb server at this address")
	fs.StringVar(&f.metrics, "metrics-listen", "", "serve Prometheus self-metrics on this address (overrides config)")
	fs.BoolVar(&f.version, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, fs, err
	}
	if fs.NArg() > 0 {
		return nil, fs, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}
	return &f, fs, nil
}

// applyFlags copies explicitly set flags over the loaded configuration.
func applyFlags(cfg *config.Config, f *flags, fs *pflag.FlagSet) {
	if fs.Changed("endpoint") {
		cfg.Beacon.Endpoint = f.endpoint
	}
	if fs.Changed("api-key") {
		cfg.Beacon.APIKey = f.apiKey
	}
	if fs.Changed("environment") {
		cfg.Beacon.Environment = beacon.Environment(f.environment)
	}
	if fs.Changed("platform") {
		cfg.Beacon.Platform = f.platform
	}
	if fs.Changed("metrics-listen") {
		cfg.Metrics.Listen = f.metrics
	}
}

func run(args []string) error {
	start := time.Now()

	f, fs, err := parseFlags(args)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}
	if f.version {
		fmt.Println(beacon.UserAgent(beacon.PlatformCLI))
		return nil
	}

	cfg, err := config.LoadFile(f.configPath)
	if err != nil {
		return err
	}
	applyFlags(cfg, f, fs)
	oneShot := f.message != ""
	if oneShot && !fs.Changed("platform") && cfg.Beacon.Platform == beacon.PlatformServer {
		cfg.Beacon.Platform = beacon.PlatformCLI
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg.Log, os.Stderr)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	transport, err := httpx.New(cfg.Beacon)
	if err != nil {
		return err
	}

	store, closeStore, err := newSessionStore(ctx, cfg.Session, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	sink, closeSink, err := newSink(transport, f, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	registry := prometheus.NewRegistry()
	stats := promstats.New(registry)
	if cfg.Metrics.Listen != "" {
		srv := serveMetrics(cfg.Metrics.Listen, registry, logger)
		defer srv.Close()
	}

	engine, err := beacon.New(cfg.Beacon,
		beacon.WithTransport(transport),
		beacon.WithSink(sink),
		beacon.WithSessionStore(store),
		beacon.WithLogger(logger),
		beacon.WithStats(stats),
		beacon.WithDefaultScrubbing(),
		beacon.WithOnDropped(func(key beacon.BufferKey, count int) {
			logger.Warn("metric records dropped", "key", key.String(), "count", count)
		}),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(context.Background()); err != nil {
			logger.Warn("engine drain incomplete", "error", err)
		}
	}()

	if err := producers.ReportStartup(ctx, engine, start, time.Now()); err != nil {
		logger.Warn("startup metric not delivered", "error", err)
	}

	if oneShot {
		id := engine.CaptureMessage(ctx, f.message, beacon.Level(f.level), nil)
		logger.Info("message sent", "envelope", id, "session", engine.Session(ctx).ID)
		return nil
	}

	logger.Info("beacon started",
		"endpoint", cfg.Beacon.Endpoint,
		"environment", string(cfg.Beacon.Environment),
		"platform", engine.Platform(),
		"session", engine.Session(ctx).ID)

	if cfg.Producers.Enabled {
		process := producers.NewProcess(start, nil)
		runner := producers.NewRunner(engine,
			producers.DefaultRegistry(process).For(engine.Platform()),
			producers.WithInterval(cfg.Producers.Interval),
			producers.WithLogger(logger))
		go func() { _ = runner.Run(ctx) }()
	}

	<-ctx.Done()
	logger.Info("shutting down; draining buffers", "grace", cfg.Beacon.ShutdownGrace.String())
	return nil
}

func serveMetrics(addr string, registry *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", "addr", addr, "error", err)
		}
	}()
	return srv
}
