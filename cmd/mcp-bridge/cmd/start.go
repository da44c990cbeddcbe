package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/ROCTUP/1c-mcp-toolkit/internal/adapter/inbound/control"
	bridgehttp "github.com/ROCTUP/1c-mcp-toolkit/internal/adapter/inbound/http"
	"github.com/ROCTUP/1c-mcp-toolkit/internal/adapter/outbound/notify"
	"github.com/ROCTUP/1c-mcp-toolkit/internal/adapter/outbound/telemetry"
	"github.com/ROCTUP/1c-mcp-toolkit/internal/config"
	"github.com/ROCTUP/1c-mcp-toolkit/internal/domain/pending"
	"github.com/ROCTUP/1c-mcp-toolkit/internal/port/outbound"
	"github.com/ROCTUP/1c-mcp-toolkit/internal/service"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the bridge",
	Long: `Start the bridge listener and its control plane.

The listener suspends every MCP request until the decision-maker resolves it
through the control plane. On SIGINT/SIGTERM the listener answers waiting
requests with 503, ends open streams and exits.

Examples:
  # Start with config file settings
  mcp-bridge start

  # Override the listener port
  mcp-bridge start --port 6010

  # Start with a specific config file
  mcp-bridge --config /path/to/mcp-bridge.yaml start`,
	RunE: runStart,
}

var startPort int

// stopTimeout bounds the control plane shutdown and the telemetry flush.
const stopTimeout = 5 * time.Second

func init() {
	startCmd.Flags().IntVar(&startPort, "port", 0, "listener port (overrides server.http_addr)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	port := cfg.Server.Port()
	if cmd.Flags().Changed("port") {
		port = startPort
	}

	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))
	slog.SetDefault(logger)

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	// Write PID file so "mcp-bridge stop" can find us.
	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	if err := run(ctx, cfg, port, logger); err != nil {
		return err
	}

	logger.Info("mcp-bridge stopped")
	return nil
}

// run wires the bridge, serves until ctx ends and shuts down in order:
// listener (waiting requests get 503), then control plane, then telemetry.
func run(ctx context.Context, cfg *config.Config, port int, logger *slog.Logger) error {
	tel, err := telemetry.Setup(telemetry.Config{
		Tracing:        cfg.Telemetry.Tracing,
		Metrics:        cfg.Telemetry.Metrics,
		MetricInterval: cfg.Telemetry.MetricIntervalDuration(),
		ServiceName:    "mcp-bridge",
		Version:        Version,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := tel.Shutdown(flushCtx); err != nil {
			logger.Warn("telemetry shutdown incomplete", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	store := pending.NewStore()
	svc := service.NewBridgeService(store, logger)
	svc.SetRequestTimeout(cfg.Bridge.RequestTimeoutDuration())
	svc.SetMaxConcurrent(cfg.Bridge.MaxConcurrent)

	notifier, queue := buildNotifier(cfg.Notify, logger)
	metrics := bridgehttp.NewMetrics(reg, store)

	listener := bridgehttp.NewHTTPTransport(svc, notifier,
		bridgehttp.WithHost(cfg.Server.Host()),
		bridgehttp.WithLogger(logger),
		bridgehttp.WithMetrics(metrics),
		bridgehttp.WithTracerProvider(tel.TracerProvider),
		bridgehttp.WithMeterProvider(tel.MeterProvider),
		bridgehttp.WithKeepaliveInterval(cfg.Bridge.KeepaliveDuration()),
		bridgehttp.WithMaxEventBody(cfg.Bridge.MaxEventBodyBytes()),
		bridgehttp.WithMaxLegacyBody(cfg.Bridge.MaxLegacyBodyBytes()),
	)

	ctrlOpts := []control.Option{
		control.WithResolutionRecorder(metrics),
		control.WithGatherer(reg),
		control.WithLogger(logger),
		control.WithTracerProvider(tel.TracerProvider),
		control.WithPollTimeout(cfg.Control.PollTimeoutDuration()),
		control.WithVersion(Version),
	}
	if queue != nil {
		ctrlOpts = append(ctrlOpts, control.WithFeed(queue))
	}
	ctrl := control.NewServer(svc, listener, ctrlOpts...)

	if err := ctrl.Start(cfg.Control.HTTPAddr); err != nil {
		return fmt.Errorf("failed to start control plane: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := ctrl.Stop(stopCtx); err != nil {
			logger.Warn("control plane shutdown incomplete", "error", err)
		}
	}()

	if err := listener.Start(port); err != nil {
		return fmt.Errorf("failed to start listener: %w", err)
	}

	config.Watch(cfg, svc, logger)
	printBanner(os.Stderr, Version, cfg, listener.Port(), ctrl.Addr())

	<-ctx.Done()
	logger.Info("shutting down")

	return listener.Stop()
}

// buildNotifier returns the configured notifier. The queue is returned as
// well in queue mode so the control plane can serve it on /events.
func buildNotifier(cfg config.NotifyConfig, logger *slog.Logger) (outbound.Notifier, *notify.Queue) {
	if cfg.Mode == "webhook" {
		return notify.NewWebhook(cfg.WebhookURL,
			notify.WithTimeout(cfg.WebhookTimeoutDuration()),
			notify.WithWebhookLogger(logger),
		), nil
	}
	q := notify.NewQueue(cfg.QueueDepth, notify.WithQueueLogger(logger))
	return q, q
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// printBanner prints a startup banner with the listener and control addresses.
func printBanner(w io.Writer, version string, cfg *config.Config, port int, controlAddr string) {
	const (
		reset = "\033[0m"
		bold  = "\033[1m"
		cyan  = "\033[36m"
		dim   = "\033[2m"
	)

	host := cfg.Server.Host()
	if host == "" {
		host = "localhost"
	}

	notifyStr := "queue (GET /events)"
	if cfg.Notify.Mode == "webhook" {
		notifyStr = "webhook " + cfg.Notify.WebhookURL
	}

	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "  %s%s mcp-bridge %s%s\n", bold, cyan, version, reset)
	fmt.Fprintf(w, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(w, "  %-14s http://%s:%d/mcp\n", "MCP:", host, port)
	fmt.Fprintf(w, "  %-14s http://%s/rpc\n", "Control:", controlAddr)
	fmt.Fprintf(w, "  %-14s %s\n", "Notify:", notifyStr)
	fmt.Fprintf(w, "  %-14s %d concurrent, %s timeout\n", "Admission:", cfg.Bridge.MaxConcurrent, cfg.Bridge.RequestTimeout)
	fmt.Fprintf(w, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(w, "\n")
}

// pidFilePath returns the standard location for the mcp-bridge PID file.
func pidFilePath() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".mcp-bridge", "server.pid")
	}
	return filepath.Join(os.TempDir(), "mcp-bridge-server.pid")
}

// writePIDFile writes the current process PID to the given path, creating
// parent directories as needed.
func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}

// readPIDFile reads a PID from the given file path. Returns 0 if unreadable.
func readPIDFile(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}

var errNotRunning = errors.New("server is not running")
