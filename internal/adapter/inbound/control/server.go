// Package control provides the control plane through which the decision-maker
// drives the bridge: JSON-RPC 2.0 on POST /rpc, a long-poll notification
// feed on GET /events, plus /health and /metrics.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	bridgehttp "github.com/ROCTUP/1c-mcp-toolkit/internal/adapter/inbound/http"
	"github.com/ROCTUP/1c-mcp-toolkit/internal/adapter/outbound/notify"
	"github.com/ROCTUP/1c-mcp-toolkit/internal/domain/pending"
	"github.com/ROCTUP/1c-mcp-toolkit/internal/port/inbound"
	"github.com/ROCTUP/1c-mcp-toolkit/pkg/controlrpc"
)

const (
	// DefaultPollTimeout is the long-poll wait of GET /events without ?timeout.
	DefaultPollTimeout = 25 * time.Second
	// MaxPollTimeout caps ?timeout.
	MaxPollTimeout = 5 * time.Minute

	// maxRPCBodySize caps a JSON-RPC request; resolve calls carry whole response bodies.
	maxRPCBodySize = 16 * 1024 * 1024
)

// Bridge is what the control plane drives.
type Bridge interface {
	inbound.Resolver
	inbound.Tunables
	Stats() pending.Stats
}

// Listener reports the state of the public listener.
type Listener interface {
	IsRunning() bool
	Port() int
}

// Feed is the notification queue drained by GET /events.
type Feed interface {
	Poll(ctx context.Context, timeout time.Duration, max int) []notify.Envelope
	Len() int
	Cap() int
	Dropped() int64
}

// ResolutionRecorder counts resolution calls.
type ResolutionRecorder interface {
	RecordResolution(method string, ok bool)
}

// Server is the control plane HTTP server.
type Server struct {
	bridge      Bridge
	listener    Listener
	feed        Feed
	recorder    ResolutionRecorder
	gatherer    prometheus.Gatherer
	health      *HealthChecker
	logger      *slog.Logger
	tp          trace.TracerProvider
	pollTimeout time.Duration
	startedAt   time.Time

	mu     sync.Mutex
	server *http.Server
	ln     net.Listener
	done   chan struct{}
	cancel context.CancelFunc
}

// Option is a functional option for configuring Server.
type Option func(*Server)

// WithFeed enables GET /events. Without a feed it answers 404.
func WithFeed(feed Feed) Option {
	return func(s *Server) {
		s.feed = feed
	}
}

// WithResolutionRecorder sets where resolution calls are counted.
func WithResolutionRecorder(r ResolutionRecorder) Option {
	return func(s *Server) {
		s.recorder = r
	}
}

// WithGatherer sets the registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithTracerProvider sets the tracer provider of the otelhttp wrapper.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Server) {
		s.tp = tp
	}
}

// WithPollTimeout sets the default long-poll wait.
func WithPollTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.pollTimeout = d
		}
	}
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.health.version = v
	}
}

// NewServer creates the control plane for bridge and listener.
func NewServer(bridge Bridge, listener Listener, opts ...Option) *Server {
	s := &Server{
		bridge:      bridge,
		listener:    listener,
		logger:      slog.Default(),
		pollTimeout: DefaultPollTimeout,
		startedAt:   time.Now(),
		health:      &HealthChecker{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tp == nil {
		s.tp = otel.GetTracerProvider()
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.NewRegistry()
	}
	s.health.bridge = bridge
	s.health.listener = listener
	s.health.feed = s.feed
	return s
}

// Handler returns the control plane routes wrapped in otelhttp and the
// request-id middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+controlrpc.PathRPC, s.handleRPC)
	mux.HandleFunc("GET "+controlrpc.PathEvents, s.handleEvents)
	mux.Handle("GET "+controlrpc.PathHealth, s.health.Handler())
	mux.Handle("GET "+controlrpc.PathMetrics, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	var h http.Handler = mux
	h = bridgehttp.RequestIDMiddleware(s.logger)(h)
	return otelhttp.NewHandler(h, "mcp-bridge-control", otelhttp.WithTracerProvider(s.tp))
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return errors.New("control server already running")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	// long polls end when the base context is cancelled in Stop
	base, cancel := context.WithCancel(context.Background())
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return base },
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("control listener stopped", "error", err)
		}
	}()

	s.server, s.ln, s.done, s.cancel = srv, ln, done, cancel
	s.logger.Info("control plane listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or "" when not running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop ends open long polls and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	s.cancel()
	err := s.server.Shutdown(ctx)
	if err != nil {
		_ = s.server.Close()
	}
	<-s.done
	s.server, s.ln, s.done, s.cancel = nil, nil, nil, nil
	s.logger.Info("control plane stopped")
	return err
}
