package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ROCTUP/1c-mcp-toolkit/internal/domain/notify"
	"github.com/ROCTUP/1c-mcp-toolkit/internal/port/outbound"
	"github.com/ROCTUP/1c-mcp-toolkit/internal/service"
)

const (
	// DefaultKeepaliveInterval is how long a stream may stay silent before a ping frame.
	DefaultKeepaliveInterval = 30 * time.Second
	// DefaultMaxLegacyBody is the body ceiling of POST /mcp/message.
	DefaultMaxLegacyBody = 1 << 20
	// DefaultShutdownTimeout bounds http.Server.Shutdown in Stop.
	DefaultShutdownTimeout = 5 * time.Second

	probeAttempts = 50
	probeInterval = 100 * time.Millisecond

	instrumentationName = "github.com/ROCTUP/1c-mcp-toolkit/internal/adapter/inbound/http"
)

// ErrAlreadyRunning is returned by Start when the listener is already serving.
var ErrAlreadyRunning = errors.New("http transport already running")

// HTTPTransport is the inbound adapter that suspends HTTP requests until the
// decision-maker resolves them through the bridge service.
type HTTPTransport struct {
	service  *service.BridgeService
	notifier outbound.Notifier
	logger   *slog.Logger
	metrics  *Metrics
	tracer   trace.Tracer
	tp       trace.TracerProvider
	mp       metric.MeterProvider
	otelInst otelInstruments

	host              string
	keepaliveInterval time.Duration
	maxEventBody      int
	maxLegacyBody     int
	shutdownTimeout   time.Duration

	// mu serializes Start and Stop.
	mu        sync.Mutex
	running   bool
	server    *http.Server
	port      int
	serveDone chan struct{}
	handlers  sync.WaitGroup

	// regMu orders request registration against the shutdown sweep: a request
	// is either registered before the sweep or sees stopping.
	regMu    sync.RWMutex
	stopping bool
}

// Option is a functional option for configuring HTTPTransport.
type Option func(*HTTPTransport)

// WithHost sets the interface Start binds to. Default is all interfaces.
func WithHost(host string) Option {
	return func(t *HTTPTransport) {
		t.host = host
	}
}

// WithLogger sets the logger for the HTTP transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *HTTPTransport) {
		t.logger = logger
	}
}

// WithMetrics sets the Prometheus metrics. Without it the transport records
// into a private registry.
func WithMetrics(m *Metrics) Option {
	return func(t *HTTPTransport) {
		t.metrics = m
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider. Default is the
// global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(t *HTTPTransport) {
		t.tp = tp
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider. Default is the
// global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(t *HTTPTransport) {
		t.mp = mp
	}
}

// WithKeepaliveInterval sets the silence after which a stream gets a ping frame.
func WithKeepaliveInterval(d time.Duration) Option {
	return func(t *HTTPTransport) {
		if d > 0 {
			t.keepaliveInterval = d
		}
	}
}

// WithMaxEventBody sets the body size above which notifications omit the body.
func WithMaxEventBody(n int) Option {
	return func(t *HTTPTransport) {
		if n > 0 {
			t.maxEventBody = n
		}
	}
}

// WithMaxLegacyBody sets the 413 ceiling of POST /mcp/message.
func WithMaxLegacyBody(n int) Option {
	return func(t *HTTPTransport) {
		if n > 0 {
			t.maxLegacyBody = n
		}
	}
}

// WithShutdownTimeout bounds the graceful part of Stop.
func WithShutdownTimeout(d time.Duration) Option {
	return func(t *HTTPTransport) {
		if d > 0 {
			t.shutdownTimeout = d
		}
	}
}

// NewHTTPTransport creates an HTTP transport over the bridge service. Every
// suspended request is announced through notifier.
func NewHTTPTransport(svc *service.BridgeService, notifier outbound.Notifier, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		service:           svc,
		notifier:          notifier,
		logger:            slog.Default(),
		keepaliveInterval: DefaultKeepaliveInterval,
		maxEventBody:      notify.DefaultMaxBody,
		maxLegacyBody:     DefaultMaxLegacyBody,
		shutdownTimeout:   DefaultShutdownTimeout,
	}

	for _, opt := range opts {
		opt(t)
	}

	if t.notifier == nil {
		t.notifier = outbound.NotifierFunc(func(context.Context, string, string, []byte) bool { return false })
	}
	if t.metrics == nil {
		t.metrics = NewMetrics(prometheus.NewRegistry(), svc.Store())
	}
	if t.tp == nil {
		t.tp = otel.GetTracerProvider()
	}
	t.tracer = t.tp.Tracer(instrumentationName)
	if t.mp == nil {
		t.mp = otel.GetMeterProvider()
	}
	t.otelInst = newOtelInstruments(t.mp)
	return t
}

// Handler returns the listener's full handler chain:
// otelhttp -> Metrics -> RequestID -> routes.
func (t *HTTPTransport) Handler() http.Handler {
	var h http.Handler = http.HandlerFunc(t.route)
	h = RequestIDMiddleware(t.logger)(h)
	h = MetricsMiddleware(t.metrics)(h)
	return otelhttp.NewHandler(h, "mcp-bridge",
		otelhttp.WithTracerProvider(t.tp),
		otelhttp.WithMessageEvents(otelhttp.ReadEvents, otelhttp.WriteEvents),
	)
}

// Start binds port on the configured host and serves in the background. It
// returns only after the listener accepts connections. Port 0 picks a free
// port; see Port.
func (t *HTTPTransport) Start(port int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return ErrAlreadyRunning
	}

	addr := net.JoinHostPort(t.host, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           t.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	done := make(chan struct{})

	t.regMu.Lock()
	t.stopping = false
	t.regMu.Unlock()

	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("http listener stopped", "error", err)
		}
	}()

	boundPort := ln.Addr().(*net.TCPAddr).Port
	if err := probe(dialAddr(ln.Addr()), probeAttempts, probeInterval); err != nil {
		_ = srv.Close()
		<-done
		return fmt.Errorf("listener on %s did not come up: %w", addr, err)
	}

	t.server = srv
	t.serveDone = done
	t.port = boundPort
	t.running = true
	t.logger.Info("starting HTTP bridge", "addr", ln.Addr().String())
	return nil
}

// Stop halts the listener, completes every pending request (waiting ones get
// a 503, streams drain and end), and waits for every handler to return.
// Calling Stop on a stopped transport is a no-op.
func (t *HTTPTransport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return nil
	}
	t.running = false

	t.regMu.Lock()
	t.stopping = true
	t.regMu.Unlock()

	t.service.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), t.shutdownTimeout)
	defer cancel()
	if err := t.server.Shutdown(ctx); err != nil {
		t.logger.Warn("graceful shutdown incomplete, closing connections", "error", err)
		_ = t.server.Close()
	}
	<-t.serveDone
	t.handlers.Wait()

	t.server = nil
	t.port = 0
	t.logger.Info("HTTP bridge shutdown complete")
	return nil
}

// IsRunning reports whether the listener is serving.
func (t *HTTPTransport) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Port returns the bound port, or 0 when stopped.
func (t *HTTPTransport) Port() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port
}

// Metrics returns the metrics the transport records into.
func (t *HTTPTransport) Metrics() *Metrics {
	return t.metrics
}

// dialAddr turns a listener address into one a local client can dial.
func dialAddr(a net.Addr) string {
	tcp, ok := a.(*net.TCPAddr)
	if !ok {
		return a.String()
	}
	host := tcp.IP.String()
	// a wildcard listener is dual-stack, so IPv4 loopback always reaches it
	if tcp.IP == nil || tcp.IP.IsUnspecified() {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(tcp.Port))
}

// probe dials addr until a connection succeeds or attempts run out.
func probe(addr string, attempts int, interval time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		var conn net.Conn
		conn, err = net.DialTimeout("tcp", addr, interval)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		time.Sleep(interval)
	}
	return err
}
