// Package service contains the bridge core: the resolution operations the
// decision-maker calls and the runtime admission and timeout policy.
package service

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ROCTUP/1c-mcp-toolkit/internal/ctxkey"
	"github.com/ROCTUP/1c-mcp-toolkit/internal/domain/pending"
	"github.com/ROCTUP/1c-mcp-toolkit/internal/domain/stream"
	"github.com/ROCTUP/1c-mcp-toolkit/internal/port/inbound"
)

const (
	// DefaultRequestTimeout bounds the wait of counted routes.
	DefaultRequestTimeout = 180 * time.Second
	// DefaultMaxConcurrent is the default admission limit.
	DefaultMaxConcurrent = 10
)

// Compile-time checks that BridgeService implements the inbound ports.
var (
	_ inbound.Resolver = (*BridgeService)(nil)
	_ inbound.Tunables = (*BridgeService)(nil)
)

// loggerFromContext retrieves the enriched logger from context.
// Returns nil if no logger is in context, allowing caller to fall back.
func loggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return nil
}

// BridgeService owns the pending request store and applies the decision-maker's
// resolutions to it. The HTTP listener uses it for admission; the control
// plane uses it for resolution calls.
type BridgeService struct {
	store  *pending.Store
	logger *slog.Logger

	requestTimeout atomic.Int64
	maxConcurrent  atomic.Int64
}

// NewBridgeService creates a service over store with default policy.
func NewBridgeService(store *pending.Store, logger *slog.Logger) *BridgeService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &BridgeService{
		store:  store,
		logger: logger,
	}
	s.requestTimeout.Store(int64(DefaultRequestTimeout))
	s.maxConcurrent.Store(DefaultMaxConcurrent)
	return s
}

// Store returns the underlying pending request store.
func (s *BridgeService) Store() *pending.Store {
	return s.store
}

func (s *BridgeService) log(ctx context.Context) *slog.Logger {
	if l := loggerFromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// Resolve completes a pending request with a plain response.
func (s *BridgeService) Resolve(ctx context.Context, id string, status int, headers map[string]string, body string) bool {
	r, ok := s.store.Get(id)
	if !ok {
		s.log(ctx).Debug("resolve for unknown request", "pending_id", id)
		return false
	}
	if err := r.Resolve(pending.Response{Status: status, Headers: headers, Body: body}); err != nil {
		s.log(ctx).Debug("resolve rejected", "pending_id", id, "error", err)
		return false
	}
	s.log(ctx).Debug("request resolved", "pending_id", id, "status", status)
	return true
}

// PushStreamEvent opens or feeds the request's event stream.
func (s *BridgeService) PushStreamEvent(ctx context.Context, id, data string, headers map[string]string, eventType string) bool {
	if eventType == "" {
		eventType = stream.DefaultEventType
	}
	r, ok := s.store.Get(id)
	if !ok {
		s.log(ctx).Debug("stream push for unknown request", "pending_id", id)
		return false
	}
	if err := r.PushStreamEvent(data, headers, eventType); err != nil {
		s.log(ctx).Debug("stream push rejected", "pending_id", id, "error", err)
		return false
	}
	return true
}

// CloseStream ends an active stream.
func (s *BridgeService) CloseStream(ctx context.Context, id string) bool {
	r, ok := s.store.Get(id)
	if !ok {
		s.log(ctx).Debug("close for unknown request", "pending_id", id)
		return false
	}
	if err := r.CloseStream(); err != nil {
		s.log(ctx).Debug("close rejected", "pending_id", id, "error", err)
		return false
	}
	s.log(ctx).Debug("stream closed by decision-maker", "pending_id", id)
	return true
}

// GetBody returns the captured body of a live request, or "" if unknown.
func (s *BridgeService) GetBody(_ context.Context, id string) string {
	r, ok := s.store.Get(id)
	if !ok {
		return ""
	}
	return r.Body()
}

// RequestTimeout returns the bounded wait applied to counted routes.
func (s *BridgeService) RequestTimeout() time.Duration {
	return time.Duration(s.requestTimeout.Load())
}

// SetRequestTimeout changes the bounded wait for requests that start waiting
// afterwards. Non-positive values are ignored.
func (s *BridgeService) SetRequestTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	s.requestTimeout.Store(int64(d))
	s.logger.Info("request timeout updated", "timeout", d)
}

// MaxConcurrent returns the admission limit.
func (s *BridgeService) MaxConcurrent() int {
	return int(s.maxConcurrent.Load())
}

// SetMaxConcurrent changes the admission limit for the next admission check.
// Non-positive values are ignored.
func (s *BridgeService) SetMaxConcurrent(n int) {
	if n <= 0 {
		return
	}
	s.maxConcurrent.Store(int64(n))
	s.logger.Info("max concurrent updated", "max_concurrent", n)
}

// Admit reserves an admission slot for a counted request. Every successful
// Admit must be paired with exactly one Release.
func (s *BridgeService) Admit() bool {
	return s.store.TryIncrementActive(s.MaxConcurrent())
}

// Release returns an admission slot.
func (s *BridgeService) Release() {
	s.store.DecrementActive()
}

// AtCapacity reports whether counted requests currently fill the limit.
func (s *BridgeService) AtCapacity() bool {
	return s.store.IsAtCapacity(s.MaxConcurrent())
}

// Stats returns a snapshot of the store.
func (s *BridgeService) Stats() pending.Stats {
	return s.store.Stats()
}

// Shutdown completes every live request and wakes every waiter.
func (s *BridgeService) Shutdown() int {
	n := s.store.RemoveAll()
	if n > 0 {
		s.logger.Info("completed pending requests on shutdown", "count", n)
	}
	return n
}
