package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ROCTUP/1c-mcp-toolkit/internal/domain/notify"
	"github.com/ROCTUP/1c-mcp-toolkit/internal/domain/pending"
	"github.com/ROCTUP/1c-mcp-toolkit/internal/domain/stream"
)

var errStopping = errors.New("server shutting down")

// subscribeHeaders mark a GET /mcp as a streamable-HTTP subscription rather
// than a legacy SSE one.
var subscribeHeaders = []string{"Mcp-Session-Id", "Mcp-Protocol-Version", "Last-Event-Id"}

// outcome is how a bridged request ended.
type outcome int

const (
	outcomeDecided outcome = iota
	outcomeResponse
	outcomeStream
	outcomeTimeout
	outcomeAbandoned
	outcomeError
)

func (o outcome) String() string {
	switch o {
	case outcomeDecided:
		return "decided"
	case outcomeResponse:
		return "response"
	case outcomeStream:
		return "stream"
	case outcomeTimeout:
		return "timeout"
	case outcomeAbandoned:
		return "abandoned"
	default:
		return "error"
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// route dispatches on method and path. Anything unmatched is a JSON 404.
func (t *HTTPTransport) route(w http.ResponseWriter, r *http.Request) {
	t.handlers.Add(1)
	defer t.handlers.Done()

	path := r.URL.Path
	switch {
	case path == "/mcp" && r.Method == http.MethodPost:
		t.handleCounted(w, r, notify.KindMCPPost)
	case path == "/mcp" && r.Method == http.MethodGet:
		t.handleSubscribe(w, r)
	case path == "/mcp" && r.Method == http.MethodDelete:
		t.handleCounted(w, r, notify.KindRequest)
	case path == "/mcp/message" && r.Method == http.MethodPost:
		t.handleLegacyMessage(w, r)
	case path == "/health" && r.Method == http.MethodGet:
		t.handleCounted(w, r, notify.KindRequest)
	case strings.HasPrefix(path, "/api/") && (r.Method == http.MethodGet || r.Method == http.MethodPost):
		t.handleCounted(w, r, notify.KindRequest)
	default:
		writeJSONError(w, http.StatusNotFound, "Not Found")
	}
}

// handleCounted serves routes that count toward the admission limit and wait
// for a decision at most RequestTimeout.
func (t *HTTPTransport) handleCounted(w http.ResponseWriter, r *http.Request, kind notify.Kind) {
	if !t.service.Admit() {
		t.metrics.RejectionsTotal.WithLabelValues("capacity").Inc()
		LoggerFromContext(r.Context()).Warn("request rejected at capacity",
			"kind", kind,
			"max_concurrent", t.service.MaxConcurrent(),
		)
		writeJSONError(w, http.StatusServiceUnavailable, "Server is busy")
		return
	}

	req, ok := t.register(w, r, kind)
	if !ok {
		t.service.Release()
		return
	}

	t.bridge(w, r, req, kind, t.service.RequestTimeout(), func(outcome) {
		t.service.Release()
		t.service.Store().Remove(req.ID())
	})
}

// handleSubscribe serves GET /mcp: uncounted, and waits for a decision
// without a time limit.
func (t *HTTPTransport) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	kind := notify.KindSSELegacyConnect
	for _, name := range subscribeHeaders {
		if _, ok := r.Header[name]; ok {
			kind = notify.KindSSEConnect
			break
		}
	}

	req, ok := t.register(w, r, kind)
	if !ok {
		return
	}

	ctx := r.Context()
	t.bridge(w, r, req, kind, 0, func(o outcome) {
		if o == outcomeStream || o == outcomeAbandoned {
			t.notify(ctx, notify.KindSSEClosed, notify.MarshalClosed(req.ID()))
		}
		t.service.Store().Remove(req.ID())
	})
}

// handleLegacyMessage serves POST /mcp/message: the message is announced
// with its full body and acknowledged at once, nothing waits for a decision.
func (t *HTTPTransport) handleLegacyMessage(w http.ResponseWriter, r *http.Request) {
	logger := LoggerFromContext(r.Context())

	if !r.URL.Query().Has("session_id") {
		t.metrics.RejectionsTotal.WithLabelValues("bad_request").Inc()
		writeJSONError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	if t.service.AtCapacity() {
		t.metrics.RejectionsTotal.WithLabelValues("capacity").Inc()
		logger.Warn("legacy message rejected at capacity", "max_concurrent", t.service.MaxConcurrent())
		writeJSONError(w, http.StatusTooManyRequests, "Too many concurrent requests")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, int64(t.maxLegacyBody)+1))
	if err != nil {
		t.metrics.RejectionsTotal.WithLabelValues("bad_request").Inc()
		writeJSONError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}
	if len(body) > t.maxLegacyBody {
		t.metrics.RejectionsTotal.WithLabelValues("body_too_large").Inc()
		writeJSONError(w, http.StatusRequestEntityTooLarge, "Request body too large")
		return
	}

	id := uuid.New().String()
	payload := notify.NewPayload(id, capture(r, body), 0)
	t.notify(r.Context(), notify.KindSSELegacyMessage, payload.Marshal())
	t.metrics.BridgedTotal.WithLabelValues(string(notify.KindSSELegacyMessage), "accepted").Inc()

	logger.Debug("legacy message accepted", "pending_id", id, "session_id", r.URL.Query().Get("session_id"))
	w.WriteHeader(http.StatusAccepted)
}

// register reads the body, creates the pending request and announces it.
// On failure it has already written the response.
func (t *HTTPTransport) register(w http.ResponseWriter, r *http.Request, kind notify.Kind) (*pending.Request, bool) {
	logger := LoggerFromContext(r.Context())

	body, err := io.ReadAll(r.Body)
	if err != nil {
		t.metrics.RejectionsTotal.WithLabelValues("bad_request").Inc()
		writeJSONError(w, http.StatusBadRequest, "Failed to read request body")
		return nil, false
	}

	c := capture(r, body)
	req, err := t.add(c)
	if err != nil {
		if errors.Is(err, errStopping) {
			t.metrics.RejectionsTotal.WithLabelValues("shutting_down").Inc()
			writeResponse(w, pending.ShutdownResponse())
			return nil, false
		}
		logger.Error("failed to register request", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "Internal error")
		return nil, false
	}

	payload := notify.NewPayload(req.ID(), c, t.maxEventBody)
	t.notify(r.Context(), kind, payload.Marshal())
	logger.Debug("request awaiting decision",
		"pending_id", req.ID(),
		"kind", kind,
		"path", c.Path,
		"body_truncated", payload.BodyTruncated,
	)
	return req, true
}

func (t *HTTPTransport) add(c pending.Capture) (*pending.Request, error) {
	t.regMu.RLock()
	defer t.regMu.RUnlock()
	if t.stopping {
		return nil, errStopping
	}
	return t.service.Store().Add(uuid.New().String(), c)
}

// bridge waits for the decision on req and turns it into the HTTP response.
// done runs exactly once, after the response (streaming included) has ended.
func (t *HTTPTransport) bridge(w http.ResponseWriter, r *http.Request, req *pending.Request, kind notify.Kind, timeout time.Duration, done func(outcome)) {
	logger := LoggerFromContext(r.Context()).With("pending_id", req.ID(), "kind", kind)

	ctx, span := t.tracer.Start(r.Context(), "bridge.await_decision", trace.WithAttributes(
		attribute.String("pending.id", req.ID()),
		attribute.String("bridge.kind", string(kind)),
	))
	start := time.Now()
	o := t.await(ctx, req, timeout)
	wait := time.Since(start)
	t.metrics.DecisionLatency.WithLabelValues(string(kind)).Observe(wait.Seconds())

	switch o {
	case outcomeTimeout:
		logger.Warn("decision timed out", "timeout", timeout)
		writeJSONError(w, http.StatusGatewayTimeout, "Gateway Timeout")
	case outcomeAbandoned:
		logger.Info("client went away before a decision")
	default:
		state, resp, st := req.Outcome()
		switch {
		case st != nil:
			// SSE_ACTIVE, or COMPLETED because the stream was opened and
			// closed before this goroutine woke: queued frames still go out.
			o = outcomeStream
		case state == pending.StateSSEActive:
			logger.Error("stream state without a stream")
			writeJSONError(w, http.StatusInternalServerError, "Internal error: SSE stream not initialized")
			o = outcomeError
		default:
			writeResponse(w, resp)
			o = outcomeResponse
			logger.Debug("response dispatched", "status", resp.Status)
		}
		if st != nil {
			span.SetAttributes(attribute.String("bridge.outcome", o.String()))
			span.End()
			t.serveStream(w, r, st, logger)
			st.Disconnect()
			st.Close()
			logger.Debug("stream ended")
			done(o)
			t.recordOutcome(ctx, kind, o, wait)
			return
		}
	}

	span.SetAttributes(attribute.String("bridge.outcome", o.String()))
	span.End()
	done(o)
	t.recordOutcome(ctx, kind, o, wait)
}

func (t *HTTPTransport) recordOutcome(ctx context.Context, kind notify.Kind, o outcome, wait time.Duration) {
	t.metrics.BridgedTotal.WithLabelValues(string(kind), o.String()).Inc()
	t.otelInst.record(context.WithoutCancel(ctx), string(kind), o.String(), wait)
}

// await blocks until req leaves PENDING, the timeout elapses (timeout <= 0
// waits forever), or the client goes away. Losing the expiry race to a
// concurrent decision counts as decided.
func (t *HTTPTransport) await(ctx context.Context, req *pending.Request, timeout time.Duration) outcome {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-req.Decided():
	case <-expired:
		if req.Expire() {
			return outcomeTimeout
		}
	case <-ctx.Done():
		if req.Expire() {
			return outcomeAbandoned
		}
	}
	return outcomeDecided
}

// serveStream writes st as an SSE body until it is closed or the client goes
// away. A silent stream gets a keepalive frame every keepaliveInterval.
func (t *HTTPTransport) serveStream(w http.ResponseWriter, r *http.Request, st *stream.Stream, logger *slog.Logger) {
	h := w.Header()
	for k, v := range st.Headers() {
		if skipHeader(k) {
			continue
		}
		h.Set(k, v)
	}
	if h.Get("Content-Type") == "" {
		h.Set("Content-Type", "text/event-stream")
	}
	if h.Get("Cache-Control") == "" {
		h.Set("Cache-Control", "no-cache")
	}
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	flush := func() error {
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
		return nil
	}
	if err := flush(); err != nil {
		st.Disconnect()
		return
	}

	t.metrics.ActiveStreams.Inc()
	defer t.metrics.ActiveStreams.Dec()

	stop := context.AfterFunc(r.Context(), st.Disconnect)
	defer stop()

	for {
		frame, res := st.Wait(t.keepaliveInterval)
		switch res {
		case stream.Event:
		case stream.Timeout:
			frame = stream.Keepalive
		default:
			return
		}

		if _, err := io.WriteString(w, frame); err != nil {
			logger.Debug("stream write failed", "error", err)
			st.Disconnect()
			return
		}
		if err := flush(); err != nil {
			logger.Debug("stream flush failed", "error", err)
			st.Disconnect()
			return
		}
	}
}

// notify sends a notification detached from the request's cancellation, so
// a stream-closed event still goes out after the client is gone.
func (t *HTTPTransport) notify(ctx context.Context, kind notify.Kind, payload []byte) {
	result := "delivered"
	if !t.notifier.Notify(context.WithoutCancel(ctx), notify.Source, string(kind), payload) {
		result = "dropped"
		LoggerFromContext(ctx).Warn("notification not delivered", "kind", kind)
	}
	t.metrics.NotificationsTotal.WithLabelValues(string(kind), result).Inc()
}

// capture builds the decision-maker's view of r.
func capture(r *http.Request, body []byte) pending.Capture {
	headers := notify.CaptureHeaders(r.Header)
	if r.Host != "" {
		headers["host"] = r.Host
	}
	return pending.Capture{
		Method:  r.Method,
		Path:    r.URL.Path,
		Query:   notify.CaptureQuery(r.URL.Query()),
		Headers: headers,
		Body:    string(body),
	}
}

// skipHeader reports headers the server computes itself.
func skipHeader(name string) bool {
	switch http.CanonicalHeaderKey(name) {
	case "Content-Length", "Transfer-Encoding", "Connection":
		return true
	}
	return false
}

// writeResponse dispatches a plain decided response.
func writeResponse(w http.ResponseWriter, resp pending.Response) {
	if resp.Status < 200 || resp.Status > 599 {
		writeJSONError(w, http.StatusInternalServerError, "Internal error: invalid response status")
		return
	}
	for k, v := range resp.Headers {
		if skipHeader(k) {
			continue
		}
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.Status)
	_, _ = io.WriteString(w, resp.Body)
}

// writeJSONError writes {"error": message} with the given status.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	body, err := json.Marshal(errorBody{Error: message})
	if err != nil {
		body = []byte(`{"error":"Internal error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
