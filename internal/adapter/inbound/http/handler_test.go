package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ROCTUP/1c-mcp-toolkit/internal/domain/notify"
	"github.com/ROCTUP/1c-mcp-toolkit/internal/domain/pending"
	"github.com/ROCTUP/1c-mcp-toolkit/internal/service"
)

// newTestTransport creates an HTTPTransport that is never started; requests
// are served through Handler() with a recorder.
func newTestTransport(t *testing.T, opts ...Option) (*HTTPTransport, *service.BridgeService, *captureNotifier) {
	t.Helper()
	svc := service.NewBridgeService(pending.NewStore(), discardLogger())
	n := newCaptureNotifier()
	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	return NewHTTPTransport(svc, n, opts...), svc, n
}

func TestRouting_NotFound(t *testing.T) {
	t.Parallel()

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/"},
		{http.MethodPut, "/mcp"},
		{http.MethodPatch, "/mcp"},
		{http.MethodGet, "/mcp/"},
		{http.MethodGet, "/mcp/message"},
		{http.MethodDelete, "/mcp/message"},
		{http.MethodPost, "/health"},
		{http.MethodGet, "/healthz"},
		{http.MethodGet, "/api"},
		{http.MethodDelete, "/api/items/1"},
		{http.MethodGet, "/favicon.ico"},
	}

	tr, svc, n := newTestTransport(t)
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tr.Handler().ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			if rec.Code != http.StatusNotFound {
				t.Errorf("status = %d, want 404", rec.Code)
			}
			if rec.Body.String() != `{"error":"Not Found"}` {
				t.Errorf("body = %q", rec.Body.String())
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}
		})
	}

	n.expectNone(t)
	if svc.Store().Len() != 0 || svc.Store().Active() != 0 {
		t.Errorf("404s touched the store: len=%d active=%d", svc.Store().Len(), svc.Store().Active())
	}
}

func TestLegacyMessage(t *testing.T) {
	t.Parallel()

	big := strings.Repeat("x", 100*1024)

	tests := []struct {
		name       string
		target     string
		body       string
		busy       bool
		wantStatus int
		wantBody   string
		wantNotify bool
	}{
		{
			name:       "missing session id",
			target:     "/mcp/message",
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"session_id is required"}`,
		},
		{
			name:       "at capacity",
			target:     "/mcp/message?session_id=s1",
			body:       `{}`,
			busy:       true,
			wantStatus: http.StatusTooManyRequests,
			wantBody:   `{"error":"Too many concurrent requests"}`,
		},
		{
			name:       "body too large",
			target:     "/mcp/message?session_id=s1",
			body:       strings.Repeat("y", DefaultMaxLegacyBody+1),
			wantStatus: http.StatusRequestEntityTooLarge,
			wantBody:   `{"error":"Request body too large"}`,
		},
		{
			name:       "accepted at the limit",
			target:     "/mcp/message?session_id=s1",
			body:       strings.Repeat("z", DefaultMaxLegacyBody),
			wantStatus: http.StatusAccepted,
			wantNotify: true,
		},
		{
			name:       "accepted with empty session id",
			target:     "/mcp/message?session_id=",
			body:       big,
			wantStatus: http.StatusAccepted,
			wantNotify: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tr, svc, n := newTestTransport(t)
			if tt.busy {
				svc.SetMaxConcurrent(1)
				svc.Store().IncrementActive()
			}

			rec := httptest.NewRecorder()
			tr.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, tt.target, strings.NewReader(tt.body)))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
			if svc.Store().Len() != 0 {
				t.Errorf("legacy message registered in the store")
			}

			if !tt.wantNotify {
				n.expectNone(t)
				return
			}
			p := n.nextPayload(t, notify.KindSSELegacyMessage)
			if p.ID == "" {
				t.Error("payload id is empty")
			}
			if p.Body == nil || *p.Body != tt.body {
				t.Error("legacy payload body must be the full body")
			}
			if p.BodyTruncated {
				t.Error("legacy payload must not be truncated")
			}
		})
	}
}

func TestLegacyMessage_DoesNotCount(t *testing.T) {
	t.Parallel()
	tr, svc, n := newTestTransport(t)

	rec := httptest.NewRecorder()
	tr.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp/message?session_id=a", strings.NewReader(`{}`)))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	n.nextPayload(t, notify.KindSSELegacyMessage)
	if got := svc.Store().Active(); got != 0 {
		t.Errorf("Active() = %d, want 0", got)
	}
}

func TestBusyRejectionRecordsMetric(t *testing.T) {
	t.Parallel()
	m := NewMetrics(prometheus.NewRegistry(), nil)
	tr, svc, n := newTestTransport(t, WithMetrics(m))
	svc.SetMaxConcurrent(1)
	svc.Store().IncrementActive()

	rec := httptest.NewRecorder()
	tr.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{}`)))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if got := testutil.ToFloat64(m.RejectionsTotal.WithLabelValues("capacity")); got != 1 {
		t.Errorf("capacity rejections = %v, want 1", got)
	}
	if got := svc.Store().Active(); got != 1 {
		t.Errorf("Active() = %d after rejection, want 1", got)
	}
	n.expectNone(t)
}

func TestRegisterAfterStopIsRejected(t *testing.T) {
	t.Parallel()
	tr, svc, n := newTestTransport(t)
	tr.regMu.Lock()
	tr.stopping = true
	tr.regMu.Unlock()

	rec := httptest.NewRecorder()
	tr.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{}`)))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if rec.Body.String() != `{"error":"Server shutting down"}` {
		t.Errorf("body = %q", rec.Body.String())
	}
	if got := svc.Store().Active(); got != 0 {
		t.Errorf("Active() = %d, want slot released", got)
	}
	n.expectNone(t)
}

func TestNotifyDroppedStillWaits(t *testing.T) {
	t.Parallel()
	m := NewMetrics(prometheus.NewRegistry(), nil)
	svc := service.NewBridgeService(pending.NewStore(), discardLogger())
	tr := NewHTTPTransport(svc, nil, WithLogger(discardLogger()), WithMetrics(m))

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		rec := httptest.NewRecorder()
		tr.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ping", nil))
		done <- rec
	}()

	eventually(t, "dropped notification recorded", func() bool {
		return testutil.ToFloat64(m.NotificationsTotal.WithLabelValues("REQUEST", "dropped")) == 1
	})
	ids := svc.Store().IDs()
	if len(ids) != 1 {
		t.Fatalf("IDs() = %v, want one pending request", ids)
	}
	id := ids[0]

	svc.Resolve(t.Context(), id, 204, nil, "")
	rec := <-done
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
}

func TestCapture(t *testing.T) {
	t.Parallel()
	r := httptest.NewRequest(http.MethodPost, "http://bridge.local:6003/api/x?a=1&a=2&b=", nil)
	r.Header.Set("X-Token", "first")
	r.Header.Add("X-Token", "second")

	c := capture(r, []byte("payload"))
	if c.Method != http.MethodPost || c.Path != "/api/x" || c.Body != "payload" {
		t.Errorf("capture = %+v", c)
	}
	if got := c.Headers["x-token"]; got != "second" {
		t.Errorf("x-token = %q, want second (last wins)", got)
	}
	if got := c.Headers["host"]; got != "bridge.local:6003" {
		t.Errorf("host = %q", got)
	}
	if got := c.Query["a"]; len(got) != 2 || got[0] != "1" || got[1] != "2" {
		t.Errorf("query a = %v", got)
	}
	if got, ok := c.Query["b"]; !ok || len(got) != 1 || got[0] != "" {
		t.Errorf("query b = %v, %v", got, ok)
	}
}

func TestWriteJSONError(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	writeJSONError(rec, http.StatusGatewayTimeout, `quote " and <tag>`)

	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d", rec.Code)
	}
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if body.Error != `quote " and <tag>` {
		t.Errorf("error = %q", body.Error)
	}
}

func TestSkipHeader(t *testing.T) {
	t.Parallel()
	for name, want := range map[string]bool{
		"content-length":    true,
		"Transfer-Encoding": true,
		"CONNECTION":        true,
		"Content-Type":      false,
		"X-Custom":          false,
	} {
		if got := skipHeader(name); got != want {
			t.Errorf("skipHeader(%q) = %v, want %v", name, got, want)
		}
	}
}
