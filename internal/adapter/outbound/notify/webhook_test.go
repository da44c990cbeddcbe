package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestWebhook_Delivers(t *testing.T) {
	t.Parallel()

	received := make(chan Envelope, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		var e Envelope
		if err := json.Unmarshal(body, &e); err != nil {
			t.Errorf("body is not an envelope: %v", err)
		}
		received <- e
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, WithWebhookLogger(discardLogger()))
	if !wh.Notify(context.Background(), "MCPHttpTransport", "REQUEST", []byte(`{"id":"r1"}`)) {
		t.Fatal("Notify() = false, want true")
	}

	e := <-received
	if e.Source != "MCPHttpTransport" || e.Kind != "REQUEST" || string(e.Payload) != `{"id":"r1"}` {
		t.Errorf("envelope = %+v", e)
	}
	if wh.Failures() != 0 {
		t.Errorf("Failures() = %d, want 0", wh.Failures())
	}
}

func TestWebhook_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
		timeout time.Duration
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
		{
			name: "redirect status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotModified)
			},
		},
		{
			name: "slow receiver",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-time.After(time.Second):
				case <-r.Context().Done():
				}
			},
			timeout: 50 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			opts := []WebhookOption{WithWebhookLogger(discardLogger())}
			if tt.timeout > 0 {
				opts = append(opts, WithTimeout(tt.timeout))
			}
			wh := NewWebhook(srv.URL, opts...)

			if wh.Notify(context.Background(), "s", "k", []byte(`{}`)) {
				t.Error("Notify() = true, want false")
			}
			if wh.Failures() != 1 {
				t.Errorf("Failures() = %d, want 1", wh.Failures())
			}
		})
	}
}

func TestWebhook_Unreachable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	wh := NewWebhook(url, WithWebhookLogger(discardLogger()), WithTimeout(time.Second))
	if wh.Notify(context.Background(), "s", "k", []byte(`{}`)) {
		t.Error("Notify() to a closed server = true, want false")
	}
}
