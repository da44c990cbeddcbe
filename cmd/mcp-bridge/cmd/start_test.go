package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ROCTUP/1c-mcp-toolkit/internal/adapter/outbound/notify"
	"github.com/ROCTUP/1c-mcp-toolkit/internal/config"
	"github.com/ROCTUP/1c-mcp-toolkit/pkg/controlrpc"
)

func TestCommandsRegistered(t *testing.T) {
	want := map[string]bool{"start": false, "stop": false, "status": false, "config": false, "version": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("%s command not registered with rootCmd", name)
		}
	}
}

func TestStartCmd_PortFlag(t *testing.T) {
	f := startCmd.Flags().Lookup("port")
	if f == nil {
		t.Fatal("start has no --port flag")
	}
	if f.DefValue != "0" {
		t.Errorf("--port default = %q, want 0", f.DefValue)
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPIDFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "server.pid")

	if got := readPIDFile(path); got != 0 {
		t.Errorf("readPIDFile(missing) = %d, want 0", got)
	}
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile() error: %v", err)
	}
	if got := readPIDFile(path); got != os.Getpid() {
		t.Errorf("readPIDFile() = %d, want %d", got, os.Getpid())
	}

	_ = os.WriteFile(path, []byte("garbage\n"), 0o644)
	if got := readPIDFile(path); got != 0 {
		t.Errorf("readPIDFile(garbage) = %d, want 0", got)
	}
}

func TestBuildNotifier(t *testing.T) {
	t.Parallel()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	n, q := buildNotifier(config.NotifyConfig{Mode: "queue", QueueDepth: 3}, logger)
	if q == nil || q.Cap() != 3 {
		t.Fatalf("queue mode returned queue %v", q)
	}
	if n != q {
		t.Error("queue mode notifier is not the queue")
	}

	n, q = buildNotifier(config.NotifyConfig{Mode: "webhook", WebhookURL: "http://127.0.0.1:1/hook", WebhookTimeout: "1s"}, logger)
	if q != nil {
		t.Error("webhook mode returned a queue")
	}
	if _, ok := n.(*notify.Webhook); !ok {
		t.Errorf("webhook mode notifier = %T", n)
	}
}

func TestPrintBanner(t *testing.T) {
	t.Parallel()
	var cfg config.Config
	cfg.SetDefaults()

	var buf bytes.Buffer
	printBanner(&buf, "1.2.3", &cfg, 6003, "127.0.0.1:6004")
	out := buf.String()

	for _, want := range []string{"mcp-bridge 1.2.3", "http://localhost:6003/mcp", "http://127.0.0.1:6004/rpc", "queue (GET /events)", "10 concurrent, 180s timeout"} {
		if !strings.Contains(out, want) {
			t.Errorf("banner missing %q:\n%s", want, out)
		}
	}
}

func TestPrintStatus(t *testing.T) {
	t.Parallel()
	st := controlrpc.StatusResult{
		Running:               true,
		Port:                  6003,
		Pending:               1200,
		Streaming:             2,
		Active:                3,
		RequestTimeoutSeconds: 180,
		MaxConcurrent:         10,
		Queued:                4,
		Dropped:               12345,
		UptimeSeconds:         90,
	}

	var buf bytes.Buffer
	printStatus(&buf, st, time.Now())
	out := buf.String()

	for _, want := range []string{
		"running on port 6003",
		"1,200 pending, 2 streaming",
		"3 of 10 slots",
		"3m0s",
		"4 queued, 12,345 dropped",
		"1m30s",
		"ago",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	return ln.Addr().String()
}

func TestRun_EndToEnd(t *testing.T) {
	var cfg config.Config
	cfg.SetDefaults()
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Control.HTTPAddr = freeAddr(t)
	cfg.Bridge.RequestTimeout = "10s"

	_, portStr, _ := net.SplitHostPort(freeAddr(t))
	port, _ := strconv.Atoi(portStr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	runErr := make(chan error, 1)
	go func() { runErr <- run(ctx, &cfg, port, logger) }()

	client := controlrpc.NewClient(cfg.Control.HTTPAddr)
	deadline := time.Now().Add(5 * time.Second)
	for {
		st, err := client.Status(context.Background())
		if err == nil && st.Running {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("bridge did not come up: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	type result struct {
		status int
		body   string
		err    error
	}
	got := make(chan result, 1)
	go func() {
		resp, err := http.Post("http://127.0.0.1:"+portStr+"/mcp", "application/json", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
		if err != nil {
			got <- result{err: err}
			return
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		got <- result{status: resp.StatusCode, body: string(data)}
	}()

	events, err := client.Events(context.Background(), 5*time.Second, 1)
	if err != nil || len(events) != 1 {
		t.Fatalf("Events() = %v, %v", events, err)
	}
	if events[0].Kind != "MCP_POST" || events[0].Source != "MCPHttpTransport" {
		t.Errorf("event = %s/%s", events[0].Source, events[0].Kind)
	}
	var payload struct {
		ID   string `json:"id"`
		Body string `json:"body"`
	}
	if err := json.Unmarshal(events[0].Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Body != `{"jsonrpc":"2.0","id":1,"method":"ping"}` {
		t.Errorf("payload body = %q", payload.Body)
	}

	ok, err := client.Resolve(context.Background(), payload.ID, 200, map[string]string{"Content-Type": "application/json"}, `{"jsonrpc":"2.0","id":1,"result":{}}`)
	if err != nil || !ok {
		t.Fatalf("Resolve() = %v, %v", ok, err)
	}

	r := <-got
	if r.err != nil {
		t.Fatal(r.err)
	}
	if r.status != http.StatusOK || r.body != `{"jsonrpc":"2.0","id":1,"result":{}}` {
		t.Errorf("client got %d %q", r.status, r.body)
	}

	cancel()
	select {
	case err := <-runErr:
		if err != nil {
			t.Errorf("run() error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
