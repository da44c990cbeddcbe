package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestQueue_NotifyAndPoll(t *testing.T) {
	t.Parallel()
	q := NewQueue(10, WithQueueLogger(discardLogger()))

	for i := 0; i < 3; i++ {
		if !q.Notify(context.Background(), "MCPHttpTransport", "MCP_POST", []byte(fmt.Sprintf(`{"id":"%d"}`, i))) {
			t.Fatalf("Notify(%d) = false", i)
		}
	}
	if q.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", q.Len())
	}

	got := q.Poll(context.Background(), time.Second, 0)
	if len(got) != 3 {
		t.Fatalf("Poll() returned %d envelopes, want 3", len(got))
	}
	for i, e := range got {
		if e.Source != "MCPHttpTransport" || e.Kind != "MCP_POST" {
			t.Errorf("envelope %d = %+v", i, e)
		}
		if want := fmt.Sprintf(`{"id":"%d"}`, i); string(e.Payload) != want {
			t.Errorf("envelope %d payload = %s, want %s", i, e.Payload, want)
		}
	}
	if q.Len() != 0 {
		t.Errorf("Len() after Poll = %d, want 0", q.Len())
	}
}

func TestQueue_FullDrops(t *testing.T) {
	t.Parallel()
	q := NewQueue(2, WithQueueLogger(discardLogger()))
	ctx := context.Background()

	if !q.Notify(ctx, "s", "k", []byte(`1`)) || !q.Notify(ctx, "s", "k", []byte(`2`)) {
		t.Fatal("Notify() below capacity = false")
	}
	if q.Notify(ctx, "s", "k", []byte(`3`)) {
		t.Error("Notify() on a full queue = true, want false")
	}
	if q.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", q.Dropped())
	}
	if q.Cap() != 2 {
		t.Errorf("Cap() = %d, want 2", q.Cap())
	}
}

func TestQueue_PollMax(t *testing.T) {
	t.Parallel()
	q := NewQueue(10, WithQueueLogger(discardLogger()))
	for i := 0; i < 5; i++ {
		q.Notify(context.Background(), "s", "k", []byte(`{}`))
	}

	if got := q.Poll(context.Background(), 0, 2); len(got) != 2 {
		t.Errorf("Poll(max=2) returned %d", len(got))
	}
	if q.Len() != 3 {
		t.Errorf("Len() = %d, want 3", q.Len())
	}
}

func TestQueue_PollTimeout(t *testing.T) {
	t.Parallel()
	q := NewQueue(1)

	start := time.Now()
	if got := q.Poll(context.Background(), 30*time.Millisecond, 10); got != nil {
		t.Errorf("Poll() on empty queue = %v, want nil", got)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("Poll() returned after %v, want about 30ms", elapsed)
	}
	if got := q.Poll(context.Background(), 0, 10); got != nil {
		t.Errorf("Poll(timeout=0) = %v, want nil", got)
	}
}

func TestQueue_PollContextCancel(t *testing.T) {
	defer goleak.VerifyNone(t)
	q := NewQueue(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan []Envelope)
	go func() { done <- q.Poll(ctx, time.Minute, 10) }()

	cancel()
	select {
	case got := <-done:
		if got != nil {
			t.Errorf("Poll() = %v, want nil", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Poll() did not return after cancel")
	}
}

func TestQueue_PollWakesOnNotify(t *testing.T) {
	defer goleak.VerifyNone(t)
	q := NewQueue(4)

	done := make(chan []Envelope)
	go func() { done <- q.Poll(context.Background(), 5*time.Second, 10) }()

	time.Sleep(10 * time.Millisecond)
	q.Notify(context.Background(), "s", "SSE_CLOSED", []byte(`{"id":"x"}`))

	select {
	case got := <-done:
		if len(got) != 1 || got[0].Kind != "SSE_CLOSED" {
			t.Errorf("Poll() = %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Poll() did not wake")
	}
}

func TestQueue_ConcurrentNotify(t *testing.T) {
	t.Parallel()
	q := NewQueue(100, WithQueueLogger(discardLogger()))

	var wg sync.WaitGroup
	for i := 0; i < 150; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Notify(context.Background(), "s", "k", []byte(`{}`))
		}()
	}
	wg.Wait()

	if q.Len() != 100 {
		t.Errorf("Len() = %d, want 100", q.Len())
	}
	if q.Dropped() != 50 {
		t.Errorf("Dropped() = %d, want 50", q.Dropped())
	}
}

func TestEnvelope_JSON(t *testing.T) {
	t.Parallel()
	payload := []byte(`{"id":"a"}`)
	e := newEnvelope("MCPHttpTransport", "SSE_CLOSED", payload)
	payload[2] = 'X'

	data, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"source":"MCPHttpTransport","kind":"SSE_CLOSED","payload":{"id":"a"}}`
	if string(data) != want {
		t.Errorf("json = %s, want %s", data, want)
	}

	if got := newEnvelope("s", "k", nil); string(got.Payload) != "null" {
		t.Errorf("empty payload = %s, want null", got.Payload)
	}
}
