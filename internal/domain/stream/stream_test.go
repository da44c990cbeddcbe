package stream

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestFormatFrame(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		data      string
		eventType string
		want      string
	}{
		{"single line", "hello", "message", "event: message\ndata: hello\n\n"},
		{"default type", "hello", "", "event: message\ndata: hello\n\n"},
		{"custom type", "{}", "endpoint", "event: endpoint\ndata: {}\n\n"},
		{"empty data", "", "message", "event: message\ndata: \n\n"},
		{"multi line", "a\nb", "message", "event: message\ndata: a\ndata: b\n\n"},
		{"trailing newline", "a\n", "message", "event: message\ndata: a\n\n"},
		{"blank inner line", "a\n\nb", "message", "event: message\ndata: a\ndata: \ndata: b\n\n"},
		{"only newline", "\n", "message", "event: message\ndata: \n\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := FormatFrame(tt.data, tt.eventType); got != tt.want {
				t.Errorf("FormatFrame(%q, %q) = %q, want %q", tt.data, tt.eventType, got, tt.want)
			}
		})
	}
}

func TestStream_PushThenWait(t *testing.T) {
	t.Parallel()

	s := New(nil)
	if !s.Push("one", "message") {
		t.Fatal("Push on open stream returned false")
	}

	frame, res := s.Wait(time.Second)
	if res != Event {
		t.Fatalf("Wait result = %v, want event", res)
	}
	if frame != "event: message\ndata: one\n\n" {
		t.Errorf("frame = %q", frame)
	}
}

func TestStream_WaitTimeout(t *testing.T) {
	t.Parallel()

	s := New(nil)
	start := time.Now()
	_, res := s.Wait(50 * time.Millisecond)
	if res != Timeout {
		t.Fatalf("Wait result = %v, want timeout", res)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("Wait returned after %v, expected to block for the timeout", elapsed)
	}
}

func TestStream_CloseDrainsQueueFirst(t *testing.T) {
	t.Parallel()

	s := New(nil)
	s.Push("a", "message")
	s.Push("b", "message")
	s.Close()

	if s.Push("c", "message") {
		t.Error("Push after Close returned true")
	}

	for _, want := range []string{"a", "b"} {
		frame, res := s.Wait(time.Second)
		if res != Event {
			t.Fatalf("Wait result = %v, want event for %q", res, want)
		}
		if frame != FormatFrame(want, "message") {
			t.Errorf("frame = %q, want data %q", frame, want)
		}
	}

	if _, res := s.Wait(time.Second); res != Closed {
		t.Errorf("Wait after drain = %v, want closed", res)
	}
}

func TestStream_DisconnectEndsWait(t *testing.T) {
	t.Parallel()

	s := New(nil)
	s.Disconnect()

	if !s.IsDisconnected() {
		t.Error("IsDisconnected() = false after Disconnect")
	}
	if s.Push("x", "message") {
		t.Error("Push after Disconnect returned true")
	}
	if _, res := s.Wait(time.Second); res != Closed {
		t.Errorf("Wait = %v, want closed", res)
	}
}

func TestStream_CloseWakesBlockedWaiter(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := New(nil)
	result := make(chan WaitResult, 1)
	go func() {
		_, res := s.Wait(10 * time.Second)
		result <- res
	}()

	time.Sleep(20 * time.Millisecond)
	s.Close()

	select {
	case res := <-result:
		if res != Closed {
			t.Errorf("Wait = %v, want closed", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not wake the waiter")
	}
}

func TestStream_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	s := New(nil)
	s.Close()
	s.Close()
	s.Disconnect()

	if !s.IsClosed() {
		t.Error("IsClosed() = false after Close")
	}
}

func TestStream_HeadersAreCopied(t *testing.T) {
	t.Parallel()

	in := map[string]string{"Content-Type": "text/event-stream"}
	s := New(in)
	in["Content-Type"] = "changed"

	h := s.Headers()
	if h["Content-Type"] != "text/event-stream" {
		t.Errorf("Headers()[Content-Type] = %q", h["Content-Type"])
	}
	h["X-Extra"] = "1"
	if _, ok := s.Headers()["X-Extra"]; ok {
		t.Error("Headers() exposed internal map")
	}
}

// Every frame pushed before Close must come out exactly once and in order,
// regardless of how pushes interleave with the consumer.
func TestStream_ConcurrentPushAndCloseKeepsOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := New(nil)
	const n = 500

	var accepted []string
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			data := strconv.Itoa(i)
			if s.Push(data, "message") {
				mu.Lock()
				accepted = append(accepted, data)
				mu.Unlock()
			}
			if i == n/2 {
				s.Close()
			}
		}
	}()

	var got []string
	for {
		frame, res := s.Wait(time.Second)
		if res == Closed {
			break
		}
		if res == Event {
			got = append(got, frame)
		}
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != len(accepted) {
		t.Fatalf("drained %d frames, %d were accepted", len(got), len(accepted))
	}
	for i, data := range accepted {
		if got[i] != FormatFrame(data, "message") {
			t.Fatalf("frame %d = %q, want data %q", i, got[i], data)
		}
	}
}

func TestWaitResult_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		r    WaitResult
		want string
	}{
		{Event, "event"},
		{Timeout, "timeout"},
		{Closed, "closed"},
		{WaitResult(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.r.String(); got != tt.want {
			t.Errorf("WaitResult(%d).String() = %q, want %q", tt.r, got, tt.want)
		}
	}
}
