// Package stream holds the per-request queue of Server-Sent Events frames
// that backs a streaming HTTP response.
//
// A Stream is written by the decision-maker's resolution calls and drained by
// exactly one response-writing loop. Closing a stream stops new frames from
// being accepted, but frames already queued are still handed out by Wait
// before it reports Closed.
package stream

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultEventType is the SSE event name used when the caller gives none.
const DefaultEventType = "message"

// Keepalive is the comment-only frame written when a wait times out.
const Keepalive = ": ping\n\n"

// WaitResult reports why Wait returned.
type WaitResult int

const (
	// Event means a frame was dequeued.
	Event WaitResult = iota
	// Timeout means the wait elapsed with an empty queue.
	Timeout
	// Closed means the stream is closed or the client went away and the queue is empty.
	Closed
)

// String returns the string representation of the WaitResult.
func (r WaitResult) String() string {
	switch r {
	case Event:
		return "event"
	case Timeout:
		return "timeout"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Stream is an ordered queue of pre-formatted SSE frames.
type Stream struct {
	headers map[string]string

	mu    sync.Mutex
	queue []string

	// closed and disconnected are readable without mu; writes that must
	// exclude a concurrent Push happen under mu.
	closed       atomic.Bool
	disconnected atomic.Bool

	wake     chan struct{}
	done     chan struct{}
	doneOnce sync.Once
}

// New creates an open stream. headers is the one-time initial header set
// applied to the HTTP response when streaming starts; it is copied.
func New(headers map[string]string) *Stream {
	h := make(map[string]string, len(headers))
	for k, v := range headers {
		h[k] = v
	}
	return &Stream{
		headers: h,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Headers returns a copy of the stream's initial headers.
func (s *Stream) Headers() map[string]string {
	h := make(map[string]string, len(s.headers))
	for k, v := range s.headers {
		h[k] = v
	}
	return h
}

// FormatFrame renders data as one SSE frame: an event line, one data line per
// line of data, and a terminating blank line. Empty data yields a single empty
// data line.
func FormatFrame(data, eventType string) string {
	if eventType == "" {
		eventType = DefaultEventType
	}

	var b strings.Builder
	b.Grow(len(data) + len(eventType) + 16)
	b.WriteString("event: ")
	b.WriteString(eventType)
	b.WriteByte('\n')

	lines := strings.Split(data, "\n")
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	for _, line := range lines {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.String()
}

// Push formats data as a frame of the given event type and enqueues it.
// It is a no-op returning false once the stream is closed or the client
// has disconnected.
func (s *Stream) Push(data, eventType string) bool {
	if s.closed.Load() || s.disconnected.Load() {
		return false
	}
	frame := FormatFrame(data, eventType)

	s.mu.Lock()
	if s.closed.Load() || s.disconnected.Load() {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, frame)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// Close stops the stream from accepting frames and wakes every waiter.
// Queued frames remain available to Wait. Close is idempotent.
func (s *Stream) Close() {
	s.mu.Lock()
	s.closed.Store(true)
	s.mu.Unlock()
	s.doneOnce.Do(func() { close(s.done) })
}

// Disconnect records that the client connection is gone and wakes every
// waiter. Like Close, it leaves queued frames in place.
func (s *Stream) Disconnect() {
	s.mu.Lock()
	s.disconnected.Store(true)
	s.mu.Unlock()
	s.doneOnce.Do(func() { close(s.done) })
}

// IsClosed reports whether Close has been called.
func (s *Stream) IsClosed() bool { return s.closed.Load() }

// IsDisconnected reports whether Disconnect has been called.
func (s *Stream) IsDisconnected() bool { return s.disconnected.Load() }

// Len returns the number of queued frames.
func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Wait blocks until a frame is available, the stream ends, or timeout
// elapses. After Close or Disconnect it keeps returning queued frames until
// the queue is empty, then returns Closed.
func (s *Stream) Wait(timeout time.Duration) (string, WaitResult) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	timedOut := false
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			frame := s.queue[0]
			s.queue[0] = ""
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return frame, Event
		}
		ended := s.closed.Load() || s.disconnected.Load()
		s.mu.Unlock()

		if ended {
			return "", Closed
		}
		if timedOut {
			return "", Timeout
		}

		select {
		case <-s.wake:
		case <-s.done:
		case <-timer.C:
			timedOut = true
		}
	}
}
