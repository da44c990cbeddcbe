// Package notify provides the outbound.Notifier adapters that carry
// notifications to the decision-maker: an in-memory Queue drained by the
// control plane's long-poll feed, and a Webhook that POSTs each one.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ROCTUP/1c-mcp-toolkit/internal/port/outbound"
)

const (
	// DefaultQueueDepth is the capacity of a Queue.
	DefaultQueueDepth = 1000
	// DefaultPollMax caps the number of envelopes one Poll returns.
	DefaultPollMax = 100
)

// Envelope is one notification as delivered to the decision-maker.
type Envelope struct {
	Source  string          `json:"source"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func newEnvelope(source, kind string, payload []byte) Envelope {
	if len(payload) == 0 {
		payload = []byte("null")
	}
	return Envelope{
		Source:  source,
		Kind:    kind,
		Payload: json.RawMessage(append([]byte(nil), payload...)),
	}
}

// Compile-time check.
var _ outbound.Notifier = (*Queue)(nil)

// Queue is a bounded FIFO of notifications. Notify never blocks: when the
// queue is full the notification is dropped and Notify returns false.
type Queue struct {
	ch      chan Envelope
	dropped atomic.Int64
	logger  *slog.Logger
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithQueueLogger sets the logger used to report drops.
func WithQueueLogger(logger *slog.Logger) QueueOption {
	return func(q *Queue) {
		q.logger = logger
	}
}

// NewQueue creates a queue holding at most depth notifications.
// depth <= 0 means DefaultQueueDepth.
func NewQueue(depth int, opts ...QueueOption) *Queue {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	q := &Queue{
		ch:     make(chan Envelope, depth),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Notify enqueues the notification. It returns false if the queue is full.
func (q *Queue) Notify(_ context.Context, source, kind string, payload []byte) bool {
	select {
	case q.ch <- newEnvelope(source, kind, payload):
		return true
	default:
		n := q.dropped.Add(1)
		q.logger.Warn("notification queue full, dropping",
			"kind", kind,
			"capacity", cap(q.ch),
			"dropped_total", n,
		)
		return false
	}
}

// Poll waits up to timeout for the first notification, then takes whatever
// else is already queued, up to max in total. It returns nil if nothing
// arrived in time or ctx ended. max <= 0 means DefaultPollMax.
func (q *Queue) Poll(ctx context.Context, timeout time.Duration, max int) []Envelope {
	if max <= 0 {
		max = DefaultPollMax
	}

	var first Envelope
	select {
	case first = <-q.ch:
	default:
		if timeout <= 0 {
			return nil
		}
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case first = <-q.ch:
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return nil
		}
	}

	out := []Envelope{first}
	for len(out) < max {
		select {
		case e := <-q.ch:
			out = append(out, e)
		default:
			return out
		}
	}
	return out
}

// Len returns the number of queued notifications.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }

// Dropped returns how many notifications were dropped because the queue was full.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }
