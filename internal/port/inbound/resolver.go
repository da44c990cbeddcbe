// Package inbound defines the inbound port interfaces of the bridge core.
// The control plane calls these on behalf of the decision-maker.
package inbound

import (
	"context"
	"time"
)

// Resolver is the decision-maker's side of a suspended request.
// Every resolution method reports failure as false; it never fails the
// client-facing request.
type Resolver interface {
	// Resolve completes a pending request with a plain HTTP response.
	Resolve(ctx context.Context, id string, status int, headers map[string]string, body string) bool

	// PushStreamEvent opens the request's event stream on first use and
	// queues data as an SSE frame of eventType.
	PushStreamEvent(ctx context.Context, id, data string, headers map[string]string, eventType string) bool

	// CloseStream ends an active event stream after its queued frames drain.
	CloseStream(ctx context.Context, id string) bool

	// GetBody returns the full captured request body, or "" for an unknown id.
	GetBody(ctx context.Context, id string) string
}

// Tunables is the runtime-adjustable admission and timeout policy.
type Tunables interface {
	RequestTimeout() time.Duration
	SetRequestTimeout(d time.Duration)
	MaxConcurrent() int
	SetMaxConcurrent(n int)
}
