// Package outbound defines the outbound port interfaces through which the
// bridge reaches the external decision-maker.
package outbound

import "context"

// Notifier delivers a notification to the decision-maker. It is
// fire-and-forget: the result only says whether the notification was
// delivered (or queued for delivery), not whether anyone acted on it.
type Notifier interface {
	Notify(ctx context.Context, source, kind string, payload []byte) bool
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, source, kind string, payload []byte) bool

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, source, kind string, payload []byte) bool {
	return f(ctx, source, kind, payload)
}
