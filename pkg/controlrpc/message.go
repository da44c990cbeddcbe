// Package controlrpc defines the JSON-RPC 2.0 wire protocol between the
// bridge and its decision-maker, and a client for it.
//
// The decision-maker resolves suspended requests with bridge/resolve, streams
// to them with bridge/pushStreamEvent and bridge/closeStream, and receives
// notifications by long-polling GET /events.
package controlrpc

import (
	"encoding/json"
	"time"
)

// Method names.
const (
	MethodResolve           = "bridge/resolve"
	MethodPushStreamEvent   = "bridge/pushStreamEvent"
	MethodCloseStream       = "bridge/closeStream"
	MethodGetBody           = "bridge/getBody"
	MethodSetRequestTimeout = "bridge/setRequestTimeout"
	MethodSetMaxConcurrent  = "bridge/setMaxConcurrent"
	MethodStatus            = "bridge/status"
)

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Paths on the control listener.
const (
	PathRPC     = "/rpc"
	PathEvents  = "/events"
	PathHealth  = "/health"
	PathMetrics = "/metrics"
)

// ResolveParams are the params of bridge/resolve.
type ResolveParams struct {
	ID      string            `json:"id"`
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body"`
}

// PushStreamEventParams are the params of bridge/pushStreamEvent. The first
// call opens the stream with Headers; empty Data opens it without a frame.
type PushStreamEventParams struct {
	ID        string            `json:"id"`
	Data      string            `json:"data"`
	Headers   map[string]string `json:"headers,omitempty"`
	EventType string            `json:"eventType,omitempty"`
}

// IDParams are the params of bridge/closeStream and bridge/getBody.
type IDParams struct {
	ID string `json:"id"`
}

// SetRequestTimeoutParams are the params of bridge/setRequestTimeout.
type SetRequestTimeoutParams struct {
	Seconds float64 `json:"seconds"`
}

// SetMaxConcurrentParams are the params of bridge/setMaxConcurrent.
type SetMaxConcurrentParams struct {
	Limit int `json:"limit"`
}

// OKResult is the result of every mutating method.
type OKResult struct {
	OK bool `json:"ok"`
}

// BodyResult is the result of bridge/getBody.
type BodyResult struct {
	Body string `json:"body"`
}

// StatusResult is the result of bridge/status.
type StatusResult struct {
	Running               bool    `json:"running"`
	Port                  int     `json:"port"`
	Pending               int     `json:"pending"`
	Streaming             int     `json:"streaming"`
	Active                int64   `json:"active"`
	RequestTimeoutSeconds float64 `json:"requestTimeoutSeconds"`
	MaxConcurrent         int     `json:"maxConcurrent"`
	Queued                int     `json:"queued"`
	Dropped               int64   `json:"dropped"`
	UptimeSeconds         float64 `json:"uptimeSeconds"`
}

// RequestTimeout returns RequestTimeoutSeconds as a duration.
func (s StatusResult) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSeconds * float64(time.Second))
}

// Uptime returns UptimeSeconds as a duration.
func (s StatusResult) Uptime() time.Duration {
	return time.Duration(s.UptimeSeconds * float64(time.Second))
}

// Event is one notification delivered through GET /events.
type Event struct {
	Source  string          `json:"source"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// EventsResult is the body of GET /events.
type EventsResult struct {
	Events []Event `json:"events"`
}
