// Package pending provides the suspended-request record awaiting an external
// decision and the registry that tracks every live record.
package pending

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ROCTUP/1c-mcp-toolkit/internal/domain/stream"
)

// Sentinel errors returned by Request transitions and Store operations.
var (
	ErrNotFound      = errors.New("pending request not found")
	ErrAlreadyExists = errors.New("pending request already exists")
	ErrInvalidState  = errors.New("pending request in wrong state")
)

// State is the lifecycle state of a Request.
type State int

const (
	// StatePending means no decision has arrived yet.
	StatePending State = iota
	// StateSSEActive means the decision-maker opened an event stream.
	StateSSEActive
	// StateCompleted is terminal: resolved with a plain response, stream closed,
	// timed out, or swept at shutdown.
	StateCompleted
)

// String returns the string representation of the State.
func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateSSEActive:
		return "SSE_ACTIVE"
	case StateCompleted:
		return "COMPLETED"
	default:
		return "UNKNOWN"
	}
}

// Capture is the inbound HTTP request as seen by the decision-maker.
type Capture struct {
	Method string
	Path   string
	// Query holds decoded, multi-valued query parameters.
	Query map[string][]string
	// Headers holds lowercase header names; the last value wins on duplicates.
	Headers map[string]string
	// Body is the full request body, never truncated.
	Body string
}

// Response is a plain (non-streaming) HTTP response.
type Response struct {
	Status  int
	Headers map[string]string
	Body    string
}

// ShutdownResponse is dispatched to requests still waiting when the server stops.
func ShutdownResponse() Response {
	return Response{
		Status:  http.StatusServiceUnavailable,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    `{"error":"Server shutting down"}`,
	}
}

// Request is one suspended HTTP request. It is shared by the goroutine
// serving the HTTP request and the decision-maker's resolution calls; every
// read and write of the resolution state happens under mu.
type Request struct {
	id        string
	capture   Capture
	createdAt time.Time

	mu       sync.Mutex
	state    State
	response Response
	stream   *stream.Stream

	// decided is closed exactly once, when the state leaves StatePending.
	decided chan struct{}
}

func newRequest(id string, capture Capture) *Request {
	return &Request{
		id:        id,
		capture:   capture,
		createdAt: time.Now().UTC(),
		state:     StatePending,
		decided:   make(chan struct{}),
	}
}

// ID returns the request identifier.
func (r *Request) ID() string { return r.id }

// Capture returns the captured inbound request.
func (r *Request) Capture() Capture { return r.capture }

// Body returns the full captured body.
func (r *Request) Body() string { return r.capture.Body }

// CreatedAt returns when the request was registered.
func (r *Request) CreatedAt() time.Time { return r.createdAt }

// Decided returns a channel that is closed once the request leaves StatePending.
func (r *Request) Decided() <-chan struct{} { return r.decided }

// State returns the current lifecycle state.
func (r *Request) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Outcome returns a consistent snapshot of the resolution state.
func (r *Request) Outcome() (State, Response, *stream.Stream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, r.response, r.stream
}

// Stream returns the event stream, or nil if none was opened.
func (r *Request) Stream() *stream.Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stream
}

// Resolve completes a pending request with a plain response.
func (r *Request) Resolve(resp Response) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StatePending {
		return fmt.Errorf("%w: resolve %s in %s", ErrInvalidState, r.id, r.state)
	}
	r.state = StateCompleted
	r.response = resp
	close(r.decided)
	return nil
}

// PushStreamEvent opens the event stream on the first call and pushes data
// if it is not empty. headers only take effect on the call that opens the
// stream. It fails once the request is completed.
func (r *Request) PushStreamEvent(data string, headers map[string]string, eventType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case StatePending:
		r.stream = stream.New(headers)
		r.state = StateSSEActive
		if data != "" {
			r.stream.Push(data, eventType)
		}
		close(r.decided)
		return nil
	case StateSSEActive:
		if data != "" {
			r.stream.Push(data, eventType)
		}
		return nil
	default:
		return fmt.Errorf("%w: push to %s in %s", ErrInvalidState, r.id, r.state)
	}
}

// CloseStream completes a streaming request. Queued frames are still drained
// by the response loop.
func (r *Request) CloseStream() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateSSEActive {
		return fmt.Errorf("%w: close stream %s in %s", ErrInvalidState, r.id, r.state)
	}
	r.state = StateCompleted
	r.stream.Close()
	return nil
}

// Expire force-completes a request that is still pending, as happens on a
// wait timeout or when the client goes away first. It returns false if a
// decision already arrived, in which case the caller must honor it.
func (r *Request) Expire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StatePending {
		return false
	}
	r.state = StateCompleted
	close(r.decided)
	return true
}

// shutdown moves the request to StateCompleted for a server stop. Waiting
// requests get ShutdownResponse; streams are closed so their loops drain and end.
// A plain response that was already decided is left untouched.
func (r *Request) shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case StatePending:
		r.response = ShutdownResponse()
		r.state = StateCompleted
		close(r.decided)
	case StateSSEActive:
		r.state = StateCompleted
		r.stream.Close()
	case StateCompleted:
		if r.stream != nil {
			r.stream.Close()
		}
	}
}
