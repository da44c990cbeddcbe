// Package notify defines what the bridge tells the decision-maker: the event
// kinds, the source tag, and the JSON payload describing a suspended request.
package notify

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/ROCTUP/1c-mcp-toolkit/internal/domain/pending"
)

// Source tags every notification emitted by the HTTP bridge.
const Source = "MCPHttpTransport"

// DefaultMaxBody is the body size above which the payload carries
// "body": null and "bodyTruncated": true.
const DefaultMaxBody = 64 * 1024

// Kind is the notification event kind.
type Kind string

const (
	// KindMCPPost is a POST /mcp awaiting a response or stream.
	KindMCPPost Kind = "MCP_POST"
	// KindSSEConnect is a GET /mcp subscription from a streamable-HTTP client.
	KindSSEConnect Kind = "SSE_CONNECT"
	// KindSSELegacyConnect is a GET /mcp subscription from a legacy SSE client.
	KindSSELegacyConnect Kind = "SSE_LEGACY_CONNECT"
	// KindSSELegacyMessage is a fire-and-forget POST /mcp/message.
	KindSSELegacyMessage Kind = "SSE_LEGACY_MESSAGE"
	// KindSSEClosed reports that a subscription stream has ended.
	KindSSEClosed Kind = "SSE_CLOSED"
	// KindRequest is any other decision-required request (REST, health, session delete).
	KindRequest Kind = "REQUEST"
)

// Payload is the JSON object describing a request to the decision-maker.
type Payload struct {
	ID            string              `json:"id"`
	Method        string              `json:"method"`
	Path          string              `json:"path"`
	Query         map[string][]string `json:"query"`
	Headers       map[string]string   `json:"headers"`
	Body          *string             `json:"body"`
	BodyTruncated bool                `json:"bodyTruncated"`
}

// Closed is the payload of a KindSSEClosed notification.
type Closed struct {
	ID string `json:"id"`
}

// NewPayload builds the payload for a captured request. A body longer than
// maxBody is replaced by null and flagged; maxBody <= 0 disables the limit.
func NewPayload(id string, c pending.Capture, maxBody int) Payload {
	p := Payload{
		ID:      id,
		Method:  c.Method,
		Path:    c.Path,
		Query:   c.Query,
		Headers: c.Headers,
	}
	if p.Query == nil {
		p.Query = map[string][]string{}
	}
	if p.Headers == nil {
		p.Headers = map[string]string{}
	}

	if maxBody > 0 && len(c.Body) > maxBody {
		p.BodyTruncated = true
		return p
	}
	body := c.Body
	p.Body = &body
	return p
}

// Marshal encodes the payload. Encoding a Payload cannot fail, so errors
// are folded into an empty object.
func (p Payload) Marshal() []byte {
	data, err := json.Marshal(p)
	if err != nil {
		return []byte("{}")
	}
	return data
}

// MarshalClosed encodes the payload of a stream-closed notification.
func MarshalClosed(id string) []byte {
	data, err := json.Marshal(Closed{ID: id})
	if err != nil {
		return []byte("{}")
	}
	return data
}

// CaptureHeaders flattens request headers into lowercase names, keeping the
// last value of a repeated header.
func CaptureHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if len(values) == 0 {
			continue
		}
		out[strings.ToLower(name)] = values[len(values)-1]
	}
	return out
}

// CaptureQuery copies decoded, multi-valued query parameters.
func CaptureQuery(q url.Values) map[string][]string {
	out := make(map[string][]string, len(q))
	for k, v := range q {
		out[k] = append([]string(nil), v...)
	}
	return out
}
