package controlrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

const (
	// DefaultClientTimeout bounds a single RPC call.
	DefaultClientTimeout = 10 * time.Second

	// maxResponseBodySize caps a control-plane response.
	maxResponseBodySize = 16 * 1024 * 1024
)

// Client calls the bridge's control plane.
type Client struct {
	baseURL    string
	httpClient *http.Client
	nextID     atomic.Int64
}

// ClientOption is a functional option for configuring Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client. Long polls run longer than
// DefaultClientTimeout, so Events uses its own per-call deadline.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// NewClient creates a client for the control plane at baseURL, for example
// "http://127.0.0.1:6004". A bare host:port gets an http:// scheme.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call invokes method with params and decodes the result into result, which
// may be nil. A JSON-RPC error is returned as *Error.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultClientTimeout)
		defer cancel()
	}

	req, err := NewRequest(c.nextID.Add(1), method, params)
	if err != nil {
		return err
	}
	payload, err := EncodeMessage(req)
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+PathRPC, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	body, err := c.do(httpReq)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	msg, err := DecodeMessage(body)
	if err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	resp, ok := msg.(*jsonrpc.Response)
	if !ok {
		return fmt.Errorf("%s: expected a response, got %T", method, msg)
	}
	if err := ResponseError(resp); err != nil {
		return err
	}
	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
	}
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return body, nil
}

func (c *Client) callOK(ctx context.Context, method string, params any) (bool, error) {
	var res OKResult
	if err := c.Call(ctx, method, params, &res); err != nil {
		return false, err
	}
	return res.OK, nil
}

// Resolve completes a pending request with a plain response. It reports
// false if the request is unknown or already decided.
func (c *Client) Resolve(ctx context.Context, id string, status int, headers map[string]string, body string) (bool, error) {
	return c.callOK(ctx, MethodResolve, ResolveParams{ID: id, Status: status, Headers: headers, Body: body})
}

// PushStreamEvent opens the event stream of a pending request, or pushes to
// an open one.
func (c *Client) PushStreamEvent(ctx context.Context, id, data string, headers map[string]string, eventType string) (bool, error) {
	return c.callOK(ctx, MethodPushStreamEvent, PushStreamEventParams{ID: id, Data: data, Headers: headers, EventType: eventType})
}

// CloseStream ends the event stream of a request.
func (c *Client) CloseStream(ctx context.Context, id string) (bool, error) {
	return c.callOK(ctx, MethodCloseStream, IDParams{ID: id})
}

// GetBody returns the full captured body of a request, or "" if unknown.
func (c *Client) GetBody(ctx context.Context, id string) (string, error) {
	var res BodyResult
	if err := c.Call(ctx, MethodGetBody, IDParams{ID: id}, &res); err != nil {
		return "", err
	}
	return res.Body, nil
}

// SetRequestTimeout changes the bounded wait of counted routes.
func (c *Client) SetRequestTimeout(ctx context.Context, d time.Duration) error {
	_, err := c.callOK(ctx, MethodSetRequestTimeout, SetRequestTimeoutParams{Seconds: d.Seconds()})
	return err
}

// SetMaxConcurrent changes the admission limit.
func (c *Client) SetMaxConcurrent(ctx context.Context, limit int) error {
	_, err := c.callOK(ctx, MethodSetMaxConcurrent, SetMaxConcurrentParams{Limit: limit})
	return err
}

// Status returns the bridge's runtime status.
func (c *Client) Status(ctx context.Context) (StatusResult, error) {
	var res StatusResult
	err := c.Call(ctx, MethodStatus, nil, &res)
	return res, err
}

// Events long-polls the notification feed. It waits up to timeout for the
// first event and returns at most max events; max <= 0 leaves the limit to
// the server.
func (c *Client) Events(ctx context.Context, timeout time.Duration, max int) ([]Event, error) {
	q := url.Values{}
	q.Set("timeout", timeout.String())
	if max > 0 {
		q.Set("max", strconv.Itoa(max))
	}

	ctx, cancel := context.WithTimeout(ctx, timeout+DefaultClientTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+PathEvents+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	body, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("events: %w", err)
	}

	var res EventsResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("events: decode: %w", err)
	}
	return res.Events, nil
}
