package control

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"

	bridgehttp "github.com/ROCTUP/1c-mcp-toolkit/internal/adapter/inbound/http"
	"github.com/ROCTUP/1c-mcp-toolkit/pkg/controlrpc"
)

// rpcError is a JSON-RPC error produced by a method handler.
type rpcError struct {
	code    int
	message string
}

func invalidParams(message string) *rpcError {
	return &rpcError{code: controlrpc.CodeInvalidParams, message: "Invalid params: " + message}
}

type methodFunc func(ctx context.Context, params json.RawMessage) (any, *rpcError)

func (s *Server) methods() map[string]methodFunc {
	return map[string]methodFunc{
		controlrpc.MethodResolve:           s.rpcResolve,
		controlrpc.MethodPushStreamEvent:   s.rpcPushStreamEvent,
		controlrpc.MethodCloseStream:       s.rpcCloseStream,
		controlrpc.MethodGetBody:           s.rpcGetBody,
		controlrpc.MethodSetRequestTimeout: s.rpcSetRequestTimeout,
		controlrpc.MethodSetMaxConcurrent:  s.rpcSetMaxConcurrent,
		controlrpc.MethodStatus:            s.rpcStatus,
	}
}

// handleRPC serves one JSON-RPC 2.0 call. Errors are JSON-RPC errors with
// HTTP 200; a notification (no id) is executed and answered with 202.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	logger := bridgehttp.LoggerFromContext(r.Context())

	if ct := r.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || mediaType != "application/json" {
			writeJSONRPCError(w, nil, controlrpc.CodeParseError, "Parse error: content type must be application/json")
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRPCBodySize)
	defer func() { _ = r.Body.Close() }()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeJSONRPCError(w, nil, controlrpc.CodeParseError, "Parse error: request body too large")
			return
		}
		writeJSONRPCError(w, nil, controlrpc.CodeParseError, "Parse error: failed to read request body")
		return
	}
	if len(body) == 0 {
		writeJSONRPCError(w, nil, controlrpc.CodeParseError, "Parse error: empty request body")
		return
	}
	if !json.Valid(body) {
		writeJSONRPCError(w, nil, controlrpc.CodeParseError, "Parse error: invalid JSON")
		return
	}

	msg, err := controlrpc.DecodeMessage(body)
	if err != nil {
		writeJSONRPCError(w, nil, controlrpc.CodeInvalidRequest, "Invalid Request: "+err.Error())
		return
	}
	req, ok := msg.(*jsonrpc.Request)
	if !ok {
		writeJSONRPCError(w, nil, controlrpc.CodeInvalidRequest, "Invalid Request: expected a request")
		return
	}

	fn, ok := s.methods()[req.Method]
	if !ok {
		if !req.ID.IsValid() {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		writeJSONRPCError(w, req.ID.Raw(), controlrpc.CodeMethodNotFound, "Method not found: "+req.Method)
		return
	}

	result, rpcErr := fn(r.Context(), req.Params)
	if rpcErr != nil {
		logger.Debug("rpc call rejected", "method", req.Method, "code", rpcErr.code, "error", rpcErr.message)
	}

	if !req.ID.IsValid() {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if rpcErr != nil {
		writeJSONRPCError(w, req.ID.Raw(), rpcErr.code, rpcErr.message)
		return
	}

	resp, err := controlrpc.NewResult(req.ID, result)
	if err == nil {
		var data []byte
		data, err = controlrpc.EncodeMessage(resp)
		if err == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(data)
			return
		}
	}
	logger.Error("failed to encode rpc result", "method", req.Method, "error", err)
	writeJSONRPCError(w, req.ID.Raw(), controlrpc.CodeInternalError, "Internal error")
}

func decodeParams(raw json.RawMessage, v any) *rpcError {
	if len(raw) == 0 {
		return invalidParams("params are required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return invalidParams(err.Error())
	}
	return nil
}

func (s *Server) record(method string, ok bool) {
	if s.recorder != nil {
		s.recorder.RecordResolution(method, ok)
	}
}

func (s *Server) rpcResolve(ctx context.Context, raw json.RawMessage) (any, *rpcError) {
	var p controlrpc.ResolveParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, invalidParams("id is required")
	}
	ok := s.bridge.Resolve(ctx, p.ID, p.Status, p.Headers, p.Body)
	s.record(controlrpc.MethodResolve, ok)
	return controlrpc.OKResult{OK: ok}, nil
}

func (s *Server) rpcPushStreamEvent(ctx context.Context, raw json.RawMessage) (any, *rpcError) {
	var p controlrpc.PushStreamEventParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, invalidParams("id is required")
	}
	ok := s.bridge.PushStreamEvent(ctx, p.ID, p.Data, p.Headers, p.EventType)
	s.record(controlrpc.MethodPushStreamEvent, ok)
	return controlrpc.OKResult{OK: ok}, nil
}

func (s *Server) rpcCloseStream(ctx context.Context, raw json.RawMessage) (any, *rpcError) {
	var p controlrpc.IDParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, invalidParams("id is required")
	}
	ok := s.bridge.CloseStream(ctx, p.ID)
	s.record(controlrpc.MethodCloseStream, ok)
	return controlrpc.OKResult{OK: ok}, nil
}

func (s *Server) rpcGetBody(ctx context.Context, raw json.RawMessage) (any, *rpcError) {
	var p controlrpc.IDParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, invalidParams("id is required")
	}
	return controlrpc.BodyResult{Body: s.bridge.GetBody(ctx, p.ID)}, nil
}

func (s *Server) rpcSetRequestTimeout(ctx context.Context, raw json.RawMessage) (any, *rpcError) {
	var p controlrpc.SetRequestTimeoutParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	d := time.Duration(p.Seconds * float64(time.Second))
	if d <= 0 {
		return nil, invalidParams("seconds must be positive")
	}
	s.bridge.SetRequestTimeout(d)
	bridgehttp.LoggerFromContext(ctx).Info("request timeout changed", "timeout", d)
	return controlrpc.OKResult{OK: true}, nil
}

func (s *Server) rpcSetMaxConcurrent(ctx context.Context, raw json.RawMessage) (any, *rpcError) {
	var p controlrpc.SetMaxConcurrentParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.Limit <= 0 {
		return nil, invalidParams("limit must be positive")
	}
	s.bridge.SetMaxConcurrent(p.Limit)
	bridgehttp.LoggerFromContext(ctx).Info("max concurrent changed", "max_concurrent", p.Limit)
	return controlrpc.OKResult{OK: true}, nil
}

func (s *Server) rpcStatus(context.Context, json.RawMessage) (any, *rpcError) {
	return s.Status(), nil
}

// Status collects the bridge's runtime status.
func (s *Server) Status() controlrpc.StatusResult {
	stats := s.bridge.Stats()
	st := controlrpc.StatusResult{
		Running:               s.listener.IsRunning(),
		Port:                  s.listener.Port(),
		Pending:               stats.Pending,
		Streaming:             stats.Streaming,
		Active:                stats.Active,
		RequestTimeoutSeconds: s.bridge.RequestTimeout().Seconds(),
		MaxConcurrent:         s.bridge.MaxConcurrent(),
		UptimeSeconds:         time.Since(s.startedAt).Seconds(),
	}
	if s.feed != nil {
		st.Queued = s.feed.Len()
		st.Dropped = s.feed.Dropped()
	}
	return st
}

// jsonRPCError is a JSON-RPC 2.0 error response.
type jsonRPCError struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      any               `json:"id"`
	Error   jsonRPCErrorField `json:"error"`
}

type jsonRPCErrorField struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// writeJSONRPCError writes a JSON-RPC error. JSON-RPC errors still return 200 OK.
func writeJSONRPCError(w http.ResponseWriter, id any, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	_ = json.NewEncoder(w).Encode(jsonRPCError{
		JSONRPC: "2.0",
		ID:      id,
		Error: jsonRPCErrorField{
			Code:    code,
			Message: message,
		},
	})
}
