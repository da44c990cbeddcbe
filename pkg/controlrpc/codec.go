package controlrpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// EncodeMessage serializes a JSON-RPC message to its wire format.
// This delegates to the MCP SDK's jsonrpc package.
func EncodeMessage(msg jsonrpc.Message) ([]byte, error) {
	return jsonrpc.EncodeMessage(msg)
}

// DecodeMessage deserializes JSON-RPC wire format data into a Message.
// It returns either a *jsonrpc.Request or *jsonrpc.Response based on the message content.
func DecodeMessage(data []byte) (jsonrpc.Message, error) {
	return jsonrpc.DecodeMessage(data)
}

// NewRequest builds a call with a numeric id and params marshaled to JSON.
// nil params are omitted.
func NewRequest(id int64, method string, params any) (*jsonrpc.Request, error) {
	rid, err := jsonrpc.MakeID(float64(id))
	if err != nil {
		return nil, fmt.Errorf("make id: %w", err)
	}
	req := &jsonrpc.Request{ID: rid, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = raw
	}
	return req, nil
}

// NewResult builds a successful response to id.
func NewResult(id jsonrpc.ID, result any) (*jsonrpc.Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &jsonrpc.Response{ID: id, Result: raw}, nil
}

// NewError builds an error response to id.
func NewError(id jsonrpc.ID, code int, message string) *jsonrpc.Response {
	return &jsonrpc.Response{
		ID:    id,
		Error: &jsonrpc.Error{Code: int64(code), Message: message},
	}
}

// Error is a JSON-RPC error returned by the bridge.
type Error struct {
	Code    int64
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// ResponseError extracts the error of a decoded response, or nil.
func ResponseError(resp *jsonrpc.Response) error {
	if resp.Error == nil {
		return nil
	}
	var wire *jsonrpc.Error
	if errors.As(resp.Error, &wire) {
		return &Error{Code: wire.Code, Message: wire.Message}
	}
	return resp.Error
}
