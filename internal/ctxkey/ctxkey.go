// Package ctxkey defines context key types shared by the HTTP middleware,
// the route handlers and the bridge service. It imports no other internal
// package so that every layer can depend on it.
package ctxkey

// LoggerKey is the context key for the request-scoped logger carrying request_id.
type LoggerKey struct{}

// RequestIDKey is the context key for the request id assigned by the middleware.
type RequestIDKey struct{}
