// Package http provides the inbound HTTP listener of the bridge.
//
// Every request the listener accepts is captured, registered as a pending
// request and announced to the decision-maker through an outbound.Notifier.
// The handling goroutine then blocks until the decision-maker resolves the
// request with a plain response, opens an event stream on it, or the wait
// ends some other way.
//
// # Usage
//
//	store := pending.NewStore()
//	svc := service.NewBridgeService(store, logger)
//	transport := http.NewHTTPTransport(svc, queue,
//	    http.WithHost("127.0.0.1"),
//	    http.WithLogger(logger),
//	)
//	if err := transport.Start(6003); err != nil {
//	    return err
//	}
//	defer transport.Stop()
//
// # Routes
//
//	POST   /mcp          MCP_POST, counted, bounded wait
//	GET    /mcp          SSE_CONNECT or SSE_LEGACY_CONNECT, uncounted, unbounded wait
//	POST   /mcp/message  SSE_LEGACY_MESSAGE, acknowledged with 202 at once
//	DELETE /mcp          REQUEST, counted
//	GET    /health       REQUEST, counted
//	GET    /api/*        REQUEST, counted
//	POST   /api/*        REQUEST, counted
//
// Anything else is answered with 404 {"error":"Not Found"} without reaching
// the decision-maker. GET /mcp is classified as SSE_CONNECT when any of
// Mcp-Session-Id, Mcp-Protocol-Version or Last-Event-Id is present.
//
// # Admission
//
// Counted routes take a slot from the admission counter before anything else
// and give it back when the response, streaming included, has ended. With
// no slot left the request gets 503 {"error":"Server is busy"}. A counted
// request left undecided for the request timeout gets 504.
//
// # Streams
//
// Once the decision-maker opens a stream the response is written as
// text/event-stream. A stream silent for the keepalive interval gets a
// ": ping" comment frame. The loop ends when the stream is closed (after
// draining queued frames) or when the client goes away. A GET /mcp
// subscription reports SSE_CLOSED when it ends.
//
// # Middleware Chain
//
//  1. otelhttp - server span per request
//  2. MetricsMiddleware - request count and duration
//  3. RequestIDMiddleware - X-Request-ID and a request-scoped logger
//  4. route - dispatch to the handlers above
package http
