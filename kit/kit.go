// Package kit holds the small transport-neutral layer shared by the HTTP
// and MCP surfaces: endpoints, middleware, and request context values.
package kit

import (
	"context"
	"log/slog"
	"time"
)

// Transports recorded in the context. CLI calls carry none.
const (
	TransportCLI  = "cli"
	TransportHTTP = "http"
	TransportMCP  = "mcp"
)

// Endpoint is one operation, independent of how it was invoked.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint.
type Middleware func(Endpoint) Endpoint

// Chain composes middleware; the first argument is the outermost.
func Chain(outer ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(outer) - 1; i >= 0; i-- {
			next = outer[i](next)
		}
		return next
	}
}

// Logging logs each call with its transport, request ID and duration.
func Logging(logger *slog.Logger, name string) Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			attrs := []any{
				"op", name,
				"transport", GetTransport(ctx),
				"duration", time.Since(start),
			}
			if id := GetRequestID(ctx); id != "" {
				attrs = append(attrs, "request_id", id)
			}
			if err != nil {
				logger.WarnContext(ctx, "kit: call failed", append(attrs, "error", err)...)
			} else {
				logger.DebugContext(ctx, "kit: call", attrs...)
			}
			return resp, err
		}
	}
}

type ctxKey int

const (
	transportKey ctxKey = iota
	requestIDKey
)

// WithTransport records how the current call arrived.
func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, transportKey, t)
}

// GetTransport returns the recorded transport, TransportCLI if none.
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(transportKey).(string); ok && v != "" {
		return v
	}
	return TransportCLI
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}
