// Package kit holds the request-scoped values shared by the HTTP and MCP
// transports, and the endpoint shape MCP tools are written against.
package kit

import "context"

type (
	transportKey  struct{}
	traceIDKey    struct{}
	remoteAddrKey struct{}
)

// Transport names.
const (
	TransportHTTP = "http"
	TransportMCP  = "mcp_stdio"
)

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, transportKey{}, t)
}

// GetTransport defaults to TransportHTTP.
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(transportKey{}).(string); ok {
		return v
	}
	return TransportHTTP
}

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, id)
}

func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(traceIDKey{}).(string)
	return v
}

func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, remoteAddrKey{}, addr)
}

func GetRemoteAddr(ctx context.Context) string {
	v, _ := ctx.Value(remoteAddrKey{}).(string)
	return v
}
