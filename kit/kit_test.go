package kit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestChain_Order(t *testing.T) {
	var order []string

	mw := func(name string) Middleware {
		return func(next Endpoint) Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				order = append(order, name+"_before")
				resp, err := next(ctx, req)
				order = append(order, name+"_after")
				return resp, err
			}
		}
	}

	base := func(_ context.Context, _ any) (any, error) {
		order = append(order, "endpoint")
		return "ok", nil
	}

	resp, err := Chain(mw("a"), mw("b"), mw("c"))(base)(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp != "ok" {
		t.Fatalf("response: got %v", resp)
	}

	want := []string{"a_before", "b_before", "c_before", "endpoint", "c_after", "b_after", "a_after"}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestChain_ErrorPropagation(t *testing.T) {
	errFail := errors.New("fail")
	base := func(_ context.Context, _ any) (any, error) {
		return nil, errFail
	}

	noop := func(next Endpoint) Endpoint { return next }
	_, err := Chain(noop)(base)(context.Background(), nil)
	if !errors.Is(err, errFail) {
		t.Fatalf("error: got %v, want %v", err, errFail)
	}
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ep := Logging(logger, "classify")(func(context.Context, any) (any, error) {
		return nil, errors.New("boom")
	})
	ctx := WithTraceID(WithTransport(context.Background(), TransportMCP), "trc_1")
	ep(ctx, nil)
	out := buf.String()
	for _, want := range []string{"endpoint=classify", "transport=mcp_stdio", "trace_id=trc_1", "error=boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q:\n%s", want, out)
		}
	}
}

func TestContext_Transport(t *testing.T) {
	if v := GetTransport(context.Background()); v != TransportHTTP {
		t.Fatalf("default transport: got %q, want 'http'", v)
	}
	ctx := WithTransport(context.Background(), "mcp_stdio")
	if v := GetTransport(ctx); v != "mcp_stdio" {
		t.Fatalf("transport: got %q", v)
	}
}

func TestContext_Values(t *testing.T) {
	ctx := context.Background()
	if GetTraceID(ctx) != "" || GetRemoteAddr(ctx) != "" {
		t.Fatal("empty context must yield empty values")
	}
	ctx = WithTraceID(ctx, "trc_xyz")
	ctx = WithRemoteAddr(ctx, "10.0.0.1")
	if GetTraceID(ctx) != "trc_xyz" || GetRemoteAddr(ctx) != "10.0.0.1" {
		t.Fatalf("values: %q %q", GetTraceID(ctx), GetRemoteAddr(ctx))
	}
}
