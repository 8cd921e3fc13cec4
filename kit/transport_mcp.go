package kit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterMCPTool exposes endpoint as an MCP tool whose arguments decode
// into a *T. Bad arguments and endpoint errors are reported as tool errors
// so the client sees them; the protocol error channel stays unused.
// Each call gets a fresh trace id.
func RegisterMCPTool[T any](srv *mcp.Server, tool *mcp.Tool, endpoint Endpoint) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx = WithTransport(ctx, TransportMCP)
		ctx = WithTraceID(ctx, uuid.NewString())

		args := new(T)
		if raw := req.Params.Arguments; len(raw) > 0 {
			if err := json.Unmarshal(raw, args); err != nil {
				return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
			}
		}

		resp, err := endpoint(ctx, args)
		if err != nil {
			return toolError(err), nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			return toolError(fmt.Errorf("marshal: %w", err)), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

func toolError(err error) *mcp.CallToolResult {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res
}
