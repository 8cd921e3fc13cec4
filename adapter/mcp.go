package adapter

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/msadapter/kit"
	"github.com/hazyhaar/msadapter/planid"
	"github.com/hazyhaar/msadapter/version"
)

// RegisterMCP registers the adapter tools on an MCP server.
func (a *Adapter) RegisterMCP(srv *mcp.Server) {
	a.registerRewriteTool(srv)
	a.registerClassifyTool(srv)
	a.registerLookupTool(srv)
	a.registerSelectTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func (a *Adapter) endpoint(name string, ep kit.Endpoint) kit.Endpoint {
	return kit.Chain(kit.Logging(a.logger, name))(ep)
}

// --- rewrite ---

func (a *Adapter) registerRewriteTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "msadapter_rewrite_html",
		Description: "Rewrite a page built for the v1 membership widget into v2 markup and report what changed per rule.",
		InputSchema: inputSchema(map[string]any{
			"html":   map[string]any{"type": "string", "description": "Full HTML document"},
			"url":    map[string]any{"type": "string", "description": "Page URL with query, e.g. /pricing?adapter=true"},
			"mode":   map[string]any{"type": "string", "enum": []string{"v1", "v2"}, "description": "Mode remembered in the browsing session"},
			"member": map[string]any{"type": "object", "description": "v2 member snapshot; makes the page authenticated"},
		}, []string{"html"}),
	}
	ep := a.endpoint(tool.Name, func(ctx context.Context, req any) (any, error) {
		return a.RewriteHTML(ctx, *req.(*RewriteRequest))
	})
	kit.RegisterMCPTool[RewriteRequest](srv, tool, ep)
}

// --- classify ---

type classifyReq struct {
	ID string `json:"id"`
}

type classifyResp struct {
	ID        string `json:"id"`
	Attribute string `json:"attribute"`
	Known     bool   `json:"known"`
}

func (a *Adapter) registerClassifyTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "msadapter_classify_id",
		Description: "Tell which v2 attribute carries an identifier: prc_ ids are prices, pln_ ids are plans.",
		InputSchema: inputSchema(map[string]any{
			"id": map[string]any{"type": "string", "description": "Plan or price identifier"},
		}, []string{"id"}),
	}
	ep := a.endpoint(tool.Name, func(_ context.Context, req any) (any, error) {
		r := req.(*classifyReq)
		attr, ok := planid.Classify(r.ID)
		return classifyResp{ID: r.ID, Attribute: attr, Known: ok}, nil
	})
	kit.RegisterMCPTool[classifyReq](srv, tool, ep)
}

// --- lookup ---

type lookupReq struct {
	OldID string `json:"old_id"`
}

type lookupResp struct {
	Entry     planid.Entry `json:"entry"`
	NewID     string       `json:"new_id"`
	Attribute string       `json:"attribute"`
}

func (a *Adapter) registerLookupTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "msadapter_lookup_membership",
		Description: "Resolve a v1 membership id through the mapping table to its v2 plan or price id.",
		InputSchema: inputSchema(map[string]any{
			"old_id": map[string]any{"type": "string", "description": "v1 membership id"},
		}, []string{"old_id"}),
	}
	ep := a.endpoint(tool.Name, func(_ context.Context, req any) (any, error) {
		r := req.(*lookupReq)
		t := a.mapping.Load()
		newID, attr, err := t.Resolve(r.OldID)
		if err != nil {
			return nil, err
		}
		e, _ := t.Lookup(r.OldID)
		return lookupResp{Entry: e, NewID: newID, Attribute: attr}, nil
	})
	kit.RegisterMCPTool[lookupReq](srv, tool, ep)
}

// --- select version ---

type selectReq struct {
	URL         string `json:"url"`
	SessionMode string `json:"session_mode"`
}

type selectResp struct {
	Mode         version.Mode   `json:"mode"`
	Source       version.Source `json:"source"`
	CleanURL     string         `json:"clean_url"`
	URLRewritten bool           `json:"url_rewritten"`
}

func (a *Adapter) registerSelectTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "msadapter_select_version",
		Description: "Show which widget version a page view would run in and why.",
		InputSchema: inputSchema(map[string]any{
			"url":          map[string]any{"type": "string", "description": "Page URL with query"},
			"session_mode": map[string]any{"type": "string", "description": "Value remembered under ms-adapter in session storage"},
		}, []string{"url"}),
	}
	ep := a.endpoint(tool.Name, func(_ context.Context, req any) (any, error) {
		r := req.(*selectReq)
		sel, err := a.SelectVersion(r.URL, r.SessionMode)
		if err != nil {
			return nil, err
		}
		return selectResp{Mode: sel.Mode, Source: sel.Source, CleanURL: sel.CleanURL, URLRewritten: sel.URLRewritten}, nil
	})
	kit.RegisterMCPTool[selectReq](srv, tool, ep)
}
