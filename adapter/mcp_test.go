package adapter

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var testMCPImpl = &mcp.Implementation{Name: "msadapter-test", Version: "0.1.0"}

func mcpSession(t *testing.T) *mcp.ClientSession {
	t.Helper()
	a := newAdapter(t, nil)
	srv := mcp.NewServer(testMCPImpl, nil)
	a.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func mcpCall(t *testing.T, session *mcp.ClientSession, name string, args any) (string, bool) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	return tc.Text, result.IsError
}

func TestMCP_Classify(t *testing.T) {
	session := mcpSession(t)
	text, isErr := mcpCall(t, session, "msadapter_classify_id", map[string]any{"id": "prc_monthly"})
	if isErr {
		t.Fatalf("tool error: %s", text)
	}
	var resp classifyResp
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Attribute != "data-ms-price:update" || !resp.Known {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestMCP_Lookup(t *testing.T) {
	session := mcpSession(t)
	text, isErr := mcpCall(t, session, "msadapter_lookup_membership", map[string]any{"old_id": "mem_gold"})
	if isErr {
		t.Fatalf("tool error: %s", text)
	}
	var resp lookupResp
	json.Unmarshal([]byte(text), &resp)
	if resp.NewID != "pln_gold" || resp.Attribute != "data-ms-plan:add" || resp.Entry.DisplayName != "Gold plan" {
		t.Fatalf("resp = %+v", resp)
	}

	text, isErr = mcpCall(t, session, "msadapter_lookup_membership", map[string]any{"old_id": "mem_nope"})
	if !isErr || !strings.Contains(text, "no mapping") {
		t.Fatalf("miss = %v %s", isErr, text)
	}
}

func TestMCP_SelectVersion(t *testing.T) {
	session := mcpSession(t)
	text, _ := mcpCall(t, session, "msadapter_select_version", map[string]any{"url": "/a?adapter=true&b=2"})
	var resp selectResp
	json.Unmarshal([]byte(text), &resp)
	if resp.Mode != "v2" || resp.CleanURL != "/a?b=2" || !resp.URLRewritten {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestMCP_RewriteHTML(t *testing.T) {
	session := mcpSession(t)
	text, isErr := mcpCall(t, session, "msadapter_rewrite_html", map[string]any{
		"html": legacyPage,
		"url":  "/pricing?adapter=v2",
	})
	if isErr {
		t.Fatalf("tool error: %s", text)
	}
	var resp RewriteResult
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Mode != "v2" || resp.PreLoad.Total != 2 || !strings.Contains(resp.HTML, "pln_new456") {
		t.Fatalf("resp = %+v", resp)
	}
}
