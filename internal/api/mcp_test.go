package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/knowitall/internal/importance"
	"github.com/kalambet/knowitall/internal/memory"
	"github.com/kalambet/knowitall/internal/retrieval"
	"github.com/kalambet/knowitall/internal/vault"
)

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

func callTool(t *testing.T, h func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	result, err := h(context.Background(), makeCallToolRequest(name, args))
	if err != nil {
		t.Fatalf("%s: unexpected error: %v", name, err)
	}
	return result
}

func TestMCPTool_Remember(t *testing.T) {
	m := newFakeMemory()
	result := callTool(t, mcpRemember(MCPDeps{Memory: m}), "remember", map[string]any{
		"content": "I love hiking in Alaska",
	})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if len(m.added) != 1 || m.added[0].Role != memory.RoleUser {
		t.Fatalf("added = %+v, want one user message", m.added)
	}
	if !strings.Contains(toolText(t, result), m.session) {
		t.Errorf("result %q does not name the session", toolText(t, result))
	}
}

func TestMCPTool_Remember_Invalid(t *testing.T) {
	m := newFakeMemory()
	h := mcpRemember(MCPDeps{Memory: m})

	if r := callTool(t, h, "remember", map[string]any{}); !r.IsError {
		t.Error("missing content: expected IsError")
	}
	if r := callTool(t, h, "remember", map[string]any{"content": "x", "role": "robot"}); !r.IsError {
		t.Error("bad role: expected IsError")
	}
	if len(m.added) != 0 {
		t.Errorf("invalid calls stored %d messages", len(m.added))
	}
}

func TestMCPTool_Remember_StoreError(t *testing.T) {
	m := newFakeMemory()
	m.addErr = errors.New("disk full")
	r := callTool(t, mcpRemember(MCPDeps{Memory: m}), "remember", map[string]any{"content": "hello"})
	if !r.IsError {
		t.Fatal("expected IsError")
	}
	if !strings.Contains(toolText(t, r), "disk full") {
		t.Errorf("error text = %q", toolText(t, r))
	}
}

func TestMCPTool_Recall(t *testing.T) {
	m := newFakeMemory()
	m.results.Memories = []memory.Result{{Entry: memory.Entry{Text: "Alaska trip"}, Score: 0.8}}
	m.results.Notes = []retrieval.Candidate{{Note: vault.NoteInfo{Path: "mem/Alaska.md"}, Score: 15}}
	m.results.Facts = []importance.Scored{}

	r := callTool(t, mcpRecall(MCPDeps{Memory: m}), "recall", map[string]any{"query": "Alaska", "limit": 500})
	if r.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, r))
	}
	if m.lastK != 50 {
		t.Errorf("limit = %d, want clamped to 50", m.lastK)
	}
	var body struct {
		Memories []json.RawMessage `json:"memories"`
		Notes    []json.RawMessage `json:"notes"`
	}
	if err := json.Unmarshal([]byte(toolText(t, r)), &body); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	if len(body.Memories) != 1 || len(body.Notes) != 1 {
		t.Errorf("got %d memories, %d notes, want 1 and 1", len(body.Memories), len(body.Notes))
	}
}

func TestMCPTool_Recall_MissingQuery(t *testing.T) {
	r := callTool(t, mcpRecall(MCPDeps{Memory: newFakeMemory()}), "recall", map[string]any{})
	if !r.IsError {
		t.Error("expected IsError")
	}
}

func TestMCPTool_SearchNotes_Empty(t *testing.T) {
	m := newFakeMemory()
	r := callTool(t, mcpSearchNotes(MCPDeps{Memory: m}), "search_notes", map[string]any{"query": "nothing"})
	if toolText(t, r) != "[]" {
		t.Errorf("empty search = %q, want []", toolText(t, r))
	}
	if m.lastK != 5 {
		t.Errorf("default limit = %d, want 5", m.lastK)
	}
}

func TestMCPTool_ResetSession(t *testing.T) {
	m := newFakeMemory()
	r := callTool(t, mcpResetSession(MCPDeps{Memory: m}), "reset_session", nil)
	if m.resets != 1 {
		t.Fatalf("resets = %d, want 1", m.resets)
	}
	if !strings.Contains(toolText(t, r), "1700000001-ffff0000") {
		t.Errorf("result = %q", toolText(t, r))
	}
}

func TestMCPTool_ImportantFacts_Ledger(t *testing.T) {
	m := newFakeMemory()
	m.ledger[importance.Events] = []importance.Record{{Text: "Wedding on June 3", Category: importance.Events, Timestamp: 20}}
	m.ledger[importance.Personal] = []importance.Record{{Text: "My name is Ada", Category: importance.Personal, Timestamp: 10}}

	r := callTool(t, mcpImportantFacts(MCPDeps{Memory: m}), "important_facts", nil)
	var recs []importance.Record
	if err := json.Unmarshal([]byte(toolText(t, r)), &recs); err != nil {
		t.Fatalf("parsing: %v", err)
	}
	if len(recs) != 2 || recs[0].Text != "My name is Ada" {
		t.Errorf("facts = %+v, want both, oldest first", recs)
	}
}

func TestMCPTool_ImportantFacts_Query(t *testing.T) {
	m := newFakeMemory()
	m.results.Facts = []importance.Scored{{Record: importance.Record{Text: "I'm allergic to nuts"}, Similarity: 0.7}}

	r := callTool(t, mcpImportantFacts(MCPDeps{Memory: m}), "important_facts", map[string]any{"query": "food"})
	if m.lastQuery != "food" {
		t.Errorf("query = %q, want food", m.lastQuery)
	}
	if !strings.Contains(toolText(t, r), "allergic") {
		t.Errorf("result = %s", toolText(t, r))
	}
}

func TestMCPResource_Recent(t *testing.T) {
	m := newFakeMemory()
	m.entries = []memory.Entry{{Text: strings.Repeat("a", 300), Role: memory.RoleUser, SessionID: "s", Timestamp: 1700000000}}

	contents, err := mcpResourceRecent(MCPDeps{Memory: m})(context.Background(), makeReadResourceRequest("memory://recent"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.lastK != recentResourceSize {
		t.Errorf("limit = %d, want %d", m.lastK, recentResourceSize)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	if tc.URI != "memory://recent" || tc.MIMEType != "application/json" {
		t.Errorf("resource = %s %s", tc.URI, tc.MIMEType)
	}
	var out []struct {
		Text string `json:"text"`
		Time string `json:"time"`
	}
	if err := json.Unmarshal([]byte(tc.Text), &out); err != nil {
		t.Fatal(err)
	}
	if len([]rune(out[0].Text)) != maxSnippetRunes+3 {
		t.Errorf("snippet length = %d, want truncated", len([]rune(out[0].Text)))
	}
	if out[0].Time != "2023-11-14T22:13:20Z" {
		t.Errorf("time = %s", out[0].Time)
	}
}

func TestMCPResource_Ledger(t *testing.T) {
	m := newFakeMemory()
	m.ledger[importance.Preferences] = []importance.Record{{Text: "I prefer tea"}}

	contents, err := mcpResourceLedger(MCPDeps{Memory: m})(context.Background(), makeReadResourceRequest("memory://ledger"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tc := contents[0].(mcp.TextResourceContents)
	if !strings.Contains(tc.Text, "I prefer tea") {
		t.Errorf("ledger resource = %s", tc.Text)
	}
}

func TestNewMCPServer_ListsTools(t *testing.T) {
	s := NewMCPServer(MCPDeps{Memory: newFakeMemory(), Version: "test"})
	resp := s.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	b, err := json.Marshal(resp)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"remember", "recall", "search_notes", "reset_session", "important_facts"} {
		if !strings.Contains(string(b), `"name":"`+name+`"`) {
			t.Errorf("tool %q not listed in %s", name, b)
		}
	}
}
