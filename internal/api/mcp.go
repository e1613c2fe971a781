package api

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/knowitall/internal/importance"
)

const (
	recentResourceSize = 10
	maxSnippetRunes    = 200
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Memory  Memory
	Version string
}

// NewMCPServer creates an MCP server with the memory tools and resources
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"knowitall",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("knowitall keeps long-term conversational memory and mirrors it into a markdown vault. Use remember for every turn worth keeping and recall before answering."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("remember",
			mcp.WithDescription("Store a message turn in long-term memory and mirror it into the vault."),
			mcp.WithString("content", mcp.Description("Message text"), mcp.Required()),
			mcp.WithString("role", mcp.Description("user, assistant or system (default user)")),
		),
		mcpRemember(deps),
	)

	s.AddTool(
		mcp.NewTool("recall",
			mcp.WithDescription("Semantically search stored messages, vault notes and important facts."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum results per source (default 5)")),
		),
		mcpRecall(deps),
	)

	s.AddTool(
		mcp.NewTool("search_notes",
			mcp.WithDescription("Rank vault notes for a query by name and content matches."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of notes (default 5)")),
		),
		mcpSearchNotes(deps),
	)

	s.AddTool(
		mcp.NewTool("reset_session",
			mcp.WithDescription("Start a new conversation session and a new vault note."),
		),
		mcpResetSession(deps),
	)

	s.AddTool(
		mcp.NewTool("important_facts",
			mcp.WithDescription("List facts from the importance ledger, optionally ranked against a query."),
			mcp.WithString("query", mcp.Description("Optional query to rank facts by relevance")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of facts when a query is given (default 5)")),
		),
		mcpImportantFacts(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"memory://recent",
			"Recent Messages",
			mcp.WithResourceDescription("Last 10 stored message turns"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"memory://ledger",
			"Importance Ledger",
			mcp.WithResourceDescription("Classified important messages by category"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceLedger(deps),
	)

	return s
}

func mcpRemember(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}
		msg, err := RememberRequest{Role: req.GetString("role", "user"), Content: content}.Message()
		if err != nil {
			return mcpError(err.Error()), nil
		}

		entry, err := deps.Memory.Add(ctx, msg)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to store: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Stored message %d in session %s", entry.Index, entry.SessionID)), nil
	}
}

func mcpRecall(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		return mcpJSON(deps.Memory.Search(ctx, query, clampLimit(req.GetInt("limit", 5))))
	}
}

func mcpSearchNotes(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		notes := deps.Memory.SearchNotes(ctx, query, clampLimit(req.GetInt("limit", 5)))
		if len(notes) == 0 {
			return mcpText("[]"), nil
		}
		return mcpJSON(notes)
	}
}

func mcpResetSession(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcpText("Started session " + deps.Memory.Reset()), nil
	}
}

func mcpImportantFacts(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if query := req.GetString("query", ""); query != "" {
			return mcpJSON(deps.Memory.Search(ctx, query, clampLimit(req.GetInt("limit", 5))).Facts)
		}
		return mcpJSON(flattenLedger(deps.Memory.Ledger()))
	}
}

// flattenLedger lists records oldest first across categories.
func flattenLedger(ledger map[importance.Category][]importance.Record) []importance.Record {
	out := []importance.Record{}
	for _, recs := range ledger {
		out = append(out, recs...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		type entrySummary struct {
			Session string `json:"session_id"`
			Role    string `json:"role"`
			Time    string `json:"time"`
			Text    string `json:"text"`
		}

		entries := deps.Memory.Recent(recentResourceSize)
		summaries := make([]entrySummary, len(entries))
		for i, e := range entries {
			summaries[i] = entrySummary{
				Session: e.SessionID,
				Role:    string(e.Role),
				Time:    e.Time().UTC().Format(time.RFC3339),
				Text:    snippet(e.Text),
			}
		}
		return jsonResource(req.Params.URI, summaries)
	}
}

func mcpResourceLedger(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return jsonResource(req.Params.URI, deps.Memory.Ledger())
	}
}

func snippet(text string) string {
	if utf8.RuneCountInString(text) <= maxSnippetRunes {
		return text
	}
	return string([]rune(text)[:maxSnippetRunes]) + "..."
}

func clampLimit(n int) int {
	if n <= 0 {
		return 5
	}
	if n > 50 {
		return 50
	}
	return n
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
