package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/persona/internal/chat"
	"github.com/kalambet/persona/internal/profile"
	"github.com/kalambet/persona/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Profiles *profile.Manager
	Chat     *chat.Manager
	// DefaultUserID is used when a tool call omits user_id.
	DefaultUserID string
}

// NewMCPServer creates an MCP server exposing the assistant's question
// answering and profile tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"persona",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("persona answers questions about a user from their synced email, files, contacts, and calendar."),
		server.WithRecovery(),
	)

	userParam := mcp.WithString("user_id", mcp.Description("User to act on (defaults to the configured user)"))

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask a question about the user, e.g. 'Who are my friends?' or 'What are my upcoming events?'."),
			mcp.WithString("question", mcp.Description("The question"), mcp.Required()),
			mcp.WithString("session_id", mcp.Description("Continue an existing chat session")),
			userParam,
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("insights",
			mcp.WithDescription("List short insights derived from the user's profile."),
			userParam,
		),
		mcpInsights(deps),
	)

	s.AddTool(
		mcp.NewTool("rebuild_preferences",
			mcp.WithDescription("Recompute the user's profile from all of their records."),
			userParam,
		),
		mcpRebuild(deps),
	)

	s.AddTool(
		mcp.NewTool("get_preferences",
			mcp.WithDescription("Return the user's aggregated profile as JSON."),
			userParam,
		),
		mcpPreferences(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"persona://suggestions",
			"Suggested Questions",
			mcp.WithResourceDescription("Example questions the assistant understands"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSuggestions(deps),
	)

	return s
}

func (d MCPDeps) userID(req mcp.CallToolRequest) (string, error) {
	id := req.GetString("user_id", d.DefaultUserID)
	if id == "" {
		return "", errors.New("user_id is required")
	}
	return id, nil
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		userID, err := deps.userID(req)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		resp, err := deps.Chat.ProcessMessage(ctx, userID, question, req.GetString("session_id", ""))
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}
		return mcpJSON(resp)
	}
}

func mcpInsights(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := deps.userID(req)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		insights, err := deps.Profiles.Insights(ctx, userID)
		if err != nil {
			return mcpError(fmt.Sprintf("insights failed: %v", err)), nil
		}
		if len(insights) == 0 {
			return mcpText("[]"), nil
		}
		return mcpJSON(insights)
	}
}

func mcpRebuild(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := deps.userID(req)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		prefs, err := deps.Profiles.Rebuild(ctx, userID)
		if err != nil {
			return mcpError(fmt.Sprintf("rebuild failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Rebuilt profile for %s: %d interests, %d relationships, %d tasks",
			userID, len(prefs.Interests), len(prefs.Relationships), len(prefs.Tasks))), nil
	}
}

func mcpPreferences(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := deps.userID(req)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		prefs, err := deps.Profiles.GetPreferences(ctx, userID)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("unknown user %s", userID)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get preferences: %v", err)), nil
		}
		if prefs == nil {
			return mcpText("{}"), nil
		}
		return mcpJSON(prefs)
	}
}

func mcpResourceSuggestions(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Chat.SuggestedQuestions())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal suggestions: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
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
