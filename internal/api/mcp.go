package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/botdash/internal/notify"
	"github.com/kalambet/botdash/internal/session"
	"github.com/kalambet/botdash/internal/transcript"
	"github.com/kalambet/botdash/internal/usage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Sessions    *session.Store
	Poller      *notify.Poller
	Usage       *usage.Synchronizer
	Transcripts *transcript.Service // optional; if nil, ask_transcript returns an error
}

// chats keeps one conversation per record across tool calls.
type chats struct {
	mu   sync.Mutex
	svc  *transcript.Service
	byID map[int64]*transcript.Chat
}

func (c *chats) get(recordID int64) *transcript.Chat {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.byID[recordID]
	if !ok {
		ch = c.svc.Chat(recordID)
		c.byID[recordID] = ch
	}
	return ch
}

// NewMCPServer creates an MCP server with the dashboard tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"botdash",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("botdash: notifications, usage quotas and transcript Q&A for the signed-in dashboard user."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_notifications",
			mcp.WithDescription("List the user's unread notifications."),
		),
		mcpListNotifications(deps),
	)

	s.AddTool(
		mcp.NewTool("mark_notification_read",
			mcp.WithDescription("Mark one notification as read."),
			mcp.WithNumber("id", mcp.Description("Notification id"), mcp.Required()),
		),
		mcpMarkRead(deps),
	)

	s.AddTool(
		mcp.NewTool("usage_status",
			mcp.WithDescription("Report word and storage usage against the plan limits."),
		),
		mcpUsageStatus(deps),
	)

	var registry *chats
	if deps.Transcripts != nil {
		registry = &chats{svc: deps.Transcripts, byID: make(map[int64]*transcript.Chat)}
	}
	s.AddTool(
		mcp.NewTool("ask_transcript",
			mcp.WithDescription("Ask a question about a transcript record. Earlier questions about the same record are sent as context."),
			mcp.WithNumber("record_id", mcp.Description("Transcript record id"), mcp.Required()),
			mcp.WithString("question", mcp.Description("The question to ask"), mcp.Required()),
		),
		mcpAskTranscript(registry),
	)

	s.AddResource(
		mcp.NewResource(
			"session://current",
			"Current Session",
			mcp.WithResourceDescription("Signed-in user without credentials, as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSession(deps),
	)

	return s
}

func mcpListNotifications(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		items := deps.Poller.Items()
		if len(items) == 0 {
			return mcpText("[]"), nil
		}
		b, err := json.Marshal(items)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal notifications: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpMarkRead(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireInt("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		res := deps.Poller.MarkRead(ctx, int64(id))
		switch {
		case res.OK():
			return mcpText(fmt.Sprintf("Marked notification %d as read", id)), nil
		case errors.Is(res.Err, notify.ErrUnknownNotification):
			return mcpError(fmt.Sprintf("notification %d is not unread", id)), nil
		default:
			return mcpError(fmt.Sprintf("mark read failed: %v", res.Err)), nil
		}
	}
}

func mcpUsageStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b, err := json.Marshal(usageStatus(deps.Usage.Snapshot()))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal usage: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAskTranscript(registry *chats) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if registry == nil {
			return mcpError("transcripts not available: no backend configured"), nil
		}
		recordID, err := req.RequireInt("record_id")
		if err != nil {
			return mcpError("record_id is required"), nil
		}
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		answer, err := registry.get(int64(recordID)).Ask(ctx, question)
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}
		return mcpText(answer), nil
	}
}

func mcpResourceSession(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(viewSession(deps.Sessions.Read()))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal session: %w", err)
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
