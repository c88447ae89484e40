package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/botdash/internal/backend"
	"github.com/kalambet/botdash/internal/session"
	"github.com/kalambet/botdash/internal/transcript"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T) (MCPDeps, *testAgent) {
	t.Helper()
	a := setupAgent(t, testToken)
	return MCPDeps{
		Sessions:    a.deps.Sessions,
		Poller:      a.deps.Poller,
		Usage:       a.deps.Usage,
		Transcripts: transcript.NewService(a.backend),
	}, a
}

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

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
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

// --- tests ---

func TestNewMCPServer_Builds(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	if s := NewMCPServer(deps); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
	deps.Transcripts = nil
	if s := NewMCPServer(deps); s == nil {
		t.Fatal("NewMCPServer without transcripts returned nil")
	}
}

func TestMCPTool_ListNotifications(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	result, err := mcpListNotifications(deps)(context.Background(), makeCallToolRequest("list_notifications", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var list []backend.Notification
	if err := json.Unmarshal([]byte(toolText(t, result)), &list); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(list))
	}
}

func TestMCPTool_ListNotifications_Empty(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	deps.Poller.MarkAllRead(context.Background())

	result, err := mcpListNotifications(deps)(context.Background(), makeCallToolRequest("list_notifications", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text := toolText(t, result); text != "[]" {
		t.Fatalf("expected [], got %s", text)
	}
}

func TestMCPTool_MarkRead(t *testing.T) {
	deps, a := newTestMCPDeps(t)
	handler := mcpMarkRead(deps)

	result, err := handler(context.Background(), makeCallToolRequest("mark_notification_read", map[string]interface{}{"id": 2}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if len(a.backend.marked) != 1 || a.backend.marked[0] != 2 {
		t.Fatalf("backend marked %v", a.backend.marked)
	}

	result, _ = handler(context.Background(), makeCallToolRequest("mark_notification_read", map[string]interface{}{"id": 2}))
	if !result.IsError {
		t.Fatal("expected error for already-read notification")
	}

	result, _ = handler(context.Background(), makeCallToolRequest("mark_notification_read", map[string]interface{}{}))
	if !result.IsError {
		t.Fatal("expected error for missing id")
	}
}

func TestMCPTool_MarkRead_BackendFailure(t *testing.T) {
	deps, a := newTestMCPDeps(t)
	a.backend.markErr = errors.New("boom")

	result, _ := mcpMarkRead(deps)(context.Background(), makeCallToolRequest("mark_notification_read", map[string]interface{}{"id": 1}))
	if !result.IsError {
		t.Fatal("expected error")
	}
	if !strings.Contains(toolText(t, result), "boom") {
		t.Fatalf("unexpected text: %s", toolText(t, result))
	}
}

func TestMCPTool_UsageStatus(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	deps.Usage.Set(backend.Usage{GlobalWordsUsed: 760, PlanLimit: 1000})

	result, err := mcpUsageStatus(deps)(context.Background(), makeCallToolRequest("usage_status", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var status usageResponse
	if err := json.Unmarshal([]byte(toolText(t, result)), &status); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if status.Words.Level != "warning" || !strings.Contains(status.Words.Message, "approaching") {
		t.Fatalf("words = %+v", status.Words)
	}
}

func TestMCPTool_AskTranscript_KeepsHistory(t *testing.T) {
	deps, a := newTestMCPDeps(t)
	a.backend.answer = "Twice daily."
	registry := &chats{svc: deps.Transcripts, byID: make(map[int64]*transcript.Chat)}
	handler := mcpAskTranscript(registry)

	for range 2 {
		result, err := handler(context.Background(), makeCallToolRequest("ask_transcript", map[string]interface{}{
			"record_id": 4,
			"question":  "How often?",
		}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.IsError || toolText(t, result) != "Twice daily." {
			t.Fatalf("unexpected result: %s", toolText(t, result))
		}
	}
	if n := len(registry.get(4).History()); n != 4 {
		t.Fatalf("history has %d turns, want 4", n)
	}
}

func TestMCPTool_AskTranscript_Errors(t *testing.T) {
	result, _ := mcpAskTranscript(nil)(context.Background(), makeCallToolRequest("ask_transcript", map[string]interface{}{
		"record_id": 1, "question": "q",
	}))
	if !result.IsError {
		t.Fatal("expected error without transcripts")
	}

	deps, _ := newTestMCPDeps(t)
	registry := &chats{svc: deps.Transcripts, byID: make(map[int64]*transcript.Chat)}
	result, _ = mcpAskTranscript(registry)(context.Background(), makeCallToolRequest("ask_transcript", map[string]interface{}{
		"record_id": 1,
	}))
	if !result.IsError {
		t.Fatal("expected error for missing question")
	}
}

func TestMCPResource_Session(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	if err := deps.Sessions.Write(session.Session{Name: "Ada", Token: "tok-secret"}); err != nil {
		t.Fatal(err)
	}

	contents, err := mcpResourceSession(deps)(context.Background(), makeReadResourceRequest("session://current"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	if strings.Contains(tc.Text, "tok-secret") {
		t.Fatalf("resource leaked the token: %s", tc.Text)
	}
	if !strings.Contains(tc.Text, `"name":"Ada"`) {
		t.Fatalf("unexpected resource: %s", tc.Text)
	}
}
