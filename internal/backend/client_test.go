package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server *httptest.Server

	mu       sync.Mutex
	requests []recordedRequest
}

type cannedResponse struct {
	status int
	body   string
}

func newTestServer(t *testing.T, responses map[string]cannedResponse) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.mu.Lock()
		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})
		ts.mu.Unlock()

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			status := resp.status
			if status == 0 {
				status = http.StatusOK
			}
			w.WriteHeader(status)
			w.Write([]byte(resp.body))
			return
		}

		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail":"not found"}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client(token string) *Client {
	return New(ts.server.URL, StaticToken(token)).WithHTTPClient(ts.server.Client())
}

func (ts *testServer) last(t *testing.T) recordedRequest {
	t.Helper()
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if len(ts.requests) == 0 {
		t.Fatal("no requests recorded")
	}
	return ts.requests[len(ts.requests)-1]
}

func decodeBody(t *testing.T, raw string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("body parse error: %v (body=%q)", err, raw)
	}
	return m
}

var ctx = context.Background()

func TestGoogleSignIn(t *testing.T) {
	ts := newTestServer(t, map[string]cannedResponse{
		"POST /auth/google": {body: `{"token":"tok-1","user":{"name":"Ada","email":"ada@example.com","picture":"https://img/ada.png","role":"admin"}}`},
	})

	res, err := ts.client("").GoogleSignIn(ctx, "google-cred")
	if err != nil {
		t.Fatalf("GoogleSignIn: %v", err)
	}
	if res.Token != "tok-1" || res.User.Name != "Ada" || res.User.Role != "admin" {
		t.Errorf("result = %+v", res)
	}

	r := ts.last(t)
	if r.Auth != "" {
		t.Errorf("unauthenticated call sent Authorization %q", r.Auth)
	}
	if decodeBody(t, r.Body)["credential"] != "google-cred" {
		t.Errorf("body = %s", r.Body)
	}
}

func TestBearerHeader(t *testing.T) {
	ts := newTestServer(t, map[string]cannedResponse{
		"GET /notifications": {body: `[]`},
	})

	if _, err := ts.client("secret").UnreadNotifications(ctx); err != nil {
		t.Fatalf("UnreadNotifications: %v", err)
	}
	r := ts.last(t)
	if r.Auth != "Bearer secret" {
		t.Errorf("auth = %q, want Bearer secret", r.Auth)
	}
	if r.Path != "/notifications?unread=true" {
		t.Errorf("path = %q", r.Path)
	}
}

func TestUnreadNotifications_Decodes(t *testing.T) {
	ts := newTestServer(t, map[string]cannedResponse{
		"GET /notifications": {body: `[{"id":3,"user_id":1,"bot_id":9,"event_type":"training_done","event_data":"bot ready","is_read":false,"created_at":"2026-01-02T03:04:05Z"}]`},
	})

	list, err := ts.client("t").UnreadNotifications(ctx)
	if err != nil {
		t.Fatalf("UnreadNotifications: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("got %d notifications, want 1", len(list))
	}
	n := list[0]
	if n.ID != 3 || n.BotID != 9 || n.EventType != "training_done" || n.IsRead {
		t.Errorf("notification = %+v", n)
	}
	if n.CreatedAt.Year() != 2026 {
		t.Errorf("CreatedAt = %v", n.CreatedAt)
	}
}

func TestMarkRead_Paths(t *testing.T) {
	ts := newTestServer(t, map[string]cannedResponse{
		"POST /notifications/42/read":  {status: http.StatusNoContent},
		"POST /notifications/read-all": {body: `{"ok":true}`},
	})
	c := ts.client("t")

	if err := c.MarkNotificationRead(ctx, 42); err != nil {
		t.Fatalf("MarkNotificationRead: %v", err)
	}
	if r := ts.last(t); r.Path != "/notifications/42/read" || r.Method != http.MethodPost {
		t.Errorf("request = %+v", r)
	}
	if err := c.MarkAllNotificationsRead(ctx); err != nil {
		t.Fatalf("MarkAllNotificationsRead: %v", err)
	}
}

func TestErrorDecoding(t *testing.T) {
	tests := []struct {
		name    string
		resp    cannedResponse
		wantMsg string
		is      error
	}{
		{"detail", cannedResponse{status: 400, body: `{"detail":"token expired"}`}, "token expired", nil},
		{"message", cannedResponse{status: 422, body: `{"message":"weak password"}`}, "weak password", nil},
		{"nested", cannedResponse{status: 500, body: `{"error":{"message":"boom"}}`}, "boom", nil},
		{"plain", cannedResponse{status: 502, body: `bad gateway`}, "bad gateway", nil},
		{"unauthorized", cannedResponse{status: 401, body: `{"detail":"login required"}`}, "login required", ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, map[string]cannedResponse{"POST /auth/reset-password": tt.resp})

			_, err := ts.client("t").ResetPassword(ctx, "tok", "password123")
			var apiErr *Error
			if !errors.As(err, &apiErr) {
				t.Fatalf("err = %v, want *Error", err)
			}
			if apiErr.Status != tt.resp.status {
				t.Errorf("status = %d, want %d", apiErr.Status, tt.resp.status)
			}
			if apiErr.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", apiErr.Message, tt.wantMsg)
			}
			if tt.is != nil && !errors.Is(err, tt.is) {
				t.Errorf("errors.Is(err, %v) = false", tt.is)
			}
		})
	}
}

func TestNotFoundSentinel(t *testing.T) {
	ts := newTestServer(t, nil)
	_, err := ts.client("t").GetBot(ctx, 1)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if errors.Is(err, ErrUnauthorized) {
		t.Error("404 must not match ErrUnauthorized")
	}
}

func TestAskRecord_SendsHistory(t *testing.T) {
	ts := newTestServer(t, map[string]cannedResponse{
		"POST /transcripts/records/7/ask": {body: `{"answer":"Twice daily."}`},
	})

	history := []Turn{{Role: "user", Content: "What medication?"}, {Role: "assistant", Content: "Metformin."}}
	answer, err := ts.client("t").AskRecord(ctx, 7, "How often?", history)
	if err != nil {
		t.Fatalf("AskRecord: %v", err)
	}
	if answer != "Twice daily." {
		t.Errorf("answer = %q", answer)
	}

	body := decodeBody(t, ts.last(t).Body)
	if body["question"] != "How often?" {
		t.Errorf("question = %v", body["question"])
	}
	if turns, ok := body["history"].([]any); !ok || len(turns) != 2 {
		t.Errorf("history = %v", body["history"])
	}
}

func TestAskRecord_NilHistoryIsEmptyArray(t *testing.T) {
	ts := newTestServer(t, map[string]cannedResponse{
		"POST /transcripts/records/7/ask": {body: `{"answer":"ok"}`},
	})
	if _, err := ts.client("t").AskRecord(ctx, 7, "q", nil); err != nil {
		t.Fatal(err)
	}
	body := decodeBody(t, ts.last(t).Body)
	if turns, ok := body["history"].([]any); !ok || len(turns) != 0 {
		t.Errorf("history = %#v, want []", body["history"])
	}
}

func TestSearchPatients_EscapesQuery(t *testing.T) {
	ts := newTestServer(t, map[string]cannedResponse{
		"GET /transcripts/patients": {body: `[{"id":1,"name":"Jane Doe"}]`},
	})
	list, err := ts.client("t").SearchPatients(ctx, "jane doe")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Name != "Jane Doe" {
		t.Errorf("list = %+v", list)
	}
	if p := ts.last(t).Path; p != "/transcripts/patients?q=jane+doe" {
		t.Errorf("path = %q", p)
	}
}

func TestVideosAndBots(t *testing.T) {
	ts := newTestServer(t, map[string]cannedResponse{
		"POST /videos/lookup": {body: `{"videos":["https://youtu.be/a","https://youtu.be/b"]}`},
		"POST /bots/5/videos": {body: `{"status":"processing"}`},
		"PATCH /bots/5":       {body: `{"id":5,"name":"Support","status":"active"}`},
	})
	c := ts.client("t")

	videos, err := c.LookupVideos(ctx, "https://youtube.com/@chan")
	if err != nil {
		t.Fatal(err)
	}
	if len(videos) != 2 {
		t.Errorf("videos = %v", videos)
	}

	res, err := c.SubmitVideos(ctx, 5, []string{"https://youtu.be/a"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != "processing" {
		t.Errorf("status = %q", res.Status)
	}

	bot, err := c.UpdateBotStatus(ctx, 5, BotActive)
	if err != nil {
		t.Fatal(err)
	}
	if bot.Status != BotActive {
		t.Errorf("bot = %+v", bot)
	}
	if r := ts.last(t); r.Method != http.MethodPatch || decodeBody(t, r.Body)["status"] != "active" {
		t.Errorf("request = %+v", r)
	}
}

func TestUsage(t *testing.T) {
	ts := newTestServer(t, map[string]cannedResponse{
		"GET /usage": {body: `{"globalWordsUsed":950,"planLimit":1000,"globalStorageUsed":20,"storageLimit":100}`},
	})
	u, err := ts.client("t").Usage(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if u.GlobalWordsUsed != 950 || u.PlanLimit != 1000 || u.StorageLimit != 100 {
		t.Errorf("usage = %+v", u)
	}
}

func TestUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	err := New(srv.URL, nil).Logout(ctx)
	if err == nil {
		t.Fatal("expected error for closed server")
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		t.Errorf("transport failure reported as *Error: %v", err)
	}
}
