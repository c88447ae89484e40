package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// --- Notifications ---

// UnreadNotifications lists the user's unread notifications.
func (c *Client) UnreadNotifications(ctx context.Context) ([]Notification, error) {
	var list []Notification
	if err := c.do(ctx, http.MethodGet, "/notifications?unread=true", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// MarkNotificationRead marks one notification as read.
func (c *Client) MarkNotificationRead(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/notifications/%d/read", id), nil, nil)
}

// MarkAllNotificationsRead marks every notification of the user as read.
func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/notifications/read-all", nil, nil)
}

// --- Usage ---

// Usage returns the current word and storage counters.
func (c *Client) Usage(ctx context.Context) (Usage, error) {
	var u Usage
	err := c.do(ctx, http.MethodGet, "/usage", nil, &u)
	return u, err
}

// --- Transcripts ---

// SearchPatients returns patients whose name matches query. An empty query
// lists all patients.
func (c *Client) SearchPatients(ctx context.Context, query string) ([]Patient, error) {
	path := "/transcripts/patients"
	if query != "" {
		path += "?q=" + url.QueryEscape(query)
	}
	var list []Patient
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// CreateRecord stores a new transcript record.
func (c *Client) CreateRecord(ctx context.Context, rec Record) (Record, error) {
	var out Record
	err := c.do(ctx, http.MethodPost, "/transcripts/records", rec, &out)
	return out, err
}

// AskRecord asks a question about a transcript record, passing prior turns
// as context, and returns the answer.
func (c *Client) AskRecord(ctx context.Context, recordID int64, question string, history []Turn) (string, error) {
	if history == nil {
		history = []Turn{}
	}
	var res struct {
		Answer string `json:"answer"`
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/transcripts/records/%d/ask", recordID), map[string]any{
		"question": question,
		"history":  history,
	}, &res)
	return res.Answer, err
}

// --- Videos and bots ---

// LookupVideos resolves a channel or playlist link into video URLs.
func (c *Client) LookupVideos(ctx context.Context, sourceLink string) ([]string, error) {
	var res struct {
		Videos []string `json:"videos"`
	}
	if err := c.do(ctx, http.MethodPost, "/videos/lookup", map[string]string{"url": sourceLink}, &res); err != nil {
		return nil, err
	}
	return res.Videos, nil
}

// SubmitVideos queues the given video URLs for ingestion into a bot.
func (c *Client) SubmitVideos(ctx context.Context, botID int64, urls []string) (SubmitResult, error) {
	var res SubmitResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/bots/%d/videos", botID), map[string]any{"urls": urls}, &res)
	return res, err
}

// GetBot fetches a bot by id.
func (c *Client) GetBot(ctx context.Context, id int64) (Bot, error) {
	var b Bot
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/bots/%d", id), nil, &b)
	return b, err
}

// UpdateBotStatus sets a bot's status and returns the updated bot.
func (c *Client) UpdateBotStatus(ctx context.Context, id int64, status string) (Bot, error) {
	var b Bot
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/bots/%d", id), map[string]string{"status": status}, &b)
	return b, err
}
