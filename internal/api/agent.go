package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/botdash/internal/backend"
	"github.com/kalambet/botdash/internal/notify"
	"github.com/kalambet/botdash/internal/session"
	"github.com/kalambet/botdash/internal/shell"
	"github.com/kalambet/botdash/internal/storage"
	"github.com/kalambet/botdash/internal/usage"
	"github.com/kalambet/botdash/internal/video"
)

const maxRequestBodySize = 1 << 20 // 1MB

// AgentDeps is what the local agent serves from. Producer is the store
// handle usage updates are published through; it must not be the handle
// the Usage synchronizer watches, or the synchronizer would skip them.
type AgentDeps struct {
	Sessions *session.Store
	Poller   *notify.Poller
	Usage    *usage.Synchronizer
	Videos   *video.Manager
	Shell    *shell.Shell
	Producer storage.KV
	Token    string
}

// NewAgentHandler returns the agent's HTTP surface. Everything except
// /health requires the agent token.
func NewAgentHandler(deps AgentDeps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/session", handleSession(deps))
		r.Get("/view", handleView(deps))
		r.Get("/notifications", handleListNotifications(deps))
		r.Post("/notifications/read-all", handleMarkAllRead(deps))
		r.Post("/notifications/{id}/read", handleMarkRead(deps))
		r.Get("/usage", handleGetUsage(deps))
		r.Post("/usage", handlePublishUsage(deps))
		r.Get("/videos", handleListVideos(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// sessionView is the session without its credential.
type sessionView struct {
	Name      string       `json:"name"`
	Email     string       `json:"email,omitempty"`
	AvatarURL string       `json:"avatarUrl"`
	Role      session.Role `json:"role"`
	SignedIn  bool         `json:"signedIn"`
}

func viewSession(s session.Session) sessionView {
	return sessionView{
		Name:      s.Name,
		Email:     s.Email,
		AvatarURL: s.AvatarURL,
		Role:      s.Role,
		SignedIn:  !s.IsGuest(),
	}
}

func handleSession(deps AgentDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, viewSession(deps.Sessions.Read()))
	}
}

func handleView(deps AgentDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Shell == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "layout not available")
			return
		}
		writeJSON(w, http.StatusOK, deps.Shell.View())
	}
}

func handleListNotifications(deps AgentDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items := deps.Poller.Items()
		if items == nil {
			items = []backend.Notification{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"state":         deps.Poller.State().String(),
			"notifications": items,
		})
	}
}

func writeResult(w http.ResponseWriter, res notify.Result) {
	switch {
	case res.OK():
		writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
	case errors.Is(res.Err, notify.ErrUnknownNotification):
		httpError(w, http.StatusNotFound, "not_found", "notification not found")
	default:
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error": map[string]any{
				"message": res.Err.Error(),
				"type":    "api_error",
			},
			"rolled_back": res.RolledBack,
		})
	}
}

func handleMarkRead(deps AgentDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid notification id")
			return
		}
		writeResult(w, deps.Poller.MarkRead(r.Context(), id))
	}
}

func handleMarkAllRead(deps AgentDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, deps.Poller.MarkAllRead(r.Context()))
	}
}

type usageResponse struct {
	Usage   backend.Usage `json:"usage"`
	Words   usage.Quota   `json:"words"`
	Storage usage.Quota   `json:"storage"`
}

func usageStatus(u backend.Usage) usageResponse {
	return usageResponse{Usage: u, Words: usage.WordsQuota(u), Storage: usage.StorageQuota(u)}
}

func handleGetUsage(deps AgentDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, usageStatus(deps.Usage.Snapshot()))
	}
}

func handlePublishUsage(deps AgentDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var u usage.Update
		if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if u.GlobalWordsUsed == nil && u.GlobalStorageUsed == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one of globalWordsUsed or globalStorageUsed is required")
			return
		}
		if err := usage.Publish(deps.Producer, u); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to publish usage: %v", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "published"})
	}
}

func handleListVideos(deps AgentDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Videos.Reload()
		page := deps.Videos.SetPage(parseIntParam(r, "page", 1, 0))

		items := deps.Videos.Page(page)
		if items == nil {
			items = []string{}
		}
		selected := deps.Videos.Selected()
		if selected == nil {
			selected = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"page":     page,
			"pages":    deps.Videos.PageCount(),
			"videos":   items,
			"selected": selected,
			"input":    deps.Videos.Input(),
		})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
