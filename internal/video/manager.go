// Package video tracks candidate and selected video URLs for an ingestion
// job and submits the selection as one batch.
package video

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/kalambet/botdash/internal/backend"
	"github.com/kalambet/botdash/internal/storage"
)

// Store keys.
const (
	CandidatesKey = "video_candidates"
	SelectedKey   = "video_selected"
	InputKey      = "video_input"
)

// DefaultPageSize is the number of candidates per page.
const DefaultPageSize = 5

var (
	ErrEmptyLink      = errors.New("a source link is required")
	ErrUnknownVideo   = errors.New("video is not a candidate")
	ErrEmptySelection = errors.New("select at least one video")
	ErrNoTarget       = errors.New("no bot bound for submission")
)

// Lookup resolves a source link into video URLs.
type Lookup interface {
	Lookup(ctx context.Context, link string) ([]string, error)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(ctx context.Context, link string) ([]string, error)

func (f LookupFunc) Lookup(ctx context.Context, link string) ([]string, error) {
	return f(ctx, link)
}

// Submitter is the backend surface used to queue a batch.
type Submitter interface {
	SubmitVideos(ctx context.Context, botID int64, urls []string) (backend.SubmitResult, error)
	UpdateBotStatus(ctx context.Context, id int64, status string) (backend.Bot, error)
}

// Manager holds the selection state. Candidates, selection and input are
// persisted on every change; the current page and bound bot are not.
type Manager struct {
	kv       storage.KV
	lookup   Lookup
	api      Submitter
	pageSize int
	logger   *slog.Logger

	mu         sync.Mutex
	candidates []string
	selected   []string
	input      string
	page       int
	target     *backend.Bot
}

// NewManager creates a Manager and loads any persisted selection from kv.
func NewManager(kv storage.KV, lookup Lookup, api Submitter, pageSize int) *Manager {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	m := &Manager{
		kv:       kv,
		lookup:   lookup,
		api:      api,
		pageSize: pageSize,
		logger:   slog.Default(),
		page:     1,
	}
	m.Reload()
	return m
}

// Reload re-reads the persisted state, dropping anything malformed.
func (m *Manager) Reload() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.candidates = m.loadList(CandidatesKey)
	selected := m.loadList(SelectedKey)
	// a selection outside the candidates cannot be shown or submitted
	m.selected = slices.DeleteFunc(selected, func(u string) bool { return !slices.Contains(m.candidates, u) })
	input, _, err := m.kv.GetItem(InputKey)
	if err != nil {
		m.logger.Warn("reading video input failed", "error", err)
	}
	m.input = input
	m.page = min(m.page, max(1, m.pageCountLocked()))
}

func (m *Manager) loadList(key string) []string {
	raw, ok, err := m.kv.GetItem(key)
	if err != nil {
		m.logger.Warn("reading video state failed", "key", key, "error", err)
		return nil
	}
	if !ok || raw == "" {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		m.logger.Warn("malformed video state, ignoring", "key", key, "error", err)
		return nil
	}
	return dedupe(nil, list)
}

func (m *Manager) saveLocked() error {
	for key, list := range map[string][]string{CandidatesKey: m.candidates, SelectedKey: m.selected} {
		if list == nil {
			list = []string{}
		}
		data, err := json.Marshal(list)
		if err != nil {
			return fmt.Errorf("marshalling %s: %w", key, err)
		}
		if err := m.kv.SetItem(key, string(data)); err != nil {
			return fmt.Errorf("saving %s: %w", key, err)
		}
	}
	if err := m.kv.SetItem(InputKey, m.input); err != nil {
		return fmt.Errorf("saving %s: %w", InputKey, err)
	}
	return nil
}

// dedupe appends the members of add not already in list, keeping the order
// of first appearance.
func dedupe(list, add []string) []string {
	for _, u := range add {
		u = strings.TrimSpace(u)
		if u == "" || slices.Contains(list, u) {
			continue
		}
		list = append(list, u)
	}
	return list
}

// Fetch resolves link and merges the result into the candidates. It returns
// how many new URLs were added. On lookup failure nothing but the input
// changes.
func (m *Manager) Fetch(ctx context.Context, link string) (int, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return 0, ErrEmptyLink
	}
	if err := m.SetInput(link); err != nil {
		return 0, err
	}

	urls, err := m.lookup.Lookup(ctx, link)
	if err != nil {
		return 0, fmt.Errorf("looking up videos: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	before := len(m.candidates)
	m.candidates = dedupe(m.candidates, urls)
	if err := m.saveLocked(); err != nil {
		return 0, err
	}
	added := len(m.candidates) - before
	m.logger.Debug("fetched videos", "link", link, "returned", len(urls), "added", added)
	return added, nil
}

// SetInput stores the source link field.
func (m *Manager) SetInput(link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.input = link
	if err := m.kv.SetItem(InputKey, link); err != nil {
		return fmt.Errorf("saving %s: %w", InputKey, err)
	}
	return nil
}

// Input returns the source link field.
func (m *Manager) Input() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.input
}

// Candidates returns every candidate URL in order.
func (m *Manager) Candidates() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.candidates)
}

// Selected returns the selected URLs in selection order.
func (m *Manager) Selected() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.selected)
}

// IsSelected reports whether url is selected.
func (m *Manager) IsSelected(url string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Contains(m.selected, url)
}

// Select adds url to the selection.
func (m *Manager) Select(url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !slices.Contains(m.candidates, url) {
		return fmt.Errorf("%w: %s", ErrUnknownVideo, url)
	}
	if slices.Contains(m.selected, url) {
		return nil
	}
	m.selected = append(m.selected, url)
	return m.saveLocked()
}

// Deselect removes url from the selection.
func (m *Manager) Deselect(url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := slices.Index(m.selected, url)
	if i < 0 {
		return nil
	}
	m.selected = slices.Delete(m.selected, i, i+1)
	return m.saveLocked()
}

// Toggle flips url's selection and reports whether it is now selected.
func (m *Manager) Toggle(url string) (bool, error) {
	if m.IsSelected(url) {
		return false, m.Deselect(url)
	}
	if err := m.Select(url); err != nil {
		return false, err
	}
	return true, nil
}

// SelectAll selects every candidate.
func (m *Manager) SelectAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selected = slices.Clone(m.candidates)
	return m.saveLocked()
}

// ClearSelection deselects everything.
func (m *Manager) ClearSelection() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selected = nil
	return m.saveLocked()
}

// PageCount returns the number of candidate pages.
func (m *Manager) PageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pageCountLocked()
}

func (m *Manager) pageCountLocked() int {
	return (len(m.candidates) + m.pageSize - 1) / m.pageSize
}

// Page returns the candidates on page n, counting from 1. Out-of-range pages
// are empty.
func (m *Manager) Page(n int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 1 {
		return nil
	}
	start := (n - 1) * m.pageSize
	if start >= len(m.candidates) {
		return nil
	}
	end := min(start+m.pageSize, len(m.candidates))
	return slices.Clone(m.candidates[start:end])
}

// SetPage moves the current page, clamped to the available pages.
func (m *Manager) SetPage(n int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.page = min(max(n, 1), max(1, m.pageCountLocked()))
	return m.page
}

// CurrentPage returns the current page number.
func (m *Manager) CurrentPage() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.page
}

// Bind sets the bot the next batch is submitted to.
func (m *Manager) Bind(bot backend.Bot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.target = &bot
}

// Target returns the bound bot.
func (m *Manager) Target() (backend.Bot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.target == nil {
		return backend.Bot{}, false
	}
	return *m.target, true
}

// Submit queues the selection for the bound bot. On success all selection
// state is cleared and an in-progress bot is made active. On failure the
// state is left as it was so the user can retry.
func (m *Manager) Submit(ctx context.Context) (backend.SubmitResult, error) {
	m.mu.Lock()
	if len(m.selected) == 0 {
		m.mu.Unlock()
		return backend.SubmitResult{}, ErrEmptySelection
	}
	if m.target == nil {
		m.mu.Unlock()
		return backend.SubmitResult{}, ErrNoTarget
	}
	urls := slices.Clone(m.selected)
	bot := *m.target
	m.mu.Unlock()

	res, err := m.api.SubmitVideos(ctx, bot.ID, urls)
	if err != nil {
		return backend.SubmitResult{}, fmt.Errorf("submitting videos: %w", err)
	}
	m.logger.Info("video batch submitted", "bot", bot.ID, "videos", len(urls), "status", res.Status)

	m.mu.Lock()
	m.candidates = nil
	m.selected = nil
	m.input = ""
	m.page = 1
	if err := m.saveLocked(); err != nil {
		m.logger.Warn("clearing video state failed", "error", err)
	}
	m.mu.Unlock()

	if bot.Status == backend.BotInProgress {
		updated, err := m.api.UpdateBotStatus(ctx, bot.ID, backend.BotActive)
		if err != nil {
			m.logger.Warn("activating bot failed", "bot", bot.ID, "error", err)
			return res, nil
		}
		m.Bind(updated)
	}
	return res, nil
}
