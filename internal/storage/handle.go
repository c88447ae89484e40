package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// KV is the item-level view of the store used by session, usage and video
// state. Handle implements it.
type KV interface {
	GetItem(key string) (string, bool, error)
	SetItem(key, value string) error
	RemoveItem(key string) error
}

// Handle is one context's view of the store. Every mutation is tagged with
// the handle's origin so watchers in other contexts can tell their own
// writes apart from everyone else's.
type Handle struct {
	store  *Store
	origin string
}

// NewHandle returns a handle with a fresh origin id.
func (s *Store) NewHandle() *Handle {
	return &Handle{store: s, origin: uuid.New().String()}
}

// Origin returns the handle's origin id.
func (h *Handle) Origin() string {
	return h.origin
}

// GetItem returns the value stored under key. ok is false when the key is absent.
func (h *Handle) GetItem(key string) (string, bool, error) {
	v, err := h.store.getItem(key)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", key, err)
	}
	return v, true, nil
}

// SetItem stores value under key and records the change.
func (h *Handle) SetItem(key, value string) error {
	return h.store.setItem(h.origin, key, value)
}

// RemoveItem deletes key and records the removal.
func (h *Handle) RemoveItem(key string) error {
	return h.store.removeItem(h.origin, key)
}

const watchBatch = 100

// Watcher delivers changes made by other origins after the point it was created.
type Watcher struct {
	handle *Handle
	cursor int64
	logger *slog.Logger
}

// Watcher starts watching from the current head of the change log. Changes
// that happened before this call are never delivered.
func (h *Handle) Watcher() (*Watcher, error) {
	head, err := h.store.ChangeHead()
	if err != nil {
		return nil, fmt.Errorf("reading change head: %w", err)
	}
	return &Watcher{handle: h, cursor: head, logger: slog.Default()}, nil
}

// Poll returns changes from other origins since the previous poll.
func (w *Watcher) Poll() ([]Change, error) {
	var all []Change
	for {
		changes, err := w.handle.store.ChangesAfter(w.cursor, w.handle.origin, watchBatch)
		if err != nil {
			return all, fmt.Errorf("reading changes: %w", err)
		}
		if len(changes) == 0 {
			return all, nil
		}
		w.cursor = changes[len(changes)-1].Seq
		all = append(all, changes...)
		if len(changes) < watchBatch {
			return all, nil
		}
	}
}

// Run polls every interval and calls fn for each change until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context, interval time.Duration, fn func(Change)) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	for {
		changes, err := w.Poll()
		if err != nil {
			w.logger.Error("storage watch failed", "error", err)
		}
		for _, c := range changes {
			if ctx.Err() != nil {
				return
			}
			fn(c)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}
