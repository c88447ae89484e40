package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/botdash/internal/backend"
	"github.com/kalambet/botdash/internal/broadcast"
	"github.com/kalambet/botdash/internal/storage"
)

// UpdateKey is the store key of the transient usage record.
const UpdateKey = "usage_update"

var ErrAlreadyStarted = errors.New("synchronizer already started")

// Update is the record a producer leaves for the synchronizer. Absent
// counters leave the current value alone.
type Update struct {
	GlobalWordsUsed   *int64 `json:"globalWordsUsed,omitempty"`
	GlobalStorageUsed *int64 `json:"globalStorageUsed,omitempty"`
}

// Publish writes u as the transient record for a synchronizer in another
// context to consume.
func Publish(kv storage.KV, u Update) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshalling usage update: %w", err)
	}
	if err := kv.SetItem(UpdateKey, string(data)); err != nil {
		return fmt.Errorf("writing usage update: %w", err)
	}
	return nil
}

// Source fetches the full usage snapshot.
type Source interface {
	Usage(ctx context.Context) (backend.Usage, error)
}

// Synchronizer holds the in-memory usage snapshot. It consumes usage records
// written by other contexts: each record is merged once and then removed.
type Synchronizer struct {
	handle   *storage.Handle
	src      Source
	interval time.Duration
	logger   *slog.Logger
	bus      *broadcast.Bus[backend.Usage]

	mu       sync.Mutex
	snapshot backend.Usage
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSynchronizer creates a Synchronizer watching h. src may be nil when no
// backend is available.
func NewSynchronizer(h *storage.Handle, src Source, interval time.Duration) *Synchronizer {
	return &Synchronizer{
		handle:   h,
		src:      src,
		interval: interval,
		logger:   slog.Default(),
		bus:      broadcast.New[backend.Usage](),
	}
}

// Start begins watching the store. Records written before Start or while
// stopped are not delivered.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	w, err := s.handle.Watcher()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		w.Run(ctx, s.interval, s.apply)
	}()
	return nil
}

// Stop ends the watch and waits for it. Safe to call more than once.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (s *Synchronizer) apply(c storage.Change) {
	if c.Key != UpdateKey || c.Removed {
		return
	}

	var u Update
	if err := json.Unmarshal([]byte(c.Value), &u); err != nil {
		s.logger.Warn("malformed usage record, discarding", "error", err)
		s.consume()
		return
	}

	s.mu.Lock()
	if u.GlobalWordsUsed != nil {
		s.snapshot.GlobalWordsUsed = *u.GlobalWordsUsed
	}
	if u.GlobalStorageUsed != nil {
		s.snapshot.GlobalStorageUsed = *u.GlobalStorageUsed
	}
	snap := s.snapshot
	s.mu.Unlock()

	s.consume()
	s.bus.Publish(snap)
}

func (s *Synchronizer) consume() {
	if err := s.handle.RemoveItem(UpdateKey); err != nil {
		s.logger.Error("removing consumed usage record", "error", err)
	}
}

// Refresh replaces the snapshot with the backend's.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	if s.src == nil {
		return nil
	}
	u, err := s.src.Usage(ctx)
	if err != nil {
		return fmt.Errorf("fetching usage: %w", err)
	}
	s.Set(u)
	return nil
}

// Set replaces the snapshot and notifies subscribers.
func (s *Synchronizer) Set(u backend.Usage) {
	s.mu.Lock()
	s.snapshot = u
	s.mu.Unlock()
	s.bus.Publish(u)
}

// Snapshot returns the current counters.
func (s *Synchronizer) Snapshot() backend.Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Subscribe registers fn for snapshot changes.
func (s *Synchronizer) Subscribe(fn func(backend.Usage)) (unsubscribe func()) {
	return s.bus.Subscribe(fn)
}
