// Package notify polls the backend for unread notifications and keeps an
// in-memory list that views render from.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/kalambet/botdash/internal/backend"
	"github.com/kalambet/botdash/internal/broadcast"
)

// DefaultInterval is the delay between background fetches.
const DefaultInterval = 10 * time.Second

var (
	ErrUnknownNotification = errors.New("notification is not in the current list")
	ErrAlreadyStarted      = errors.New("poller already started")
	ErrStopped             = errors.New("poller stopped")
)

// Source is the backend surface the poller needs.
type Source interface {
	UnreadNotifications(ctx context.Context) ([]backend.Notification, error)
	MarkNotificationRead(ctx context.Context, id int64) error
	MarkAllNotificationsRead(ctx context.Context) error
}

// State is the poller lifecycle state.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Outcome says whether a mark-read command reached the backend.
type Outcome int

const (
	Success Outcome = iota
	Failure
)

// Result reports a mark-read command. On Failure, RolledBack tells whether
// the removed items were put back into the list. They are not restored when
// a fetch replaced the list in the meantime, since that list is newer, or
// when a mark-all succeeded in the meantime.
type Result struct {
	Outcome    Outcome
	Err        error
	RolledBack bool
}

// OK reports whether the command succeeded.
func (r Result) OK() bool {
	return r.Outcome == Success
}

// Poller fetches unread notifications on a fixed interval.
type Poller struct {
	src      Source
	interval time.Duration
	logger   *slog.Logger
	bus      *broadcast.Bus[[]backend.Notification]

	mu       sync.Mutex
	items    []backend.Notification
	rank     map[int64]int // position of each id in the last fetched list
	state    State
	lastErr  error
	issued   uint64 // fetches started
	applied  uint64 // newest fetch whose result was applied
	inflight int
	version  uint64 // bumped whenever a fetch replaces items
	cleared  uint64 // bumped whenever mark-all succeeds
	gen      uint64 // bumped on every change to items
	started  bool
	cancel   context.CancelFunc
	done     chan struct{}
	inLoop   bool // the loop goroutine is delivering to subscribers

	pubMu     sync.Mutex
	delivered uint64 // gen of the newest snapshot handed to subscribers
}

// NewPoller creates a Poller. interval <= 0 selects DefaultInterval.
func NewPoller(src Source, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		src:      src,
		interval: interval,
		logger:   slog.Default(),
		bus:      broadcast.New[[]backend.Notification](),
	}
}

// Start fetches once immediately and then every interval until Stop is
// called or ctx is cancelled.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state == StateStopped {
		p.mu.Unlock()
		return ErrStopped
	}
	if p.started {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	p.started = true
	p.cancel = cancel
	p.done = make(chan struct{})
	p.mu.Unlock()

	go p.loop(ctx)
	return nil
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.fetch(ctx, true)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.fetch(ctx, true)
		}
	}
}

// Stop cancels the background loop and waits for it to exit. Results of
// requests still in flight are discarded. Stop is idempotent.
//
// While the loop is delivering a fetched list to subscribers, Stop does not
// wait: a subscriber may call Stop, and the loop exits once it returns.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.state = StateStopped
	cancel, done, inLoop := p.cancel, p.done, p.inLoop
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		if !inLoop {
			<-done
		}
	}
}

// Refresh fetches the list now, outside the regular schedule.
func (p *Poller) Refresh(ctx context.Context) error {
	return p.fetch(ctx, false)
}

func (p *Poller) fetch(ctx context.Context, fromLoop bool) error {
	p.mu.Lock()
	if p.state == StateStopped {
		p.mu.Unlock()
		return ErrStopped
	}
	p.issued++
	seq := p.issued
	p.inflight++
	p.state = StateLoading
	p.mu.Unlock()

	list, err := p.src.UnreadNotifications(ctx)

	p.mu.Lock()
	p.inflight--
	if p.state == StateStopped {
		p.mu.Unlock()
		return ErrStopped
	}
	if p.inflight == 0 {
		p.state = StateReady
	}
	if err != nil {
		p.lastErr = err
		p.mu.Unlock()
		if ctx.Err() == nil {
			p.logger.Warn("fetching notifications failed", "error", err)
		}
		return err
	}
	if seq < p.applied {
		p.mu.Unlock()
		p.logger.Debug("discarding out-of-order notification response", "seq", seq, "applied", p.applied)
		return nil
	}
	p.applied = seq
	p.version++
	p.lastErr = nil
	p.items = slices.Clone(list)
	p.rank = make(map[int64]int, len(list))
	for i, n := range list {
		p.rank[n.ID] = i
	}
	gen, snapshot := p.changedLocked()
	if fromLoop {
		p.inLoop = true
	}
	p.mu.Unlock()

	p.publish(gen, snapshot)
	if fromLoop {
		p.mu.Lock()
		p.inLoop = false
		p.mu.Unlock()
	}
	return nil
}

// changedLocked records a change to items and returns what to publish.
func (p *Poller) changedLocked() (uint64, []backend.Notification) {
	p.gen++
	return p.gen, slices.Clone(p.items)
}

// publish hands snapshot to subscribers unless a newer one already went out.
// Deliveries are serialized, so subscribers must not call back into
// MarkRead, MarkAllRead or Refresh synchronously.
func (p *Poller) publish(gen uint64, snapshot []backend.Notification) {
	p.pubMu.Lock()
	defer p.pubMu.Unlock()
	if gen <= p.delivered {
		return
	}
	p.delivered = gen
	p.bus.Publish(snapshot)
}

// guard captures what a rollback must check before restoring items.
type guard struct {
	version uint64
	cleared uint64
}

// MarkRead removes the notification from the list and tells the backend.
// On failure the item is restored at its old position.
func (p *Poller) MarkRead(ctx context.Context, id int64) Result {
	p.mu.Lock()
	idx := slices.IndexFunc(p.items, func(n backend.Notification) bool { return n.ID == id })
	if idx < 0 {
		p.mu.Unlock()
		return Result{Outcome: Failure, Err: ErrUnknownNotification}
	}
	removed := p.items[idx]
	p.items = slices.Delete(slices.Clone(p.items), idx, idx+1)
	g := guard{version: p.version, cleared: p.cleared}
	gen, snapshot := p.changedLocked()
	p.mu.Unlock()
	p.publish(gen, snapshot)

	if err := p.src.MarkNotificationRead(ctx, id); err != nil {
		p.logger.Error("marking notification read failed", "id", id, "error", err)
		rolled := p.restore(g, []backend.Notification{removed})
		return Result{Outcome: Failure, Err: err, RolledBack: rolled}
	}
	return Result{Outcome: Success}
}

// MarkAllRead clears the list and tells the backend. On failure the cleared
// items are restored in their fetched order.
func (p *Poller) MarkAllRead(ctx context.Context) Result {
	p.mu.Lock()
	removed := p.items
	p.items = nil
	g := guard{version: p.version, cleared: p.cleared}
	gen, snapshot := p.changedLocked()
	p.mu.Unlock()
	p.publish(gen, snapshot)

	if err := p.src.MarkAllNotificationsRead(ctx); err != nil {
		p.logger.Error("marking all notifications read failed", "error", err)
		rolled := p.restore(g, removed)
		return Result{Outcome: Failure, Err: err, RolledBack: rolled}
	}

	p.mu.Lock()
	p.cleared++
	p.mu.Unlock()
	return Result{Outcome: Success}
}

// restore puts removed back into the list, ordered as the last fetch
// returned them. It is a no-op when g no longer matches or the poller has
// stopped.
func (p *Poller) restore(g guard, removed []backend.Notification) bool {
	p.mu.Lock()
	if p.version != g.version || p.cleared != g.cleared || p.state == StateStopped {
		p.mu.Unlock()
		return false
	}
	items := slices.Clone(p.items)
	for _, n := range removed {
		if !slices.ContainsFunc(items, func(o backend.Notification) bool { return o.ID == n.ID }) {
			items = append(items, n)
		}
	}
	slices.SortStableFunc(items, func(a, b backend.Notification) int {
		return p.rankOf(a.ID) - p.rankOf(b.ID)
	})
	p.items = items
	gen, snapshot := p.changedLocked()
	p.mu.Unlock()

	p.publish(gen, snapshot)
	return true
}

func (p *Poller) rankOf(id int64) int {
	if r, ok := p.rank[id]; ok {
		return r
	}
	return len(p.rank)
}

// Items returns a copy of the current list.
func (p *Poller) Items() []backend.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.items)
}

// UnreadCount returns the number of notifications in the list.
func (p *Poller) UnreadCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

// State returns the lifecycle state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// LastError returns the error of the most recent failed fetch, cleared by
// the next successful one.
func (p *Poller) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Subscribe registers fn for list changes. fn runs on the goroutine that
// changed the list, one delivery at a time, and never sees a list older than
// one it was already given.
func (p *Poller) Subscribe(fn func([]backend.Notification)) (unsubscribe func()) {
	return p.bus.Subscribe(fn)
}
