// Package shell assembles the dashboard header, sidebar and quota bars from
// the session, notification and usage state, and re-renders on change.
package shell

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/botdash/internal/backend"
	"github.com/kalambet/botdash/internal/notify"
	"github.com/kalambet/botdash/internal/session"
	"github.com/kalambet/botdash/internal/usage"
)

// NavItem is one sidebar entry. MinRole is the lowest role that sees it.
type NavItem struct {
	Label   string       `json:"label"`
	Path    string       `json:"path"`
	MinRole session.Role `json:"-"`
}

var navItems = []NavItem{
	{Label: "Dashboard", Path: "/dashboard", MinRole: session.RoleUser},
	{Label: "Bots", Path: "/bots", MinRole: session.RoleUser},
	{Label: "Videos", Path: "/videos", MinRole: session.RoleUser},
	{Label: "Transcripts", Path: "/transcripts", MinRole: session.RoleUser},
	{Label: "Usage", Path: "/usage", MinRole: session.RoleUser},
	{Label: "Settings", Path: "/settings", MinRole: session.RoleUser},
	{Label: "Users", Path: "/admin/users", MinRole: session.RoleAdmin},
	{Label: "Plans", Path: "/admin/plans", MinRole: session.RoleSuperAdmin},
}

func rank(r session.Role) int {
	switch r {
	case session.RoleSuperAdmin:
		return 2
	case session.RoleAdmin:
		return 1
	default:
		return 0
	}
}

// Sidebar returns the entries visible to role.
func Sidebar(role session.Role) []NavItem {
	var out []NavItem
	for _, item := range navItems {
		if rank(role) >= rank(item.MinRole) {
			out = append(out, item)
		}
	}
	return out
}

// Header is the top bar.
type Header struct {
	Name      string       `json:"name"`
	AvatarURL string       `json:"avatarUrl"`
	Role      session.Role `json:"role"`
	Unread    int          `json:"unread"`
}

// View is everything the layout renders.
type View struct {
	Header  Header      `json:"header"`
	Sidebar []NavItem   `json:"sidebar"`
	Words   usage.Quota `json:"words"`
	Storage usage.Quota `json:"storage"`
}

// Shell reads from the three state owners. Any of poller and sync may be
// nil, in which case their parts of the view stay empty.
type Shell struct {
	sessions *session.Store
	poller   *notify.Poller
	sync     *usage.Synchronizer
}

func New(sessions *session.Store, poller *notify.Poller, sync *usage.Synchronizer) *Shell {
	return &Shell{sessions: sessions, poller: poller, sync: sync}
}

// View builds the current view.
func (s *Shell) View() View {
	sess := s.sessions.Read()
	v := View{
		Header: Header{
			Name:      sess.Name,
			AvatarURL: sess.AvatarURL,
			Role:      sess.Role,
		},
		Sidebar: Sidebar(sess.Role),
	}
	if s.poller != nil {
		v.Header.Unread = s.poller.UnreadCount()
	}
	var u backend.Usage
	if s.sync != nil {
		u = s.sync.Snapshot()
	}
	v.Words = usage.WordsQuota(u)
	v.Storage = usage.StorageQuota(u)
	return v
}

// Refresh fetches notifications and usage from the backend in parallel.
func (s *Shell) Refresh(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)
	if s.poller != nil {
		g.Go(func() error {
			if err := s.poller.Refresh(gCtx); err != nil {
				return fmt.Errorf("refreshing notifications: %w", err)
			}
			return nil
		})
	}
	if s.sync != nil {
		g.Go(func() error {
			return s.sync.Refresh(gCtx)
		})
	}
	return g.Wait()
}

// Run calls render with the current view, then again after every session,
// notification or usage change until ctx is done. Bursts of changes are
// coalesced into one render. Subscriptions are released before Run returns.
func (s *Shell) Run(ctx context.Context, render func(View)) error {
	changed := make(chan struct{}, 1)
	poke := func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}

	unsubs := []func(){
		s.sessions.Subscribe(func(session.Session) { poke() }),
	}
	if s.poller != nil {
		unsubs = append(unsubs, s.poller.Subscribe(func([]backend.Notification) { poke() }))
	}
	if s.sync != nil {
		unsubs = append(unsubs, s.sync.Subscribe(func(backend.Usage) { poke() }))
	}
	defer func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}()

	render(s.View())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
			render(s.View())
		}
	}
}
