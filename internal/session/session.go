// Package session keeps the signed-in identity in the persisted store and
// tells in-process listeners when it changes.
package session

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/kalambet/botdash/internal/broadcast"
	"github.com/kalambet/botdash/internal/storage"
)

// Key is the store key holding the session record.
const Key = "user"

// DefaultAvatar is shown for Guest and for users without a picture.
const DefaultAvatar = "/static/default-avatar.png"

// Role is the user's permission tier.
type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "superadmin"
)

// ParseRole maps unknown or empty values to RoleUser.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleAdmin, RoleSuperAdmin:
		return Role(s)
	default:
		return RoleUser
	}
}

// IsAdmin reports whether r grants admin features.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// Session is the client-held identity of the current user.
type Session struct {
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatarUrl"`
	Role      Role   `json:"role"`
	Token     string `json:"token,omitempty"`
}

// Guest is the identity used when no session is stored.
func Guest() Session {
	return Session{Name: "Guest", AvatarURL: DefaultAvatar, Role: RoleUser}
}

// IsGuest reports whether s carries no credentials.
func (s Session) IsGuest() bool {
	return s.Token == ""
}

// Navigator sends the user to the login entry point after sign-out.
type Navigator interface {
	ToLogin()
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func()

func (f NavigatorFunc) ToLogin() { f() }

// Store is the single source of truth for who is logged in.
type Store struct {
	kv     storage.KV
	bus    *broadcast.Bus[Session]
	nav    Navigator
	logger *slog.Logger
}

// NewStore creates a session store over kv. nav may be nil.
func NewStore(kv storage.KV, nav Navigator) *Store {
	return &Store{
		kv:     kv,
		bus:    broadcast.New[Session](),
		nav:    nav,
		logger: slog.Default(),
	}
}

// Read returns the stored session, or Guest when nothing usable is stored.
// Malformed records and storage failures are logged, never returned.
func (s *Store) Read() Session {
	raw, ok, err := s.kv.GetItem(Key)
	if err != nil {
		s.logger.Warn("reading session failed, using guest", "error", err)
		return Guest()
	}
	if !ok || raw == "" {
		return Guest()
	}

	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		s.logger.Warn("malformed session record, using guest", "error", err)
		return Guest()
	}
	if sess.Name == "" {
		sess.Name = "Guest"
	}
	if sess.AvatarURL == "" {
		sess.AvatarURL = DefaultAvatar
	}
	sess.Role = ParseRole(string(sess.Role))
	return sess
}

// Write persists sess and notifies every subscriber before returning.
func (s *Store) Write(sess Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshalling session: %w", err)
	}
	if err := s.kv.SetItem(Key, string(data)); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	s.bus.Publish(s.Read())
	return nil
}

// Clear removes the session, notifies subscribers with Guest, and sends
// the user to the login entry point.
func (s *Store) Clear() error {
	if err := s.kv.RemoveItem(Key); err != nil {
		return fmt.Errorf("removing session: %w", err)
	}
	s.bus.Publish(Guest())
	if s.nav != nil {
		s.nav.ToLogin()
	}
	return nil
}

// Subscribe registers fn for session changes.
func (s *Store) Subscribe(fn func(Session)) (unsubscribe func()) {
	return s.bus.Subscribe(fn)
}

// Reload re-reads the store and notifies subscribers. The agent calls it
// when another process changed the session.
func (s *Store) Reload() Session {
	sess := s.Read()
	s.bus.Publish(sess)
	return sess
}

// Token implements backend.TokenSource.
func (s *Store) Token() string {
	return s.Read().Token
}
