package main

import (
	"fmt"

	"github.com/kalambet/botdash/internal/auth"
	"github.com/kalambet/botdash/internal/backend"
	"github.com/kalambet/botdash/internal/config"
	"github.com/kalambet/botdash/internal/session"
	"github.com/kalambet/botdash/internal/storage"
	"github.com/kalambet/botdash/internal/transcript"
	"github.com/kalambet/botdash/internal/video"
)

// app is what a single CLI invocation works with: one store handle, the
// session on it and a backend client authenticated as that session.
type app struct {
	cfg      config.Config
	store    *storage.Store
	handle   *storage.Handle
	sessions *session.Store
	client   *backend.Client
}

// openApp is a variable so tests can point it elsewhere.
var openApp = func() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	setupLogging(cfg.Log.Level)

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	h := store.NewHandle()
	sessions := session.NewStore(h, session.NavigatorFunc(func() {
		printStep("Signed out. Run `botdash login` to sign in again.")
	}))
	return &app{
		cfg:      cfg,
		store:    store,
		handle:   h,
		sessions: sessions,
		client:   backend.New(cfg.Backend.BaseURL, sessions),
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func (a *app) auth() *auth.Service {
	return auth.NewService(a.client, a.sessions)
}

func (a *app) transcripts() *transcript.Service {
	return transcript.NewService(a.client)
}

func (a *app) videos() *video.Manager {
	return video.NewManager(a.handle, videoLookup(a.cfg, a.client), a.client, a.cfg.Video.PageSize)
}

// videoLookup picks the lookup strategy named by video.lookup.
func videoLookup(cfg config.Config, client *backend.Client) video.Lookup {
	if cfg.Video.Lookup == "html" {
		return video.NewHTMLLookup()
	}
	return video.LookupFunc(client.LookupVideos)
}

// requireSession fails early for commands that need a signed-in user.
func (a *app) requireSession() error {
	if a.sessions.Read().IsGuest() {
		return fmt.Errorf("not signed in; run `botdash login` first")
	}
	return nil
}
