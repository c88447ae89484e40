package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "backend.base_url", typ: kString, env: "BOTDASH_BACKEND_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Backend.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Backend.BaseURL },
	},
	{
		key: "agent.port", typ: kInt, env: "BOTDASH_AGENT_PORT",
		apply:   func(cfg *Config, v any) { cfg.Agent.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Agent.Port },
	},
	{
		key: "agent.token", typ: kString, env: "BOTDASH_AGENT_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Agent.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Agent.Token },
	},
	{
		key: "storage.data_dir", typ: kString, env: "BOTDASH_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "notifications.poll_interval", typ: kString, env: "BOTDASH_NOTIFICATIONS_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Notifications.PollInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Notifications.PollInterval },
	},
	{
		key: "usage.watch_interval", typ: kString, env: "BOTDASH_USAGE_WATCH_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Usage.WatchInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Usage.WatchInterval },
	},
	{
		key: "video.page_size", typ: kInt, env: "BOTDASH_VIDEO_PAGE_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Video.PageSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Video.PageSize },
	},
	{
		key: "video.lookup", typ: kString, env: "BOTDASH_VIDEO_LOOKUP",
		apply:   func(cfg *Config, v any) { cfg.Video.Lookup = v.(string) },
		extract: func(cfg Config) any { return cfg.Video.Lookup },
	},
	{
		key: "log.level", typ: kString, env: "BOTDASH_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				slog.Warn("could not parse integer from env var, using default", "env", s.env, "value", raw, "error", err)
			}
		}
	}
}
