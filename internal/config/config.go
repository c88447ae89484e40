package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Backend       BackendConfig
	Agent         AgentConfig
	Storage       StorageConfig
	Notifications NotificationsConfig
	Usage         UsageConfig
	Video         VideoConfig
	Log           LogConfig
}

type BackendConfig struct {
	BaseURL string
}

type AgentConfig struct {
	Port  int
	Token string
}

type StorageConfig struct {
	DataDir string
}

type NotificationsConfig struct {
	PollInterval string
}

type UsageConfig struct {
	WatchInterval string
}

type VideoConfig struct {
	PageSize int
	Lookup   string // "remote" or "html"
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Backend: BackendConfig{
			BaseURL: "http://localhost:8000",
		},
		Agent: AgentConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Notifications: NotificationsConfig{
			PollInterval: "10s",
		},
		Usage: UsageConfig{
			WatchInterval: "500ms",
		},
		Video: VideoConfig{
			PageSize: 5,
			Lookup:   "remote",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON config file, environment variables
// and the secrets file.
//
// The config file lives at $XDG_CONFIG_HOME/botdash/config.json. Environment
// variables (BOTDASH_*) override file values. The agent token is read from
// BOTDASH_AGENT_TOKEN or the secrets file; it is optional for commands that
// do not talk to the local agent.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), secretsReader{})
}

// secretStore abstracts secrets file access for testing.
type secretStore interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, secrets secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Agent.Token == "" {
		if tok, err := secrets.Get("botdash", "agent_token"); err == nil && tok != "" {
			cfg.Agent.Token = tok
		}
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if !strings.HasPrefix(cfg.Backend.BaseURL, "http://") && !strings.HasPrefix(cfg.Backend.BaseURL, "https://") {
		return fmt.Errorf("invalid backend.base_url %q: must start with http:// or https://", cfg.Backend.BaseURL)
	}
	if cfg.Video.PageSize <= 0 {
		return fmt.Errorf("invalid video.page_size %d: must be positive", cfg.Video.PageSize)
	}
	switch cfg.Video.Lookup {
	case "remote", "html":
	default:
		return fmt.Errorf("invalid video.lookup %q: want remote or html", cfg.Video.Lookup)
	}
	return nil
}

// PollInterval returns the notification poll interval, falling back to 10s
// when the configured value does not parse or is not positive.
func (c Config) PollInterval() time.Duration {
	return parseDurationOr(c.Notifications.PollInterval, 10*time.Second)
}

// WatchInterval returns how often the usage synchronizer checks for changes
// made by other contexts.
func (c Config) WatchInterval() time.Duration {
	return parseDurationOr(c.Usage.WatchInterval, 500*time.Millisecond)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// secretsReader reads from the secrets file.
type secretsReader struct{}

func (secretsReader) Get(service, account string) (string, error) {
	out, err := secretGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
