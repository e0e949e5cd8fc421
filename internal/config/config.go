package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const DefaultRequestTimeoutSeconds = 15

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string `json:"level"`
	LogToFile bool   `json:"log_to_file"`
}

// ServerConfig contains the chat server endpoints the client talks to.
type ServerConfig struct {
	// APIBaseURL is the REST API root, e.g. "http://localhost:5001/api".
	APIBaseURL string `json:"api_base_url"`
	// PushURL is the websocket endpoint for server pushed events. When empty
	// it is derived from APIBaseURL by swapping the scheme and path.
	PushURL               string `json:"push_url"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// NotificationEventsConfig stores per-event notification toggles.
type NotificationEventsConfig struct {
	IncomingMessage  bool `json:"incoming_message"`
	ConnectionStatus bool `json:"connection_status"`
}

// NotificationConfig stores desktop notification preferences.
type NotificationConfig struct {
	Enabled bool                     `json:"enabled"`
	Events  NotificationEventsConfig `json:"events"`
}

// UIConfig stores persistent client preferences.
type UIConfig struct {
	LastSelectedPeer string             `json:"last_selected_peer"`
	Notifications    NotificationConfig `json:"notifications"`
}

// AppConfig is the root persisted application configuration.
type AppConfig struct {
	Server  ServerConfig  `json:"server"`
	Logging LoggingConfig `json:"logging"`
	UI      UIConfig      `json:"ui"`
}

func Default() AppConfig {
	return AppConfig{
		Server: ServerConfig{
			APIBaseURL:            "",
			PushURL:               "",
			RequestTimeoutSeconds: DefaultRequestTimeoutSeconds,
		},
		Logging: LoggingConfig{
			Level:     "info",
			LogToFile: false,
		},
		UI: UIConfig{
			LastSelectedPeer: "",
			Notifications: NotificationConfig{
				Enabled: true,
				Events: NotificationEventsConfig{
					IncomingMessage:  true,
					ConnectionStatus: true,
				},
			},
		},
	}
}

func Load(path string) (AppConfig, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path is resolved by app runtime and points to user config dir.
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config json: %w", err)
	}

	cfg.FillMissingDefaults()

	return cfg, nil
}

func Save(path string, cfg AppConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config json: %w", err)
	}
	cleanPath := filepath.Clean(path)
	if err := os.WriteFile(cleanPath, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

func (c *AppConfig) FillMissingDefaults() {
	if c.Server.RequestTimeoutSeconds <= 0 {
		c.Server.RequestTimeoutSeconds = DefaultRequestTimeoutSeconds
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Server.PushURL == "" {
		c.Server.PushURL = derivePushURL(c.Server.APIBaseURL)
	}
}

// derivePushURL maps an API base URL like "https://host/api" to the default
// websocket endpoint "wss://host/ws". Returns "" when the base is unusable.
func derivePushURL(apiBase string) string {
	trimmed := strings.TrimSpace(apiBase)
	if trimmed == "" {
		return ""
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" {
		return ""
	}
	scheme := "ws"
	if parsed.Scheme == "https" {
		scheme = "wss"
	}

	return (&url.URL{Scheme: scheme, Host: parsed.Host, Path: "/ws"}).String()
}

func (c AppConfig) Validate() error {
	base := strings.TrimSpace(c.Server.APIBaseURL)
	if base == "" {
		return errors.New("server api_base_url is required")
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return fmt.Errorf("invalid server api_base_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("server api_base_url must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return errors.New("server api_base_url is missing a host")
	}
	if push := strings.TrimSpace(c.Server.PushURL); push != "" {
		pushURL, err := url.Parse(push)
		if err != nil {
			return fmt.Errorf("invalid server push_url: %w", err)
		}
		if pushURL.Scheme != "ws" && pushURL.Scheme != "wss" {
			return fmt.Errorf("server push_url must be ws or wss, got %q", pushURL.Scheme)
		}
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		return errors.New("server request_timeout_seconds must be positive")
	}

	return nil
}
