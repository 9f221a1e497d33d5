// Package config loads, validates, and persists the relay configuration file.
//
// The file is a single JSON object. The relay rewrites it in place (pretty
// printed) exactly once, when the target chat id has been resolved; accessors
// never mutate the record, so a rewrite carries only what was loaded plus the
// resolved id.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"regexp"
	"strings"
)

// DefaultPath is the config file used when the command line names none.
const DefaultPath = "config.json"

// tokenPattern matches the Telegram bot token format: <digits>:<alphanum+dash>.
var tokenPattern = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)

// Config is the on-disk configuration record.
type Config struct {
	ListenAddr string `json:"listen_addr"`
	BotToken   string `json:"telegram_bot_token"`
	Username   string `json:"telegram_username"`

	// ChatID is absent until first-contact resolution has run; once set it is
	// trusted for the lifetime of the process and never re-derived.
	ChatID *int64 `json:"telegram_chat_id,omitempty"`

	// Optional settings. Absent keys stay absent on rewrite.
	APIURL            string `json:"api_url,omitempty"`
	LogLevel          string `json:"log_level,omitempty"`
	JournalPath       string `json:"journal_path,omitempty"`
	HeartbeatSchedule string `json:"heartbeat_schedule,omitempty"`
	HeartbeatText     string `json:"heartbeat_text,omitempty"`
}

// Load reads and parses the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return &cfg, nil
}

// Save writes cfg to path as indented JSON, replacing the previous contents.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}

	return nil
}

// Validate checks that required fields are present and well formed. It is
// called once at startup, before anything binds or dials.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("config: listen_addr is required")
	}
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("config: invalid listen_addr %q: %w", c.ListenAddr, err)
	}

	if c.BotToken == "" {
		return errors.New("config: telegram_bot_token is required")
	}
	if !tokenPattern.MatchString(c.BotToken) {
		return errors.New("config: telegram_bot_token format invalid (expected <bot_id>:<hash>)")
	}

	if strings.TrimPrefix(c.Username, "@") == "" {
		return errors.New("config: telegram_username is required")
	}

	if c.APIURL != "" {
		u, err := url.Parse(c.APIURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("config: api_url must be a valid http/https URL, got %q", c.APIURL)
		}
	}

	if c.LogLevel != "" {
		if _, err := parseLevel(c.LogLevel); err != nil {
			return err
		}
	}

	return nil
}

// SlogLevel returns the configured log level, defaulting to info. Unknown
// values are caught by Validate; here they fall back to info.
func (c *Config) SlogLevel() slog.Level {
	lvl, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("config: unknown log_level %q", s)
}
