// Package config loads agent configuration from config.json with
// PONDERER_* environment overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var errMissingDatabasePath = errors.New("database_path is empty and no base directory default applies")

func errInvalidAuthMode(mode string) error {
	return fmt.Errorf("auth_mode must be %q or %q, got %q", AuthDisabled, AuthRequired, mode)
}

// AuthMode controls backend request authentication.
type AuthMode string

const (
	AuthDisabled AuthMode = "disabled" // unauthenticated local access (tests)
	AuthRequired AuthMode = "required" // bearer token on every request
)

// Config holds all agent runtime settings.
type Config struct {
	// Feature switches. All default to false; the serve command is inert
	// until at least the ambient loop is enabled.
	EnableAmbientLoop     bool `json:"enable_ambient_loop"`
	EnableJournal         bool `json:"enable_journal"`
	EnableConcerns        bool `json:"enable_concerns"`
	EnableDreamCycle      bool `json:"enable_dream_cycle"`
	EnableALMAExploration bool `json:"enable_alma_exploration"`

	// Pacing floors, in seconds.
	AmbientMinIntervalSecs int `json:"ambient_min_interval_secs"`
	JournalMinIntervalSecs int `json:"journal_min_interval_secs"`
	DreamMinIntervalSecs   int `json:"dream_min_interval_secs"`
	PollIntervalSecs       int `json:"poll_interval_secs"`

	// LLM endpoint (OpenAI-compatible chat completions).
	LLMAPIURL string `json:"llm_api_url"`
	LLMModel  string `json:"llm_model"`
	LLMAPIKey string `json:"llm_api_key,omitempty"`

	DatabasePath    string `json:"database_path"`
	Username        string `json:"username"`
	MaxPostsPerHour int    `json:"max_posts_per_hour"`

	// InterruptOverridesDeepWork decides the precedence between an Urgent
	// anomaly and the deep-work clamp. True means Urgent always interrupts.
	InterruptOverridesDeepWork bool `json:"interrupt_overrides_deep_work"`

	// Backend surface.
	Bind      string   `json:"bind,omitempty"`
	AuthMode  AuthMode `json:"auth_mode,omitempty"`
	AuthToken string   `json:"-"`

	// MaxJournalContentChars bounds LLM-produced journal entries.
	MaxJournalContentChars int `json:"max_journal_content_chars,omitempty"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		AmbientMinIntervalSecs:     30,
		JournalMinIntervalSecs:     300,
		DreamMinIntervalSecs:       3600,
		PollIntervalSecs:           1,
		LLMAPIURL:                  "http://localhost:11434/v1",
		LLMModel:                   "llama3.2",
		DatabasePath:               "",
		MaxPostsPerHour:            6,
		InterruptOverridesDeepWork: true,
		Bind:                       "127.0.0.1:8793",
		AuthMode:                   AuthRequired,
		MaxJournalContentChars:     2000,
	}
}

// Load reads baseDir/config.json over the defaults and then applies
// environment overrides. A missing file is not an error.
func Load(baseDir string) (*Config, error) {
	cfg := Default()
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = filepath.Join(baseDir, "ponderer.db")
	}

	path := filepath.Join(baseDir, "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv()
	return cfg.normalize()
}

// applyEnv layers PONDERER_* environment variables over the file config.
func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("PONDERER_BACKEND_BIND")); v != "" {
		c.Bind = v
	}
	if v := strings.TrimSpace(os.Getenv("PONDERER_BACKEND_AUTH_MODE")); v != "" {
		c.AuthMode = AuthMode(strings.ToLower(v))
	}
	if v := strings.TrimSpace(os.Getenv("PONDERER_BACKEND_TOKEN")); v != "" {
		c.AuthToken = v
	}
	if v := strings.TrimSpace(os.Getenv("PONDERER_LLM_API_URL")); v != "" {
		c.LLMAPIURL = v
	}
	if v := strings.TrimSpace(os.Getenv("PONDERER_LLM_API_KEY")); v != "" {
		c.LLMAPIKey = v
	}
}

// normalize validates ranges and fills derived defaults.
func (c *Config) normalize() (*Config, error) {
	if c.AmbientMinIntervalSecs <= 0 {
		c.AmbientMinIntervalSecs = 30
	}
	if c.JournalMinIntervalSecs <= 0 {
		c.JournalMinIntervalSecs = 300
	}
	if c.DreamMinIntervalSecs <= 0 {
		c.DreamMinIntervalSecs = 3600
	}
	if c.PollIntervalSecs <= 0 {
		c.PollIntervalSecs = 1
	}
	if c.MaxJournalContentChars <= 0 {
		c.MaxJournalContentChars = 2000
	}
	switch c.AuthMode {
	case AuthDisabled, AuthRequired:
	case "":
		c.AuthMode = AuthRequired
	default:
		return nil, errInvalidAuthMode(string(c.AuthMode))
	}
	if c.DatabasePath == "" {
		return nil, errMissingDatabasePath
	}
	return c, nil
}

// Normalize validates ranges and fills derived defaults in place.
// Callers that accept config over the wire run this before persisting.
func (c *Config) Normalize() error {
	_, err := c.normalize()
	return err
}

// Save writes the configuration back to baseDir/config.json.
func (c *Config) Save(baseDir string) error {
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(baseDir, "config.json"), append(data, '\n'), 0o600)
}

// BaseDir returns the agent's state directory, honoring PONDERER_HOME.
func BaseDir() (string, error) {
	if v := strings.TrimSpace(os.Getenv("PONDERER_HOME")); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".ponderer"), nil
}

// AutostartBackend reports whether the launcher should spawn a local
// backend. An explicit PONDERER_BACKEND_URL or PONDERER_AUTOSTART_BACKEND=0
// disables autostart.
func AutostartBackend() bool {
	if strings.TrimSpace(os.Getenv("PONDERER_BACKEND_URL")) != "" {
		return false
	}
	v, ok := os.LookupEnv("PONDERER_AUTOSTART_BACKEND")
	if !ok {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "0", "false", "no", "off":
		return false
	}
	return true
}
