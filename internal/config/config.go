// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/jeranaias/tabletalk/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the full application configuration, one section per subsystem.
type Config struct {
	// General settings
	Version      string `toml:"version" json:"version"`
	DefaultModel string `toml:"default_model" json:"default_model"`

	// Models offered by the model selector
	Models []string `toml:"models" json:"models"`

	Ollama  OllamaConfig  `toml:"ollama" json:"ollama"`
	Query   QueryConfig   `toml:"query" json:"query"`
	Dataset DatasetConfig `toml:"dataset" json:"dataset"`
	History HistoryConfig `toml:"history" json:"history"`
	UI      UIConfig      `toml:"ui" json:"ui"`
}

// OllamaConfig contains Ollama daemon settings.
type OllamaConfig struct {
	// URL is the base URL of the Ollama server
	URL string `toml:"url" json:"url"`
	// TimeoutSeconds is the HTTP client timeout for generate calls
	TimeoutSeconds int `toml:"timeout_seconds" json:"timeout_seconds"`
	// MaxRetries is the retry count for transient request failures
	MaxRetries int `toml:"max_retries" json:"max_retries"`
	// BreakerEnabled wraps the client in a circuit breaker so a dead
	// daemon fails fast instead of burning the full timeout per query
	BreakerEnabled bool `toml:"breaker_enabled" json:"breaker_enabled"`
}

// QueryConfig contains query execution settings.
type QueryConfig struct {
	// Policy decides what happens when a query is submitted while another
	// is running: "supersede" (default) cancels the old one, "reject"
	// refuses the new one
	Policy string `toml:"policy" json:"policy"`
	// TimeoutSeconds bounds a single query; -1 disables the deadline
	TimeoutSeconds int `toml:"timeout_seconds" json:"timeout_seconds"`
	// Temperature is the default sampling temperature (0.0-1.0)
	Temperature float64 `toml:"temperature" json:"temperature"`
}

// Timeout returns the query deadline as a duration. Zero means no deadline.
func (q QueryConfig) Timeout() time.Duration {
	if q.TimeoutSeconds < 0 {
		return 0
	}
	return time.Duration(q.TimeoutSeconds) * time.Second
}

// DatasetConfig contains CSV dataset settings.
type DatasetConfig struct {
	// PreviewRows is how many rows the dataset digest embeds in prompts
	PreviewRows int `toml:"preview_rows" json:"preview_rows"`
	// Watch reloads the dataset when the file changes on disk
	Watch bool `toml:"watch" json:"watch"`
}

// HistoryConfig contains query log settings.
type HistoryConfig struct {
	// Enabled turns the history store on
	Enabled bool `toml:"enabled" json:"enabled"`
	// Path is the SQLite file location (empty = ~/.tabletalk/history.db)
	Path string `toml:"path" json:"path"`
	// MaxEntries caps stored entries; oldest are pruned past it (0 = unlimited)
	MaxEntries int `toml:"max_entries" json:"max_entries"`
}

// UIConfig contains UI settings.
type UIConfig struct {
	// Theme selects the color scheme: "dark", "light", or "auto"
	Theme string `toml:"theme" json:"theme"`
	// Markdown renders answers through the markdown renderer
	Markdown bool `toml:"markdown" json:"markdown"`
	// ShowTimings appends the elapsed time to completed answers
	ShowTimings bool `toml:"show_timings" json:"show_timings"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Version:      "1.0.0",
		DefaultModel: "deepseek-r1:7b",

		Models: []string{
			"deepseek-r1:7b",
			"codellama:7b",
			"deepseek-r1:1.5b",
		},

		Ollama: OllamaConfig{
			URL:            "http://127.0.0.1:11434",
			TimeoutSeconds: 120,
			MaxRetries:     3,
			BreakerEnabled: true,
		},

		Query: QueryConfig{
			Policy:         "supersede",
			TimeoutSeconds: 120,
			Temperature:    0.7,
		},

		Dataset: DatasetConfig{
			PreviewRows: 5,
			Watch:       true,
		},

		History: HistoryConfig{
			Enabled:    true,
			Path:       "", // resolved by HistoryPath
			MaxEntries: 1000,
		},

		UI: UIConfig{
			Theme:       "dark",
			Markdown:    true,
			ShowTimings: true,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns ~/.tabletalk.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".tabletalk"), nil
}

// ConfigPathTOML returns the primary config file location.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the JSON fallback config location.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureConfigDir creates the config directory if it is missing.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// HistoryPath resolves the history database location.
func (c *Config) HistoryPath() (string, error) {
	if c.History.Path != "" {
		return c.History.Path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.db"), nil
}

// ensureSecurePermissions tightens a config file to 0600 before reading it.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	mode := info.Mode().Perm()
	if mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}

	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads config.toml, then config.json, then settles on built-ins.
// Whichever source wins, TABLETALK_* overrides are applied on top and the
// result is validated. When both files are absent or unreadable the
// returned Config is still usable; the read error rides along for callers
// that want to log it.
func Load() (*Config, error) {
	cfg := Default()
	var loadErr error

	tomlPath, err := ConfigPathTOML()
	if err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			if err := LoadTOML(cfg, tomlPath); err != nil {
				loadErr = fmt.Errorf("failed to load TOML config: %w", err)
			} else {
				cfg.ApplyEnvOverrides()
				if err := cfg.Validate(); err != nil {
					return nil, fmt.Errorf("invalid config: %w", err)
				}
				return cfg, nil
			}
		}
	}

	jsonPath, err := ConfigPathJSON()
	if err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			if err := LoadJSON(cfg, jsonPath); err != nil {
				loadErr = fmt.Errorf("failed to load JSON config: %w", err)
			} else {
				cfg.ApplyEnvOverrides()
				if err := cfg.Validate(); err != nil {
					return nil, fmt.Errorf("invalid config: %w", err)
				}
				return cfg, nil
			}
		}
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, loadErr
}

// LoadTOML decodes a TOML config file into cfg and fills gaps from the
// defaults.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		// Permissions might not be fixable on all systems
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return fillDefaults(cfg)
}

// LoadJSON decodes a JSON config file into cfg and fills gaps from the
// defaults.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return fillDefaults(cfg)
}

// LoadFromPath loads configuration from a specific file path with full
// validation. Starts from defaults so booleans absent from the file keep
// their default values.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		// Anything not named .json is treated as TOML
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// fillDefaults replaces zero values left by a partial config file.
func fillDefaults(cfg *Config) error {
	defaults := Default()

	// General
	if cfg.Version == "" {
		cfg.Version = defaults.Version
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaults.DefaultModel
	}
	if len(cfg.Models) == 0 {
		cfg.Models = append([]string{}, defaults.Models...)
	}

	// Ollama
	if cfg.Ollama.URL == "" {
		cfg.Ollama.URL = defaults.Ollama.URL
	}
	if cfg.Ollama.TimeoutSeconds == 0 {
		cfg.Ollama.TimeoutSeconds = defaults.Ollama.TimeoutSeconds
	}
	if cfg.Ollama.MaxRetries == 0 {
		cfg.Ollama.MaxRetries = defaults.Ollama.MaxRetries
	}

	// Query; -1 is a deliberate "no deadline", only 0 means unset
	if cfg.Query.Policy == "" {
		cfg.Query.Policy = defaults.Query.Policy
	}
	if cfg.Query.TimeoutSeconds == 0 {
		cfg.Query.TimeoutSeconds = defaults.Query.TimeoutSeconds
	}
	if cfg.Query.Temperature == 0 {
		cfg.Query.Temperature = defaults.Query.Temperature
	}

	// Dataset
	if cfg.Dataset.PreviewRows == 0 {
		cfg.Dataset.PreviewRows = defaults.Dataset.PreviewRows
	}

	// History
	if cfg.History.MaxEntries == 0 {
		cfg.History.MaxEntries = defaults.History.MaxEntries
	}

	// UI
	if cfg.UI.Theme == "" {
		cfg.UI.Theme = defaults.UI.Theme
	}

	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes cfg to the default TOML location.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes cfg as TOML, atomically, with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	fmt.Fprintln(&buf, "# tabletalk configuration file")
	fmt.Fprintln(&buf, "# Generated by tabletalk - edit with care")
	fmt.Fprintln(&buf, "#")
	fmt.Fprintln(&buf, "# Documentation: https://github.com/jeranaias/tabletalk")
	fmt.Fprintln(&buf, "")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// SaveJSON writes cfg as indented JSON, atomically, with 0600 permissions.
func SaveJSON(cfg *Config, path string) error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError names one bad field and what is wrong with it.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors aggregates every validation failure from one pass.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs ValidateErrors

	// Ollama URL must parse and carry a scheme
	if c.Ollama.URL != "" {
		u, err := url.Parse(c.Ollama.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "ollama.url",
				Message: fmt.Sprintf("invalid URL '%s'", c.Ollama.URL),
			})
		}
	}

	if c.Ollama.TimeoutSeconds < 0 {
		errs = append(errs, ValidationError{
			Field:   "ollama.timeout_seconds",
			Message: fmt.Sprintf("cannot be negative, got %d", c.Ollama.TimeoutSeconds),
		})
	}

	if c.Ollama.MaxRetries < 0 || c.Ollama.MaxRetries > 10 {
		errs = append(errs, ValidationError{
			Field:   "ollama.max_retries",
			Message: fmt.Sprintf("must be 0-10, got %d", c.Ollama.MaxRetries),
		})
	}

	// Query policy must be a known single-flight mode
	validPolicies := map[string]bool{"": true, "supersede": true, "reject": true}
	if !validPolicies[strings.ToLower(c.Query.Policy)] {
		errs = append(errs, ValidationError{
			Field:   "query.policy",
			Message: fmt.Sprintf("invalid policy '%s', must be one of: supersede, reject", c.Query.Policy),
		})
	}

	if c.Query.TimeoutSeconds < -1 {
		errs = append(errs, ValidationError{
			Field:   "query.timeout_seconds",
			Message: fmt.Sprintf("must be -1 (disabled) or positive, got %d", c.Query.TimeoutSeconds),
		})
	}

	if c.Query.Temperature < 0 || c.Query.Temperature > 1 {
		errs = append(errs, ValidationError{
			Field:   "query.temperature",
			Message: fmt.Sprintf("must be 0.0-1.0, got %v", c.Query.Temperature),
		})
	}

	if c.Dataset.PreviewRows < 1 || c.Dataset.PreviewRows > 100 {
		errs = append(errs, ValidationError{
			Field:   "dataset.preview_rows",
			Message: fmt.Sprintf("must be 1-100, got %d", c.Dataset.PreviewRows),
		})
	}

	if c.History.MaxEntries < 0 {
		errs = append(errs, ValidationError{
			Field:   "history.max_entries",
			Message: fmt.Sprintf("cannot be negative, got %d", c.History.MaxEntries),
		})
	}

	validThemes := map[string]bool{"dark": true, "light": true, "auto": true}
	if !validThemes[strings.ToLower(c.UI.Theme)] {
		errs = append(errs, ValidationError{
			Field:   "ui.theme",
			Message: fmt.Sprintf("invalid theme '%s', must be one of: dark, light, auto", c.UI.Theme),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies TABLETALK_* environment variables on top of the
// loaded configuration. Malformed values are ignored rather than fatal.
func (c *Config) ApplyEnvOverrides() {
	if model := os.Getenv("TABLETALK_MODEL"); model != "" {
		c.DefaultModel = model
	}

	if u := os.Getenv("TABLETALK_OLLAMA_URL"); u != "" {
		c.Ollama.URL = u
	}

	if policy := os.Getenv("TABLETALK_POLICY"); policy != "" {
		c.Query.Policy = policy
	}

	// Seconds; -1 disables the deadline
	if timeout := os.Getenv("TABLETALK_TIMEOUT"); timeout != "" {
		if secs, err := strconv.Atoi(timeout); err == nil {
			c.Query.TimeoutSeconds = secs
		}
	}

	if temp := os.Getenv("TABLETALK_TEMPERATURE"); temp != "" {
		if t, err := strconv.ParseFloat(temp, 64); err == nil {
			c.Query.Temperature = t
		}
	}

	if noHistory := os.Getenv("TABLETALK_NO_HISTORY"); noHistory != "" {
		if noHistory == "1" || strings.ToLower(noHistory) == "true" {
			c.History.Enabled = false
		}
	}

	if theme := os.Getenv("TABLETALK_THEME"); theme != "" {
		c.UI.Theme = theme
	}
}

// =============================================================================
// GLOBAL CONFIGURATION
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the process-wide configuration, loading it on first
// access unless SetGlobal already installed one. Never returns nil: a
// failed load logs a warning and falls back to defaults.
func Global() *Config {
	globalConfigOnce.Do(func() {
		globalConfigMu.Lock()
		defer globalConfigMu.Unlock()
		if globalConfig != nil {
			return
		}
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
		}
		if cfg == nil {
			cfg = Default()
		}
		globalConfig = cfg
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal re-reads the configuration from disk and swaps it in.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
	return nil
}

// SetGlobal replaces the process-wide configuration.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting clears the global state between test runs.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
