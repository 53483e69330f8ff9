// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestConfig_Defaults(t *testing.T) {
	cfg := Default()

	if cfg.DefaultModel != "deepseek-r1:7b" {
		t.Errorf("DefaultModel = %q, want deepseek-r1:7b", cfg.DefaultModel)
	}
	if len(cfg.Models) != 3 {
		t.Errorf("Models has %d entries, want 3", len(cfg.Models))
	}
	if cfg.Ollama.URL != "http://127.0.0.1:11434" {
		t.Errorf("Ollama.URL = %q, want http://127.0.0.1:11434", cfg.Ollama.URL)
	}
	if cfg.Query.Policy != "supersede" {
		t.Errorf("Query.Policy = %q, want supersede", cfg.Query.Policy)
	}
	if cfg.Query.Temperature != 0.7 {
		t.Errorf("Query.Temperature = %v, want 0.7", cfg.Query.Temperature)
	}
	if cfg.Dataset.PreviewRows != 5 {
		t.Errorf("Dataset.PreviewRows = %d, want 5", cfg.Dataset.PreviewRows)
	}
	if !cfg.History.Enabled {
		t.Error("History.Enabled = false, want true")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Default() fails validation: %v", err)
	}
}

func TestConfig_QueryTimeout(t *testing.T) {
	tests := []struct {
		seconds int
		want    time.Duration
	}{
		{120, 120 * time.Second},
		{1, time.Second},
		{-1, 0},
	}

	for _, tt := range tests {
		q := QueryConfig{TimeoutSeconds: tt.seconds}
		if got := q.Timeout(); got != tt.want {
			t.Errorf("Timeout(%d) = %v, want %v", tt.seconds, got, tt.want)
		}
	}
}

func TestConfig_FillDefaults(t *testing.T) {
	cfg := &Config{}
	if err := fillDefaults(cfg); err != nil {
		t.Fatalf("fillDefaults() error = %v", err)
	}

	if cfg.DefaultModel == "" {
		t.Error("DefaultModel not filled")
	}
	if cfg.Ollama.URL == "" {
		t.Error("Ollama.URL not filled")
	}
	if cfg.Query.TimeoutSeconds != 120 {
		t.Errorf("Query.TimeoutSeconds = %d, want 120", cfg.Query.TimeoutSeconds)
	}
	if len(cfg.Models) == 0 {
		t.Error("Models not filled")
	}
}

func TestConfig_FillDefaultsPreservesExplicit(t *testing.T) {
	cfg := &Config{}
	cfg.Ollama.URL = "http://10.0.0.5:11434"
	cfg.Query.TimeoutSeconds = -1

	if err := fillDefaults(cfg); err != nil {
		t.Fatalf("fillDefaults() error = %v", err)
	}

	if cfg.Ollama.URL != "http://10.0.0.5:11434" {
		t.Errorf("Ollama.URL = %q, explicit value overwritten", cfg.Ollama.URL)
	}
	if cfg.Query.TimeoutSeconds != -1 {
		t.Errorf("Query.TimeoutSeconds = %d, disabled deadline overwritten", cfg.Query.TimeoutSeconds)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{
			name:      "bad url",
			mutate:    func(c *Config) { c.Ollama.URL = "not a url" },
			wantField: "ollama.url",
		},
		{
			name:      "bad policy",
			mutate:    func(c *Config) { c.Query.Policy = "queue" },
			wantField: "query.policy",
		},
		{
			name:      "temperature too high",
			mutate:    func(c *Config) { c.Query.Temperature = 1.5 },
			wantField: "query.temperature",
		},
		{
			name:      "temperature negative",
			mutate:    func(c *Config) { c.Query.Temperature = -0.1 },
			wantField: "query.temperature",
		},
		{
			name:      "timeout below -1",
			mutate:    func(c *Config) { c.Query.TimeoutSeconds = -5 },
			wantField: "query.timeout_seconds",
		},
		{
			name:      "preview rows zero",
			mutate:    func(c *Config) { c.Dataset.PreviewRows = 0 },
			wantField: "dataset.preview_rows",
		},
		{
			name:      "negative max entries",
			mutate:    func(c *Config) { c.History.MaxEntries = -1 },
			wantField: "history.max_entries",
		},
		{
			name:      "bad theme",
			mutate:    func(c *Config) { c.UI.Theme = "solarized" },
			wantField: "ui.theme",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantField) {
				t.Errorf("Validate() error = %v, want mention of %s", err, tt.wantField)
			}
		})
	}
}

func TestConfig_LoadFromPathTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `default_model = "codellama:7b"

[query]
policy = "reject"
timeout_seconds = -1

[ui]
theme = "light"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}

	if cfg.DefaultModel != "codellama:7b" {
		t.Errorf("DefaultModel = %q, want codellama:7b", cfg.DefaultModel)
	}
	if cfg.Query.Policy != "reject" {
		t.Errorf("Query.Policy = %q, want reject", cfg.Query.Policy)
	}
	if cfg.Query.Timeout() != 0 {
		t.Errorf("Query.Timeout() = %v, want 0 (disabled)", cfg.Query.Timeout())
	}
	if cfg.UI.Theme != "light" {
		t.Errorf("UI.Theme = %q, want light", cfg.UI.Theme)
	}

	// Settings absent from the file keep their defaults.
	if cfg.Ollama.URL != "http://127.0.0.1:11434" {
		t.Errorf("Ollama.URL = %q, want default", cfg.Ollama.URL)
	}
	if !cfg.History.Enabled {
		t.Error("History.Enabled = false, bool default lost")
	}
}

func TestConfig_LoadFromPathJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"default_model": "deepseek-r1:1.5b", "dataset": {"preview_rows": 8}}`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if cfg.DefaultModel != "deepseek-r1:1.5b" {
		t.Errorf("DefaultModel = %q, want deepseek-r1:1.5b", cfg.DefaultModel)
	}
	if cfg.Dataset.PreviewRows != 8 {
		t.Errorf("Dataset.PreviewRows = %d, want 8", cfg.Dataset.PreviewRows)
	}
}

func TestConfig_LoadFromPathInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `[query]
temperature = 3.0
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	if _, err := LoadFromPath(path); err == nil || !strings.Contains(err.Error(), "query.temperature") {
		t.Errorf("LoadFromPath() error = %v, want temperature validation failure", err)
	}
}

func TestConfig_EnvOverrides(t *testing.T) {
	t.Setenv("TABLETALK_MODEL", "codellama:7b")
	t.Setenv("TABLETALK_TIMEOUT", "-1")
	t.Setenv("TABLETALK_TEMPERATURE", "0.2")
	t.Setenv("TABLETALK_NO_HISTORY", "1")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.DefaultModel != "codellama:7b" {
		t.Errorf("DefaultModel = %q, want codellama:7b", cfg.DefaultModel)
	}
	if cfg.Query.TimeoutSeconds != -1 {
		t.Errorf("Query.TimeoutSeconds = %d, want -1", cfg.Query.TimeoutSeconds)
	}
	if cfg.Query.Temperature != 0.2 {
		t.Errorf("Query.Temperature = %v, want 0.2", cfg.Query.Temperature)
	}
	if cfg.History.Enabled {
		t.Error("History.Enabled = true, want disabled via env")
	}
}

func TestConfig_EnvOverridesIgnoreMalformed(t *testing.T) {
	t.Setenv("TABLETALK_TIMEOUT", "soon")
	t.Setenv("TABLETALK_TEMPERATURE", "warm")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.Query.TimeoutSeconds != 120 {
		t.Errorf("Query.TimeoutSeconds = %d, malformed env should be ignored", cfg.Query.TimeoutSeconds)
	}
	if cfg.Query.Temperature != 0.7 {
		t.Errorf("Query.Temperature = %v, malformed env should be ignored", cfg.Query.Temperature)
	}
}

func TestConfig_HistoryPath(t *testing.T) {
	cfg := Default()

	cfg.History.Path = "/tmp/custom.db"
	path, err := cfg.HistoryPath()
	if err != nil {
		t.Fatalf("HistoryPath() error = %v", err)
	}
	if path != "/tmp/custom.db" {
		t.Errorf("HistoryPath() = %q, want explicit path", path)
	}

	cfg.History.Path = ""
	path, err = cfg.HistoryPath()
	if err != nil {
		t.Fatalf("HistoryPath() error = %v", err)
	}
	if filepath.Base(path) != "history.db" {
		t.Errorf("HistoryPath() = %q, want history.db under config dir", path)
	}
}

// TestConfig_ConcurrentAccess hammers Global and SetGlobal from parallel
// goroutines. Only meaningful under the race detector.
func TestConfig_ConcurrentAccess(t *testing.T) {
	ResetGlobalForTesting()

	var wg sync.WaitGroup

	// Interleaved writers and readers.
	for i := 0; i < 50; i++ {
		wg.Add(2)

		go func() {
			defer wg.Done()
			c := Default()
			c.DefaultModel = "test-model"
			SetGlobal(c)
		}()

		go func() {
			defer wg.Done()
			if cfg := Global(); cfg == nil {
				t.Error("Global() returned nil")
			}
		}()
	}

	wg.Wait()
}

// Global must hand back a fully populated config on first access even when
// nothing was loaded or set beforehand.
func TestConfig_GlobalInitialization(t *testing.T) {
	ResetGlobalForTesting()

	cfg := Global()
	if cfg == nil {
		t.Fatal("Global() returned nil")
	}
	if cfg.Version == "" {
		t.Error("Config version should not be empty")
	}
	if cfg.Query.Policy == "" {
		t.Error("Query policy should not be empty")
	}
}
