package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Providers.AssemblyAIMinBytes != 25*1024*1024 {
		t.Errorf("default min bytes = %d", cfg.Providers.AssemblyAIMinBytes)
	}
	if cfg.Breaker.ErrorThresholdPct != 50 {
		t.Errorf("default threshold = %d", cfg.Breaker.ErrorThresholdPct)
	}
	if cfg.Watchdog.CriticalAfterSeconds <= cfg.Watchdog.WarningAfterSeconds {
		t.Error("default watchdog thresholds inverted")
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[paths]
data_dir = "/var/lib/scribepipe"
api_bind = ":9090"

[providers]
assemblyai_min_bytes = 10485760
whisper_url = "https://whisper.internal"

[watchdog]
warning_after_seconds = 60
critical_after_seconds = 600
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Paths.DataDir != "/var/lib/scribepipe" || cfg.Paths.APIBind != ":9090" {
		t.Errorf("paths = %+v", cfg.Paths)
	}
	if cfg.Providers.AssemblyAIMinBytes != 10485760 {
		t.Errorf("min bytes = %d", cfg.Providers.AssemblyAIMinBytes)
	}
	if cfg.Providers.WhisperURL != "https://whisper.internal" {
		t.Errorf("whisper url = %q", cfg.Providers.WhisperURL)
	}
	// Untouched sections keep defaults.
	if cfg.Breaker.WindowSize != 10 {
		t.Errorf("breaker window = %d", cfg.Breaker.WindowSize)
	}
}

func TestLoadEnvOverridesSecrets(t *testing.T) {
	t.Setenv("LLM_API_KEY", "sk-from-env")
	t.Setenv("WHISPER_API_KEY", "wk-from-env")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LLM.APIKey != "sk-from-env" {
		t.Errorf("llm key = %q", cfg.LLM.APIKey)
	}
	if cfg.Providers.WhisperAPIKey != "wk-from-env" {
		t.Errorf("whisper key = %q", cfg.Providers.WhisperAPIKey)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	mutate := []func(*Config){
		func(c *Config) { c.Providers.AssemblyAIMinBytes = 0 },
		func(c *Config) { c.Breaker.ErrorThresholdPct = 0 },
		func(c *Config) { c.Breaker.ErrorThresholdPct = 101 },
		func(c *Config) { c.Breaker.WindowSize = 0 },
		func(c *Config) { c.Watchdog.CriticalAfterSeconds = c.Watchdog.WarningAfterSeconds },
		func(c *Config) { c.Watchdog.ProcessingSpeedFactor = 0 },
	}
	for i, m := range mutate {
		cfg := Default()
		m(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("mutation %d passed validation", i)
		}
	}
	if err := Default().Validate(); err != nil {
		t.Errorf("defaults failed validation: %v", err)
	}
}

func TestEnsureDirectoriesAndDatabasePath(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.Paths.DataDir = filepath.Join(dir, "data")
	cfg.Paths.ArtifactDir = filepath.Join(dir, "data", "artifacts")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := os.Stat(cfg.Paths.ArtifactDir); err != nil {
		t.Errorf("artifact dir missing: %v", err)
	}
	if got := cfg.DatabasePath(); got != filepath.Join(cfg.Paths.DataDir, "scribepipe.db") {
		t.Errorf("db path = %q", got)
	}
}
