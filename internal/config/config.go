package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir     string `toml:"data_dir"`
	ArtifactDir string `toml:"artifact_dir"`
	APIBind     string `toml:"api_bind"`
	LockFile    string `toml:"lock_file"`
}

// Providers contains transcription backend endpoints and selection rules.
type Providers struct {
	WhisperURL          string `toml:"whisper_url"`
	WhisperAPIKey       string `toml:"whisper_api_key"`
	AssemblyAIURL       string `toml:"assemblyai_url"`
	AssemblyAIAPIKey    string `toml:"assemblyai_api_key"`
	SpeechmaticsURL     string `toml:"speechmatics_url"`
	SpeechmaticsAPIKey  string `toml:"speechmatics_api_key"`
	AssemblyAIMinBytes  int64  `toml:"assemblyai_min_bytes"`
	RequestTimeout      int    `toml:"request_timeout"`
	PollIntervalSeconds int    `toml:"poll_interval_seconds"`
	PollAttempts        int    `toml:"poll_attempts"`
}

// LLM contains shared LLM connection settings used by enrichment tasks.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// TTS contains narration synthesis settings.
type TTS struct {
	URL           string `toml:"url"`
	APIKey        string `toml:"api_key"`
	Voice         string `toml:"voice"`
	MaxInputChars int    `toml:"max_input_chars"`
}

// Breaker contains circuit breaker tuning shared by all providers.
type Breaker struct {
	ErrorThresholdPct   int `toml:"error_threshold_pct"`
	MinRequests         int `toml:"min_requests"`
	WindowSize          int `toml:"window_size"`
	ResetTimeoutSeconds int `toml:"reset_timeout_seconds"`
	CallTimeoutSeconds  int `toml:"call_timeout_seconds"`
}

// Watchdog contains stuck-job detection intervals.
type Watchdog struct {
	ScanIntervalSeconds     int     `toml:"scan_interval_seconds"`
	WarningAfterSeconds     int     `toml:"warning_after_seconds"`
	CriticalAfterSeconds    int     `toml:"critical_after_seconds"`
	ProcessingSpeedFactor   float64 `toml:"processing_speed_factor"`
	QueuePollIntervalMillis int     `toml:"queue_poll_interval_millis"`
}

// Notifications contains the ntfy alerting channel settings.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Config is the root configuration tree.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Providers     Providers     `toml:"providers"`
	LLM           LLM           `toml:"llm"`
	TTS           TTS           `toml:"tts"`
	Breaker       Breaker       `toml:"breaker"`
	Watchdog      Watchdog      `toml:"watchdog"`
	Notifications Notifications `toml:"notifications"`
}

// DefaultPath returns the conventional config location.
func DefaultPath() string {
	if v := os.Getenv("SCRIBEPIPE_CONFIG"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "scribepipe.toml"
	}
	return filepath.Join(home, ".config", "scribepipe", "config.toml")
}

// Default returns a config populated with working defaults.
func Default() *Config {
	return &Config{
		Paths: Paths{
			DataDir:     "data",
			ArtifactDir: "data/artifacts",
			APIBind:     ":8080",
			LockFile:    "data/scribepipe.lock",
		},
		Providers: Providers{
			AssemblyAIMinBytes:  25 * 1024 * 1024,
			RequestTimeout:      30,
			PollIntervalSeconds: 2,
			PollAttempts:        120,
		},
		LLM: LLM{
			Model:          "gpt-4o-mini",
			TimeoutSeconds: 25,
		},
		TTS: TTS{
			Voice:         "alloy",
			MaxInputChars: 4096,
		},
		Breaker: Breaker{
			ErrorThresholdPct:   50,
			MinRequests:         5,
			WindowSize:          10,
			ResetTimeoutSeconds: 60,
			CallTimeoutSeconds:  120,
		},
		Watchdog: Watchdog{
			ScanIntervalSeconds:     30,
			WarningAfterSeconds:     300,
			CriticalAfterSeconds:    1800,
			ProcessingSpeedFactor:   0.5,
			QueuePollIntervalMillis: 1000,
		},
		Notifications: Notifications{
			RequestTimeout: 10,
		},
	}
}

// Load reads the config file at path, applying defaults for absent fields
// and environment overrides for secrets. A missing file yields defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrides := []struct {
		env    string
		target *string
	}{
		{"WHISPER_API_KEY", &cfg.Providers.WhisperAPIKey},
		{"ASSEMBLYAI_API_KEY", &cfg.Providers.AssemblyAIAPIKey},
		{"SPEECHMATICS_API_KEY", &cfg.Providers.SpeechmaticsAPIKey},
		{"LLM_API_KEY", &cfg.LLM.APIKey},
		{"LLM_GATEWAY_URL", &cfg.LLM.BaseURL},
		{"LLM_MODEL", &cfg.LLM.Model},
		{"TTS_API_KEY", &cfg.TTS.APIKey},
		{"NTFY_TOPIC", &cfg.Notifications.NtfyTopic},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.target = v
		}
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Providers.AssemblyAIMinBytes <= 0 {
		return errors.New("providers.assemblyai_min_bytes must be positive")
	}
	if c.Breaker.ErrorThresholdPct <= 0 || c.Breaker.ErrorThresholdPct > 100 {
		return errors.New("breaker.error_threshold_pct must be in (0,100]")
	}
	if c.Breaker.WindowSize <= 0 {
		return errors.New("breaker.window_size must be positive")
	}
	if c.Watchdog.CriticalAfterSeconds <= c.Watchdog.WarningAfterSeconds {
		return errors.New("watchdog.critical_after_seconds must exceed warning_after_seconds")
	}
	if c.Watchdog.ProcessingSpeedFactor <= 0 {
		return errors.New("watchdog.processing_speed_factor must be positive")
	}
	return nil
}

// EnsureDirectories creates the directories the daemon writes into.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.ArtifactDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "scribepipe.db")
}
