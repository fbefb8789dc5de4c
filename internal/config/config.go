// Package config loads the pipeline's structured configuration: watched
// and output directories, the LLM host and image server contracts, and
// the ambient logging/metrics sinks. Defaults are written to disk when
// no config file exists; unknown keys are ignored. Every key has a
// default, so a key left out of the file is filled in rather than
// rejected; Load fails only on a value that does not validate, such as
// an unknown pipeline.fallback_mode.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// FallbackMode controls Scene Processor behavior when the image server
// is unreachable at the start of a rendering cycle.
type FallbackMode string

const (
	FallbackSkip       FallbackMode = "skip"
	FallbackPromptOnly FallbackMode = "prompt_only"
	FallbackMock       FallbackMode = "mock"
)

// Config is the root configuration for the scene visualizer pipeline.
type Config struct {
	Root string `yaml:"root"`

	Paths   PathsConfig   `yaml:"paths"`
	Logging LoggingConfig `yaml:"logging"`
	LLM     LLMConfig     `yaml:"llm"`
	Image   ImageConfig   `yaml:"image"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Metrics MetricsConfig `yaml:"metrics"`
	Ledger  LedgerConfig  `yaml:"ledger"`
}

// PathsConfig names the directories and files the pipeline owns.
type PathsConfig struct {
	// WatchedDir holds incoming "*_transkript.txt" files. Defaults to
	// "<Root>/transkripte".
	WatchedDir string `yaml:"watched_dir"`
	// SceneDir receives "<scene>_metadata.json", "_image.png", "_error.json".
	// Defaults to "<Root>/scene".
	SceneDir string `yaml:"scene_dir"`
	// OutputsDir is a secondary output area the image server is also
	// configured against (kept for parity with the original pipeline's
	// "outputs" directory convention).
	OutputsDir string `yaml:"outputs_dir"`
	// LockFile is the single-instance lock. Defaults to
	// "<Root>/dnd_runner.lock"; a value set in the file is used as given.
	LockFile string `yaml:"lock_file"`
}

// LoggingConfig configures the rotating log sinks.
type LoggingConfig struct {
	MainLogFile    string `yaml:"main_log_file"`
	ErrorLogFile   string `yaml:"error_log_file"`
	SubprocessLog  string `yaml:"subprocess_log_file"`
	MaxSizeMB      int    `yaml:"max_size_mb"`
	MaxBackups     int    `yaml:"max_backups"`
	MaxAgeDays     int    `yaml:"max_age_days"`
	Level          string `yaml:"level"`
}

// LLMConfig describes the language model host: how it is launched,
// probed for health, and called for scene description synthesis.
type LLMConfig struct {
	// Launch is the shell command used to start the host subprocess.
	// Empty means the host is assumed to already be running.
	Launch string `yaml:"launch"`
	// BaseURL is the HTTP base for health probes and generate calls.
	BaseURL string `yaml:"base_url"`
	// Model is the model name requested in chat/generate calls.
	Model string `yaml:"model"`
	// RequiredModel must appear in the health probe's models[] list.
	RequiredModel string `yaml:"required_model"`
	Temperature   float64 `yaml:"temperature"`
	TopP          float64 `yaml:"top_p"`
	NumPredict    int     `yaml:"num_predict"`
	NumCtx        int     `yaml:"num_ctx"`

	RequestTimeout time.Duration `yaml:"request_timeout"`
	RetryCount     int           `yaml:"retry_count"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	StartupWindow  time.Duration `yaml:"startup_window"`
	ShutdownGrace  time.Duration `yaml:"shutdown_grace"`

	// TriggerToken is the required leading phrase of dndstyle_prompt.
	TriggerToken string `yaml:"trigger_token"`
}

// ImageConfig describes the diffusion image server's TCP endpoint.
type ImageConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
}

// PipelineConfig controls reconciliation/healthcheck cadence and
// fallback behavior.
type PipelineConfig struct {
	ReconcileInterval   time.Duration `yaml:"reconcile_interval"`
	HealthcheckInterval time.Duration `yaml:"healthcheck_interval"`
	HeartbeatInterval   time.Duration `yaml:"heartbeat_interval"`
	StatusInterval      time.Duration `yaml:"status_interval"`
	FallbackMode        FallbackMode  `yaml:"fallback_mode"`
	SlowSyncThreshold    time.Duration `yaml:"slow_sync_threshold"`
	SlowSyncIdleDelay    time.Duration `yaml:"slow_sync_idle_delay"`
	MaxConsecutiveErrors int           `yaml:"max_consecutive_errors"`
	MaxBackoff           time.Duration `yaml:"max_backoff"`
	WatcherSettleDelay   time.Duration `yaml:"watcher_settle_delay"`
}

// MetricsConfig configures the ambient Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LedgerConfig configures the supplemental sqlite processing ledger.
type LedgerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the pipeline's default configuration.
func Default() *Config {
	cfg := &Config{Root: "."}
	applyDefaults(cfg)
	return cfg
}

// Load reads the config at path, resolving $include directives. If the
// file does not exist, the defaults are written to path and returned.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := Write(path, cfg); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
		return cfg, nil
	}

	raw, err := loadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Write serializes cfg as indented YAML to path, creating parent
// directories as needed.
func Write(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil && filepath.Dir(path) != "." {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func applyDefaults(cfg *Config) {
	if cfg.Root == "" {
		cfg.Root = "."
	}
	if cfg.Paths.WatchedDir == "" {
		cfg.Paths.WatchedDir = filepath.Join(cfg.Root, "transkripte")
	}
	if cfg.Paths.SceneDir == "" {
		cfg.Paths.SceneDir = filepath.Join(cfg.Root, "scene")
	}
	if cfg.Paths.OutputsDir == "" {
		cfg.Paths.OutputsDir = filepath.Join(cfg.Root, "outputs")
	}
	if cfg.Paths.LockFile == "" {
		cfg.Paths.LockFile = filepath.Join(cfg.Root, "dnd_runner.lock")
	}

	if cfg.Logging.MainLogFile == "" {
		cfg.Logging.MainLogFile = "scene_runner.log"
	}
	if cfg.Logging.ErrorLogFile == "" {
		cfg.Logging.ErrorLogFile = "scene_errors.log"
	}
	if cfg.Logging.SubprocessLog == "" {
		cfg.Logging.SubprocessLog = "llm_host.log"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 10
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 5
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 28
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "deepseek-r1:14b"
	}
	if cfg.LLM.RequiredModel == "" {
		cfg.LLM.RequiredModel = cfg.LLM.Model
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "http://127.0.0.1:11434"
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.7
	}
	if cfg.LLM.TopP == 0 {
		cfg.LLM.TopP = 0.9
	}
	if cfg.LLM.NumPredict == 0 {
		cfg.LLM.NumPredict = 1500
	}
	if cfg.LLM.NumCtx == 0 {
		cfg.LLM.NumCtx = 4096
	}
	if cfg.LLM.RequestTimeout == 0 {
		cfg.LLM.RequestTimeout = 120 * time.Second
	}
	if cfg.LLM.RetryCount == 0 {
		cfg.LLM.RetryCount = 3
	}
	if cfg.LLM.RetryDelay == 0 {
		cfg.LLM.RetryDelay = 5 * time.Second
	}
	if cfg.LLM.StartupWindow == 0 {
		cfg.LLM.StartupWindow = 30 * time.Second
	}
	if cfg.LLM.ShutdownGrace == 0 {
		cfg.LLM.ShutdownGrace = 10 * time.Second
	}
	if cfg.LLM.TriggerToken == "" {
		cfg.LLM.TriggerToken = "dndstyle"
	}

	if cfg.Image.Host == "" {
		cfg.Image.Host = "127.0.0.1"
	}
	if cfg.Image.Port == 0 {
		cfg.Image.Port = 5555
	}
	if cfg.Image.ConnectTimeout == 0 {
		cfg.Image.ConnectTimeout = 5 * time.Second
	}
	if cfg.Image.RequestTimeout == 0 {
		cfg.Image.RequestTimeout = 300 * time.Second
	}
	if cfg.Image.MaxRetries == 0 {
		cfg.Image.MaxRetries = 3
	}
	if cfg.Image.RetryDelay == 0 {
		cfg.Image.RetryDelay = 10 * time.Second
	}

	if cfg.Pipeline.ReconcileInterval == 0 {
		cfg.Pipeline.ReconcileInterval = 3 * time.Second
	}
	if cfg.Pipeline.HealthcheckInterval == 0 {
		cfg.Pipeline.HealthcheckInterval = 30 * time.Second
	}
	if cfg.Pipeline.HeartbeatInterval == 0 {
		cfg.Pipeline.HeartbeatInterval = 2 * time.Minute
	}
	if cfg.Pipeline.StatusInterval == 0 {
		cfg.Pipeline.StatusInterval = 5 * time.Minute
	}
	if cfg.Pipeline.FallbackMode == "" {
		cfg.Pipeline.FallbackMode = FallbackSkip
	}
	if cfg.Pipeline.SlowSyncThreshold == 0 {
		cfg.Pipeline.SlowSyncThreshold = time.Second
	}
	if cfg.Pipeline.SlowSyncIdleDelay == 0 {
		cfg.Pipeline.SlowSyncIdleDelay = 5 * time.Second
	}
	if cfg.Pipeline.MaxConsecutiveErrors == 0 {
		cfg.Pipeline.MaxConsecutiveErrors = 5
	}
	if cfg.Pipeline.MaxBackoff == 0 {
		cfg.Pipeline.MaxBackoff = 30 * time.Second
	}
	if cfg.Pipeline.WatcherSettleDelay == 0 {
		cfg.Pipeline.WatcherSettleDelay = 2 * time.Second
	}

	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = "127.0.0.1:9090"
	}
	if cfg.Ledger.Path == "" {
		cfg.Ledger.Path = filepath.Join(cfg.Root, "scene_ledger.db")
	}
}

func validate(cfg *Config) error {
	if cfg.Paths.WatchedDir == "" {
		return fmt.Errorf("config: paths.watched_dir is required")
	}
	if cfg.Paths.SceneDir == "" {
		return fmt.Errorf("config: paths.scene_dir is required")
	}
	if cfg.Image.Host == "" || cfg.Image.Port == 0 {
		return fmt.Errorf("config: image.host and image.port are required")
	}
	switch cfg.Pipeline.FallbackMode {
	case FallbackSkip, FallbackPromptOnly, FallbackMock:
	default:
		return fmt.Errorf("config: pipeline.fallback_mode must be one of skip|prompt_only|mock, got %q", cfg.Pipeline.FallbackMode)
	}
	return nil
}
