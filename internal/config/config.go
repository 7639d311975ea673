// Package config loads and validates PenguiFlow's runtime configuration
// from YAML, merging a file's contents over built-in defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ArtifactConfig configures the artifact store's retention policy.
type ArtifactConfig struct {
	MaxBytesPerSession int64         `yaml:"max_bytes_per_session"`
	MaxCountPerSession  int           `yaml:"max_count_per_session"`
	MaxBytesPerTrace    int64         `yaml:"max_bytes_per_trace"`
	MaxCountPerTrace    int           `yaml:"max_count_per_trace"`
	MaxArtifactBytes    int64         `yaml:"max_artifact_bytes"`
	DefaultTTL          time.Duration `yaml:"default_ttl"`
	EvictionStrategy    string        `yaml:"eviction_strategy"`
}

// ClampConfig configures the observation clamp.
type ClampConfig struct {
	MaxObservationChars   int `yaml:"max_observation_chars"`
	AutoArtifactThreshold int `yaml:"auto_artifact_threshold"`
	PreviewChars          int `yaml:"preview_chars"`
}

// DispatcherConfig configures the tool dispatcher.
type DispatcherConfig struct {
	GlobalParallelism  int  `yaml:"global_parallelism"`
	RejectPlaceholders bool `yaml:"reject_placeholders"`
}

// PauseConfig configures the pause/resume controller.
type PauseConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// RedisConfig configures the optional durable State Store backend.
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Prefix  string `yaml:"prefix"`
}

// ServerConfig configures the HTTP binding.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// TelemetryConfig configures logging/tracing/metrics export.
type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
}

// Config is the complete runtime configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Artifact   ArtifactConfig   `yaml:"artifact"`
	Clamp      ClampConfig      `yaml:"clamp"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Pause      PauseConfig      `yaml:"pause"`
	Redis      RedisConfig      `yaml:"redis"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// Defaults returns a Config populated with the runtime's built-in defaults.
func Defaults() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080"},
		Artifact: ArtifactConfig{
			MaxBytesPerSession: 256 << 20,
			MaxCountPerSession: 10_000,
			MaxBytesPerTrace:   64 << 20,
			MaxCountPerTrace:   1_000,
			MaxArtifactBytes:   32 << 20,
			DefaultTTL:         24 * time.Hour,
			EvictionStrategy:   "lru",
		},
		Clamp: ClampConfig{
			MaxObservationChars:   4000,
			AutoArtifactThreshold: 16000,
			PreviewChars:          512,
		},
		Dispatcher: DispatcherConfig{
			GlobalParallelism:  50,
			RejectPlaceholders: false,
		},
		Pause: PauseConfig{TTL: time.Hour},
		Redis: RedisConfig{Enabled: false, Addr: "localhost:6379", Prefix: "penguiflow:"},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			MetricsEnabled: true,
		},
	}
}

// Load reads path, merging its contents over Defaults() so any field the
// file omits keeps its built-in value.
func Load(path string) (Config, error) {
	cfg := Defaults()

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var fromFile Config
	if err := yaml.Unmarshal(raw, &fromFile); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := mergo.Merge(&cfg, fromFile, mergo.WithOverride); err != nil {
		return Config{}, fmt.Errorf("config: merge %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field-level constraints the yaml struct tags cannot
// express (enum membership on plain strings).
func (c Config) Validate() error {
	switch c.Artifact.EvictionStrategy {
	case "lru", "fifo", "none":
	default:
		return fmt.Errorf("config: artifact.eviction_strategy must be lru, fifo, or none, got %q", c.Artifact.EvictionStrategy)
	}
	switch c.Telemetry.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: telemetry.log_level must be debug, info, warn, or error, got %q", c.Telemetry.LogLevel)
	}
	if c.Dispatcher.GlobalParallelism <= 0 {
		return fmt.Errorf("config: dispatcher.global_parallelism must be positive")
	}
	return nil
}
