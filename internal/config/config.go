// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrTTSRegionRequired is returned when TTS_REGION is not set.
	ErrTTSRegionRequired = errors.New("config: TTS_REGION is required")
	// ErrTTSKeyRequired is returned when TTS_SUBSCRIPTION_KEY is not set.
	ErrTTSKeyRequired = errors.New("config: TTS_SUBSCRIPTION_KEY is required")
	// ErrInvalidOutputFormat is returned for a non-positive sample rate or channel count.
	ErrInvalidOutputFormat = errors.New("config: OUTPUT_SAMPLE_RATE and OUTPUT_CHANNELS must be positive")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// Filesystem layout
	CacheDir            string `env:"CACHE_DIR, default=./data/cache" json:"cache_dir"`
	CacheRetentionHours int    `env:"CACHE_RETENTION_HOURS, default=168" json:"cache_retention_hours"`
	TempDir             string `env:"TEMP_DIR, default=/tmp/audiobook-forge" json:"temp_dir"`
	ProjectsDir         string `env:"PROJECTS_DIR, default=./data/projects" json:"projects_dir"`
	JobDBPath           string `env:"JOB_DB_PATH" json:"job_db_path,omitempty"` // Empty keeps jobs in memory

	// External tools
	ToolsDir    string `env:"TOOLS_DIR" json:"tools_dir,omitempty"` // Bundled binaries, preferred over PATH
	FFmpegName  string `env:"FFMPEG_NAME, default=ffmpeg" json:"ffmpeg_name"`
	FFprobeName string `env:"FFPROBE_NAME, default=ffprobe" json:"ffprobe_name"`
	DSPToolName string `env:"DSP_TOOL_NAME, default=ffmpeg" json:"dsp_tool_name"`

	// Speech synthesis provider
	TTSRegion          string   `env:"TTS_REGION" json:"tts_region"`
	TTSSubscriptionKey string   `env:"TTS_SUBSCRIPTION_KEY" json:"-"` // Masked in JSON
	TTSTokenEndpoints  []string `env:"TTS_TOKEN_ENDPOINTS" json:"tts_token_endpoints,omitempty"`
	TTSEndpoint        string   `env:"TTS_ENDPOINT" json:"tts_endpoint,omitempty"`
	TTSTimeoutSec      int      `env:"TTS_TIMEOUT_SEC, default=30" json:"tts_timeout_sec"`
	TTSRequestsPerSec  float64  `env:"TTS_REQUESTS_PER_SEC, default=5" json:"tts_requests_per_sec"`
	MaxRetries         int      `env:"MAX_RETRIES, default=3" json:"max_retries"`
	RetryBackoffMs     int      `env:"RETRY_BACKOFF_MS, default=500" json:"retry_backoff_ms"`
	CastingFile        string   `env:"CASTING_FILE" json:"casting_file,omitempty"`

	// Processing and assembly
	OutputSampleRate int    `env:"OUTPUT_SAMPLE_RATE, default=44100" json:"output_sample_rate"`
	OutputChannels   int    `env:"OUTPUT_CHANNELS, default=1" json:"output_channels"`
	PresetsFile      string `env:"PRESETS_FILE" json:"presets_file,omitempty"`
	DefaultPreset    string `env:"DEFAULT_PRESET, default=audiobook" json:"default_preset"`
	JobTimeoutSec    int    `env:"JOB_TIMEOUT_SEC, default=0" json:"job_timeout_sec"` // Zero disables the limit

	// Optional chapter notifications
	NATSURL           string `env:"NATS_URL" json:"nats_url,omitempty"`
	NATSSubjectPrefix string `env:"NATS_SUBJECT_PREFIX, default=audiobook" json:"nats_subject_prefix"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	S3KeyPrefix        string `env:"S3_KEY_PREFIX, default=chapters" json:"s3_key_prefix"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// Load reads configuration from environment variables using go-envconfig
// and validates it. Synthesis credentials are required.
func Load() (*Config, error) {
	cfg, err := LoadLocal()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadLocal reads configuration without requiring synthesis credentials.
// It serves tools that only touch the cache, presets or assembly.
func LoadLocal() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.OutputSampleRate <= 0 || cfg.OutputChannels <= 0 {
		return nil, ErrInvalidOutputFormat
	}
	return cfg, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.TTSRegion) == "" {
		return ErrTTSRegionRequired
	}
	if strings.TrimSpace(c.TTSSubscriptionKey) == "" {
		return ErrTTSKeyRequired
	}
	return nil
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// NATSEnabled returns true if chapter notifications should be published.
func (c *Config) NATSEnabled() bool {
	return c.NATSURL != ""
}

// ChaptersDir is where assembled chapter files are written.
func (c *Config) ChaptersDir() string {
	return filepath.Join(c.ProjectsDir, "chapters")
}

// SFXDir is where relative sound-effect references are resolved.
func (c *Config) SFXDir() string {
	return filepath.Join(c.ProjectsDir, "sfx")
}

// CacheRetention returns the cache entry lifetime.
func (c *Config) CacheRetention() time.Duration {
	return time.Duration(c.CacheRetentionHours) * time.Hour
}

// TTSTimeout returns the per-request synthesis timeout.
func (c *Config) TTSTimeout() time.Duration {
	return time.Duration(c.TTSTimeoutSec) * time.Second
}

// RetryBackoff returns the base delay between synthesis retries.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMs) * time.Millisecond
}

// JobTimeout returns the per-job deadline, zero when unlimited.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSec) * time.Second
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, CacheDir: %s, CacheRetentionHours: %d, TempDir: %s, ProjectsDir: %s, TTSRegion: %s, TTSSubscriptionKey: %s, OutputSampleRate: %d, OutputChannels: %d, NATSURL: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.CacheDir,
		c.CacheRetentionHours,
		c.TempDir,
		c.ProjectsDir,
		c.TTSRegion,
		mask(c.TTSSubscriptionKey),
		c.OutputSampleRate,
		c.OutputChannels,
		c.NATSURL,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "****"
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
