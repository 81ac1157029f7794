// Package config defines the environment-driven configuration for docflow.
package config

import (
	"log/slog"
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - http.go: UI-facing HTTP server configuration
//   - upload.go: analysis backend and upload validation
//   - redis.go: optional job change publisher
//   - reaper.go: retention of finished jobs
//   - observability.go: logging and metrics
type AppConfig struct {
	// IsDev switches the log handler to human-readable text output.
	// Set DEV=true or NODE_ENV=development for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	HTTP   HTTPConfig
	Upload UploadConfig `envPrefix:"UPLOAD_"`
	Redis  RedisConfig  `envPrefix:"REDIS_"`
	Reaper ReaperConfig `envPrefix:"REAPER_"`

	Logging       LoggingConfig `envPrefix:"LOG_"`
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.HTTP.Sanitize()
	c.Upload.Sanitize()
	c.Redis.Sanitize()
	c.Reaper.Sanitize()
	c.Logging.Sanitize()
	c.Observability.Sanitize()

	c.detectDevMode()
}

// detectDevMode checks NODE_ENV as a fallback for DEV, since the UI tooling
// that launches this process usually sets it.
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		nodeEnv := strings.ToLower(os.Getenv("NODE_ENV"))
		c.IsDev = nodeEnv == "development" || nodeEnv == "dev"
	}
}

// LoggingConfig controls the slog handler and the optional rotated log file.
type LoggingConfig struct {
	Level string `env:"LEVEL" envDefault:"info"`

	// File enables a size-rotated JSON log file in addition to stdout.
	File        string `env:"FILE"`
	MaxSizeMB   int    `env:"FILE_MAX_SIZE_MB"  envDefault:"10"`
	MaxBackups  int    `env:"FILE_MAX_BACKUPS"  envDefault:"5"`
	MaxAgeDays  int    `env:"FILE_MAX_AGE_DAYS" envDefault:"30"`
	CompressOld bool   `env:"FILE_COMPRESS"     envDefault:"true"`
}

// Sanitize normalises the level name and clamps rotation settings.
func (l *LoggingConfig) Sanitize() {
	l.Level = strings.ToLower(strings.TrimSpace(l.Level))
	switch l.Level {
	case "debug", "info", "warn", "error":
	case "warning":
		l.Level = "warn"
	default:
		l.Level = "info"
	}
	l.File = strings.TrimSpace(l.File)
	if l.MaxSizeMB < 1 {
		l.MaxSizeMB = 1
	}
	if l.MaxBackups < 0 {
		l.MaxBackups = 0
	}
	if l.MaxAgeDays < 0 {
		l.MaxAgeDays = 0
	}
}

// SlogLevel converts the configured level name.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
