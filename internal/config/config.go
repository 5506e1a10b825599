// Package config provides the configuration schema, loader, and hot-reload
// watcher for the LucidCare client.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/lucidcare/internal/report"
	"github.com/MrWong99/lucidcare/pkg/dialogue"
	"github.com/MrWong99/lucidcare/pkg/dialogue/wstransport"
	"github.com/MrWong99/lucidcare/pkg/emotion"
)

// LogLevel controls log verbosity for the LucidCare client.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to its slog level. Unknown values map to [slog.LevelInfo].
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for LucidCare.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Dialogue DialogueConfig `yaml:"dialogue"`
	Tracker  TrackerConfig  `yaml:"tracker"`
	Frames   FramesConfig   `yaml:"frames"`
	Report   ReportConfig   `yaml:"report"`
}

// ServerConfig holds the diagnostics listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the diagnostics server (e.g., ":9090").
	// Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Changes are applied without restart.
	LogLevel LogLevel `yaml:"log_level"`
}

// DialogueConfig configures the comfort-stream channel.
type DialogueConfig struct {
	// URL is the ws:// or wss:// endpoint of the dialogue backend.
	URL string `yaml:"url"`

	// SettleDelay is the pause between the channel opening and the init command.
	SettleDelay time.Duration `yaml:"settle_delay"`

	// ReadLimitBytes caps the size of a single inbound frame.
	ReadLimitBytes int64 `yaml:"read_limit_bytes"`
}

// TrackerConfig configures the emotion stability tracker.
type TrackerConfig struct {
	// Window is the length of the trailing observation window.
	Window time.Duration `yaml:"window"`

	// Threshold is the share of the window the majority must strictly exceed.
	Threshold float64 `yaml:"threshold"`

	// Initial is the stable label before any observation.
	Initial emotion.Label `yaml:"initial"`

	// MinSamples is the smallest window that may flip the stable label.
	// Zero allows a single sample to flip it.
	MinSamples int `yaml:"min_samples"`
}

// FramesConfig configures detector sampling.
type FramesConfig struct {
	// Interval is the sampling period.
	Interval time.Duration `yaml:"interval"`
}

// ReportConfig configures the report-analysis HTTP client.
type ReportConfig struct {
	// BaseURL is the http:// or https:// root of the analysis backend.
	BaseURL string `yaml:"base_url"`

	// Timeout bounds a single analysis request.
	Timeout time.Duration `yaml:"timeout"`
}

// ApplyDefaults fills zero-valued fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Dialogue.URL == "" {
		cfg.Dialogue.URL = dialogue.DefaultURL
	}
	if cfg.Dialogue.SettleDelay == 0 {
		cfg.Dialogue.SettleDelay = dialogue.DefaultSettleDelay
	}
	if cfg.Dialogue.ReadLimitBytes == 0 {
		cfg.Dialogue.ReadLimitBytes = wstransport.DefaultReadLimit
	}
	if cfg.Tracker.Window == 0 {
		cfg.Tracker.Window = emotion.DefaultWindow
	}
	if cfg.Tracker.Threshold == 0 {
		cfg.Tracker.Threshold = emotion.DefaultThreshold
	}
	if cfg.Tracker.Initial == "" {
		cfg.Tracker.Initial = emotion.Neutral
	}
	if cfg.Frames.Interval == 0 {
		cfg.Frames.Interval = emotion.DefaultSampleInterval
	}
	if cfg.Report.BaseURL == "" {
		cfg.Report.BaseURL = report.DefaultBaseURL
	}
	if cfg.Report.Timeout == 0 {
		cfg.Report.Timeout = report.DefaultTimeout
	}
}

// Default returns a Config with every field set to its default.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
