package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/lucidcare/pkg/emotion"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and validates
// the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
// Defaults are expected to have been applied.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Dialogue
	if err := checkURL(cfg.Dialogue.URL, "ws", "wss"); err != nil {
		errs = append(errs, fmt.Errorf("dialogue.url: %w", err))
	}
	if cfg.Dialogue.SettleDelay < 0 {
		errs = append(errs, fmt.Errorf("dialogue.settle_delay %s must not be negative", cfg.Dialogue.SettleDelay))
	}
	if cfg.Dialogue.ReadLimitBytes < 0 {
		errs = append(errs, fmt.Errorf("dialogue.read_limit_bytes %d must not be negative", cfg.Dialogue.ReadLimitBytes))
	}

	// Tracker
	if cfg.Tracker.Window <= 0 {
		errs = append(errs, fmt.Errorf("tracker.window %s must be positive", cfg.Tracker.Window))
	}
	if cfg.Tracker.Threshold <= 0 || cfg.Tracker.Threshold >= 1 {
		errs = append(errs, fmt.Errorf("tracker.threshold %.2f is out of range (0, 1)", cfg.Tracker.Threshold))
	}
	if cfg.Tracker.MinSamples < 0 {
		errs = append(errs, fmt.Errorf("tracker.min_samples %d must not be negative", cfg.Tracker.MinSamples))
	}
	validateLabel("tracker.initial", cfg.Tracker.Initial)

	// Frames
	if cfg.Frames.Interval <= 0 {
		errs = append(errs, fmt.Errorf("frames.interval %s must be positive", cfg.Frames.Interval))
	}
	if cfg.Frames.Interval > 0 && cfg.Tracker.Window > 0 && cfg.Frames.Interval >= cfg.Tracker.Window {
		slog.Warn("frames.interval is not shorter than tracker.window; every window will hold at most one sample",
			"interval", cfg.Frames.Interval,
			"window", cfg.Tracker.Window,
		)
	}

	// Report
	if err := checkURL(cfg.Report.BaseURL, "http", "https"); err != nil {
		errs = append(errs, fmt.Errorf("report.base_url: %w", err))
	}
	if cfg.Report.Timeout < 0 {
		errs = append(errs, fmt.Errorf("report.timeout %s must not be negative", cfg.Report.Timeout))
	}

	return errors.Join(errs...)
}

// checkURL verifies that raw parses as an absolute URL with one of schemes.
func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%q is not a valid URL: %w", raw, err)
	}
	if !slices.Contains(schemes, u.Scheme) {
		return fmt.Errorf("%q must use scheme %v", raw, schemes)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}

// validateLabel logs a warning if l is not one of [emotion.KnownLabels].
func validateLabel(field string, l emotion.Label) {
	if l == "" || slices.Contains(emotion.KnownLabels, l) {
		return
	}
	slog.Warn("unknown emotion label, possibly a typo or a detector-specific label",
		"field", field,
		"label", l,
		"known", emotion.KnownLabels,
	)
}
