package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/lucidcare/internal/config"
	"github.com/MrWong99/lucidcare/internal/report"
	"github.com/MrWong99/lucidcare/pkg/dialogue"
	"github.com/MrWong99/lucidcare/pkg/emotion"
)

const fullYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
dialogue:
  url: wss://care.example.com/comfort-stream
  settle_delay: 250ms
  read_limit_bytes: 65536
tracker:
  window: 5s
  threshold: 0.8
  initial: happy
  min_samples: 10
frames:
  interval: 50ms
report:
  base_url: https://care.example.com
  timeout: 30s
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level: got %q", cfg.Server.LogLevel)
	}
	if cfg.Dialogue.URL != "wss://care.example.com/comfort-stream" {
		t.Errorf("dialogue.url: got %q", cfg.Dialogue.URL)
	}
	if cfg.Dialogue.SettleDelay != 250*time.Millisecond {
		t.Errorf("dialogue.settle_delay: got %s", cfg.Dialogue.SettleDelay)
	}
	if cfg.Dialogue.ReadLimitBytes != 65536 {
		t.Errorf("dialogue.read_limit_bytes: got %d", cfg.Dialogue.ReadLimitBytes)
	}
	want := config.TrackerConfig{Window: 5 * time.Second, Threshold: 0.8, Initial: emotion.Happy, MinSamples: 10}
	if cfg.Tracker != want {
		t.Errorf("tracker: got %+v, want %+v", cfg.Tracker, want)
	}
	if cfg.Frames.Interval != 50*time.Millisecond {
		t.Errorf("frames.interval: got %s", cfg.Frames.Interval)
	}
	if cfg.Report.BaseURL != "https://care.example.com" || cfg.Report.Timeout != 30*time.Second {
		t.Errorf("report: got %+v", cfg.Report)
	}
}

func TestLoadFromReader_EmptyUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Server.ListenAddr != "" {
		t.Errorf("listen_addr: got %q, want empty", cfg.Server.ListenAddr)
	}
	if cfg.Dialogue.URL != dialogue.DefaultURL {
		t.Errorf("dialogue.url: got %q", cfg.Dialogue.URL)
	}
	if cfg.Dialogue.SettleDelay != dialogue.DefaultSettleDelay {
		t.Errorf("dialogue.settle_delay: got %s", cfg.Dialogue.SettleDelay)
	}
	if cfg.Tracker.Window != emotion.DefaultWindow || cfg.Tracker.Threshold != emotion.DefaultThreshold {
		t.Errorf("tracker: got %+v", cfg.Tracker)
	}
	if cfg.Tracker.Initial != emotion.Neutral || cfg.Tracker.MinSamples != 0 {
		t.Errorf("tracker: got %+v", cfg.Tracker)
	}
	if cfg.Frames.Interval != emotion.DefaultSampleInterval {
		t.Errorf("frames.interval: got %s", cfg.Frames.Interval)
	}
	if cfg.Report.BaseURL != report.DefaultBaseURL || cfg.Report.Timeout != report.DefaultTimeout {
		t.Errorf("report: got %+v", cfg.Report)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("tracker:\n  windwo: 5s\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
	if !strings.Contains(err.Error(), "windwo") {
		t.Errorf("error %q should name the unknown field", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr string
	}{
		{"invalid log level", func(c *config.Config) { c.Server.LogLevel = "verbose" }, "server.log_level"},
		{"http dialogue url", func(c *config.Config) { c.Dialogue.URL = "http://localhost:8080/comfort-stream" }, "dialogue.url"},
		{"dialogue url without host", func(c *config.Config) { c.Dialogue.URL = "ws:///comfort-stream" }, "dialogue.url"},
		{"negative settle delay", func(c *config.Config) { c.Dialogue.SettleDelay = -time.Second }, "dialogue.settle_delay"},
		{"negative read limit", func(c *config.Config) { c.Dialogue.ReadLimitBytes = -1 }, "dialogue.read_limit_bytes"},
		{"negative window", func(c *config.Config) { c.Tracker.Window = -time.Second }, "tracker.window"},
		{"threshold one", func(c *config.Config) { c.Tracker.Threshold = 1 }, "tracker.threshold"},
		{"threshold negative", func(c *config.Config) { c.Tracker.Threshold = -0.1 }, "tracker.threshold"},
		{"negative min samples", func(c *config.Config) { c.Tracker.MinSamples = -3 }, "tracker.min_samples"},
		{"negative interval", func(c *config.Config) { c.Frames.Interval = -time.Millisecond }, "frames.interval"},
		{"ws report url", func(c *config.Config) { c.Report.BaseURL = "ws://localhost:8080" }, "report.base_url"},
		{"negative report timeout", func(c *config.Config) { c.Report.Timeout = -time.Second }, "report.timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := config.Default()
			tt.modify(cfg)
			err := config.Validate(cfg)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_DefaultIsValid(t *testing.T) {
	t.Parallel()
	if err := config.Validate(config.Default()); err != nil {
		t.Errorf("default config is invalid: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Server.LogLevel = "loud"
	cfg.Tracker.Threshold = 2
	cfg.Report.BaseURL = "ftp://reports"

	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"server.log_level", "tracker.threshold", "report.base_url"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error %q does not mention %q", err, want)
		}
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "lucidcare.yaml")
	if err := os.WriteFile(path, []byte(fullYAML), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Tracker.Initial != emotion.Happy {
		t.Errorf("tracker.initial: got %q", cfg.Tracker.Initial)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLogLevel_Level(t *testing.T) {
	t.Parallel()

	tests := map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	}
	for in, want := range tests {
		if got := in.Level(); got != want {
			t.Errorf("LogLevel(%q).Level() = %v, want %v", in, got, want)
		}
	}
}
