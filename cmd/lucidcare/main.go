// Command lucidcare is the terminal client for the LucidCare report dialogue.
//
// It obtains a plain-language summary of a medical report (by uploading the
// report or reading a prepared summary), then walks the user through it
// section by section over the comfort-stream channel while an emotion tracker
// adapts the tone of each request.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/MrWong99/lucidcare/internal/app"
	"github.com/MrWong99/lucidcare/internal/config"
	"github.com/MrWong99/lucidcare/internal/framesource"
	"github.com/MrWong99/lucidcare/internal/observe"
	"github.com/MrWong99/lucidcare/internal/report"
)

// version is set at build time via -ldflags.
var version = "dev"

const defaultConfigPath = "lucidcare.yaml"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", defaultConfigPath, "path to the YAML configuration file")
	reportPath := flag.String("report", "", "medical report (PDF) to upload for analysis")
	summaryPath := flag.String("summary", "", "text file holding an already analysed summary")
	framesPath := flag.String("frames", "", "NDJSON file of recorded expression scores (\"-\" or empty for none)")
	flag.Parse()

	if (*reportPath == "") == (*summaryPath == "") {
		fmt.Fprintln(os.Stderr, "lucidcare: exactly one of -report or -summary is required")
		flag.Usage()
		return 2
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, watchable, err := loadConfig(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "lucidcare: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "lucidcare: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	logger := newLogger(level)
	slog.SetDefault(logger)

	slog.Info("lucidcare starting",
		"version", version,
		"config", *configPath,
		"url", cfg.Dialogue.URL,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		DialogueURL:    cfg.Dialogue.URL,
		ReportURL:      cfg.Report.BaseURL,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Summary ───────────────────────────────────────────────────────────────
	client := report.New(
		report.WithBaseURL(cfg.Report.BaseURL),
		report.WithTimeout(cfg.Report.Timeout),
	)
	summary, err := loadSummary(ctx, client, *reportPath, *summaryPath)
	if err != nil {
		slog.Error("failed to obtain report summary", "err", err)
		return 1
	}

	opts := []app.Option{
		app.WithSummary(summary),
		app.WithLogger(logger, level),
	}
	if *reportPath != "" {
		opts = append(opts, app.WithReportClient(client))
	}

	// ── Frame source (optional) ───────────────────────────────────────────────
	if *framesPath != "" && *framesPath != "-" {
		f, err := os.Open(*framesPath)
		if err != nil {
			slog.Error("failed to open frame recording", "path", *framesPath, "err", err)
			return 1
		}
		defer f.Close()
		opts = append(opts, app.WithDetector(framesource.NewNDJSONDetector(f)))
	}

	printStartupSummary(cfg, *framesPath, len(summary))

	application, err := app.New(cfg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if watchable {
		watcher, err := config.NewWatcher(*configPath, application.Reload, config.WithLogger(logger))
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			go func() { _ = watcher.Run(ctx) }()
		}
	}

	fmt.Println("press Enter for the next section; commands: next, restart, status, quit")
	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}

	slog.Info("goodbye")
	return 0
}

// loadConfig reads path. A missing file at the default path yields the
// built-in defaults; watchable reports whether a file was read.
func loadConfig(path string) (cfg *config.Config, watchable bool, err error) {
	cfg, err = config.Load(path)
	if err == nil {
		return cfg, true, nil
	}
	if errors.Is(err, os.ErrNotExist) && path == defaultConfigPath {
		return config.Default(), false, nil
	}
	return nil, false, err
}

// loadSummary uploads reportPath for analysis or, when it is empty, reads the
// prepared summary from summaryPath.
func loadSummary(ctx context.Context, client *report.Client, reportPath, summaryPath string) (string, error) {
	if reportPath != "" {
		f, err := os.Open(reportPath)
		if err != nil {
			return "", err
		}
		defer f.Close()
		slog.Info("uploading report for analysis", "path", reportPath)
		return client.Analyze(ctx, filepath.Base(reportPath), f)
	}

	data, err := os.ReadFile(summaryPath)
	if err != nil {
		return "", fmt.Errorf("read summary: %w", err)
	}
	summary := strings.TrimSpace(string(data))
	if summary == "" {
		return "", report.ErrNoSummary
	}
	return summary, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, framesPath string, summaryLen int) {
	frames := framesPath
	if frames == "" || frames == "-" {
		frames = "(none)"
	}
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        LucidCare, startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Dialogue", cfg.Dialogue.URL)
	printRow("Frames", frames)
	printRow("Window", fmt.Sprintf("%s @ %.2f", cfg.Tracker.Window, cfg.Tracker.Threshold))
	printRow("Initial", string(cfg.Tracker.Initial))
	printRow("Summary", fmt.Sprintf("%d bytes", summaryLen))
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	} else {
		printRow("Listen addr", "(disabled)")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
