// Package app wires the LucidCare subsystems into a running client.
//
// The App struct owns the full lifecycle: New builds the tracker, frame
// sampler, dialogue controller and diagnostics server from the config, Run
// starts the dialogue and drives everything until the context ends or the
// user quits, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithTransport,
// WithDetector, WithInput, etc.). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/lucidcare/internal/config"
	"github.com/MrWong99/lucidcare/internal/framesource"
	"github.com/MrWong99/lucidcare/internal/health"
	"github.com/MrWong99/lucidcare/internal/observe"
	"github.com/MrWong99/lucidcare/internal/report"
	"github.com/MrWong99/lucidcare/pkg/dialogue"
	"github.com/MrWong99/lucidcare/pkg/dialogue/wstransport"
	"github.com/MrWong99/lucidcare/pkg/emotion"
)

// frameMaxAge is how stale the latest detector sample may be before the
// frames readiness check fails.
const frameMaxAge = 2 * time.Second

// App owns all subsystem lifetimes of the LucidCare client.
type App struct {
	cfg     *config.Config
	summary string

	logger  *slog.Logger
	level   *slog.LevelVar
	metrics *observe.Metrics

	in      io.Reader
	console *Console

	tracerProvider trace.TracerProvider
	spans          *observe.SessionSpans

	transport dialogue.Transport
	detector  framesource.Detector
	reports   *report.Client

	tracker trackerRef
	sampler *framesource.Sampler

	// mu guards ctrl and the dialogue settings it was built from.
	mu          sync.Mutex
	ctrl        *dialogue.Controller
	ctrlCfg     config.DialogueConfig
	dialogueCfg config.DialogueConfig

	listener   net.Listener
	server     *http.Server
	serverOnce sync.Once

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSummary sets the report summary the dialogue walks through.
func WithSummary(s string) Option {
	return func(a *App) { a.summary = s }
}

// WithTransport injects a dialogue transport instead of the WebSocket one.
func WithTransport(t dialogue.Transport) Option {
	return func(a *App) { a.transport = t }
}

// WithDetector sets the expression detector the sampler polls. Without one
// the tracker keeps its initial emotion.
func WithDetector(d framesource.Detector) Option {
	return func(a *App) { a.detector = d }
}

// WithReportClient registers the report backend as a readiness dependency.
func WithReportClient(c *report.Client) Option {
	return func(a *App) { a.reports = c }
}

// WithInput sets the command source. Default: os.Stdin.
func WithInput(r io.Reader) Option {
	return func(a *App) { a.in = r }
}

// WithOutput sets where dialogue text is rendered. Default: os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.console = NewConsole(w) }
}

// WithLogger sets the logger and the level variable that config reloads
// adjust.
func WithLogger(l *slog.Logger, level *slog.LevelVar) Option {
	return func(a *App) {
		a.logger = l
		a.level = level
	}
}

// WithMetrics injects the metrics instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithTracerProvider sets where session spans are recorded. Default: the
// global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(a *App) { a.tracerProvider = tp }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg. It binds the diagnostics listener when
// cfg.Server.ListenAddr is set, so an unusable address fails here rather than
// in Run.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:         cfg,
		in:          os.Stdin,
		dialogueCfg: cfg.Dialogue,
	}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
		a.level.Set(cfg.Server.LogLevel.Level())
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.console == nil {
		a.console = NewConsole(os.Stdout)
	}
	a.spans = observe.NewSessionSpans(a.tracerProvider)
	if a.transport == nil {
		a.transport = wstransport.New(wstransport.WithReadLimit(cfg.Dialogue.ReadLimitBytes))
	}

	// ── 1. Tracker ───────────────────────────────────────────────────────
	a.tracker.store(a.newTracker(cfg.Tracker))

	// ── 2. Frame sampler ─────────────────────────────────────────────────
	if a.detector != nil {
		a.sampler = framesource.NewSampler(a.detector, &a.tracker,
			framesource.WithInterval(cfg.Frames.Interval),
			framesource.WithDropRecorder(a.metrics),
			framesource.WithLogger(a.logger),
		)
		if err := a.sampler.Validate(); err != nil {
			return nil, fmt.Errorf("app: init sampler: %w", err)
		}
	}

	// ── 3. Dialogue controller ───────────────────────────────────────────
	a.ctrl = a.newController(cfg.Dialogue)
	a.ctrlCfg = cfg.Dialogue

	// ── 4. Diagnostics server ────────────────────────────────────────────
	if cfg.Server.ListenAddr != "" {
		if err := a.initServer(cfg.Server.ListenAddr); err != nil {
			return nil, fmt.Errorf("app: init diagnostics server: %w", err)
		}
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) newTracker(tc config.TrackerConfig) *emotion.Tracker {
	return emotion.NewTracker(
		emotion.WithWindow(tc.Window),
		emotion.WithThreshold(tc.Threshold),
		emotion.WithInitial(tc.Initial),
		emotion.WithMinSamples(tc.MinSamples),
		emotion.WithRecorder(a.metrics),
		emotion.WithOnChange(func(old, new emotion.Label) {
			a.logger.Info("stable emotion changed", "from", old, "to", new)
		}),
	)
}

func (a *App) newController(dc config.DialogueConfig) *dialogue.Controller {
	return dialogue.New(a.transport,
		dialogue.WithURL(dc.URL),
		dialogue.WithSettleDelay(dc.SettleDelay),
		dialogue.WithOnUpdate(a.onUpdate),
		dialogue.WithRecorder(a.metrics),
		dialogue.WithLogger(a.logger),
	)
}

func (a *App) onUpdate(snap dialogue.Snapshot) {
	a.spans.Update(snap)
	a.console.Update(snap)
}

// initServer binds the diagnostics listener and assembles its routes.
func (a *App) initServer(addr string) error {
	checkers := []health.Checker{health.Dialogue(a.Snapshot)}
	if a.sampler != nil {
		checkers = append(checkers, health.Freshness("frames", a.sampler.LatestAt, frameMaxAge))
	}
	if a.reports != nil {
		checkers = append(checkers, health.Probe("report", a.reports.Health))
	}

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	a.listener = ln
	a.server = &http.Server{
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the dialogue and blocks until parent is cancelled or the user
// quits. Closing the command input does not stop the app.
func (a *App) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	if a.sampler != nil {
		g.Go(func() error {
			if err := a.sampler.Run(gctx); err != nil {
				return fmt.Errorf("app: frame sampler: %w", err)
			}
			a.logger.Info("frame source exhausted", "errors", a.sampler.Errors())
			return nil
		})
	}

	if a.server != nil {
		g.Go(func() error {
			a.logger.Info("diagnostics server listening", "addr", a.listener.Addr().String())
			if err := a.server.Serve(a.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: diagnostics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return a.stopServer(shutdownCtx)
		})
	}

	a.startDialogue(gctx)

	g.Go(func() error {
		if a.commandLoop(gctx) {
			cancel()
		}
		return nil
	})

	a.logger.Info("app running", "url", a.cfg.Dialogue.URL, "frames", a.sampler != nil)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return parent.Err()
}

// startDialogue supersedes any current session with a new one carrying the
// summary and the current stable emotion. A pending dialogue config change is
// applied by replacing the controller first.
func (a *App) startDialogue(ctx context.Context) {
	stable := a.tracker.load().Stable()
	ctx, span := observe.StartSpan(ctx, "dialogue.start")
	defer span.End()
	span.SetAttributes(attribute.String("emotion", string(stable)))

	a.mu.Lock()
	if a.dialogueCfg != a.ctrlCfg {
		old := a.ctrl
		a.ctrl = a.newController(a.dialogueCfg)
		a.ctrlCfg = a.dialogueCfg
		go func() { _ = old.Close() }()
	}
	ctrl := a.ctrl
	url := a.ctrlCfg.URL
	a.mu.Unlock()

	observe.LoggerFrom(ctx, a.logger).Info("starting dialogue", "url", url, "emotion", stable)
	ctrl.Start(dialogue.SessionContext{Summary: a.summary, Emotion: stable})
}

// Snapshot returns the state of the current dialogue session.
func (a *App) Snapshot() dialogue.Snapshot {
	return a.controller().Snapshot()
}

// Stable returns the tracker's current stable emotion.
func (a *App) Stable() emotion.Label {
	return a.tracker.load().Stable()
}

// DiagnosticsAddr returns the bound diagnostics address, or "" when the
// server is disabled.
func (a *App) DiagnosticsAddr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

func (a *App) controller() *dialogue.Controller {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ctrl
}

// ─── Config reload ───────────────────────────────────────────────────────────

// Reload applies the changes d describes between old and new. It is a
// [config.ReloadFunc]. Log level changes apply immediately, tracker changes
// replace the tracker (discarding its window) and dialogue changes apply at
// the next restart.
func (a *App) Reload(old, new *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged {
		a.level.Set(d.NewLogLevel.Level())
		a.logger.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.TrackerChanged {
		a.tracker.store(a.newTracker(new.Tracker))
		a.logger.Info("tracker reconfigured",
			"window", new.Tracker.Window,
			"threshold", new.Tracker.Threshold,
			"min_samples", new.Tracker.MinSamples,
		)
	}
	if d.DialogueChanged {
		a.mu.Lock()
		a.dialogueCfg = new.Dialogue
		a.mu.Unlock()
		a.logger.Info("dialogue settings changed, applied on next restart", "url", new.Dialogue.URL)
	}
	for _, field := range d.RestartRequired {
		a.logger.Warn("config field changed but requires a restart", "field", field)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown closes the dialogue session and the diagnostics server. It is
// safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down")
		if err := a.controller().Close(); err != nil {
			a.logger.Warn("dialogue close error", "err", err)
		}
		a.spans.Close()
		if a.server != nil {
			if err := a.stopServer(ctx); err != nil {
				shutdownErr = fmt.Errorf("app: shutdown diagnostics server: %w", err)
			}
		}
		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}

// stopServer shuts the diagnostics server down once. The listener is closed
// explicitly in case Serve never ran.
func (a *App) stopServer(ctx context.Context) error {
	var err error
	a.serverOnce.Do(func() {
		err = a.server.Shutdown(ctx)
		_ = a.listener.Close()
	})
	return err
}

// ─── Tracker swap ────────────────────────────────────────────────────────────

// trackerRef lets the sampler keep one observer while config reloads replace
// the tracker behind it.
type trackerRef struct {
	p atomic.Pointer[emotion.Tracker]
}

var _ framesource.Observer = (*trackerRef)(nil)

func (r *trackerRef) load() *emotion.Tracker   { return r.p.Load() }
func (r *trackerRef) store(t *emotion.Tracker) { r.p.Store(t) }

// Observe forwards v to the current tracker.
func (r *trackerRef) Observe(v emotion.ScoreVector) emotion.Label {
	return r.p.Load().Observe(v)
}
