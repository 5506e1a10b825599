package emotion

import (
	"context"
	"sync"
	"time"
)

// Recorder receives tracker telemetry. Implementations must be safe for
// concurrent use and must not call back into the Tracker.
type Recorder interface {
	RecordObservation(ctx context.Context, dominant Label)
	RecordConsistency(ctx context.Context, ratio float64)
	RecordStableChange(ctx context.Context, from, to Label)
}

// Option configures a [Tracker].
type Option func(*Tracker)

// WithWindow sets the trailing window length. Non-positive values are ignored.
func WithWindow(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.window = d
		}
	}
}

// WithThreshold sets the consistency ratio the majority must strictly exceed.
// Values outside (0,1) are ignored.
func WithThreshold(r float64) Option {
	return func(t *Tracker) {
		if r > 0 && r < 1 {
			t.threshold = r
		}
	}
}

// WithInitial sets the stable label reported before any flip. Default: [Neutral].
func WithInitial(l Label) Option {
	return func(t *Tracker) {
		if l != "" {
			t.initial = l
		}
	}
}

// WithMinSamples requires the window to hold at least n entries before the
// stable label may change. The default of 0 lets a single observation flip
// the label right after construction or [Tracker.Reset].
func WithMinSamples(n int) Option {
	return func(t *Tracker) {
		if n >= 0 {
			t.minSamples = n
		}
	}
}

// WithClock overrides the time source used by [Tracker.Observe].
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithOnChange registers a callback invoked after the stable label changes.
// It runs outside the tracker lock, so it may call [Tracker.Stable].
//
// When Observe is called from several goroutines, callbacks for consecutive
// changes may overlap or arrive out of order. The new argument is the label
// as of that change; [Tracker.Stable] is the current one.
func WithOnChange(fn func(old, new Label)) Option {
	return func(t *Tracker) { t.onChange = fn }
}

// WithRecorder attaches a telemetry sink.
func WithRecorder(r Recorder) Option {
	return func(t *Tracker) { t.recorder = r }
}

// Tracker is a sliding-window majority-vote classifier with hysteresis.
//
// Each observation appends the vector's dominant label to the window, prunes
// entries older than the window length, and switches the stable label only
// when the majority label's share strictly exceeds the threshold. When no
// label dominates, the stable label is left alone.
//
// All methods are safe for concurrent use. The tracker never fails.
type Tracker struct {
	window     time.Duration
	threshold  float64
	initial    Label
	minSamples int
	now        func() time.Time
	onChange   func(old, new Label)
	recorder   Recorder

	mu      sync.Mutex
	history []HistoryEntry
	stable  Label
}

// NewTracker returns a Tracker with a 10 s window, a 0.70 threshold and an
// initial stable label of [Neutral], adjusted by opts.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		window:    DefaultWindow,
		threshold: DefaultThreshold,
		initial:   Neutral,
		now:       time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	t.stable = t.initial
	return t
}

// Observe records v at the tracker's current time and returns the stable
// label, which may be unchanged.
func (t *Tracker) Observe(v ScoreVector) Label {
	return t.ObserveAt(v, t.now())
}

// ObserveAt records v as observed at ts. Callers must supply non-decreasing
// timestamps; the window relies on insertion order matching time order.
func (t *Tracker) ObserveAt(v ScoreVector, ts time.Time) Label {
	dominant, ok := v.Dominant()
	if !ok {
		return t.Stable()
	}

	t.mu.Lock()
	t.history = append(t.history, HistoryEntry{Emotion: dominant, ObservedAt: ts})
	t.prune(ts)
	stats := t.statsLocked()

	old := t.stable
	changed := false
	if stats.Ratio > t.threshold && stats.Majority != t.stable && stats.Samples >= t.minSamples {
		t.stable = stats.Majority
		changed = true
	}
	current := t.stable
	t.mu.Unlock()

	if t.recorder != nil {
		ctx := context.Background()
		t.recorder.RecordObservation(ctx, dominant)
		t.recorder.RecordConsistency(ctx, stats.Ratio)
		if changed {
			t.recorder.RecordStableChange(ctx, old, current)
		}
	}
	if changed && t.onChange != nil {
		t.onChange(old, current)
	}
	return current
}

// prune drops every entry observed at or before now minus the window.
// The history is time ordered, so only a prefix is ever removed.
func (t *Tracker) prune(now time.Time) {
	cutoff := now.Add(-t.window)
	i := 0
	for i < len(t.history) && !t.history[i].ObservedAt.After(cutoff) {
		i++
	}
	if i == 0 {
		return
	}
	// Copy down so the backing array stays bounded by the window.
	n := copy(t.history, t.history[i:])
	clear(t.history[n:])
	t.history = t.history[:n]
}

// statsLocked counts labels in the window. Ties for the majority go to the
// label seen first in the window.
func (t *Tracker) statsLocked() Stats {
	if len(t.history) == 0 {
		return Stats{}
	}
	counts := make(map[Label]int, 8)
	order := make([]Label, 0, 8)
	for _, e := range t.history {
		if counts[e.Emotion] == 0 {
			order = append(order, e.Emotion)
		}
		counts[e.Emotion]++
	}
	majority := order[0]
	for _, l := range order[1:] {
		if counts[l] > counts[majority] {
			majority = l
		}
	}
	return Stats{
		Samples:  len(t.history),
		Majority: majority,
		Ratio:    float64(counts[majority]) / float64(len(t.history)),
	}
}

// Stable returns the current stable label.
func (t *Tracker) Stable() Label {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stable
}

// Window returns a copy of the current window, oldest first.
func (t *Tracker) Window() []HistoryEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]HistoryEntry, len(t.history))
	copy(out, t.history)
	return out
}

// Stats returns the majority label and its share of the current window.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statsLocked()
}

// Reset empties the window and restores the initial stable label.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history = nil
	t.stable = t.initial
}
