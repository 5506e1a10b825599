// Package framesource samples an expression detector at a fixed rate and
// feeds the resulting score vectors into an emotion tracker.
//
// The detector itself (camera capture, face model) lives outside this module;
// [Detector] is the boundary. [NDJSONDetector] replays recorded vectors so the
// rest of the pipeline can run without a camera.
package framesource

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/lucidcare/pkg/emotion"
)

// ErrStopped is returned by [Sampler.Run] when it is called on a sampler
// that has already run.
var ErrStopped = errors.New("framesource: sampler already ran")

// Detector produces one expression score vector per call. A nil or empty
// vector means no face was found. io.EOF ends sampling.
type Detector interface {
	Detect(ctx context.Context) (emotion.ScoreVector, error)
}

// DetectorFunc adapts a function to [Detector].
type DetectorFunc func(ctx context.Context) (emotion.ScoreVector, error)

// Detect calls f.
func (f DetectorFunc) Detect(ctx context.Context) (emotion.ScoreVector, error) { return f(ctx) }

// Observer consumes score vectors. *emotion.Tracker satisfies it.
type Observer interface {
	Observe(v emotion.ScoreVector) emotion.Label
}

// DropRecorder counts samples that never reached the observer.
type DropRecorder interface {
	RecordFrameDropped(ctx context.Context, reason string)
}

// Drop reasons passed to [DropRecorder].
const (
	DropDetectorError = "detector_error"
	DropNoFace        = "no_face"
)

// Option configures a [Sampler].
type Option func(*Sampler)

// WithInterval sets the sampling period. Default: [emotion.DefaultSampleInterval].
func WithInterval(d time.Duration) Option {
	return func(s *Sampler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithDropRecorder attaches a counter for dropped samples.
func WithDropRecorder(r DropRecorder) Option {
	return func(s *Sampler) { s.drops = r }
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Sampler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source used for [Sampler.Latest].
func WithClock(now func() time.Time) Option {
	return func(s *Sampler) {
		if now != nil {
			s.now = now
		}
	}
}

// Sampler polls a [Detector] on a ticker and pushes every non-empty vector to
// an [Observer].
type Sampler struct {
	detector Detector
	observer Observer
	interval time.Duration
	drops    DropRecorder
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	ran      bool
	latest   emotion.ScoreVector
	latestAt time.Time
	errs     int
}

// NewSampler returns a Sampler that feeds o from d.
func NewSampler(d Detector, o Observer, opts ...Option) *Sampler {
	s := &Sampler{
		detector: d,
		observer: o,
		interval: emotion.DefaultSampleInterval,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run samples until ctx is cancelled or the detector returns io.EOF. Both end
// the run without error. Other detector errors are logged and counted, and
// sampling continues. Run may only be called once.
func (s *Sampler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.ran {
		s.mu.Unlock()
		return ErrStopped
	}
	s.ran = true
	s.mu.Unlock()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Debug("frame sampler started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if done := s.sample(ctx); done {
			s.logger.Info("frame source exhausted")
			return nil
		}
	}
}

// sample runs one detector call. It reports whether the source is exhausted.
func (s *Sampler) sample(ctx context.Context) bool {
	v, err := s.detector.Detect(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		s.mu.Lock()
		s.errs++
		s.mu.Unlock()
		s.logger.Warn("detector failed", "err", err)
		s.drop(ctx, DropDetectorError)
		return false
	}
	if len(v) == 0 {
		s.drop(ctx, DropNoFace)
		return false
	}

	s.mu.Lock()
	s.latest = v
	s.latestAt = s.now()
	s.mu.Unlock()

	s.observer.Observe(v)
	return false
}

func (s *Sampler) drop(ctx context.Context, reason string) {
	if s.drops != nil {
		s.drops.RecordFrameDropped(ctx, reason)
	}
}

// Latest returns a copy of the most recent non-empty vector and when it was
// sampled. The time is zero before the first sample.
func (s *Sampler) Latest() (emotion.ScoreVector, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return nil, time.Time{}
	}
	cp := make(emotion.ScoreVector, len(s.latest))
	for k, v := range s.latest {
		cp[k] = v
	}
	return cp, s.latestAt
}

// LatestAt returns when the most recent non-empty vector was sampled.
func (s *Sampler) LatestAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestAt
}

// Errors returns the number of detector failures so far.
func (s *Sampler) Errors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errs
}

// Validate reports whether the sampler has what it needs to run.
func (s *Sampler) Validate() error {
	var errs []error
	if s.detector == nil {
		errs = append(errs, errors.New("framesource: detector is nil"))
	}
	if s.observer == nil {
		errs = append(errs, errors.New("framesource: observer is nil"))
	}
	return errors.Join(errs...)
}
