package framesource_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/lucidcare/internal/framesource"
	"github.com/MrWong99/lucidcare/pkg/emotion"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// scripted returns the given results in order, then io.EOF.
type scripted struct {
	mu    sync.Mutex
	steps []step
}

type step struct {
	v   emotion.ScoreVector
	err error
}

func (s *scripted) Detect(context.Context) (emotion.ScoreVector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.steps) == 0 {
		return nil, io.EOF
	}
	st := s.steps[0]
	s.steps = s.steps[1:]
	return st.v, st.err
}

type observer struct {
	mu   sync.Mutex
	seen []emotion.ScoreVector
}

func (o *observer) Observe(v emotion.ScoreVector) emotion.Label {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, v)
	l, _ := v.Dominant()
	return l
}

func (o *observer) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.seen)
}

type drops struct {
	mu      sync.Mutex
	reasons []string
}

func (d *drops) RecordFrameDropped(_ context.Context, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reasons = append(d.reasons, reason)
}

func runSampler(t *testing.T, s *framesource.Sampler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ctx.Err() != nil {
		t.Fatal("sampler did not stop at end of source")
	}
}

// ── Sampler ───────────────────────────────────────────────────────────────────

func TestSampler_FeedsObserverUntilEOF(t *testing.T) {
	t.Parallel()

	det := &scripted{steps: []step{
		{v: emotion.ScoreVector{emotion.Happy: 0.9}},
		{v: emotion.ScoreVector{}},
		{err: errors.New("camera busy")},
		{v: emotion.ScoreVector{emotion.Sad: 0.8, emotion.Happy: 0.1}},
	}}
	obs := &observer{}
	rec := &drops{}
	s := framesource.NewSampler(det, obs,
		framesource.WithInterval(time.Millisecond),
		framesource.WithDropRecorder(rec),
	)

	runSampler(t, s)

	if got := obs.count(); got != 2 {
		t.Errorf("observed %d vectors, want 2", got)
	}
	if got := s.Errors(); got != 1 {
		t.Errorf("Errors() = %d, want 1", got)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	want := []string{framesource.DropNoFace, framesource.DropDetectorError}
	if len(rec.reasons) != len(want) || rec.reasons[0] != want[0] || rec.reasons[1] != want[1] {
		t.Errorf("drop reasons = %v, want %v", rec.reasons, want)
	}

	v, at := s.Latest()
	if at.IsZero() {
		t.Fatal("Latest time is zero after samples")
	}
	if l, _ := v.Dominant(); l != emotion.Sad {
		t.Errorf("Latest dominant = %q, want sad", l)
	}
}

func TestSampler_LatestIsCopy(t *testing.T) {
	t.Parallel()

	det := &scripted{steps: []step{{v: emotion.ScoreVector{emotion.Angry: 1}}}}
	s := framesource.NewSampler(det, &observer{}, framesource.WithInterval(time.Millisecond))
	runSampler(t, s)

	v, _ := s.Latest()
	v[emotion.Angry] = 0
	if again, _ := s.Latest(); again[emotion.Angry] != 1 {
		t.Error("Latest shares storage with the sampler")
	}
}

func TestSampler_LatestBeforeFirstSample(t *testing.T) {
	t.Parallel()

	s := framesource.NewSampler(&scripted{}, &observer{})
	v, at := s.Latest()
	if v != nil || !at.IsZero() {
		t.Errorf("Latest() = %v, %v; want nil, zero", v, at)
	}
	if !s.LatestAt().IsZero() {
		t.Error("LatestAt non-zero before first sample")
	}
}

func TestSampler_StopsOnCancel(t *testing.T) {
	t.Parallel()

	det := framesource.DetectorFunc(func(context.Context) (emotion.ScoreVector, error) {
		return emotion.ScoreVector{emotion.Neutral: 1}, nil
	})
	obs := &observer{}
	s := framesource.NewSampler(det, obs, framesource.WithInterval(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for obs.count() < 3 {
		if time.Now().After(deadline) {
			t.Fatal("sampler never observed")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v after cancel, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSampler_RunOnce(t *testing.T) {
	t.Parallel()

	s := framesource.NewSampler(&scripted{}, &observer{}, framesource.WithInterval(time.Millisecond))
	runSampler(t, s)
	if err := s.Run(context.Background()); !errors.Is(err, framesource.ErrStopped) {
		t.Errorf("second Run = %v, want ErrStopped", err)
	}
}

func TestSampler_Validate(t *testing.T) {
	t.Parallel()

	if err := framesource.NewSampler(nil, nil).Validate(); err == nil {
		t.Error("expected error for nil detector and observer")
	}
	if err := framesource.NewSampler(&scripted{}, &observer{}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSampler_DrivesTracker(t *testing.T) {
	t.Parallel()

	lines := strings.Repeat(`{"happy":0.9,"neutral":0.1}`+"\n", 20)
	tr := emotion.NewTracker()
	s := framesource.NewSampler(framesource.NewNDJSONDetector(strings.NewReader(lines)), tr,
		framesource.WithInterval(time.Millisecond))

	runSampler(t, s)

	if got := tr.Stable(); got != emotion.Happy {
		t.Errorf("Stable() = %q, want happy", got)
	}
}

// ── NDJSONDetector ────────────────────────────────────────────────────────────

func TestNDJSONDetector(t *testing.T) {
	t.Parallel()

	input := `# recorded 2026-03-01
{"happy":0.9,"sad":0.1}

{}
not json
{"angry":0.7}
`
	d := framesource.NewNDJSONDetector(strings.NewReader(input))
	ctx := context.Background()

	v, err := d.Detect(ctx)
	if err != nil || v[emotion.Happy] != 0.9 {
		t.Fatalf("line 2: v=%v err=%v", v, err)
	}
	v, err = d.Detect(ctx)
	if err != nil || len(v) != 0 {
		t.Fatalf("empty object: v=%v err=%v", v, err)
	}
	if _, err = d.Detect(ctx); err == nil || !strings.Contains(err.Error(), "line 5") {
		t.Fatalf("malformed line: err=%v, want line 5 error", err)
	}
	v, err = d.Detect(ctx)
	if err != nil || v[emotion.Angry] != 0.7 {
		t.Fatalf("line 6: v=%v err=%v", v, err)
	}
	if _, err = d.Detect(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("end of input: err=%v, want io.EOF", err)
	}
}

func TestNDJSONDetector_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := framesource.NewNDJSONDetector(strings.NewReader(`{"happy":1}`))
	if _, err := d.Detect(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
