package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/lucidcare/pkg/dialogue"
)

// Dialogue returns a checker that passes while the session returned by snap
// is connecting, active with an open channel, or complete. An idle controller
// fails, as does a session that errored or lost its channel.
func Dialogue(snap func() dialogue.Snapshot) Checker {
	return Checker{
		Name: "dialogue",
		Check: func(_ context.Context) error {
			s := snap()
			switch s.State {
			case dialogue.StateComplete, dialogue.StateConnecting:
				return nil
			case dialogue.StateActive:
				if s.Active {
					return nil
				}
				if s.Err != nil {
					return fmt.Errorf("channel lost: %w", s.Err)
				}
				return errors.New("channel closed")
			case dialogue.StateErrored:
				if s.Err != nil {
					return fmt.Errorf("session errored: %w", s.Err)
				}
				return errors.New("session errored")
			default:
				return errors.New("no session started")
			}
		},
	}
}

// Freshness returns a checker named name that fails when the time returned by
// last is zero or older than maxAge.
func Freshness(name string, last func() time.Time, maxAge time.Duration) Checker {
	return freshness(name, last, maxAge, time.Now)
}

func freshness(name string, last func() time.Time, maxAge time.Duration, now func() time.Time) Checker {
	return Checker{
		Name: name,
		Check: func(_ context.Context) error {
			t := last()
			if t.IsZero() {
				return errors.New("no data yet")
			}
			if age := now().Sub(t); age > maxAge {
				return fmt.Errorf("stale: last update %s ago", age.Round(time.Millisecond))
			}
			return nil
		},
	}
}

// Probe wraps a context-aware probe, such as a remote /health call, as a
// checker.
func Probe(name string, fn func(ctx context.Context) error) Checker {
	return Checker{Name: name, Check: fn}
}
