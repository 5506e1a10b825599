package app

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/lucidcare/pkg/dialogue"
	"github.com/MrWong99/lucidcare/pkg/emotion"
)

func TestConsole_PrintsEachSectionOnce(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	c := NewConsole(&buf)

	c.Update(dialogue.Snapshot{ID: "a", State: dialogue.StateConnecting})
	c.Update(dialogue.Snapshot{ID: "a", State: dialogue.StateActive, Active: true})
	c.Update(dialogue.Snapshot{ID: "a", State: dialogue.StateActive, Active: true, Pending: "Hel"})
	c.Update(dialogue.Snapshot{ID: "a", State: dialogue.StateActive, Active: true, Transcript: []string{"Hello."}, Progress: "1/2"})
	c.Update(dialogue.Snapshot{ID: "a", State: dialogue.StateActive, Active: true, Transcript: []string{"Hello."}, Progress: "1/2"})
	c.Update(dialogue.Snapshot{ID: "a", State: dialogue.StateComplete, Transcript: []string{"Hello.", "Bye."}, Progress: "2/2"})

	out := buf.String()
	for _, want := range []string{"── session a ──", "[connecting]", "[active]", "[progress] 1/2", "[progress] 2/2", "[complete]"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if n := strings.Count(out, "Hello."); n != 1 {
		t.Errorf("section printed %d times, want 1", n)
	}
	if strings.Contains(out, "Hel\n") {
		t.Error("pending text was printed")
	}
}

func TestConsole_IgnoresRetiredAndLateSnapshots(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	c := NewConsole(&buf)

	c.Update(dialogue.Snapshot{ID: "old", State: dialogue.StateActive, Transcript: []string{"one", "two"}})
	c.Update(dialogue.Snapshot{ID: "old", State: dialogue.StateActive, Transcript: []string{"one"}})
	c.Update(dialogue.Snapshot{ID: "new", State: dialogue.StateConnecting})
	c.Update(dialogue.Snapshot{ID: "old", State: dialogue.StateActive, Transcript: []string{"one", "two", "stale"}})
	c.Update(dialogue.Snapshot{})

	out := buf.String()
	if strings.Contains(out, "stale") {
		t.Errorf("retired session rendered:\n%s", out)
	}
	if n := strings.Count(out, "one\n"); n != 1 {
		t.Errorf("late snapshot re-rendered section (%d times)", n)
	}
	if !strings.Contains(out, "── session new ──") {
		t.Errorf("new session header missing:\n%s", out)
	}
}

func TestConsole_DropsOutOfOrderSnapshots(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	c := NewConsole(&buf)

	c.Update(dialogue.Snapshot{ID: "s", Seq: 1, State: dialogue.StateConnecting})
	c.Update(dialogue.Snapshot{ID: "s", Seq: 3, State: dialogue.StateComplete, Transcript: []string{"Done."}})
	c.Update(dialogue.Snapshot{ID: "s", Seq: 2, State: dialogue.StateActive, Transcript: []string{"Done."}})

	out := buf.String()
	if strings.Contains(out, "[active]") {
		t.Errorf("older snapshot rendered after a newer one:\n%s", out)
	}
	if !strings.HasSuffix(out, "[complete]\n") {
		t.Errorf("final state line missing:\n%s", out)
	}
}

func TestConsole_DisconnectAndStatus(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	c := NewConsole(&buf)

	lost := errors.New("connection reset")
	c.Update(dialogue.Snapshot{ID: "s", State: dialogue.StateActive, Err: lost})
	c.Update(dialogue.Snapshot{ID: "s", State: dialogue.StateActive, Err: lost})
	if n := strings.Count(buf.String(), "[disconnected] connection reset"); n != 1 {
		t.Errorf("disconnect printed %d times, want 1", n)
	}

	buf.Reset()
	c.Status(dialogue.Snapshot{}, emotion.Happy, emotion.Stats{Samples: 4, Majority: emotion.Happy, Ratio: 0.75})
	want := `session=- state=idle active=false sections=0 progress="" emotion=happy window=4 majority=happy ratio=0.75`
	if got := strings.TrimSpace(buf.String()); got != want {
		t.Errorf("status:\n got %s\nwant %s", got, want)
	}
}
