package app

import (
	"fmt"
	"io"
	"sync"

	"github.com/MrWong99/lucidcare/pkg/dialogue"
	"github.com/MrWong99/lucidcare/pkg/emotion"
)

// Console renders dialogue progress as plain text. Each finalised section is
// printed once, followed by progress and state changes as they happen.
//
// Update may be called concurrently. Snapshots of a session that has been
// superseded, or older than one already rendered, are ignored.
type Console struct {
	mu  sync.Mutex
	out io.Writer

	id       string
	seq      uint64
	printed  int
	progress string
	state    dialogue.State
	err      error
	retired  map[string]bool
}

// NewConsole returns a Console writing to out.
func NewConsole(out io.Writer) *Console {
	return &Console{
		out:     out,
		state:   dialogue.StateIdle,
		retired: make(map[string]bool),
	}
}

// Update renders whatever changed in snap since the last update.
func (c *Console) Update(snap dialogue.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if snap.ID == "" || c.retired[snap.ID] {
		return
	}
	if snap.ID != c.id {
		if c.id != "" {
			c.retired[c.id] = true
		}
		c.id = snap.ID
		c.seq = 0
		c.printed = 0
		c.progress = ""
		c.state = dialogue.StateIdle
		c.err = nil
		fmt.Fprintf(c.out, "── session %s ──\n", snap.ID)
	}

	if snap.Seq != 0 {
		if snap.Seq <= c.seq {
			return
		}
		c.seq = snap.Seq
	}
	// Transcript entries are append-only, so a shorter transcript is a
	// snapshot that arrived late.
	if len(snap.Transcript) < c.printed {
		return
	}
	for _, section := range snap.Transcript[c.printed:] {
		fmt.Fprintf(c.out, "\n%s\n", section)
	}
	c.printed = len(snap.Transcript)

	if snap.Progress != "" && snap.Progress != c.progress {
		c.progress = snap.Progress
		fmt.Fprintf(c.out, "[progress] %s\n", snap.Progress)
	}
	if snap.State != c.state {
		c.state = snap.State
		fmt.Fprintf(c.out, "[%s]\n", snap.State)
	}
	if snap.Err != nil && c.err == nil {
		c.err = snap.Err
		fmt.Fprintf(c.out, "[disconnected] %v\n", snap.Err)
	}
}

// Status prints a one-line summary of snap and the tracker's current view.
func (c *Console) Status(snap dialogue.Snapshot, stable emotion.Label, stats emotion.Stats) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := snap.ID
	if id == "" {
		id = "-"
	}
	fmt.Fprintf(c.out, "session=%s state=%s active=%t sections=%d progress=%q emotion=%s window=%d majority=%s ratio=%.2f\n",
		id, snap.State, snap.Active, len(snap.Transcript), snap.Progress,
		stable, stats.Samples, stats.Majority, stats.Ratio)
}

// Printf writes a free-form line.
func (c *Console) Printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}
