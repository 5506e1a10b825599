package dialogue

import (
	"strings"
	"time"

	"github.com/MrWong99/lucidcare/pkg/emotion"
)

// State is the lifecycle phase of a session.
type State int

const (
	// StateIdle means no session has been started.
	StateIdle State = iota

	// StateConnecting means a channel is being opened.
	StateConnecting

	// StateActive means the channel is open and sections are streaming.
	StateActive

	// StateComplete means the server finished the last section. Terminal.
	StateComplete

	// StateErrored means the dial failed or the server reported an error. Terminal.
	StateErrored
)

// String returns the lower-case name of s.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateComplete:
		return "complete"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can happen for this session.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateErrored
}

// SessionContext is the context carried by every outbound command.
type SessionContext struct {
	// Summary is the analysed report text the dialogue walks through.
	Summary string

	// Emotion is the stable emotion of the user when the command was sent.
	Emotion emotion.Label
}

// Snapshot is a consistent copy of a session's observable state.
type Snapshot struct {
	// ID identifies the session. Empty before the first Start.
	ID string

	State State

	// Transcript holds finalised sections in arrival order.
	Transcript []string

	// Pending is the in-flight, not yet finalised section text.
	Pending string

	// Progress is the marker of the most recently finished section.
	Progress string

	// Context is the summary and emotion most recently sent.
	Context SessionContext

	// Active reports whether the channel is open and usable.
	Active bool

	// Err is the transport failure that deactivated the session, if any.
	Err error

	// Seq increases with every snapshot a Controller produces. A larger Seq
	// is always the newer state, across sessions of the same Controller.
	Seq uint64
}

// Complete reports whether the server finished the dialogue.
func (s Snapshot) Complete() bool { return s.State == StateComplete }

// Messages returns the finalised transcript followed by the pending section
// when it is non-empty. The returned slice is a fresh copy.
func (s Snapshot) Messages() []string {
	out := make([]string, 0, len(s.Transcript)+1)
	out = append(out, s.Transcript...)
	if s.Pending != "" {
		out = append(out, s.Pending)
	}
	return out
}

// session is the mutable state behind a Controller. It is only touched with
// the controller lock held.
type session struct {
	id         string
	state      State
	transcript []string
	pending    strings.Builder
	progress   string
	ctx        SessionContext
	active     bool
	err        error

	// sectionStart is when the first chunk of the pending section arrived.
	sectionStart time.Time
}

// appendText adds a chunk to the pending section.
func (s *session) appendText(text string, now time.Time) {
	if text == "" {
		return
	}
	if s.pending.Len() == 0 {
		s.sectionStart = now
	}
	s.pending.WriteString(text)
}

// finalize moves the trimmed pending text into the transcript. It reports
// whether an entry was appended and how long the section took to stream.
func (s *session) finalize(now time.Time) (bool, time.Duration) {
	text := strings.TrimSpace(s.pending.String())
	started := s.sectionStart
	s.clearPending()
	if text == "" {
		return false, 0
	}
	s.transcript = append(s.transcript, text)
	return true, now.Sub(started)
}

func (s *session) clearPending() {
	s.pending.Reset()
	s.sectionStart = time.Time{}
}

func (s *session) snapshot() Snapshot {
	transcript := make([]string, len(s.transcript))
	copy(transcript, s.transcript)
	return Snapshot{
		ID:         s.id,
		State:      s.state,
		Transcript: transcript,
		Pending:    s.pending.String(),
		Progress:   s.progress,
		Context:    s.ctx,
		Active:     s.active,
		Err:        s.err,
	}
}
