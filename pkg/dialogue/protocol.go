package dialogue

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/MrWong99/lucidcare/pkg/emotion"
)

// LegacyEndMarker terminates a section in the untagged raw-text protocol.
const LegacyEndMarker = "[END]"

// errorPrefix is prepended to server-reported errors surfaced in the transcript.
const errorPrefix = "⚠️ Error: "

// Action is the verb of an outbound control command.
type Action string

const (
	// ActionInit opens a dialogue with the report summary and current emotion.
	ActionInit Action = "init"

	// ActionNext requests the next section.
	ActionNext Action = "next"
)

// Command is an outbound control frame:
// {"action":"init"|"next","summary":"...","emotion":"..."}.
type Command struct {
	Action  Action        `json:"action"`
	Summary string        `json:"summary"`
	Emotion emotion.Label `json:"emotion"`
}

// Encode marshals the command into a JSON text frame.
func (c Command) Encode() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("dialogue: encode %s command: %w", c.Action, err)
	}
	return data, nil
}

// FrameKind tags an inbound frame.
type FrameKind int

const (
	// FrameUnknown is a well-formed JSON object that matches no known shape.
	FrameUnknown FrameKind = iota

	// FrameMessage carries a chunk of section text.
	FrameMessage

	// FrameSectionEnd closes the in-flight section.
	FrameSectionEnd

	// FrameComplete closes the last section and ends the dialogue.
	FrameComplete

	// FrameError reports a server-side failure.
	FrameError

	// FrameLegacy is untagged raw text, possibly containing [LegacyEndMarker].
	FrameLegacy
)

// String returns the lower-case wire-ish name of k, used in logs and metrics.
func (k FrameKind) String() string {
	switch k {
	case FrameMessage:
		return "message"
	case FrameSectionEnd:
		return "end"
	case FrameComplete:
		return "complete"
	case FrameError:
		return "error"
	case FrameLegacy:
		return "legacy"
	default:
		return "unknown"
	}
}

// Frame is a decoded inbound frame.
type Frame struct {
	Kind FrameKind

	// Text is the chunk of a FrameMessage, or the raw payload of a FrameLegacy.
	Text string

	// Progress is the opaque marker of a FrameSectionEnd (e.g. "3/7").
	Progress string

	// Section is the optional title of the section a FrameSectionEnd closes.
	Section string

	// Reason is the server-supplied description of a FrameError.
	Reason string
}

// wireFrame is the tagged JSON schema:
//
//	{"type":"message","text":"..."}
//	{"type":"end","progress":"2/5","section":"Lipid Panel"}
//	{"type":"complete"}
//	{"error":"..."}
type wireFrame struct {
	Type     string          `json:"type"`
	Text     string          `json:"text"`
	Progress string          `json:"progress"`
	Section  string          `json:"section"`
	Error    json.RawMessage `json:"error"`
}

// ParseFrame decodes one inbound frame. It never fails: anything that is not
// a JSON object in the tagged schema is returned as a FrameLegacy.
func ParseFrame(data []byte) Frame {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Frame{Kind: FrameLegacy, Text: string(data)}
	}

	var w wireFrame
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return Frame{Kind: FrameLegacy, Text: string(data)}
	}

	switch w.Type {
	case "message":
		return Frame{Kind: FrameMessage, Text: w.Text}
	case "end":
		return Frame{Kind: FrameSectionEnd, Progress: w.Progress, Section: w.Section}
	case "complete":
		return Frame{Kind: FrameComplete}
	}

	if reason := errorReason(w.Error); reason != "" {
		return Frame{Kind: FrameError, Reason: reason}
	}
	return Frame{Kind: FrameUnknown}
}

// errorReason extracts a human-readable reason from the "error" member.
// Strings are unquoted; any other non-null value is reported verbatim.
func errorReason(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	switch string(raw) {
	case "false", `""`, "0":
		return ""
	}
	return string(raw)
}
