// Package emotion turns a noisy stream of per-frame facial-expression scores
// into a single debounced "stable" emotion label.
//
// An external detector produces one [ScoreVector] per sampling tick (roughly
// every 100 ms). The [Tracker] reduces each vector to its dominant label,
// keeps a trailing time window of those labels, and only switches the stable
// label when one label holds a clear majority of the window. Transient
// expressions (blinks, talking) are damped while sustained changes still
// surface within the window length.
package emotion

import (
	"math"
	"slices"
	"time"
)

// Label names an emotion, e.g. "happy" or "neutral". The set is open: any
// label a detector emits is accepted.
type Label string

// Well-known labels produced by common expression detectors.
const (
	Neutral   Label = "neutral"
	Happy     Label = "happy"
	Sad       Label = "sad"
	Angry     Label = "angry"
	Surprised Label = "surprised"
	Disgusted Label = "disgusted"
	Fearful   Label = "fearful"
)

// KnownLabels lists the well-known labels in a stable order.
var KnownLabels = []Label{Neutral, Happy, Sad, Angry, Surprised, Disgusted, Fearful}

// Behavioural constants of the stability rule.
const (
	// DefaultWindow is the length of the trailing observation window.
	DefaultWindow = 10 * time.Second

	// DefaultThreshold is the share of the window the majority label must
	// strictly exceed before the stable label changes.
	DefaultThreshold = 0.70

	// DefaultSampleInterval is the nominal rate at which detectors are sampled.
	DefaultSampleInterval = 100 * time.Millisecond
)

// ScoreVector maps emotion labels to probability-like scores in [0,1].
// Scores need not sum to 1. NaN scores are ignored.
type ScoreVector map[Label]float64

// Dominant returns the highest-scoring label in v and true, or "" and false
// when v holds no usable score.
//
// Ties are broken deterministically: labels are visited in lexical order and
// the first one reaching the maximum wins.
func (v ScoreVector) Dominant() (Label, bool) {
	labels := make([]Label, 0, len(v))
	for l, s := range v {
		if math.IsNaN(s) {
			continue
		}
		labels = append(labels, l)
	}
	if len(labels) == 0 {
		return "", false
	}
	slices.Sort(labels)

	best := labels[0]
	for _, l := range labels[1:] {
		if v[l] > v[best] {
			best = l
		}
	}
	return best, true
}

// HistoryEntry is one dominant-label observation. Entries are never modified
// after they are appended to a window.
type HistoryEntry struct {
	Emotion    Label
	ObservedAt time.Time
}

// Stats summarises the current window.
type Stats struct {
	// Samples is the number of entries in the window.
	Samples int

	// Majority is the most frequent label in the window, or "" when empty.
	Majority Label

	// Ratio is the share of the window held by Majority, in [0,1].
	Ratio float64
}
