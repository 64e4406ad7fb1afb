package recorder

import (
	"strings"
	"sync"
)

// transcriptAccumulator keeps the append-only committed transcript plus the
// single in-flight interim segment. The observed transcript is always
// committed text followed by the pending text; only an explicit Clear
// shrinks it.
type transcriptAccumulator struct {
	mu       sync.Mutex
	segments []string
	pending  string
	sep      string
}

func newTranscriptAccumulator(sep string) *transcriptAccumulator {
	return &transcriptAccumulator{sep: sep}
}

// Commit appends a confirmed segment, clears the pending hypothesis and
// returns the committed transcript.
func (a *transcriptAccumulator) Commit(text string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if text != "" {
		a.segments = append(a.segments, text)
	}
	a.pending = ""
	return strings.Join(a.segments, a.sep)
}

// SetPending replaces the interim hypothesis wholesale and returns the full
// observed transcript.
func (a *transcriptAccumulator) SetPending(text string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = text
	return a.textLocked()
}

// Text returns the full observed transcript.
func (a *transcriptAccumulator) Text() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.textLocked()
}

// Committed returns only the confirmed transcript.
func (a *transcriptAccumulator) Committed() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return strings.Join(a.segments, a.sep)
}

// Clear atomically resets both the committed segments and the pending
// hypothesis.
func (a *transcriptAccumulator) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.segments = nil
	a.pending = ""
}

func (a *transcriptAccumulator) textLocked() string {
	committed := strings.Join(a.segments, a.sep)
	switch {
	case a.pending == "":
		return committed
	case committed == "":
		return a.pending
	default:
		return committed + a.sep + a.pending
	}
}
