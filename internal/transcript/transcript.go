// Package transcript accumulates streaming recognition results into an
// ordered transcript: append-only finals plus at most one outstanding
// partial, keyed by the provider's stable segment id.
package transcript

import (
	"strings"
	"sync"
)

// Entry is one rendered transcript segment.
type Entry struct {
	SegmentID string
	Text      string
	Final     bool
}

// Accumulation holds the running transcript for one session. A final
// result for a segment id replaces every partial seen for that id, so
// each segment renders exactly once.
type Accumulation struct {
	mu       sync.Mutex
	finals   []Entry
	partial  *Entry
	finalIDs map[string]struct{}
}

// New returns an empty accumulation.
func New() *Accumulation {
	return &Accumulation{finalIDs: make(map[string]struct{})}
}

// Add applies one result and reports whether it finalized a segment
// for the first time (so callers persist each final exactly once).
// Partials for an already-finalized segment are ignored; a repeated
// final for the same segment updates its text in place rather than
// appending a duplicate.
func (a *Accumulation) Add(segmentID, text string, isPartial bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if isPartial {
		if _, done := a.finalIDs[segmentID]; done {
			return false
		}
		a.partial = &Entry{SegmentID: segmentID, Text: text}
		return false
	}

	newFinal := false
	if _, done := a.finalIDs[segmentID]; done {
		for i := range a.finals {
			if a.finals[i].SegmentID == segmentID {
				a.finals[i].Text = text
				break
			}
		}
	} else {
		a.finals = append(a.finals, Entry{SegmentID: segmentID, Text: text, Final: true})
		a.finalIDs[segmentID] = struct{}{}
		newFinal = true
	}

	if a.partial != nil && a.partial.SegmentID == segmentID {
		a.partial = nil
	}
	return newFinal
}

// Entries returns the finals in arrival order, followed by the
// outstanding partial if one exists.
func (a *Accumulation) Entries() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Entry, len(a.finals), len(a.finals)+1)
	copy(out, a.finals)
	if a.partial != nil {
		out = append(out, *a.partial)
	}
	return out
}

// Text joins all final segments with single spaces. Partials are
// excluded; only stabilized text is handed to persistence.
func (a *Accumulation) Text() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	parts := make([]string, 0, len(a.finals))
	for _, e := range a.finals {
		if t := strings.TrimSpace(e.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// WordCount counts whitespace-separated words across final segments.
func (a *Accumulation) WordCount() int {
	return len(strings.Fields(a.Text()))
}

// FinalCount returns the number of finalized segments.
func (a *Accumulation) FinalCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.finals)
}
