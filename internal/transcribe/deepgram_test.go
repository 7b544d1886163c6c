package transcribe

import (
	"testing"

	"github.com/rs/zerolog"
)

func newBareStream() *deepgramStream {
	return &deepgramStream{
		cfg:     StreamConfig{SessionID: "s1"},
		results: make(chan Result, 4),
		logger:  zerolog.Nop(),
	}
}

func TestEmitAfterTeardownIsDropped(t *testing.T) {
	s := newBareStream()

	s.emit(Result{SessionID: "s1", Text: "before"})
	s.closeResults()

	// Late SDK callbacks can still fire after teardown; they must be
	// swallowed, not panic on the closed channel.
	s.emit(Result{SessionID: "s1", Text: "after"})

	var got []Result
	for r := range s.results {
		got = append(got, r)
	}
	if len(got) != 1 || got[0].Text != "before" {
		t.Errorf("results = %+v, want only the pre-teardown result", got)
	}
}

func TestCloseResultsIdempotent(t *testing.T) {
	s := newBareStream()
	s.closeResults()
	s.closeResults()

	if _, ok := <-s.results; ok {
		t.Error("results channel should be closed and empty")
	}
}
