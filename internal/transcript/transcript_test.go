package transcript

import (
	"bytes"
	"strings"
	"testing"
)

func TestPartialThenFinalReplaces(t *testing.T) {
	acc := New()

	acc.Add("seg1", "hello", true)
	acc.Add("seg1", "hello wor", true)
	if got := len(acc.Entries()); got != 1 {
		t.Fatalf("entries after partials = %d, want 1", got)
	}

	newFinal := acc.Add("seg1", "hello world", false)
	if !newFinal {
		t.Error("expected first final to report newFinal")
	}

	entries := acc.Entries()
	if len(entries) != 1 {
		t.Fatalf("entries after final = %d, want 1", len(entries))
	}
	if !entries[0].Final || entries[0].Text != "hello world" {
		t.Errorf("unexpected entry: %+v", entries[0])
	}
}

func TestRepeatedFinalNotDuplicated(t *testing.T) {
	acc := New()
	if !acc.Add("seg1", "first", false) {
		t.Error("first final should be new")
	}
	if acc.Add("seg1", "first corrected", false) {
		t.Error("repeated final should not be new")
	}

	entries := acc.Entries()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].Text != "first corrected" {
		t.Errorf("repeated final should update text, got %q", entries[0].Text)
	}
}

func TestPartialAfterFinalIgnored(t *testing.T) {
	acc := New()
	acc.Add("seg1", "done", false)
	acc.Add("seg1", "stale partial", true)

	if got := len(acc.Entries()); got != 1 {
		t.Errorf("entries = %d, want 1", got)
	}
}

func TestTextAndWordCount(t *testing.T) {
	acc := New()
	acc.Add("seg1", "the patient presents", false)
	acc.Add("seg2", "with acute symptoms", false)
	acc.Add("seg3", "still talking", true) // partial excluded

	if got := acc.Text(); got != "the patient presents with acute symptoms" {
		t.Errorf("Text() = %q", got)
	}
	if got := acc.WordCount(); got != 6 {
		t.Errorf("WordCount() = %d, want 6", got)
	}
	if got := acc.FinalCount(); got != 2 {
		t.Errorf("FinalCount() = %d, want 2", got)
	}
}

func TestRendererFinalizesPartialLine(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, false)

	r.Render("seg1", "hel", true)
	r.Render("seg1", "hello", true)
	r.Render("seg1", "hello world", false)

	out := buf.String()
	if !strings.HasSuffix(out, "hello world\n") {
		t.Errorf("output does not end with final line: %q", out)
	}
	if !strings.Contains(out, "\r") {
		t.Error("expected carriage returns rewriting the partial line")
	}

	entries := r.Accumulation().Entries()
	if len(entries) != 1 || !entries[0].Final {
		t.Errorf("accumulation entries: %+v", entries)
	}
}

func TestRendererHighlightsPartial(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, true)
	r.Render("seg1", "interim", true)

	if !strings.Contains(buf.String(), "\x1b[2m") {
		t.Error("expected ANSI dim sequence around partial")
	}
}
