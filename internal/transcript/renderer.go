package transcript

import (
	"fmt"
	"io"
	"strings"
)

// Renderer writes the live transcript to a terminal-style writer.
// Finals print plainly; the single outstanding partial is rewritten in
// place on its own line so interim text visibly firms up into finals.
type Renderer struct {
	w           io.Writer
	acc         *Accumulation
	partialLen  int
	highlighted bool
}

// NewRenderer creates a renderer over w. When highlight is true the
// outstanding partial is dimmed with ANSI codes.
func NewRenderer(w io.Writer, highlight bool) *Renderer {
	return &Renderer{w: w, acc: New(), highlighted: highlight}
}

// Accumulation exposes the underlying transcript state.
func (r *Renderer) Accumulation() *Accumulation {
	return r.acc
}

// Render applies one result and updates the display.
func (r *Renderer) Render(segmentID, text string, isPartial bool) {
	r.acc.Add(segmentID, text, isPartial)

	r.clearPartialLine()
	if isPartial {
		line := text
		if r.highlighted {
			line = "\x1b[2m" + text + "\x1b[0m"
		}
		fmt.Fprint(r.w, line)
		r.partialLen = len(text)
		return
	}
	fmt.Fprintln(r.w, text)
	r.partialLen = 0
}

func (r *Renderer) clearPartialLine() {
	if r.partialLen == 0 {
		return
	}
	fmt.Fprint(r.w, "\r"+strings.Repeat(" ", r.partialLen)+"\r")
	r.partialLen = 0
}
