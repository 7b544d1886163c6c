// Package transcribe bridges live sessions to the external streaming
// speech-to-text provider. The provider is a black box behind the
// Bridge capability; session logic never touches the SDK directly.
package transcribe

import "context"

// Result is one event surfaced by an open provider stream. Either a
// partial/final recognition result or, when Err is set, a provider
// error the caller maps to wire-level error handling.
type Result struct {
	SessionID  string
	SegmentID  string
	Text       string
	IsPartial  bool
	Confidence float64
	Err        error
}

// StreamConfig describes one provider-side streaming session.
type StreamConfig struct {
	SessionID  string
	SampleRate int
	Language   string
	Model      string
}

// Stream is one open provider session, bound 1:1 to a dictation
// session for the duration of its Active state.
type Stream interface {
	// Forward pushes one PCM16LE chunk into the stream. Audio already
	// sent is never retried on error.
	Forward(pcm []byte) error

	// Results delivers partial/final events and provider errors in the
	// order the provider produced them. Closed after Close drains.
	Results() <-chan Result

	// Close signals end-of-audio and lets the provider flush any
	// remaining results before the channel closes.
	Close() error
}

// Bridge opens provider streams.
type Bridge interface {
	Open(ctx context.Context, cfg StreamConfig) (Stream, error)
}
