package transcribe

import (
	"context"
	"fmt"
	"sync"
)

// FakeBridge is an in-process provider used by tests and local runs.
// Each forwarded chunk produces a partial result; Close emits one
// final per utterance so partial→final replacement can be exercised
// without the real provider.
type FakeBridge struct {
	mu      sync.Mutex
	streams []*FakeStream

	// OpenErr, when set, makes Open fail (provider unavailable).
	OpenErr error

	// ForwardErr, when set, makes every Forward fail (throttled).
	ForwardErr error

	// Script, when non-nil, overrides the default echo behavior:
	// called per forwarded chunk with its index, returning results to
	// emit.
	Script func(cfg StreamConfig, chunkIndex int) []Result
}

// NewFakeBridge creates an empty fake.
func NewFakeBridge() *FakeBridge {
	return &FakeBridge{}
}

// Open records and returns a new fake stream.
func (b *FakeBridge) Open(_ context.Context, cfg StreamConfig) (Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.OpenErr != nil {
		return nil, b.OpenErr
	}
	s := &FakeStream{
		bridge:  b,
		cfg:     cfg,
		results: make(chan Result, 100),
	}
	b.streams = append(b.streams, s)
	return s, nil
}

// Streams returns every stream opened so far.
func (b *FakeBridge) Streams() []*FakeStream {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*FakeStream(nil), b.streams...)
}

// FakeStream records forwarded audio and emits scripted results.
type FakeStream struct {
	bridge  *FakeBridge
	cfg     StreamConfig
	results chan Result

	mu     sync.Mutex
	chunks [][]byte
	closed bool
}

// Config returns the stream's open-time configuration.
func (s *FakeStream) Config() StreamConfig {
	return s.cfg
}

// Forward records the chunk and emits a partial result for it.
func (s *FakeStream) Forward(pcm []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("provider stream is closed")
	}
	if err := s.bridge.ForwardErr; err != nil {
		s.mu.Unlock()
		s.emit(Result{SessionID: s.cfg.SessionID, Err: err})
		return err
	}
	cp := append([]byte(nil), pcm...)
	s.chunks = append(s.chunks, cp)
	idx := len(s.chunks) - 1
	s.mu.Unlock()

	if s.bridge.Script != nil {
		for _, r := range s.bridge.Script(s.cfg, idx) {
			s.emit(r)
		}
		return nil
	}

	s.emit(Result{
		SessionID:  s.cfg.SessionID,
		SegmentID:  fmt.Sprintf("%s_seg0", s.cfg.SessionID),
		Text:       fmt.Sprintf("partial after chunk %d", idx),
		IsPartial:  true,
		Confidence: 0.5,
	})
	return nil
}

func (s *FakeStream) emit(r Result) {
	select {
	case s.results <- r:
	default:
	}
}

// Chunks returns every forwarded payload in arrival order.
func (s *FakeStream) Chunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.chunks))
	copy(out, s.chunks)
	return out
}

// Closed reports whether Close has been called.
func (s *FakeStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close flushes one final result covering the forwarded audio.
func (s *FakeStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	n := len(s.chunks)
	s.mu.Unlock()

	if n > 0 && s.bridge.Script == nil {
		s.emit(Result{
			SessionID:  s.cfg.SessionID,
			SegmentID:  fmt.Sprintf("%s_seg0", s.cfg.SessionID),
			Text:       fmt.Sprintf("final transcript of %d chunks", n),
			IsPartial:  false,
			Confidence: 0.9,
		})
	}
	close(s.results)
	return nil
}

// Results implements Stream.
func (s *FakeStream) Results() <-chan Result {
	return s.results
}
