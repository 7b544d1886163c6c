package capture

import (
	"fmt"
	"io"
	"math"
	"sync"
)

// ToneSource synthesizes a sine tone, standing in for a microphone in
// local runs and tests.
type ToneSource struct {
	Rate       int
	Frequency  float64
	MaxSamples int // 0 means unbounded

	mu      sync.Mutex
	started bool
	phase   float64
	emitted int
}

// Start implements Source.
func (t *ToneSource) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return fmt.Errorf("tone source already started")
	}
	if t.Rate <= 0 {
		return fmt.Errorf("tone source needs a positive sample rate")
	}
	if t.Frequency == 0 {
		t.Frequency = 440
	}
	t.started = true
	return nil
}

// SampleRate implements Source.
func (t *ToneSource) SampleRate() int { return t.Rate }

// ReadSamples implements Source.
func (t *ToneSource) ReadSamples(n int) ([]int16, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return nil, fmt.Errorf("tone source not started")
	}
	if t.MaxSamples > 0 {
		remaining := t.MaxSamples - t.emitted
		if remaining <= 0 {
			return nil, io.EOF
		}
		if n > remaining {
			n = remaining
		}
	}

	samples := make([]int16, n)
	step := 2 * math.Pi * t.Frequency / float64(t.Rate)
	for i := range samples {
		samples[i] = int16(0.3 * 32767 * math.Sin(t.phase))
		t.phase += step
	}
	t.emitted += n
	return samples, nil
}

// Stop implements Source.
func (t *ToneSource) Stop() error {
	t.mu.Lock()
	t.started = false
	t.mu.Unlock()
	return nil
}

// ReaderSource reads mono PCM16LE from an io.Reader (e.g. a raw
// recording on disk) at a declared rate.
type ReaderSource struct {
	R    io.Reader
	Rate int
}

// Start implements Source.
func (r *ReaderSource) Start() error {
	if r.R == nil {
		return fmt.Errorf("reader source has no reader")
	}
	if r.Rate <= 0 {
		return fmt.Errorf("reader source needs a positive sample rate")
	}
	return nil
}

// SampleRate implements Source.
func (r *ReaderSource) SampleRate() int { return r.Rate }

// ReadSamples implements Source. A short read at end of input returns
// the remaining samples; the next call returns io.EOF.
func (r *ReaderSource) ReadSamples(n int) ([]int16, error) {
	buf := make([]byte, n*2)
	read, err := io.ReadFull(r.R, buf)
	if err == io.ErrUnexpectedEOF {
		err = nil
		read -= read % 2
	}
	if err != nil {
		return nil, err
	}
	if read == 0 {
		return nil, io.EOF
	}

	samples := make([]int16, read/2)
	for i := range samples {
		samples[i] = int16(buf[i*2]) | int16(buf[i*2+1])<<8
	}
	return samples, nil
}

// Stop implements Source.
func (r *ReaderSource) Stop() error { return nil }
