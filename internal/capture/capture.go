// Package capture drives client-side audio acquisition: it owns the
// audio source, runs the Idle → Initializing → Capturing → Stopped
// state machine, and emits sequence-numbered PCM16LE chunks at a
// steady cadence.
package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sevaarogya/dictation-gateway/internal/audio"
	"github.com/sevaarogya/dictation-gateway/internal/observability"
)

// State is the recorder's lifecycle phase.
type State int

const (
	StateIdle State = iota
	StateInitializing
	StateCapturing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateCapturing:
		return "capturing"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Source abstracts the microphone device. Implementations deliver raw
// mono samples at their native rate; device failures are local and
// non-retryable.
type Source interface {
	// Start prepares the device.
	Start() error

	// SampleRate reports the device's native rate in Hz.
	SampleRate() int

	// ReadSamples blocks until n samples are available (or the source
	// is exhausted, returning a short count with io.EOF semantics via
	// error).
	ReadSamples(n int) ([]int16, error)

	// Stop releases the device.
	Stop() error
}

// Chunk is one emitted unit of encoded audio.
type Chunk struct {
	Seq      int64
	PCM      []byte // PCM16LE at the negotiated rate
	Duration time.Duration
}

// Config controls chunking and the negotiated output rate.
type Config struct {
	SampleRate    int           // negotiated output rate (8k/16k/48k)
	ChunkDuration time.Duration // clamped into [200ms, 500ms]
}

// Recorder pulls from the source on a fixed cadence, encodes, and
// hands each chunk to the emit callback. Emission must not block the
// tick: the callback is expected to be fire-and-forget.
type Recorder struct {
	source Source
	cfg    Config
	emit   func(Chunk)
	logger zerolog.Logger

	mu    sync.Mutex
	state State
	seq   int64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRecorder creates a recorder in the Idle state.
func NewRecorder(source Source, cfg Config, emit func(Chunk)) (*Recorder, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.ChunkDuration == 0 {
		cfg.ChunkDuration = audio.DefaultChunkDuration
	}
	if cfg.ChunkDuration < audio.MinChunkDuration {
		cfg.ChunkDuration = audio.MinChunkDuration
	}
	if cfg.ChunkDuration > audio.MaxChunkDuration {
		cfg.ChunkDuration = audio.MaxChunkDuration
	}

	return &Recorder{
		source: source,
		cfg:    cfg,
		emit:   emit,
		logger: observability.GetLogger().With().Str("component", "capture").Logger(),
		state:  StateIdle,
	}, nil
}

// State returns the current lifecycle state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start opens the source and begins the capture loop. Source failures
// leave the recorder Stopped; they are not retried.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateIdle {
		r.mu.Unlock()
		return fmt.Errorf("cannot start capture from state %s", r.state)
	}
	r.state = StateInitializing
	r.mu.Unlock()

	if err := r.source.Start(); err != nil {
		r.mu.Lock()
		r.state = StateStopped
		r.mu.Unlock()
		return fmt.Errorf("failed to open audio source: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.done = make(chan struct{})
	r.state = StateCapturing
	r.mu.Unlock()

	r.logger.Info().
		Int("sample_rate", r.cfg.SampleRate).
		Dur("chunk_duration", r.cfg.ChunkDuration).
		Msg("Capture started")

	go r.captureLoop(loopCtx)
	return nil
}

func (r *Recorder) captureLoop(ctx context.Context) {
	defer close(r.done)
	defer func() {
		if err := r.source.Stop(); err != nil {
			r.logger.Warn().Err(err).Msg("Error stopping audio source")
		}
		r.mu.Lock()
		r.state = StateStopped
		r.mu.Unlock()
	}()

	sourceRate := r.source.SampleRate()
	samplesPerTick := audio.SamplesPerChunk(r.cfg.ChunkDuration, sourceRate)

	ticker := time.NewTicker(r.cfg.ChunkDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			samples, err := r.source.ReadSamples(samplesPerTick)
			if err != nil {
				r.logger.Error().Err(err).Msg("Audio source read failed")
				return
			}
			if len(samples) == 0 {
				return
			}

			if sourceRate != r.cfg.SampleRate {
				samples = audio.Resample(samples, sourceRate, r.cfg.SampleRate)
			}

			pcm := audio.EncodePCM16(samples)
			r.mu.Lock()
			r.seq++
			seq := r.seq
			r.mu.Unlock()

			r.emit(Chunk{
				Seq:      seq,
				PCM:      pcm,
				Duration: audio.Duration(len(pcm), r.cfg.SampleRate),
			})
		}
	}
}

// Stop ends capture and waits for the loop to drain.
func (r *Recorder) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}
