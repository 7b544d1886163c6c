package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sevaarogya/dictation-gateway/internal/audio"
)

var (
	// ErrOverflow is returned when an append would exceed the maximum
	// recording duration. Already-buffered audio stays intact.
	ErrOverflow = errors.New("maximum recording duration reached")

	// ErrFinalized is returned for any use after Finalize or Discard.
	ErrFinalized = errors.New("accumulator already finalized")

	// ErrSequence is returned for duplicate or out-of-order chunk
	// sequence numbers. The gateway dedups first; this is the
	// accumulator's own ordering invariant.
	ErrSequence = errors.New("chunk out of sequence")
)

// Accumulator buffers a session's PCM audio in arrival order up to a
// duration ceiling, then finalizes once into a compact encoded form.
type Accumulator struct {
	mu         sync.Mutex
	chunks     [][]byte
	totalBytes int
	maxBytes   int
	sampleRate int
	lastSeq    int64
	done       bool
}

// NewAccumulator creates a buffer for maxDuration of PCM16 mono audio
// at sampleRate.
func NewAccumulator(sampleRate int, maxDuration time.Duration) *Accumulator {
	return &Accumulator{
		maxBytes:   audio.BytesForDuration(maxDuration, sampleRate),
		sampleRate: sampleRate,
		lastSeq:    -1,
	}
}

// Append adds one chunk. The caller must stop appending and begin
// finalization after the first ErrOverflow.
func (a *Accumulator) Append(seq int64, pcm []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.done {
		return ErrFinalized
	}
	if seq <= a.lastSeq {
		return fmt.Errorf("%w: seq %d after %d", ErrSequence, seq, a.lastSeq)
	}
	if a.totalBytes+len(pcm) > a.maxBytes {
		return fmt.Errorf("%w (%.1fs buffered)", ErrOverflow, a.durationLocked().Seconds())
	}

	a.chunks = append(a.chunks, pcm)
	a.totalBytes += len(pcm)
	a.lastSeq = seq
	return nil
}

// TotalDuration returns the buffered audio duration.
func (a *Accumulator) TotalDuration() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.durationLocked()
}

func (a *Accumulator) durationLocked() time.Duration {
	return audio.Duration(a.totalBytes, a.sampleRate)
}

// TotalBytes returns the raw buffered byte count.
func (a *Accumulator) TotalBytes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalBytes
}

// Finalize irreversibly converts the buffered PCM into fixed-bitrate
// mono IMA ADPCM and releases the raw buffer. One-shot.
func (a *Accumulator) Finalize() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.done {
		return nil, ErrFinalized
	}
	if a.totalBytes == 0 {
		a.done = true
		return nil, fmt.Errorf("cannot finalize empty buffer")
	}

	pcm := make([]byte, 0, a.totalBytes)
	for _, c := range a.chunks {
		pcm = append(pcm, c...)
	}
	a.chunks = nil
	a.totalBytes = len(pcm)
	a.done = true

	samples, err := audio.DecodePCM16(pcm)
	if err != nil {
		return nil, fmt.Errorf("finalize: %w", err)
	}
	encoded, err := audio.EncodeADPCM(samples, a.sampleRate)
	if err != nil {
		return nil, fmt.Errorf("finalize: %w", err)
	}
	return encoded, nil
}

// Discard releases the buffer without producing output. Used on
// abnormal termination before any Finalize call.
func (a *Accumulator) Discard() {
	a.mu.Lock()
	a.chunks = nil
	a.totalBytes = 0
	a.done = true
	a.mu.Unlock()
}

// StorageKeyExt is the extension of finalized audio objects.
const StorageKeyExt = "wav"

// StorageKey builds the archival object key for a finalized recording:
// audio/{user_id}/{YYYYMMDD_HHMMSS}_{uuid}.{ext}.
func StorageKey(userID string, id uuid.UUID, t time.Time) string {
	return fmt.Sprintf("audio/%s/%s_%s.%s",
		userID, t.UTC().Format("20060102_150405"), id.String(), StorageKeyExt)
}
