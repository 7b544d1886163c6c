package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message type tags carried in every JSON envelope.
const (
	TypeSessionStart = "session_start"
	TypeAudioChunk   = "audio_chunk"
	TypeSessionEnd   = "session_end"

	TypeConnected           = "connected"
	TypeSessionAck          = "session_ack"
	TypeTranscriptionResult = "transcription_result"
	TypeSessionComplete     = "session_complete"
	TypeError               = "error"
	TypeHeartbeat           = "heartbeat"
	TypeServerShutdown      = "server_shutdown"
)

// AudioFrameTag is the first byte of every binary audio frame.
// The remaining bytes are raw PCM16LE samples.
const AudioFrameTag = 0x01

// Quality selects the negotiated sample rate for a session.
type Quality string

const (
	QualityLow    Quality = "low"    // 8 kHz
	QualityMedium Quality = "medium" // 16 kHz
	QualityHigh   Quality = "high"   // 48 kHz
)

// SampleRate maps a quality tier to its PCM sample rate in Hz.
// Unknown tiers fall back to medium (16 kHz), matching session defaults.
func (q Quality) SampleRate() int {
	switch q {
	case QualityLow:
		return 8000
	case QualityHigh:
		return 48000
	default:
		return 16000
	}
}

// Valid reports whether q is one of the three supported tiers.
func (q Quality) Valid() bool {
	return q == QualityLow || q == QualityMedium || q == QualityHigh
}

// Envelope is the decoded form of any JSON text frame on the wire.
// Only the fields relevant to the given Type are populated.
type Envelope struct {
	Type      string  `json:"type"`
	SessionID string  `json:"session_id,omitempty"`
	UserID    string  `json:"user_id,omitempty"`
	Quality   Quality `json:"quality,omitempty"`
	ChunkID   int64   `json:"chunk_id,omitempty"`
	Timestamp float64 `json:"timestamp,omitempty"`
}

// SessionStart is the client's request to begin a dictation session.
type SessionStart struct {
	Type      string  `json:"type"`
	UserID    string  `json:"user_id"`
	SessionID string  `json:"session_id"`
	Quality   Quality `json:"quality"`
	Timestamp float64 `json:"timestamp"`
}

// ChunkEnvelope precedes each binary audio frame and binds it to a
// session and a monotonically increasing chunk sequence number.
type ChunkEnvelope struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	ChunkID   int64  `json:"chunk_id"`
}

// SessionEnd is the client's graceful termination signal.
type SessionEnd struct {
	Type      string  `json:"type"`
	SessionID string  `json:"session_id"`
	Timestamp float64 `json:"timestamp"`
}

// Connected is the server's handshake acknowledgment, sent once per
// connection immediately after the upgrade.
type Connected struct {
	Type         string  `json:"type"`
	ConnectionID string  `json:"connection_id"`
	Timestamp    float64 `json:"timestamp"`
}

// SessionAck acknowledges a session_start.
type SessionAck struct {
	Type      string  `json:"type"`
	SessionID string  `json:"session_id"`
	JobID     string  `json:"job_id"`
	Status    string  `json:"status"`
	Timestamp float64 `json:"timestamp"`
}

// TranscriptionResult carries one partial or final recognition result.
type TranscriptionResult struct {
	Type       string  `json:"type"`
	SessionID  string  `json:"session_id"`
	IsPartial  bool    `json:"is_partial"`
	Text       string  `json:"text"`
	SegmentID  string  `json:"segment_id"`
	Timestamp  float64 `json:"timestamp"`
	Confidence float64 `json:"confidence"`
}

// SessionComplete reports the outcome of a finished session.
type SessionComplete struct {
	Type            string  `json:"type"`
	SessionID       string  `json:"session_id"`
	TranscriptionID string  `json:"transcription_id"`
	AudioKey        string  `json:"audio_key"`
	TotalDuration   float64 `json:"total_duration"`
	WordCount       int     `json:"word_count"`
	Timestamp       float64 `json:"timestamp"`
}

// Heartbeat lets clients detect silent connection failures.
type Heartbeat struct {
	Type      string  `json:"type"`
	Timestamp float64 `json:"timestamp"`
}

// ServerShutdown notifies clients that the gateway is draining.
type ServerShutdown struct {
	Type      string  `json:"type"`
	Message   string  `json:"message"`
	Timestamp float64 `json:"timestamp"`
}

// Now returns the wall clock as a wire timestamp (Unix seconds).
func Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// EncodeAudioFrame prepends the audio type tag to a PCM16LE payload.
func EncodeAudioFrame(pcm []byte) []byte {
	frame := make([]byte, 1+len(pcm))
	frame[0] = AudioFrameTag
	copy(frame[1:], pcm)
	return frame
}

// DecodeAudioFrame validates the type tag and returns the PCM payload.
func DecodeAudioFrame(frame []byte) ([]byte, error) {
	if len(frame) < 2 {
		return nil, fmt.Errorf("audio frame too short: %d bytes", len(frame))
	}
	if frame[0] != AudioFrameTag {
		return nil, fmt.Errorf("invalid audio frame tag 0x%02x", frame[0])
	}
	return frame[1:], nil
}

// ParseEnvelope decodes a text frame into the generic envelope.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse message envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("message envelope missing type")
	}
	return &env, nil
}
