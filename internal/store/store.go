// Package store holds the narrow collaborator contracts the gateway
// depends on: identity verification, archival object storage, and the
// relational transcript record. Session logic only ever sees these
// interfaces.
package store

import (
	"context"
	"errors"
)

// ErrUnauthorized is returned by Identity for invalid tokens.
var ErrUnauthorized = errors.New("unauthorized")

// Identity validates a session token and yields the owning user id.
type Identity interface {
	Authenticate(ctx context.Context, token string) (userID string, err error)
}

// ObjectStore archives finalized audio. Put is retried by the caller
// (two retries) on failure.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
}

// TranscriptRecord mirrors the relational row for one dictation.
type TranscriptRecord struct {
	ID        string
	SessionID string
	UserID    string
	AudioKey  string
	Status    string
	Text      string
	Duration  float64
}

// Transcript statuses.
const (
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// TranscriptStore persists transcript records and their status
// transitions.
type TranscriptStore interface {
	// Create inserts an IN_PROGRESS record and returns its id.
	Create(ctx context.Context, sessionID, userID string, sampleRate int, quality string) (string, error)

	// AppendText appends one finalized segment to the running text.
	AppendText(ctx context.Context, sessionID, text string) error

	// SetStatus records the terminal state along with the audio key
	// and total duration in seconds.
	SetStatus(ctx context.Context, sessionID, status, audioKey string, duration float64) error
}
