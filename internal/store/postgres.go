package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresTranscriptStore persists transcript records in PostgreSQL.
type PostgresTranscriptStore struct {
	pool *pgxpool.Pool
}

// NewPostgresTranscriptStore wraps an existing connection pool.
func NewPostgresTranscriptStore(pool *pgxpool.Pool) *PostgresTranscriptStore {
	return &PostgresTranscriptStore{pool: pool}
}

// Create inserts an IN_PROGRESS streaming transcription row.
func (s *PostgresTranscriptStore) Create(ctx context.Context, sessionID, userID string, sampleRate int, quality string) (string, error) {
	id := uuid.New().String()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transcriptions
		   (transcription_id, session_id, user_id, status, is_streaming, sample_rate, quality, transcript_text)
		 VALUES ($1, $2, $3, $4, TRUE, $5, $6, '')`,
		id, sessionID, userID, StatusInProgress, sampleRate, quality)
	if err != nil {
		return "", fmt.Errorf("failed to create transcription record: %w", err)
	}
	return id, nil
}

// AppendText appends one final segment to the running transcript text.
func (s *PostgresTranscriptStore) AppendText(ctx context.Context, sessionID, text string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE transcriptions
		 SET transcript_text = CASE WHEN transcript_text = '' THEN $2
		                            ELSE transcript_text || ' ' || $2 END,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE session_id = $1`,
		sessionID, text)
	if err != nil {
		return fmt.Errorf("failed to append transcript text: %w", err)
	}
	return nil
}

// SetStatus records the terminal status, audio key and duration.
func (s *PostgresTranscriptStore) SetStatus(ctx context.Context, sessionID, status, audioKey string, duration float64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE transcriptions
		 SET status = $2, audio_key = $3, audio_duration_seconds = $4,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE session_id = $1`,
		sessionID, status, audioKey, duration)
	if err != nil {
		return fmt.Errorf("failed to update transcription status: %w", err)
	}
	return nil
}

// Ping verifies database connectivity for readiness checks.
func (s *PostgresTranscriptStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
