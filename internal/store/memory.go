package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// StaticIdentity authenticates any non-empty token and maps it to a
// fixed user id, or honors an explicit token→user table. Stands in for
// the external identity provider in local runs and tests.
type StaticIdentity struct {
	Users map[string]string
}

// Authenticate implements Identity.
func (s *StaticIdentity) Authenticate(_ context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrUnauthorized
	}
	if s.Users != nil {
		user, ok := s.Users[token]
		if !ok {
			return "", ErrUnauthorized
		}
		return user, nil
	}
	return token, nil
}

// FileObjectStore writes archived audio under a base directory,
// mapping the object key to a relative path.
type FileObjectStore struct {
	BaseDir string
}

// Put writes data to BaseDir/key, creating parent directories.
func (s *FileObjectStore) Put(_ context.Context, key string, data []byte) error {
	if strings.Contains(key, "..") {
		return fmt.Errorf("invalid object key: %s", key)
	}
	path := filepath.Join(s.BaseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}
	return nil
}

// MemoryObjectStore keeps objects in a map. FailPuts makes the first N
// puts fail so caller-side retry can be exercised.
type MemoryObjectStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	FailPuts int
}

// NewMemoryObjectStore creates an empty store.
func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{objects: make(map[string][]byte)}
}

// Put implements ObjectStore.
func (s *MemoryObjectStore) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailPuts > 0 {
		s.FailPuts--
		return fmt.Errorf("object store unavailable")
	}
	s.objects[key] = append([]byte(nil), data...)
	return nil
}

// Get returns a stored object.
func (s *MemoryObjectStore) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	return data, ok
}

// Keys lists stored object keys.
func (s *MemoryObjectStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	return keys
}

// MemoryTranscriptStore is the in-memory TranscriptStore fake.
type MemoryTranscriptStore struct {
	mu      sync.Mutex
	records map[string]*TranscriptRecord
	nextID  int
}

// NewMemoryTranscriptStore creates an empty store.
func NewMemoryTranscriptStore() *MemoryTranscriptStore {
	return &MemoryTranscriptStore{records: make(map[string]*TranscriptRecord)}
}

// Create implements TranscriptStore.
func (s *MemoryTranscriptStore) Create(_ context.Context, sessionID, userID string, _ int, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := fmt.Sprintf("tr-%04d", s.nextID)
	s.records[sessionID] = &TranscriptRecord{
		ID:        id,
		SessionID: sessionID,
		UserID:    userID,
		Status:    StatusInProgress,
	}
	return id, nil
}

// AppendText implements TranscriptStore.
func (s *MemoryTranscriptStore) AppendText(_ context.Context, sessionID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[sessionID]
	if !ok {
		return fmt.Errorf("no transcription record for session %s", sessionID)
	}
	if rec.Text == "" {
		rec.Text = text
	} else {
		rec.Text += " " + text
	}
	return nil
}

// SetStatus implements TranscriptStore.
func (s *MemoryTranscriptStore) SetStatus(_ context.Context, sessionID, status, audioKey string, duration float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[sessionID]
	if !ok {
		return fmt.Errorf("no transcription record for session %s", sessionID)
	}
	rec.Status = status
	rec.AudioKey = audioKey
	rec.Duration = duration
	return nil
}

// Record returns the record for a session, if any.
func (s *MemoryTranscriptStore) Record(sessionID string) (*TranscriptRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[sessionID]
	if !ok {
		return nil, false
	}
	cp := *rec
	return &cp, true
}
