// Package dialog records user/assistant conversations as protocol
// envelopes with hash-chained headers, persisted through a pluggable
// store.
package dialog

import (
	"context"
	"sync"
	"time"

	"github.com/empi-systems/agentcore/coreengine/envelope"
)

// Record is one persisted dialog turn. The envelope carries the full
// message; the remaining fields are denormalized for querying.
type Record struct {
	SessionID  string
	Seq        int
	MessageID  string
	Role       string
	Hash       string
	ParentHash string
	Envelope   *envelope.Envelope
	CreatedAt  time.Time
}

// Store persists dialog records per session, ordered by Seq.
type Store interface {
	// Name identifies the store in metrics.
	Name() string

	// Append persists one record. Seq collisions within a session are
	// an error.
	Append(ctx context.Context, rec *Record) error

	// History returns a session's records in Seq order. A non-positive
	// limit returns everything.
	History(ctx context.Context, sessionID string, limit int) ([]*Record, error)

	// Last returns the newest record of a session, or nil when the
	// session is empty.
	Last(ctx context.Context, sessionID string) (*Record, error)

	// Count returns the number of records in a session.
	Count(ctx context.Context, sessionID string) (int, error)

	// Clear removes all records of a session.
	Clear(ctx context.Context, sessionID string) error

	Close() error
}

// =============================================================================
// MEMORY STORE
// =============================================================================

// MemoryStore keeps dialog records in process memory. Useful for tests
// and for runs that only need the final history envelope.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]*Record
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]*Record)}
}

// Name implements Store.
func (s *MemoryStore) Name() string { return "memory" }

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[rec.SessionID] = append(s.sessions[rec.SessionID], rec)
	return nil
}

// History implements Store.
func (s *MemoryStore) History(ctx context.Context, sessionID string, limit int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.sessions[sessionID]
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	out := make([]*Record, len(records))
	copy(out, records)
	return out, nil
}

// Last implements Store.
func (s *MemoryStore) Last(ctx context.Context, sessionID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.sessions[sessionID]
	if len(records) == 0 {
		return nil, nil
	}
	return records[len(records)-1], nil
}

// Count implements Store.
func (s *MemoryStore) Count(ctx context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions[sessionID]), nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
