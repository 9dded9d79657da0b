package memory

import (
	"context"
	"sort"
	"sync"

	"quiz-session-sync/internal/domain"
)

type attemptKey struct {
	localSessionID string
	userID         string
}

// AttemptStore keeps attempt history keyed by (local session id, user id).
type AttemptStore struct {
	mu       sync.Mutex
	attempts map[attemptKey]domain.AttemptRecord
	calls    int
	// Fail, when set, is consulted before each upsert; a non-nil error rejects it.
	Fail func(domain.AttemptRecord) error
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{attempts: make(map[attemptKey]domain.AttemptRecord)}
}

func (s *AttemptStore) UpsertAttempt(_ context.Context, record domain.AttemptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.Fail != nil {
		if err := s.Fail(record); err != nil {
			return err
		}
	}
	s.attempts[attemptKey{record.LocalSessionID, record.UserID}] = record
	return nil
}

// Attempts returns the stored records ordered by local session id.
func (s *AttemptStore) Attempts() []domain.AttemptRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AttemptRecord, 0, len(s.attempts))
	for _, r := range s.attempts {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocalSessionID < out[j].LocalSessionID })
	return out
}

// Calls counts upsert attempts including rejected ones.
func (s *AttemptStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
