package memory

import (
	"context"
	"fmt"
	"sync"

	"attempt-ledger-service/internal/domain"
)

// AttemptStore is an in-memory implementation of app.AttemptRepository.
type AttemptStore struct {
	mu       sync.RWMutex
	attempts map[string]domain.AttemptRecord
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{
		attempts: make(map[string]domain.AttemptRecord),
	}
}

func (s *AttemptStore) Insert(_ context.Context, rec domain.AttemptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.attempts[rec.ID]; ok {
		return fmt.Errorf("%w: duplicate attempt id %s", domain.ErrConflictRetryable, rec.ID)
	}
	s.attempts[rec.ID] = rec
	return nil
}

func (s *AttemptStore) Complete(_ context.Context, attemptID string, apply func(*domain.AttemptRecord) error) (domain.AttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.attempts[attemptID]
	if !ok {
		return domain.AttemptRecord{}, domain.ErrNotFound
	}
	if err := apply(&rec); err != nil {
		return domain.AttemptRecord{}, err
	}
	s.attempts[attemptID] = rec
	return rec, nil
}

func (s *AttemptStore) List(_ context.Context, filter domain.ScopeFilter) ([]domain.AttemptRecord, error) {
	return s.matching(filter), nil
}

func (s *AttemptStore) Count(_ context.Context, filter domain.ScopeFilter) (int, error) {
	return len(s.matching(filter)), nil
}

func (s *AttemptStore) Exists(_ context.Context, filter domain.ScopeFilter) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.attempts {
		if filter.Matches(rec) {
			return true, nil
		}
	}
	return false, nil
}

func (s *AttemptStore) Last(_ context.Context, filter domain.ScopeFilter) (*domain.AttemptRecord, error) {
	records := s.matching(filter)
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

func (s *AttemptStore) matching(filter domain.ScopeFilter) []domain.AttemptRecord {
	s.mu.RLock()
	records := make([]domain.AttemptRecord, 0)
	for _, rec := range s.attempts {
		if filter.Matches(rec) {
			records = append(records, rec)
		}
	}
	s.mu.RUnlock()

	domain.SortNewestFirst(records)
	return records
}
