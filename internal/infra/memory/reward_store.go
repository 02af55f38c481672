package memory

import (
	"context"
	"sync"

	"attempt-ledger-service/internal/domain"
)

// RewardStore is an in-memory implementation of app.RewardRepository.
// A single mutex makes the grant insert and XP credit one atomic step.
type RewardStore struct {
	mu     sync.Mutex
	grants map[domain.GrantKey]domain.RewardGrant
	xp     map[string]int64
}

func NewRewardStore() *RewardStore {
	return &RewardStore{
		grants: make(map[domain.GrantKey]domain.RewardGrant),
		xp:     make(map[string]int64),
	}
}

func (s *RewardStore) FindGrant(_ context.Context, key domain.GrantKey) (domain.RewardGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	grant, ok := s.grants[key]
	if !ok {
		return domain.RewardGrant{}, domain.ErrGrantNotFound
	}
	return grant, nil
}

func (s *RewardStore) ApplyGrant(_ context.Context, grant domain.RewardGrant) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := grant.Key()
	if _, ok := s.grants[key]; ok {
		return false, nil
	}
	s.grants[key] = grant
	s.xp[grant.UserID] += grant.Amount
	return true, nil
}

func (s *RewardStore) XPTotal(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.xp[userID], nil
}

// GrantCount returns the number of recorded grants.
func (s *RewardStore) GrantCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.grants)
}
