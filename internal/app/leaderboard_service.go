package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"attempt-ledger-service/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ProfileLookup returns read-only user summaries. Unknown users yield domain.ErrProfileNotFound.
type ProfileLookup interface {
	GetProfile(ctx context.Context, userID string) (domain.UserSummary, error)
}

const profileLookupConcurrency = 8

// LeaderboardService ranks the attempts of an evaluation event.
type LeaderboardService struct {
	attempts AttemptRepository
	profiles ProfileLookup
	hub      *LeaderboardHub
	log      *zap.Logger

	// refreshMu orders compute-and-publish per event so an older snapshot never lands after a newer one.
	refreshMu sync.Mutex
	refresh   map[string]*eventLock
	now      func() time.Time
}

func NewLeaderboardService(attempts AttemptRepository, profiles ProfileLookup, log *zap.Logger) *LeaderboardService {
	if log == nil {
		log = zap.NewNop()
	}
	return &LeaderboardService{
		attempts: attempts,
		profiles: profiles,
		hub:      NewLeaderboardHub(),
		log:      log,
		refresh:  make(map[string]*eventLock),
		now:      time.Now,
	}
}

// Leaderboard returns every attempt of the event joined with its user's summary.
// Completed attempts come first by completion recency, in-progress ones after by start recency.
// An unknown event yields an empty leaderboard.
func (s *LeaderboardService) Leaderboard(ctx context.Context, eventID string) (domain.Leaderboard, error) {
	filter, err := domain.EventFilter(eventID)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	records, err := s.attempts.List(ctx, filter)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	domain.SortNewestFirst(records)

	users, err := s.summaries(ctx, records)
	if err != nil {
		return domain.Leaderboard{}, err
	}

	entries := make([]domain.LeaderboardEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, domain.LeaderboardEntry{
			Attempt:              rec,
			User:                 users[rec.UserID],
			CompletionPercentage: rec.CompletionPercentage(),
		})
	}
	return domain.Leaderboard{
		EventID:   filter.EventID,
		Entries:   entries,
		UpdatedAt: s.now().UTC(),
	}, nil
}

// Subscribe returns a channel of leaderboard snapshots for an event, starting with the current one.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *LeaderboardService) Subscribe(ctx context.Context, eventID string) (<-chan domain.Leaderboard, func(), error) {
	filter, err := domain.EventFilter(eventID)
	if err != nil {
		return nil, nil, err
	}
	unlock := s.lockEvent(filter.EventID)
	defer unlock()

	initial, err := s.Leaderboard(ctx, filter.EventID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := s.hub.subscribe(filter.EventID, initial)
	return ch, cancel, nil
}

// EventChanged recomputes the event leaderboard and pushes it to live subscribers.
func (s *LeaderboardService) EventChanged(ctx context.Context, eventID string) {
	if !s.hub.hasSubscribers(eventID) {
		return
	}
	unlock := s.lockEvent(eventID)
	defer unlock()

	lb, err := s.Leaderboard(ctx, eventID)
	if err != nil {
		s.log.Warn("leaderboard refresh failed", zap.String("event_id", eventID), zap.Error(err))
		return
	}
	s.hub.publish(eventID, lb)
}

type eventLock struct {
	mu   sync.Mutex
	refs int
}

// lockEvent serializes refreshes of one event. Locks are dropped once no caller holds or waits on them.
func (s *LeaderboardService) lockEvent(eventID string) func() {
	s.refreshMu.Lock()
	l, ok := s.refresh[eventID]
	if !ok {
		l = &eventLock{}
		s.refresh[eventID] = l
	}
	l.refs++
	s.refreshMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.refreshMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.refresh, eventID)
		}
		s.refreshMu.Unlock()
	}
}

func (s *LeaderboardService) summaries(ctx context.Context, records []domain.AttemptRecord) (map[string]domain.UserSummary, error) {
	users := make(map[string]domain.UserSummary, len(records))
	for _, rec := range records {
		users[rec.UserID] = domain.UserSummary{UserID: rec.UserID}
	}
	if s.profiles == nil {
		return users, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(profileLookupConcurrency)
	for userID := range users {
		g.Go(func() error {
			summary, err := s.profiles.GetProfile(gctx, userID)
			if errors.Is(err, domain.ErrProfileNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			summary.UserID = userID
			mu.Lock()
			users[userID] = summary
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return users, nil
}
