package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"attempt-ledger-service/internal/auth"
	"attempt-ledger-service/internal/domain"
	"attempt-ledger-service/internal/metrics"
	"github.com/google/uuid"
)

// AttemptRepository abstracts durable attempt storage (in-memory, Postgres).
// List returns records ordered by domain.NewestFirst.
type AttemptRepository interface {
	Insert(ctx context.Context, rec domain.AttemptRecord) error
	// Complete loads the attempt, lets apply mutate it and persists the result atomically.
	// Nothing is written when apply returns an error.
	Complete(ctx context.Context, attemptID string, apply func(*domain.AttemptRecord) error) (domain.AttemptRecord, error)
	List(ctx context.Context, filter domain.ScopeFilter) ([]domain.AttemptRecord, error)
	Count(ctx context.Context, filter domain.ScopeFilter) (int, error)
	Exists(ctx context.Context, filter domain.ScopeFilter) (bool, error)
	Last(ctx context.Context, filter domain.ScopeFilter) (*domain.AttemptRecord, error)
}

// EventNotifier is told when an attempt inside an evaluation event changed.
type EventNotifier interface {
	EventChanged(ctx context.Context, eventID string)
}

// SubmitAttempt starts a new attempt for the acting user.
type SubmitAttempt struct {
	Scope      domain.Scope
	StartedAt  time.Time // defaults to now
	TotalItems int
}

// CompleteAttempt finishes an attempt of the acting user.
type CompleteAttempt struct {
	AttemptID      string
	CompletedItems int
	Passed         bool
	Score          *float64
	CompletedAt    time.Time // defaults to now
}

// AttemptService records attempts and answers per-user attempt queries.
type AttemptService struct {
	attempts AttemptRepository
	notifier EventNotifier
	metrics  *metrics.Metrics
	now      func() time.Time
	newID    func() string
}

func NewAttemptService(attempts AttemptRepository, notifier EventNotifier, m *metrics.Metrics) *AttemptService {
	return NewAttemptServiceWithClock(attempts, notifier, m, time.Now)
}

// NewAttemptServiceWithClock allows deterministic timestamps in tests.
func NewAttemptServiceWithClock(attempts AttemptRepository, notifier EventNotifier, m *metrics.Metrics, now func() time.Time) *AttemptService {
	return &AttemptService{
		attempts: attempts,
		notifier: notifier,
		metrics:  m,
		now:      now,
		newID:    func() string { return uuid.NewString() },
	}
}

// Submit records the start of an attempt.
func (s *AttemptService) Submit(ctx context.Context, in SubmitAttempt) (domain.AttemptRecord, error) {
	userID, ok := auth.UserID(ctx)
	if !ok {
		return domain.AttemptRecord{}, domain.ErrUnauthenticated
	}
	filter, err := domain.ResolveScope(in.Scope)
	if err != nil {
		return domain.AttemptRecord{}, err
	}
	if in.TotalItems < 0 {
		return domain.AttemptRecord{}, fmt.Errorf("%w: negative total items", domain.ErrInvalidAttempt)
	}

	startedAt := in.StartedAt
	if startedAt.IsZero() {
		startedAt = s.now()
	}
	rec := domain.AttemptRecord{
		ID:          s.newID(),
		SubjectKind: filter.SubjectKind,
		SubjectID:   filter.SubjectID,
		UserID:      userID,
		EventID:     filter.EventID,
		StartedAt:   normalize(startedAt),
		TotalItems:  in.TotalItems,
	}
	if err := s.attempts.Insert(ctx, rec); err != nil {
		return domain.AttemptRecord{}, err
	}
	s.metrics.AttemptWrite("submit", rec.EventID != "")
	s.notify(ctx, rec.EventID)
	return rec, nil
}

// Complete marks an attempt finished. An attempt completes at most once.
func (s *AttemptService) Complete(ctx context.Context, in CompleteAttempt) (domain.AttemptRecord, error) {
	userID, ok := auth.UserID(ctx)
	if !ok {
		return domain.AttemptRecord{}, domain.ErrUnauthenticated
	}
	attemptID := strings.TrimSpace(in.AttemptID)
	if attemptID == "" {
		return domain.AttemptRecord{}, domain.ErrNotFound
	}

	completedAt := in.CompletedAt
	if completedAt.IsZero() {
		completedAt = s.now()
	}
	completedAt = normalize(completedAt)

	rec, err := s.attempts.Complete(ctx, attemptID, func(rec *domain.AttemptRecord) error {
		// Other users' attempts are reported as missing.
		if rec.UserID != userID {
			return domain.ErrNotFound
		}
		if rec.Completed() {
			return domain.ErrAttemptCompleted
		}
		if in.CompletedItems < 0 || in.CompletedItems > rec.TotalItems {
			return fmt.Errorf("%w: completed items %d outside [0, %d]", domain.ErrInvalidAttempt, in.CompletedItems, rec.TotalItems)
		}
		if completedAt.Before(rec.StartedAt) {
			return fmt.Errorf("%w: completion precedes start", domain.ErrInvalidAttempt)
		}
		rec.CompletedAt = &completedAt
		rec.CompletedItems = in.CompletedItems
		rec.Passed = in.Passed
		rec.Score = in.Score
		return nil
	})
	if err != nil {
		return domain.AttemptRecord{}, err
	}
	s.metrics.AttemptWrite("complete", rec.EventID != "")
	s.notify(ctx, rec.EventID)
	return rec, nil
}

// HasAttempted reports whether the acting user has any attempt in scope.
func (s *AttemptService) HasAttempted(ctx context.Context, scope domain.Scope) (bool, error) {
	filter, err := s.actorFilter(ctx, scope)
	if err != nil {
		return false, err
	}
	return s.attempts.Exists(ctx, filter)
}

// AttemptCount returns the number of the acting user's attempts in scope.
func (s *AttemptService) AttemptCount(ctx context.Context, scope domain.Scope) (int, error) {
	filter, err := s.actorFilter(ctx, scope)
	if err != nil {
		return 0, err
	}
	return s.attempts.Count(ctx, filter)
}

// LastAttempt returns the newest attempt in scope, or nil when there is none.
func (s *AttemptService) LastAttempt(ctx context.Context, scope domain.Scope) (*domain.AttemptRecord, error) {
	filter, err := s.actorFilter(ctx, scope)
	if err != nil {
		return nil, err
	}
	return s.attempts.Last(ctx, filter)
}

// History returns every attempt in scope, newest first.
func (s *AttemptService) History(ctx context.Context, scope domain.Scope) ([]domain.AttemptRecord, error) {
	filter, err := s.actorFilter(ctx, scope)
	if err != nil {
		return nil, err
	}
	return s.attempts.List(ctx, filter)
}

func (s *AttemptService) actorFilter(ctx context.Context, scope domain.Scope) (domain.ScopeFilter, error) {
	userID, ok := auth.UserID(ctx)
	if !ok {
		return domain.ScopeFilter{}, domain.ErrUnauthenticated
	}
	filter, err := domain.ResolveScope(scope)
	if err != nil {
		return domain.ScopeFilter{}, err
	}
	return filter.ForUser(userID), nil
}

func (s *AttemptService) notify(ctx context.Context, eventID string) {
	if s.notifier == nil || eventID == "" {
		return
	}
	s.notifier.EventChanged(ctx, eventID)
}

// normalize drops sub-microsecond precision so timestamps survive a Postgres round trip unchanged.
func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
