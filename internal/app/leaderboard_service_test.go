package app_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"attempt-ledger-service/internal/app"
	"attempt-ledger-service/internal/auth"
	"attempt-ledger-service/internal/domain"
	"attempt-ledger-service/internal/infra/memory"
)

func TestLeaderboardOrdersCompletedBeforeInProgress(t *testing.T) {
	store := memory.NewAttemptStore()
	clock := &testClock{t: time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)}
	attempts := app.NewAttemptServiceWithClock(store, nil, nil, clock.now)
	boards := app.NewLeaderboardService(store, memory.NewProfileDirectory(map[string]domain.UserSummary{
		"u1": {UserID: "u1", DisplayName: "Alice"},
		"u2": {UserID: "u2", DisplayName: "Bob", AvatarRef: "avatars/bob.png"},
	}), nil)

	scope := domain.Scope{SubjectKind: domain.SubjectQuiz, SubjectID: "q1", EventID: "ev1"}
	alice := auth.WithUser(context.Background(), "u1")
	bob := auth.WithUser(context.Background(), "u2")
	carol := auth.WithUser(context.Background(), "u3")

	a, _ := attempts.Submit(alice, app.SubmitAttempt{Scope: scope, TotalItems: 2})
	c, _ := attempts.Submit(carol, app.SubmitAttempt{Scope: scope, TotalItems: 2})
	clock.advance(time.Minute) // T1
	if _, err := attempts.Complete(alice, app.CompleteAttempt{AttemptID: a.ID, CompletedItems: 2, Passed: true}); err != nil {
		t.Fatalf("complete A: %v", err)
	}
	clock.advance(time.Minute) // T2
	b, _ := attempts.Submit(bob, app.SubmitAttempt{Scope: scope, TotalItems: 2})
	clock.advance(time.Minute) // T3
	if _, err := attempts.Complete(carol, app.CompleteAttempt{AttemptID: c.ID, CompletedItems: 1}); err != nil {
		t.Fatalf("complete C: %v", err)
	}
	// A standalone attempt never shows up on the event board.
	_, _ = attempts.Submit(bob, app.SubmitAttempt{Scope: domain.Scope{SubjectKind: domain.SubjectQuiz, SubjectID: "q1"}})

	lb, err := boards.Leaderboard(context.Background(), "ev1")
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(lb.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(lb.Entries))
	}
	want := []string{c.ID, a.ID, b.ID}
	for i, entry := range lb.Entries {
		if entry.Attempt.ID != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], entry.Attempt.ID)
		}
	}
	if lb.Entries[1].User.DisplayName != "Alice" || lb.Entries[2].User.AvatarRef != "avatars/bob.png" {
		t.Fatalf("expected joined profiles, got %+v", lb.Entries)
	}
	if lb.Entries[0].User.UserID != "u3" || lb.Entries[0].User.DisplayName != "" {
		t.Fatalf("expected bare summary for unknown profile, got %+v", lb.Entries[0].User)
	}
	if lb.Entries[0].CompletionPercentage != 0.5 {
		t.Fatalf("expected 50%% completion, got %v", lb.Entries[0].CompletionPercentage)
	}
}

func TestLeaderboardUnknownEventIsEmpty(t *testing.T) {
	boards := app.NewLeaderboardService(memory.NewAttemptStore(), nil, nil)
	lb, err := boards.Leaderboard(context.Background(), "ev-missing")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(lb.Entries) != 0 {
		t.Fatalf("expected empty leaderboard, got %d entries", len(lb.Entries))
	}
	if _, err := boards.Leaderboard(context.Background(), ""); !errors.Is(err, domain.ErrInvalidScope) {
		t.Fatalf("expected ErrInvalidScope, got %v", err)
	}
}

func TestLeaderboardSurfacesProfileFailures(t *testing.T) {
	store := memory.NewAttemptStore()
	_ = store.Insert(context.Background(), domain.AttemptRecord{ID: "a1", SubjectKind: domain.SubjectGame, SubjectID: "g1", UserID: "u1", EventID: "ev1"})
	boards := app.NewLeaderboardService(store, failingProfiles{}, nil)

	if _, err := boards.Leaderboard(context.Background(), "ev1"); !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Fatalf("expected profile failure to surface, got %v", err)
	}
}

func TestSubscribeReceivesUpdates(t *testing.T) {
	store := memory.NewAttemptStore()
	boards := app.NewLeaderboardService(store, nil, nil)
	attempts := app.NewAttemptService(store, boards, nil)
	ctx := auth.WithUser(context.Background(), "u1")

	ch, cancel, err := boards.Subscribe(context.Background(), "ev1")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer cancel()

	initial := <-ch
	if len(initial.Entries) != 0 {
		t.Fatalf("expected empty initial snapshot, got %+v", initial.Entries)
	}

	if _, err := attempts.Submit(ctx, app.SubmitAttempt{Scope: domain.Scope{SubjectKind: domain.SubjectGame, SubjectID: "g1", EventID: "ev1"}}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	select {
	case update := <-ch:
		if len(update.Entries) != 1 || update.Entries[0].Attempt.UserID != "u1" {
			t.Fatalf("expected one entry for u1, got %+v", update.Entries)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected leaderboard update")
	}
}

func TestSubscribeCancelClosesChannel(t *testing.T) {
	boards := app.NewLeaderboardService(memory.NewAttemptStore(), nil, nil)
	ch, cancel, err := boards.Subscribe(context.Background(), "ev1")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	<-ch
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel after cancel")
	}
	// No subscribers left: refresh is a no-op.
	boards.EventChanged(context.Background(), "ev1")
}

func TestConcurrentRefreshesNeverPublishStaleSnapshot(t *testing.T) {
	ctx := context.Background()
	store := memory.NewAttemptStore()
	gated := &gatedAttempts{AttemptStore: store, entered: make(chan struct{}), release: make(chan struct{})}
	boards := app.NewLeaderboardService(gated, nil, nil)

	updates, cancel, err := boards.Subscribe(ctx, "ev1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()
	<-updates

	// The first refresh reads the empty event and stalls before publishing.
	gated.armed.Store(true)
	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		boards.EventChanged(ctx, "ev1")
	}()
	<-gated.entered

	rec := domain.AttemptRecord{
		ID:          "a1",
		SubjectKind: domain.SubjectGame,
		SubjectID:   "g1",
		UserID:      "u1",
		EventID:     "ev1",
		StartedAt:   time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC),
		TotalItems:  2,
	}
	if err := store.Insert(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}
	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		boards.EventChanged(ctx, "ev1")
	}()
	time.Sleep(20 * time.Millisecond)
	close(gated.release)
	<-firstDone
	<-secondDone

	var last domain.Leaderboard
	received := 0
drain:
	for {
		select {
		case lb := <-updates:
			last = lb
			received++
		default:
			break drain
		}
	}
	if received == 0 {
		t.Fatalf("expected refreshed snapshots")
	}
	if len(last.Entries) != 1 || last.Entries[0].Attempt.ID != "a1" {
		t.Fatalf("expected latest snapshot to hold a1, got %+v", last.Entries)
	}
}

// gatedAttempts blocks the first armed List call after it has read the store.
type gatedAttempts struct {
	*memory.AttemptStore
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedAttempts) List(ctx context.Context, filter domain.ScopeFilter) ([]domain.AttemptRecord, error) {
	records, err := g.AttemptStore.List(ctx, filter)
	if g.armed.CompareAndSwap(true, false) {
		close(g.entered)
		<-g.release
	}
	return records, err
}

type failingProfiles struct{}

func (failingProfiles) GetProfile(context.Context, string) (domain.UserSummary, error) {
	return domain.UserSummary{}, domain.ErrStorageUnavailable
}
