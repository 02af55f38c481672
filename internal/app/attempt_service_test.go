package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"attempt-ledger-service/internal/app"
	"attempt-ledger-service/internal/auth"
	"attempt-ledger-service/internal/domain"
	"attempt-ledger-service/internal/infra/memory"
)

func TestStandaloneAndEventAttemptsDoNotInterfere(t *testing.T) {
	ctx := auth.WithUser(context.Background(), "u1")
	service, _ := newTestAttemptService()

	standalone := domain.Scope{SubjectKind: domain.SubjectGame, SubjectID: "g1"}
	event := domain.Scope{SubjectKind: domain.SubjectGame, SubjectID: "g1", EventID: "ev1"}

	if _, err := service.Submit(ctx, app.SubmitAttempt{Scope: standalone, TotalItems: 5}); err != nil {
		t.Fatalf("submit standalone: %v", err)
	}
	if n := mustCount(t, service, ctx, standalone); n != 1 {
		t.Fatalf("expected 1 standalone attempt, got %d", n)
	}
	if n := mustCount(t, service, ctx, event); n != 0 {
		t.Fatalf("expected 0 event attempts, got %d", n)
	}

	if _, err := service.Submit(ctx, app.SubmitAttempt{Scope: event, TotalItems: 5}); err != nil {
		t.Fatalf("submit event: %v", err)
	}
	if n := mustCount(t, service, ctx, standalone); n != 1 {
		t.Fatalf("expected standalone count to stay 1, got %d", n)
	}
	if n := mustCount(t, service, ctx, event); n != 1 {
		t.Fatalf("expected 1 event attempt, got %d", n)
	}

	history, _ := service.History(ctx, standalone)
	for _, rec := range history {
		if rec.EventID != "" {
			t.Fatalf("standalone history leaked event attempt %+v", rec)
		}
	}
	history, _ = service.History(ctx, event)
	for _, rec := range history {
		if rec.EventID != "ev1" {
			t.Fatalf("event history leaked attempt %+v", rec)
		}
	}
}

func TestQueriesAreConsistent(t *testing.T) {
	ctx := auth.WithUser(context.Background(), "u1")
	service, clock := newTestAttemptService()
	scope := domain.Scope{SubjectKind: domain.SubjectQuiz, SubjectID: "q1"}

	has, err := service.HasAttempted(ctx, scope)
	if err != nil || has {
		t.Fatalf("expected no attempts yet, got %v (%v)", has, err)
	}
	last, err := service.LastAttempt(ctx, scope)
	if err != nil || last != nil {
		t.Fatalf("expected no last attempt, got %+v (%v)", last, err)
	}

	first, _ := service.Submit(ctx, app.SubmitAttempt{Scope: scope, TotalItems: 4})
	clock.advance(time.Minute)
	second, _ := service.Submit(ctx, app.SubmitAttempt{Scope: scope, TotalItems: 4})
	clock.advance(time.Minute)
	if _, err := service.Complete(ctx, app.CompleteAttempt{AttemptID: first.ID, CompletedItems: 4, Passed: true}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	history, _ := service.History(ctx, scope)
	count, _ := service.AttemptCount(ctx, scope)
	has, _ = service.HasAttempted(ctx, scope)
	last, _ = service.LastAttempt(ctx, scope)

	if count != len(history) || count != 2 {
		t.Fatalf("expected count %d to equal history length %d", count, len(history))
	}
	if !has {
		t.Fatalf("expected hasAttempted after submissions")
	}
	if last == nil || last.ID != history[0].ID {
		t.Fatalf("expected last attempt to be history head")
	}
	// The completed attempt outranks the newer in-progress one.
	if history[0].ID != first.ID || history[1].ID != second.ID {
		t.Fatalf("unexpected order: %s, %s", history[0].ID, history[1].ID)
	}
	if !history[0].Passed || history[0].CompletionPercentage() != 1 {
		t.Fatalf("expected passed full completion, got %+v", history[0])
	}
}

func TestQueriesAreScopedToActingUser(t *testing.T) {
	service, _ := newTestAttemptService()
	scope := domain.Scope{SubjectKind: domain.SubjectPath, SubjectID: "p1"}

	_, _ = service.Submit(auth.WithUser(context.Background(), "u1"), app.SubmitAttempt{Scope: scope, TotalItems: 1})

	has, err := service.HasAttempted(auth.WithUser(context.Background(), "u2"), scope)
	if err != nil || has {
		t.Fatalf("expected u2 to have no attempts, got %v (%v)", has, err)
	}
}

func TestCompleteValidation(t *testing.T) {
	ctx := auth.WithUser(context.Background(), "u1")
	service, clock := newTestAttemptService()
	scope := domain.Scope{SubjectKind: domain.SubjectQuiz, SubjectID: "q1"}
	rec, _ := service.Submit(ctx, app.SubmitAttempt{Scope: scope, TotalItems: 3})

	cases := []struct {
		name string
		ctx  context.Context
		in   app.CompleteAttempt
		want error
	}{
		{"unknown id", ctx, app.CompleteAttempt{AttemptID: "nope"}, domain.ErrNotFound},
		{"empty id", ctx, app.CompleteAttempt{}, domain.ErrNotFound},
		{"other user", auth.WithUser(context.Background(), "u2"), app.CompleteAttempt{AttemptID: rec.ID}, domain.ErrNotFound},
		{"too many items", ctx, app.CompleteAttempt{AttemptID: rec.ID, CompletedItems: 4}, domain.ErrInvalidAttempt},
		{"negative items", ctx, app.CompleteAttempt{AttemptID: rec.ID, CompletedItems: -1}, domain.ErrInvalidAttempt},
		{"before start", ctx, app.CompleteAttempt{AttemptID: rec.ID, CompletedAt: clock.now().Add(-time.Hour)}, domain.ErrInvalidAttempt},
		{"anonymous", context.Background(), app.CompleteAttempt{AttemptID: rec.ID}, domain.ErrUnauthenticated},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := service.Complete(tc.ctx, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	last, _ := service.LastAttempt(ctx, scope)
	if last.Completed() {
		t.Fatalf("rejected completions must not change state")
	}

	if _, err := service.Complete(ctx, app.CompleteAttempt{AttemptID: rec.ID, CompletedItems: 2}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := service.Complete(ctx, app.CompleteAttempt{AttemptID: rec.ID, CompletedItems: 3}); !errors.Is(err, domain.ErrAttemptCompleted) {
		t.Fatalf("expected ErrAttemptCompleted, got %v", err)
	}
}

func TestZeroItemAttemptCompletion(t *testing.T) {
	ctx := auth.WithUser(context.Background(), "u1")
	service, _ := newTestAttemptService()
	rec, _ := service.Submit(ctx, app.SubmitAttempt{Scope: domain.Scope{SubjectKind: domain.SubjectGame, SubjectID: "g1"}})

	done, err := service.Complete(ctx, app.CompleteAttempt{AttemptID: rec.ID})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.CompletionPercentage() != 0 {
		t.Fatalf("expected 0%% completion, got %v", done.CompletionPercentage())
	}
}

func TestRequestsRequireUserAndValidScope(t *testing.T) {
	service, _ := newTestAttemptService()
	scope := domain.Scope{SubjectKind: domain.SubjectQuiz, SubjectID: "q1"}

	if _, err := service.AttemptCount(context.Background(), scope); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if _, err := service.Submit(context.Background(), app.SubmitAttempt{Scope: scope}); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}

	ctx := auth.WithUser(context.Background(), "u1")
	bad := domain.Scope{SubjectKind: "capsule", SubjectID: "c1"}
	if _, err := service.History(ctx, bad); !errors.Is(err, domain.ErrInvalidScope) {
		t.Fatalf("expected ErrInvalidScope, got %v", err)
	}
	if _, err := service.Submit(ctx, app.SubmitAttempt{Scope: domain.Scope{SubjectKind: domain.SubjectQuiz}}); !errors.Is(err, domain.ErrInvalidScope) {
		t.Fatalf("expected ErrInvalidScope, got %v", err)
	}
	if _, err := service.Submit(ctx, app.SubmitAttempt{Scope: scope, TotalItems: -1}); !errors.Is(err, domain.ErrInvalidAttempt) {
		t.Fatalf("expected ErrInvalidAttempt, got %v", err)
	}
}

func TestEventMutationsNotifyLeaderboard(t *testing.T) {
	ctx := auth.WithUser(context.Background(), "u1")
	notifier := &recordingNotifier{}
	service := app.NewAttemptService(memory.NewAttemptStore(), notifier, nil)

	_, _ = service.Submit(ctx, app.SubmitAttempt{Scope: domain.Scope{SubjectKind: domain.SubjectQuiz, SubjectID: "q1"}})
	rec, _ := service.Submit(ctx, app.SubmitAttempt{Scope: domain.Scope{SubjectKind: domain.SubjectQuiz, SubjectID: "q1", EventID: "ev1"}, TotalItems: 1})
	_, _ = service.Complete(ctx, app.CompleteAttempt{AttemptID: rec.ID, CompletedItems: 1})

	if len(notifier.events) != 2 || notifier.events[0] != "ev1" || notifier.events[1] != "ev1" {
		t.Fatalf("expected two ev1 notifications, got %v", notifier.events)
	}
}

func mustCount(t *testing.T, service *app.AttemptService, ctx context.Context, scope domain.Scope) int {
	t.Helper()
	n, err := service.AttemptCount(ctx, scope)
	if err != nil {
		t.Fatalf("attempt count: %v", err)
	}
	return n
}

type recordingNotifier struct {
	events []string
}

func (n *recordingNotifier) EventChanged(_ context.Context, eventID string) {
	n.events = append(n.events, eventID)
}

type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time { return c.t }

func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestAttemptService() (*app.AttemptService, *testClock) {
	clock := &testClock{t: time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)}
	return app.NewAttemptServiceWithClock(memory.NewAttemptStore(), nil, nil, clock.now), clock
}
