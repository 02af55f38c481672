package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"attempt-ledger-service/internal/domain"
	"github.com/uptrace/bun"
)

type attemptRow struct {
	bun.BaseModel `bun:"table:attempt_records,alias:ar"`

	ID             string     `bun:"id,pk"`
	SubjectKind    string     `bun:"subject_kind,notnull"`
	SubjectID      string     `bun:"subject_id,notnull"`
	UserID         string     `bun:"user_id,notnull"`
	EventID        *string    `bun:"event_id"`
	StartedAt      time.Time  `bun:"started_at,notnull"`
	CompletedAt    *time.Time `bun:"completed_at"`
	TotalItems     int        `bun:"total_items,notnull"`
	CompletedItems int        `bun:"completed_items,notnull"`
	Passed         bool       `bun:"passed,notnull"`
	Score          *float64   `bun:"score"`
}

func attemptRowFrom(rec domain.AttemptRecord) *attemptRow {
	row := &attemptRow{
		ID:             rec.ID,
		SubjectKind:    string(rec.SubjectKind),
		SubjectID:      rec.SubjectID,
		UserID:         rec.UserID,
		StartedAt:      rec.StartedAt,
		CompletedAt:    rec.CompletedAt,
		TotalItems:     rec.TotalItems,
		CompletedItems: rec.CompletedItems,
		Passed:         rec.Passed,
		Score:          rec.Score,
	}
	if rec.EventID != "" {
		eventID := rec.EventID
		row.EventID = &eventID
	}
	return row
}

func (r *attemptRow) toDomain() domain.AttemptRecord {
	rec := domain.AttemptRecord{
		ID:             r.ID,
		SubjectKind:    domain.SubjectKind(r.SubjectKind),
		SubjectID:      r.SubjectID,
		UserID:         r.UserID,
		StartedAt:      r.StartedAt.UTC(),
		TotalItems:     r.TotalItems,
		CompletedItems: r.CompletedItems,
		Passed:         r.Passed,
		Score:          r.Score,
	}
	if r.EventID != nil {
		rec.EventID = *r.EventID
	}
	if r.CompletedAt != nil {
		completedAt := r.CompletedAt.UTC()
		rec.CompletedAt = &completedAt
	}
	return rec
}

// AttemptStore persists attempts in the attempt_records table.
type AttemptStore struct {
	db *bun.DB
}

func NewAttemptStore(db *bun.DB) *AttemptStore {
	return &AttemptStore{db: db}
}

func (s *AttemptStore) Insert(ctx context.Context, rec domain.AttemptRecord) error {
	_, err := s.db.NewInsert().Model(attemptRowFrom(rec)).Exec(ctx)
	return classify(err)
}

// Complete locks the row for the duration of apply so concurrent completions serialize.
func (s *AttemptStore) Complete(ctx context.Context, attemptID string, apply func(*domain.AttemptRecord) error) (domain.AttemptRecord, error) {
	var result domain.AttemptRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		row := new(attemptRow)
		err := tx.NewSelect().Model(row).Where("ar.id = ?", attemptID).For("UPDATE").Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		rec := row.toDomain()
		if err := apply(&rec); err != nil {
			return err
		}
		_, err = tx.NewUpdate().
			Model(attemptRowFrom(rec)).
			Column("completed_at", "completed_items", "passed", "score").
			WherePK().
			Exec(ctx)
		if err != nil {
			return err
		}
		result = rec
		return nil
	})
	if err != nil {
		return domain.AttemptRecord{}, classify(err)
	}
	return result, nil
}

func (s *AttemptStore) List(ctx context.Context, filter domain.ScopeFilter) ([]domain.AttemptRecord, error) {
	var rows []attemptRow
	q := s.db.NewSelect().Model(&rows)
	if err := newestFirst(applyFilter(q, filter)).Scan(ctx); err != nil {
		return nil, classify(err)
	}
	records := make([]domain.AttemptRecord, 0, len(rows))
	for i := range rows {
		records = append(records, rows[i].toDomain())
	}
	return records, nil
}

func (s *AttemptStore) Count(ctx context.Context, filter domain.ScopeFilter) (int, error) {
	n, err := applyFilter(s.db.NewSelect().Model((*attemptRow)(nil)), filter).Count(ctx)
	return n, classify(err)
}

func (s *AttemptStore) Exists(ctx context.Context, filter domain.ScopeFilter) (bool, error) {
	ok, err := applyFilter(s.db.NewSelect().Model((*attemptRow)(nil)), filter).Exists(ctx)
	return ok, classify(err)
}

func (s *AttemptStore) Last(ctx context.Context, filter domain.ScopeFilter) (*domain.AttemptRecord, error) {
	row := new(attemptRow)
	err := newestFirst(applyFilter(s.db.NewSelect().Model(row), filter)).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	rec := row.toDomain()
	return &rec, nil
}

// applyFilter translates a scope filter into SQL. Standalone scopes must exclude event attempts explicitly.
func applyFilter(q *bun.SelectQuery, filter domain.ScopeFilter) *bun.SelectQuery {
	if filter.EventScoped() {
		q = q.Where("ar.event_id = ?", filter.EventID)
	} else {
		q = q.Where("ar.subject_kind = ?", string(filter.SubjectKind)).
			Where("ar.subject_id = ?", filter.SubjectID).
			Where("ar.event_id IS NULL")
	}
	if filter.UserID != "" {
		q = q.Where("ar.user_id = ?", filter.UserID)
	}
	return q
}

// newestFirst mirrors domain.NewestFirst; ids compare bytewise.
func newestFirst(q *bun.SelectQuery) *bun.SelectQuery {
	return q.OrderExpr("ar.completed_at DESC NULLS LAST").
		OrderExpr("ar.started_at DESC").
		OrderExpr(`ar.id COLLATE "C" DESC`)
}
