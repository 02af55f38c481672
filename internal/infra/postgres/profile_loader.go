package postgres

import (
	"context"
	"errors"
	"fmt"

	"attempt-ledger-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// ProfileLoader reads user summaries from the profiles table. It never writes.
type ProfileLoader struct {
	pool *pgxpool.Pool
}

func NewProfileLoader(pool *pgxpool.Pool) *ProfileLoader {
	return &ProfileLoader{pool: pool}
}

func (l *ProfileLoader) GetProfile(ctx context.Context, userID string) (domain.UserSummary, error) {
	summary := domain.UserSummary{UserID: userID}
	err := l.pool.QueryRow(ctx,
		`SELECT display_name, COALESCE(avatar_ref, '') FROM profiles WHERE id=$1`, userID,
	).Scan(&summary.DisplayName, &summary.AvatarRef)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UserSummary{}, domain.ErrProfileNotFound
	}
	if err != nil {
		return domain.UserSummary{}, fmt.Errorf("%w: load profile: %v", domain.ErrStorageUnavailable, err)
	}
	return summary, nil
}
