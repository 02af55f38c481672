package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"attempt-ledger-service/internal/domain"
	"github.com/uptrace/bun"
)

type grantRow struct {
	bun.BaseModel `bun:"table:reward_grants,alias:rg"`

	ID         string    `bun:"id,pk"`
	UserID     string    `bun:"user_id,notnull"`
	ContentID  string    `bun:"content_id,notnull"`
	ReasonCode string    `bun:"reason_code,notnull"`
	Amount     int64     `bun:"amount,notnull"`
	GrantedAt  time.Time `bun:"granted_at,notnull"`
}

func (r *grantRow) toDomain() domain.RewardGrant {
	return domain.RewardGrant{
		ID:         r.ID,
		UserID:     r.UserID,
		ContentID:  r.ContentID,
		ReasonCode: r.ReasonCode,
		Amount:     r.Amount,
		GrantedAt:  r.GrantedAt.UTC(),
	}
}

const creditXPQuery = `
INSERT INTO user_xp (user_id, total, updated_at) VALUES (?, ?, ?)
ON CONFLICT (user_id) DO UPDATE SET total = user_xp.total + EXCLUDED.total, updated_at = EXCLUDED.updated_at`

// RewardStore keeps grants in reward_grants and XP totals in user_xp.
// The unique index on (user_id, content_id, reason_code) is the commit point of a grant.
type RewardStore struct {
	db *bun.DB
}

func NewRewardStore(db *bun.DB) *RewardStore {
	return &RewardStore{db: db}
}

func (s *RewardStore) FindGrant(ctx context.Context, key domain.GrantKey) (domain.RewardGrant, error) {
	row := new(grantRow)
	err := s.db.NewSelect().Model(row).
		Where("rg.user_id = ?", key.UserID).
		Where("rg.content_id = ?", key.ContentID).
		Where("rg.reason_code = ?", key.ReasonCode).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RewardGrant{}, domain.ErrGrantNotFound
	}
	if err != nil {
		return domain.RewardGrant{}, classify(err)
	}
	return row.toDomain(), nil
}

// ApplyGrant inserts the grant and credits XP in one transaction. A concurrent insert of the
// same key blocks on the unique index until the first transaction ends, then inserts nothing.
func (s *RewardStore) ApplyGrant(ctx context.Context, grant domain.RewardGrant) (bool, error) {
	applied := false
	err := s.db.RunInTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(ctx context.Context, tx bun.Tx) error {
		row := &grantRow{
			ID:         grant.ID,
			UserID:     grant.UserID,
			ContentID:  grant.ContentID,
			ReasonCode: grant.ReasonCode,
			Amount:     grant.Amount,
			GrantedAt:  grant.GrantedAt,
		}
		res, err := tx.NewInsert().Model(row).
			On("CONFLICT (user_id, content_id, reason_code) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return err
		}
		inserted, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if inserted == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, creditXPQuery, grant.UserID, grant.Amount, grant.GrantedAt); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, classify(err)
	}
	return applied, nil
}

func (s *RewardStore) XPTotal(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := s.db.NewSelect().
		Table("user_xp").
		Column("total").
		Where("user_id = ?", userID).
		Scan(ctx, &total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, classify(err)
	}
	return total, nil
}
