package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"attempt-ledger-service/internal/domain"
	"attempt-ledger-service/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RewardRepository stores grants and XP totals.
type RewardRepository interface {
	// FindGrant returns domain.ErrGrantNotFound when no grant exists for key.
	FindGrant(ctx context.Context, key domain.GrantKey) (domain.RewardGrant, error)
	// ApplyGrant inserts the grant and credits its amount to the user's XP total as one
	// atomic unit, serialized on the grant key. It reports false, without side effects,
	// when a grant with the same key already exists.
	ApplyGrant(ctx context.Context, grant domain.RewardGrant) (bool, error)
	XPTotal(ctx context.Context, userID string) (int64, error)
}

// RewardLedger issues XP rewards exactly once per idempotency key.
type RewardLedger struct {
	rewards    RewardRepository
	maxRetries int
	log        *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
	newID      func() string
}

func NewRewardLedger(rewards RewardRepository, maxRetries int, log *zap.Logger, m *metrics.Metrics) *RewardLedger {
	if log == nil {
		log = zap.NewNop()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &RewardLedger{
		rewards:    rewards,
		maxRetries: maxRetries,
		log:        log,
		metrics:    m,
		now:        time.Now,
		newID:      func() string { return uuid.NewString() },
	}
}

// GrantUploadReward credits the fixed upload reward for contentID to userID.
// Repeated or concurrent calls for the same pair credit it once; later calls report AlreadyGranted.
func (l *RewardLedger) GrantUploadReward(ctx context.Context, userID, contentID string) (domain.GrantOutcome, error) {
	return l.grant(ctx, domain.GrantKey{
		UserID:     strings.TrimSpace(userID),
		ContentID:  strings.TrimSpace(contentID),
		ReasonCode: domain.ReasonContentUpload,
	}, domain.UploadRewardXP)
}

// XPTotal returns the user's accumulated XP.
func (l *RewardLedger) XPTotal(ctx context.Context, userID string) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, domain.ErrInvalidGrant
	}
	return l.rewards.XPTotal(ctx, userID)
}

func (l *RewardLedger) grant(ctx context.Context, key domain.GrantKey, amount int64) (domain.GrantOutcome, error) {
	if key.UserID == "" || key.ContentID == "" {
		return domain.GrantOutcome{}, fmt.Errorf("%w: user and content ids are required", domain.ErrInvalidGrant)
	}

	existing, err := l.rewards.FindGrant(ctx, key)
	switch {
	case err == nil:
		l.metrics.RewardGrant(key.ReasonCode, "already_granted")
		return alreadyGranted(existing), nil
	case !errors.Is(err, domain.ErrGrantNotFound):
		l.metrics.RewardGrant(key.ReasonCode, "error")
		return domain.GrantOutcome{}, err
	}

	for attempt := 0; attempt <= l.maxRetries; attempt++ {
		grant := domain.RewardGrant{
			ID:         l.newID(),
			UserID:     key.UserID,
			ContentID:  key.ContentID,
			ReasonCode: key.ReasonCode,
			Amount:     amount,
			GrantedAt:  normalize(l.now()),
		}
		applied, err := l.rewards.ApplyGrant(ctx, grant)
		if errors.Is(err, domain.ErrConflictRetryable) {
			l.log.Warn("reward grant conflicted, retrying",
				zap.String("user_id", key.UserID),
				zap.String("content_id", key.ContentID),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}
		if err != nil {
			l.metrics.RewardGrant(key.ReasonCode, "error")
			return domain.GrantOutcome{}, err
		}
		if !applied {
			l.metrics.RewardGrant(key.ReasonCode, "already_granted")
			winner, err := l.rewards.FindGrant(ctx, key)
			if err != nil {
				winner = domain.RewardGrant{UserID: key.UserID, ContentID: key.ContentID, ReasonCode: key.ReasonCode}
			}
			return alreadyGranted(winner), nil
		}

		l.metrics.RewardGrant(key.ReasonCode, "granted")
		l.log.Info("reward granted",
			zap.String("user_id", key.UserID),
			zap.String("content_id", key.ContentID),
			zap.String("reason", key.ReasonCode),
			zap.Int64("amount", amount))
		return domain.GrantOutcome{Status: domain.GrantGranted, Amount: amount, Grant: grant}, nil
	}

	l.metrics.RewardGrant(key.ReasonCode, "exhausted")
	return domain.GrantOutcome{}, fmt.Errorf("%w: reward grant retries exhausted", domain.ErrStorageUnavailable)
}

func alreadyGranted(grant domain.RewardGrant) domain.GrantOutcome {
	return domain.GrantOutcome{Status: domain.GrantAlreadyGranted, Grant: grant}
}
