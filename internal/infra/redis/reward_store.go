package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"attempt-ledger-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// applyGrantScript records a grant and credits XP in one atomic step.
// HSETNX on the grant hash is the commit point: a second call for the same key changes nothing.
var applyGrantScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], 'id', ARGV[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], 'user_id', ARGV[2], 'content_id', ARGV[3], 'reason_code', ARGV[4], 'amount', ARGV[5], 'granted_at', ARGV[6])
redis.call('INCRBY', KEYS[2], ARGV[5])
return 1
`)

// RewardStore is a Redis implementation of app.RewardRepository.
// Grants are stored as hashes and XP totals as counters. Both keys of a user carry the {u:userID}
// hash tag so the grant script touches a single cluster slot.
type RewardStore struct {
	client *redis.Client
}

func NewRewardStore(client *redis.Client) *RewardStore {
	return &RewardStore{client: client}
}

func (s *RewardStore) FindGrant(ctx context.Context, key domain.GrantKey) (domain.RewardGrant, error) {
	fields, err := s.client.HGetAll(ctx, s.grantKey(key)).Result()
	if err != nil {
		return domain.RewardGrant{}, unavailable(err)
	}
	if len(fields) == 0 || fields["id"] == "" {
		return domain.RewardGrant{}, domain.ErrGrantNotFound
	}
	return grantFromHash(key, fields)
}

func (s *RewardStore) ApplyGrant(ctx context.Context, grant domain.RewardGrant) (bool, error) {
	keys := []string{s.grantKey(grant.Key()), s.xpKey(grant.UserID)}
	applied, err := applyGrantScript.Run(ctx, s.client, keys,
		grant.ID,
		grant.UserID,
		grant.ContentID,
		grant.ReasonCode,
		grant.Amount,
		grant.GrantedAt.UTC().Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return false, unavailable(err)
	}
	return applied == 1, nil
}

func (s *RewardStore) XPTotal(ctx context.Context, userID string) (int64, error) {
	total, err := s.client.Get(ctx, s.xpKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable(err)
	}
	return total, nil
}

// grantKey length-prefixes the ids so distinct keys never share a redis key.
func (s *RewardStore) grantKey(key domain.GrantKey) string {
	return fmt.Sprintf("reward:{u:%s}:grant:%s:%d:%s:%d:%s", key.UserID, key.ReasonCode, len(key.UserID), key.UserID, len(key.ContentID), key.ContentID)
}

func (s *RewardStore) xpKey(userID string) string {
	return "reward:{u:" + userID + "}:xp"
}

func grantFromHash(key domain.GrantKey, fields map[string]string) (domain.RewardGrant, error) {
	amount, err := strconv.ParseInt(fields["amount"], 10, 64)
	if err != nil {
		return domain.RewardGrant{}, fmt.Errorf("parse grant amount: %w", err)
	}
	grantedAt, err := time.Parse(time.RFC3339Nano, fields["granted_at"])
	if err != nil {
		return domain.RewardGrant{}, fmt.Errorf("parse grant time: %w", err)
	}
	return domain.RewardGrant{
		ID:         fields["id"],
		UserID:     key.UserID,
		ContentID:  key.ContentID,
		ReasonCode: key.ReasonCode,
		Amount:     amount,
		GrantedAt:  grantedAt,
	}, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: redis: %v", domain.ErrStorageUnavailable, err)
}
