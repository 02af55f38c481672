package redis

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"attempt-ledger-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// ProfileLoader fetches user summaries from the profile collaborator.
type ProfileLoader interface {
	GetProfile(ctx context.Context, userID string) (domain.UserSummary, error)
}

// ProfileCache caches user summaries in Redis (hash per user) and falls back to a loader on cache miss.
// Summaries are stored as: HSET profile:{userID} display_name {name} avatar_ref {ref}
type ProfileCache struct {
	client *redis.Client
	loader ProfileLoader
	ttl    time.Duration
	sf     singleflight.Group
	rndMu  sync.Mutex
	rnd    *rand.Rand
}

func NewProfileCache(client *redis.Client, loader ProfileLoader, ttl time.Duration) *ProfileCache {
	return &ProfileCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *ProfileCache) GetProfile(ctx context.Context, userID string) (domain.UserSummary, error) {
	key := c.key(userID)

	fields, err := c.client.HGetAll(ctx, key).Result()
	if err == nil && len(fields) > 0 {
		return summaryFromCache(userID, fields), nil
	}

	result, err, _ := c.sf.Do(userID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		fields, err := c.client.HGetAll(ctx, key).Result()
		if err == nil && len(fields) > 0 {
			return summaryFromCache(userID, fields), nil
		}

		summary, err := c.loader.GetProfile(ctx, userID)
		if err != nil {
			return domain.UserSummary{}, err
		}

		ttl := c.ttlWithJitter()
		pipe := c.client.Pipeline()
		pipe.HSet(ctx, key, "display_name", summary.DisplayName, "avatar_ref", summary.AvatarRef)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		// A failed cache fill only costs a reload next time.
		_, _ = pipe.Exec(ctx)

		return summary, nil
	})
	if err != nil {
		return domain.UserSummary{}, err
	}
	return result.(domain.UserSummary), nil
}

// Invalidate drops the cached summary of a user.
func (c *ProfileCache) Invalidate(ctx context.Context, userID string) error {
	return c.client.Del(ctx, c.key(userID)).Err()
}

func (c *ProfileCache) key(userID string) string {
	return "profile:" + userID
}

func summaryFromCache(userID string, fields map[string]string) domain.UserSummary {
	return domain.UserSummary{
		UserID:      userID,
		DisplayName: fields["display_name"],
		AvatarRef:   fields["avatar_ref"],
	}
}

func (c *ProfileCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
