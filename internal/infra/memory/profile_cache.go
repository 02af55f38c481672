package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"attempt-ledger-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// ProfileLoader fetches user summaries from the profile collaborator.
type ProfileLoader interface {
	GetProfile(ctx context.Context, userID string) (domain.UserSummary, error)
}

// ProfileCache caches profile summaries with TTL to avoid repeated collaborator hits.
type ProfileCache struct {
	loader ProfileLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex

	mu    sync.RWMutex
	cache map[string]cachedProfile
}

type cachedProfile struct {
	summary   domain.UserSummary
	expiresAt time.Time
}

func NewProfileCache(loader ProfileLoader, ttl time.Duration) *ProfileCache {
	return &ProfileCache{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedProfile),
	}
}

func (c *ProfileCache) GetProfile(ctx context.Context, userID string) (domain.UserSummary, error) {
	if summary, ok := c.lookup(userID); ok {
		return summary, nil
	}

	result, err, _ := c.sf.Do(userID, func() (interface{}, error) {
		if summary, ok := c.lookup(userID); ok {
			return summary, nil
		}

		summary, err := c.loader.GetProfile(ctx, userID)
		if err != nil {
			return domain.UserSummary{}, err
		}

		c.mu.Lock()
		c.cache[userID] = cachedProfile{
			summary:   summary,
			expiresAt: c.clock().Add(c.ttlWithJitter()),
		}
		c.mu.Unlock()
		return summary, nil
	})
	if err != nil {
		return domain.UserSummary{}, err
	}
	return result.(domain.UserSummary), nil
}

func (c *ProfileCache) lookup(userID string) (domain.UserSummary, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[userID]
	if !ok || !entry.expiresAt.After(c.clock()) {
		return domain.UserSummary{}, false
	}
	return entry.summary, true
}

func (c *ProfileCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

// ProfileDirectory is a profile loader backed by an in-memory map (useful for tests/demos).
type ProfileDirectory struct {
	profiles map[string]domain.UserSummary
}

func NewProfileDirectory(profiles map[string]domain.UserSummary) *ProfileDirectory {
	return &ProfileDirectory{profiles: profiles}
}

func (d *ProfileDirectory) GetProfile(_ context.Context, userID string) (domain.UserSummary, error) {
	if summary, ok := d.profiles[userID]; ok {
		return summary, nil
	}
	return domain.UserSummary{}, domain.ErrProfileNotFound
}
