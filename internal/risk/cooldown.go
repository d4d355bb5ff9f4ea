package risk

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// cooldownKeyPrefix namespaces cooldown keys.
// Format: trading:cooldown:{userID}
const cooldownKeyPrefix = "trading:cooldown"

// CooldownRegistry stores per-user trading lockouts in Redis so cooldowns
// survive restarts and are shared across instances. When Redis is
// unavailable it falls back to an in-memory map so risk gating keeps
// working, at the cost of durability.
type CooldownRegistry struct {
	client *redis.Client

	mu             sync.RWMutex
	local          map[int64]time.Time
	redisAvailable atomic.Bool
}

// NewCooldownRegistry creates a registry; client may be nil for pure
// in-memory operation (tests, dry runs).
func NewCooldownRegistry(client *redis.Client) *CooldownRegistry {
	r := &CooldownRegistry{
		client: client,
		local:  make(map[int64]time.Time),
	}
	r.redisAvailable.Store(client != nil)
	return r
}

func cooldownKey(userID int64) string {
	return fmt.Sprintf("%s:%d", cooldownKeyPrefix, userID)
}

// Activate starts a cooldown for the user until now+duration
func (r *CooldownRegistry) Activate(ctx context.Context, userID int64, duration time.Duration) error {
	until := time.Now().Add(duration)

	r.mu.Lock()
	r.local[userID] = until
	r.mu.Unlock()

	if r.client == nil {
		return nil
	}
	err := r.client.Set(ctx, cooldownKey(userID), until.Format(time.RFC3339Nano), duration).Err()
	if err != nil {
		r.redisAvailable.Store(false)
		return nil // Local map already covers the window
	}
	r.redisAvailable.Store(true)
	return nil
}

// Until returns the cooldown expiry for the user and whether one is active
func (r *CooldownRegistry) Until(ctx context.Context, userID int64) (time.Time, bool) {
	if r.client != nil {
		val, err := r.client.Get(ctx, cooldownKey(userID)).Result()
		if err == nil {
			r.redisAvailable.Store(true)
			until, parseErr := time.Parse(time.RFC3339Nano, val)
			if parseErr == nil && time.Now().Before(until) {
				return until, true
			}
			return time.Time{}, false
		}
		if err == redis.Nil {
			r.redisAvailable.Store(true)
			return time.Time{}, false
		}
		r.redisAvailable.Store(false)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	until, ok := r.local[userID]
	if !ok || time.Now().After(until) {
		return time.Time{}, false
	}
	return until, true
}

// Clear removes any cooldown for the user
func (r *CooldownRegistry) Clear(ctx context.Context, userID int64) {
	r.mu.Lock()
	delete(r.local, userID)
	r.mu.Unlock()
	if r.client != nil {
		_ = r.client.Del(ctx, cooldownKey(userID)).Err()
	}
}

// RedisAvailable reports whether the last Redis round trip succeeded
func (r *CooldownRegistry) RedisAvailable() bool {
	return r.redisAvailable.Load()
}
