package mutation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// InFlightGuard extends the single in-flight rule of a Mutation across
// replicas. Keys are formatted with FormatInFlightKey.
type InFlightGuard interface {
	// Acquire claims key for ttl. It returns false when the key is already
	// held.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release frees key.
	Release(ctx context.Context, key string) error
}

// FormatInFlightKey builds the guard key of one session submitting one form.
func FormatInFlightKey(formID, sessionID string) string {
	return fmt.Sprintf("inflight:%s:%s", formID, sessionID)
}

// --- MemoryGuard ---

// MemoryGuard is an in-process InFlightGuard, suitable for tests and
// single-instance deployments.
type MemoryGuard struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryGuard creates a new in-memory guard.
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Acquire claims key unless it is held and not yet expired.
func (g *MemoryGuard) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if expires, held := g.entries[key]; held && g.now().Before(expires) {
		return false, nil
	}
	g.entries[key] = g.now().Add(ttl)
	return true, nil
}

// Release frees key.
func (g *MemoryGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	delete(g.entries, key)
	g.mu.Unlock()
	return nil
}

// Len returns the number of entries (including expired ones). For testing.
func (g *MemoryGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// --- RedisGuard ---

// RedisGuard is a Redis-backed InFlightGuard using SET NX with expiry.
type RedisGuard struct {
	client redis.Cmdable
}

// NewRedisGuard creates a new Redis-backed guard.
func NewRedisGuard(client redis.Cmdable) *RedisGuard {
	return &RedisGuard{client: client}
}

// Acquire claims key with SET NX.
func (g *RedisGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := g.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %q: %w", key, err)
	}
	return ok, nil
}

// Release deletes key.
func (g *RedisGuard) Release(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}

// HealthCheck pings Redis.
func (g *RedisGuard) HealthCheck(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}
