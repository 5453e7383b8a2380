package mutation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestFormatInFlightKey(t *testing.T) {
	if got := FormatInFlightKey("profile", "s-1"); got != "inflight:profile:s-1" {
		t.Errorf("FormatInFlightKey() = %q", got)
	}
}

func TestMemoryGuard(t *testing.T) {
	g := NewMemoryGuard()
	ctx := context.Background()
	key := FormatInFlightKey("profile", "s-1")

	ok, err := g.Acquire(ctx, key, time.Minute)
	if err != nil || !ok {
		t.Fatalf("first Acquire() = %v, %v; want true", ok, err)
	}
	ok, _ = g.Acquire(ctx, key, time.Minute)
	if ok {
		t.Error("second Acquire() = true while held")
	}
	ok, _ = g.Acquire(ctx, FormatInFlightKey("profile", "s-2"), time.Minute)
	if !ok {
		t.Error("other session should acquire independently")
	}

	if err := g.Release(ctx, key); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	ok, _ = g.Acquire(ctx, key, time.Minute)
	if !ok {
		t.Error("Acquire() after Release should succeed")
	}
}

func TestMemoryGuard_Expiry(t *testing.T) {
	g := NewMemoryGuard()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }
	ctx := context.Background()

	g.Acquire(ctx, "k", time.Second)
	now = now.Add(2 * time.Second)
	ok, _ := g.Acquire(ctx, "k", time.Second)
	if !ok {
		t.Error("expired key should be acquirable")
	}
	if g.Len() != 1 {
		t.Errorf("Len() = %d, want 1", g.Len())
	}
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisGuard(t *testing.T) {
	mr, client := newTestRedis(t)
	g := NewRedisGuard(client)
	ctx := context.Background()
	key := FormatInFlightKey("profile", "s-1")

	ok, err := g.Acquire(ctx, key, time.Minute)
	if err != nil || !ok {
		t.Fatalf("first Acquire() = %v, %v; want true", ok, err)
	}
	ok, err = g.Acquire(ctx, key, time.Minute)
	if err != nil || ok {
		t.Fatalf("second Acquire() = %v, %v; want false", ok, err)
	}

	mr.FastForward(2 * time.Minute)
	ok, _ = g.Acquire(ctx, key, time.Minute)
	if !ok {
		t.Error("Acquire() after TTL should succeed")
	}

	if err := g.Release(ctx, key); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if mr.Exists(key) {
		t.Error("key should be deleted after Release")
	}
}

func TestRedisGuard_ConnectionError(t *testing.T) {
	mr, client := newTestRedis(t)
	g := NewRedisGuard(client)
	mr.Close()

	if _, err := g.Acquire(context.Background(), "k", time.Minute); err == nil {
		t.Error("expected error when redis is down")
	}
}

func TestRedisGuard_HealthCheck(t *testing.T) {
	mr, client := newTestRedis(t)
	g := NewRedisGuard(client)
	if err := g.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
	mr.Close()
	if err := g.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() after close should fail")
	}
}
