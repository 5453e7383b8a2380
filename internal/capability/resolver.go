package capability

import (
	"strings"
	"sync"
	"time"

	"github.com/pitabwire/fedipanel/model"
)

// Expander widens a role set, typically through a StaticPolicy.
type Expander interface {
	Expand(roles []string) []string
}

type cacheEntry struct {
	roles   []string
	expires time.Time
}

// Resolver returns the effective roles of a session with an in-memory cache.
type Resolver struct {
	expander Expander
	ttl      time.Duration
	now      func() time.Time
	mu       sync.RWMutex
	cache    map[string]cacheEntry
}

// NewResolver creates a new Resolver with the given expander and cache TTL.
func NewResolver(expander Expander, ttl time.Duration) *Resolver {
	return &Resolver{
		expander: expander,
		ttl:      ttl,
		now:      time.Now,
		cache:    make(map[string]cacheEntry),
	}
}

func cacheKey(sess *model.Session) string {
	return sess.ID + ":" + strings.Join(sess.Roles, ",")
}

// Resolve returns the expanded roles for the session. Results are cached for
// the configured TTL. A nil session has no roles.
func (r *Resolver) Resolve(sess *model.Session) []string {
	if sess == nil {
		return nil
	}
	key := cacheKey(sess)

	r.mu.RLock()
	if entry, ok := r.cache[key]; ok && r.now().Before(entry.expires) {
		r.mu.RUnlock()
		return entry.roles
	}
	r.mu.RUnlock()

	roles := r.expander.Expand(sess.Roles)

	r.mu.Lock()
	r.cache[key] = cacheEntry{roles: roles, expires: r.now().Add(r.ttl)}
	r.mu.Unlock()

	return roles
}

// Allowed expands the session roles and runs Check against required.
func (r *Resolver) Allowed(sess *model.Session, required []string) bool {
	return Check(required, r.Resolve(sess))
}

// Invalidate clears cached roles for the given session.
func (r *Resolver) Invalidate(sessionID string) {
	prefix := sessionID + ":"
	r.mu.Lock()
	for key := range r.cache {
		if strings.HasPrefix(key, prefix) {
			delete(r.cache, key)
		}
	}
	r.mu.Unlock()
}

// Flush drops every cached entry, used after the policy is reloaded.
func (r *Resolver) Flush() {
	r.mu.Lock()
	r.cache = make(map[string]cacheEntry)
	r.mu.Unlock()
}
