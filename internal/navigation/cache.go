package navigation

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pitabwire/fedipanel/model"
)

// Cache memoizes compiled navigation per role set. Replace swaps the
// declaration and drops every memoized entry.
type Cache struct {
	mu      sync.RWMutex
	decl    []model.NavigationDefinition
	opts    Options
	entries map[string]*Compiled

	onCompile func(time.Duration, error)
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithCompileHook registers a callback invoked after each actual compile.
func WithCompileHook(fn func(time.Duration, error)) CacheOption {
	return func(c *Cache) { c.onCompile = fn }
}

// NewCache creates a cache over decl.
func NewCache(decl []model.NavigationDefinition, opts Options, options ...CacheOption) *Cache {
	c := &Cache{
		decl:    decl,
		opts:    opts,
		entries: make(map[string]*Compiled),
	}
	for _, o := range options {
		o(c)
	}
	return c
}

func roleKey(roles []string) string {
	sorted := append([]string(nil), roles...)
	sort.Strings(sorted)
	return strings.Join(sorted, "\x00")
}

// Get returns the compiled navigation for roles, compiling on first use.
func (c *Cache) Get(roles []string) (*Compiled, error) {
	key := roleKey(roles)

	c.mu.RLock()
	compiled, ok := c.entries[key]
	decl, opts := c.decl, c.opts
	c.mu.RUnlock()
	if ok {
		return compiled, nil
	}

	start := time.Now()
	compiled, err := Compile(decl, roles, opts)
	if c.onCompile != nil {
		c.onCompile(time.Since(start), err)
	}
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	// Skip storing if the declaration was replaced while compiling.
	if sameDecl(c.decl, decl) {
		c.entries[key] = compiled
	}
	c.mu.Unlock()
	return compiled, nil
}

// Replace installs a new declaration and clears the cache.
func (c *Cache) Replace(decl []model.NavigationDefinition) {
	c.mu.Lock()
	c.decl = decl
	c.entries = make(map[string]*Compiled)
	c.mu.Unlock()
}

// Len returns the number of memoized role sets.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func sameDecl(a, b []model.NavigationDefinition) bool {
	if len(a) != len(b) {
		return false
	}
	return len(a) == 0 || &a[0] == &b[0]
}
