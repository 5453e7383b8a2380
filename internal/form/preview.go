package form

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type previewEntry struct {
	file    *File
	expires time.Time
}

// MemoryPreviews is an in-process PreviewStore. URLs are BaseURL plus a
// random ID and expire after TTL if never revoked.
type MemoryPreviews struct {
	baseURL string
	ttl     time.Duration
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]previewEntry
	created int
	revoked int
}

// NewMemoryPreviews creates a store serving previews under baseURL,
// e.g. "/ui/previews/".
func NewMemoryPreviews(baseURL string, ttl time.Duration) *MemoryPreviews {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &MemoryPreviews{
		baseURL: baseURL,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]previewEntry),
	}
}

// Create stores f and returns its preview URL.
func (s *MemoryPreviews) Create(f *File) string {
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	s.entries[id] = previewEntry{file: f, expires: s.now().Add(s.ttl)}
	s.created++
	return s.baseURL + id
}

// Revoke releases the preview behind url. Unknown URLs are ignored.
func (s *MemoryPreviews) Revoke(url string) {
	id := strings.TrimPrefix(url, s.baseURL)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; ok {
		delete(s.entries, id)
		s.revoked++
	}
}

// Get returns the file behind a preview ID.
func (s *MemoryPreviews) Get(id string) (*File, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || s.now().After(e.expires) {
		return nil, false
	}
	return e.file, true
}

// Live returns the number of previews not yet revoked or expired.
func (s *MemoryPreviews) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	return len(s.entries)
}

// Stats returns how many previews were created and revoked.
func (s *MemoryPreviews) Stats() (created, revoked int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.created, s.revoked
}

// sweep drops expired entries. Callers hold mu.
func (s *MemoryPreviews) sweep() {
	now := s.now()
	for id, e := range s.entries {
		if now.After(e.expires) {
			delete(s.entries, id)
		}
	}
}
