// Package session keeps the process-wide cache of live portal sessions.
package session

import (
	"sync"
	"time"

	"clockin/internal/portal"
)

type entry struct {
	sess   *portal.Session
	expiry time.Time
}

// Registry maps user identifier to a live authenticated session with an
// absolute expiry. At most one entry exists per identifier; a new Put always
// supersedes the old session. Presence and validity are checked under one
// lock so an expired entry can never be observed as valid.
type Registry struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry
	now     func() time.Time
}

// NewRegistry creates a registry whose entries live for ttl after insertion.
func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Registry{
		ttl:     ttl,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Get returns the live session for id, if any. Expired entries are evicted
// on read.
func (r *Registry) Get(id string) (*portal.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	if !r.now().Before(e.expiry) {
		delete(r.entries, id)
		return nil, false
	}
	return e.sess, true
}

// Put installs a session for id with a refreshed expiry, replacing any
// previous entry. On overlapping batches for the same identifier the later
// write wins.
func (r *Registry) Put(id string, s *portal.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = entry{sess: s, expiry: r.now().Add(r.ttl)}
}

// Evict drops the entry for id, typically after a failed liveness probe.
func (r *Registry) Evict(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Len reports the number of cached entries, expired or not.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
