// Package identity tracks the display labels of connected participants. The
// label comes from an external identity provider and is treated as an opaque
// string; nothing here validates or authenticates it.
package identity

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// Presence records one connected participant.
type Presence struct {
	SessionID   string
	Label       string
	ConnectedAt time.Time
}

// Registry keeps a map of connected participants.
type Registry interface {
	Register(p Presence) error
	Remove(sessionID string)
	Lookup(sessionID string) (Presence, bool)
	List() []Presence
}

// InMemoryRegistry stores presences in a map.
type InMemoryRegistry struct {
	mu       sync.RWMutex
	presence map[string]Presence
}

// NewRegistry builds an in-memory presence registry.
func NewRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{
		presence: make(map[string]Presence),
	}
}

// Register records a participant keyed by session id.
func (r *InMemoryRegistry) Register(p Presence) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.SessionID == "" {
		return errors.New("session id is required")
	}
	if p.ConnectedAt.IsZero() {
		p.ConnectedAt = time.Now()
	}
	r.presence[p.SessionID] = p
	return nil
}

// Remove deletes a participant by session id.
func (r *InMemoryRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.presence, sessionID)
}

// Lookup fetches a participant by session id.
func (r *InMemoryRegistry) Lookup(sessionID string) (Presence, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.presence[sessionID]
	return p, ok
}

// List enumerates connected participants sorted by session id.
func (r *InMemoryRegistry) List() []Presence {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Presence, 0, len(r.presence))
	for _, p := range r.presence {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}
