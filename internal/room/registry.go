// Package room tracks which connected sessions belong to which rooms. State
// is process-memory only and vanishes on restart; rooms are meant to be
// ephemeral and an empty room is indistinguishable from a non-existent one.
package room

import (
	"sort"
	"sync"
)

// Registry is the membership contract consumed by the relay.
type Registry interface {
	Join(sessionID, roomID string)
	Leave(sessionID, roomID string)
	LeaveAll(sessionID string) []string
	Members(roomID string) []string
	MembersExcept(roomID, sessionID string) []string
	Rooms() int
}

// InMemoryRegistry keeps membership sets behind a single lock. Room counts and
// churn are modest, so one registry-wide lock is the simplest discipline that
// guarantees a fan-out never observes a torn membership set.
type InMemoryRegistry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]struct{}
	// joined mirrors rooms per session so disconnect cleanup is O(own rooms).
	joined map[string]map[string]struct{}
}

// NewInMemory creates an empty registry.
func NewInMemory() *InMemoryRegistry {
	return &InMemoryRegistry{
		rooms:  make(map[string]map[string]struct{}),
		joined: make(map[string]map[string]struct{}),
	}
}

// Join idempotently adds a session to a room, creating the room implicitly.
// Membership is additive: joining a second room does not evict the first.
// Any string is accepted as a room id; join never fails.
func (r *InMemoryRegistry) Join(sessionID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[roomID] = members
	}
	members[sessionID] = struct{}{}

	rooms, ok := r.joined[sessionID]
	if !ok {
		rooms = make(map[string]struct{})
		r.joined[sessionID] = rooms
	}
	rooms[roomID] = struct{}{}
}

// Leave removes a session from one room, pruning the room when it empties.
func (r *InMemoryRegistry) Leave(sessionID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(sessionID, roomID)
}

// LeaveAll removes a session from every room it belongs to and returns the
// room ids it left. Called on transport disconnect.
func (r *InMemoryRegistry) LeaveAll(sessionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms := r.joined[sessionID]
	if len(rooms) == 0 {
		delete(r.joined, sessionID)
		return nil
	}

	left := make([]string, 0, len(rooms))
	for roomID := range rooms {
		left = append(left, roomID)
	}
	for _, roomID := range left {
		r.leaveLocked(sessionID, roomID)
	}
	sort.Strings(left)
	return left
}

// Members returns the full membership of a room at call time.
func (r *InMemoryRegistry) Members(roomID string) []string {
	return r.snapshot(roomID, "")
}

// MembersExcept returns all other current members of a room. The snapshot
// reflects membership strictly at call time; nothing is cached beyond it.
func (r *InMemoryRegistry) MembersExcept(roomID, sessionID string) []string {
	return r.snapshot(roomID, sessionID)
}

// Rooms returns the number of live (non-empty) rooms.
func (r *InMemoryRegistry) Rooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func (r *InMemoryRegistry) snapshot(roomID, exclude string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(members))
	for id := range members {
		if id == exclude {
			continue
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *InMemoryRegistry) leaveLocked(sessionID, roomID string) {
	if members, ok := r.rooms[roomID]; ok {
		delete(members, sessionID)
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
	if rooms, ok := r.joined[sessionID]; ok {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(r.joined, sessionID)
		}
	}
}
