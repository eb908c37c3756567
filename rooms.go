package goRealtime

import (
	"sort"
	"sync"
)

// roomRegistry is the many-to-many connection/room index read by fan-out.
// It is the only structure shared between connection goroutines.
type roomRegistry struct {
	mu     sync.RWMutex
	rooms  map[string]map[*conn]struct{}
	byConn map[*conn]map[string]struct{}
}

func newRoomRegistry() *roomRegistry {
	return &roomRegistry{
		rooms:  make(map[string]map[*conn]struct{}),
		byConn: make(map[*conn]map[string]struct{}),
	}
}

// join registers c in room and reports whether it was newly added.
func (r *roomRegistry) join(room string, c *conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[*conn]struct{})
		r.rooms[room] = members
	}
	if _, exists := members[c]; exists {
		return false
	}
	members[c] = struct{}{}

	joined, ok := r.byConn[c]
	if !ok {
		joined = make(map[string]struct{})
		r.byConn[c] = joined
	}
	joined[room] = struct{}{}
	return true
}

// leave removes c from room and reports whether it was a member.
func (r *roomRegistry) leave(room string, c *conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(room, c)
}

func (r *roomRegistry) leaveLocked(room string, c *conn) bool {
	members, ok := r.rooms[room]
	if !ok {
		return false
	}
	if _, exists := members[c]; !exists {
		return false
	}
	delete(members, c)
	if len(members) == 0 {
		delete(r.rooms, room)
	}

	if joined, ok := r.byConn[c]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(r.byConn, c)
		}
	}
	return true
}

// leaveAll removes every membership of c and returns the rooms it left.
func (r *roomRegistry) leaveAll(c *conn) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined := r.byConn[c]
	left := make([]string, 0, len(joined))
	for room := range joined {
		left = append(left, room)
	}
	for _, room := range left {
		r.leaveLocked(room, c)
	}
	sort.Strings(left)
	return left
}

// members returns a snapshot of room's connections.
func (r *roomRegistry) members(room string) []*conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	out := make([]*conn, 0, len(members))
	for c := range members {
		out = append(out, c)
	}
	return out
}

// roomsOf returns the sorted rooms c belongs to.
func (r *roomRegistry) roomsOf(c *conn) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	joined := r.byConn[c]
	out := make([]string, 0, len(joined))
	for room := range joined {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

func (r *roomRegistry) isMember(room string, c *conn) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room][c]
	return ok
}

func (r *roomRegistry) count(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}
