package ws

import (
	"sync"

	"github.com/samber/lo"
)

// Rooms tracks which connections receive a room's broadcasts.
// Membership lives only as long as the connection.
type Rooms struct {
	mu       sync.RWMutex
	members  map[string]map[*Client]struct{}
	memberOf map[*Client]map[string]struct{}
}

func NewRooms() *Rooms {
	return &Rooms{
		members:  make(map[string]map[*Client]struct{}),
		memberOf: make(map[*Client]map[string]struct{}),
	}
}

// Join adds c to room. Joining twice is a no-op.
func (r *Rooms) Join(c *Client, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.members[room] == nil {
		r.members[room] = make(map[*Client]struct{})
	}
	r.members[room][c] = struct{}{}

	if r.memberOf[c] == nil {
		r.memberOf[c] = make(map[string]struct{})
	}
	r.memberOf[c][room] = struct{}{}
}

// Leave removes c from room
func (r *Rooms) Leave(c *Client, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leave(c, room)
}

func (r *Rooms) leave(c *Client, room string) {
	if m, ok := r.members[room]; ok {
		delete(m, c)
		if len(m) == 0 {
			delete(r.members, room)
		}
	}
	if rooms, ok := r.memberOf[c]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(r.memberOf, c)
		}
	}
}

// LeaveAll removes c from every room and returns the rooms it was in
func (r *Rooms) LeaveAll(c *Client) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms := lo.Keys(r.memberOf[c])
	for _, room := range rooms {
		r.leave(c, room)
	}
	return rooms
}

// Members returns a snapshot of the connections in room
func (r *Rooms) Members(room string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.members[room])
}

// In reports whether c is a member of room
func (r *Rooms) In(c *Client, room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[room][c]
	return ok
}
