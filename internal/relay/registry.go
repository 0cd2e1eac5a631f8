package relay

import (
	"errors"
	"sync"

	"github.com/duocall/duocall/internal/util"
)

// ErrRoomFull is returned by Join when a room already holds two members.
var ErrRoomFull = errors.New("room is full")

// maxOccupancy is the hard room capacity. The whole negotiation protocol is
// pairwise; a third member would have no defined role.
const maxOccupancy = 2

// Departure describes a membership removal, so the caller can notify the
// remaining members.
type Departure struct {
	RoomID    string
	Remaining []string
}

// Registry is the in-memory room membership table. It is the single owner
// of the occupancy invariant: no room ever holds more than two members, and
// no participant is ever in two rooms at once.
//
// All methods are atomic under one mutex. Rooms are created implicitly on
// first join and deleted when the last member leaves.
type Registry struct {
	mu     sync.Mutex
	rooms  map[string][]string // roomID → member ids, join order preserved
	roomOf map[string]string   // participant id → roomID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[string][]string),
		roomOf: make(map[string]string),
	}
}

// Join adds id to roomID. It returns the room's occupancy after the join,
// and, if the participant was a member of a different room, the Departure
// from that room (performed atomically before the join).
//
// A full room rejects with ErrRoomFull and no state change, including no
// implicit departure, so a failed room switch leaves the participant where
// it was. Re-joining the current room is a no-op reporting the current
// occupancy.
func (r *Registry) Join(roomID, id string) (int, *Departure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.roomOf[id] == roomID {
		return len(r.rooms[roomID]), nil, nil
	}

	if len(r.rooms[roomID]) >= maxOccupancy {
		return 0, nil, ErrRoomFull
	}

	var left *Departure
	if prev, ok := r.roomOf[id]; ok {
		left = r.removeLocked(prev, id)
	}

	if _, ok := r.rooms[roomID]; !ok {
		util.Stats.AddRoom()
	}
	r.rooms[roomID] = append(r.rooms[roomID], id)
	r.roomOf[id] = roomID

	return len(r.rooms[roomID]), left, nil
}

// Leave removes id from roomID. It reports whether the participant was
// actually a member, and the ids remaining in the room. Idempotent: leaving
// twice, or leaving a room never joined, changes nothing.
func (r *Registry) Leave(roomID, id string) (bool, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.roomOf[id] != roomID {
		return false, nil
	}
	dep := r.removeLocked(roomID, id)
	return true, dep.Remaining
}

// Remove drops id from whatever room it occupies, returning the Departure,
// or nil if the participant was not in any room. Used on disconnect.
func (r *Registry) Remove(id string) *Departure {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID, ok := r.roomOf[id]
	if !ok {
		return nil
	}
	return r.removeLocked(roomID, id)
}

// Members returns a copy of the room's member ids in join order.
func (r *Registry) Members(roomID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.rooms[roomID]
	out := make([]string, len(members))
	copy(out, members)
	return out
}

// Occupancy returns the room's current member count.
func (r *Registry) Occupancy(roomID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms[roomID])
}

// RoomOf returns the room the participant currently occupies, if any.
func (r *Registry) RoomOf(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	roomID, ok := r.roomOf[id]
	return roomID, ok
}

// removeLocked deletes id from roomID, reaping the room if it empties.
// Caller holds r.mu; id must be a member of roomID.
func (r *Registry) removeLocked(roomID, id string) *Departure {
	members := r.rooms[roomID]
	remaining := make([]string, 0, len(members))
	for _, m := range members {
		if m != id {
			remaining = append(remaining, m)
		}
	}

	if len(remaining) == 0 {
		delete(r.rooms, roomID)
	} else {
		r.rooms[roomID] = remaining
	}
	delete(r.roomOf, id)

	return &Departure{RoomID: roomID, Remaining: remaining}
}
