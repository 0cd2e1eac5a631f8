// Package relay implements the signaling relay: room membership tracking
// with a two-party capacity limit, and forwarding of negotiation envelopes
// between the members of a room.
package relay

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/duocall/duocall/internal/signal"
	"github.com/duocall/duocall/internal/util"
)

// Relay terminates participant connections and routes signaling traffic by
// room. Membership state lives in the Registry, which is passed in as an
// explicit dependency; Relay is its sole mutator.
type Relay struct {
	registry *Registry

	mu      sync.Mutex
	clients map[string]*client
}

// New creates a Relay over the given registry.
func New(registry *Registry) *Relay {
	return &Relay{
		registry: registry,
		clients:  make(map[string]*client),
	}
}

// Accept takes ownership of an upgraded websocket connection, assigns the
// participant an id, and starts its read/write pumps. It returns the
// assigned id.
func (r *Relay) Accept(conn *websocket.Conn) string {
	c := newClient(uuid.NewString(), conn)

	r.mu.Lock()
	r.clients[c.id] = c
	r.mu.Unlock()

	util.LogDebug("participant %s connected", c.id)

	go c.writePump()
	go c.readPump(r)

	return c.id
}

// handle processes one inbound envelope from a participant.
func (r *Relay) handle(c *client, env *signal.Envelope) {
	switch {
	case env.Kind == signal.KindJoinRoom:
		r.handleJoin(c, env.RoomID)
	case env.Kind == signal.KindLeaveRoom:
		r.handleLeave(c, env.RoomID)
	case signal.Relayable(env.Kind):
		r.forward(c, env)
	default:
		util.LogWarning("participant %s sent unknown message type %q", c.id, env.Kind)
	}
}

// handleJoin admits c into roomID, or rejects with room-full. If c occupied
// another room, that room is left first with the usual notifications. The
// capacity check happens before any membership change, so a rejected join
// leaves both rooms untouched.
func (r *Relay) handleJoin(c *client, roomID string) {
	if roomID == "" {
		return
	}

	occupancy, left, err := r.registry.Join(roomID, c.id)
	if err != nil {
		util.Stats.AddRejected()
		util.LogInfo("room %s full, rejecting participant %s", roomID, c.id)
		c.enqueue(&signal.Envelope{
			Kind:    signal.KindRoomFull,
			RoomID:  roomID,
			Message: "room is full",
		})
		return
	}

	if left != nil {
		r.notifyDeparture(c.id, left)
	}

	// Existing members learn about the newcomer; the newcomer learns the
	// occupancy it walked into.
	for _, id := range r.registry.Members(roomID) {
		if id == c.id {
			continue
		}
		r.sendTo(id, &signal.Envelope{
			Kind:   signal.KindUserJoined,
			RoomID: roomID,
			UserID: c.id,
		})
	}
	c.enqueue(&signal.Envelope{
		Kind:     signal.KindRoomInfo,
		RoomID:   roomID,
		NumUsers: occupancy,
	})

	util.LogInfo("participant %s joined room %s (%d/%d)", c.id, roomID, occupancy, maxOccupancy)
}

// handleLeave removes c from roomID. Idempotent: no notifications fire if c
// was not a member.
func (r *Relay) handleLeave(c *client, roomID string) {
	removed, remaining := r.registry.Leave(roomID, c.id)
	if !removed {
		return
	}
	r.notifyDeparture(c.id, &Departure{RoomID: roomID, Remaining: remaining})
	util.LogInfo("participant %s left room %s", c.id, roomID)
}

// forward relays a negotiation envelope to every other member of the room.
// The payload is passed through untouched; only From is stamped. An
// envelope for a room the sender does not occupy, or a room with no other
// members, is dropped silently; senders race their peer's join and
// temporary inconsistency is expected.
func (r *Relay) forward(c *client, env *signal.Envelope) {
	room, ok := r.registry.RoomOf(c.id)
	if !ok || room != env.RoomID {
		util.Stats.AddDropped()
		return
	}

	out := &signal.Envelope{
		Kind:    env.Kind,
		RoomID:  env.RoomID,
		From:    c.id,
		Payload: env.Payload,
	}

	delivered := false
	for _, id := range r.registry.Members(env.RoomID) {
		if id == c.id {
			continue
		}
		r.sendTo(id, out)
		delivered = true
	}

	if delivered {
		util.Stats.AddRelayed()
	} else {
		util.Stats.AddDropped()
	}
}

// disconnect tears down all per-participant state. It runs when the read
// pump exits for any reason, normal close or not, and is equivalent to a
// leave of whatever room the participant occupied.
func (r *Relay) disconnect(c *client) {
	r.mu.Lock()
	if _, ok := r.clients[c.id]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.clients, c.id)
	r.mu.Unlock()

	if left := r.registry.Remove(c.id); left != nil {
		r.notifyDeparture(c.id, left)
	}

	// Closing send stops the write pump. sendTo can no longer reach this
	// client: it was removed from the table above and enqueue happens under
	// the same mutex.
	r.mu.Lock()
	close(c.send)
	r.mu.Unlock()
	c.conn.Close()
	util.LogDebug("participant %s disconnected", c.id)
}

// notifyDeparture tells a room's remaining members that id is gone and
// what the occupancy now is. Only the room's own audience hears it.
func (r *Relay) notifyDeparture(id string, dep *Departure) {
	for _, member := range dep.Remaining {
		r.sendTo(member, &signal.Envelope{
			Kind:   signal.KindUserLeft,
			RoomID: dep.RoomID,
			UserID: id,
		})
		r.sendTo(member, &signal.Envelope{
			Kind:     signal.KindRoomInfo,
			RoomID:   dep.RoomID,
			NumUsers: len(dep.Remaining),
		})
	}
}

// sendTo queues an envelope to a participant by id, if still connected.
// The enqueue happens under the client-table mutex so it cannot race a
// disconnecting client's channel close.
func (r *Relay) sendTo(id string, env *signal.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[id]; ok {
		c.enqueue(env)
	}
}
