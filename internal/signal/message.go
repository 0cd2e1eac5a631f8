// Package signal defines the JSON message schema exchanged between
// participants and the relay during signaling.
package signal

import "encoding/json"

// Kind identifies the kind of signaling message.
type Kind string

// Client → relay.
const (
	KindJoinRoom  Kind = "join-room"
	KindLeaveRoom Kind = "leave-room"
)

// Relayed between participants. The relay forwards these without inspecting
// the payload.
const (
	KindOffer        Kind = "offer"
	KindAnswer       Kind = "answer"
	KindICECandidate Kind = "ice-candidate"
)

// Relay → client.
const (
	KindUserJoined Kind = "user-joined"
	KindUserLeft   Kind = "user-left"
	KindRoomInfo   Kind = "room-info"
	KindRoomFull   Kind = "room-full"
)

// Envelope is the wire structure for every signaling message. Fields are
// populated according to Kind; unused fields are omitted.
//
// Payload carries the negotiation blob (SDP or ICE candidate) and is opaque
// to the relay, which forwards it byte for byte. From is stamped by the relay
// on forwarded envelopes; a value supplied by the sender is overwritten.
type Envelope struct {
	Kind     Kind            `json:"type"`
	RoomID   string          `json:"roomId,omitempty"`
	From     string          `json:"from,omitempty"`
	UserID   string          `json:"userId,omitempty"`
	NumUsers int             `json:"numUsers,omitempty"`
	Message  string          `json:"message,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Relayable reports whether k is a negotiation message the relay forwards
// to the other room members.
func Relayable(k Kind) bool {
	switch k {
	case KindOffer, KindAnswer, KindICECandidate:
		return true
	}
	return false
}
