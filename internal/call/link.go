package call

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/duocall/duocall/internal/signal"
	"github.com/duocall/duocall/internal/util"
)

// link is the orchestrator's connection to the relay: a websocket with a
// mutex-guarded writer and a read loop that converts inbound envelopes into
// machine events.
type link struct {
	conn *websocket.Conn

	mu        sync.Mutex
	closeOnce sync.Once
}

// dialLink connects to the relay's websocket endpoint.
func dialLink(ctx context.Context, url string) (*link, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to relay: %w", err)
	}
	return &link{conn: conn}, nil
}

// send writes one envelope, serialized across goroutines.
func (l *link) send(env *signal.Envelope) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn.WriteJSON(env)
}

// readLoop reads envelopes until the connection dies, handing each to push
// as an event. The final event is always evLinkClosed.
func (l *link) readLoop(push func(event)) {
	defer push(evLinkClosed{})

	for {
		var env signal.Envelope
		if err := l.conn.ReadJSON(&env); err != nil {
			return
		}

		switch env.Kind {
		case signal.KindRoomInfo:
			push(evRoomInfo{numUsers: env.NumUsers})
		case signal.KindUserJoined:
			push(evPeerJoined{id: env.UserID})
		case signal.KindUserLeft:
			push(evPeerLeft{id: env.UserID})
		case signal.KindRoomFull:
			push(evRoomFull{message: env.Message})
		case signal.KindOffer:
			push(evOffer{payload: env.Payload})
		case signal.KindAnswer:
			push(evAnswer{payload: env.Payload})
		case signal.KindICECandidate:
			push(evRemoteCandidate{payload: env.Payload})
		default:
			util.LogWarning("relay sent unknown message type %q", env.Kind)
		}
	}
}

// close shuts the websocket down. Safe to call more than once.
func (l *link) close() {
	l.closeOnce.Do(func() {
		l.conn.Close()
	})
}
