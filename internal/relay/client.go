package relay

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/duocall/duocall/internal/signal"
	"github.com/duocall/duocall/internal/util"
)

const (
	// Time allowed to write a message to the participant.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the participant.
	pongWait = 60 * time.Second

	// Send pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from a participant. SDP offers for an
	// audio+video session fit comfortably below this.
	maxMessageSize = 64 * 1024

	// Outbound queue capacity per participant.
	sendBufferSize = 64
)

// client is one relay-connected participant: a websocket connection plus a
// buffered outbound queue drained by a dedicated writer goroutine.
type client struct {
	id   string
	conn *websocket.Conn
	send chan *signal.Envelope
}

func newClient(id string, conn *websocket.Conn) *client {
	return &client{
		id:   id,
		conn: conn,
		send: make(chan *signal.Envelope, sendBufferSize),
	}
}

// enqueue queues an envelope for delivery. A participant that cannot keep
// up has the message dropped rather than blocking the room.
func (c *client) enqueue(env *signal.Envelope) {
	select {
	case c.send <- env:
	default:
		util.LogWarning("participant %s send queue full, dropping %s", c.id, env.Kind)
	}
}

// readPump reads envelopes from the connection and hands them to the relay.
// It runs in a per-connection goroutine and owns all reads. On any read
// error (including abnormal close) it triggers the relay's disconnect path.
func (c *client) readPump(r *Relay) {
	defer r.disconnect(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var env signal.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				util.LogDebug("participant %s read error: %v", c.id, err)
			}
			return
		}
		r.handle(c, &env)
	}
}

// writePump drains the send queue to the connection and keeps the
// connection alive with pings. It owns all writes.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
