package hub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ennuiii/gamebuddies-server/internal/logging"
	"github.com/ennuiii/gamebuddies-server/internal/metrics"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// writeWait bounds how long a single outbound frame write may block.
	writeWait = 10 * time.Second

	// pongWait is the client-silence timeout, tolerant of backgrounded
	// mobile clients.
	pongWait = 5 * time.Minute

	// pingInterval must be comfortably under pongWait; at ~25s it gives
	// several missed-pong chances before the connection is reaped.
	pingInterval = 25 * time.Second

	// maxFrameSize caps a single inbound frame.
	maxFrameSize = 1 << 20 // 1 MiB

	// sendBufferSize is the outbound channel depth before a slow client's
	// sends are dropped rather than blocking the room.
	sendBufferSize = 64
)

// wsConn is the subset of *websocket.Conn a Connection needs, allowing
// tests to substitute a fake.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
}

// Connection represents one accepted transport connection. It owns the
// read/write pumps and a buffered outbound channel so a slow client cannot
// block the room's broadcast path.
type Connection struct {
	id            string
	correlationID string
	conn          wsConn
	send          chan []byte
	hub           *Hub
}

// ConnectionID satisfies plugin.Connection.
func (c *Connection) ConnectionID() string { return c.id }

func newConnection(id string, conn wsConn, hub *Hub) *Connection {
	return &Connection{
		id:            id,
		correlationID: id,
		conn:          conn,
		send:          make(chan []byte, sendBufferSize),
		hub:           hub,
	}
}

// enqueue pushes data to the connection's outbound channel, dropping it if
// the buffer is full rather than blocking the caller. A dropped send to a
// connection that's already being torn down is expected and silent.
func (c *Connection) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
		logging.Warn(context.Background(), "connection send buffer full, dropping frame",
			zap.String("connection_id", c.id))
	}
}

func (c *Connection) sendFrame(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logging.Error(context.Background(), "failed to marshal outbound payload", zap.Error(err))
		return
	}
	frame := Frame{Event: event, Payload: data}
	out, err := json.Marshal(frame)
	if err != nil {
		logging.Error(context.Background(), "failed to marshal outbound frame", zap.Error(err))
		return
	}
	c.enqueue(out)
}

func (c *Connection) sendError(message, code string) {
	c.sendFrame("error", ErrorPayload{Message: message, Code: code})
}

// readPump reads frames until the connection errors or times out, then
// hands off to the hub for disconnect cleanup.
func (c *Connection) readPump() {
	defer func() {
		c.hub.handleDisconnect(c)
		c.conn.Close()
		metrics.DecConnection()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.sendError("malformed frame", "")
			continue
		}

		ctx := logging.WithPlayer(context.Background(), c.id)
		c.hub.dispatch(ctx, c, frame)
	}
}

// writePump drains the outbound channel to the socket and emits periodic
// pings to keep intermediaries from closing an idle connection.
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
