package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 4096                // Maximum frame size allowed from peer.
)

// Client pumps frames between one websocket connection and its session.
type Client struct {
	session *Session
	conn    *websocket.Conn
	log     *slog.Logger
}

func NewClient(session *Session, conn *websocket.Conn, log *slog.Logger) *Client {
	return &Client{session: session, conn: conn, log: log}
}

// ReadPump feeds client frames to the session until the connection fails,
// then closes the session.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.session.Close(ctx)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("Websocket read failed", "session_id", c.session.ID(), "error", err)
			}
			return
		}
		c.session.HandleFrame(ctx, message)
	}
}

// WritePump writes queued frames, one websocket message each, and keeps
// the connection alive with pings. It exits when the session closes its
// outbound queue or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	outbound := c.session.Outbound()
	for {
		select {
		case message, ok := <-outbound:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
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
