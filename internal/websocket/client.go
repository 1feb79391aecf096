package websocket

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 65536

	sendBufferSize = 256
)

// Client is one WebSocket connection. It is the realtime.Sink of its session.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger
}

// NewClient creates a new client
func NewClient(conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: logger,
	}
}

// Deliver queues a frame for the write pump. It never blocks: a client that
// cannot keep up loses frames rather than stalling the publisher.
func (c *Client) Deliver(frame []byte) {
	select {
	case c.send <- frame:
	default:
		c.logger.Warn("client send buffer full, dropping message")
	}
}

// ReadPump forwards text frames to inbound until the connection fails or ctx
// is done. inbound is closed on return.
func (c *Client) ReadPump(ctx context.Context, inbound chan<- []byte) {
	defer close(inbound)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		kind, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		select {
		case inbound <- message:
		case <-ctx.Done():
			return
		}
	}
}

// WritePump writes queued frames, one WebSocket message each, and keeps the
// connection alive with pings. The connection is closed on return.
func (c *Client) WritePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.SetWriteDeadline(deadline())
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(deadline())
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(deadline())
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func deadline() time.Time {
	return time.Now().Add(writeWait)
}
