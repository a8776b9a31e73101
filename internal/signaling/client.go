package signaling

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to write a message carrying an audio payload.
	audioWriteWait = 2 * time.Minute

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024 // 64 KB - enough for WebRTC SDP messages

	sendBufferSize = 256
)

// Client is a wrapper for a single websocket connection (a member).
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	id   string

	mu     sync.Mutex
	send   chan *Message
	closed bool

	logger *zap.Logger
}

// NewClient wraps conn. The id is the member identifier other participants
// use to address this connection.
func NewClient(hub *Hub, conn *websocket.Conn, id string) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		id:     id,
		send:   make(chan *Message, sendBufferSize),
		logger: hub.logger.With(zap.String("member", id)),
	}
}

// ID implements Member.
func (c *Client) ID() string {
	return c.id
}

// Deliver implements Member. A full buffer means the connection is not
// keeping up; the message is dropped rather than stalling the directory.
func (c *Client) Deliver(msg *Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// closeSend stops the write pump. Safe to call more than once.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ReadPump pumps messages from the websocket connection to the hub.
//
// The application runs ReadPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("read failed", zap.Error(err))
			}
			return
		}

		msg, err := Decode(data)
		if err != nil {
			c.logger.Debug("rejected message", zap.Error(err))
			c.Deliver(Error(err.Error()))
			continue
		}

		c.hub.Dispatch(c, msg)
	}
}

// WritePump pumps messages from the hub to the websocket connection.
//
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// The hub closed the channel.
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			deadline := writeWait
			if len(message.Audio) > 0 {
				deadline = audioWriteWait
			}
			c.conn.SetWriteDeadline(time.Now().Add(deadline))

			data, err := json.Marshal(message)
			if err != nil {
				c.logger.Error("encode message", zap.Error(err), zap.String("type", string(message.Type)))
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
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
