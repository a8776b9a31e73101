// Package sigclient is the participant side of the relay connection.
package sigclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/BioHazard786/syncwave/internal/dns"
	"github.com/BioHazard786/syncwave/internal/signaling"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	handshakeTimeout = 15 * time.Second
	outgoingBuffer   = 64
)

var ErrClosed = errors.New("signaling connection closed")

// Client manages the WebSocket connection to the relay server.
type Client struct {
	serverURL string
	readLimit int64
	logger    *zap.Logger

	conn      *websocket.Conn
	incoming  chan *signaling.Message
	outgoing  chan *signaling.Message
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient returns a client for serverURL. Downloaded tracks arrive over
// this connection base64 encoded, so the read limit follows maxPayload.
func NewClient(serverURL string, maxPayload uint64, logger *zap.Logger) *Client {
	return &Client{
		serverURL: serverURL,
		readLimit: int64(maxPayload)*4/3 + 64*1024,
		logger:    logger,
		incoming:  make(chan *signaling.Message, 16),
		outgoing:  make(chan *signaling.Message, outgoingBuffer),
		done:      make(chan struct{}),
	}
}

// Connect dials the server and starts the pumps.
func (c *Client) Connect(ctx context.Context) error {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
		NetDialContext:   dns.DialContext,
	}

	conn, _, err := dialer.DialContext(ctx, c.serverURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	c.conn = conn

	c.conn.SetReadLimit(c.readLimit)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()
	return nil
}

func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("signaling read", zap.Error(err))
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := signaling.Decode(data)
		if err != nil {
			c.logger.Warn("dropping malformed envelope", zap.Error(err))
			continue
		}

		select {
		case c.incoming <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Warn("signaling write", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// SendMessage queues msg for the server.
func (c *Client) SendMessage(msg *signaling.Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Incoming yields decoded envelopes until the connection drops.
func (c *Client) Incoming() <-chan *signaling.Message {
	return c.incoming
}

// Close shuts the connection down. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) CreateRoom() error {
	return c.SendMessage(&signaling.Message{Type: signaling.KindCreateRoom})
}

func (c *Client) JoinRoom(roomID string) error {
	return c.SendMessage(&signaling.Message{Type: signaling.KindJoinRoom, RoomID: roomID})
}

// RequestDownload asks the server to fetch the track at reference.
func (c *Client) RequestDownload(reference string) error {
	return c.SendMessage(&signaling.Message{Type: signaling.KindDownloadSong, URL: reference})
}

func (c *Client) SendOffer(target string, payload json.RawMessage) error {
	return c.signal(signaling.KindOffer, target, payload)
}

func (c *Client) SendAnswer(target string, payload json.RawMessage) error {
	return c.signal(signaling.KindAnswer, target, payload)
}

func (c *Client) SendCandidate(target string, payload json.RawMessage) error {
	return c.signal(signaling.KindICECandidate, target, payload)
}

func (c *Client) signal(kind signaling.Kind, target string, payload json.RawMessage) error {
	return c.SendMessage(&signaling.Message{Type: kind, Target: target, Payload: payload})
}
