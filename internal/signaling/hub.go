package signaling

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BioHazard786/syncwave/internal/acquire"
	"github.com/BioHazard786/syncwave/internal/metrics"
)

// DefaultDownloadTimeout bounds a single media acquisition.
const DefaultDownloadTimeout = 2 * time.Minute

type inbound struct {
	client *Client
	msg    *Message
}

// Hub is the central brain of the signaling server. A single goroutine
// (Run) sequences connection lifecycle and request handling; room state
// itself lives in the Directory, which is safe to call from anywhere.
type Hub struct {
	dir     *Directory
	fetcher acquire.Fetcher
	timeout time.Duration
	logger  *zap.Logger

	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	done       chan struct{}

	downloads sync.WaitGroup
}

// NewHub creates a hub over dir. A nil fetcher disables download-song.
func NewHub(dir *Directory, fetcher acquire.Fetcher, downloadTimeout time.Duration, logger *zap.Logger) *Hub {
	if downloadTimeout <= 0 {
		downloadTimeout = DefaultDownloadTimeout
	}
	return &Hub{
		dir:        dir,
		fetcher:    fetcher,
		timeout:    downloadTimeout,
		logger:     logger,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound, 256),
		done:       make(chan struct{}),
	}
}

// Register hands a freshly accepted connection to the hub.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.closeSend()
	}
}

// Unregister reports a lost connection.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Dispatch queues a decoded request from c.
func (h *Hub) Dispatch(c *Client, msg *Message) {
	select {
	case h.inbound <- inbound{client: c, msg: msg}:
	case <-h.done:
	}
}

// Run starts the hub's main processing loop and blocks until ctx is done.
// Pending downloads are waited for before it returns.
func (h *Hub) Run(ctx context.Context) {
	defer h.downloads.Wait()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.dir.Connect(client)
			client.Deliver(Connected(client.ID()))
			client.logger.Debug("client registered")

		case client := <-h.unregister:
			h.dir.Leave(client)
			client.closeSend()
			client.logger.Debug("client unregistered")

		case in := <-h.inbound:
			h.handle(ctx, in.client, in.msg)
		}
	}
}

func (h *Hub) handle(ctx context.Context, c *Client, msg *Message) {
	if msg.IsSignal() {
		h.relay(c, msg)
		return
	}

	switch msg.Type {
	case KindCreateRoom:
		if h.dir.CreateRoom(c) == "" {
			c.logger.Debug("create-room after disconnect ignored")
		}

	case KindJoinRoom:
		// ErrRoomNotFound has already been answered with room-not-found.
		if _, err := h.dir.JoinRoom(c, NormalizeRoomID(msg.RoomID)); errors.Is(err, ErrNotConnected) {
			c.logger.Debug("join-room after disconnect ignored")
		}

	case KindDownloadSong:
		if h.fetcher == nil {
			c.Deliver(DownloadError("Downloads are disabled on this server."))
			return
		}
		h.downloads.Add(1)
		go h.download(ctx, c.ID(), msg.URL)

	default:
		c.logger.Debug("ignoring message", zap.String("type", string(msg.Type)))
	}
}

func (h *Hub) relay(c *Client, msg *Message) {
	if msg.Target == "" {
		c.Deliver(Error("target required"))
		return
	}
	switch err := h.dir.Relay(c, msg); {
	case err == nil, errors.Is(err, ErrRelayTargetUnreachable):
	case errors.Is(err, ErrNotConnected):
		c.logger.Debug("relay after disconnect ignored", zap.String("type", string(msg.Type)))
	default:
		c.logger.Warn("relay failed", zap.Error(err))
	}
}

// download runs off the hub loop so a slow fetch never delays signaling.
// Results go through the directory because the requester may be gone.
func (h *Hub) download(ctx context.Context, member, reference string) {
	defer h.downloads.Done()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	logger := h.logger.With(zap.String("member", member), zap.String("reference", reference))

	start := time.Now()
	track, err := h.fetcher.Fetch(ctx, reference, func(title string) {
		_ = h.dir.Send(member, DownloadStart(title))
	})
	if err != nil {
		outcome := "fetch_failed"
		if errors.Is(err, acquire.ErrInvalidReference) {
			outcome = "invalid_reference"
		}
		metrics.DownloadsTotal.WithLabelValues(outcome).Inc()
		logger.Info("download failed", zap.Error(err))
		_ = h.dir.Send(member, DownloadError(acquire.UserMessage(err)))
		return
	}

	metrics.DownloadsTotal.WithLabelValues("ok").Inc()
	metrics.DownloadBytes.Observe(float64(len(track.Data)))
	logger.Info("download complete",
		zap.String("title", track.Title),
		zap.Int("bytes", len(track.Data)),
		zap.Duration("took", time.Since(start)),
	)

	if err := h.dir.Send(member, SongDownloaded(track.Title, track.Data)); err != nil {
		logger.Warn("requester unavailable for song", zap.Error(err))
	}
}
