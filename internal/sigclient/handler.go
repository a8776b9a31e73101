package sigclient

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/BioHazard786/syncwave/internal/signaling"
)

// Events receives membership changes and relayed handshake signals.
// The participant's peer.Node implements it.
type Events interface {
	SetSelf(id string)
	MemberJoined(member string)
	MemberLeft(member string)
	Offer(from string, payload json.RawMessage)
	Answer(from string, payload json.RawMessage)
	Candidate(from string, payload json.RawMessage)
}

// Track is a downloaded song delivered by the server.
type Track struct {
	Title string
	Audio []byte
}

// Handler routes incoming envelopes. Mesh traffic goes to Events; room and
// download outcomes go to the channels for the session flow to consume.
type Handler struct {
	client *Client
	logger *zap.Logger

	Connected     chan string
	RoomCreated   chan string
	RoomJoined    chan []string
	NotFound      chan struct{}
	Error         chan string
	DownloadStart chan string
	Downloaded    chan *Track
	DownloadError chan string

	// Disconnected is closed once the connection is gone.
	Disconnected chan struct{}
}

func NewHandler(client *Client, logger *zap.Logger) *Handler {
	return &Handler{
		client:        client,
		logger:        logger,
		Connected:     make(chan string, 1),
		RoomCreated:   make(chan string, 1),
		RoomJoined:    make(chan []string, 1),
		NotFound:      make(chan struct{}, 1),
		Error:         make(chan string, 4),
		DownloadStart: make(chan string, 4),
		Downloaded:    make(chan *Track, 2),
		DownloadError: make(chan string, 4),
		Disconnected:  make(chan struct{}),
	}
}

// Start routes messages until the connection closes.
func (h *Handler) Start(events Events) {
	defer close(h.Disconnected)

	for msg := range h.client.Incoming() {
		switch msg.Type {
		case signaling.KindConnected:
			events.SetSelf(msg.Member)
			notify(h.Connected, msg.Member)

		case signaling.KindRoomCreated:
			notify(h.RoomCreated, msg.RoomID)

		case signaling.KindRoomJoined:
			// Existing members initiate toward us; nothing to start here.
			notify(h.RoomJoined, msg.Members)

		case signaling.KindRoomNotFound:
			notify(h.NotFound, struct{}{})

		case signaling.KindUserJoined:
			events.MemberJoined(msg.Member)

		case signaling.KindUserLeft:
			events.MemberLeft(msg.Member)

		case signaling.KindOffer:
			events.Offer(msg.From, msg.Payload)

		case signaling.KindAnswer:
			events.Answer(msg.From, msg.Payload)

		case signaling.KindICECandidate:
			events.Candidate(msg.From, msg.Payload)

		case signaling.KindDownloadStart:
			notify(h.DownloadStart, msg.Title)

		case signaling.KindSongDownloaded:
			notify(h.Downloaded, &Track{Title: msg.Title, Audio: msg.Audio})

		case signaling.KindDownloadError:
			notify(h.DownloadError, msg.Error)

		case signaling.KindError:
			notify(h.Error, msg.Error)

		default:
			h.logger.Debug("ignoring envelope", zap.String("type", string(msg.Type)))
		}
	}
}

// notify sends v unless ch is full.
func notify[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}
