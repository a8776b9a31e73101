package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind is the tag of a relay envelope.
type Kind string

// Client to server.
const (
	KindCreateRoom   Kind = "create-room"
	KindJoinRoom     Kind = "join-room"
	KindDownloadSong Kind = "download-song"
)

// Server to client.
const (
	KindConnected      Kind = "connected"
	KindRoomCreated    Kind = "room-created"
	KindRoomJoined     Kind = "room-joined"
	KindRoomNotFound   Kind = "room-not-found"
	KindUserJoined     Kind = "user-joined"
	KindUserLeft       Kind = "user-left"
	KindDownloadStart  Kind = "download-start"
	KindSongDownloaded Kind = "song-downloaded"
	KindDownloadError  Kind = "download-error"
	KindError          Kind = "error"
)

// Relayed in both directions. Outbound envelopes carry Target, the relayed
// copy carries From instead.
const (
	KindOffer        Kind = "offer"
	KindAnswer       Kind = "answer"
	KindICECandidate Kind = "ice-candidate"
)

var (
	ErrUnknownKind = errors.New("unknown message type")
	ErrMalformed   = errors.New("malformed message")
)

// Message is the single envelope exchanged with the relay server.
// Which fields are meaningful depends on Type; Decode enforces them.
type Message struct {
	Type    Kind            `json:"type"`
	RoomID  string          `json:"room_id,omitempty"`
	Member  string          `json:"member,omitempty"`
	Members []string        `json:"members,omitempty"`
	Target  string          `json:"target,omitempty"`
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	URL     string          `json:"url,omitempty"`
	Title   string          `json:"title,omitempty"`
	Audio   []byte          `json:"audio,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// IsSignal reports whether the envelope is one of the relayed handshake kinds.
func (m *Message) IsSignal() bool {
	switch m.Type {
	case KindOffer, KindAnswer, KindICECandidate:
		return true
	}
	return false
}

// Decode parses a raw frame and validates the fields its kind requires.
// Everything downstream switches on Type and trusts the rest.
func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := msg.validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (m *Message) validate() error {
	switch m.Type {
	case KindCreateRoom, KindRoomNotFound:
		return nil

	case KindJoinRoom, KindRoomCreated, KindRoomJoined:
		if m.RoomID == "" {
			return malformed(m.Type, "room_id")
		}

	case KindConnected, KindUserJoined, KindUserLeft:
		if m.Member == "" {
			return malformed(m.Type, "member")
		}

	case KindOffer, KindAnswer, KindICECandidate:
		if len(m.Payload) == 0 {
			return malformed(m.Type, "payload")
		}
		if m.Target == "" && m.From == "" {
			return malformed(m.Type, "target")
		}

	case KindDownloadSong:
		if m.URL == "" {
			return malformed(m.Type, "url")
		}

	case KindSongDownloaded:
		if len(m.Audio) == 0 {
			return malformed(m.Type, "audio")
		}

	case KindDownloadStart, KindDownloadError, KindError:
		return nil

	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, m.Type)
	}
	return nil
}

func malformed(kind Kind, field string) error {
	return fmt.Errorf("%w: %s requires %s", ErrMalformed, kind, field)
}

// Constructors for the server to client envelopes.

func Connected(member string) *Message {
	return &Message{Type: KindConnected, Member: member}
}

func RoomCreated(roomID string) *Message {
	return &Message{Type: KindRoomCreated, RoomID: roomID}
}

func RoomJoined(roomID string, members []string) *Message {
	return &Message{Type: KindRoomJoined, RoomID: roomID, Members: members}
}

func RoomNotFound() *Message {
	return &Message{Type: KindRoomNotFound}
}

func UserJoined(member string) *Message {
	return &Message{Type: KindUserJoined, Member: member}
}

func UserLeft(member string) *Message {
	return &Message{Type: KindUserLeft, Member: member}
}

func DownloadStart(title string) *Message {
	return &Message{Type: KindDownloadStart, Title: title}
}

func SongDownloaded(title string, audio []byte) *Message {
	return &Message{Type: KindSongDownloaded, Title: title, Audio: audio}
}

func DownloadError(reason string) *Message {
	return &Message{Type: KindDownloadError, Error: reason}
}

func Error(reason string) *Message {
	return &Message{Type: KindError, Error: reason}
}
