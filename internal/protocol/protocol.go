// Package protocol is the end-to-end message format on a peer data channel.
//
// Binary messages are msgpack encoded Chunk frames of an audio payload.
// Text messages are JSON control messages ({"type":"ready"} and
// {"type":"play"}); any other text is chat.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Control message types.
const (
	TypeReady = "ready"
	TypePlay  = "play"
)

var ErrPayloadDecode = errors.New("payload decode failure")

// Kind tags a decoded data-channel message.
type Kind int

const (
	KindChunk Kind = iota + 1
	KindReady
	KindPlay
	KindChat
)

func (k Kind) String() string {
	switch k {
	case KindChunk:
		return "chunk"
	case KindReady:
		return "ready"
	case KindPlay:
		return "play"
	case KindChat:
		return "chat"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Chunk is one slice of a distributed payload. Frames of a distribution are
// sent in order on a reliable ordered channel, so Offset always equals the
// number of bytes the receiver already holds.
type Chunk struct {
	Distribution string `msgpack:"distribution"`
	Offset       uint64 `msgpack:"offset"`
	Size         uint64 `msgpack:"size"`
	Title        string `msgpack:"title,omitempty"`
	Bytes        []byte `msgpack:"bytes"`
}

// Final reports whether c completes its payload.
func (c *Chunk) Final() bool {
	return c.Offset+uint64(len(c.Bytes)) >= c.Size
}

// Control is the JSON shape of text control messages.
type Control struct {
	Type         string `json:"type"`
	Distribution string `json:"distribution,omitempty"`
}

// Message is a decoded data-channel message. Exactly one of Chunk, the
// control fields, or Text is meaningful, according to Kind.
type Message struct {
	Kind         Kind
	Chunk        *Chunk
	Distribution string
	Text         string
}

// Decode classifies one incoming data-channel message.
func Decode(data []byte, isString bool) (Message, error) {
	if !isString {
		var c Chunk
		if err := msgpack.Unmarshal(data, &c); err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrPayloadDecode, err)
		}
		return Message{Kind: KindChunk, Chunk: &c}, nil
	}

	var ctrl Control
	if err := json.Unmarshal(data, &ctrl); err == nil {
		switch ctrl.Type {
		case TypeReady:
			return Message{Kind: KindReady, Distribution: ctrl.Distribution}, nil
		case TypePlay:
			return Message{Kind: KindPlay, Distribution: ctrl.Distribution}, nil
		}
	}
	return Message{Kind: KindChat, Text: string(data)}, nil
}

// EncodeChunk returns the binary frame for c.
func EncodeChunk(c Chunk) ([]byte, error) {
	return msgpack.Marshal(&c)
}

// Ready returns the acknowledgment sent once a distribution is fully held.
func Ready(distribution string) string {
	return encodeControl(Control{Type: TypeReady, Distribution: distribution})
}

// Play returns the playback trigger.
func Play(distribution string) string {
	return encodeControl(Control{Type: TypePlay, Distribution: distribution})
}

func encodeControl(c Control) string {
	data, _ := json.Marshal(c)
	return string(data)
}
