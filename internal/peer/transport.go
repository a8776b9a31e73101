package peer

import (
	"encoding/json"
	"fmt"
)

// ConnectionState is the transport's view of a peer connection.
type ConnectionState int

const (
	ConnectionNew ConnectionState = iota
	ConnectionConnecting
	ConnectionConnected
	ConnectionDisconnected
	ConnectionFailed
	ConnectionClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionNew:
		return "new"
	case ConnectionConnecting:
		return "connecting"
	case ConnectionConnected:
		return "connected"
	case ConnectionDisconnected:
		return "disconnected"
	case ConnectionFailed:
		return "failed"
	case ConnectionClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Transport is the point-to-point connection capability a session drives.
// Descriptors and candidates are opaque JSON, relayed untouched.
//
// Callbacks may fire on any goroutine.
type Transport interface {
	// CreateOffer produces and applies a local offer.
	CreateOffer() (json.RawMessage, error)

	// CreateAnswer applies remoteOffer, then produces and applies a local answer.
	CreateAnswer(remoteOffer json.RawMessage) (json.RawMessage, error)

	SetRemoteDescription(desc json.RawMessage) error
	AddRemoteCandidate(candidate json.RawMessage) error

	OnLocalCandidate(f func(candidate json.RawMessage))
	OnConnectionStateChange(f func(ConnectionState))

	CreateDataChannel(label string) (DataChannel, error)
	OnDataChannel(f func(DataChannel))

	Close() error
}

// DataChannel is an ordered, reliable message channel to one peer.
type DataChannel interface {
	Label() string

	Send(data []byte) error
	SendText(text string) error

	OnOpen(f func())
	OnClose(f func())
	OnMessage(f func(data []byte, isString bool))

	IsOpen() bool
	BufferedAmount() uint64
	SetBufferedAmountLowThreshold(threshold uint64)
	OnBufferedAmountLow(f func())

	Close() error
}

// TransportFactory makes a fresh transport for each session.
type TransportFactory func() (Transport, error)
