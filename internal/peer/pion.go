package peer

import (
	"encoding/json"
	"fmt"

	pion "github.com/pion/webrtc/v4"

	"github.com/BioHazard786/syncwave/internal/config"
	"github.com/BioHazard786/syncwave/internal/utils"
)

// ICEConfig lists the STUN/TURN servers handed to every peer connection.
type ICEConfig struct {
	STUN       []string
	TURN       []string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
}

// ICEConfigFrom builds the ICE settings from participant configuration.
// Relay-only mode is also chosen automatically behind a VPN or CGNAT when a
// TURN server is available.
func ICEConfigFrom(cfg *config.Config) ICEConfig {
	user, pass := cfg.GetTURNCredentials()
	turn := cfg.GetTURNServers()
	return ICEConfig{
		STUN:       cfg.GetSTUNServers(),
		TURN:       turn,
		TURNUser:   user,
		TURNPass:   pass,
		ForceRelay: turn != nil && (cfg.ForceRelay || utils.BehindTunnel()),
	}
}

func (c ICEConfig) configuration() pion.Configuration {
	var servers []pion.ICEServer
	if len(c.STUN) > 0 {
		servers = append(servers, pion.ICEServer{URLs: c.STUN})
	}
	if len(c.TURN) > 0 {
		servers = append(servers, pion.ICEServer{
			URLs:       c.TURN,
			Username:   c.TURNUser,
			Credential: c.TURNPass,
		})
	}

	policy := pion.ICETransportPolicyAll
	if c.ForceRelay && len(c.TURN) > 0 {
		policy = pion.ICETransportPolicyRelay
	}
	return pion.Configuration{
		ICEServers:         servers,
		ICETransportPolicy: policy,
	}
}

// NewPionFactory returns a factory of pion backed transports.
func NewPionFactory(ice ICEConfig) TransportFactory {
	return func() (Transport, error) {
		pc, err := pion.NewPeerConnection(ice.configuration())
		if err != nil {
			return nil, fmt.Errorf("create peer connection: %w", err)
		}
		return &pionTransport{pc: pc}, nil
	}
}

type pionTransport struct {
	pc *pion.PeerConnection
}

func (t *pionTransport) CreateOffer() (json.RawMessage, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	return json.Marshal(t.pc.LocalDescription())
}

func (t *pionTransport) CreateAnswer(remoteOffer json.RawMessage) (json.RawMessage, error) {
	if err := t.SetRemoteDescription(remoteOffer); err != nil {
		return nil, err
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	return json.Marshal(t.pc.LocalDescription())
}

func (t *pionTransport) SetRemoteDescription(desc json.RawMessage) error {
	var sd pion.SessionDescription
	if err := json.Unmarshal(desc, &sd); err != nil {
		return fmt.Errorf("parse session description: %w", err)
	}
	if err := t.pc.SetRemoteDescription(sd); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (t *pionTransport) AddRemoteCandidate(candidate json.RawMessage) error {
	var ice pion.ICECandidateInit
	if err := json.Unmarshal(candidate, &ice); err != nil {
		return fmt.Errorf("parse ICE candidate: %w", err)
	}
	if err := t.pc.AddICECandidate(ice); err != nil {
		return fmt.Errorf("add ICE candidate: %w", err)
	}
	return nil
}

func (t *pionTransport) OnLocalCandidate(f func(json.RawMessage)) {
	t.pc.OnICECandidate(func(c *pion.ICECandidate) {
		// nil marks the end of gathering.
		if c == nil {
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		f(data)
	})
}

func (t *pionTransport) OnConnectionStateChange(f func(ConnectionState)) {
	t.pc.OnConnectionStateChange(func(s pion.PeerConnectionState) {
		f(fromPionState(s))
	})
}

func fromPionState(s pion.PeerConnectionState) ConnectionState {
	switch s {
	case pion.PeerConnectionStateConnecting:
		return ConnectionConnecting
	case pion.PeerConnectionStateConnected:
		return ConnectionConnected
	case pion.PeerConnectionStateDisconnected:
		return ConnectionDisconnected
	case pion.PeerConnectionStateFailed:
		return ConnectionFailed
	case pion.PeerConnectionStateClosed:
		return ConnectionClosed
	}
	return ConnectionNew
}

func (t *pionTransport) CreateDataChannel(label string) (DataChannel, error) {
	ordered := true
	dc, err := t.pc.CreateDataChannel(label, &pion.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	return &pionChannel{dc: dc}, nil
}

func (t *pionTransport) OnDataChannel(f func(DataChannel)) {
	t.pc.OnDataChannel(func(dc *pion.DataChannel) {
		f(&pionChannel{dc: dc})
	})
}

func (t *pionTransport) Close() error {
	return t.pc.Close()
}

type pionChannel struct {
	dc *pion.DataChannel
}

func (c *pionChannel) Label() string              { return c.dc.Label() }
func (c *pionChannel) Send(data []byte) error     { return c.dc.Send(data) }
func (c *pionChannel) SendText(text string) error { return c.dc.SendText(text) }
func (c *pionChannel) OnOpen(f func())            { c.dc.OnOpen(f) }
func (c *pionChannel) OnClose(f func())           { c.dc.OnClose(f) }
func (c *pionChannel) BufferedAmount() uint64     { return c.dc.BufferedAmount() }
func (c *pionChannel) OnBufferedAmountLow(f func()) {
	c.dc.OnBufferedAmountLow(f)
}
func (c *pionChannel) SetBufferedAmountLowThreshold(th uint64) {
	c.dc.SetBufferedAmountLowThreshold(th)
}
func (c *pionChannel) Close() error { return c.dc.Close() }

func (c *pionChannel) IsOpen() bool {
	return c.dc.ReadyState() == pion.DataChannelStateOpen
}

func (c *pionChannel) OnMessage(f func(data []byte, isString bool)) {
	c.dc.OnMessage(func(msg pion.DataChannelMessage) {
		f(msg.Data, msg.IsString)
	})
}
