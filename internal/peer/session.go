package peer

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/BioHazard786/syncwave/internal/protocol"
	"github.com/BioHazard786/syncwave/internal/transfer"
)

// ChannelLabel names the data channel an initiator opens.
const ChannelLabel = "syncwave"

// maxPendingCandidates bounds the candidates held before a remote
// description arrives.
const maxPendingCandidates = 64

// ErrUnexpectedSignal is returned when an offer or answer does not fit the
// session's current state. Such signals are dropped, the session survives.
var ErrUnexpectedSignal = errors.New("signal does not match session state")

// State is a Peer Session handshake state.
type State int

const (
	StateNew State = iota
	StateOffering
	StateAwaitingAnswer
	StateAnswering
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateOffering:
		return "OFFERING"
	case StateAwaitingAnswer:
		return "AWAITING_ANSWER"
	case StateAnswering:
		return "ANSWERING"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateClosed:
		return "CLOSED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Session is the handshake and connection state toward one remote member.
// It is not safe for concurrent use; a Node drives it from its event loop.
type Session struct {
	remote    string
	initiator bool
	state     State

	transport Transport
	channel   DataChannel
	open      bool

	remoteSet  bool
	pending    []json.RawMessage
	registered bool

	assembler *protocol.Assembler
	stopTimer func() bool
	logger    *zap.Logger
}

func newSession(remote string, initiator bool, t Transport, maxPayload uint64, logger *zap.Logger) *Session {
	return &Session{
		remote:    remote,
		initiator: initiator,
		transport: t,
		assembler: protocol.NewAssembler(maxPayload),
		logger:    logger.With(zap.String("remote", remote), zap.Bool("initiator", initiator)),
	}
}

func (s *Session) Remote() string  { return s.remote }
func (s *Session) Initiator() bool { return s.initiator }
func (s *Session) State() State    { return s.state }

func (s *Session) setState(next State) {
	if s.state == next {
		return
	}
	s.logger.Debug("session state", zap.Stringer("from", s.state), zap.Stringer("to", next))
	s.state = next
}

// Open runs the initiator's first half: it opens the local data channel and
// produces an offer, leaving the session in OFFERING.
func (s *Session) Open() (DataChannel, json.RawMessage, error) {
	if s.state != StateNew || !s.initiator {
		return nil, nil, ErrUnexpectedSignal
	}
	ch, err := s.transport.CreateDataChannel(ChannelLabel)
	if err != nil {
		return nil, nil, transfer.WrapError("open data channel", transfer.ErrHandshakeFailure, err.Error())
	}
	s.channel = ch

	offer, err := s.transport.CreateOffer()
	if err != nil {
		return nil, nil, transfer.WrapError("create offer", transfer.ErrHandshakeFailure, err.Error())
	}
	s.setState(StateOffering)
	return ch, offer, nil
}

// OfferSent records that the offer went out through the relay.
func (s *Session) OfferSent() {
	if s.state == StateOffering {
		s.setState(StateAwaitingAnswer)
	}
}

// Accept runs the responder path up to a local answer, leaving the session
// in ANSWERING.
func (s *Session) Accept(offer json.RawMessage) (json.RawMessage, error) {
	if s.state != StateNew || s.initiator {
		return nil, ErrUnexpectedSignal
	}
	answer, err := s.transport.CreateAnswer(offer)
	if err != nil {
		return nil, transfer.WrapError("accept offer", transfer.ErrHandshakeFailure, err.Error())
	}
	s.remoteSet = true
	if err := s.flush(); err != nil {
		return nil, err
	}
	s.setState(StateAnswering)
	return answer, nil
}

// AnswerSent records that the answer went out through the relay.
func (s *Session) AnswerSent() {
	if s.state == StateAnswering {
		s.setState(StateConnecting)
	}
}

// ApplyAnswer hands the remote answer to the transport.
func (s *Session) ApplyAnswer(answer json.RawMessage) error {
	if s.state != StateAwaitingAnswer {
		return ErrUnexpectedSignal
	}
	if err := s.transport.SetRemoteDescription(answer); err != nil {
		return transfer.WrapError("apply answer", transfer.ErrHandshakeFailure, err.Error())
	}
	s.remoteSet = true
	if err := s.flush(); err != nil {
		return err
	}
	s.setState(StateConnecting)
	return nil
}

// AddCandidate forwards a remote candidate, or queues it until the remote
// description has been applied.
func (s *Session) AddCandidate(candidate json.RawMessage) error {
	if s.state == StateClosed {
		return nil
	}
	if !s.remoteSet {
		if len(s.pending) >= maxPendingCandidates {
			s.logger.Warn("dropping early candidate, queue full")
			return nil
		}
		s.pending = append(s.pending, candidate)
		return nil
	}
	if err := s.transport.AddRemoteCandidate(candidate); err != nil {
		return transfer.WrapError("add candidate", transfer.ErrHandshakeFailure, err.Error())
	}
	return nil
}

func (s *Session) flush() error {
	pending := s.pending
	s.pending = nil
	for _, c := range pending {
		if err := s.transport.AddRemoteCandidate(c); err != nil {
			return transfer.WrapError("add candidate", transfer.ErrHandshakeFailure, err.Error())
		}
	}
	return nil
}

// Pending returns how many candidates are queued.
func (s *Session) Pending() int { return len(s.pending) }

// TransportConnected moves a negotiating session to CONNECTED.
func (s *Session) TransportConnected() {
	switch s.state {
	case StateConnecting, StateAnswering, StateAwaitingAnswer:
		s.setState(StateConnected)
	}
}

// ChannelOpened binds ch as the session's channel and marks it usable.
func (s *Session) ChannelOpened(ch DataChannel) {
	if s.channel == nil {
		s.channel = ch
	}
	s.open = true
}

// ShouldRegister reports whether the session is connected with an open
// channel and has not yet joined the pool.
func (s *Session) ShouldRegister() bool {
	return s.state == StateConnected && s.open && s.channel != nil && !s.registered
}

func (s *Session) markRegistered() {
	s.registered = true
	if s.stopTimer != nil {
		s.stopTimer()
	}
}

// Close tears the session down. It reports false if it was already closed.
func (s *Session) Close() bool {
	if s.state == StateClosed {
		return false
	}
	s.setState(StateClosed)
	if s.stopTimer != nil {
		s.stopTimer()
	}
	s.pending = nil
	return true
}
