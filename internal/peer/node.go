package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BioHazard786/syncwave/internal/protocol"
	"github.com/BioHazard786/syncwave/internal/transfer"
	"github.com/BioHazard786/syncwave/internal/utils"
)

const eventQueueSize = 1024

// Status lines shown to the local user.
const (
	StatusReadyToPlay  = "Ready to play."
	StatusReceived     = "Song received! Ready to play."
	StatusPlaying      = "Playing."
	StatusDecodeFailed = "Could not decode received audio."
)

// Signaler carries handshake envelopes through the relay.
type Signaler interface {
	SendOffer(target string, payload json.RawMessage) error
	SendAnswer(target string, payload json.RawMessage) error
	SendCandidate(target string, payload json.RawMessage) error
}

// Player is the local playback sink.
type Player interface {
	Load(title string, data []byte) error
	Play() error
}

// Observer receives what the local user should see. Calls come from the
// node's event loop and must not block on it.
type Observer interface {
	Status(text string)
	Chat(from, text string)
	PeersChanged(peers []PeerInfo)
}

// PeerInfo describes one Peer Session.
type PeerInfo struct {
	Member     string
	State      State
	Initiator  bool
	Registered bool
}

// NopObserver discards everything.
type NopObserver struct{}

func (NopObserver) Status(string)            {}
func (NopObserver) Chat(string, string)      {}
func (NopObserver) PeersChanged([]PeerInfo) {}

// Config wires a Node to its collaborators. A zero HandshakeTimeout never
// expires a pending session.
type Config struct {
	Signaler         Signaler
	Factory          TransportFactory
	Player           Player
	Observer         Observer
	HandshakeTimeout time.Duration
	MaxPayloadBytes  uint64
	Logger           *zap.Logger
}

// Node is one participant's side of the mesh: its Peer Sessions, Session
// Pool and Readiness Coordinator. Every input is queued as an event and
// handled on the goroutine running Run, so none of that state is shared.
type Node struct {
	signaler   Signaler
	factory    TransportFactory
	player     Player
	observer   Observer
	timeout    time.Duration
	maxPayload uint64
	logger     *zap.Logger

	self      string
	sessions  map[string]*Session
	early     map[string][]json.RawMessage
	pool      *Pool
	readiness *Readiness

	events     chan any
	spawn      func(func())
	ctx        context.Context
	cancel     context.CancelFunc
	sendCancel context.CancelFunc
	done       chan struct{}
	closeOnce  sync.Once
}

// NewNode builds an idle node; nothing happens until Run is called.
func NewNode(cfg Config) *Node {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	observer := cfg.Observer
	if observer == nil {
		observer = NopObserver{}
	}
	maxPayload := cfg.MaxPayloadBytes
	if maxPayload == 0 {
		maxPayload = 64 << 20
	}

	pool := NewPool(logger)
	ctx, cancel := context.WithCancel(context.Background())
	return &Node{
		signaler:   cfg.Signaler,
		factory:    cfg.Factory,
		player:     cfg.Player,
		observer:   observer,
		timeout:    cfg.HandshakeTimeout,
		maxPayload: maxPayload,
		logger:     logger,
		sessions:   make(map[string]*Session),
		early:      make(map[string][]json.RawMessage),
		pool:       pool,
		readiness:  NewReadiness(pool),
		events:     make(chan any, eventQueueSize),
		spawn:      func(f func()) { go f() },
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

type (
	selfEvent    struct{ id string }
	memberJoined struct{ member string }
	memberLeft   struct{ member string }

	offerEvent struct {
		from    string
		payload json.RawMessage
	}
	answerEvent struct {
		from    string
		payload json.RawMessage
	}
	candidateEvent struct {
		from    string
		payload json.RawMessage
	}

	localCandidate struct {
		s         *Session
		candidate json.RawMessage
	}
	transportState struct {
		s     *Session
		state ConnectionState
	}
	channelOpened struct {
		s  *Session
		ch DataChannel
	}
	channelClosed  struct{ s *Session }
	channelMessage struct {
		s        *Session
		data     []byte
		isString bool
	}
	handshakeTimeout struct{ s *Session }

	distributeEvent struct {
		title   string
		payload []byte
	}
	chatEvent    struct{ text string }
	playNowEvent struct{}
	sendDone     struct {
		distribution string
		member       string
		err          error
	}
	peersRequest struct{ reply chan []PeerInfo }
)

func (n *Node) post(ev any) {
	select {
	case n.events <- ev:
	case <-n.done:
	}
}

// SetSelf records the local member id assigned by the relay.
func (n *Node) SetSelf(id string) { n.post(selfEvent{id}) }

// MemberJoined reports a newcomer in the room. This side initiates toward it.
func (n *Node) MemberJoined(member string) { n.post(memberJoined{member}) }

// MemberLeft reports a member's departure from the room.
func (n *Node) MemberLeft(member string) { n.post(memberLeft{member}) }

func (n *Node) Offer(from string, payload json.RawMessage)  { n.post(offerEvent{from, payload}) }
func (n *Node) Answer(from string, payload json.RawMessage) { n.post(answerEvent{from, payload}) }
func (n *Node) Candidate(from string, payload json.RawMessage) {
	n.post(candidateEvent{from, payload})
}

// Distribute loads payload locally, then sends it to every pooled peer and
// plays once all of them report ready.
func (n *Node) Distribute(title string, payload []byte) {
	n.post(distributeEvent{title, payload})
}

// Chat sends free text to every pooled peer.
func (n *Node) Chat(text string) { n.post(chatEvent{text}) }

// PlayNow skips the readiness wait and starts playback everywhere.
func (n *Node) PlayNow() { n.post(playNowEvent{}) }

// Peers returns a snapshot of the sessions.
func (n *Node) Peers() []PeerInfo {
	reply := make(chan []PeerInfo, 1)
	n.post(peersRequest{reply})
	select {
	case peers := <-reply:
		return peers
	case <-n.done:
		return nil
	}
}

// Run handles events until ctx is cancelled or Close is called, then tears
// every session down.
func (n *Node) Run(ctx context.Context) {
	defer n.shutdown()
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.done:
			return
		case ev := <-n.events:
			n.handle(ev)
		}
	}
}

// Close stops Run and any payload still being sent. It is safe to call
// more than once.
func (n *Node) Close() {
	n.closeOnce.Do(func() {
		close(n.done)
		n.cancel()
	})
}

func (n *Node) shutdown() {
	n.Close()
	for remote, s := range n.sessions {
		s.Close()
		if err := s.transport.Close(); err != nil {
			n.logger.Debug("close transport", zap.String("remote", remote), zap.Error(err))
		}
	}
	n.sessions = map[string]*Session{}
}

func (n *Node) handle(ev any) {
	switch ev := ev.(type) {
	case selfEvent:
		n.self = ev.id
		n.logger = n.logger.With(zap.String("member", ev.id))
	case memberJoined:
		n.onMemberJoined(ev.member)
	case memberLeft:
		delete(n.early, ev.member)
		if s, ok := n.sessions[ev.member]; ok {
			n.closeSession(s, "peer left the room")
		}
	case offerEvent:
		n.onOffer(ev.from, ev.payload)
	case answerEvent:
		n.onAnswer(ev.from, ev.payload)
	case candidateEvent:
		n.onCandidate(ev.from, ev.payload)
	case localCandidate:
		if n.current(ev.s) {
			if err := n.signaler.SendCandidate(ev.s.remote, ev.candidate); err != nil {
				ev.s.logger.Warn("send candidate", zap.Error(err))
			}
		}
	case transportState:
		n.onTransportState(ev.s, ev.state)
	case channelOpened:
		if n.current(ev.s) {
			ev.s.ChannelOpened(ev.ch)
			n.maybeRegister(ev.s)
		}
	case channelClosed:
		if n.current(ev.s) {
			n.closeSession(ev.s, "data channel closed")
		}
	case channelMessage:
		if n.current(ev.s) {
			n.onMessage(ev.s, ev.data, ev.isString)
		}
	case handshakeTimeout:
		if n.current(ev.s) && !ev.s.registered {
			ev.s.logger.Warn("handshake failed",
				zap.Error(transfer.WrapError("handshake", transfer.ErrTimeout, n.timeout.String())))
			n.closeSession(ev.s, "handshake timed out")
		}
	case distributeEvent:
		n.onDistribute(ev.title, ev.payload)
	case chatEvent:
		if ev.text != "" {
			n.pool.BroadcastText(ev.text)
		}
	case playNowEvent:
		dist := n.readiness.Active()
		n.readiness.Abandon()
		n.firePlay(dist)
	case sendDone:
		n.onSendDone(ev)
	case peersRequest:
		ev.reply <- n.snapshot()
	}
}

func (n *Node) current(s *Session) bool {
	return n.sessions[s.remote] == s
}

func (n *Node) newSession(remote string, initiator bool) (*Session, error) {
	t, err := n.factory()
	if err != nil {
		return nil, err
	}
	s := newSession(remote, initiator, t, n.maxPayload, n.logger)

	t.OnLocalCandidate(func(c json.RawMessage) { n.post(localCandidate{s, c}) })
	t.OnConnectionStateChange(func(st ConnectionState) { n.post(transportState{s, st}) })
	if !initiator {
		t.OnDataChannel(func(ch DataChannel) { n.bindChannel(s, ch) })
	}
	if n.timeout > 0 {
		timer := time.AfterFunc(n.timeout, func() { n.post(handshakeTimeout{s}) })
		s.stopTimer = timer.Stop
	}

	n.sessions[remote] = s
	return s, nil
}

// bindChannel routes ch's callbacks into the event queue. It runs inside
// the transport's own callback so no early message is missed.
func (n *Node) bindChannel(s *Session, ch DataChannel) {
	ch.OnOpen(func() { n.post(channelOpened{s, ch}) })
	ch.OnClose(func() { n.post(channelClosed{s}) })
	ch.OnMessage(func(data []byte, isString bool) {
		n.post(channelMessage{s, data, isString})
	})
	if ch.IsOpen() {
		n.post(channelOpened{s, ch})
	}
}

func (n *Node) onMemberJoined(member string) {
	if member == "" || member == n.self {
		return
	}
	if _, ok := n.sessions[member]; ok {
		return
	}

	s, err := n.newSession(member, true)
	if err != nil {
		n.logger.Warn("create transport", zap.String("remote", member), zap.Error(err))
		return
	}
	ch, offer, err := s.Open()
	if err != nil {
		n.fail(s, err)
		return
	}
	n.bindChannel(s, ch)
	if err := n.signaler.SendOffer(member, offer); err != nil {
		n.fail(s, transfer.WrapError("send offer", transfer.ErrSignalingError, err.Error()))
		return
	}
	s.OfferSent()
	n.peersChanged()
}

func (n *Node) onOffer(from string, offer json.RawMessage) {
	if s, ok := n.sessions[from]; ok {
		s.logger.Debug("ignoring offer", zap.Stringer("state", s.state))
		return
	}

	s, err := n.newSession(from, false)
	if err != nil {
		n.logger.Warn("create transport", zap.String("remote", from), zap.Error(err))
		return
	}
	s.pending = n.early[from]
	delete(n.early, from)

	answer, err := s.Accept(offer)
	if err != nil {
		n.fail(s, err)
		return
	}
	if err := n.signaler.SendAnswer(from, answer); err != nil {
		n.fail(s, transfer.WrapError("send answer", transfer.ErrSignalingError, err.Error()))
		return
	}
	s.AnswerSent()
	n.peersChanged()
}

func (n *Node) onAnswer(from string, answer json.RawMessage) {
	s, ok := n.sessions[from]
	if !ok {
		n.logger.Debug("answer for unknown session", zap.String("remote", from))
		return
	}
	err := s.ApplyAnswer(answer)
	switch {
	case errors.Is(err, ErrUnexpectedSignal):
		s.logger.Debug("ignoring answer", zap.Stringer("state", s.state))
	case err != nil:
		n.fail(s, err)
	default:
		n.peersChanged()
	}
}

func (n *Node) onCandidate(from string, candidate json.RawMessage) {
	s, ok := n.sessions[from]
	if !ok {
		if q := n.early[from]; len(q) < maxPendingCandidates {
			n.early[from] = append(q, candidate)
		}
		return
	}
	if err := s.AddCandidate(candidate); err != nil {
		n.fail(s, err)
	}
}

func (n *Node) onTransportState(s *Session, st ConnectionState) {
	if !n.current(s) {
		return
	}
	s.logger.Debug("transport state", zap.Stringer("state", st))
	switch st {
	case ConnectionConnected:
		s.TransportConnected()
		n.maybeRegister(s)
		n.peersChanged()
	case ConnectionFailed, ConnectionClosed:
		n.closeSession(s, "transport "+st.String())
	}
}

func (n *Node) maybeRegister(s *Session) {
	if !s.ShouldRegister() {
		return
	}
	if n.pool.Register(s.remote, s.channel) {
		s.markRegistered()
		s.logger.Info("peer connected", zap.Int("pool", n.pool.Size()))
		n.peersChanged()
	}
}

func (n *Node) fail(s *Session, err error) {
	s.logger.Warn("handshake failed", zap.Stringer("state", s.state), zap.Error(err))
	n.closeSession(s, "handshake failed")
}

// closeSession moves s to CLOSED and removes it from the pool and from the
// readiness tracking.
func (n *Node) closeSession(s *Session, reason string) {
	if !s.Close() {
		return
	}
	s.logger.Info("session closed", zap.String("reason", reason))
	if n.current(s) {
		delete(n.sessions, s.remote)
	}
	if s.registered && n.pool.Unregister(s.remote) {
		dist := n.readiness.Active()
		n.settle(dist, n.readiness.Forget(s.remote))
	}

	t := s.transport
	n.spawn(func() {
		if err := t.Close(); err != nil {
			s.logger.Debug("close transport", zap.Error(err))
		}
	})
	n.peersChanged()
}

func (n *Node) onMessage(s *Session, data []byte, isString bool) {
	msg, err := protocol.Decode(data, isString)
	if err != nil {
		n.decodeFailed(s, err)
		return
	}

	switch msg.Kind {
	case protocol.KindChunk:
		p, err := s.assembler.Add(msg.Chunk)
		if err != nil {
			n.decodeFailed(s, err)
			return
		}
		if p != nil {
			n.received(s, p)
		}
	case protocol.KindReady:
		dist := n.readiness.Active()
		n.settle(dist, n.readiness.Ack(s.remote, msg.Distribution))
	case protocol.KindPlay:
		n.playLocal()
	case protocol.KindChat:
		n.observer.Chat(s.remote, msg.Text)
	}
}

func (n *Node) received(s *Session, p *protocol.Payload) {
	if err := n.player.Load(p.Title, p.Data); err != nil {
		n.decodeFailed(s, err)
		return
	}
	if s.channel != nil {
		if err := s.channel.SendText(protocol.Ready(p.Distribution)); err != nil {
			s.logger.Warn("send ready", zap.Error(err))
		}
	}
	s.logger.Info("payload received",
		zap.String("distribution", p.Distribution),
		zap.String("size", utils.FormatSize(int64(len(p.Data)))))
	n.observer.Status(StatusReceived)
}

func (n *Node) decodeFailed(s *Session, err error) {
	s.logger.Warn("payload decode failure", zap.Error(err))
	n.observer.Status(StatusDecodeFailed)
}

func (n *Node) onDistribute(title string, payload []byte) {
	if len(payload) == 0 {
		n.observer.Status("Nothing to share.")
		return
	}
	if err := n.player.Load(title, payload); err != nil {
		n.logger.Warn("load local track", zap.Error(err))
		n.observer.Status("Could not load audio: " + err.Error())
		return
	}

	if n.sendCancel != nil {
		n.sendCancel()
	}
	dist := uuid.NewString()
	targets := n.pool.Members()
	if n.readiness.Begin(dist, targets) == Abandoned {
		n.observer.Status(StatusReadyToPlay)
		return
	}

	ctx, cancel := context.WithCancel(n.ctx)
	n.sendCancel = cancel
	n.logger.Info("distributing",
		zap.String("distribution", dist),
		zap.String("size", utils.FormatSize(int64(len(payload)))),
		zap.Int("peers", len(targets)))
	n.observer.Status(fmt.Sprintf("Sending to %d peer(s)...", len(targets)))

	for _, member := range targets {
		ch, ok := n.pool.Get(member)
		if !ok {
			continue
		}
		n.spawn(func() {
			err := transfer.NewPayloadSender(ch).Send(ctx, dist, title, payload)
			n.post(sendDone{distribution: dist, member: member, err: err})
		})
	}
}

func (n *Node) onSendDone(ev sendDone) {
	switch {
	case ev.err == nil:
		n.logger.Debug("payload sent", zap.String("remote", ev.member), zap.String("distribution", ev.distribution))
	case errors.Is(ev.err, context.Canceled):
	default:
		n.logger.Warn("payload send failed", zap.String("remote", ev.member), zap.Error(ev.err))
		n.observer.Status(fmt.Sprintf("Failed to send to %s.", utils.TruncateString(ev.member, 8)))
	}
}

// settle acts on a readiness outcome for dist.
func (n *Node) settle(dist string, o Outcome) {
	switch o {
	case Quorum:
		n.logger.Info("readiness quorum", zap.String("distribution", dist), zap.Int("peers", n.pool.Size()))
		n.firePlay(dist)
	case Abandoned:
		n.logger.Info("distribution abandoned", zap.String("distribution", dist))
		n.observer.Status(StatusReadyToPlay)
	}
}

// firePlay fans play out before starting locally, so this side starts last.
func (n *Node) firePlay(dist string) {
	n.pool.BroadcastText(protocol.Play(dist))
	n.playLocal()
}

func (n *Node) playLocal() {
	if err := n.player.Play(); err != nil {
		n.logger.Warn("playback", zap.Error(err))
		n.observer.Status("Playback failed: " + err.Error())
		return
	}
	n.observer.Status(StatusPlaying)
}

func (n *Node) snapshot() []PeerInfo {
	out := make([]PeerInfo, 0, len(n.sessions))
	for _, s := range n.sessions {
		out = append(out, PeerInfo{
			Member:     s.remote,
			State:      s.state,
			Initiator:  s.initiator,
			Registered: s.registered,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Member < out[j].Member })
	return out
}

func (n *Node) peersChanged() {
	n.observer.PeersChanged(n.snapshot())
}
