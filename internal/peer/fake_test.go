package peer

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"go.uber.org/zap"
)

// fakeNet pairs fake transports by the id carried in their descriptions.
type fakeNet struct {
	mu         sync.Mutex
	transports map[string]*fakeTransport
	byOwner    map[string][]*fakeTransport
	seq        int

	failAnswer bool
}

func newFakeNet() *fakeNet {
	return &fakeNet{
		transports: make(map[string]*fakeTransport),
		byOwner:    make(map[string][]*fakeTransport),
	}
}

func (fn *fakeNet) factory(owner string) TransportFactory {
	return func() (Transport, error) {
		fn.mu.Lock()
		defer fn.mu.Unlock()
		fn.seq++
		t := &fakeTransport{net: fn, id: fmt.Sprintf("%s-%d", owner, fn.seq)}
		fn.transports[t.id] = t
		fn.byOwner[owner] = append(fn.byOwner[owner], t)
		return t, nil
	}
}

func (fn *fakeNet) lookup(id string) *fakeTransport {
	fn.mu.Lock()
	defer fn.mu.Unlock()
	return fn.transports[id]
}

func (fn *fakeNet) last(owner string) *fakeTransport {
	fn.mu.Lock()
	defer fn.mu.Unlock()
	ts := fn.byOwner[owner]
	if len(ts) == 0 {
		return nil
	}
	return ts[len(ts)-1]
}

type fakeDescription struct {
	ID string `json:"id"`
}

func describe(id string) json.RawMessage {
	data, _ := json.Marshal(fakeDescription{ID: id})
	return data
}

type fakeTransport struct {
	net *fakeNet
	id  string

	remote     *fakeTransport
	remoteSet  bool
	local      *fakeChannel
	accepted   *fakeChannel
	candidates []string
	closed     bool

	onCandidate func(json.RawMessage)
	onState     func(ConnectionState)
	onChannel   func(DataChannel)
}

func (t *fakeTransport) parse(desc json.RawMessage) (*fakeTransport, error) {
	var d fakeDescription
	if err := json.Unmarshal(desc, &d); err != nil {
		return nil, fmt.Errorf("parse description: %w", err)
	}
	peer := t.net.lookup(d.ID)
	if peer == nil {
		return nil, fmt.Errorf("unknown description %q", d.ID)
	}
	return peer, nil
}

func (t *fakeTransport) emitCandidate() {
	if t.onCandidate != nil {
		t.onCandidate(json.RawMessage(fmt.Sprintf(`{"candidate":"host %s"}`, t.id)))
	}
}

func (t *fakeTransport) CreateOffer() (json.RawMessage, error) {
	t.emitCandidate()
	return describe(t.id), nil
}

func (t *fakeTransport) CreateAnswer(offer json.RawMessage) (json.RawMessage, error) {
	if t.net.failAnswer {
		return nil, errors.New("answer rejected")
	}
	if err := t.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	t.emitCandidate()
	return describe(t.id), nil
}

func (t *fakeTransport) SetRemoteDescription(desc json.RawMessage) error {
	peer, err := t.parse(desc)
	if err != nil {
		return err
	}
	t.remote = peer
	t.remoteSet = true
	if t.local != nil {
		t.connect()
	}
	return nil
}

// connect plays the initiator's channel through to the responder and
// reports both sides connected.
func (t *fakeTransport) connect() {
	peer := t.remote
	remoteCh := &fakeChannel{label: t.local.label}
	t.local.peer, remoteCh.peer = remoteCh, t.local
	peer.accepted = remoteCh
	if peer.onChannel != nil {
		peer.onChannel(remoteCh)
	}
	t.local.setOpen()
	remoteCh.setOpen()
	t.setState(ConnectionConnected)
	peer.setState(ConnectionConnected)
}

func (t *fakeTransport) setState(s ConnectionState) {
	if t.onState != nil {
		t.onState(s)
	}
}

func (t *fakeTransport) AddRemoteCandidate(c json.RawMessage) error {
	if !t.remoteSet {
		return errors.New("remote description not set")
	}
	var v struct {
		Candidate string `json:"candidate"`
	}
	if err := json.Unmarshal(c, &v); err != nil {
		return err
	}
	t.candidates = append(t.candidates, v.Candidate)
	return nil
}

func (t *fakeTransport) OnLocalCandidate(f func(json.RawMessage))       { t.onCandidate = f }
func (t *fakeTransport) OnConnectionStateChange(f func(ConnectionState)) { t.onState = f }
func (t *fakeTransport) OnDataChannel(f func(DataChannel))               { t.onChannel = f }

func (t *fakeTransport) CreateDataChannel(label string) (DataChannel, error) {
	t.local = &fakeChannel{label: label}
	return t.local, nil
}

func (t *fakeTransport) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	for _, ch := range []*fakeChannel{t.local, t.accepted} {
		if ch != nil {
			ch.Close()
		}
	}
	return nil
}

type sentMessage struct {
	data     []byte
	isString bool
}

// fakeChannel delivers synchronously to its peer.
type fakeChannel struct {
	mu    sync.Mutex
	label string
	peer  *fakeChannel
	open  bool
	sent  []sentMessage

	onOpen    func()
	onClose   func()
	onMessage func([]byte, bool)
	onLow     func()
}

func (c *fakeChannel) setOpen() {
	c.mu.Lock()
	c.open = true
	f := c.onOpen
	c.mu.Unlock()
	if f != nil {
		f()
	}
}

func (c *fakeChannel) Label() string { return c.label }

func (c *fakeChannel) deliver(data []byte, isString bool) error {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return errors.New("channel not open")
	}
	c.sent = append(c.sent, sentMessage{append([]byte(nil), data...), isString})
	peer := c.peer
	c.mu.Unlock()

	if peer != nil {
		peer.mu.Lock()
		f := peer.onMessage
		peer.mu.Unlock()
		if f != nil {
			f(append([]byte(nil), data...), isString)
		}
	}
	return nil
}

func (c *fakeChannel) Send(data []byte) error     { return c.deliver(data, false) }
func (c *fakeChannel) SendText(text string) error { return c.deliver([]byte(text), true) }

func (c *fakeChannel) OnOpen(f func()) {
	c.mu.Lock()
	c.onOpen = f
	c.mu.Unlock()
}

func (c *fakeChannel) OnClose(f func()) {
	c.mu.Lock()
	c.onClose = f
	c.mu.Unlock()
}

func (c *fakeChannel) OnMessage(f func([]byte, bool)) {
	c.mu.Lock()
	c.onMessage = f
	c.mu.Unlock()
}

func (c *fakeChannel) OnBufferedAmountLow(f func()) {
	c.mu.Lock()
	c.onLow = f
	c.mu.Unlock()
}

func (c *fakeChannel) SetBufferedAmountLowThreshold(uint64) {}
func (c *fakeChannel) BufferedAmount() uint64                { return 0 }

func (c *fakeChannel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return nil
	}
	c.open = false
	f, peer := c.onClose, c.peer
	c.mu.Unlock()
	if f != nil {
		f()
	}
	if peer != nil {
		peer.Close()
	}
	return nil
}

// texts returns the text messages sent on c.
func (c *fakeChannel) texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, m := range c.sent {
		if m.isString {
			out = append(out, string(m.data))
		}
	}
	return out
}

// fakeRelay routes signals between nodes by member id.
type fakeRelay struct {
	nodes map[string]*Node
}

func (r *fakeRelay) signaler(from string) Signaler {
	return relaySignaler{relay: r, from: from}
}

type relaySignaler struct {
	relay *fakeRelay
	from  string
}

func (s relaySignaler) SendOffer(target string, p json.RawMessage) error {
	if n, ok := s.relay.nodes[target]; ok {
		n.Offer(s.from, p)
	}
	return nil
}

func (s relaySignaler) SendAnswer(target string, p json.RawMessage) error {
	if n, ok := s.relay.nodes[target]; ok {
		n.Answer(s.from, p)
	}
	return nil
}

func (s relaySignaler) SendCandidate(target string, p json.RawMessage) error {
	if n, ok := s.relay.nodes[target]; ok {
		n.Candidate(s.from, p)
	}
	return nil
}

type fakePlayer struct {
	titles  []string
	plays   int
	loadErr error
	onPlay  func()
}

func (p *fakePlayer) Load(title string, data []byte) error {
	if p.loadErr != nil {
		return p.loadErr
	}
	p.titles = append(p.titles, title)
	return nil
}

func (p *fakePlayer) Play() error {
	if len(p.titles) == 0 {
		return errors.New("nothing loaded")
	}
	if p.onPlay != nil {
		p.onPlay()
	}
	p.plays++
	return nil
}

type recordingObserver struct {
	statuses []string
	chats    []string
}

func (o *recordingObserver) Status(text string)     { o.statuses = append(o.statuses, text) }
func (o *recordingObserver) Chat(from, text string) { o.chats = append(o.chats, from+": "+text) }
func (o *recordingObserver) PeersChanged([]PeerInfo) {}

func (o *recordingObserver) last() string {
	if len(o.statuses) == 0 {
		return ""
	}
	return o.statuses[len(o.statuses)-1]
}

type testPeer struct {
	id       string
	node     *Node
	player   *fakePlayer
	observer *recordingObserver
}

type mesh struct {
	t     *testing.T
	net   *fakeNet
	relay *fakeRelay
	peers map[string]*testPeer
}

func newMesh(t *testing.T) *mesh {
	return &mesh{
		t:     t,
		net:   newFakeNet(),
		relay: &fakeRelay{nodes: make(map[string]*Node)},
		peers: make(map[string]*testPeer),
	}
}

func (m *mesh) add(id string) *testPeer {
	p := &testPeer{id: id, player: &fakePlayer{}, observer: &recordingObserver{}}
	p.node = NewNode(Config{
		Signaler:        m.relay.signaler(id),
		Factory:         m.net.factory(id),
		Player:          p.player,
		Observer:        p.observer,
		MaxPayloadBytes: 1 << 20,
		Logger:          zap.NewNop(),
	})
	p.node.spawn = func(f func()) { f() }
	p.node.self = id
	m.relay.nodes[id] = p.node
	m.peers[id] = p
	m.t.Cleanup(p.node.Close)
	return p
}

// drain handles every queued event without a running loop.
func (n *Node) drain() int {
	handled := 0
	for {
		select {
		case ev := <-n.events:
			n.handle(ev)
			handled++
		default:
			return handled
		}
	}
}

// settle drains every node until no events are left anywhere.
func (m *mesh) settle() {
	for i := 0; i < 1000; i++ {
		handled := 0
		for _, p := range m.peers {
			handled += p.node.drain()
		}
		if handled == 0 {
			return
		}
	}
	m.t.Fatal("mesh did not settle")
}

// join announces newcomer to every existing member, as the relay would.
func (m *mesh) join(newcomer string, existing ...string) {
	for _, id := range existing {
		m.peers[id].node.MemberJoined(newcomer)
	}
	m.settle()
}

func (m *mesh) channel(owner, remote string) *fakeChannel {
	m.t.Helper()
	s, ok := m.peers[owner].node.sessions[remote]
	if !ok || s.channel == nil {
		m.t.Fatalf("%s has no channel to %s", owner, remote)
	}
	return s.channel.(*fakeChannel)
}
