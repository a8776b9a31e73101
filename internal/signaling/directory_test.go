package signaling

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"go.uber.org/zap"
)

type fakeMember struct {
	id string

	mu     sync.Mutex
	inbox  []*Message
	refuse bool
}

func newFakeMember(id string) *fakeMember {
	return &fakeMember{id: id}
}

func (m *fakeMember) ID() string { return m.id }

func (m *fakeMember) Deliver(msg *Message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refuse {
		return false
	}
	m.inbox = append(m.inbox, msg)
	return true
}

// take returns and clears everything delivered so far.
func (m *fakeMember) take() []*Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.inbox
	m.inbox = nil
	return out
}

func kinds(msgs []*Message) []Kind {
	out := make([]Kind, len(msgs))
	for i, m := range msgs {
		out[i] = m.Type
	}
	return out
}

func newTestDirectory(ids ...string) *Directory {
	d := NewDirectory(4, zap.NewNop())
	if len(ids) > 0 {
		next := 0
		d.newID = func(int) string {
			id := ids[next%len(ids)]
			next++
			return id
		}
	}
	return d
}

func connect(d *Directory, ids ...string) []*fakeMember {
	out := make([]*fakeMember, len(ids))
	for i, id := range ids {
		out[i] = newFakeMember(id)
		d.Connect(out[i])
	}
	return out
}

// roster returns the sorted membership of a room.
func roster(d *Directory, roomID string) ([]string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	room, ok := d.rooms[roomID]
	if !ok {
		return nil, false
	}
	return room.ids(""), true
}

func roomOf(d *Directory, memberID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.memberRoom[memberID]
	return id, ok
}

func roomCount(d *Directory) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.rooms)
}

func TestCreateAndJoin(t *testing.T) {
	d := newTestDirectory("ABCD")
	m := connect(d, "x", "y")
	x, y := m[0], m[1]

	roomID := d.CreateRoom(x)
	if roomID != "ABCD" {
		t.Fatalf("CreateRoom = %q, want ABCD", roomID)
	}
	got := x.take()
	if len(got) != 1 || got[0].Type != KindRoomCreated || got[0].RoomID != "ABCD" {
		t.Fatalf("creator got %v, want one room-created(ABCD)", kinds(got))
	}

	prior, err := d.JoinRoom(y, "ABCD")
	if err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	if !reflect.DeepEqual(prior, []string{"x"}) {
		t.Fatalf("prior = %v, want [x]", prior)
	}

	got = x.take()
	if len(got) != 1 || got[0].Type != KindUserJoined || got[0].Member != "y" {
		t.Fatalf("existing member got %v, want one user-joined(y)", kinds(got))
	}
	got = y.take()
	if len(got) != 1 || got[0].Type != KindRoomJoined || got[0].RoomID != "ABCD" {
		t.Fatalf("joiner got %v, want room-joined(ABCD)", kinds(got))
	}
}

func TestJoinReturnsExactPriorMembership(t *testing.T) {
	d := newTestDirectory("ROOM")
	m := connect(d, "a", "b", "c", "d")

	d.CreateRoom(m[0])
	d.JoinRoom(m[1], "ROOM")
	d.JoinRoom(m[2], "ROOM")
	for _, member := range m {
		member.take()
	}

	prior, err := d.JoinRoom(m[3], "ROOM")
	if err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	if want := []string{"a", "b", "c"}; !reflect.DeepEqual(prior, want) {
		t.Fatalf("prior = %v, want %v", prior, want)
	}
	for _, member := range m[:3] {
		got := member.take()
		if len(got) != 1 || got[0].Type != KindUserJoined || got[0].Member != "d" {
			t.Fatalf("%s got %v, want exactly one user-joined(d)", member.id, kinds(got))
		}
	}
}

func TestJoinUnknownRoom(t *testing.T) {
	d := newTestDirectory("ABCD")
	m := connect(d, "x", "y")
	d.CreateRoom(m[0])
	m[0].take()

	prior, err := d.JoinRoom(m[1], "ZZZZ")
	if !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("JoinRoom(ZZZZ) err = %v, want ErrRoomNotFound", err)
	}
	if prior != nil {
		t.Fatalf("prior = %v, want nil", prior)
	}
	if got := m[1].take(); len(got) != 1 || got[0].Type != KindRoomNotFound {
		t.Fatalf("joiner got %v, want room-not-found", kinds(got))
	}
	if got := m[0].take(); len(got) != 0 {
		t.Fatalf("unrelated member got %v", kinds(got))
	}
	if members, _ := roster(d, "ABCD"); !reflect.DeepEqual(members, []string{"x"}) {
		t.Fatalf("ABCD members = %v", members)
	}
	if _, ok := roomOf(d, "y"); ok {
		t.Fatal("failed join must not place the member in a room")
	}
	if roomCount(d) != 1 {
		t.Fatalf("room count = %d, want 1", roomCount(d))
	}
}

func TestEmptiedRoomIsGone(t *testing.T) {
	d := newTestDirectory("ABCD")
	m := connect(d, "x", "y")
	d.CreateRoom(m[0])
	d.Leave(m[0])

	if _, err := d.JoinRoom(m[1], "ABCD"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("join after room emptied = %v, want ErrRoomNotFound", err)
	}
}

func TestCreateRoomIDsDistinct(t *testing.T) {
	d := NewDirectory(4, zap.NewNop())
	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		member := newFakeMember(fmt.Sprintf("m%d", i))
		d.Connect(member)
		id := d.CreateRoom(member)
		if seen[id] {
			t.Fatalf("duplicate live room id %q", id)
		}
		seen[id] = true
		if len(id) < 4 {
			t.Fatalf("id %q shorter than configured length", id)
		}
	}
}

func TestCreateRoomRetriesAndGrows(t *testing.T) {
	d := newTestDirectory("AAAA")
	m := connect(d, "x", "y")
	d.CreateRoom(m[0])

	var lengths []int
	d.newID = func(n int) string {
		lengths = append(lengths, n)
		if n == 4 {
			return "AAAA"
		}
		return "BBBBB"
	}
	if id := d.CreateRoom(m[1]); id != "BBBBB" {
		t.Fatalf("CreateRoom = %q, want BBBBB", id)
	}
	if len(lengths) != attemptsPerLength+1 || lengths[len(lengths)-1] != 5 {
		t.Fatalf("attempt lengths = %v", lengths)
	}
}

func TestRelay(t *testing.T) {
	d := newTestDirectory("ABCD")
	m := connect(d, "x", "y")
	x, y := m[0], m[1]

	offer := &Message{Type: KindOffer, Target: "y", Payload: []byte(`{"type":"offer","sdp":"v=0"}`)}
	if err := d.Relay(x, offer); err != nil {
		t.Fatalf("Relay: %v", err)
	}
	got := y.take()
	if len(got) != 1 {
		t.Fatalf("target got %d messages, want 1", len(got))
	}
	if got[0].From != "x" || got[0].Target != "" || string(got[0].Payload) != string(offer.Payload) {
		t.Fatalf("relayed = %+v", got[0])
	}

	d.Leave(y)
	if err := d.Relay(x, offer); !errors.Is(err, ErrRelayTargetUnreachable) {
		t.Fatalf("Relay to gone member = %v, want ErrRelayTargetUnreachable", err)
	}
	if got := y.take(); len(got) != 0 {
		t.Fatalf("disconnected target received %v", kinds(got))
	}
	if got := x.take(); len(got) != 0 {
		t.Fatalf("sender was told about the drop: %v", kinds(got))
	}
}

func TestRelayCongestedTarget(t *testing.T) {
	d := newTestDirectory()
	m := connect(d, "x", "y")
	m[1].refuse = true

	err := d.Relay(m[0], &Message{Type: KindICECandidate, Target: "y", Payload: []byte(`{}`)})
	if !errors.Is(err, ErrRelayTargetUnreachable) {
		t.Fatalf("Relay = %v, want ErrRelayTargetUnreachable", err)
	}
}

func TestLeaveNotifiesRemaining(t *testing.T) {
	d := newTestDirectory("ABCD")
	m := connect(d, "x", "y", "z")
	d.CreateRoom(m[0])
	d.JoinRoom(m[1], "ABCD")
	d.JoinRoom(m[2], "ABCD")
	for _, member := range m {
		member.take()
	}

	d.Leave(m[1])

	for _, member := range []*fakeMember{m[0], m[2]} {
		got := member.take()
		if len(got) != 1 || got[0].Type != KindUserLeft || got[0].Member != "y" {
			t.Fatalf("%s got %v, want user-left(y)", member.id, kinds(got))
		}
	}
	if members, _ := roster(d, "ABCD"); !reflect.DeepEqual(members, []string{"x", "z"}) {
		t.Fatalf("members = %v", members)
	}
}

func TestMemberInOneRoomAtATime(t *testing.T) {
	d := newTestDirectory("AAAA", "BBBB")
	m := connect(d, "x", "y")
	d.CreateRoom(m[0])
	d.JoinRoom(m[1], "AAAA")
	m[0].take()

	if id := d.CreateRoom(m[1]); id != "BBBB" {
		t.Fatalf("CreateRoom = %q", id)
	}
	if got := m[0].take(); len(got) != 1 || got[0].Type != KindUserLeft {
		t.Fatalf("previous room got %v, want user-left", kinds(got))
	}
	if room, _ := roomOf(d, "y"); room != "BBBB" {
		t.Fatalf("RoomOf(y) = %q", room)
	}
}

func TestRejoinSameRoom(t *testing.T) {
	d := newTestDirectory("ABCD")
	m := connect(d, "x", "y")
	d.CreateRoom(m[0])
	d.JoinRoom(m[1], "ABCD")
	m[0].take()

	prior, err := d.JoinRoom(m[1], "ABCD")
	if err != nil || !reflect.DeepEqual(prior, []string{"x"}) {
		t.Fatalf("rejoin = %v, %v", prior, err)
	}
	if got := m[0].take(); len(got) != 0 {
		t.Fatalf("rejoin notified existing members: %v", kinds(got))
	}
}

func TestDirectoryConcurrentUse(t *testing.T) {
	d := NewDirectory(4, zap.NewNop())
	host := newFakeMember("host")
	d.Connect(host)
	roomID := d.CreateRoom(host)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := newFakeMember(fmt.Sprintf("m%d", i))
			d.Connect(m)
			if _, err := d.JoinRoom(m, roomID); err != nil {
				t.Errorf("JoinRoom: %v", err)
			}
			d.Relay(m, &Message{Type: KindOffer, Target: "host", Payload: []byte(`{}`)})
			if i%2 == 0 {
				d.Leave(m)
			}
		}(i)
	}
	wg.Wait()

	members, ok := roster(d, roomID)
	if !ok || len(members) != 26 {
		t.Fatalf("members = %d, want 26 (host + 25 remaining)", len(members))
	}
}

func TestDisconnectedRequesterChangesNothing(t *testing.T) {
	d := newTestDirectory("ABCD", "EFGH")
	m := connect(d, "x", "y")
	d.CreateRoom(m[0])
	d.Leave(m[1])
	m[0].take()

	if id := d.CreateRoom(m[1]); id != "" {
		t.Fatalf("CreateRoom after Leave = %q, want empty", id)
	}
	if _, err := d.JoinRoom(m[1], "ABCD"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("JoinRoom after Leave = %v, want ErrNotConnected", err)
	}
	err := d.Relay(m[1], &Message{Type: KindOffer, Target: "x", Payload: []byte(`{}`)})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Relay after Leave = %v, want ErrNotConnected", err)
	}

	if got := m[1].take(); len(got) != 0 {
		t.Fatalf("disconnected requester got %v", kinds(got))
	}
	if got := m[0].take(); len(got) != 0 {
		t.Fatalf("room member got %v", kinds(got))
	}
	if members, _ := roster(d, "ABCD"); !reflect.DeepEqual(members, []string{"x"}) {
		t.Fatalf("ABCD members = %v", members)
	}
	if roomCount(d) != 1 {
		t.Fatalf("room count = %d, want 1", roomCount(d))
	}

	// A stale connection object sharing a live id is not the live member.
	stale := newFakeMember("x")
	if id := d.CreateRoom(stale); id != "" {
		t.Fatalf("CreateRoom by stale connection = %q", id)
	}
	if room, _ := roomOf(d, "x"); room != "ABCD" {
		t.Fatalf("roomOf(x) = %q, want ABCD", room)
	}
}
