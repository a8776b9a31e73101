package signaling

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/BioHazard786/syncwave/internal/metrics"
)

var (
	ErrRoomNotFound = errors.New("room not found")

	// ErrRelayTargetUnreachable is returned by Relay for bookkeeping only.
	// The sender is never told; its handshake simply stalls.
	ErrRelayTargetUnreachable = errors.New("relay target unreachable")

	ErrNotConnected = errors.New("member not connected")
)

// Member is a live relay connection addressable by its identifier.
type Member interface {
	ID() string

	// Deliver queues msg for the connection without blocking and reports
	// whether it was accepted.
	Deliver(msg *Message) bool
}

// Directory owns the room table. All methods are safe for concurrent use;
// notifications to other members are queued while the lock is held so that
// they are ordered with the membership change that caused them.
type Directory struct {
	mu sync.Mutex

	members    map[string]Member
	rooms      map[string]*Room
	memberRoom map[string]string

	idLength int
	newID    func(n int) string

	logger *zap.Logger
}

// NewDirectory creates an empty directory issuing ids of idLength characters.
func NewDirectory(idLength int, logger *zap.Logger) *Directory {
	if idLength <= 0 {
		idLength = DefaultRoomIDLength
	}
	return &Directory{
		members:    make(map[string]Member),
		rooms:      make(map[string]*Room),
		memberRoom: make(map[string]string),
		idLength:   idLength,
		newID:      randomRoomID,
		logger:     logger,
	}
}

// Connect records a live connection. Only connected members can be relayed to.
func (d *Directory) Connect(m Member) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.members[m.ID()]; !ok {
		metrics.MembersConnected.Inc()
	}
	d.members[m.ID()] = m
}

// connectedLocked reports whether m is the live connection for its id. A
// request queued before its connection dropped must not touch room state.
func (d *Directory) connectedLocked(m Member) bool {
	cur, ok := d.members[m.ID()]
	return ok && cur == m
}

// CreateRoom makes a fresh room with requester as its sole member. A member
// is in at most one room, so any previous room is left first. It returns ""
// when requester is no longer connected.
func (d *Directory) CreateRoom(requester Member) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connectedLocked(requester) {
		return ""
	}
	d.leaveRoomLocked(requester.ID())

	id := d.uniqueIDLocked()
	room := newRoom(id)
	room.add(requester.ID())
	d.rooms[id] = room
	d.memberRoom[requester.ID()] = id

	metrics.RoomsCreatedTotal.Inc()
	metrics.RoomsActive.Set(float64(len(d.rooms)))
	d.logger.Info("room created", zap.String("room", id), zap.String("member", requester.ID()))

	requester.Deliver(RoomCreated(id))
	return id
}

// uniqueIDLocked draws ids until one is free, widening the id space when the
// current length keeps colliding.
func (d *Directory) uniqueIDLocked() string {
	length := d.idLength
	for {
		for i := 0; i < attemptsPerLength; i++ {
			id := d.newID(length)
			if _, taken := d.rooms[id]; !taken {
				return id
			}
		}
		length++
		d.logger.Warn("room id space congested, growing id length", zap.Int("length", length))
	}
}

// JoinRoom adds requester to roomID and returns the members that were there
// before it. Each of them is sent one user-joined naming the requester.
// An unknown id returns ErrRoomNotFound and changes nothing, as does a
// requester that is no longer connected (ErrNotConnected).
func (d *Directory) JoinRoom(requester Member, roomID string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connectedLocked(requester) {
		return nil, ErrNotConnected
	}

	room, ok := d.rooms[roomID]
	if !ok {
		metrics.JoinsTotal.WithLabelValues("not_found").Inc()
		d.logger.Info("join failed: room not found", zap.String("room", roomID), zap.String("member", requester.ID()))
		requester.Deliver(RoomNotFound())
		return nil, ErrRoomNotFound
	}

	if room.has(requester.ID()) {
		prior := room.ids(requester.ID())
		requester.Deliver(RoomJoined(roomID, prior))
		return prior, nil
	}

	d.leaveRoomLocked(requester.ID())

	prior := room.ids("")
	for _, id := range prior {
		if m, ok := d.members[id]; ok {
			m.Deliver(UserJoined(requester.ID()))
		}
	}
	room.add(requester.ID())
	d.memberRoom[requester.ID()] = roomID

	metrics.JoinsTotal.WithLabelValues("joined").Inc()
	d.logger.Info("member joined room",
		zap.String("room", roomID),
		zap.String("member", requester.ID()),
		zap.Int("prior", len(prior)),
	)

	requester.Deliver(RoomJoined(roomID, prior))
	return prior, nil
}

// Relay forwards a handshake envelope to msg.Target, stamped with the
// sender's id. Drops are counted and logged, never reported to the sender.
func (d *Directory) Relay(sender Member, msg *Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connectedLocked(sender) {
		return ErrNotConnected
	}

	target, ok := d.members[msg.Target]
	if !ok {
		metrics.EnvelopesDroppedTotal.WithLabelValues(string(msg.Type)).Inc()
		d.logger.Debug("relay target gone",
			zap.String("type", string(msg.Type)),
			zap.String("from", sender.ID()),
			zap.String("target", msg.Target),
		)
		return ErrRelayTargetUnreachable
	}

	relayed := &Message{
		Type:    msg.Type,
		From:    sender.ID(),
		Payload: msg.Payload,
	}
	if !target.Deliver(relayed) {
		metrics.EnvelopesDroppedTotal.WithLabelValues(string(msg.Type)).Inc()
		d.logger.Warn("relay target congested",
			zap.String("type", string(msg.Type)),
			zap.String("target", msg.Target),
		)
		return ErrRelayTargetUnreachable
	}

	metrics.EnvelopesRelayedTotal.WithLabelValues(string(msg.Type)).Inc()
	return nil
}

// Send delivers msg to a single connected member.
func (d *Directory) Send(memberID string, msg *Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.members[memberID]
	if !ok {
		return ErrNotConnected
	}
	if !m.Deliver(msg) {
		return ErrRelayTargetUnreachable
	}
	return nil
}

// Leave drops a lost connection: it is removed from its room, the remaining
// members are told via user-left, and an emptied room is deleted.
func (d *Directory) Leave(m Member) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.leaveRoomLocked(m.ID())
	if _, ok := d.members[m.ID()]; ok {
		delete(d.members, m.ID())
		metrics.MembersConnected.Dec()
	}
}

func (d *Directory) leaveRoomLocked(memberID string) {
	roomID, ok := d.memberRoom[memberID]
	if !ok {
		return
	}
	delete(d.memberRoom, memberID)

	room, ok := d.rooms[roomID]
	if !ok {
		return
	}
	room.remove(memberID)

	if room.empty() {
		delete(d.rooms, roomID)
		metrics.RoomsActive.Set(float64(len(d.rooms)))
		d.logger.Info("room deleted", zap.String("room", roomID))
		return
	}

	d.logger.Info("member left room", zap.String("room", roomID), zap.String("member", memberID))
	for _, id := range room.ids("") {
		if other, ok := d.members[id]; ok {
			other.Deliver(UserLeft(memberID))
		}
	}
}
