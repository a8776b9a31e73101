package peer

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Pool maps remote member ids to their established data channels.
type Pool struct {
	mu       sync.RWMutex
	channels map[string]DataChannel
	logger   *zap.Logger
}

func NewPool(logger *zap.Logger) *Pool {
	return &Pool{
		channels: make(map[string]DataChannel),
		logger:   logger,
	}
}

// Register adds member's channel. It reports false, changing nothing, when
// the member is already registered.
func (p *Pool) Register(member string, ch DataChannel) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.channels[member]; ok {
		return false
	}
	p.channels[member] = ch
	return true
}

// Unregister removes member. It reports whether it was present.
func (p *Pool) Unregister(member string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.channels[member]; !ok {
		return false
	}
	delete(p.channels, member)
	return true
}

// Size returns how many members are registered.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.channels)
}

// Has reports whether member is registered.
func (p *Pool) Has(member string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.channels[member]
	return ok
}

// Get returns member's channel.
func (p *Pool) Get(member string) (DataChannel, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ch, ok := p.channels[member]
	return ch, ok
}

// Members returns the registered member ids in sorted order.
func (p *Pool) Members() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.channels))
	for id := range p.channels {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// BroadcastText sends text on every registered channel. Failures are logged
// and skipped; it returns how many sends succeeded.
func (p *Pool) BroadcastText(text string) int {
	return p.broadcast(func(ch DataChannel) error { return ch.SendText(text) })
}

// Broadcast sends data as one binary message on every registered channel.
func (p *Pool) Broadcast(data []byte) int {
	return p.broadcast(func(ch DataChannel) error { return ch.Send(data) })
}

func (p *Pool) broadcast(send func(DataChannel) error) int {
	p.mu.RLock()
	targets := make(map[string]DataChannel, len(p.channels))
	for id, ch := range p.channels {
		targets[id] = ch
	}
	p.mu.RUnlock()

	sent := 0
	for id, ch := range targets {
		if err := send(ch); err != nil {
			p.logger.Warn("broadcast send failed", zap.String("remote", id), zap.Error(err))
			continue
		}
		sent++
	}
	return sent
}
