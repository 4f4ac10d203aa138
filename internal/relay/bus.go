package relay

import (
	"errors"
	"strings"
	"sync"
)

// ErrBusDown is returned by Publish while the bus is unreachable.
var ErrBusDown = errors.New("relay: bus unavailable")

// MsgHandler receives raw bus messages. It may run on a bus goroutine.
type MsgHandler func(subject string, data []byte)

// Subscription is an active bus subscription.
type Subscription interface {
	Unsubscribe() error
}

// Bus is an append-only broadcast transport. Subjects are dot-separated;
// subscriptions may end in ">" to match any suffix.
type Bus interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, h MsgHandler) (Subscription, error)
	Healthy() bool
	Close() error
}

// LocalHub is an in-process broadcast medium that several LocalBus
// instances can share, standing in for a real bus in single-process
// deployments and tests.
type LocalHub struct {
	mu     sync.RWMutex
	subs   map[int]*localSub
	nextID int
	down   bool
}

func NewLocalHub() *LocalHub {
	return &LocalHub{subs: make(map[int]*localSub)}
}

// SetDown simulates the bus becoming unreachable (or recovering).
func (h *LocalHub) SetDown(down bool) {
	h.mu.Lock()
	h.down = down
	h.mu.Unlock()
}

type localSub struct {
	hub     *LocalHub
	id      int
	pattern string
	handler MsgHandler
}

func (s *localSub) Unsubscribe() error {
	s.hub.mu.Lock()
	delete(s.hub.subs, s.id)
	s.hub.mu.Unlock()
	return nil
}

// LocalBus is one instance's attachment to a LocalHub.
type LocalBus struct {
	hub *LocalHub
}

func NewLocalBus(hub *LocalHub) *LocalBus {
	return &LocalBus{hub: hub}
}

// Publish delivers data synchronously to every matching subscription.
func (b *LocalBus) Publish(subject string, data []byte) error {
	b.hub.mu.RLock()
	if b.hub.down {
		b.hub.mu.RUnlock()
		return ErrBusDown
	}
	var targets []MsgHandler
	for _, s := range b.hub.subs {
		if subjectMatches(s.pattern, subject) {
			targets = append(targets, s.handler)
		}
	}
	b.hub.mu.RUnlock()

	for _, h := range targets {
		h(subject, append([]byte(nil), data...))
	}
	return nil
}

func (b *LocalBus) Subscribe(subject string, h MsgHandler) (Subscription, error) {
	b.hub.mu.Lock()
	defer b.hub.mu.Unlock()
	b.hub.nextID++
	s := &localSub{hub: b.hub, id: b.hub.nextID, pattern: subject, handler: h}
	b.hub.subs[s.id] = s
	return s, nil
}

func (b *LocalBus) Healthy() bool {
	b.hub.mu.RLock()
	defer b.hub.mu.RUnlock()
	return !b.hub.down
}

func (b *LocalBus) Close() error {
	return nil
}

// subjectMatches implements NATS-style matching: "*" matches one token,
// a trailing ">" matches one or more tokens.
func subjectMatches(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")
	for i, p := range pt {
		if p == ">" {
			return i == len(pt)-1 && len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if p != "*" && p != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}
