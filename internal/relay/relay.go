// Package relay propagates world events between instances over a shared
// broadcast bus. Publishing never blocks the game loop: envelopes go into a
// bounded queue drained by a publisher goroutine. A failed publish puts the
// instance into island mode, in which it keeps serving local clients and
// reports itself degraded until the bus accepts messages again.
package relay

import (
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/worldsync/server/internal/config"
	"github.com/worldsync/server/internal/world"
)

// Channel names, relative to the subject prefix.
const (
	ChannelGlobal = "global"
	chatPrefix    = "chat."
	cellPrefix    = "cell."
)

// ChatChannel names the bus channel for a chat room.
func ChatChannel(name string) string { return chatPrefix + sanitizeToken(name) }

// CellChannel names the bus channel for a grid cell.
func CellChannel(key world.CellKey) string { return cellPrefix + sanitizeToken(string(key)) }

// sanitizeToken keeps a name inside a single subject token.
func sanitizeToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}

// Counters is a point-in-time copy of relay activity.
type Counters struct {
	Published uint64
	Received  uint64
	Dropped   uint64
	Malformed uint64
	Failed    uint64
}

type outbound struct {
	channel string
	env     Envelope
}

// Relay publishes local events and surfaces remote ones.
type Relay struct {
	bus        Bus
	instanceID string
	prefix     string
	log        *zap.Logger

	out chan outbound
	in  chan Envelope

	island atomic.Bool

	published atomic.Uint64
	received  atomic.Uint64
	dropped   atomic.Uint64
	malformed atomic.Uint64
	failed    atomic.Uint64

	mu     sync.Mutex
	subs   []Subscription
	done   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// New wires a relay to bus. Call Start before publishing.
func New(bus Bus, cfg config.RelayConfig, instanceID string, log *zap.Logger) *Relay {
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = "worldsync"
	}
	outSize, inSize := cfg.PublishQueueSize, cfg.InboundQueueSize
	if outSize <= 0 {
		outSize = 1024
	}
	if inSize <= 0 {
		inSize = 1024
	}
	return &Relay{
		bus:        bus,
		instanceID: instanceID,
		prefix:     prefix,
		log:        log.With(zap.String("instance", instanceID)),
		out:        make(chan outbound, outSize),
		in:         make(chan Envelope, inSize),
		done:       make(chan struct{}),
	}
}

// InstanceID returns the origin stamped on every outgoing envelope.
func (r *Relay) InstanceID() string { return r.instanceID }

// Start subscribes to the global, chat and cell channels and starts the
// publisher. Remote envelopes appear on Inbound.
func (r *Relay) Start() error {
	if err := r.Subscribe([]string{ChannelGlobal, chatPrefix + ">", cellPrefix + ">"}, r.enqueueInbound); err != nil {
		return err
	}
	r.wg.Add(1)
	go r.publishLoop()
	if !r.bus.Healthy() {
		r.log.Warn("bus unavailable at start, running in island mode")
	}
	return nil
}

// Subscribe registers onMessage for each channel. Malformed envelopes and
// envelopes this instance published are discarded before onMessage runs.
func (r *Relay) Subscribe(channels []string, onMessage func(Envelope)) error {
	for _, ch := range channels {
		sub, err := r.bus.Subscribe(r.subject(ch), func(subject string, data []byte) {
			env, err := Decode(data)
			if err != nil {
				r.malformed.Add(1)
				r.log.Warn("discarding bus message", zap.String("subject", subject), zap.Error(err))
				return
			}
			if env.Origin == r.instanceID {
				return
			}
			r.received.Add(1)
			onMessage(env)
		})
		if err != nil {
			return err
		}
		r.mu.Lock()
		r.subs = append(r.subs, sub)
		r.mu.Unlock()
	}
	return nil
}

// Publish stamps env with this instance's origin and queues it for the
// bus. It never blocks; when the queue is full the envelope is dropped.
func (r *Relay) Publish(channel string, env Envelope) {
	env.Origin = r.instanceID
	select {
	case r.out <- outbound{channel: channel, env: env}:
	default:
		if r.dropped.Add(1)%100 == 1 {
			r.log.Warn("publish queue full, dropping envelopes",
				zap.String("type", string(env.Type)), zap.Uint64("dropped", r.dropped.Load()))
		}
	}
}

// Inbound delivers remote envelopes to the game loop.
func (r *Relay) Inbound() <-chan Envelope { return r.in }

// Healthy reports whether the bus is reachable and the last publish
// succeeded.
func (r *Relay) Healthy() bool {
	return !r.island.Load() && r.bus.Healthy()
}

// Counters returns relay activity totals.
func (r *Relay) Counters() Counters {
	return Counters{
		Published: r.published.Load(),
		Received:  r.received.Load(),
		Dropped:   r.dropped.Load(),
		Malformed: r.malformed.Load(),
		Failed:    r.failed.Load(),
	}
}

// Close unsubscribes, stops the publisher and closes the bus.
func (r *Relay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	subs := r.subs
	r.subs = nil
	r.mu.Unlock()

	for _, s := range subs {
		_ = s.Unsubscribe()
	}
	close(r.done)
	r.wg.Wait()
	return r.bus.Close()
}

func (r *Relay) subject(channel string) string {
	return r.prefix + "." + channel
}

func (r *Relay) enqueueInbound(env Envelope) {
	select {
	case r.in <- env:
	default:
		r.dropped.Add(1)
		r.log.Warn("inbound queue full, dropping remote envelope", zap.String("type", string(env.Type)))
	}
}

func (r *Relay) publishLoop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.done:
			return
		case o := <-r.out:
			r.send(o)
		}
	}
}

func (r *Relay) send(o outbound) {
	data, err := Encode(o.env)
	if err != nil {
		r.failed.Add(1)
		r.log.Error("encode envelope", zap.String("type", string(o.env.Type)), zap.Error(err))
		return
	}
	if err := r.bus.Publish(r.subject(o.channel), data); err != nil {
		r.failed.Add(1)
		if !r.island.Swap(true) {
			r.log.Warn("bus publish failed, entering island mode", zap.Error(err))
		}
		return
	}
	r.published.Add(1)
	if r.island.Swap(false) {
		r.log.Info("bus publish recovered, leaving island mode")
	}
}
