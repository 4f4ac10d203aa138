// Package stats aggregates connection and message counters. Message
// counters are atomics bumped from anywhere; structural gauges (connection
// and cell counts) are observed by the game loop and read by HTTP handlers,
// so nothing ever blocks on stats collection.
package stats

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is the aggregated view served to clients and operators.
type Snapshot struct {
	TotalConnections         int    `json:"totalConnections"`
	AuthenticatedConnections int    `json:"authenticatedConnections"`
	MessagesSent             uint64 `json:"messagesSent"`
	MessagesReceived         uint64 `json:"messagesReceived"`
	ActiveCells              int    `json:"activeCells"`
	InWorldPlayers           int    `json:"inWorldPlayers"`
	WorldPlayers             int    `json:"worldPlayers"`
	RelayPublished           uint64 `json:"relayPublished"`
	RelayReceived            uint64 `json:"relayReceived"`
	RelayDropped             uint64 `json:"relayDropped"`
	BusHealthy               bool   `json:"busHealthy"`
	Timestamp                int64  `json:"timestamp"`
}

// Gauges are the loop-owned values copied in by Observe.
type Gauges struct {
	TotalConnections         int
	AuthenticatedConnections int
	ActiveCells              int
	InWorldPlayers           int // local connections in the world
	WorldPlayers             int // every player in world state, remote included
	RelayPublished           uint64
	RelayReceived            uint64
	RelayDropped             uint64
	BusHealthy               bool
}

type Aggregator struct {
	sent     atomic.Uint64
	received atomic.Uint64

	mu     sync.RWMutex
	gauges Gauges

	now func() time.Time
}

func New(now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}
	return &Aggregator{now: now}
}

func (a *Aggregator) RecordSent()     { a.sent.Add(1) }
func (a *Aggregator) RecordReceived() { a.received.Add(1) }

// Observe replaces the structural gauges.
func (a *Aggregator) Observe(g Gauges) {
	a.mu.Lock()
	a.gauges = g
	a.mu.Unlock()
}

func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	g := a.gauges
	a.mu.RUnlock()
	return Snapshot{
		TotalConnections:         g.TotalConnections,
		AuthenticatedConnections: g.AuthenticatedConnections,
		MessagesSent:             a.sent.Load(),
		MessagesReceived:         a.received.Load(),
		ActiveCells:              g.ActiveCells,
		InWorldPlayers:           g.InWorldPlayers,
		WorldPlayers:             g.WorldPlayers,
		RelayPublished:           g.RelayPublished,
		RelayReceived:            g.RelayReceived,
		RelayDropped:             g.RelayDropped,
		BusHealthy:               g.BusHealthy,
		Timestamp:                a.now().UnixMilli(),
	}
}
