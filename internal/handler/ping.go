package handler

import (
	"context"
	"encoding/json"

	"github.com/worldsync/server/internal/net/protocol"
	"github.com/worldsync/server/internal/stats"
)

// HandlePing answers with pong. latency is the one-way estimate from the
// client's own timestamp, zero when none was sent.
func HandlePing(connID string, data json.RawMessage, deps *Deps) {
	var req protocol.Ping
	if len(data) > 0 {
		_ = protocol.DecodePayload(data, &req)
	}
	now := deps.nowMillis()
	pong := protocol.Pong{Timestamp: now, ServerTime: now}
	if req.Timestamp != nil {
		pong.Timestamp = *req.Timestamp
		if lat := now - *req.Timestamp; lat > 0 {
			pong.Latency = lat
		}
	}
	send(deps, connID, protocol.EventPong, pong)
}

// HandleGetStats sends a fresh stats snapshot and subscribes the
// connection to the periodic server_stats broadcast.
func HandleGetStats(connID string, deps *Deps) {
	ObserveStats(deps)
	send(deps, connID, protocol.EventServerStats, deps.Stats.Snapshot())
	deps.Conns.JoinChannel(connID, channelStats)
}

// BroadcastStats pushes a snapshot to every stats subscriber.
func BroadcastStats(deps *Deps) {
	broadcastChannel(deps, channelStats, "", protocol.EventServerStats, deps.Stats.Snapshot())
}

// RequestStats refreshes the loop-owned gauges through Completions and
// returns the fresh snapshot. Safe from any goroutine. If the loop does not
// answer before ctx ends, the last observed snapshot is returned.
func RequestStats(ctx context.Context, deps *Deps) stats.Snapshot {
	done := make(chan stats.Snapshot, 1)
	refresh := func() {
		ObserveStats(deps)
		done <- deps.Stats.Snapshot()
	}
	select {
	case deps.Completions <- refresh:
	case <-ctx.Done():
		return deps.Stats.Snapshot()
	}
	select {
	case snap := <-done:
		return snap
	case <-ctx.Done():
		return deps.Stats.Snapshot()
	}
}
