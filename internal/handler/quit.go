package handler

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/worldsync/server/internal/net/protocol"
	"github.com/worldsync/server/internal/persist"
	"github.com/worldsync/server/internal/registry"
	"github.com/worldsync/server/internal/relay"
)

const persistTimeout = 5 * time.Second

// HandleLeaveWorld removes the player from the world and returns the
// connection to Authenticated.
func HandleLeaveWorld(connID string, data json.RawMessage, deps *Deps) {
	c := deps.Conns.Get(connID)
	if c == nil {
		return
	}
	var req protocol.LeaveWorld
	if len(data) > 0 {
		if err := protocol.DecodePayload(data, &req); err != nil {
			sendError(deps, connID, protocol.CodeInvalidData, "invalid leave_world payload", protocol.EventLeaveWorld)
			return
		}
	}
	if req.ID != "" && string(req.ID) != c.PlayerID {
		sendError(deps, connID, protocol.CodeInvalidData, "id does not match authenticated player", protocol.EventLeaveWorld)
		return
	}
	leaveWorld(c, "leave", deps)
}

// leaveWorld undoes join_world: world state, grid and the in-world binding
// are all released before anyone is told.
func leaveWorld(c *registry.Connection, reason string, deps *Deps) {
	st, ok := deps.World.Get(c.PlayerID)
	if ok {
		deps.World.Leave(c.PlayerID)
	}
	if c.CurrentCell != "" {
		deps.Grid.Remove(c.ID, c.CurrentCell)
	}
	deps.Conns.ClearInWorld(c.ID)

	now := deps.nowMillis()
	broadcastChannel(deps, channelGlobal, c.ID, protocol.EventPlayerLeave, protocol.PlayerLeave{
		ID:        c.PlayerID,
		Reason:    reason,
		Timestamp: now,
	})
	if !ok {
		return
	}

	publish(deps, relay.ChannelGlobal, relay.TypePlayerLeave, st.LastUpdate, "", &st.Position,
		relay.PlayerPayload{ID: c.PlayerID, Name: st.DisplayName})
	if deps.Saver != nil {
		deps.Saver.Enqueue(persist.SaveRequest{ID: st.ID, Name: st.DisplayName, Position: st.Position})
	}
	deps.Log.Info("player left world", zap.String("player", c.PlayerID), zap.String("reason", reason))
}

// Terminate tears a connection down from any state: explicit logout,
// transport close and inactivity eviction all end here. Safe to call more
// than once.
func Terminate(connID, reason string, deps *Deps) {
	c := deps.Conns.Get(connID)
	if c == nil {
		return
	}
	owner := c.Authenticated && ownsPlayer(c, deps)
	if c.State == protocol.StateInWorld {
		leaveWorld(c, reason, deps)
	}
	if owner {
		publish(deps, relay.ChannelGlobal, relay.TypePlayerDisconnected, deps.nowMillis(), "", nil,
			relay.PlayerPayload{ID: c.PlayerID, Name: c.DisplayName})
	}

	deps.Limiter.Forget(connID)
	deps.Conns.Unregister(connID)
	if c.Transport != nil {
		c.Transport.Close()
	}
	ObserveStats(deps)

	deps.Log.Info("connection terminated",
		zap.String("conn", connID),
		zap.String("player", c.PlayerID),
		zap.String("reason", reason))
}

// ownsPlayer reports whether c speaks for its player on this instance: it
// holds the player in the world, or no other local connection is logged in
// as that player.
func ownsPlayer(c *registry.Connection, deps *Deps) bool {
	if holder, ok := deps.Conns.InWorldConn(c.PlayerID); ok {
		return holder == c.ID
	}
	other := false
	deps.Conns.ForEach(func(o *registry.Connection) {
		if o.ID != c.ID && o.Authenticated && o.PlayerID == c.PlayerID {
			other = true
		}
	})
	return !other
}
