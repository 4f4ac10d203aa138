package handler

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/worldsync/server/internal/net/protocol"
	"github.com/worldsync/server/internal/relay"
	"github.com/worldsync/server/internal/world"
)

// HandleJoinWorld places an authenticated player into the world.
func HandleJoinWorld(connID string, data json.RawMessage, deps *Deps) {
	c := deps.Conns.Get(connID)
	if c == nil {
		return
	}

	var req protocol.JoinWorld
	if err := protocol.DecodePayload(data, &req); err != nil || !protocol.ValidPosition(req.Position) {
		sendError(deps, connID, protocol.CodeInvalidData, "join_world requires a position", protocol.EventJoinWorld)
		return
	}
	if req.ID != "" && string(req.ID) != c.PlayerID {
		sendError(deps, connID, protocol.CodeInvalidData, "id does not match authenticated player", protocol.EventJoinWorld)
		return
	}
	if other, ok := deps.Conns.InWorldConn(c.PlayerID); ok && other != connID {
		sendError(deps, connID, protocol.CodeJoinFailed, "player is already in the world", protocol.EventJoinWorld)
		return
	}

	if name := normalizeName(req.Name); name != "" {
		c.DisplayName = name
	}
	pos := *req.Position

	// A local join owns the player outright; keep the LWW clock where it
	// is so a stale remote copy cannot outrank it.
	var clock int64
	if prev, ok := deps.World.Get(c.PlayerID); ok {
		clock = prev.LastUpdate
	}
	st := world.PlayerState{ID: c.PlayerID, DisplayName: c.DisplayName, Position: pos, LastUpdate: clock}
	if err := deps.World.Join(st); err != nil {
		deps.Log.Warn("join rejected", zap.String("player", c.PlayerID), zap.Error(err))
		sendError(deps, connID, protocol.CodeJoinFailed, "could not join world", protocol.EventJoinWorld)
		return
	}

	cell := deps.Grid.CellOf(pos)
	deps.Grid.Add(connID, cell)
	if err := deps.Conns.EnterWorld(connID, cell); err != nil {
		deps.Grid.Remove(connID, cell)
		deps.World.Leave(c.PlayerID)
		return
	}

	now := deps.nowMillis()
	region := deps.Regions.RegionOf(pos)
	send(deps, connID, protocol.EventGameState, protocol.GameState{
		Type:      protocol.GameStateWorld,
		PlayerID:  c.PlayerID,
		Players:   deps.World.Snapshot().Players,
		Timestamp: now,
	})
	broadcastChannel(deps, channelGlobal, connID, protocol.EventPlayerJoin, protocol.PlayerJoin{
		ID:        c.PlayerID,
		Name:      c.DisplayName,
		Position:  pos,
		RegionID:  region,
		Timestamp: now,
	})
	publish(deps, relay.ChannelGlobal, relay.TypePlayerJoin, clock, cell, &pos,
		relay.PlayerPayload{ID: c.PlayerID, Name: c.DisplayName, Position: &pos})

	deps.Log.Info("player joined world",
		zap.String("player", c.PlayerID),
		zap.String("cell", string(cell)),
		zap.String("region", region))
}
