package handler

import (
	"encoding/json"

	"github.com/worldsync/server/internal/net/protocol"
	"github.com/worldsync/server/internal/ratelimit"
	"github.com/worldsync/server/internal/relay"
)

// HandleMove processes player_move / move.
// Flow: rate limit → LWW apply → grid move → cell fan-out → relay publish.
// Stale updates are dropped without telling the sender.
func HandleMove(connID string, data json.RawMessage, deps *Deps) {
	c := deps.Conns.Get(connID)
	if c == nil {
		return
	}
	if !deps.Limiter.Allow(connID, ratelimit.Movement) {
		sendError(deps, connID, protocol.CodeRateLimit, "too many movement updates", "movement")
		return
	}

	var req protocol.Move
	if err := protocol.DecodePayload(data, &req); err != nil || !protocol.ValidPosition(req.Position) {
		sendError(deps, connID, protocol.CodeInvalidData, "move requires a position", protocol.EventPlayerMove)
		return
	}
	if req.ID != "" && string(req.ID) != c.PlayerID {
		sendError(deps, connID, protocol.CodeInvalidData, "id does not match authenticated player", protocol.EventPlayerMove)
		return
	}

	ts := deps.nowMillis()
	if req.Timestamp != nil {
		ts = *req.Timestamp
	}
	pos := *req.Position
	if !deps.World.ApplyMove(c.PlayerID, pos, ts) {
		return
	}

	oldCell := c.CurrentCell
	newCell := deps.Grid.CellOf(pos)
	if newCell != oldCell {
		deps.Grid.Move(connID, oldCell, newCell)
		c.CurrentCell = newCell
	}

	region := deps.Regions.RegionOf(pos)
	broadcastCells(deps, connID, protocol.EventPlayerMove, protocol.PlayerMove{
		ID:        c.PlayerID,
		Position:  pos,
		Velocity:  req.Velocity,
		Animation: req.Animation,
		RegionID:  region,
		Timestamp: ts,
	}, oldCell, newCell)

	publish(deps, relay.CellChannel(newCell), relay.TypePlayerMove, ts, newCell, &pos, relay.MovePayload{
		ID:        c.PlayerID,
		Name:      c.DisplayName,
		Position:  pos,
		Velocity:  req.Velocity,
		Animation: req.Animation,
	})
}
