package handler

import (
	"encoding/json"
	"strings"

	"github.com/worldsync/server/internal/net/protocol"
	"github.com/worldsync/server/internal/ratelimit"
	"github.com/worldsync/server/internal/relay"
	"github.com/worldsync/server/internal/world"
)

const maxActionType = 64

// HandleAction relays an opaque action to the sender's neighbourhood and
// to the target player, wherever the target is connected.
func HandleAction(connID string, data json.RawMessage, deps *Deps) {
	c := deps.Conns.Get(connID)
	if c == nil {
		return
	}
	if !deps.Limiter.Allow(connID, ratelimit.Action) {
		sendError(deps, connID, protocol.CodeRateLimit, "too many actions", "action")
		return
	}

	var req protocol.Action
	if err := protocol.DecodePayload(data, &req); err != nil {
		sendError(deps, connID, protocol.CodeInvalidData, "invalid action payload", protocol.EventAction)
		return
	}
	req.Type = strings.TrimSpace(req.Type)
	if req.Type == "" || len(req.Type) > maxActionType {
		sendError(deps, connID, protocol.CodeInvalidData, "action requires a type", protocol.EventAction)
		return
	}

	now := deps.nowMillis()
	deliverAction(deps, connID, c.CurrentCell, protocol.PlayerAction{
		PlayerID:   c.PlayerID,
		Type:       req.Type,
		TargetID:   string(req.TargetID),
		Parameters: req.Parameters,
		Timestamp:  now,
	})

	var pos *world.Position
	if st, ok := deps.World.Get(c.PlayerID); ok {
		pos = &st.Position
	}
	publish(deps, relay.CellChannel(c.CurrentCell), relay.TypeAction, now, c.CurrentCell, pos, relay.ActionPayload{
		PlayerID:   c.PlayerID,
		Type:       req.Type,
		TargetID:   string(req.TargetID),
		Parameters: req.Parameters,
	})
}

// deliverAction sends to the interest set of cell plus the target's
// identity channel, each connection at most once.
func deliverAction(deps *Deps, exclude string, cell world.CellKey, a protocol.PlayerAction) {
	ids := interestUnion(deps, cell)
	if a.TargetID != "" {
		seen := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			seen[id] = struct{}{}
		}
		for _, id := range deps.Conns.Members(identityChannel(a.TargetID)) {
			if _, dup := seen[id]; !dup {
				ids = append(ids, id)
			}
		}
	}
	fanOut(deps, ids, exclude, protocol.EventPlayerAction, a)
}
