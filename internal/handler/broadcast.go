package handler

import (
	"go.uber.org/zap"

	"github.com/worldsync/server/internal/net/protocol"
	"github.com/worldsync/server/internal/relay"
	"github.com/worldsync/server/internal/world"
)

// encode builds a frame, logging instead of failing: every payload here is
// a plain struct that always marshals.
func encode(deps *Deps, event string, payload any) []byte {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		deps.Log.Error("encode frame", zap.String("event", event), zap.Error(err))
		return nil
	}
	return data
}

// sendRaw writes a pre-encoded frame to one connection.
func sendRaw(deps *Deps, connID string, data []byte) {
	if data == nil {
		return
	}
	c := deps.Conns.Get(connID)
	if c == nil || c.Transport == nil {
		return
	}
	c.Transport.Send(data)
	deps.Stats.RecordSent()
}

func send(deps *Deps, connID, event string, payload any) {
	sendRaw(deps, connID, encode(deps, event, payload))
}

func sendError(deps *Deps, connID, code, message, typ string) {
	send(deps, connID, protocol.EventError, protocol.Error{Code: code, Message: message, Type: typ})
}

// fanOut encodes once and sends to every id except exclude.
func fanOut(deps *Deps, ids []string, exclude, event string, payload any) {
	if len(ids) == 0 {
		return
	}
	data := encode(deps, event, payload)
	for _, id := range ids {
		if id != exclude {
			sendRaw(deps, id, data)
		}
	}
}

// broadcastChannel delivers to every local member of a registry channel.
func broadcastChannel(deps *Deps, channel, exclude, event string, payload any) {
	fanOut(deps, deps.Conns.Members(channel), exclude, event, payload)
}

// broadcastCells delivers to the union of the interest sets of cells, so
// a player crossing a cell border is seen leaving by the old neighbourhood
// and arriving by the new one.
func broadcastCells(deps *Deps, exclude, event string, payload any, cells ...world.CellKey) {
	fanOut(deps, interestUnion(deps, cells...), exclude, event, payload)
}

func interestUnion(deps *Deps, cells ...world.CellKey) []string {
	radius := deps.Config.Grid.Radius
	if len(cells) == 1 || (len(cells) == 2 && cells[0] == cells[1]) {
		return deps.Grid.InterestSet(cells[0], radius)
	}
	seen := make(map[string]struct{})
	var out []string
	for _, cell := range cells {
		if cell == "" {
			continue
		}
		for _, id := range deps.Grid.InterestSet(cell, radius) {
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				out = append(out, id)
			}
		}
	}
	return out
}

// publish wraps payload in an envelope and hands it to the relay.
func publish(deps *Deps, channel string, t relay.Type, ts int64, cell world.CellKey, pos *world.Position, payload any) {
	if deps.Relay == nil {
		return
	}
	env, err := relay.NewEnvelope(t, ts, payload)
	if err != nil {
		deps.Log.Error("build envelope", zap.String("type", string(t)), zap.Error(err))
		return
	}
	env.GridCell = cell
	if pos != nil {
		env.RegionID = deps.Regions.RegionOf(*pos)
	}
	deps.Relay.Publish(channel, env)
}
