package handler

import (
	"go.uber.org/zap"

	"github.com/worldsync/server/internal/net/protocol"
	"github.com/worldsync/server/internal/relay"
	"github.com/worldsync/server/internal/world"
)

// ApplyRemote replays an envelope published by another instance through
// the same World State path local mutations use, then re-scopes delivery
// to local connections.
func ApplyRemote(env relay.Envelope, deps *Deps) {
	var err error
	switch env.Type {
	case relay.TypePlayerConnected:
		deps.Log.Debug("remote player connected", zap.String("origin", env.Origin))
	case relay.TypePlayerJoin:
		err = remoteJoin(env, deps)
	case relay.TypePlayerLeave, relay.TypePlayerDisconnected:
		err = remoteLeave(env, deps)
	case relay.TypePlayerMove:
		err = remoteMove(env, deps)
	case relay.TypeChat:
		err = remoteChat(env, deps)
	case relay.TypeAction:
		err = remoteAction(env, deps)
	case relay.TypeWorldSnapshot:
		err = remoteSnapshot(env, deps)
	}
	if err != nil {
		deps.Log.Warn("drop remote envelope",
			zap.String("type", string(env.Type)),
			zap.String("origin", env.Origin),
			zap.Error(err))
	}
}

func remoteJoin(env relay.Envelope, deps *Deps) error {
	p, err := env.Player()
	if err != nil {
		return err
	}
	if localOwner(p.ID, deps) {
		return nil
	}
	st := world.PlayerState{ID: p.ID, DisplayName: p.Name, Position: *p.Position, LastUpdate: env.OriginTimestamp}
	if err := deps.World.JoinRemote(st, env.Origin); err != nil {
		return nil // stale
	}
	broadcastChannel(deps, channelGlobal, "", protocol.EventPlayerJoin, protocol.PlayerJoin{
		ID:        p.ID,
		Name:      p.Name,
		Position:  *p.Position,
		RegionID:  env.RegionID,
		Timestamp: env.OriginTimestamp,
	})
	return nil
}

func remoteLeave(env relay.Envelope, deps *Deps) error {
	p, err := env.Player()
	if err != nil {
		return err
	}
	if localOwner(p.ID, deps) {
		return nil
	}
	if env.Type == relay.TypePlayerDisconnected {
		// A disconnect carries wall-clock time, not the LWW clock; only
		// drop the entry when the departing instance still owns it.
		if origin, ok := deps.World.Origin(p.ID); !ok || origin != env.Origin {
			return nil
		}
		deps.World.Leave(p.ID)
	} else if !deps.World.LeaveAt(p.ID, env.OriginTimestamp) {
		return nil
	}
	broadcastChannel(deps, channelGlobal, "", protocol.EventPlayerLeave, protocol.PlayerLeave{
		ID:        p.ID,
		Reason:    "remote",
		Timestamp: deps.nowMillis(),
	})
	return nil
}

func remoteMove(env relay.Envelope, deps *Deps) error {
	m, err := env.Move()
	if err != nil {
		return err
	}
	if localOwner(m.ID, deps) {
		return nil
	}
	var accepted bool
	var prevCell world.CellKey
	if prev, known := deps.World.Get(m.ID); known {
		prevCell = deps.Grid.CellOf(prev.Position)
		accepted = deps.World.ApplyMove(m.ID, m.Position, env.OriginTimestamp)
	} else {
		st := world.PlayerState{ID: m.ID, DisplayName: m.Name, Position: m.Position, LastUpdate: env.OriginTimestamp}
		accepted = deps.World.JoinRemote(st, env.Origin) == nil
	}
	if !accepted {
		return nil
	}
	broadcastCells(deps, "", protocol.EventPlayerMove, protocol.PlayerMove{
		ID:        m.ID,
		Position:  m.Position,
		Velocity:  m.Velocity,
		Animation: m.Animation,
		RegionID:  env.RegionID,
		Timestamp: env.OriginTimestamp,
	}, prevCell, deps.Grid.CellOf(m.Position))
	return nil
}

func remoteChat(env relay.Envelope, deps *Deps) error {
	ch, err := env.Chat()
	if err != nil {
		return err
	}
	deliverChat(deps, protocol.ChatMessage{
		PlayerID:  ch.PlayerID,
		Name:      ch.Name,
		Message:   ch.Message,
		Channel:   ch.Channel,
		Timestamp: env.OriginTimestamp,
	}, env.GridCell)
	return nil
}

func remoteAction(env relay.Envelope, deps *Deps) error {
	a, err := env.Action()
	if err != nil {
		return err
	}
	deliverAction(deps, "", env.GridCell, protocol.PlayerAction{
		PlayerID:   a.PlayerID,
		Type:       a.Type,
		TargetID:   a.TargetID,
		Parameters: a.Parameters,
		Timestamp:  env.OriginTimestamp,
	})
	return nil
}

func remoteSnapshot(env relay.Envelope, deps *Deps) error {
	snap, err := env.Snapshot()
	if err != nil {
		return err
	}
	for id := range snap.Players {
		if localOwner(id, deps) {
			delete(snap.Players, id)
		}
	}
	adopted := deps.World.MergeRemote(snap, env.Origin)
	if len(adopted) > 0 {
		deps.Log.Debug("merged remote snapshot",
			zap.String("origin", env.Origin),
			zap.Int("adopted", len(adopted)))
	}
	return nil
}

// localOwner reports whether playerID is held in the world by a local
// connection; such players are authoritative here.
func localOwner(playerID string, deps *Deps) bool {
	_, ok := deps.Conns.InWorldConn(playerID)
	return ok
}

// PublishSnapshot sends this instance's portion of the world to the bus.
func PublishSnapshot(deps *Deps) {
	snap := deps.World.LocalSnapshot()
	if len(snap.Players) == 0 {
		return
	}
	publish(deps, relay.ChannelGlobal, relay.TypeWorldSnapshot, snap.Timestamp, "", nil, snap)
}

// PruneRemote drops remote players whose instance went quiet and tells
// local clients they left.
func PruneRemote(deps *Deps) {
	for _, id := range deps.World.PruneRemote(deps.Config.Relay.RemoteTTL) {
		broadcastChannel(deps, channelGlobal, "", protocol.EventPlayerLeave, protocol.PlayerLeave{
			ID:        id,
			Reason:    "timeout",
			Timestamp: deps.nowMillis(),
		})
	}
}

// BroadcastWorldUpdate sends the full world to every global subscriber.
func BroadcastWorldUpdate(deps *Deps) {
	snap := deps.World.Snapshot()
	broadcastChannel(deps, channelGlobal, "", protocol.EventWorldUpdate, protocol.WorldUpdate{
		Players:   snap.Players,
		Timestamp: snap.Timestamp,
	})
}
