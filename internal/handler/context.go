package handler

import (
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/worldsync/server/internal/auth"
	"github.com/worldsync/server/internal/config"
	"github.com/worldsync/server/internal/net/protocol"
	"github.com/worldsync/server/internal/persist"
	"github.com/worldsync/server/internal/ratelimit"
	"github.com/worldsync/server/internal/registry"
	"github.com/worldsync/server/internal/relay"
	"github.com/worldsync/server/internal/scripting"
	"github.com/worldsync/server/internal/stats"
	"github.com/worldsync/server/internal/world"
)

// Channel names held in the connection registry.
const (
	channelGlobal  = "global"
	channelStats   = "stats"
	identityPrefix = "player:"
	chatPrefix     = "chat:"
)

// maxParkedFrames bounds what a client may pipeline behind connect_game.
const maxParkedFrames = 64

// Deps holds shared dependencies injected into all handlers. Everything
// except Completions is touched only from the game loop goroutine.
type Deps struct {
	Config    *config.Config
	Log       *zap.Logger
	Conns     *registry.Registry
	Grid      *world.Grid
	World     *world.State
	Regions   *world.RegionTable
	Limiter   *ratelimit.Limiter
	Relay     *relay.Relay
	Stats     *stats.Aggregator
	Auth      auth.Verifier
	Store     persist.Store
	Saver     *persist.Saver    // nil when the database is disabled
	Scripting *scripting.Engine // nil when no scripts are configured

	// Completions carries results of off-loop work (token verification,
	// character loads) back to the game loop, which runs them in order.
	Completions chan func()

	Now func() time.Time

	router *protocol.Registry
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Deps) nowMillis() int64 { return d.now().UnixMilli() }

// Clock returns the current time as seen by the loop.
func (d *Deps) Clock() time.Time { return d.now() }

// post hands fn to the game loop. Called from worker goroutines.
func (d *Deps) post(fn func()) {
	d.Completions <- fn
}

// RegisterAll registers all event handlers into the registry.
func RegisterAll(reg *protocol.Registry, deps *Deps) {
	deps.router = reg

	anyState := []protocol.State{protocol.StateConnecting, protocol.StateAuthenticated, protocol.StateInWorld}
	authStates := []protocol.State{protocol.StateAuthenticated, protocol.StateInWorld}
	inWorld := []protocol.State{protocol.StateInWorld}

	reg.Register(protocol.EventConnectGame, []protocol.State{protocol.StateConnecting},
		func(connID string, data json.RawMessage) { HandleConnectGame(connID, data, deps) })

	reg.Register(protocol.EventJoinWorld, []protocol.State{protocol.StateAuthenticated},
		func(connID string, data json.RawMessage) { HandleJoinWorld(connID, data, deps) })

	move := func(connID string, data json.RawMessage) { HandleMove(connID, data, deps) }
	reg.Register(protocol.EventPlayerMove, inWorld, move)
	reg.Register(protocol.EventMove, inWorld, move)

	reg.Register(protocol.EventAction, inWorld,
		func(connID string, data json.RawMessage) { HandleAction(connID, data, deps) })
	reg.Register(protocol.EventChat, inWorld,
		func(connID string, data json.RawMessage) { HandleChat(connID, data, deps) })
	reg.Register(protocol.EventLeaveWorld, inWorld,
		func(connID string, data json.RawMessage) { HandleLeaveWorld(connID, data, deps) })

	reg.Register(protocol.EventPing, anyState,
		func(connID string, data json.RawMessage) { HandlePing(connID, data, deps) })
	reg.Register(protocol.EventLogout, anyState,
		func(connID string, _ json.RawMessage) { Terminate(connID, "logout", deps) })
	reg.Register(protocol.EventGetStats, authStates,
		func(connID string, _ json.RawMessage) { HandleGetStats(connID, deps) })
}

// HandleFrame is the dispatcher entry point for one raw client message:
// it refreshes liveness, decodes the frame and routes it through reg,
// turning state violations into structured error events. Frames that
// arrive while connect_game is being verified are parked and dispatched
// in order once the outcome is known.
func HandleFrame(reg *protocol.Registry, connID string, raw []byte, deps *Deps) {
	c := deps.Conns.Get(connID)
	if c == nil {
		return
	}
	deps.Conns.Touch(connID)
	deps.Stats.RecordReceived()

	if c.AuthPending {
		if len(c.Parked) >= maxParkedFrames {
			sendError(deps, connID, protocol.CodeRateLimit, "too many messages before authentication", "")
			return
		}
		c.Parked = append(c.Parked, raw)
		return
	}
	dispatchFrame(reg, c, raw, deps)
}

// replayParked dispatches frames held back during verification. It stops
// early if one of them starts another verification or ends the connection.
func replayParked(connID string, deps *Deps) {
	if deps.router == nil {
		return
	}
	for {
		c := deps.Conns.Get(connID)
		if c == nil || c.AuthPending || len(c.Parked) == 0 {
			return
		}
		raw := c.Parked[0]
		c.Parked = c.Parked[1:]
		if len(c.Parked) == 0 {
			c.Parked = nil
		}
		dispatchFrame(deps.router, c, raw, deps)
	}
}

func dispatchFrame(reg *protocol.Registry, c *registry.Connection, raw []byte, deps *Deps) {
	connID := c.ID
	f, err := protocol.DecodeFrame(raw)
	if err != nil {
		sendError(deps, connID, protocol.CodeInvalidData, "malformed message", "")
		return
	}

	err = reg.Dispatch(connID, c.State, f)
	switch {
	case err == nil:
	case errors.Is(err, protocol.ErrNotAuthenticated):
		sendError(deps, connID, protocol.CodeNotAuthenticated, "authenticate with connect_game first", f.Event)
	case errors.Is(err, protocol.ErrNotInWorld):
		sendError(deps, connID, protocol.CodeInvalidData, "join_world first", f.Event)
	case errors.Is(err, protocol.ErrNotAllowed):
		sendError(deps, connID, protocol.CodeInvalidData, "event not allowed now", f.Event)
	default:
		deps.Log.Warn("handler failed", zap.String("conn", connID), zap.String("event", f.Event), zap.Error(err))
		sendError(deps, connID, protocol.CodeInvalidData, "could not process message", f.Event)
	}
}

// ObserveStats copies loop-owned counts into the aggregator.
func ObserveStats(deps *Deps) {
	g := stats.Gauges{
		TotalConnections:         deps.Conns.Len(),
		AuthenticatedConnections: deps.Conns.AuthenticatedCount(),
		ActiveCells:              deps.Grid.ActiveCells(),
		InWorldPlayers:           deps.Conns.InWorldCount(),
		WorldPlayers:             deps.World.Len(),
	}
	if deps.Relay != nil {
		rc := deps.Relay.Counters()
		g.RelayPublished = rc.Published
		g.RelayReceived = rc.Received
		g.RelayDropped = rc.Dropped
		g.BusHealthy = deps.Relay.Healthy()
	}
	deps.Stats.Observe(g)
}

func identityChannel(playerID string) string { return identityPrefix + playerID }
