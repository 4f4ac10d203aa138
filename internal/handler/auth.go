package handler

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/worldsync/server/internal/auth"
	"github.com/worldsync/server/internal/net/protocol"
	"github.com/worldsync/server/internal/persist"
	"github.com/worldsync/server/internal/relay"
)

const maxNameRunes = 32

// HandleConnectGame processes the authentication handshake. The identity
// provider may do I/O, so verification runs on its own goroutine and the
// outcome is applied on the loop through Completions.
func HandleConnectGame(connID string, data json.RawMessage, deps *Deps) {
	c := deps.Conns.Get(connID)
	if c == nil || c.AuthPending {
		return
	}

	var req protocol.ConnectGame
	if err := protocol.DecodePayload(data, &req); err != nil {
		sendError(deps, connID, protocol.CodeInvalidData, "invalid connect_game payload", protocol.EventConnectGame)
		return
	}

	c.AuthPending = true
	creds := auth.Credentials{CharacterID: string(req.CharacterID), Token: req.Token}
	name := normalizeName(req.CharacterName)
	timeout := deps.Config.Auth.VerifyTimeout

	go func() {
		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		playerID, err := deps.Auth.Verify(ctx, creds)
		deps.post(func() { completeAuth(connID, name, playerID, err, deps) })
	}()
}

func completeAuth(connID, name, playerID string, verr error, deps *Deps) {
	c := deps.Conns.Get(connID)
	if c == nil {
		return
	}
	c.AuthPending = false
	defer replayParked(connID, deps)
	if c.State != protocol.StateConnecting {
		return
	}

	if verr != nil {
		deps.Log.Info("authentication failed", zap.String("conn", connID), zap.Error(verr))
		sendError(deps, connID, protocol.CodeNotAuthenticated, "authentication failed", protocol.EventConnectGame)
		return
	}

	if err := deps.Conns.Authenticate(connID, playerID); err != nil {
		return
	}
	if name == "" {
		name = playerID
	}
	c.DisplayName = name
	deps.Conns.JoinChannel(connID, channelGlobal)
	deps.Conns.JoinChannel(connID, identityChannel(playerID))

	now := deps.nowMillis()
	send(deps, connID, protocol.EventConnected, protocol.Connected{
		Message:           "Connected to game server",
		Timestamp:         now,
		ClientID:          connID,
		ActiveConnections: deps.Conns.Len(),
	})
	send(deps, connID, protocol.EventGameState, protocol.GameState{
		Type:      protocol.GameStateInitial,
		PlayerID:  playerID,
		Players:   deps.World.Snapshot().Players,
		Timestamp: now,
	})

	publish(deps, relay.ChannelGlobal, relay.TypePlayerConnected, now, "", nil,
		relay.PlayerPayload{ID: playerID, Name: name})
	ObserveStats(deps)

	deps.Log.Info("player authenticated", zap.String("conn", connID), zap.String("player", playerID))
	loadCharacter(connID, playerID, deps)
}

// loadCharacter fetches the stored record off-loop and, if the connection
// still belongs to the same player, sends it as game_state{character}.
func loadCharacter(connID, playerID string, deps *Deps) {
	if deps.Store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		ch, err := deps.Store.Load(ctx, playerID)
		deps.post(func() {
			if err != nil {
				if !errors.Is(err, persist.ErrNotFound) {
					deps.Log.Warn("load character", zap.String("player", playerID), zap.Error(err))
				}
				return
			}
			c := deps.Conns.Get(connID)
			if c == nil || !c.Authenticated || c.PlayerID != playerID {
				return
			}
			pos := ch.LastPosition
			name := ch.Name
			if name == "" {
				name = c.DisplayName
			}
			send(deps, connID, protocol.EventGameState, protocol.GameState{
				Type:      protocol.GameStateCharacter,
				PlayerID:  playerID,
				Character: &protocol.CharacterInfo{ID: ch.ID, Name: name, LastPosition: &pos},
				Timestamp: deps.nowMillis(),
			})
		})
	}()
}

// normalizeName applies NFC, drops control characters and caps the length.
func normalizeName(s string) string {
	return truncateRunes(cleanText(s), maxNameRunes)
}

func cleanText(s string) string {
	s = norm.NFC.String(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

func truncateRunes(s string, max int) string {
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
