package protocol

import (
	"encoding/json"

	"github.com/worldsync/server/internal/world"
)

// Client → server events.
const (
	EventConnectGame = "connect_game"
	EventJoinWorld   = "join_world"
	EventPlayerMove  = "player_move"
	EventMove        = "move"
	EventAction      = "action"
	EventChat        = "chat"
	EventLeaveWorld  = "leave_world"
	EventPing        = "ping"
	EventLogout      = "logout"
	EventGetStats    = "get_stats"
)

// Server → client events. player_move is shared with the client direction.
const (
	EventConnected    = "connected"
	EventGameState    = "game_state"
	EventPlayerJoin   = "player_join"
	EventPlayerLeave  = "player_leave"
	EventWorldUpdate  = "world_update"
	EventError        = "error"
	EventPong         = "pong"
	EventServerStats  = "server_stats"
	EventChatMessage  = "chat_message"
	EventPlayerAction = "player_action"
)

// Error codes carried in error events.
const (
	CodeRateLimit        = "RATE_LIMIT"
	CodeNotAuthenticated = "NOT_AUTHENTICATED"
	CodeInvalidData      = "INVALID_DATA"
	CodeJoinFailed       = "JOIN_FAILED"
)

// game_state types.
const (
	GameStateInitial   = "initial_state"
	GameStateWorld     = "world_state"
	GameStateCharacter = "character"
)

type ConnectGame struct {
	CharacterID   FlexID `json:"characterId"`
	CharacterName string `json:"characterName"`
	Token         string `json:"token,omitempty"`
}

type JoinWorld struct {
	ID       FlexID          `json:"id"`
	Name     string          `json:"name"`
	Position *world.Position `json:"position"`
}

type Move struct {
	ID        FlexID          `json:"id,omitempty"`
	Position  *world.Position `json:"position"`
	Velocity  json.RawMessage `json:"velocity,omitempty"`
	Animation string          `json:"animation,omitempty"`
	Timestamp *int64          `json:"timestamp,omitempty"`
}

type Action struct {
	Type       string          `json:"type"`
	TargetID   FlexID          `json:"targetId,omitempty"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

type Chat struct {
	Message string `json:"message"`
	Channel string `json:"channel,omitempty"`
}

type LeaveWorld struct {
	ID FlexID `json:"id"`
}

type Ping struct {
	Timestamp *int64 `json:"timestamp,omitempty"`
}

type Connected struct {
	Message           string `json:"message"`
	Timestamp         int64  `json:"timestamp"`
	ClientID          string `json:"clientId"`
	ActiveConnections int    `json:"activeConnections"`
}

// CharacterInfo is the stored character record sent after authentication.
type CharacterInfo struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	LastPosition *world.Position `json:"lastPosition,omitempty"`
}

type GameState struct {
	Type      string                       `json:"type"`
	PlayerID  string                       `json:"playerId,omitempty"`
	Players   map[string]world.PlayerState `json:"players,omitempty"`
	Character *CharacterInfo               `json:"character,omitempty"`
	Timestamp int64                        `json:"timestamp"`
}

type PlayerJoin struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Position  world.Position `json:"position"`
	RegionID  string         `json:"regionId,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

type PlayerMove struct {
	ID        string          `json:"id"`
	Position  world.Position  `json:"position"`
	Velocity  json.RawMessage `json:"velocity,omitempty"`
	Animation string          `json:"animation,omitempty"`
	RegionID  string          `json:"regionId,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

type PlayerLeave struct {
	ID        string `json:"id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type WorldUpdate struct {
	Players   map[string]world.PlayerState `json:"players"`
	Timestamp int64                        `json:"timestamp"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}

type Pong struct {
	Timestamp  int64 `json:"timestamp"`
	ServerTime int64 `json:"serverTime"`
	Latency    int64 `json:"latency"`
}

type ChatMessage struct {
	PlayerID  string `json:"playerId"`
	Name      string `json:"name"`
	Message   string `json:"message"`
	Channel   string `json:"channel"`
	Timestamp int64  `json:"timestamp"`
}

type PlayerAction struct {
	PlayerID   string          `json:"playerId"`
	Type       string          `json:"type"`
	TargetID   string          `json:"targetId,omitempty"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
	Timestamp  int64           `json:"timestamp"`
}
