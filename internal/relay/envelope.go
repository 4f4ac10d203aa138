package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/worldsync/server/internal/world"
)

// ErrMalformedEnvelope is returned when a bus message fails schema checks.
var ErrMalformedEnvelope = errors.New("relay: malformed envelope")

// Type discriminates the envelope payload.
type Type string

const (
	TypePlayerConnected    Type = "player_connected"
	TypePlayerDisconnected Type = "player_disconnected"
	TypePlayerJoin         Type = "player_join"
	TypePlayerMove         Type = "player_move"
	TypePlayerLeave        Type = "player_leave"
	TypeChat               Type = "chat"
	TypeAction             Type = "action"
	TypeWorldSnapshot      Type = "world_snapshot"
)

func (t Type) valid() bool {
	switch t {
	case TypePlayerConnected, TypePlayerDisconnected, TypePlayerJoin, TypePlayerMove,
		TypePlayerLeave, TypeChat, TypeAction, TypeWorldSnapshot:
		return true
	}
	return false
}

// Envelope is the unit exchanged on the bus. It is built, published and
// discarded; nothing stores it.
type Envelope struct {
	Type            Type            `json:"type"`
	Origin          string          `json:"origin"`
	Payload         json.RawMessage `json:"payload"`
	OriginTimestamp int64           `json:"originTimestamp"`
	GridCell        world.CellKey   `json:"gridCell,omitempty"`
	RegionID        string          `json:"regionId,omitempty"`
}

// PlayerPayload carries connect, disconnect, join and leave events.
type PlayerPayload struct {
	ID       string          `json:"id"`
	Name     string          `json:"name,omitempty"`
	Position *world.Position `json:"position,omitempty"`
}

// MovePayload carries a position update.
type MovePayload struct {
	ID        string          `json:"id"`
	Name      string          `json:"name,omitempty"`
	Position  world.Position  `json:"position"`
	Velocity  json.RawMessage `json:"velocity,omitempty"`
	Animation string          `json:"animation,omitempty"`
}

// ChatPayload carries a chat line.
type ChatPayload struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name,omitempty"`
	Message  string `json:"message"`
	Channel  string `json:"channel"`
}

// ActionPayload carries an opaque player action.
type ActionPayload struct {
	PlayerID   string          `json:"playerId"`
	Type       string          `json:"type"`
	TargetID   string          `json:"targetId,omitempty"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// NewEnvelope marshals payload under the given type.
func NewEnvelope(t Type, ts int64, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Envelope{Type: t, Payload: raw, OriginTimestamp: ts}, nil
}

// Encode serializes an envelope for the wire.
func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Decode parses and schema-checks a bus message. Unknown fields, unknown
// types and payloads missing required fields are all rejected.
func Decode(raw []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if !env.Type.valid() {
		return Envelope{}, fmt.Errorf("%w: unknown type %q", ErrMalformedEnvelope, env.Type)
	}
	if env.Origin == "" {
		return Envelope{}, fmt.Errorf("%w: missing origin", ErrMalformedEnvelope)
	}
	if err := env.validatePayload(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func (e Envelope) validatePayload() error {
	var err error
	switch e.Type {
	case TypePlayerConnected, TypePlayerDisconnected, TypePlayerJoin, TypePlayerLeave:
		_, err = e.Player()
	case TypePlayerMove:
		_, err = e.Move()
	case TypeChat:
		_, err = e.Chat()
	case TypeAction:
		_, err = e.Action()
	case TypeWorldSnapshot:
		_, err = e.Snapshot()
	}
	return err
}

func decodeStrict(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing payload", ErrMalformedEnvelope)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return nil
}

// Player decodes a connect/disconnect/join/leave payload.
func (e Envelope) Player() (PlayerPayload, error) {
	var p PlayerPayload
	if err := decodeStrict(e.Payload, &p); err != nil {
		return p, err
	}
	if p.ID == "" {
		return p, fmt.Errorf("%w: %s without id", ErrMalformedEnvelope, e.Type)
	}
	if e.Type == TypePlayerJoin && p.Position == nil {
		return p, fmt.Errorf("%w: player_join without position", ErrMalformedEnvelope)
	}
	return p, nil
}

// Move decodes a player_move payload.
func (e Envelope) Move() (MovePayload, error) {
	var p MovePayload
	if err := decodeStrict(e.Payload, &p); err != nil {
		return p, err
	}
	if p.ID == "" {
		return p, fmt.Errorf("%w: player_move without id", ErrMalformedEnvelope)
	}
	return p, nil
}

// Chat decodes a chat payload.
func (e Envelope) Chat() (ChatPayload, error) {
	var p ChatPayload
	if err := decodeStrict(e.Payload, &p); err != nil {
		return p, err
	}
	if p.PlayerID == "" || p.Channel == "" {
		return p, fmt.Errorf("%w: chat without sender or channel", ErrMalformedEnvelope)
	}
	return p, nil
}

// Action decodes an action payload.
func (e Envelope) Action() (ActionPayload, error) {
	var p ActionPayload
	if err := decodeStrict(e.Payload, &p); err != nil {
		return p, err
	}
	if p.PlayerID == "" || p.Type == "" {
		return p, fmt.Errorf("%w: action without sender or type", ErrMalformedEnvelope)
	}
	return p, nil
}

// Snapshot decodes a world_snapshot payload.
func (e Envelope) Snapshot() (world.Snapshot, error) {
	var s world.Snapshot
	if err := decodeStrict(e.Payload, &s); err != nil {
		return s, err
	}
	if s.Players == nil {
		s.Players = map[string]world.PlayerState{}
	}
	return s, nil
}
