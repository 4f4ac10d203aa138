package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// State represents a connection's current protocol phase.
type State int

const (
	StateConnecting    State = iota // transport open, awaiting connect_game
	StateAuthenticated              // identity verified, not in the world
	StateInWorld                    // joined with a position
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateAuthenticated:
		return "Authenticated"
	case StateInWorld:
		return "InWorld"
	case StateTerminated:
		return "Terminated"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

var (
	// ErrNotAuthenticated means the event needs a verified identity.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrNotInWorld means the event needs a prior join_world.
	ErrNotInWorld = errors.New("not in world")
	// ErrNotAllowed covers every other state mismatch.
	ErrNotAllowed = errors.New("event not allowed in current state")
)

// HandlerFunc handles one decoded frame for a connection.
type HandlerFunc func(connID string, data json.RawMessage)

type handlerEntry struct {
	fn            HandlerFunc
	allowedStates map[State]bool
}

// Registry maps event names to handlers with state-based access control.
type Registry struct {
	handlers map[string]*handlerEntry
	log      *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		handlers: make(map[string]*handlerEntry),
		log:      log,
	}
}

// Register maps an event to a handler, restricted to the given states.
func (reg *Registry) Register(event string, states []State, fn HandlerFunc) {
	allowed := make(map[State]bool, len(states))
	for _, s := range states {
		allowed[s] = true
	}
	reg.handlers[event] = &handlerEntry{
		fn:            fn,
		allowedStates: allowed,
	}
}

// Dispatch validates the connection state for the frame's event and calls
// its handler. Unknown events are ignored.
func (reg *Registry) Dispatch(connID string, state State, f Frame) error {
	entry, ok := reg.handlers[f.Event]
	if !ok {
		reg.log.Debug("unknown event", zap.String("event", f.Event), zap.String("state", state.String()))
		return nil
	}

	if !entry.allowedStates[state] {
		switch {
		case state == StateConnecting:
			return ErrNotAuthenticated
		case state == StateAuthenticated && entry.allowedStates[StateInWorld]:
			return ErrNotInWorld
		default:
			return fmt.Errorf("%w: %s in %s", ErrNotAllowed, f.Event, state)
		}
	}

	return reg.safeCall(entry.fn, connID, f)
}

// safeCall executes a handler with panic recovery so a single bad message
// cannot take down the game loop.
func (reg *Registry) safeCall(fn HandlerFunc, connID string, f Frame) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			reg.log.Error("handler panic recovered",
				zap.String("event", f.Event),
				zap.String("conn", connID),
				zap.Any("panic", rec),
			)
			err = fmt.Errorf("handler panic for event %s: %v", f.Event, rec)
		}
	}()
	fn(connID, f.Data)
	return nil
}
