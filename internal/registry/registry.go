// Package registry tracks live connections: authentication state, last
// activity, current grid cell and explicit channel membership. It drives
// inactivity eviction through Sweep.
//
// Accessed only from the game loop goroutine, no locks.
package registry

import (
	"errors"
	"sort"
	"time"

	"github.com/worldsync/server/internal/net/protocol"
	"github.com/worldsync/server/internal/world"
)

// ErrUnknownConnection is returned for ids that are not registered.
var ErrUnknownConnection = errors.New("registry: unknown connection")

// Transport is the sending half of a live client connection.
type Transport interface {
	Send(data []byte)
	Close()
}

// Connection is one live transport session.
type Connection struct {
	ID            string
	PlayerID      string
	DisplayName   string
	Authenticated bool
	State         protocol.State
	LastActivity  time.Time
	ConnectedAt   time.Time
	CurrentCell   world.CellKey
	RemoteAddr    string
	AuthPending   bool

	// Parked holds frames that arrived while AuthPending was set, in
	// arrival order. They are dispatched once verification completes.
	Parked [][]byte

	Transport Transport

	channels map[string]struct{}
}

// Channels returns the connection's channel memberships, sorted.
func (c *Connection) Channels() []string {
	out := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// InChannel reports channel membership.
func (c *Connection) InChannel(ch string) bool {
	_, ok := c.channels[ch]
	return ok
}

// Registry owns every Connection record.
type Registry struct {
	conns    map[string]*Connection
	channels map[string]map[string]struct{} // channel → connection IDs
	inWorld  map[string]string              // playerID → connection ID
	timeout  time.Duration
	now      func() time.Time
}

// New creates a registry evicting connections idle for longer than timeout.
func New(timeout time.Duration, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		conns:    make(map[string]*Connection),
		channels: make(map[string]map[string]struct{}),
		inWorld:  make(map[string]string),
		timeout:  timeout,
		now:      now,
	}
}

// Register records a freshly accepted connection in the Connecting state.
func (r *Registry) Register(c *Connection) {
	now := r.now()
	c.State = protocol.StateConnecting
	c.LastActivity = now
	if c.ConnectedAt.IsZero() {
		c.ConnectedAt = now
	}
	c.channels = make(map[string]struct{})
	r.conns[c.ID] = c
}

// Get returns a connection or nil.
func (r *Registry) Get(connID string) *Connection {
	return r.conns[connID]
}

// Authenticate binds playerID to the connection and moves it to Authenticated.
func (r *Registry) Authenticate(connID, playerID string) error {
	c := r.conns[connID]
	if c == nil {
		return ErrUnknownConnection
	}
	c.PlayerID = playerID
	c.Authenticated = true
	c.AuthPending = false
	c.State = protocol.StateAuthenticated
	return nil
}

// Touch refreshes the connection's last activity.
func (r *Registry) Touch(connID string) {
	if c := r.conns[connID]; c != nil {
		c.LastActivity = r.now()
	}
}

// Sweep returns the ids of connections idle for longer than the timeout,
// oldest first. The caller terminates each one, which unregisters it.
func (r *Registry) Sweep(now time.Time) []string {
	var stale []*Connection
	for _, c := range r.conns {
		if now.Sub(c.LastActivity) > r.timeout {
			stale = append(stale, c)
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		if !stale[i].LastActivity.Equal(stale[j].LastActivity) {
			return stale[i].LastActivity.Before(stale[j].LastActivity)
		}
		return stale[i].ID < stale[j].ID
	})
	ids := make([]string, len(stale))
	for i, c := range stale {
		ids[i] = c.ID
	}
	return ids
}

// Unregister removes a connection and every index entry it holds.
func (r *Registry) Unregister(connID string) *Connection {
	c := r.conns[connID]
	if c == nil {
		return nil
	}
	for ch := range c.channels {
		r.leaveChannel(c, ch)
	}
	r.ClearInWorld(connID)
	c.State = protocol.StateTerminated
	delete(r.conns, connID)
	return c
}

// EnterWorld records that connID holds playerID in the world at cell.
func (r *Registry) EnterWorld(connID string, cell world.CellKey) error {
	c := r.conns[connID]
	if c == nil {
		return ErrUnknownConnection
	}
	c.State = protocol.StateInWorld
	c.CurrentCell = cell
	r.inWorld[c.PlayerID] = connID
	return nil
}

// ClearInWorld drops the in-world binding and returns the connection to
// Authenticated when it was in the world.
func (r *Registry) ClearInWorld(connID string) {
	c := r.conns[connID]
	if c == nil {
		return
	}
	if r.inWorld[c.PlayerID] == connID {
		delete(r.inWorld, c.PlayerID)
	}
	c.CurrentCell = ""
	if c.State == protocol.StateInWorld {
		c.State = protocol.StateAuthenticated
	}
}

// InWorldConn returns the connection holding playerID in the world.
func (r *Registry) InWorldConn(playerID string) (string, bool) {
	id, ok := r.inWorld[playerID]
	return id, ok
}

// JoinChannel adds connID to a named channel.
func (r *Registry) JoinChannel(connID, ch string) {
	c := r.conns[connID]
	if c == nil {
		return
	}
	c.channels[ch] = struct{}{}
	set := r.channels[ch]
	if set == nil {
		set = make(map[string]struct{})
		r.channels[ch] = set
	}
	set[connID] = struct{}{}
}

// LeaveChannel removes connID from a named channel.
func (r *Registry) LeaveChannel(connID, ch string) {
	if c := r.conns[connID]; c != nil {
		r.leaveChannel(c, ch)
	}
}

func (r *Registry) leaveChannel(c *Connection, ch string) {
	delete(c.channels, ch)
	if set := r.channels[ch]; set != nil {
		delete(set, c.ID)
		if len(set) == 0 {
			delete(r.channels, ch)
		}
	}
}

// Members returns the connections subscribed to ch, sorted.
func (r *Registry) Members(ch string) []string {
	set := r.channels[ch]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ForEach calls fn for every connection.
func (r *Registry) ForEach(fn func(c *Connection)) {
	for _, c := range r.conns {
		fn(c)
	}
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	return len(r.conns)
}

// AuthenticatedCount returns the number of authenticated connections.
func (r *Registry) AuthenticatedCount() int {
	n := 0
	for _, c := range r.conns {
		if c.Authenticated {
			n++
		}
	}
	return n
}

// InWorldCount returns the number of connections holding a player in the world.
func (r *Registry) InWorldCount() int {
	return len(r.inWorld)
}
