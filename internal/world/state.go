package world

import (
	"errors"
	"sort"
	"time"
)

// ErrStaleUpdate is returned when an incoming write is older than the stored one.
var ErrStaleUpdate = errors.New("world: stale update")

// PlayerState is the authoritative record for one player in the world.
type PlayerState struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"name"`
	Position    Position `json:"position"`
	LastUpdate  int64    `json:"lastUpdate"` // unix millis, LWW clock
}

// Snapshot is a point-in-time copy of the world.
type Snapshot struct {
	Players   map[string]PlayerState `json:"players"`
	Timestamp int64                  `json:"timestamp"`
}

type entry struct {
	PlayerState
	origin string    // instance that owns the player's connection
	seenAt time.Time // last time the origin confirmed this entry
	dirty  bool      // position changed since the last persistence save
}

// State is the last-write-wins map of playerId → PlayerState.
// Writes are accepted iff their timestamp is >= the stored LastUpdate, which
// tolerates out-of-order delivery across instances without coordination.
// Accessed only from the game loop goroutine, no locks.
type State struct {
	instanceID string
	players    map[string]*entry
	now        func() time.Time
}

// NewState creates an empty store owned by instanceID. now may be nil.
func NewState(instanceID string, now func() time.Time) *State {
	if now == nil {
		now = time.Now
	}
	return &State{
		instanceID: instanceID,
		players:    make(map[string]*entry),
		now:        now,
	}
}

// InstanceID returns the id local joins are attributed to.
func (s *State) InstanceID() string {
	return s.instanceID
}

// Join adds or replaces a locally-owned player.
func (s *State) Join(st PlayerState) error {
	return s.join(st, s.instanceID)
}

// JoinRemote adds or replaces a player owned by another instance.
func (s *State) JoinRemote(st PlayerState, origin string) error {
	return s.join(st, origin)
}

func (s *State) join(st PlayerState, origin string) error {
	if cur, ok := s.players[st.ID]; ok && st.LastUpdate < cur.LastUpdate {
		return ErrStaleUpdate
	}
	s.players[st.ID] = &entry{
		PlayerState: st,
		origin:      origin,
		seenAt:      s.now(),
		dirty:       origin == s.instanceID,
	}
	return nil
}

// ApplyMove records a new position iff ts is not older than the stored
// LastUpdate. Ties are accepted: re-sends of the same update are idempotent.
func (s *State) ApplyMove(playerID string, pos Position, ts int64) bool {
	e, ok := s.players[playerID]
	if !ok || ts < e.LastUpdate {
		return false
	}
	e.Position = pos
	e.LastUpdate = ts
	e.seenAt = s.now()
	if e.origin == s.instanceID {
		e.dirty = true
	}
	return true
}

// Leave removes a player. It reports whether the player was present.
func (s *State) Leave(playerID string) bool {
	if _, ok := s.players[playerID]; !ok {
		return false
	}
	delete(s.players, playerID)
	return true
}

// LeaveAt removes a player unless the stored entry is newer than ts, so a
// delayed leave cannot erase a later rejoin.
func (s *State) LeaveAt(playerID string, ts int64) bool {
	e, ok := s.players[playerID]
	if !ok || e.LastUpdate > ts {
		return false
	}
	delete(s.players, playerID)
	return true
}

// Get returns a copy of one player's state.
func (s *State) Get(playerID string) (PlayerState, bool) {
	e, ok := s.players[playerID]
	if !ok {
		return PlayerState{}, false
	}
	return e.PlayerState, true
}

// Origin returns the instance owning playerID.
func (s *State) Origin(playerID string) (string, bool) {
	e, ok := s.players[playerID]
	if !ok {
		return "", false
	}
	return e.origin, true
}

// Len returns the number of players in the world.
func (s *State) Len() int {
	return len(s.players)
}

// Snapshot copies the entire world.
func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		Players:   make(map[string]PlayerState, len(s.players)),
		Timestamp: s.now().UnixMilli(),
	}
	for id, e := range s.players {
		snap.Players[id] = e.PlayerState
	}
	return snap
}

// LocalSnapshot copies only the players owned by this instance.
func (s *State) LocalSnapshot() Snapshot {
	snap := Snapshot{
		Players:   make(map[string]PlayerState),
		Timestamp: s.now().UnixMilli(),
	}
	for id, e := range s.players {
		if e.origin == s.instanceID {
			snap.Players[id] = e.PlayerState
		}
	}
	return snap
}

// MergeRemote applies the LWW rule across a snapshot published by origin,
// adopting only entries newer than the local copy. Entries that match the
// local copy refresh its liveness. Returns the adopted states sorted by id.
func (s *State) MergeRemote(snap Snapshot, origin string) []PlayerState {
	now := s.now()
	var adopted []PlayerState
	for id, remote := range snap.Players {
		if remote.ID == "" {
			remote.ID = id
		}
		cur, ok := s.players[id]
		switch {
		case !ok:
			s.players[id] = &entry{PlayerState: remote, origin: origin, seenAt: now}
			adopted = append(adopted, remote)
		case remote.LastUpdate > cur.LastUpdate:
			cur.PlayerState = remote
			cur.seenAt = now
			if cur.origin != s.instanceID {
				cur.origin = origin
			}
			adopted = append(adopted, remote)
		case remote.LastUpdate == cur.LastUpdate && cur.origin == origin:
			cur.seenAt = now
		}
	}
	sort.Slice(adopted, func(i, j int) bool { return adopted[i].ID < adopted[j].ID })
	return adopted
}

// PruneRemote drops remote-owned entries not confirmed within ttl and
// returns their ids. Local entries are never pruned here; they leave with
// their connection.
func (s *State) PruneRemote(ttl time.Duration) []string {
	now := s.now()
	var gone []string
	for id, e := range s.players {
		if e.origin == s.instanceID {
			continue
		}
		if now.Sub(e.seenAt) > ttl {
			delete(s.players, id)
			gone = append(gone, id)
		}
	}
	sort.Strings(gone)
	return gone
}

// TakeDirty returns local players whose position changed since the last
// call and clears their dirty flag.
func (s *State) TakeDirty() []PlayerState {
	var out []PlayerState
	for _, e := range s.players {
		if e.dirty {
			out = append(out, e.PlayerState)
			e.dirty = false
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
