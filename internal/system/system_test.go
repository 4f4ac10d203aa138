package system

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/worldsync/server/internal/auth"
	"github.com/worldsync/server/internal/config"
	"github.com/worldsync/server/internal/handler"
	"github.com/worldsync/server/internal/net"
	"github.com/worldsync/server/internal/net/protocol"
	"github.com/worldsync/server/internal/persist"
	"github.com/worldsync/server/internal/ratelimit"
	"github.com/worldsync/server/internal/registry"
	"github.com/worldsync/server/internal/relay"
	"github.com/worldsync/server/internal/stats"
	"github.com/worldsync/server/internal/world"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type nopTransport struct{ closed bool }

func (*nopTransport) Send([]byte) {}
func (t *nopTransport) Close()   { t.closed = true }

type recordingStore struct {
	persist.NopStore
	mu    sync.Mutex
	saved map[string]world.Position
}

func (s *recordingStore) SavePosition(_ context.Context, id, _ string, pos world.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saved == nil {
		s.saved = make(map[string]world.Position)
	}
	s.saved[id] = pos
	return nil
}

func (s *recordingStore) get(id string) (world.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.saved[id]
	return p, ok
}

func newDeps(t *testing.T, instanceID string, rel *relay.Relay) (*handler.Deps, *fakeClock) {
	t.Helper()
	cfg := config.Default()
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	verifier, err := auth.New(cfg.Auth, nil, clk.now)
	if err != nil {
		t.Fatal(err)
	}
	return &handler.Deps{
		Config:      cfg,
		Log:         zap.NewNop(),
		Conns:       registry.New(cfg.Session.InactivityTimeout, clk.now),
		Grid:        world.NewGrid(cfg.Grid.CellSize),
		World:       world.NewState(instanceID, clk.now),
		Regions:     &world.RegionTable{},
		Limiter:     ratelimit.New(cfg.RateLimit, clk.now),
		Relay:       rel,
		Stats:       stats.New(clk.now),
		Auth:        verifier,
		Completions: make(chan func(), 16),
		Now:         clk.now,
	}, clk
}

// place puts a connection straight into the world without the protocol.
func place(t *testing.T, deps *handler.Deps, connID, playerID string, pos world.Position) *nopTransport {
	t.Helper()
	tr := &nopTransport{}
	deps.Conns.Register(&registry.Connection{ID: connID, Transport: tr})
	if err := deps.Conns.Authenticate(connID, playerID); err != nil {
		t.Fatal(err)
	}
	deps.Conns.JoinChannel(connID, "global")
	if err := deps.World.Join(world.PlayerState{ID: playerID, Position: pos}); err != nil {
		t.Fatal(err)
	}
	cell := deps.Grid.CellOf(pos)
	deps.Grid.Add(connID, cell)
	if err := deps.Conns.EnterWorld(connID, cell); err != nil {
		t.Fatal(err)
	}
	return tr
}

func TestSweepSystemEvictsOnInterval(t *testing.T) {
	t.Parallel()

	deps, clk := newDeps(t, "inst-a", nil)
	tr := place(t, deps, "c1", "p1", world.Position{X: 10, Y: 10})
	sys := NewSweepSystem(deps, 30*time.Second, zap.NewNop())

	clk.advance(31 * time.Second)
	sys.Update(10 * time.Second)
	if deps.Conns.Get("c1") == nil {
		t.Fatal("swept before the interval elapsed")
	}

	sys.Update(20 * time.Second)
	if deps.Conns.Get("c1") != nil || !tr.closed {
		t.Fatal("idle connection not evicted")
	}
	if deps.Grid.ActiveCells() != 0 || deps.World.Len() != 0 {
		t.Fatalf("leftover state: cells=%d players=%d", deps.Grid.ActiveCells(), deps.World.Len())
	}
}

func TestPersistenceSystemSavesDirtyPlayers(t *testing.T) {
	t.Parallel()

	deps, _ := newDeps(t, "inst-a", nil)
	store := &recordingStore{}
	saver := persist.NewSaver(store, 8, zap.NewNop())
	sys := NewPersistenceSystem(deps, saver, time.Minute, zap.NewNop())

	place(t, deps, "c1", "p1", world.Position{X: 1, Y: 2})
	place(t, deps, "c2", "p2", world.Position{X: 3, Y: 4})
	if err := deps.World.JoinRemote(world.PlayerState{ID: "remote", LastUpdate: 1}, "inst-b"); err != nil {
		t.Fatal(err)
	}
	deps.World.TakeDirty()
	deps.World.ApplyMove("p1", world.Position{X: 50, Y: 60}, 10)

	sys.Update(time.Minute)
	saver.Close()

	if pos, ok := store.get("p1"); !ok || pos.X != 50 {
		t.Fatalf("p1 saved = %+v %v", pos, ok)
	}
	if _, ok := store.get("p2"); ok {
		t.Fatal("clean player saved")
	}
	if _, ok := store.get("remote"); ok {
		t.Fatal("remote player saved")
	}
}

func TestPersistenceSystemSaveAll(t *testing.T) {
	t.Parallel()

	deps, _ := newDeps(t, "inst-a", nil)
	store := &recordingStore{}
	saver := persist.NewSaver(store, 8, zap.NewNop())
	sys := NewPersistenceSystem(deps, saver, time.Minute, zap.NewNop())

	place(t, deps, "c1", "p1", world.Position{X: 1, Y: 2})
	place(t, deps, "c2", "p2", world.Position{X: 3, Y: 4})
	deps.World.TakeDirty()

	if n := sys.SaveAllPlayers(); n != 2 {
		t.Fatalf("queued %d", n)
	}
	saver.Close()
	for _, id := range []string{"p1", "p2"} {
		if _, ok := store.get(id); !ok {
			t.Fatalf("%s not saved", id)
		}
	}
}

func startRelay(t *testing.T, hub *relay.LocalHub, id string) *relay.Relay {
	t.Helper()
	r := relay.New(relay.NewLocalBus(hub), config.Default().Relay, id, zap.NewNop())
	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestSnapshotSystemRepairsRemoteInstance(t *testing.T) {
	t.Parallel()

	hub := relay.NewLocalHub()
	a, _ := newDeps(t, "inst-a", startRelay(t, hub, "inst-a"))
	b, _ := newDeps(t, "inst-b", startRelay(t, hub, "inst-b"))

	place(t, a, "c1", "p1", world.Position{X: 5, Y: 5})
	a.World.ApplyMove("p1", world.Position{X: 7, Y: 7}, 100)

	NewSnapshotSystem(a, 5*time.Second).Update(5 * time.Second)

	rs := NewRelaySystem(b)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rs.Update(0)
		if st, ok := b.World.Get("p1"); ok {
			if st.LastUpdate != 100 || st.Position.X != 7 {
				t.Fatalf("merged %+v", st)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("snapshot never reached instance B")
}

func TestSnapshotSystemPrunesSilentInstances(t *testing.T) {
	t.Parallel()

	deps, clk := newDeps(t, "inst-a", nil)
	if err := deps.World.JoinRemote(world.PlayerState{ID: "ghost", LastUpdate: 1}, "inst-gone"); err != nil {
		t.Fatal(err)
	}
	sys := NewSnapshotSystem(deps, 5*time.Second)

	clk.advance(deps.Config.Relay.RemoteTTL + time.Second)
	sys.Update(5 * time.Second)
	if _, ok := deps.World.Get("ghost"); ok {
		t.Fatal("ghost survived prune")
	}
}

func TestInputAndOutputOverWebsocket(t *testing.T) {
	t.Parallel()

	deps, _ := newDeps(t, "inst-a", nil)
	cfg := deps.Config.Network
	srv := net.NewServer(cfg, zap.NewNop())
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Shutdown()
		ts.Close()
	})

	reg := protocol.NewRegistry(zap.NewNop())
	handler.RegisterAll(reg, deps)
	store := net.NewSessionStore()
	input := NewInputSystem(srv, reg, store, deps, cfg.MaxPacketsPerTick, zap.NewNop())
	output := NewOutputSystem(store)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	frames := make(chan protocol.Frame, 16)
	go func() {
		for {
			_, data, err := client.ReadMessage()
			if err != nil {
				close(frames)
				return
			}
			if f, err := protocol.DecodeFrame(data); err == nil {
				frames <- f
			}
		}
	}()

	for _, msg := range []string{
		`{"event":"connect_game","data":{"characterId":"p1","characterName":"Ann"}}`,
		`{"event":"join_world","data":{"id":"p1","position":{"x":10,"y":20}}}`,
	} {
		if err := client.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatal(err)
		}
	}

	want := map[string]bool{protocol.EventConnected: false, protocol.EventGameState: false}
	deadline := time.After(3 * time.Second)
	for deps.World.Len() == 0 || !want[protocol.EventConnected] {
		input.Update(0)
		output.Update(0)
		select {
		case f, ok := <-frames:
			if !ok {
				t.Fatal("connection closed")
			}
			want[f.Event] = true
			if f.Event == protocol.EventError {
				var e protocol.Error
				_ = json.Unmarshal(f.Data, &e)
				t.Fatalf("error frame %+v", e)
			}
		case <-deadline:
			t.Fatalf("timed out: seen=%v players=%d", want, deps.World.Len())
		case <-time.After(5 * time.Millisecond):
		}
	}

	if input.SessionCount() != 1 || deps.Conns.InWorldCount() != 1 {
		t.Fatalf("sessions=%d in-world=%d", input.SessionCount(), deps.Conns.InWorldCount())
	}

	client.Close()
	deadline = time.After(3 * time.Second)
	for deps.Conns.Len() != 0 {
		input.Update(0)
		select {
		case <-deadline:
			t.Fatal("disconnect never cleaned up")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if deps.World.Len() != 0 || store.Len() != 0 {
		t.Fatalf("leftover: players=%d sessions=%d", deps.World.Len(), store.Len())
	}
}
