package world

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestState(instance string) (*State, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	return NewState(instance, clk.now), clk
}

func TestApplyMoveIdempotent(t *testing.T) {
	t.Parallel()

	once, _ := newTestState("a")
	twice, _ := newTestState("a")
	for _, s := range []*State{once, twice} {
		if err := s.Join(PlayerState{ID: "p1", DisplayName: "One", LastUpdate: 1}); err != nil {
			t.Fatal(err)
		}
	}

	once.ApplyMove("p1", Position{10, 20}, 50)
	twice.ApplyMove("p1", Position{10, 20}, 50)
	if !twice.ApplyMove("p1", Position{10, 20}, 50) {
		t.Fatal("expected tie to be accepted")
	}

	a, _ := once.Get("p1")
	b, _ := twice.Get("p1")
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("state diverged: %+v vs %+v", a, b)
	}
}

func TestApplyMoveMonotonic(t *testing.T) {
	t.Parallel()

	u1 := struct {
		pos Position
		ts  int64
	}{Position{1, 1}, 10}
	u2 := struct {
		pos Position
		ts  int64
	}{Position{2, 2}, 5}

	for _, order := range [][2]int{{1, 2}, {2, 1}} {
		s, _ := newTestState("a")
		_ = s.Join(PlayerState{ID: "p1"})
		for _, which := range order {
			if which == 1 {
				s.ApplyMove("p1", u1.pos, u1.ts)
			} else {
				s.ApplyMove("p1", u2.pos, u2.ts)
			}
		}
		got, _ := s.Get("p1")
		if got.Position != u1.pos || got.LastUpdate != u1.ts {
			t.Fatalf("order %v: got %+v, want U1", order, got)
		}
	}
}

func TestApplyMoveStaleReportsFalse(t *testing.T) {
	t.Parallel()

	s, _ := newTestState("a")
	_ = s.Join(PlayerState{ID: "p1", LastUpdate: 100})
	if s.ApplyMove("p1", Position{5, 5}, 99) {
		t.Fatal("expected stale move rejected")
	}
	if s.ApplyMove("ghost", Position{5, 5}, 200) {
		t.Fatal("expected move of unknown player rejected")
	}
}

func TestJoinStale(t *testing.T) {
	t.Parallel()

	s, _ := newTestState("a")
	_ = s.Join(PlayerState{ID: "p1", LastUpdate: 100})
	if err := s.JoinRemote(PlayerState{ID: "p1", LastUpdate: 50}, "b"); !errors.Is(err, ErrStaleUpdate) {
		t.Fatalf("expected ErrStaleUpdate, got %v", err)
	}
}

func TestLeaveAt(t *testing.T) {
	t.Parallel()

	s, _ := newTestState("a")
	_ = s.Join(PlayerState{ID: "p1", LastUpdate: 100})
	if s.LeaveAt("p1", 90) {
		t.Fatal("expected delayed leave to be ignored")
	}
	if !s.LeaveAt("p1", 100) {
		t.Fatal("expected leave at same timestamp to apply")
	}
	if _, ok := s.Get("p1"); ok {
		t.Fatal("p1 still present")
	}
}

func TestMergeRemote(t *testing.T) {
	t.Parallel()

	s, _ := newTestState("a")
	_ = s.Join(PlayerState{ID: "p1", Position: Position{0, 0}, LastUpdate: 50})
	_ = s.Join(PlayerState{ID: "p2", Position: Position{0, 0}, LastUpdate: 500})

	adopted := s.MergeRemote(Snapshot{Players: map[string]PlayerState{
		"p1": {ID: "p1", Position: Position{9, 9}, LastUpdate: 100},
		"p2": {ID: "p2", Position: Position{7, 7}, LastUpdate: 400},
		"p3": {Position: Position{3, 3}, LastUpdate: 1},
	}}, "b")

	if len(adopted) != 2 || adopted[0].ID != "p1" || adopted[1].ID != "p3" {
		t.Fatalf("unexpected adopted set %+v", adopted)
	}
	if p1, _ := s.Get("p1"); p1.Position != (Position{9, 9}) {
		t.Fatalf("p1 not adopted: %+v", p1)
	}
	if p2, _ := s.Get("p2"); p2.Position != (Position{0, 0}) {
		t.Fatalf("p2 regressed: %+v", p2)
	}
	if origin, _ := s.Origin("p1"); origin != "a" {
		t.Fatalf("locally owned p1 changed origin to %q", origin)
	}
	if origin, _ := s.Origin("p3"); origin != "b" {
		t.Fatalf("p3 origin = %q, want b", origin)
	}
}

func TestPruneRemote(t *testing.T) {
	t.Parallel()

	s, clk := newTestState("a")
	_ = s.Join(PlayerState{ID: "local", LastUpdate: 1})
	_ = s.JoinRemote(PlayerState{ID: "stale", LastUpdate: 1}, "b")
	_ = s.JoinRemote(PlayerState{ID: "fresh", LastUpdate: 1}, "b")

	clk.advance(10 * time.Second)
	s.MergeRemote(Snapshot{Players: map[string]PlayerState{
		"fresh": {ID: "fresh", LastUpdate: 1},
	}}, "b")
	clk.advance(10 * time.Second)

	gone := s.PruneRemote(15 * time.Second)
	if !reflect.DeepEqual(gone, []string{"stale"}) {
		t.Fatalf("pruned %v, want [stale]", gone)
	}
	if s.Len() != 2 {
		t.Fatalf("expected local and fresh to remain, len=%d", s.Len())
	}
}

func TestLocalSnapshotAndDirty(t *testing.T) {
	t.Parallel()

	s, _ := newTestState("a")
	_ = s.Join(PlayerState{ID: "p1", LastUpdate: 1})
	_ = s.JoinRemote(PlayerState{ID: "r1", LastUpdate: 1}, "b")

	if snap := s.LocalSnapshot(); len(snap.Players) != 1 {
		t.Fatalf("local snapshot has %d players, want 1", len(snap.Players))
	}
	if snap := s.Snapshot(); len(snap.Players) != 2 {
		t.Fatalf("full snapshot has %d players, want 2", len(snap.Players))
	}

	if d := s.TakeDirty(); len(d) != 1 || d[0].ID != "p1" {
		t.Fatalf("dirty after join = %+v", d)
	}
	if d := s.TakeDirty(); len(d) != 0 {
		t.Fatalf("dirty flag not cleared: %+v", d)
	}
	s.ApplyMove("r1", Position{1, 1}, 2)
	if d := s.TakeDirty(); len(d) != 0 {
		t.Fatalf("remote move marked dirty: %+v", d)
	}
}
