package persist

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/worldsync/server/internal/world"
)

type memStore struct {
	NopStore
	mu    sync.Mutex
	saved map[string]world.Position
	fail  string
	gate  chan struct{}
}

func (m *memStore) SavePosition(_ context.Context, id, _ string, pos world.Position) error {
	if m.gate != nil {
		<-m.gate
	}
	if id == m.fail {
		return errors.New("disk full")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[id] = pos
	return nil
}

func TestSaverFlushesOnClose(t *testing.T) {
	t.Parallel()

	store := &memStore{saved: map[string]world.Position{}, fail: "bad"}
	s := NewSaver(store, 8, zap.NewNop())
	s.Enqueue(SaveRequest{ID: "p1", Position: world.Position{X: 1, Y: 2}})
	s.Enqueue(SaveRequest{ID: "p1", Position: world.Position{X: 3, Y: 4}})
	s.Enqueue(SaveRequest{ID: "bad"})
	s.Close()

	if got := store.saved["p1"]; got != (world.Position{X: 3, Y: 4}) {
		t.Fatalf("p1 = %v, want last write", got)
	}
	saved, failed, dropped := s.Counts()
	if saved != 2 || failed != 1 || dropped != 0 {
		t.Fatalf("counts saved=%d failed=%d dropped=%d", saved, failed, dropped)
	}
}

func TestSaverDropsWhenFull(t *testing.T) {
	t.Parallel()

	store := &memStore{saved: map[string]world.Position{}, gate: make(chan struct{})}
	s := NewSaver(store, 1, zap.NewNop())

	// The worker takes the first request and blocks on the gate; the
	// queue then holds one more and everything after that is dropped.
	accepted := 0
	for i := 0; i < 10; i++ {
		if s.Enqueue(SaveRequest{ID: "p1"}) {
			accepted++
		}
	}
	close(store.gate)
	s.Close()

	if accepted < 1 || accepted > 2 {
		t.Fatalf("accepted = %d, want 1 or 2", accepted)
	}
	_, _, dropped := s.Counts()
	if int(dropped) != 10-accepted {
		t.Fatalf("dropped = %d, accepted = %d", dropped, accepted)
	}
}

func TestNopStore(t *testing.T) {
	t.Parallel()

	var s Store = NopStore{}
	if _, err := s.Load(context.Background(), "p1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load: %v", err)
	}
	if err := s.SavePosition(context.Background(), "p1", "", world.Position{}); err != nil {
		t.Fatalf("SavePosition: %v", err)
	}
}
