package persist

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/worldsync/server/internal/world"
)

const saveTimeout = 5 * time.Second

// SaveRequest is one position write.
type SaveRequest struct {
	ID       string
	Name     string
	Position world.Position
}

// Saver writes positions on its own goroutine so the game loop never waits
// on the database. Enqueue drops requests when the queue is full; the next
// periodic save picks the player up again.
type Saver struct {
	store Store
	log   *zap.Logger
	queue chan SaveRequest

	saved   atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64

	wg   sync.WaitGroup
	once sync.Once
}

func NewSaver(store Store, queueSize int, log *zap.Logger) *Saver {
	if queueSize <= 0 {
		queueSize = 256
	}
	s := &Saver{
		store: store,
		log:   log,
		queue: make(chan SaveRequest, queueSize),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Enqueue schedules a save. It never blocks.
func (s *Saver) Enqueue(req SaveRequest) bool {
	select {
	case s.queue <- req:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Close flushes queued saves and stops the worker. Enqueue must not be
// called afterwards.
func (s *Saver) Close() {
	s.once.Do(func() {
		close(s.queue)
		s.wg.Wait()
	})
}

// Counts returns saved, failed and dropped totals.
func (s *Saver) Counts() (saved, failed, dropped uint64) {
	return s.saved.Load(), s.failed.Load(), s.dropped.Load()
}

func (s *Saver) run() {
	defer s.wg.Done()
	for req := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		err := s.store.SavePosition(ctx, req.ID, req.Name, req.Position)
		cancel()
		if err != nil {
			s.failed.Add(1)
			s.log.Error("save position failed", zap.String("player", req.ID), zap.Error(err))
			continue
		}
		s.saved.Add(1)
	}
}
