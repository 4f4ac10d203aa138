package persist

import (
	"context"

	"github.com/worldsync/server/internal/world"
)

// Store is the character store consumed by the engine. Every call may block
// on I/O and must run off the game loop.
type Store interface {
	Load(ctx context.Context, id string) (Character, error)
	SavePosition(ctx context.Context, id, name string, pos world.Position) error
	TokenHash(ctx context.Context, id string) (string, error)
}

// NopStore is used when the database is disabled. Loads report ErrNotFound
// and saves succeed without doing anything.
type NopStore struct{}

func (NopStore) Load(context.Context, string) (Character, error) {
	return Character{}, ErrNotFound
}

func (NopStore) SavePosition(context.Context, string, string, world.Position) error {
	return nil
}

func (NopStore) TokenHash(context.Context, string) (string, error) {
	return "", ErrNotFound
}
