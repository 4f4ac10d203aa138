package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/worldsync/server/internal/world"
)

// ErrNotFound is returned when no character row exists for an id.
var ErrNotFound = errors.New("persist: character not found")

// Character is the stored profile of a player.
type Character struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	LastPosition world.Position `json:"lastPosition"`
	UpdatedAt    time.Time      `json:"-"`
}

type CharacterRepo struct {
	db *DB
}

func NewCharacterRepo(db *DB) *CharacterRepo {
	return &CharacterRepo{db: db}
}

func (r *CharacterRepo) Load(ctx context.Context, id string) (Character, error) {
	var c Character
	err := r.db.Pool.QueryRow(ctx,
		`SELECT id, name, x, y, updated_at FROM characters WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.LastPosition.X, &c.LastPosition.Y, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Character{}, ErrNotFound
	}
	if err != nil {
		return Character{}, fmt.Errorf("load character %s: %w", id, err)
	}
	return c, nil
}

// SavePosition upserts the character's last known position. An empty name
// keeps the stored one.
func (r *CharacterRepo) SavePosition(ctx context.Context, id, name string, pos world.Position) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO characters (id, name, x, y, updated_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (id) DO UPDATE SET
			name = COALESCE(NULLIF(EXCLUDED.name, ''), characters.name),
			x = EXCLUDED.x,
			y = EXCLUDED.y,
			updated_at = NOW()`,
		id, name, pos.X, pos.Y,
	)
	if err != nil {
		return fmt.Errorf("save position %s: %w", id, err)
	}
	return nil
}

// TokenHash returns the bcrypt hash of the character's login token.
func (r *CharacterRepo) TokenHash(ctx context.Context, id string) (string, error) {
	var hash string
	err := r.db.Pool.QueryRow(ctx,
		`SELECT token_hash FROM characters WHERE id = $1`, id,
	).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return hash, err
}

// SetTokenHash provisions a character's login token hash, creating the row
// when needed.
func (r *CharacterRepo) SetTokenHash(ctx context.Context, id, name, hash string) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO characters (id, name, token_hash)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET token_hash = EXCLUDED.token_hash, updated_at = NOW()`,
		id, name, hash,
	)
	return err
}
