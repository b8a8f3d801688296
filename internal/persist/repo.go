// Package persist is the player persistence stack: a write-coalescing layer
// over an optional TTL cache over a durable backend (file or SQL). Every
// layer implements PlayerRepository and preserves case-insensitive name
// uniqueness.
package persist

import (
	"context"
	"errors"

	"github.com/ambonmud/server/internal/player"
)

// ErrNameTaken is returned by Create when the name already exists
// (case-insensitive).
var ErrNameTaken = errors.New("name already taken")

// PlayerRepository is the sole persistence contract the core consumes.
// Lookups return (nil, nil) when no record exists.
type PlayerRepository interface {
	// FindByName is case-insensitive.
	FindByName(ctx context.Context, name string) (*player.Record, error)
	FindByID(ctx context.Context, id string) (*player.Record, error)
	// Create allocates a new id atomically and stores the record.
	Create(ctx context.Context, rec *player.Record) (*player.Record, error)
	Save(ctx context.Context, rec *player.Record) error
	Close(ctx context.Context) error
}
