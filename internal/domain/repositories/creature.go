package repositories

import (
	"context"

	"github.com/devilmonastery/critterforge/internal/domain/entities"
)

// CreatureRepository defines the interface for creature data access
type CreatureRepository interface {
	// Create stores a new creature
	Create(ctx context.Context, creature *entities.Creature) error

	// GetByID retrieves a creature by its ID
	GetByID(ctx context.Context, id string) (*entities.Creature, error)

	// ListByOwner returns the owner's creatures, newest first
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*entities.Creature, int64, error)
}
