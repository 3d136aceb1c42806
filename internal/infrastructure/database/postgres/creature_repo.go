package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/devilmonastery/critterforge/internal/domain/entities"
	"github.com/devilmonastery/critterforge/internal/domain/repositories"
	"github.com/devilmonastery/critterforge/internal/pkg/idgen"
	"github.com/devilmonastery/critterforge/internal/pkg/metrics"
)

var _ repositories.CreatureRepository = (*CreatureRepository)(nil)

// CreatureRepository implements the CreatureRepository interface for PostgreSQL
type CreatureRepository struct {
	db  *sqlx.DB
	log *slog.Logger
}

// NewCreatureRepository creates a new PostgreSQL creature repository
func NewCreatureRepository(db *sqlx.DB) *CreatureRepository {
	return &CreatureRepository{
		db:  db,
		log: slog.Default().With(slog.String("repo", "creature")),
	}
}

const creatureColumns = `id, owner_id, slug, name, type, color, description, description_html,
	abilities, base_stats, rarity, habitat, behavior, preferred_items, height, weight,
	source_image_url, image_url, created_at, updated_at`

type creatureRow struct {
	ID              string         `db:"id"`
	OwnerID         string         `db:"owner_id"`
	Slug            string         `db:"slug"`
	Name            string         `db:"name"`
	Type            string         `db:"type"`
	Color           string         `db:"color"`
	Description     string         `db:"description"`
	DescriptionHTML string         `db:"description_html"`
	Abilities       pq.StringArray `db:"abilities"`
	BaseStats       string         `db:"base_stats"`
	Rarity          string         `db:"rarity"`
	Habitat         string         `db:"habitat"`
	Behavior        string         `db:"behavior"`
	PreferredItems  pq.StringArray `db:"preferred_items"`
	Height          string         `db:"height"`
	Weight          string         `db:"weight"`
	SourceImageURL  string         `db:"source_image_url"`
	ImageURL        string         `db:"image_url"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func (r *creatureRow) toEntity() (*entities.Creature, error) {
	c := &entities.Creature{
		ID:      r.ID,
		OwnerID: r.OwnerID,
		Slug:    r.Slug,
		CreatureSheet: entities.CreatureSheet{
			Name:           r.Name,
			Type:           r.Type,
			Color:          r.Color,
			Description:    r.Description,
			Abilities:      []string(r.Abilities),
			Rarity:         r.Rarity,
			Habitat:        r.Habitat,
			Behavior:       r.Behavior,
			PreferredItems: []string(r.PreferredItems),
			Height:         r.Height,
			Weight:         r.Weight,
		},
		DescriptionHTML: r.DescriptionHTML,
		SourceImageURL:  r.SourceImageURL,
		ImageURL:        r.ImageURL,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}

	if r.BaseStats != "" {
		if err := json.Unmarshal([]byte(r.BaseStats), &c.BaseStats); err != nil {
			return nil, fmt.Errorf("failed to unmarshal base stats: %w", err)
		}
	}
	return c, nil
}

func creatureRowFromEntity(c *entities.Creature) (*creatureRow, error) {
	stats, err := json.Marshal(c.BaseStats)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal base stats: %w", err)
	}

	abilities := c.Abilities
	if abilities == nil {
		abilities = []string{}
	}
	items := c.PreferredItems
	if items == nil {
		items = []string{}
	}

	return &creatureRow{
		ID:              c.ID,
		OwnerID:         c.OwnerID,
		Slug:            c.Slug,
		Name:            c.Name,
		Type:            c.Type,
		Color:           c.Color,
		Description:     c.Description,
		DescriptionHTML: c.DescriptionHTML,
		Abilities:       pq.StringArray(abilities),
		BaseStats:       string(stats),
		Rarity:          c.Rarity,
		Habitat:         c.Habitat,
		Behavior:        c.Behavior,
		PreferredItems:  pq.StringArray(items),
		Height:          c.Height,
		Weight:          c.Weight,
		SourceImageURL:  c.SourceImageURL,
		ImageURL:        c.ImageURL,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}, nil
}

// Create stores a new creature
func (r *CreatureRepository) Create(ctx context.Context, creature *entities.Creature) error {
	start := time.Now()
	var err error
	defer func() {
		metrics.RecordDBOperation("creature", "create", time.Since(start), 1, err)
	}()

	if creature.ID == "" {
		creature.ID = idgen.GenerateID()
	}
	now := time.Now()
	creature.CreatedAt = now
	creature.UpdatedAt = now

	row, err := creatureRowFromEntity(creature)
	if err != nil {
		return err
	}

	r.log.Debug("creating creature",
		slog.String("id", creature.ID),
		slog.String("owner_id", creature.OwnerID),
		slog.String("name", creature.Name))

	query := `INSERT INTO creatures (` + creatureColumns + `) VALUES (
			:id, :owner_id, :slug, :name, :type, :color, :description, :description_html,
			:abilities, :base_stats, :rarity, :habitat, :behavior, :preferred_items, :height, :weight,
			:source_image_url, :image_url, :created_at, :updated_at
		)`

	if _, err = r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to create creature: %w", err)
	}
	return nil
}

// GetByID retrieves a creature by its ID
func (r *CreatureRepository) GetByID(ctx context.Context, id string) (*entities.Creature, error) {
	start := time.Now()
	var err error
	var rowCount int64
	defer func() {
		metrics.RecordDBOperation("creature", "get_by_id", time.Since(start), rowCount, err)
	}()

	var row creatureRow
	err = r.db.GetContext(ctx, &row, `SELECT `+creatureColumns+` FROM creatures WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = repositories.ErrCreatureNotFound
			return nil, err
		}
		return nil, fmt.Errorf("failed to get creature: %w", err)
	}

	rowCount = 1
	return row.toEntity()
}

// ListByOwner returns the owner's creatures, newest first
func (r *CreatureRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*entities.Creature, int64, error) {
	start := time.Now()
	var err error
	var rowCount int64
	defer func() {
		metrics.RecordDBOperation("creature", "list_by_owner", time.Since(start), rowCount, err)
	}()

	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var total int64
	if err = r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM creatures WHERE owner_id = $1`, ownerID); err != nil {
		return nil, 0, fmt.Errorf("failed to count creatures: %w", err)
	}

	var rows []creatureRow
	err = r.db.SelectContext(ctx, &rows,
		`SELECT `+creatureColumns+` FROM creatures WHERE owner_id = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, ownerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list creatures: %w", err)
	}

	creatures := make([]*entities.Creature, 0, len(rows))
	for i := range rows {
		c, convErr := rows[i].toEntity()
		if convErr != nil {
			err = convErr
			return nil, 0, err
		}
		creatures = append(creatures, c)
	}
	rowCount = int64(len(creatures))
	return creatures, total, nil
}
