package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gosimple/slug"

	"github.com/devilmonastery/critterforge/internal/domain/entities"
	"github.com/devilmonastery/critterforge/internal/domain/repositories"
	"github.com/devilmonastery/critterforge/internal/pkg/apperr"
	"github.com/devilmonastery/critterforge/internal/pkg/idgen"
	"github.com/devilmonastery/critterforge/internal/pkg/metrics"
	"github.com/devilmonastery/critterforge/internal/pkg/textutil"
	"github.com/devilmonastery/critterforge/internal/pkg/urlutil"
)

// ObjectStore persists image bytes and returns their public URL
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// Describer turns a picture into a creature sheet. imageURL is an http(s)
// URL or a data: URL.
type Describer interface {
	DescribeImage(ctx context.Context, imageURL string) (*entities.CreatureSheet, error)
}

// Illustrator draws a creature from its sheet and returns PNG bytes
type Illustrator interface {
	Illustrate(ctx context.Context, sheet *entities.CreatureSheet) ([]byte, error)
}

// ImageInput is the picture a creature is made from: either uploaded bytes
// or a remote URL.
type ImageInput struct {
	Data        []byte
	ContentType string
	Filename    string
	URL         string
}

// CreatureConfig holds the object key layout
type CreatureConfig struct {
	UploadPrefix   string
	CreaturePrefix string
}

// CreatureService runs the asset pipeline: upload, describe, illustrate,
// store and persist.
type CreatureService struct {
	cfg         CreatureConfig
	creatures   repositories.CreatureRepository
	users       repositories.UserRepository
	auditRepo   repositories.AuditRepository
	store       ObjectStore
	describer   Describer
	illustrator Illustrator
	log         *slog.Logger
}

// NewCreatureService creates a new creature service
func NewCreatureService(
	cfg CreatureConfig,
	creatures repositories.CreatureRepository,
	users repositories.UserRepository,
	auditRepo repositories.AuditRepository,
	store ObjectStore,
	describer Describer,
	illustrator Illustrator,
) *CreatureService {
	if cfg.UploadPrefix == "" {
		cfg.UploadPrefix = "uploads"
	}
	if cfg.CreaturePrefix == "" {
		cfg.CreaturePrefix = "creatures"
	}
	return &CreatureService{
		cfg:         cfg,
		creatures:   creatures,
		users:       users,
		auditRepo:   auditRepo,
		store:       store,
		describer:   describer,
		illustrator: illustrator,
		log:         slog.Default().With(slog.String("service", "creature")),
	}
}

// Create builds a creature from img for ownerID and persists it
func (s *CreatureService) Create(ctx context.Context, ownerID string, img ImageInput) (*entities.Creature, error) {
	start := time.Now()
	if err := s.requireOwner(ctx, ownerID); err != nil {
		return nil, err
	}

	id := idgen.GenerateID()
	sourceURL, visionURL, err := s.prepareImage(ctx, ownerID, id, img)
	if err != nil {
		return nil, err
	}

	sheet, err := s.describe(ctx, visionURL)
	if err != nil {
		return nil, err
	}

	art, err := s.illustrator.Illustrate(ctx, sheet)
	if err != nil {
		return nil, upstream("Image generation failed", err)
	}

	creatureSlug := slug.Make(sheet.Name)
	if creatureSlug == "" {
		creatureSlug = "creature"
	}
	imageURL, err := s.store.Put(ctx, path.Join(s.cfg.CreaturePrefix, id+"-"+creatureSlug+".png"), "image/png", art)
	if err != nil {
		return nil, upstream("Failed to store generated image", err)
	}

	now := time.Now()
	creature := &entities.Creature{
		ID:              id,
		OwnerID:         ownerID,
		Slug:            creatureSlug,
		CreatureSheet:   *sheet,
		DescriptionHTML: textutil.RenderMarkdown(sheet.Description),
		SourceImageURL:  sourceURL,
		ImageURL:        imageURL,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.creatures.Create(ctx, creature); err != nil {
		return nil, fmt.Errorf("failed to save creature: %w", err)
	}

	metrics.CreaturesCreated.Inc()
	if s.auditRepo != nil {
		entry := entities.NewAuditLog(&ownerID, entities.ActionCreatureCreated, entities.ResourceCreature).
			WithResourceID(creature.ID).
			WithMetadata("name", creature.Name).
			WithMetadata("rarity", creature.Rarity)
		if err := s.auditRepo.Create(ctx, entry); err != nil {
			s.log.Warn("failed to write audit log", slog.String("error", err.Error()))
		}
	}

	s.log.Info("creature created",
		slog.String("id", creature.ID),
		slog.String("owner_id", ownerID),
		slog.Duration("elapsed", time.Since(start)))
	return creature, nil
}

// Describe returns the creature sheet for img without generating or
// persisting anything. Uploaded bytes are sent inline and not stored.
func (s *CreatureService) Describe(ctx context.Context, ownerID string, img ImageInput) (*entities.CreatureSheet, error) {
	if err := s.requireOwner(ctx, ownerID); err != nil {
		return nil, err
	}

	var visionURL string
	switch {
	case len(img.Data) > 0:
		contentType, err := imageContentType(img)
		if err != nil {
			return nil, err
		}
		visionURL = dataURL(contentType, img.Data)
	case urlutil.IsHTTPURL(img.URL):
		visionURL = img.URL
	default:
		return nil, apperr.New(apperr.ErrInvalidRequest, "An image file or image_url is required")
	}
	return s.describe(ctx, visionURL)
}

// List returns the owner's creatures, newest first
func (s *CreatureService) List(ctx context.Context, ownerID string, limit, offset int) ([]*entities.Creature, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	creatures, total, err := s.creatures.ListByOwner(ctx, ownerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list creatures: %w", err)
	}
	return creatures, total, nil
}

// Get returns one creature. It is ErrNotFound when missing or, unless
// the caller is an admin, when owned by someone else.
func (s *CreatureService) Get(ctx context.Context, ownerID, id string, admin bool) (*entities.Creature, error) {
	creature, err := s.creatures.GetByID(ctx, id)
	if errors.Is(err, repositories.ErrCreatureNotFound) {
		return nil, apperr.Wrap(apperr.ErrNotFound, "Creature not found", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get creature: %w", err)
	}
	if !admin && creature.OwnerID != ownerID {
		return nil, apperr.New(apperr.ErrNotFound, "Creature not found")
	}
	return creature, nil
}

func (s *CreatureService) requireOwner(ctx context.Context, ownerID string) error {
	if ownerID == "" {
		return apperr.New(apperr.ErrNotFound, "User not found")
	}
	user, err := s.users.GetByID(ctx, ownerID)
	if errors.Is(err, repositories.ErrUserNotFound) || (err == nil && user.IsDeleted) {
		return apperr.New(apperr.ErrNotFound, "User not found")
	}
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}
	if user.IsBlockedFromLogin() {
		return apperr.New(apperr.ErrForbidden, "Account is "+user.BlockReason())
	}
	return nil
}

// prepareImage stores an uploaded image and returns its public URL plus the
// URL handed to the vision model.
func (s *CreatureService) prepareImage(ctx context.Context, ownerID, id string, img ImageInput) (sourceURL, visionURL string, err error) {
	if len(img.Data) == 0 {
		if !urlutil.IsHTTPURL(img.URL) {
			return "", "", apperr.New(apperr.ErrInvalidRequest, "An image file or image_url is required")
		}
		return img.URL, img.URL, nil
	}

	contentType, err := imageContentType(img)
	if err != nil {
		return "", "", err
	}

	name := slug.Make(strings.TrimSuffix(img.Filename, path.Ext(img.Filename)))
	if name == "" {
		name = "upload"
	}
	key := path.Join(s.cfg.UploadPrefix, ownerID, id+"-"+name+extensionFor(contentType))

	sourceURL, err = s.store.Put(ctx, key, contentType, img.Data)
	if err != nil {
		return "", "", upstream("Failed to store uploaded image", err)
	}
	return sourceURL, dataURL(contentType, img.Data), nil
}

func (s *CreatureService) describe(ctx context.Context, imageURL string) (*entities.CreatureSheet, error) {
	sheet, err := s.describer.DescribeImage(ctx, imageURL)
	if err != nil {
		return nil, upstream("Image analysis failed", err)
	}
	return sanitizeSheet(sheet), nil
}

// sanitizeSheet strips markup from every model supplied field and clamps
// stats and rarity into range.
func sanitizeSheet(in *entities.CreatureSheet) *entities.CreatureSheet {
	out := &entities.CreatureSheet{
		Name:           textutil.Truncate(textutil.PlainText(in.Name), 80),
		Type:           textutil.Truncate(textutil.PlainText(in.Type), 40),
		Color:          textutil.Truncate(textutil.PlainText(in.Color), 40),
		Description:    textutil.Truncate(strings.TrimSpace(in.Description), 2000),
		Abilities:      textutil.CleanList(in.Abilities, 8),
		BaseStats:      in.BaseStats,
		Rarity:         entities.NormalizeRarity(strings.ToLower(textutil.PlainText(in.Rarity))),
		Habitat:        textutil.Truncate(textutil.PlainText(in.Habitat), 200),
		Behavior:       textutil.Truncate(textutil.PlainText(in.Behavior), 500),
		PreferredItems: textutil.CleanList(in.PreferredItems, 8),
		Height:         textutil.Truncate(textutil.PlainText(in.Height), 40),
		Weight:         textutil.Truncate(textutil.PlainText(in.Weight), 40),
	}
	if out.Name == "" {
		out.Name = "Unnamed Creature"
	}
	out.BaseStats.ClampStats()
	return out
}

// upstream marks err as an upstream failure unless it already has a kind
func upstream(message string, err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.Wrap(apperr.ErrUpstreamService, message, err)
}

var allowedImageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// imageContentType sniffs the uploaded bytes; the declared type is only
// used when sniffing is inconclusive.
func imageContentType(img ImageInput) (string, error) {
	contentType := http.DetectContentType(img.Data)
	if !allowedImageTypes[contentType] {
		declared, _, _ := mime.ParseMediaType(img.ContentType)
		if contentType != "application/octet-stream" || !allowedImageTypes[declared] {
			return "", apperr.New(apperr.ErrInvalidRequest, "Unsupported image type")
		}
		contentType = declared
	}
	return contentType, nil
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

func dataURL(contentType string, data []byte) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
