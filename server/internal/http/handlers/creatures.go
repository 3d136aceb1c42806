package handlers

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/devilmonastery/critterforge/internal/auth"
	"github.com/devilmonastery/critterforge/internal/domain/entities"
	"github.com/devilmonastery/critterforge/internal/domain/services"
	"github.com/devilmonastery/critterforge/internal/pkg/apperr"
	"github.com/devilmonastery/critterforge/server/internal/http/respond"
)

// imageField is the multipart field carrying the uploaded picture
const imageField = "image"

// CreatureHandler serves the creature routes
type CreatureHandler struct {
	creatures      CreatureMaker
	production     bool
	maxUploadBytes int64
	log            *slog.Logger
}

// NewCreatureHandler creates the creature routes
func NewCreatureHandler(creatures CreatureMaker, production bool, maxUploadBytes int64) *CreatureHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &CreatureHandler{
		creatures:      creatures,
		production:     production,
		maxUploadBytes: maxUploadBytes,
		log:            slog.Default().With(slog.String("handler", "creatures")),
	}
}

type creatureListResponse struct {
	Creatures []*entities.Creature `json:"creatures"`
	Total     int64                `json:"total"`
}

// Create runs the asset pipeline on the uploaded image and answers 201
func (h *CreatureHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, err := requireOwner(r)
	if err != nil {
		respond.Error(w, r, err, h.production)
		return
	}
	img, err := h.readImage(r)
	if err != nil {
		respond.Error(w, r, err, h.production)
		return
	}

	creature, err := h.creatures.Create(r.Context(), p.UserID, img)
	if err != nil {
		respond.Error(w, r, err, h.production)
		return
	}
	respond.JSON(w, http.StatusCreated, creature)
}

// Describe returns the creature sheet for an image without keeping anything
func (h *CreatureHandler) Describe(w http.ResponseWriter, r *http.Request) {
	p, err := requireOwner(r)
	if err != nil {
		respond.Error(w, r, err, h.production)
		return
	}
	img, err := h.readImage(r)
	if err != nil {
		respond.Error(w, r, err, h.production)
		return
	}

	sheet, err := h.creatures.Describe(r.Context(), p.UserID, img)
	if err != nil {
		respond.Error(w, r, err, h.production)
		return
	}
	respond.JSON(w, http.StatusOK, sheet)
}

// List returns the caller's creatures, newest first
func (h *CreatureHandler) List(w http.ResponseWriter, r *http.Request) {
	p, err := requireOwner(r)
	if err != nil {
		respond.Error(w, r, err, h.production)
		return
	}

	limit, err := intParam(r, "limit")
	if err != nil {
		respond.Error(w, r, err, h.production)
		return
	}
	offset, err := intParam(r, "offset")
	if err != nil {
		respond.Error(w, r, err, h.production)
		return
	}

	creatures, total, err := h.creatures.List(r.Context(), p.UserID, limit, offset)
	if err != nil {
		respond.Error(w, r, err, h.production)
		return
	}
	if creatures == nil {
		creatures = []*entities.Creature{}
	}
	respond.JSON(w, http.StatusOK, creatureListResponse{Creatures: creatures, Total: total})
}

// Get returns one creature. Creatures of other users are 404 unless the
// caller is an admin.
func (h *CreatureHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		respond.Error(w, r, err, h.production)
		return
	}

	creature, err := h.creatures.Get(r.Context(), p.UserID, mux.Vars(r)["id"], auth.RequireAdmin(r.Context()) == nil)
	if err != nil {
		respond.Error(w, r, err, h.production)
		return
	}
	respond.JSON(w, http.StatusOK, creature)
}

// readImage takes the picture from a multipart "image" field or from a
// JSON {image_url} body.
func (h *CreatureHandler) readImage(r *http.Request) (services.ImageInput, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType == "multipart/form-data" {
		file, header, err := r.FormFile(imageField)
		if err != nil {
			return services.ImageInput{}, uploadError(err)
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
		if err != nil {
			return services.ImageInput{}, uploadError(err)
		}
		if int64(len(data)) > h.maxUploadBytes {
			return services.ImageInput{}, apperr.New(apperr.ErrInvalidRequest, "Image is too large")
		}
		return services.ImageInput{
			Data:        data,
			ContentType: header.Header.Get("Content-Type"),
			Filename:    header.Filename,
		}, nil
	}

	var req struct {
		ImageURL string `json:"image_url"`
	}
	if err := decodeJSON(r, h.maxUploadBytes, &req); err != nil {
		return services.ImageInput{}, err
	}
	if strings.TrimSpace(req.ImageURL) == "" {
		return services.ImageInput{}, apperr.New(apperr.ErrInvalidRequest, "An image upload or image_url is required")
	}
	return services.ImageInput{URL: strings.TrimSpace(req.ImageURL)}, nil
}

func uploadError(err error) error {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return apperr.Wrap(apperr.ErrInvalidRequest, "Image is too large", err)
	case errors.Is(err, http.ErrMissingFile):
		return apperr.New(apperr.ErrInvalidRequest, "An image upload or image_url is required")
	default:
		return apperr.Wrap(apperr.ErrInvalidRequest, "Invalid multipart upload", err)
	}
}

// requireOwner returns the principal when it names a persisted identity
func requireOwner(r *http.Request) (*auth.Principal, error) {
	p, err := principal(r)
	if err != nil {
		return nil, err
	}
	if p.UserID == "" {
		return nil, apperr.New(apperr.ErrNotFound, "User not found")
	}
	return p, nil
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.New(apperr.ErrInvalidRequest, "Invalid "+name+" parameter")
	}
	return n, nil
}
