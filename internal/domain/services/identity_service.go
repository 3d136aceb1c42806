package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/devilmonastery/critterforge/internal/auth/oidc"
	"github.com/devilmonastery/critterforge/internal/domain/entities"
	"github.com/devilmonastery/critterforge/internal/domain/repositories"
	"github.com/devilmonastery/critterforge/internal/pkg/apperr"
	"github.com/devilmonastery/critterforge/internal/pkg/metrics"
)

// ClientInfo describes where a request came from, for the audit trail
type ClientInfo struct {
	Channel   entities.DeviceKind
	IPAddress string
	UserAgent string
}

// IdentityService maps verified claims onto durable identities
type IdentityService struct {
	userRepo  repositories.UserRepository
	auditRepo repositories.AuditRepository
	log       *slog.Logger
}

// NewIdentityService creates a new identity service. auditRepo may be nil.
func NewIdentityService(userRepo repositories.UserRepository, auditRepo repositories.AuditRepository) *IdentityService {
	return &IdentityService{
		userRepo:  userRepo,
		auditRepo: auditRepo,
		log:       slog.Default().With(slog.String("service", "identity")),
	}
}

// auditLog writes an audit entry if auditRepo is available. Failures are
// logged and never fail the operation.
func (s *IdentityService) auditLog(ctx context.Context, entry *entities.AuditLog) {
	if s.auditRepo == nil {
		return
	}
	if err := s.auditRepo.Create(ctx, entry); err != nil {
		s.log.Warn("failed to write audit log",
			slog.String("action", string(entry.Action)),
			slog.String("error", err.Error()))
	}
}

// UpsertFromClaims creates the identity for claims.Email on first login and
// refreshes name, picture and last login on later ones. Identities that
// may not log in are refused with ErrForbidden.
func (s *IdentityService) UpsertFromClaims(ctx context.Context, claims *oidc.Claims, client ClientInfo) (*entities.User, error) {
	channel := string(client.Channel)
	if claims == nil || strings.TrimSpace(claims.Email) == "" {
		metrics.LoginAttempts.WithLabelValues(channel, "invalid").Inc()
		return nil, apperr.New(apperr.ErrInvalidToken, "Invalid ID token")
	}

	loginAt := time.Now()
	candidate := &entities.User{
		Email:      entities.NormalizeEmail(claims.Email),
		Name:       strings.TrimSpace(claims.Name),
		Provider:   entities.ProviderGoogle,
		Role:       entities.RoleUser,
		IsActive:   true,
		IsVerified: claims.EmailVerified,
		LastLogin:  &loginAt,
	}
	if candidate.Name == "" {
		candidate.Name, _, _ = strings.Cut(candidate.Email, "@")
	}
	if claims.Picture != "" {
		candidate.Picture = &claims.Picture
	}
	if claims.Subject != "" {
		candidate.ProviderUserID = &claims.Subject
	}

	user, created, err := s.userRepo.UpsertByEmail(ctx, candidate)
	if err != nil {
		metrics.LoginAttempts.WithLabelValues(channel, "error").Inc()
		return nil, fmt.Errorf("failed to upsert identity: %w", err)
	}

	if created {
		metrics.IdentitiesCreated.Inc()
		s.auditLog(ctx, entities.NewAuditLog(&user.ID, entities.ActionUserCreated, entities.ResourceUser).
			WithResourceID(user.ID).
			WithClient(client.IPAddress, client.UserAgent).
			WithMetadata("email", user.Email).
			WithMetadata("channel", channel))
	}

	if user.IsBlockedFromLogin() {
		reason := user.BlockReason()
		denied := apperr.New(apperr.ErrForbidden, "Account is "+reason)
		metrics.LoginAttempts.WithLabelValues(channel, "denied").Inc()
		s.auditLog(ctx, entities.NewAuditLog(&user.ID, entities.ActionUserLoginDenied, entities.ResourceSession).
			WithClient(client.IPAddress, client.UserAgent).
			WithMetadata("reason", reason).
			WithMetadata("channel", channel).
			WithError(denied))
		s.log.Info("login refused", slog.String("user_id", user.ID), slog.String("reason", reason))
		return nil, denied
	}

	metrics.LoginAttempts.WithLabelValues(channel, "success").Inc()
	s.auditLog(ctx, entities.NewAuditLog(&user.ID, entities.ActionUserLogin, entities.ResourceSession).
		WithClient(client.IPAddress, client.UserAgent).
		WithMetadata("channel", channel).
		WithMetadata("created", created))

	return user, nil
}

// RecordLoginFailure audits a login that failed before an identity was
// known, such as a rejected code exchange or ID token.
func (s *IdentityService) RecordLoginFailure(ctx context.Context, client ClientInfo, err error) {
	s.auditLog(ctx, entities.NewAuditLog(nil, entities.ActionUserLoginFailed, entities.ResourceSession).
		WithClient(client.IPAddress, client.UserAgent).
		WithMetadata("channel", string(client.Channel)).
		WithError(err))
}

// RecordLogout writes a logout audit entry for userID
func (s *IdentityService) RecordLogout(ctx context.Context, userID string, client ClientInfo) {
	s.auditLog(ctx, entities.NewAuditLog(&userID, entities.ActionUserLogout, entities.ResourceSession).
		WithClient(client.IPAddress, client.UserAgent).
		WithMetadata("channel", string(client.Channel)))
}

// Get returns the identity with id. A missing or soft-deleted identity is
// ErrNotFound.
func (s *IdentityService) Get(ctx context.Context, id string) (*entities.User, error) {
	if id == "" {
		return nil, apperr.New(apperr.ErrNotFound, "User not found")
	}
	return s.found(s.userRepo.GetByID(ctx, id))
}

// Lookup returns the identity by id, or by email when id is empty
func (s *IdentityService) Lookup(ctx context.Context, id, email string) (*entities.User, error) {
	if id != "" {
		return s.Get(ctx, id)
	}
	if email == "" {
		return nil, apperr.New(apperr.ErrNotFound, "User not found")
	}
	return s.found(s.userRepo.GetByEmail(ctx, entities.NormalizeEmail(email)))
}

func (s *IdentityService) found(user *entities.User, err error) (*entities.User, error) {
	if errors.Is(err, repositories.ErrUserNotFound) {
		return nil, apperr.Wrap(apperr.ErrNotFound, "User not found", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user.IsDeleted {
		return nil, apperr.New(apperr.ErrNotFound, "User not found")
	}
	return user, nil
}

// ListUsers returns identities for the admin CLI
func (s *IdentityService) ListUsers(ctx context.Context, opts repositories.ListUsersOptions) ([]*entities.User, int64, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	return s.userRepo.List(ctx, opts)
}

// SetRole changes a user's role
func (s *IdentityService) SetRole(ctx context.Context, userID string, role entities.Role) error {
	user, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	if user.Role == role {
		return nil
	}
	if err := s.userRepo.UpdateRole(ctx, userID, role); err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	s.auditLog(ctx, entities.NewAuditLog(nil, entities.ActionUserRoleChanged, entities.ResourceUser).
		WithResourceID(userID).
		WithMetadata("from", string(user.Role)).
		WithMetadata("to", string(role)))
	return nil
}

// Deactivate blocks a user from logging in again. Existing sessions stay
// valid until they expire but can no longer create or describe creatures.
func (s *IdentityService) Deactivate(ctx context.Context, userID string) error {
	if _, err := s.Get(ctx, userID); err != nil {
		return err
	}
	if err := s.userRepo.SetActive(ctx, userID, false); err != nil {
		return fmt.Errorf("failed to deactivate user: %w", err)
	}
	s.auditLog(ctx, entities.NewAuditLog(nil, entities.ActionUserDeactivated, entities.ResourceUser).
		WithResourceID(userID))
	return nil
}

// Delete soft-deletes a user. The row is kept and the email can no longer
// log in.
func (s *IdentityService) Delete(ctx context.Context, userID string) error {
	if _, err := s.Get(ctx, userID); err != nil {
		return err
	}
	if err := s.userRepo.SoftDelete(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	s.auditLog(ctx, entities.NewAuditLog(nil, entities.ActionUserDeleted, entities.ResourceUser).
		WithResourceID(userID))
	return nil
}
