package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/devilmonastery/critterforge/internal/auth"
	"github.com/devilmonastery/critterforge/internal/pkg/logger"
	"github.com/devilmonastery/critterforge/internal/pkg/metrics"
	"github.com/devilmonastery/critterforge/server/internal/http/respond"
)

// Classifier finds the credential on a request
type Classifier interface {
	Classify(r *http.Request) (auth.Credential, error)
}

// PrincipalResolver verifies a credential
type PrincipalResolver interface {
	Resolve(ctx context.Context, cred auth.Credential) (*auth.Principal, error)
}

// AuthMiddleware guards routes that need an authenticated caller
type AuthMiddleware struct {
	gate       Classifier
	resolver   PrincipalResolver
	production bool
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(gate Classifier, resolver PrincipalResolver, production bool) *AuthMiddleware {
	return &AuthMiddleware{
		gate:       gate,
		resolver:   resolver,
		production: production,
	}
}

// RequireIdentity rejects requests without a valid web session or mobile
// token with 401 and otherwise runs next with the principal in the context.
func (m *AuthMiddleware) RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cred, err := m.gate.Classify(r)
		if err != nil {
			metrics.GateDecisions.WithLabelValues("none", "deny").Inc()
			respond.Error(w, r, err, m.production)
			return
		}

		device := string(cred.Device())
		principal, err := m.resolver.Resolve(r.Context(), cred)
		if err != nil {
			metrics.GateDecisions.WithLabelValues(device, "deny").Inc()
			logger.FromContext(r.Context()).Info("credential rejected",
				slog.String("device", device),
				slog.String("error", err.Error()))
			respond.Error(w, r, err, m.production)
			return
		}
		metrics.GateDecisions.WithLabelValues(device, "allow").Inc()

		ctx := auth.WithPrincipal(r.Context(), principal)
		if info := infoFromContext(ctx); info != nil {
			info.userID = principal.UserID
			info.device = device
		}
		if principal.UserID != "" {
			ctx = logger.IntoContext(ctx, logger.WithUser(logger.FromContext(ctx), principal.UserID))
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
