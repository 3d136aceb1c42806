package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/devilmonastery/critterforge/server/internal/http/middleware"
	"github.com/devilmonastery/critterforge/server/internal/http/respond"
)

// Routes bundles everything NewRouter mounts
type Routes struct {
	Auth      *AuthHandler
	Creatures *CreatureHandler
	Health    *HealthHandler
	Guard     *middleware.AuthMiddleware

	TrustProxy     bool
	MaxUploadBytes int64
}

// NewRouter mounts the API under /api/auth and /api/creatures plus the
// probes, wrapped in request id, access log and panic recovery.
func NewRouter(rt Routes) http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.Metrics)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond.JSON(w, http.StatusNotFound, respond.Message{Message: "Not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond.JSON(w, http.StatusMethodNotAllowed, respond.Message{Message: "Method not allowed"})
	})

	r.HandleFunc("/health", rt.Health.Health).Methods(http.MethodGet)
	r.HandleFunc("/readiness", rt.Health.Readiness).Methods(http.MethodGet)

	authRoutes := r.PathPrefix("/api/auth").Subrouter()
	authRoutes.HandleFunc("/login/google", rt.Auth.Login).Methods(http.MethodGet)
	authRoutes.HandleFunc("/login/google/callback", rt.Auth.Callback).Methods(http.MethodGet)
	authRoutes.HandleFunc("/login/google/mobile", rt.Auth.MobileLogin).Methods(http.MethodPost)
	authRoutes.HandleFunc("/login/google/mobile/code", rt.Auth.MobileCodeLogin).Methods(http.MethodPost)
	profile := rt.Guard.RequireIdentity(http.HandlerFunc(rt.Auth.Profile))
	authRoutes.Handle("/profile", http.MaxBytesHandler(profile, rt.Auth.cfg.MaxBodyBytes)).
		Methods(http.MethodGet, http.MethodPost)
	authRoutes.HandleFunc("/logout", rt.Auth.Logout).Methods(http.MethodGet, http.MethodPost)

	creatures := r.PathPrefix("/api/creatures").Subrouter()
	creatures.Use(limitBody(rt.MaxUploadBytes), rt.Guard.RequireIdentity)
	creatures.HandleFunc("", rt.Creatures.Create).Methods(http.MethodPost)
	creatures.HandleFunc("", rt.Creatures.List).Methods(http.MethodGet)
	creatures.HandleFunc("/describe", rt.Creatures.Describe).Methods(http.MethodPost)
	creatures.HandleFunc("/{id}", rt.Creatures.Get).Methods(http.MethodGet)

	return middleware.RequestID(middleware.LogRequest(rt.TrustProxy)(middleware.Recover(r)))
}

// limitBody caps request bodies; multipart overhead gets a little room on
// top of the image limit.
func limitBody(maxBytes int64) mux.MiddlewareFunc {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return func(next http.Handler) http.Handler {
		return http.MaxBytesHandler(next, maxBytes+1<<20)
	}
}
