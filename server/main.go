package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/devilmonastery/critterforge/internal/auth"
	"github.com/devilmonastery/critterforge/internal/auth/oidc"
	"github.com/devilmonastery/critterforge/internal/config"
	"github.com/devilmonastery/critterforge/internal/domain/entities"
	"github.com/devilmonastery/critterforge/internal/domain/repositories"
	"github.com/devilmonastery/critterforge/internal/domain/services"
	"github.com/devilmonastery/critterforge/internal/infrastructure/database/postgres"
	"github.com/devilmonastery/critterforge/internal/infrastructure/openai"
	"github.com/devilmonastery/critterforge/internal/infrastructure/sessionstore"
	"github.com/devilmonastery/critterforge/internal/infrastructure/storage"
	"github.com/devilmonastery/critterforge/internal/pkg/apperr"
	"github.com/devilmonastery/critterforge/internal/pkg/idgen"
	"github.com/devilmonastery/critterforge/internal/pkg/logger"
	"github.com/devilmonastery/critterforge/migrations"
	"github.com/devilmonastery/critterforge/server/internal/http/handlers"
	"github.com/devilmonastery/critterforge/server/internal/http/middleware"
)

// flowMaxAge bounds how long a login may sit at the consent screen
const flowMaxAge = 10 * 60

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		forceVersion  int
		configPath    string
		logLevel      string
		logFile       string
		logToStderr   bool
		alsoLogStderr bool
		logFormat     string
	)

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Critterforge API server",
		Long:  "The HTTP API serving Google sign-in and creature generation for Critterforge",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupServerLogging(logLevel, logFile, logToStderr, alsoLogStderr, logFormat)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), configPath, forceVersion)
		},
	}

	cmd.Flags().IntVar(&forceVersion, "force-migration", -1, "Force migration version (use to fix dirty migration state)")
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (optional)")

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Log file path (if specified, logs to file instead of stderr)")
	cmd.PersistentFlags().BoolVar(&logToStderr, "logtostderr", false, "Log to stderr (default behavior unless --log-file specified)")
	cmd.PersistentFlags().BoolVar(&alsoLogStderr, "alsologtostderr", false, "Log to both file and stderr")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto", "Log format (auto, text, json)")

	cmd.AddCommand(newMigrateCommand(&configPath))
	cmd.AddCommand(newUserCommand(&configPath))

	return cmd
}

// setupServerLogging configures the global logger for the server
func setupServerLogging(logLevel, logFile string, logToStderr, alsoLogStderr bool, logFormat string) error {
	// Default to stderr logging unless file is specified
	if logFile == "" {
		logToStderr = true
	}

	cfg := logger.Config{
		Level:         logger.ParseLevel(logLevel),
		LogFile:       logFile,
		LogToStderr:   logToStderr,
		AlsoLogStderr: alsoLogStderr,
		Format:        logFormat,
	}

	globalLogger, err := logger.SetupLogger(cfg)
	if err != nil {
		return err
	}

	slog.SetDefault(globalLogger)
	return nil
}

// connectPostgres opens the database, retrying with backoff while it starts
func connectPostgres(ctx context.Context, cfg *config.Config, log *slog.Logger) (*postgres.Connection, error) {
	log.Info("Initializing PostgreSQL database",
		"user", cfg.Database.Postgres.User,
		"host", cfg.Database.Postgres.Host,
		"database", cfg.Database.Postgres.Database)

	connString := cfg.Database.Postgres.ConnectionString()
	maxRetries := 10
	retryDelay := 2 * time.Second

	for i := 0; ; i++ {
		pgConn, err := postgres.NewConnection(ctx, connString)
		if err == nil {
			log.Info("Successfully connected to PostgreSQL")
			return pgConn, nil
		}
		if i == maxRetries-1 {
			return nil, fmt.Errorf("failed to connect to PostgreSQL after %d attempts: %w", maxRetries, err)
		}

		log.Warn("Failed to connect to PostgreSQL",
			"attempt", i+1,
			"max_retries", maxRetries,
			"error", err,
			"retry_delay", retryDelay)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
		retryDelay *= 2
		if retryDelay > 30*time.Second {
			retryDelay = 30 * time.Second
		}
	}
}

func runServer(ctx context.Context, configPath string, forceVersion int) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := slog.Default().With("component", "server")
	log.Info("Starting server initialization")

	if err := idgen.Initialize(1); err != nil {
		return fmt.Errorf("failed to initialize ID generator: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	production := cfg.IsProduction()

	pgConn, err := connectPostgres(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer pgConn.Close()

	if forceVersion >= 0 {
		log.Info("Force setting migration version", "version", forceVersion)
		if err := pgConn.ForceMigrationVersion(migrations.FS, forceVersion); err != nil {
			return fmt.Errorf("failed to force migration version: %w", err)
		}
		log.Info("Migration version forced, exiting", "version", forceVersion)
		return nil
	}

	if err := pgConn.RunMigrations(migrations.FS); err != nil {
		return fmt.Errorf("failed to run PostgreSQL migrations: %w", err)
	}

	userRepo := postgres.NewUserRepository(pgConn.DB)
	creatureRepo := postgres.NewCreatureRepository(pgConn.DB)
	auditRepo := postgres.NewAuditRepository(pgConn.DB)

	sessionRepo, err := newSessionRepository(ctx, cfg, pgConn)
	if err != nil {
		return err
	}

	secret := []byte(cfg.Session.Secret)
	if len(secret) == 0 {
		log.Warn("session secret not configured, sessions will not survive a restart")
		secret = sessionstore.RandomSecret()
	}
	secureCookies := cfg.Session.Secure || production

	sessionStore, err := sessionstore.NewStore(sessionRepo, secret, sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.Session.TTL / time.Second),
		HttpOnly: true,
		Secure:   secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	if err != nil {
		return fmt.Errorf("failed to create session store: %w", err)
	}
	flowStore, err := sessionstore.NewFlowStore(secret, secureCookies, flowMaxAge)
	if err != nil {
		return fmt.Errorf("failed to create oauth flow store: %w", err)
	}

	google := cfg.Auth.Google
	verifier, err := oidc.NewVerifier(ctx, oidc.Config{
		Issuer: google.Issuer,
		Scopes: google.Scopes,
		Web: oidc.ClientConfig{
			ClientID:     google.Web.ClientID,
			ClientSecret: google.Web.ClientSecret,
			RedirectURL:  google.Web.RedirectURL,
		},
		Mobile: oidc.ClientConfig{
			ClientID:     google.Mobile.ClientID,
			ClientSecret: google.Mobile.ClientSecret,
			RedirectURL:  google.Mobile.RedirectURL,
		},
		AllowedDomains: google.AllowedDomains,
		AllowedUsers:   google.AllowedUsers,
		Timeout:        cfg.Server.UpstreamTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize Google verifier: %w", err)
	}
	log.Info("Google verifier initialized",
		"web_client_id", google.Web.ClientID,
		"mobile_client_id", google.Mobile.ClientID)

	signingKey := cfg.Auth.JWT.SigningKey
	if signingKey == "" {
		if production {
			return errors.New("jwt signing key not configured")
		}
		log.Warn("jwt signing key not configured, mobile tokens will not survive a restart")
		signingKey = string(sessionstore.RandomSecret())
	}
	tokens := auth.NewJWTManager(signingKey)

	issuer := auth.NewIssuer(auth.IssuerConfig{
		CookieName:    cfg.Session.CookieName,
		TTL:           cfg.Session.TTL,
		Secure:        secureCookies,
		TrustProxy:    cfg.Server.TrustProxy,
		TokenLifetime: cfg.Auth.JWT.Lifetime,
	}, sessionStore, tokens)
	gate := auth.NewGate(sessionStore, cfg.Session.CookieName, 0)
	resolver := auth.NewResolver(verifier, tokens, userRepo)

	checks := map[string]repositories.HealthChecker{"postgres": pgConn}
	objects, describer, illustrator := newAssetPipeline(ctx, cfg, log, checks)

	identities := services.NewIdentityService(userRepo, auditRepo)
	creatures := services.NewCreatureService(services.CreatureConfig{
		UploadPrefix:   cfg.Storage.UploadPrefix,
		CreaturePrefix: cfg.Storage.CreaturePrefix,
	}, creatureRepo, userRepo, auditRepo, objects, describer, illustrator)

	router := handlers.NewRouter(handlers.Routes{
		Auth: handlers.NewAuthHandler(handlers.AuthConfig{
			ClientURL:  cfg.Server.ClientURL,
			Production: production,
			TrustProxy: cfg.Server.TrustProxy,
		}, verifier, identities, issuer, gate, flowStore),
		Creatures:      handlers.NewCreatureHandler(creatures, production, cfg.Server.MaxUploadBytes),
		Health:         handlers.NewHealthHandler(checks),
		Guard:          middleware.NewAuthMiddleware(gate, resolver, production),
		TrustProxy:     cfg.Server.TrustProxy,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	})

	if _, ok := sessionRepo.(*sessionstore.RedisRepository); !ok {
		go sessionstore.RunJanitor(ctx, sessionRepo, cfg.Session.CleanupInterval)
	}

	apiServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	adminMux := http.NewServeMux()
	adminMux.Handle("/metrics", promhttp.Handler())
	adminServer := &http.Server{
		Addr:              cfg.Server.AdminAddr(),
		Handler:           adminMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 2)
	go func() {
		log.Info("Starting admin server", "address", adminServer.Addr)
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("admin server: %w", err)
		}
	}()
	go func() {
		log.Info("Starting API server",
			"address", apiServer.Addr,
			"environment", cfg.Environment,
			"session_backend", cfg.Session.Backend)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("api server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case err = <-errc:
		log.Error("Server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if serr := apiServer.Shutdown(shutdownCtx); serr != nil {
		log.Warn("API server shutdown", "error", serr)
	}
	if serr := adminServer.Shutdown(shutdownCtx); serr != nil {
		log.Warn("Admin server shutdown", "error", serr)
	}
	log.Info("Server stopped")
	return err
}

// newSessionRepository picks the web session backend
func newSessionRepository(ctx context.Context, cfg *config.Config, pgConn *postgres.Connection) (repositories.SessionRepository, error) {
	switch strings.ToLower(cfg.Session.Backend) {
	case "postgres":
		return postgres.NewSessionRepository(pgConn.DB), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Session.Redis.Addr,
			Password: cfg.Session.Redis.Password,
			DB:       cfg.Session.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Session.Redis.Addr, err)
		}
		return sessionstore.NewRedisRepository(client, cfg.Session.Redis.KeyPrefix), nil
	case "memory":
		return sessionstore.NewMemoryRepository(), nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Session.Backend)
	}
}

// newAssetPipeline builds the storage and OpenAI clients. Outside production
// a missing bucket or API key disables creature generation instead of
// failing startup.
func newAssetPipeline(ctx context.Context, cfg *config.Config, log *slog.Logger, checks map[string]repositories.HealthChecker) (services.ObjectStore, services.Describer, services.Illustrator) {
	var (
		objects     services.ObjectStore = pipelineDisabled{}
		describer   services.Describer   = pipelineDisabled{}
		illustrator services.Illustrator = pipelineDisabled{}
	)
	production := cfg.IsProduction()

	gcs, err := storage.NewGCSStore(ctx, storage.Config{
		Bucket:          cfg.Storage.Bucket,
		CredentialsFile: cfg.Storage.CredentialsFile,
		PublicBaseURL:   cfg.Storage.PublicBaseURL,
		Timeout:         cfg.Server.UpstreamTimeout,
	})
	if err != nil {
		if production {
			log.Error("Object storage unavailable", "error", err)
		} else {
			log.Warn("Object storage disabled", "error", err)
		}
	} else {
		objects = gcs
		checks["storage"] = gcs
	}

	client, err := openai.NewClient(openai.Config{
		APIKey:      cfg.OpenAI.APIKey,
		BaseURL:     cfg.OpenAI.BaseURL,
		VisionModel: cfg.OpenAI.VisionModel,
		ImageModel:  cfg.OpenAI.ImageModel,
		ImageSize:   cfg.OpenAI.ImageSize,
		Timeout:     cfg.OpenAI.Timeout,
	})
	if err != nil {
		if production {
			log.Error("OpenAI client unavailable", "error", err)
		} else {
			log.Warn("OpenAI client disabled", "error", err)
		}
	} else {
		describer, illustrator = client, client
	}

	return objects, describer, illustrator
}

var errPipelineDisabled = errors.New("creature pipeline is not configured")

// pipelineDisabled stands in for unconfigured asset pipeline stages
type pipelineDisabled struct{}

func (pipelineDisabled) Put(context.Context, string, string, []byte) (string, error) {
	return "", apperr.Wrap(apperr.ErrUpstreamService, "Image storage unavailable", errPipelineDisabled)
}

func (pipelineDisabled) DescribeImage(context.Context, string) (*entities.CreatureSheet, error) {
	return nil, apperr.Wrap(apperr.ErrUpstreamService, "Image analysis unavailable", errPipelineDisabled)
}

func (pipelineDisabled) Illustrate(context.Context, *entities.CreatureSheet) ([]byte, error) {
	return nil, apperr.Wrap(apperr.ErrUpstreamService, "Image generation unavailable", errPipelineDisabled)
}
