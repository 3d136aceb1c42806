package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// expandEnvVars expands environment variables in the format ${VAR} or $VAR
func expandEnvVars(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}

// DefaultConfigPaths defines the default locations to search for configuration files
var DefaultConfigPaths = []string{
	"./config.yaml",
	"./config.yml",
	"./configs/config.yaml",
	"./configs/config.yml",
	"/etc/critterforge/config.yaml",
	"/etc/critterforge/config.yml",
}

// Secrets read from the environment after the file is parsed. A non-empty
// variable wins over the file value.
const (
	EnvSessionSecret      = "CRITTERFORGE_SESSION_SECRET"
	EnvJWTSigningKey      = "CRITTERFORGE_JWT_SIGNING_KEY"
	EnvGoogleClientSecret = "GOOGLE_CLIENT_SECRET"
	EnvOpenAIAPIKey       = "OPENAI_API_KEY"
	EnvDatabasePassword   = "POSTGRES_PASSWORD"
)

// Defaults returns the configuration used before any file is applied.
func Defaults() *Config {
	return &Config{
		Environment: "local",
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			AdminPort:       9090,
			ClientURL:       "http://localhost:3000",
			UpstreamTimeout: 10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxUploadBytes:  10 << 20,
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "critterforge",
				User:     "postgres",
				SSLMode:  "disable",
			},
		},
		Auth: AuthConfig{
			Google: GoogleConfig{
				Issuer: "https://accounts.google.com",
				Scopes: []string{"openid", "email", "profile"},
			},
			JWT: JWTConfig{
				Lifetime: 24 * time.Hour,
			},
		},
		Session: SessionConfig{
			Backend:         "postgres",
			TTL:             2 * time.Hour,
			CookieName:      "critterforge_session",
			CleanupInterval: 15 * time.Minute,
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "critterforge:session:",
			},
		},
		Storage: StorageConfig{
			UploadPrefix:   "uploads",
			CreaturePrefix: "creatures",
		},
		OpenAI: OpenAIConfig{
			VisionModel: "gpt-4o-mini",
			ImageModel:  "dall-e-3",
			ImageSize:   "1024x1024",
			Timeout:     90 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load loads the configuration from the specified file or default locations
func Load(configPath string) (*Config, error) {
	config := Defaults()

	if configPath == "" {
		configPath = findConfigFile()
	}

	if configPath != "" && fileExists(configPath) {
		fmt.Printf("[CONFIG] Loading config from: %s\n", configPath)
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := Parse(data, config); err != nil {
			return nil, err
		}
	} else {
		fmt.Printf("[CONFIG] No config file found, using defaults\n")
	}

	applyEnvOverrides(config)

	if err := validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

// Parse expands environment variables in data and decodes it over config.
func Parse(data []byte, config *Config) error {
	if err := yaml.Unmarshal(expandEnvVars(data), config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func applyEnvOverrides(config *Config) {
	override := func(dst *string, env string) {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	override(&config.Session.Secret, EnvSessionSecret)
	override(&config.Auth.JWT.SigningKey, EnvJWTSigningKey)
	override(&config.Auth.Google.Web.ClientSecret, EnvGoogleClientSecret)
	override(&config.OpenAI.APIKey, EnvOpenAIAPIKey)
	override(&config.Database.Postgres.Password, EnvDatabasePassword)
}

// findConfigFile searches for a configuration file in default locations
func findConfigFile() string {
	for _, path := range DefaultConfigPaths {
		if fileExists(path) {
			return path
		}
	}
	return ""
}

// fileExists checks if a file exists and is not a directory
func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// validate performs basic validation on the configuration
func validate(config *Config) error {
	if config.Database.Postgres.Host == "" {
		return fmt.Errorf("postgres host is required")
	}
	if config.Database.Postgres.Database == "" {
		return fmt.Errorf("postgres database name is required")
	}
	if config.Database.Postgres.User == "" {
		return fmt.Errorf("postgres user is required")
	}

	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if config.Server.AdminPort < 0 || config.Server.AdminPort > 65535 {
		return fmt.Errorf("server.admin_port must be between 0 and 65535")
	}
	if config.Server.UpstreamTimeout <= 0 {
		return fmt.Errorf("server.upstream_timeout must be positive")
	}
	if config.OpenAI.Timeout <= 0 {
		return fmt.Errorf("openai.timeout must be positive")
	}

	if config.Session.TTL <= 0 {
		return fmt.Errorf("session.ttl must be positive")
	}
	switch strings.ToLower(config.Session.Backend) {
	case "postgres", "redis", "memory":
	default:
		return fmt.Errorf("session.backend must be one of postgres, redis, memory (got %q)", config.Session.Backend)
	}
	if config.Session.Backend == "redis" && config.Session.Redis.Addr == "" {
		return fmt.Errorf("session.redis.addr is required for the redis backend")
	}

	if config.IsProduction() {
		if len(config.Session.Secret) < 32 {
			return fmt.Errorf("session.secret must be at least 32 bytes in production")
		}
		if len(config.Auth.JWT.SigningKey) < 32 {
			return fmt.Errorf("auth.jwt.signing_key must be at least 32 bytes in production")
		}
		if config.Auth.Google.Web.ClientID == "" || config.Auth.Google.Mobile.ClientID == "" {
			return fmt.Errorf("auth.google web and mobile client ids are required in production")
		}
	}

	return nil
}
