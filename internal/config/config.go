package config

import (
	"fmt"
	"time"
)

// Config represents the application configuration
type Config struct {
	Environment string         `yaml:"environment"` // local, dev, prod
	Server      ServerConfig   `yaml:"server"`
	Database    DatabaseConfig `yaml:"database"`
	Auth        AuthConfig     `yaml:"auth"`
	Session     SessionConfig  `yaml:"session"`
	Storage     StorageConfig  `yaml:"storage"`
	OpenAI      OpenAIConfig   `yaml:"openai"`
	Logging     LoggingConfig  `yaml:"logging"`
}

// IsProduction reports whether the deployment is production.
func (c *Config) IsProduction() bool {
	return c.Environment == "prod" || c.Environment == "production"
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	AdminPort       int           `yaml:"admin_port"` // serves /metrics
	ClientURL       string        `yaml:"client_url"` // where the web callback redirects after login
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	TrustProxy      bool          `yaml:"trust_proxy"` // honour X-Forwarded-Proto / X-Forwarded-For
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
}

// Addr returns the listen address of the API server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AdminAddr returns the listen address of the metrics server.
func (s ServerConfig) AdminAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.AdminPort)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific configuration
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"` // disable, require, verify-ca, verify-full
}

// ConnectionString returns the PostgreSQL connection string
func (p *PostgresConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode)
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	Google GoogleConfig `yaml:"google"`
	JWT    JWTConfig    `yaml:"jwt"`
}

// GoogleConfig holds the Google OAuth clients. Web and mobile use different
// client ids, so an ID token minted for one is rejected by the other.
type GoogleConfig struct {
	Issuer         string             `yaml:"issuer"`
	Scopes         []string           `yaml:"scopes"`
	Web            GoogleClientConfig `yaml:"web"`
	Mobile         GoogleClientConfig `yaml:"mobile"`
	AllowedDomains []string           `yaml:"allowed_domains,omitempty"` // Email domain allowlist
	AllowedUsers   []string           `yaml:"allowed_users,omitempty"`   // Individual user email allowlist
}

// GoogleClientConfig holds one OAuth client registration
type GoogleClientConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret,omitempty"`
	RedirectURL  string `yaml:"redirect_url"`
}

// JWTConfig holds the signing settings for mobile session tokens
type JWTConfig struct {
	SigningKey string        `yaml:"signing_key"`
	Lifetime   time.Duration `yaml:"lifetime"` // upper bound, the session TTL still applies
}

// SessionConfig holds the web session settings
type SessionConfig struct {
	Backend         string        `yaml:"backend"` // postgres, redis, memory
	Secret          string        `yaml:"secret"`
	TTL             time.Duration `yaml:"ttl"`
	CookieName      string        `yaml:"cookie_name"`
	Secure          bool          `yaml:"secure"` // forces the Secure cookie flag outside TLS detection
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	Redis           RedisConfig   `yaml:"redis"`
}

// RedisConfig holds the redis session backend settings
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// StorageConfig holds the object storage settings
type StorageConfig struct {
	Bucket          string `yaml:"bucket"`
	CredentialsFile string `yaml:"credentials_file"`
	PublicBaseURL   string `yaml:"public_base_url"` // empty means storage.googleapis.com/<bucket>
	UploadPrefix    string `yaml:"upload_prefix"`
	CreaturePrefix  string `yaml:"creature_prefix"`
}

// OpenAIConfig holds the vision and image generation settings
type OpenAIConfig struct {
	APIKey      string `yaml:"api_key"`
	BaseURL     string `yaml:"base_url"`
	VisionModel string `yaml:"vision_model"`
	ImageModel  string `yaml:"image_model"`
	ImageSize   string `yaml:"image_size"`

	// Timeout bounds each OpenAI call; image generation is slow
	Timeout time.Duration `yaml:"timeout"`
}

// LoggingConfig holds logging defaults; command line flags override them
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}
