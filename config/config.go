package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/upb/authgate/utils"
)

// DefaultSessionSecret is only accepted outside production
const DefaultSessionSecret = "dev-insecure-session-secret-change-me"

// Session store backends
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Cognito       CognitoConfig
	Session       SessionConfig
	Redis         RedisConfig
	Database      DatabaseConfig
	Gate          GateConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int `validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// CognitoConfig holds AWS Cognito hosted UI configuration
type CognitoConfig struct {
	Region        string
	UserPoolID    string
	ClientID      string
	ClientSecret  string
	Domain        string // e.g. https://my-app.auth.us-east-1.amazoncognito.com
	RedirectURI   string // OAuth2 callback URL, normally <origin>/auth/callback
	PostLoginURL  string
	PostLogoutURL string
	JWKSCacheTTL  time.Duration
}

// SessionConfig holds session cookie and store configuration
type SessionConfig struct {
	Store            string `validate:"oneof=memory redis postgres"`
	Secret           string `validate:"required,min=32"`
	CookieName       string `validate:"required"`
	TTL              time.Duration `validate:"gt=0"`
	RollingThreshold time.Duration `validate:"gte=0"`
}

// RedisConfig holds Redis connection settings for the redis session store
type RedisConfig struct {
	Addr     string
	Password string
	DB       int `validate:"gte=0"`
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// GateConfig holds request gate configuration
type GateConfig struct {
	AuthPrefix          string `validate:"required,startswith=/"`
	LoginPath           string `validate:"required,startswith=/"`
	PublicPaths         []string
	ExcludePrefixes     []string
	InvalidTokenPolicy  string `validate:"oneof=pass_through redirect_login"`
	TrustForwardedProto bool
}

// ObservabilityConfig holds logging and metrics configuration
type ObservabilityConfig struct {
	LogLevel       string `validate:"required,oneof=debug info warn error"`
	LogFormat      string `validate:"oneof=json console text"`
	MetricsEnabled bool
	MetricsPort    int `validate:"gte=0,lte=65535"`
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	authPrefix := strings.TrimSuffix(getEnv("GATE_AUTH_PREFIX", "/auth"), "/")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			RequestTimeout:  getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:8080"}),
			TLS: struct {
				Enabled  bool
				CertFile string
				KeyFile  string
			}{
				Enabled:  getEnvAsBool("TLS_ENABLED", false),
				CertFile: getEnv("TLS_CERT_FILE", "certs/cert.pem"),
				KeyFile:  getEnv("TLS_KEY_FILE", "certs/key.pem"),
			},
		},
		Cognito: CognitoConfig{
			Region:        getEnv("COGNITO_REGION", "us-east-1"),
			UserPoolID:    getEnv("COGNITO_USER_POOL_ID", ""),
			ClientID:      getEnv("COGNITO_CLIENT_ID", ""),
			ClientSecret:  getEnv("COGNITO_CLIENT_SECRET", ""),
			Domain:        getEnv("COGNITO_DOMAIN", ""),
			RedirectURI:   getEnv("COGNITO_REDIRECT_URI", "http://localhost:8080/auth/callback"),
			PostLoginURL:  getEnv("AUTH_POST_LOGIN_URL", "/"),
			PostLogoutURL: getEnv("AUTH_POST_LOGOUT_URL", ""),
			JWKSCacheTTL:  getEnvAsDuration("COGNITO_JWKS_CACHE_TTL", time.Hour),
		},
		Session: SessionConfig{
			Store:            strings.ToLower(getEnv("SESSION_STORE", StoreMemory)),
			Secret:           getEnv("SESSION_SECRET", DefaultSessionSecret),
			CookieName:       getEnv("SESSION_COOKIE_NAME", "session"),
			TTL:              getEnvAsDuration("SESSION_TTL", 24*time.Hour),
			RollingThreshold: getEnvAsDuration("SESSION_ROLLING_THRESHOLD", time.Hour),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Database: loadDatabaseConfig(),
		Gate: GateConfig{
			AuthPrefix:          authPrefix,
			LoginPath:           getEnv("GATE_LOGIN_PATH", authPrefix+"/login"),
			PublicPaths:         getEnvAsList("GATE_PUBLIC_PATHS", []string{"/"}),
			ExcludePrefixes:     getEnvAsList("GATE_EXCLUDE_PREFIXES", nil),
			InvalidTokenPolicy:  getEnv("GATE_INVALID_TOKEN_POLICY", "pass_through"),
			TrustForwardedProto: getEnvAsBool("GATE_TRUST_FORWARDED_PROTO", false),
		},
		Observability: ObservabilityConfig{
			LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
			LogFormat:      strings.ToLower(getEnv("LOG_FORMAT", "json")),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
			MetricsPort:    getEnvAsInt("METRICS_PORT", 9090),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks field constraints and the settings each store and
// environment requires
func (c *Config) Validate() error {
	if err := utils.ValidateStruct(c); err != nil {
		if utils.IsValidationError(err) {
			return fmt.Errorf("%w: %s", err, joinFields(utils.GetValidationFields(err)))
		}
		return err
	}

	switch c.Session.Store {
	case StoreRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required for the redis session store")
		}
	case StorePostgres:
		if c.Database.ConnectionString == "" && c.Database.Host == "" {
			return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
		}
		if c.Database.ConnectionString == "" {
			if c.Database.User == "" {
				return fmt.Errorf("database user is required")
			}
			if c.Database.Database == "" {
				return fmt.Errorf("database name is required")
			}
		}
	}

	// A login path outside the auth prefix is gated itself and redirects to itself
	if !strings.HasPrefix(c.Gate.LoginPath, c.Gate.AuthPrefix) {
		return fmt.Errorf("gate login path %q must be under the auth prefix %q", c.Gate.LoginPath, c.Gate.AuthPrefix)
	}

	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		return fmt.Errorf("tls cert and key files are required when TLS is enabled")
	}

	if c.IsProduction() {
		if !c.Cognito.IsConfigured() {
			return fmt.Errorf("cognito user pool ID, client ID and domain are required in production")
		}
		if c.Session.Secret == DefaultSessionSecret {
			return fmt.Errorf("SESSION_SECRET must be set in production")
		}
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// IsConfigured reports whether the hosted UI can be used
func (c *CognitoConfig) IsConfigured() bool {
	return c.UserPoolID != "" && c.ClientID != "" && c.Domain != ""
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			return fmt.Sprintf("host=%s port=%s database=%s", u.Hostname(), port, strings.TrimPrefix(u.Path, "/"))
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

func loadDatabaseConfig() DatabaseConfig {
	pool := DatabaseConfig{
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		pool.ConnectionString = dbURL
		return pool
	}
	pool.Host = getEnv("DB_HOST", "localhost")
	pool.Port = getEnvAsInt("DB_PORT", 5432)
	pool.User = getEnv("DB_USER", "authgate")
	pool.Password = getEnv("DB_PASSWORD", "")
	pool.Database = getEnv("DB_NAME", "authgate")
	pool.SSLMode = getEnv("DB_SSLMODE", "disable")
	return pool
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func joinFields(fields map[string]string) string {
	msgs := make([]string, 0, len(fields))
	for _, msg := range fields {
		msgs = append(msgs, msg)
	}
	sort.Strings(msgs)
	return strings.Join(msgs, "; ")
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	for _, key := range []string{"PORT", "SERVER_PORT"} {
		if value := os.Getenv(key); value != "" {
			if p, err := strconv.Atoi(value); err == nil {
				return p
			}
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma-separated value, dropping empty items
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}
