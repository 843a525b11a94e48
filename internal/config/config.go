package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/alittlebroken/recipefinder-auth/pkg/config"
	"github.com/alittlebroken/recipefinder-auth/pkg/database"
)

const defaultSecretPlaceholder = "change-this-to-a-secure-secret"

// maxProductionAccessTTL caps access token lifetime outside development.
// Development may use longer windows for convenience; production tokens stay
// short so a leaked access token has a bounded blast radius.
const maxProductionAccessTTL = time.Hour

// Config holds all configuration for the auth service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"AUTH_HTTP_PORT" envDefault:"8001"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"recipefinder"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"recipefinder_secret"`
	PostgresDB   string `env:"AUTH_DB_NAME" envDefault:"recipefinder_auth"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Redis (login attempt limiter)
	RedisHost string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPass string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// JWT. Access and refresh tokens are signed with distinct secrets so a
	// token of one kind can never verify as the other.
	JWTAccessSecret  string        `env:"JWT_ACCESS_SECRET" envDefault:"change-this-to-a-secure-secret"`
	JWTRefreshSecret string        `env:"JWT_REFRESH_SECRET" envDefault:"change-this-to-a-secure-secret-2"`
	JWTAccessExpiry  time.Duration `env:"JWT_ACCESS_TOKEN_EXPIRY" envDefault:"15m"`
	JWTRefreshExpiry time.Duration `env:"JWT_REFRESH_TOKEN_EXPIRY" envDefault:"168h"`

	// Login rate limiting
	LoginMaxAttempts int           `env:"LOGIN_MAX_ATTEMPTS" envDefault:"10"`
	LoginWindow      time.Duration `env:"LOGIN_ATTEMPT_WINDOW" envDefault:"15m"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Tracing
	TracingEnabled  bool    `env:"OTEL_TRACING_ENABLED" envDefault:"false"`
	OTLPEndpoint    string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	TraceSampleRate float64 `env:"OTEL_TRACE_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load auth config: %w", err)
	}
	if cfg.HTTPPort < 1 || cfg.HTTPPort > 65535 {
		return nil, fmt.Errorf("invalid HTTP port: %d", cfg.HTTPPort)
	}
	if cfg.JWTAccessExpiry <= 0 || cfg.JWTRefreshExpiry <= 0 {
		return nil, fmt.Errorf("token expiries must be positive")
	}
	if cfg.JWTRefreshExpiry <= cfg.JWTAccessExpiry {
		return nil, fmt.Errorf("refresh token expiry (%s) must exceed access token expiry (%s)",
			cfg.JWTRefreshExpiry, cfg.JWTAccessExpiry)
	}

	// In non-development environments, require explicitly set, strong,
	// distinct secrets and a short access token window.
	if cfg.Environment != "development" {
		if cfg.JWTAccessSecret == defaultSecretPlaceholder {
			return nil, fmt.Errorf("JWT_ACCESS_SECRET must be explicitly set via environment variable in %q mode", cfg.Environment)
		}
		if cfg.JWTRefreshSecret == defaultSecretPlaceholder+"-2" {
			return nil, fmt.Errorf("JWT_REFRESH_SECRET must be explicitly set via environment variable in %q mode", cfg.Environment)
		}
		if len(cfg.JWTAccessSecret) < 32 {
			return nil, fmt.Errorf("JWT_ACCESS_SECRET must be at least 32 characters long, got %d", len(cfg.JWTAccessSecret))
		}
		if len(cfg.JWTRefreshSecret) < 32 {
			return nil, fmt.Errorf("JWT_REFRESH_SECRET must be at least 32 characters long, got %d", len(cfg.JWTRefreshSecret))
		}
		if cfg.JWTAccessSecret == cfg.JWTRefreshSecret {
			return nil, fmt.Errorf("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must be distinct")
		}
		if cfg.JWTAccessExpiry > maxProductionAccessTTL {
			return nil, fmt.Errorf("JWT_ACCESS_TOKEN_EXPIRY must not exceed %s in %q mode, got %s",
				maxProductionAccessTTL, cfg.Environment, cfg.JWTAccessExpiry)
		}
	}

	return cfg, nil
}

// Postgres returns the connection pool configuration for the auth database.
func (c *Config) Postgres() database.PostgresConfig {
	pg := database.DefaultPostgresConfig()
	pg.Host = c.PostgresHost
	pg.Port = c.PostgresPort
	pg.User = c.PostgresUser
	pg.Password = c.PostgresPass
	pg.DBName = c.PostgresDB
	pg.SSLMode = c.PostgresSSL
	return pg
}

// Redis returns the redis client configuration for the login limiter.
func (c *Config) Redis() database.RedisConfig {
	r := database.DefaultRedisConfig()
	r.Host = c.RedisHost
	r.Port = c.RedisPort
	r.Password = c.RedisPass
	r.DB = c.RedisDB
	return r
}
