// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv     string `env:"APP_ENV" envDefault:"dev"`
	ServerHost string `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	ServerPort int    `env:"SERVER_PORT" envDefault:"8000"`

	// Database connection; assembled into a pgx DSN by DatabaseURL.
	DatabaseHost     string `env:"DATABASE_HOST" envDefault:"localhost"`
	DatabasePort     int    `env:"DATABASE_PORT" envDefault:"5432"`
	DatabaseName     string `env:"DATABASE_NAME" envDefault:"logs"`
	DatabaseUser     string `env:"DATABASE_USER" envDefault:"postgres"`
	DatabasePassword string `env:"DATABASE_PASSWORD" envDefault:"postgres"`
	DBPoolMinSize    int    `env:"DB_POOL_MIN_SIZE" envDefault:"2"`
	DBPoolMaxSize    int    `env:"DB_POOL_MAX_SIZE" envDefault:"10"`

	// LLM provider selection and credentials.
	LLMProvider     string        `env:"LLM_PROVIDER" envDefault:"anthropic"`
	AnthropicAPIKey string        `env:"ANTHROPIC_API_KEY"`
	AnthropicModel  string        `env:"ANTHROPIC_MODEL" envDefault:"claude-sonnet-4-20250514"`
	OpenAIAPIKey    string        `env:"OPENAI_API_KEY"`
	OpenAIModel     string        `env:"OPENAI_MODEL" envDefault:"gpt-4o"`
	LLMTimeout      time.Duration `env:"LLM_TIMEOUT" envDefault:"60s"`
	LLMMaxTokens    int           `env:"LLM_MAX_TOKENS" envDefault:"2048"`

	// Result cache tuning.
	CacheTTLSeconds int `env:"CACHE_TTL_SECONDS" envDefault:"300"`
	CacheMaxSize    int `env:"CACHE_MAX_SIZE" envDefault:"100"`

	// AnalysisURL lets the collector invalidate the analysis cache after
	// successful inserts. Empty disables the callback.
	AnalysisURL string `env:"ANALYSIS_URL"`

	// Anomaly detector.
	AlertCheckInterval time.Duration `env:"ALERT_CHECK_INTERVAL" envDefault:"300s"`

	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"loglens"`

	CORSAllowOrigins      string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	RateLimitPerMin       int           `env:"RATE_LIMIT_PER_MIN" envDefault:"120"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"120s"`
	HTTPIdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
}

// Load parses environment variables into a Config. A local .env file is
// applied first when present; real environment variables win.
func Load() (Config, error) {
	_ = godotenv.Load()
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// DatabaseURL assembles the pgx DSN from the discrete connection fields.
func (c Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		url.QueryEscape(c.DatabaseUser), url.QueryEscape(c.DatabasePassword),
		c.DatabaseHost, c.DatabasePort, c.DatabaseName)
}

// Addr renders the listener address.
func (c Config) Addr() string { return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort) }

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// CacheTTL returns the configured cache TTL as a duration.
func (c Config) CacheTTL() time.Duration { return time.Duration(c.CacheTTLSeconds) * time.Second }
