package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	API           APIConfig
	Session       SessionConfig
	Observability ObservabilityConfig
	DevServer     DevServerConfig
}

// APIConfig holds the authentication service client configuration
type APIConfig struct {
	BaseURL        string        `env:"AUTH_API_URL" envDefault:"http://localhost:5000"`
	Timeout        time.Duration `env:"AUTH_API_TIMEOUT" envDefault:"10s"`
	LogoutAttempts uint          `env:"AUTH_LOGOUT_ATTEMPTS" envDefault:"3"`
	// RefreshCookie names the cookie carrying the refresh credential
	RefreshCookie  string        `env:"AUTH_REFRESH_COOKIE" envDefault:"refreshToken"`
}

// SessionConfig holds session manager configuration
type SessionConfig struct {
	// RefreshMargin is how long before expiry the renewal fires
	RefreshMargin time.Duration `env:"SESSION_REFRESH_MARGIN" envDefault:"10s"`
}

// ObservabilityConfig holds logging, tracing and metrics configuration
type ObservabilityConfig struct {
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"json"`
	LogFile         string        `env:"LOG_FILE"`
	LogMaxSizeMB    int           `env:"LOG_MAX_SIZE_MB" envDefault:"50"`
	LogMaxBackups   int           `env:"LOG_MAX_BACKUPS" envDefault:"3"`
	LogMaxAgeDays   int           `env:"LOG_MAX_AGE_DAYS" envDefault:"14"`
	OTELEnabled     bool          `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint    string        `env:"OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"`
	MetricsEndpoint string        `env:"OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"`
	MetricsInterval time.Duration `env:"OTEL_METRIC_EXPORT_INTERVAL_DURATION" envDefault:"30s"`
	SamplingRate    float64       `env:"OTEL_SAMPLING_RATE" envDefault:"1.0"`
	ServiceName     string        `env:"OTEL_SERVICE_NAME" envDefault:"authsession"`
	ServiceVersion  string        `env:"OTEL_SERVICE_VERSION" envDefault:"0.1.0"`
}

// DevServerConfig holds the stub authentication backend configuration
type DevServerConfig struct {
	Host            string        `env:"DEVAUTH_HOST" envDefault:"127.0.0.1"`
	Port            string        `env:"DEVAUTH_PORT" envDefault:"5000"`
	TokenTTL        time.Duration `env:"DEVAUTH_TOKEN_TTL" envDefault:"15m"`
	RefreshTTL      time.Duration `env:"DEVAUTH_REFRESH_TTL" envDefault:"168h"`
	CookieName      string        `env:"DEVAUTH_COOKIE_NAME" envDefault:"refreshToken"`
	CookieSecure    bool          `env:"DEVAUTH_COOKIE_SECURE" envDefault:"false"`
	JWTSecret       string        `env:"DEVAUTH_JWT_SECRET" envDefault:"dev-secret-change-me"`
	RateLimitRPS    float64       `env:"DEVAUTH_RATELIMIT_RPS" envDefault:"10"`
	RateLimitBurst  int           `env:"DEVAUTH_RATELIMIT_BURST" envDefault:"20"`
	ReadTimeout     time.Duration `env:"DEVAUTH_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"DEVAUTH_WRITE_TIMEOUT" envDefault:"15s"`
	ShutdownTimeout time.Duration `env:"DEVAUTH_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Addr is the dev server listen address
func (c DevServerConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// Load loads configuration from an optional .env file and the environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}
	return parse(env.Options{})
}

// LoadFrom loads configuration from the given variables only
func LoadFrom(environ map[string]string) (*Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("AUTH_API_URL must be an absolute URL, got %q", c.API.BaseURL)
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("AUTH_API_TIMEOUT must be positive")
	}
	if c.API.RefreshCookie == "" {
		return fmt.Errorf("AUTH_REFRESH_COOKIE must not be empty")
	}
	if c.Session.RefreshMargin < 0 {
		return fmt.Errorf("SESSION_REFRESH_MARGIN must not be negative")
	}
	if c.DevServer.JWTSecret == "" {
		return fmt.Errorf("DEVAUTH_JWT_SECRET is required")
	}
	if c.DevServer.RefreshTTL <= c.DevServer.TokenTTL {
		return fmt.Errorf("DEVAUTH_REFRESH_TTL must exceed DEVAUTH_TOKEN_TTL")
	}
	return nil
}
