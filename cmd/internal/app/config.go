package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/puse45/auth-ms/cmd/account"
)

var ErrConfig = errors.New("app: invalid config")

// Config contains the process-level runtime configuration. Component settings
// (sessions, dispatch, throttling, sso, realtime) are loaded by their packages.
type Config struct {
	HTTPAddr string `env:"AUTHMS_HTTP_ADDR" envDefault:"0.0.0.0:8080"`
	// PublicBaseURL is only used in startup logs. Derived from HTTPAddr when empty.
	PublicBaseURL string `env:"AUTHMS_PUBLIC_BASE_URL"`

	LogLevel  string `env:"AUTHMS_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"AUTHMS_LOG_FORMAT" envDefault:"json"`

	ReadHeaderTimeout time.Duration `env:"AUTHMS_HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	ReadTimeout       time.Duration `env:"AUTHMS_HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout      time.Duration `env:"AUTHMS_HTTP_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout       time.Duration `env:"AUTHMS_HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout   time.Duration `env:"AUTHMS_HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	MaxHeaderBytes    int           `env:"AUTHMS_HTTP_MAX_HEADER_BYTES" envDefault:"1048576"`

	DatabaseURL string `env:"AUTHMS_DATABASE_URL"`
	DBSchema    string `env:"AUTHMS_DB_SCHEMA" envDefault:"authms"`
	DBMaxConns  int32  `env:"AUTHMS_DB_MAX_CONNS" envDefault:"10"`
	DBMinConns  int32  `env:"AUTHMS_DB_MIN_CONNS" envDefault:"0"`
	// AutoMigrate applies the embedded migrations on startup.
	AutoMigrate bool `env:"AUTHMS_DB_AUTO_MIGRATE" envDefault:"true"`

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool `env:"AUTHMS_READINESS_REQUIRE_DB" envDefault:"false"`

	// If true, AUTHMS_TOKEN_HMAC_KEY must be set (>= 32 bytes) and refresh-token
	// hashing must be HMAC-based.
	RequireTokenHMAC bool `env:"AUTHMS_REQUIRE_TOKEN_HMAC" envDefault:"false"`

	CORSAllowedOrigins   []string `env:"AUTHMS_CORS_ALLOWED_ORIGINS" envSeparator:","`
	CORSAllowCredentials bool     `env:"AUTHMS_CORS_ALLOW_CREDENTIALS" envDefault:"false"`
	CORSMaxAgeSeconds    int      `env:"AUTHMS_CORS_MAX_AGE_SECONDS" envDefault:"600"`

	MetricsEnabled bool `env:"AUTHMS_METRICS_ENABLED" envDefault:"true"`
}

func DefaultConfig() Config {
	return Config{
		HTTPAddr:          "0.0.0.0:8080",
		LogLevel:          "info",
		LogFormat:         "json",
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		MaxHeaderBytes:    1 << 20,
		DBSchema:          "authms",
		DBMaxConns:        10,
		AutoMigrate:       true,
		CORSMaxAgeSeconds: 600,
		MetricsEnabled:    true,
	}
}

// LoadConfig reads .env files (when present) and then the process environment.
func LoadConfig() (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))

	var origins []string
	for _, o := range cfg.CORSAllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	cfg.CORSAllowedOrigins = origins

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.HTTPAddr) == "":
		return fmt.Errorf("%w: AUTHMS_HTTP_ADDR is required", ErrConfig)
	case c.ReadHeaderTimeout <= 0, c.ReadTimeout <= 0, c.WriteTimeout <= 0, c.IdleTimeout <= 0, c.ShutdownTimeout <= 0:
		return fmt.Errorf("%w: http timeouts must be positive", ErrConfig)
	case c.MaxHeaderBytes <= 0:
		return fmt.Errorf("%w: AUTHMS_HTTP_MAX_HEADER_BYTES must be positive", ErrConfig)
	case !account.ValidSchema(c.DBSchema):
		return fmt.Errorf("%w: AUTHMS_DB_SCHEMA %q is not a valid identifier", ErrConfig, c.DBSchema)
	case c.DBMaxConns < 1 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns:
		return fmt.Errorf("%w: db pool bounds are invalid", ErrConfig)
	case c.CORSMaxAgeSeconds < 0:
		return fmt.Errorf("%w: AUTHMS_CORS_MAX_AGE_SECONDS must not be negative", ErrConfig)
	}
	switch c.LogFormat {
	case "json", "text", "pretty":
	default:
		return fmt.Errorf("%w: AUTHMS_LOG_FORMAT must be json, text or pretty", ErrConfig)
	}
	return nil
}
