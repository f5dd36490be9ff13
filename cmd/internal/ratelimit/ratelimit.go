// Package ratelimit provides fixed-window request throttles keyed by an
// arbitrary string (client IP, username, contact address).
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

var ErrConfig = errors.New("ratelimit: invalid config")

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Count      int
	RetryAfter time.Duration
}

// Limiter counts hits against key inside the current window. A limit <= 0
// disables the check.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

type Config struct {
	RedisURL  string `env:"AUTHMS_REDIS_URL"`
	KeyPrefix string `env:"AUTHMS_RATELIMIT_PREFIX" envDefault:"authms:rl:"`

	LoginIPMax      int           `env:"AUTHMS_LOGIN_IP_MAX" envDefault:"50"`
	LoginIPWindow   time.Duration `env:"AUTHMS_LOGIN_IP_WINDOW" envDefault:"10m"`
	LoginUserMax    int           `env:"AUTHMS_LOGIN_USER_MAX" envDefault:"10"`
	LoginUserWindow time.Duration `env:"AUTHMS_LOGIN_USER_WINDOW" envDefault:"15m"`

	// OTPRequestMax bounds generate and reset requests per address. 0 disables.
	OTPRequestMax    int           `env:"AUTHMS_OTP_REQUEST_MAX" envDefault:"0"`
	OTPRequestWindow time.Duration `env:"AUTHMS_OTP_REQUEST_WINDOW" envDefault:"15m"`
}

func DefaultConfig() Config {
	return Config{
		KeyPrefix:        "authms:rl:",
		LoginIPMax:       50,
		LoginIPWindow:    10 * time.Minute,
		LoginUserMax:     10,
		LoginUserWindow:  15 * time.Minute,
		OTPRequestWindow: 15 * time.Minute,
	}
}

func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	cfg.RedisURL = strings.TrimSpace(cfg.RedisURL)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.LoginIPMax < 0 || c.LoginUserMax < 0 || c.OTPRequestMax < 0:
		return fmt.Errorf("%w: limits must not be negative", ErrConfig)
	case c.LoginIPMax > 0 && c.LoginIPWindow <= 0:
		return fmt.Errorf("%w: AUTHMS_LOGIN_IP_WINDOW must be positive", ErrConfig)
	case c.LoginUserMax > 0 && c.LoginUserWindow <= 0:
		return fmt.Errorf("%w: AUTHMS_LOGIN_USER_WINDOW must be positive", ErrConfig)
	case c.OTPRequestMax > 0 && c.OTPRequestWindow <= 0:
		return fmt.Errorf("%w: AUTHMS_OTP_REQUEST_WINDOW must be positive", ErrConfig)
	}
	return nil
}

// Key joins the parts of a limiter key.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}
