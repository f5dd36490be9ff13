package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Token formats accepted by AUTHMS_TOKEN_FORMAT.
const (
	FormatJWT    = "jwt"
	FormatPaseto = "paseto"
)

// MinJWTSecretBytes is the shortest HS256 secret accepted.
const MinJWTSecretBytes = 32

// Config defines the runtime configuration of the session subsystem.
type Config struct {
	// Issuer is the value set in the "iss" claim of access tokens.
	Issuer string `env:"AUTHMS_AUTH_ISSUER" envDefault:"authms"`

	AccessTokenTTL time.Duration `env:"AUTHMS_AUTH_ACCESS_TTL" envDefault:"15m"`

	// Refresh token TTL policies per platform.
	RefreshTTLWeb         time.Duration `env:"AUTHMS_AUTH_REFRESH_TTL_WEB" envDefault:"168h"`
	RefreshTTLNative      time.Duration `env:"AUTHMS_AUTH_REFRESH_TTL_NATIVE" envDefault:"1440h"`
	RefreshTTLNativeShort time.Duration `env:"AUTHMS_AUTH_REFRESH_TTL_NATIVE_SHORT" envDefault:"336h"`

	// ClockSkew is tolerated when validating access tokens.
	ClockSkew time.Duration `env:"AUTHMS_AUTH_CLOCK_SKEW" envDefault:"30s"`

	// RefreshTokenBytes is the entropy of opaque refresh tokens.
	RefreshTokenBytes int `env:"AUTHMS_AUTH_REFRESH_TOKEN_BYTES" envDefault:"32"`

	// TokenFormat selects the access-token implementation.
	TokenFormat string `env:"AUTHMS_TOKEN_FORMAT" envDefault:"jwt"`

	JWTSecret string `env:"AUTHMS_JWT_SECRET"`

	// PasetoV4SecretKeyHex is the hex-encoded Ed25519 secret key used to sign
	// PASETO v4.public access tokens.
	PasetoV4SecretKeyHex string `env:"AUTHMS_PASETO_V4_SECRET_KEY_HEX"`
}

// DefaultConfig returns development defaults. No signing secret is set.
func DefaultConfig() Config {
	return Config{
		Issuer:                "authms",
		AccessTokenTTL:        15 * time.Minute,
		RefreshTTLWeb:         7 * 24 * time.Hour,
		RefreshTTLNative:      60 * 24 * time.Hour,
		RefreshTTLNativeShort: 14 * 24 * time.Hour,
		ClockSkew:             30 * time.Second,
		RefreshTokenBytes:     32,
		TokenFormat:           FormatJWT,
	}
}

// LoadConfigFromEnv loads session configuration from AUTHMS_* variables.
// The signing secret for the selected token format is required.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	cfg.TokenFormat = strings.ToLower(strings.TrimSpace(cfg.TokenFormat))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks durations, entropy and that the selected format has a key.
func (c Config) Validate() error {
	switch {
	case c.AccessTokenTTL <= 0, c.RefreshTTLWeb <= 0, c.RefreshTTLNative <= 0, c.RefreshTTLNativeShort <= 0:
		return fmt.Errorf("%w: token lifetimes must be positive", ErrConfig)
	case c.ClockSkew < 0:
		return fmt.Errorf("%w: clock skew must not be negative", ErrConfig)
	case c.RefreshTokenBytes < 32 || c.RefreshTokenBytes > 64:
		return fmt.Errorf("%w: refresh token bytes must be within 32..64", ErrConfig)
	case c.RefreshTTLNative < c.RefreshTTLNativeShort:
		// Native "short" must not exceed native "long".
		return fmt.Errorf("%w: native refresh ttl is shorter than the short variant", ErrConfig)
	}

	switch c.TokenFormat {
	case FormatJWT:
		if len(c.JWTSecret) < MinJWTSecretBytes {
			return fmt.Errorf("%w: AUTHMS_JWT_SECRET must be at least %d bytes", ErrConfig, MinJWTSecretBytes)
		}
	case FormatPaseto:
		if strings.TrimSpace(c.PasetoV4SecretKeyHex) == "" {
			return fmt.Errorf("%w: AUTHMS_PASETO_V4_SECRET_KEY_HEX is required", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown token format %q", ErrConfig, c.TokenFormat)
	}
	return nil
}
