package sso

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

var ErrConfig = errors.New("sso: invalid config")

// Config describes one OAuth2 authorization-code provider with an OpenID-style
// userinfo endpoint. The provider is disabled when ClientID is empty.
type Config struct {
	Name         string        `env:"AUTHMS_SSO_PROVIDER" envDefault:"google"`
	ClientID     string        `env:"AUTHMS_SSO_CLIENT_ID"`
	ClientSecret string        `env:"AUTHMS_SSO_CLIENT_SECRET"`
	AuthURL      string        `env:"AUTHMS_SSO_AUTH_URL" envDefault:"https://accounts.google.com/o/oauth2/v2/auth"`
	TokenURL     string        `env:"AUTHMS_SSO_TOKEN_URL" envDefault:"https://oauth2.googleapis.com/token"`
	UserInfoURL  string        `env:"AUTHMS_SSO_USERINFO_URL" envDefault:"https://openidconnect.googleapis.com/v1/userinfo"`
	RedirectURL  string        `env:"AUTHMS_SSO_REDIRECT_URL"`
	Scopes       []string      `env:"AUTHMS_SSO_SCOPES" envSeparator:"," envDefault:"openid,email,profile"`
	StateTTL     time.Duration `env:"AUTHMS_SSO_STATE_TTL" envDefault:"10m"`
	HTTPTimeout  time.Duration `env:"AUTHMS_SSO_HTTP_TIMEOUT" envDefault:"10s"`
}

// Enabled reports whether a client id is configured.
func (c Config) Enabled() bool { return strings.TrimSpace(c.ClientID) != "" }

func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	cfg.Name = strings.ToLower(strings.TrimSpace(cfg.Name))

	var scopes []string
	for _, s := range cfg.Scopes {
		if s = strings.TrimSpace(s); s != "" {
			scopes = append(scopes, s)
		}
	}
	cfg.Scopes = scopes

	if !cfg.Enabled() {
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: AUTHMS_SSO_PROVIDER is required", ErrConfig)
	}
	if strings.TrimSpace(c.ClientSecret) == "" {
		return fmt.Errorf("%w: AUTHMS_SSO_CLIENT_SECRET is required", ErrConfig)
	}
	for name, raw := range map[string]string{
		"AUTHMS_SSO_AUTH_URL":     c.AuthURL,
		"AUTHMS_SSO_TOKEN_URL":    c.TokenURL,
		"AUTHMS_SSO_USERINFO_URL": c.UserInfoURL,
		"AUTHMS_SSO_REDIRECT_URL": c.RedirectURL,
	} {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: %s must be an absolute url", ErrConfig, name)
		}
	}
	if c.StateTTL <= 0 {
		return fmt.Errorf("%w: AUTHMS_SSO_STATE_TTL must be positive", ErrConfig)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("%w: AUTHMS_SSO_HTTP_TIMEOUT must be positive", ErrConfig)
	}
	return nil
}
