package api

import (
	"errors"
	"fmt"

	"github.com/caarlos0/env/v11"
)

var ErrConfig = errors.New("api: invalid config")

type Config struct {
	TrustProxy   bool  `env:"AUTHMS_TRUST_PROXY" envDefault:"false"`
	MaxBodyBytes int64 `env:"AUTHMS_MAX_BODY_BYTES" envDefault:"1048576"`
	// MaxListAccounts caps GET /auth/users for superusers.
	MaxListAccounts int `env:"AUTHMS_MAX_LIST_ACCOUNTS" envDefault:"500"`
}

func DefaultConfig() Config {
	return Config{MaxBodyBytes: 1 << 20, MaxListAccounts: 500}
}

func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.MaxBodyBytes <= 0:
		return fmt.Errorf("%w: AUTHMS_MAX_BODY_BYTES must be positive", ErrConfig)
	case c.MaxListAccounts <= 0:
		return fmt.Errorf("%w: AUTHMS_MAX_LIST_ACCOUNTS must be positive", ErrConfig)
	}
	return nil
}
