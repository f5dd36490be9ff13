package verification

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/puse45/auth-ms/cmd/security/otp"
)

var ErrConfig = errors.New("verification: invalid config")

type Config struct {
	TTL         time.Duration `env:"AUTHMS_OTP_TTL" envDefault:"5m"`
	CodeLength  int           `env:"AUTHMS_OTP_LENGTH" envDefault:"6"`
	PhoneRegion string        `env:"AUTHMS_PHONE_DEFAULT_REGION" envDefault:"KE"`
}

func DefaultConfig() Config {
	return Config{TTL: 5 * time.Minute, CodeLength: otp.DefaultLength, PhoneRegion: "KE"}
}

func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if cfg.TTL <= 0 {
		return Config{}, fmt.Errorf("%w: AUTHMS_OTP_TTL must be positive", ErrConfig)
	}
	if cfg.CodeLength < 4 || cfg.CodeLength > otp.MaxLength {
		return Config{}, fmt.Errorf("%w: AUTHMS_OTP_LENGTH must be in [4..%d]", ErrConfig, otp.MaxLength)
	}
	return cfg, nil
}
