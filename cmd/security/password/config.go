package password

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/caarlos0/env/v11"
)

// Argon2idParams controls Argon2id hashing cost. MemoryKiB is in KiB as argon2.IDKey expects.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy is the password acceptance policy applied on register, reset and change.
type Policy struct {
	MinLength      int
	MaxLength      int
	RejectVeryWeak bool
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig returns the production baseline.
func DefaultConfig() Config {
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4].
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength:      8,
			MaxLength:      256,
			RejectVeryWeak: true,
		},
	}
}

// envConfig mirrors Config for env decoding. Fields left unset keep the defaults.
type envConfig struct {
	MinLen         int    `env:"AUTHMS_PASSWORD_MIN_LEN"`
	MaxLen         int    `env:"AUTHMS_PASSWORD_MAX_LEN"`
	RejectVeryWeak bool   `env:"AUTHMS_PASSWORD_REJECT_VERY_WEAK"`
	MemoryKiB      uint32 `env:"AUTHMS_ARGON2_MEMORY_KIB"`
	Iterations     uint32 `env:"AUTHMS_ARGON2_ITERATIONS"`
	Parallelism    uint8  `env:"AUTHMS_ARGON2_PARALLELISM"`
	SaltLen        uint32 `env:"AUTHMS_ARGON2_SALT_LEN"`
	KeyLen         uint32 `env:"AUTHMS_ARGON2_KEY_LEN"`
}

// FromEnv loads config from AUTHMS_PASSWORD_* and AUTHMS_ARGON2_* on top of DefaultConfig.
func FromEnv() (Config, error) {
	def := DefaultConfig()
	raw := envConfig{
		MinLen:         def.Policy.MinLength,
		MaxLen:         def.Policy.MaxLength,
		RejectVeryWeak: def.Policy.RejectVeryWeak,
		MemoryKiB:      def.Params.MemoryKiB,
		Iterations:     def.Params.Iterations,
		Parallelism:    def.Params.Parallelism,
		SaltLen:        def.Params.SaltLength,
		KeyLen:         def.Params.KeyLength,
	}
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("password env: %w", err)
	}

	var errs []error
	check := func(name string, v, lo, hi uint64) {
		if v < lo || v > hi {
			errs = append(errs, fmt.Errorf("%s: %d out of range [%d..%d]", name, v, lo, hi))
		}
	}
	if raw.MinLen < 1 || raw.MaxLen < 1 {
		errs = append(errs, errors.New("password length bounds must be positive"))
	} else {
		check("AUTHMS_PASSWORD_MIN_LEN", uint64(raw.MinLen), 1, 1024)
		check("AUTHMS_PASSWORD_MAX_LEN", uint64(raw.MaxLen), 1, 4096)
	}
	check("AUTHMS_ARGON2_MEMORY_KIB", uint64(raw.MemoryKiB), 8*1024, 1024*1024)
	check("AUTHMS_ARGON2_ITERATIONS", uint64(raw.Iterations), 1, 20)
	check("AUTHMS_ARGON2_PARALLELISM", uint64(raw.Parallelism), 1, 64)
	check("AUTHMS_ARGON2_SALT_LEN", uint64(raw.SaltLen), 8, 64)
	check("AUTHMS_ARGON2_KEY_LEN", uint64(raw.KeyLen), 16, 64)
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}

	if raw.MinLen > raw.MaxLen {
		return Config{}, fmt.Errorf("invalid password policy: min (%d) > max (%d)", raw.MinLen, raw.MaxLen)
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   raw.MemoryKiB,
			Iterations:  raw.Iterations,
			Parallelism: raw.Parallelism,
			SaltLength:  raw.SaltLen,
			KeyLength:   raw.KeyLen,
		},
		Policy: Policy{
			MinLength:      raw.MinLen,
			MaxLength:      raw.MaxLen,
			RejectVeryWeak: raw.RejectVeryWeak,
		},
	}, nil
}
