package app

import (
	"errors"
	"fmt"

	"github.com/puse45/auth-ms/cmd/security/token"
)

// ValidateSecurityConfig enforces the token hashing policy at startup. When
// RequireTokenHMAC is set the process refuses to start on plain SHA-256
// refresh-token hashing.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}

	if _, err := token.HMACKeyFromEnv(32); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return fmt.Errorf("%w: AUTHMS_REQUIRE_TOKEN_HMAC=true but %s is missing", ErrConfig, token.HMACEnvKey)
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return fmt.Errorf("%w: AUTHMS_REQUIRE_TOKEN_HMAC=true but %s is shorter than 32 bytes", ErrConfig, token.HMACEnvKey)
		default:
			return err
		}
	}

	if !token.HMACEnabled() {
		return fmt.Errorf("%w: AUTHMS_REQUIRE_TOKEN_HMAC=true but the token hasher is not in HMAC mode", ErrConfig)
	}
	return nil
}
