package session

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

var sessionEnvKeys = []string{
	"AUTHMS_AUTH_ISSUER",
	"AUTHMS_AUTH_ACCESS_TTL",
	"AUTHMS_AUTH_REFRESH_TTL_WEB",
	"AUTHMS_AUTH_REFRESH_TTL_NATIVE",
	"AUTHMS_AUTH_REFRESH_TTL_NATIVE_SHORT",
	"AUTHMS_AUTH_CLOCK_SKEW",
	"AUTHMS_AUTH_REFRESH_TOKEN_BYTES",
	"AUTHMS_TOKEN_FORMAT",
	"AUTHMS_JWT_SECRET",
	"AUTHMS_PASETO_V4_SECRET_KEY_HEX",
}

func unsetEnv(t *testing.T) {
	t.Helper()
	for _, k := range sessionEnvKeys {
		t.Setenv(k, "")
		_ = os.Unsetenv(k)
	}
}

const testJWTSecret = "0123456789abcdef0123456789abcdef"

func TestLoadConfigFromEnv_MissingJWTSecret(t *testing.T) {
	unsetEnv(t)

	_, err := LoadConfigFromEnv()
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig on missing secret, got %v", err)
	}
}

func TestLoadConfigFromEnv_ShortJWTSecret(t *testing.T) {
	unsetEnv(t)
	t.Setenv("AUTHMS_JWT_SECRET", "short")

	_, err := LoadConfigFromEnv()
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig on short secret, got %v", err)
	}
}

func TestLoadConfigFromEnv_PasetoNeedsKey(t *testing.T) {
	unsetEnv(t)
	t.Setenv("AUTHMS_TOKEN_FORMAT", "paseto")
	t.Setenv("AUTHMS_JWT_SECRET", testJWTSecret)

	_, err := LoadConfigFromEnv()
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig without paseto key, got %v", err)
	}
}

func TestLoadConfigFromEnv_Invalid(t *testing.T) {
	cases := []struct {
		name string
		key  string
		val  string
	}{
		{"negative access ttl", "AUTHMS_AUTH_ACCESS_TTL", "-5m"},
		{"unparseable ttl", "AUTHMS_AUTH_REFRESH_TTL_WEB", "soon"},
		{"small refresh bytes", "AUTHMS_AUTH_REFRESH_TOKEN_BYTES", "16"},
		{"negative skew", "AUTHMS_AUTH_CLOCK_SKEW", "-1s"},
		{"unknown format", "AUTHMS_TOKEN_FORMAT", "saml"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			unsetEnv(t)
			t.Setenv("AUTHMS_JWT_SECRET", testJWTSecret)
			t.Setenv(tc.key, tc.val)

			if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
				t.Fatalf("expected ErrConfig, got %v", err)
			}
		})
	}
}

func TestLoadConfigFromEnv_InvalidNativeTTLOrder(t *testing.T) {
	unsetEnv(t)
	t.Setenv("AUTHMS_JWT_SECRET", testJWTSecret)
	t.Setenv("AUTHMS_AUTH_REFRESH_TTL_NATIVE", "24h")
	t.Setenv("AUTHMS_AUTH_REFRESH_TTL_NATIVE_SHORT", "72h")

	if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for native ttl order, got %v", err)
	}
}

func TestLoadConfigFromEnv_Valid(t *testing.T) {
	unsetEnv(t)
	secret := paseto.NewV4AsymmetricSecretKey()
	t.Setenv("AUTHMS_TOKEN_FORMAT", " PASETO ")
	t.Setenv("AUTHMS_PASETO_V4_SECRET_KEY_HEX", secret.ExportHex())
	t.Setenv("AUTHMS_AUTH_ISSUER", "authms-test")
	t.Setenv("AUTHMS_AUTH_ACCESS_TTL", "10m")
	t.Setenv("AUTHMS_AUTH_REFRESH_TTL_WEB", "48h")
	t.Setenv("AUTHMS_AUTH_REFRESH_TTL_NATIVE", "720h")
	t.Setenv("AUTHMS_AUTH_REFRESH_TTL_NATIVE_SHORT", "168h")
	t.Setenv("AUTHMS_AUTH_CLOCK_SKEW", "20s")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TokenFormat != FormatPaseto {
		t.Fatalf("format mismatch: %q", cfg.TokenFormat)
	}
	if cfg.Issuer != "authms-test" {
		t.Fatalf("issuer mismatch: %q", cfg.Issuer)
	}
	if cfg.AccessTokenTTL != 10*time.Minute {
		t.Fatalf("access ttl mismatch: %v", cfg.AccessTokenTTL)
	}
	if cfg.RefreshTTLWeb != 48*time.Hour || cfg.RefreshTTLNative != 720*time.Hour || cfg.RefreshTTLNativeShort != 168*time.Hour {
		t.Fatalf("refresh ttl mismatch: %+v", cfg)
	}
	if cfg.ClockSkew != 20*time.Second {
		t.Fatalf("clock skew mismatch: %v", cfg.ClockSkew)
	}
	if cfg.RefreshTokenBytes != 32 {
		t.Fatalf("refresh token bytes mismatch: %d", cfg.RefreshTokenBytes)
	}
}

func TestDefaultConfig_NeedsSecret(t *testing.T) {
	t.Parallel()

	err := DefaultConfig().Validate()
	if err == nil || !strings.Contains(err.Error(), "AUTHMS_JWT_SECRET") {
		t.Fatalf("expected missing secret error, got %v", err)
	}
}
