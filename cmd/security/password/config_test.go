package password

import (
	"os"
	"testing"
)

var envKeys = []string{
	"AUTHMS_PASSWORD_MIN_LEN",
	"AUTHMS_PASSWORD_MAX_LEN",
	"AUTHMS_PASSWORD_REJECT_VERY_WEAK",
	"AUTHMS_ARGON2_MEMORY_KIB",
	"AUTHMS_ARGON2_ITERATIONS",
	"AUTHMS_ARGON2_PARALLELISM",
	"AUTHMS_ARGON2_SALT_LEN",
	"AUTHMS_ARGON2_KEY_LEN",
}

// unsetEnv removes every password env var for the duration of the test.
func unsetEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
		_ = os.Unsetenv(k)
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	unsetEnv(t)

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}

	def := DefaultConfig()
	if cfg != def {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
	if cfg.Policy.MinLength != 8 {
		t.Fatalf("expected min length 8, got %d", cfg.Policy.MinLength)
	}
}

func TestFromEnv_Override(t *testing.T) {
	unsetEnv(t)
	t.Setenv("AUTHMS_PASSWORD_MIN_LEN", "10")
	t.Setenv("AUTHMS_PASSWORD_MAX_LEN", "200")
	t.Setenv("AUTHMS_PASSWORD_REJECT_VERY_WEAK", "false")
	t.Setenv("AUTHMS_ARGON2_MEMORY_KIB", "32768")
	t.Setenv("AUTHMS_ARGON2_ITERATIONS", "4")
	t.Setenv("AUTHMS_ARGON2_PARALLELISM", "2")
	t.Setenv("AUTHMS_ARGON2_SALT_LEN", "24")
	t.Setenv("AUTHMS_ARGON2_KEY_LEN", "32")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}

	if cfg.Policy.MinLength != 10 || cfg.Policy.MaxLength != 200 || cfg.Policy.RejectVeryWeak {
		t.Fatalf("policy override failed: %+v", cfg.Policy)
	}
	if cfg.Params.MemoryKiB != 32768 || cfg.Params.Iterations != 4 || cfg.Params.Parallelism != 2 {
		t.Fatalf("argon2 override failed: %+v", cfg.Params)
	}
	if cfg.Params.SaltLength != 24 || cfg.Params.KeyLength != 32 {
		t.Fatalf("length override failed: %+v", cfg.Params)
	}
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"min above max", map[string]string{"AUTHMS_PASSWORD_MIN_LEN": "20", "AUTHMS_PASSWORD_MAX_LEN": "10"}},
		{"memory too small", map[string]string{"AUTHMS_ARGON2_MEMORY_KIB": "16"}},
		{"not a number", map[string]string{"AUTHMS_ARGON2_ITERATIONS": "many"}},
		{"zero parallelism", map[string]string{"AUTHMS_ARGON2_PARALLELISM": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unsetEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := FromEnv(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
