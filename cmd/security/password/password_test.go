package password

import (
	"errors"
	"testing"
)

// testConfig keeps Argon2 cheap so the suite stays fast.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func TestHashAndVerify_OK(t *testing.T) {
	t.Parallel()
	cfg := testConfig()

	h, err := cfg.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	ok, err := cfg.Verify(h, "correct horse battery")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatalf("expected match")
	}
	if cfg.NeedsRehash(h) {
		t.Fatalf("fresh hash should not need rehash")
	}
}

func TestVerify_WrongPassword(t *testing.T) {
	t.Parallel()
	cfg := testConfig()

	h, err := cfg.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	ok, err := cfg.Verify(h, "wrong horse battery")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatalf("expected mismatch")
	}
}

func TestVerify_InvalidHash(t *testing.T) {
	t.Parallel()
	cfg := testConfig()

	for _, h := range []string{"not-a-hash", "$argon2id$v=18$m=1,t=1,p=1$AAAA$AAAA", "$bcrypt$x$y$z$w"} {
		ok, err := cfg.Verify(h, "whatever")
		if !errors.Is(err, ErrInvalidHash) {
			t.Fatalf("Verify(%q): expected ErrInvalidHash, got %v", h, err)
		}
		if ok {
			t.Fatalf("Verify(%q): expected false", h)
		}
	}
}

func TestVerify_Unusable(t *testing.T) {
	t.Parallel()

	ok, err := testConfig().Verify(Unusable, "")
	if err != nil || ok {
		t.Fatalf("expected plain mismatch, got ok=%v err=%v", ok, err)
	}
}

func TestVerify_RejectsExpensiveHash(t *testing.T) {
	t.Parallel()

	strong := testConfig()
	strong.Params.Iterations = 5
	h, err := strong.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	weak := testConfig()
	if _, err := weak.Verify(h, "correct horse battery"); !errors.Is(err, ErrInvalidHash) {
		t.Fatalf("expected ErrInvalidHash for out-of-bounds cost, got %v", err)
	}
	if !weak.NeedsRehash(h) {
		t.Fatalf("expected NeedsRehash for different params")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Policy.MaxLength = 16

	tests := []struct {
		name string
		pw   string
		want error
	}{
		{"too short", "abc12", ErrPasswordTooShort},
		{"too long", "this password is far too long", ErrPasswordTooLong},
		{"numeric", "1234567890", ErrWeakPassword},
		{"repeated", "aaaaaaaa", ErrWeakPassword},
		{"common", "Password123", ErrWeakPassword},
		{"ok", "blue-kettle-9", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := cfg.Validate(tt.pw); !errors.Is(err, tt.want) {
				t.Fatalf("Validate(%q) = %v, want %v", tt.pw, err, tt.want)
			}
		})
	}
}

func TestValidate_WeakCheckDisabled(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Policy.RejectVeryWeak = false
	if err := cfg.Validate("12345678"); err != nil {
		t.Fatalf("expected ok with weak check disabled, got %v", err)
	}
}

func TestExplain(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	if got := cfg.Explain(ErrPasswordTooShort); got != "This password is too short. It must contain at least 8 characters." {
		t.Fatalf("unexpected message %q", got)
	}
	if got := cfg.Explain(ErrWeakPassword); got != "This password is too common." {
		t.Fatalf("unexpected message %q", got)
	}
	if cfg.Explain(nil) != "" {
		t.Fatalf("expected empty message for nil")
	}
}
