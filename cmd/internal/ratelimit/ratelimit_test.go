package ratelimit

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestMemory_FixedWindow(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	l := NewMemory(func() time.Time { return now })
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		d, err := l.Allow(ctx, "login:ip:10.0.0.1", 3, time.Minute)
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !d.Allowed || d.Count != i {
			t.Fatalf("hit %d: %+v", i, d)
		}
	}

	now = now.Add(20 * time.Second)
	d, err := l.Allow(ctx, "login:ip:10.0.0.1", 3, time.Minute)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if d.Allowed {
		t.Fatalf("4th hit must be throttled")
	}
	if d.RetryAfter != 40*time.Second {
		t.Fatalf("RetryAfter = %s, want 40s", d.RetryAfter)
	}

	now = now.Add(40 * time.Second)
	d, _ = l.Allow(ctx, "login:ip:10.0.0.1", 3, time.Minute)
	if !d.Allowed || d.Count != 1 {
		t.Fatalf("new window: %+v", d)
	}
}

func TestMemory_KeysAreIndependent(t *testing.T) {
	t.Parallel()

	l := NewMemory(nil)
	ctx := context.Background()

	if d, _ := l.Allow(ctx, "a", 1, time.Minute); !d.Allowed {
		t.Fatalf("a first hit throttled")
	}
	if d, _ := l.Allow(ctx, "a", 1, time.Minute); d.Allowed {
		t.Fatalf("a second hit allowed")
	}
	if d, _ := l.Allow(ctx, "b", 1, time.Minute); !d.Allowed {
		t.Fatalf("b throttled by a")
	}
}

func TestMemory_DisabledLimit(t *testing.T) {
	t.Parallel()

	l := NewMemory(nil)
	for i := 0; i < 100; i++ {
		d, err := l.Allow(context.Background(), "k", 0, time.Minute)
		if err != nil || !d.Allowed {
			t.Fatalf("limit 0 must always allow: %+v %v", d, err)
		}
	}
}

func TestMemory_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMemory(nil).Allow(ctx, "k", 1, time.Minute); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("AUTHMS_REDIS_URL", " redis://localhost:6379/0 ")
	t.Setenv("AUTHMS_OTP_REQUEST_MAX", "5")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.RedisURL != "redis://localhost:6379/0" {
		t.Fatalf("RedisURL = %q", cfg.RedisURL)
	}
	if cfg.OTPRequestMax != 5 || cfg.OTPRequestWindow != 15*time.Minute {
		t.Fatalf("otp limits = %d/%s", cfg.OTPRequestMax, cfg.OTPRequestWindow)
	}

	t.Setenv("AUTHMS_LOGIN_USER_MAX", "-1")
	if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("err = %v, want ErrConfig", err)
	}
}

func TestRedis_FixedWindowIntegration(t *testing.T) {
	url := strings.TrimSpace(os.Getenv("AUTHMS_REDIS_URL"))
	if url == "" || testing.Short() {
		t.Skip("AUTHMS_REDIS_URL not set")
	}

	client, err := NewRedisClient(url)
	if err != nil {
		t.Fatalf("NewRedisClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	prefix := "authms:test:" + strconv.FormatInt(time.Now().UnixNano(), 36) + ":"
	l := NewRedis(client, prefix)
	t.Cleanup(func() { _ = client.Del(ctx, prefix+"k").Err() })

	for i := 1; i <= 2; i++ {
		d, err := l.Allow(ctx, "k", 2, time.Minute)
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !d.Allowed || d.Count != i {
			t.Fatalf("hit %d: %+v", i, d)
		}
	}
	d, err := l.Allow(ctx, "k", 2, time.Minute)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if d.Allowed || d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Fatalf("3rd hit: %+v", d)
	}
}
