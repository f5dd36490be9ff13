package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// The expiry is set only by the first hit so the window never slides.
var fixedWindow = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {n, redis.call('PTTL', KEYS[1])}
`)

// Redis is a fixed-window limiter shared by every instance using the same server.
type Redis struct {
	client redis.Scripter
	prefix string
}

func NewRedis(client redis.Scripter, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// NewRedisClient parses a redis:// or rediss:// URL.
func NewRedisClient(rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second
	opts.ConnMaxIdleTime = 5 * time.Minute
	return redis.NewClient(opts), nil
}

func (l *Redis) Allow(ctx context.Context, key string, limit int, win time.Duration) (Decision, error) {
	if limit <= 0 || win <= 0 {
		return Decision{Allowed: true}, nil
	}
	if l == nil || l.client == nil {
		return Decision{}, errors.New("ratelimit: redis limiter not initialized")
	}

	res, err := fixedWindow.Run(ctx, l.client, []string{l.prefix + key}, win.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: redis: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("ratelimit: redis: unexpected reply %v", res)
	}

	count := int(res[0])
	if count > limit {
		retry := time.Duration(res[1]) * time.Millisecond
		if retry < 0 {
			retry = win
		}
		return Decision{Allowed: false, Count: count, RetryAfter: retry}, nil
	}
	return Decision{Allowed: true, Count: count}, nil
}
