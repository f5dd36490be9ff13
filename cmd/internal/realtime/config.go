package realtime

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

var ErrConfig = errors.New("realtime: invalid config")

type Config struct {
	OriginRequired bool     `env:"AUTHMS_WS_ORIGIN_REQUIRED" envDefault:"true"`
	AllowedOrigins []string `env:"AUTHMS_WS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost,http://127.0.0.1"`

	WriteTimeout    time.Duration `env:"AUTHMS_WS_WRITE_TIMEOUT" envDefault:"5s"`
	ReadIdleTimeout time.Duration `env:"AUTHMS_WS_READ_IDLE_TIMEOUT" envDefault:"2m"`
	SendQueueSize   int           `env:"AUTHMS_WS_SEND_QUEUE" envDefault:"64"`

	HeartbeatInterval time.Duration `env:"AUTHMS_WS_HEARTBEAT_INTERVAL" envDefault:"25s"`
	HeartbeatTimeout  time.Duration `env:"AUTHMS_WS_HEARTBEAT_TIMEOUT" envDefault:"5s"`

	RateEvents int           `env:"AUTHMS_WS_RATE_EVENTS" envDefault:"30"`
	RateWindow time.Duration `env:"AUTHMS_WS_RATE_WINDOW" envDefault:"10s"`
}

func DefaultConfig() Config {
	return Config{
		OriginRequired:    true,
		AllowedOrigins:    []string{"http://localhost", "http://127.0.0.1"},
		WriteTimeout:      5 * time.Second,
		ReadIdleTimeout:   2 * time.Minute,
		SendQueueSize:     64,
		HeartbeatInterval: heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
		RateEvents:        rateLimitEvents,
		RateWindow:        rateLimitWindow,
	}
}

func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	var origins []string
	for _, o := range cfg.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	cfg.AllowedOrigins = origins

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.WriteTimeout <= 0 || c.ReadIdleTimeout <= 0:
		return fmt.Errorf("%w: websocket timeouts must be positive", ErrConfig)
	case c.HeartbeatInterval <= 0 || c.HeartbeatTimeout <= 0:
		return fmt.Errorf("%w: heartbeat settings must be positive", ErrConfig)
	case c.SendQueueSize < 1:
		return fmt.Errorf("%w: AUTHMS_WS_SEND_QUEUE must be positive", ErrConfig)
	case c.RateEvents < 1 || c.RateWindow <= 0:
		return fmt.Errorf("%w: websocket rate limit must be positive", ErrConfig)
	}
	return nil
}
