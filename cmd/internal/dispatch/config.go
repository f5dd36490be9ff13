package dispatch

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

var ErrConfig = errors.New("dispatch: invalid config")

type Config struct {
	QueueSize   int           `env:"AUTHMS_DISPATCH_QUEUE_SIZE" envDefault:"256"`
	Workers     int           `env:"AUTHMS_DISPATCH_WORKERS" envDefault:"4"`
	MaxAttempts int           `env:"AUTHMS_DISPATCH_MAX_ATTEMPTS" envDefault:"3"`
	RetryDelay  time.Duration `env:"AUTHMS_DISPATCH_RETRY_DELAY" envDefault:"60s"`
	SendTimeout time.Duration `env:"AUTHMS_DISPATCH_SEND_TIMEOUT" envDefault:"15s"`

	// DryRun forces the log sender for every kind.
	DryRun bool `env:"AUTHMS_DISPATCH_DRY_RUN" envDefault:"false"`
	// DryRunShowBody includes message bodies (and so codes) in dry-run logs. Local use only.
	DryRunShowBody bool `env:"AUTHMS_DISPATCH_DRY_RUN_SHOW_BODY" envDefault:"false"`

	SMTP  SMTPConfig
	SMS   SMSConfig
	Kafka KafkaConfig
}

type SMTPConfig struct {
	Host     string `env:"AUTHMS_SMTP_HOST"`
	Port     int    `env:"AUTHMS_SMTP_PORT" envDefault:"587"`
	Username string `env:"AUTHMS_SMTP_USERNAME"`
	Password string `env:"AUTHMS_SMTP_PASSWORD"`
	From     string `env:"AUTHMS_SMTP_FROM" envDefault:"no-reply@localhost"`
}

// Enabled reports whether an SMTP relay is configured.
func (c SMTPConfig) Enabled() bool { return strings.TrimSpace(c.Host) != "" }

type SMSConfig struct {
	URL    string `env:"AUTHMS_SMS_URL" envDefault:"https://api.mobizon.kz/service/message/sendsmsmessage"`
	APIKey string `env:"AUTHMS_SMS_API_KEY"`
	Sender string `env:"AUTHMS_SMS_SENDER"`
}

// Enabled reports whether an SMS provider key is configured.
func (c SMSConfig) Enabled() bool {
	k := strings.TrimSpace(c.APIKey)
	return k != "" && k != "dry-run"
}

type KafkaConfig struct {
	Brokers []string `env:"AUTHMS_KAFKA_BROKERS" envSeparator:","`
	Topic   string   `env:"AUTHMS_KAFKA_TOPIC" envDefault:"authms.dispatch"`
	GroupID string   `env:"AUTHMS_KAFKA_GROUP_ID" envDefault:"authms-dispatch"`
}

// Enabled reports whether Kafka is the queue transport.
func (c KafkaConfig) Enabled() bool { return len(c.Brokers) > 0 }

func DefaultConfig() Config {
	return Config{
		QueueSize:   256,
		Workers:     4,
		MaxAttempts: 3,
		RetryDelay:  60 * time.Second,
		SendTimeout: 15 * time.Second,
		SMTP:        SMTPConfig{Port: 587, From: "no-reply@localhost"},
		SMS:         SMSConfig{URL: "https://api.mobizon.kz/service/message/sendsmsmessage"},
		Kafka:       KafkaConfig{Topic: "authms.dispatch", GroupID: "authms-dispatch"},
	}
}

func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	var brokers []string
	for _, b := range cfg.Kafka.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	cfg.Kafka.Brokers = brokers

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.QueueSize < 1 || c.QueueSize > 1<<16:
		return fmt.Errorf("%w: AUTHMS_DISPATCH_QUEUE_SIZE out of range", ErrConfig)
	case c.Workers < 1 || c.Workers > 256:
		return fmt.Errorf("%w: AUTHMS_DISPATCH_WORKERS out of range", ErrConfig)
	case c.MaxAttempts < 1 || c.MaxAttempts > 20:
		return fmt.Errorf("%w: AUTHMS_DISPATCH_MAX_ATTEMPTS out of range", ErrConfig)
	case c.RetryDelay < 0:
		return fmt.Errorf("%w: AUTHMS_DISPATCH_RETRY_DELAY must not be negative", ErrConfig)
	case c.SendTimeout <= 0:
		return fmt.Errorf("%w: AUTHMS_DISPATCH_SEND_TIMEOUT must be positive", ErrConfig)
	case c.Kafka.Enabled() && (strings.TrimSpace(c.Kafka.Topic) == "" || strings.TrimSpace(c.Kafka.GroupID) == ""):
		return fmt.Errorf("%w: kafka topic and group id are required", ErrConfig)
	}
	return nil
}
