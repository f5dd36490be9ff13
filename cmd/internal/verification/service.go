// Package verification runs the one-time-code lifecycle of a channel: issue a
// code, hand it to dispatch, and check a submitted code exactly once.
package verification

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/puse45/auth-ms/cmd/account"
	"github.com/puse45/auth-ms/cmd/internal/dispatch"
	"github.com/puse45/auth-ms/cmd/internal/metrics"
	"github.com/puse45/auth-ms/cmd/security/otp"
)

var (
	// ErrInvalidOrExpiredCode covers a wrong code, an expired code, a missing
	// code and a code issued for the other mode. Callers cannot tell them apart.
	ErrInvalidOrExpiredCode = errors.New("invalid or expired code")
	// ErrAlreadyVerified is reported by request handlers that find the
	// channel verified before issuing or checking a code. Check never returns
	// it: a guard failure is an ErrInvalidOrExpiredCode like any other.
	ErrAlreadyVerified = errors.New("channel already verified")
)

// Enqueuer accepts outbound messages without waiting for delivery.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg dispatch.Message) error
}

// Issued reports the outcome of Issue.
type Issued struct {
	Channel account.Channel
	// Skipped is set when the channel is verified and no reset was requested:
	// nothing was stored and nothing was sent.
	Skipped bool
	// Enqueued is false when the dispatch queue rejected the message.
	Enqueued bool
}

type Service struct {
	store    account.Store
	queue    Enqueuer
	log      *slog.Logger
	metrics  *metrics.Metrics
	cfg      Config
	now      func() time.Time
	generate func(n int) (string, error)
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithGenerator replaces the code generator (tests).
func WithGenerator(fn func(n int) (string, error)) Option {
	return func(s *Service) {
		if fn != nil {
			s.generate = fn
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(store account.Store, queue Enqueuer, cfg Config, log *slog.Logger, opts ...Option) *Service {
	if log == nil {
		log = slog.Default()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = otp.DefaultLength
	}
	s := &Service{
		store:    store,
		queue:    queue,
		log:      log,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		generate: otp.Generate,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// TTL is how long an issued code stays valid.
func (s *Service) TTL() time.Duration { return s.cfg.TTL }

// Normalize canonicalizes a client-supplied address for kind.
func (s *Service) Normalize(kind account.Kind, address string) (string, error) {
	return account.NormalizeAddress(kind, address, s.cfg.PhoneRegion)
}

// Issue stores a fresh code on the channel and queues it for delivery. A
// verified channel only gets a code when resetMode is set; otherwise Issue is a
// no-op reported as Skipped. Issuing replaces any outstanding code.
func (s *Service) Issue(ctx context.Context, kind account.Kind, address string, resetMode bool) (Issued, error) {
	addr, err := s.Normalize(kind, address)
	if err != nil {
		return Issued{}, err
	}

	var (
		skipped bool
		code    string
	)
	ch, err := s.store.UpdateChannel(ctx, kind, addr, func(ch *account.Channel) error {
		if ch.IsVerified && !resetMode {
			skipped = true
			return nil
		}
		c, err := s.generate(s.cfg.CodeLength)
		if err != nil {
			return fmt.Errorf("verification: generate code: %w", err)
		}
		now := s.now()
		code = c
		ch.Code = c
		ch.IssuedAt = &now
		ch.IsResetMode = resetMode
		return nil
	})
	if err != nil {
		if account.IsNotFound(err) {
			return Issued{}, fmt.Errorf("verification: issue: %w", account.ErrAccountNotRegistered)
		}
		return Issued{}, err
	}

	if skipped {
		s.metrics.CodeIssued(string(kind), resetMode, "skipped")
		return Issued{Channel: ch, Skipped: true}, nil
	}
	s.metrics.CodeIssued(string(kind), resetMode, "issued")

	out := Issued{Channel: ch, Enqueued: true}
	if err := s.queue.Enqueue(ctx, BuildMessage(kind, addr, code, s.cfg.TTL, resetMode)); err != nil {
		out.Enqueued = false
		s.log.Warn("verification.issue.enqueue.fail", "err", err, "kind", string(kind), "channel_id", ch.ID)
	}
	return out, nil
}

// Check consumes code if it is current, unexpired and issued for the requested
// mode. A normal check needs an unverified channel with no reset outstanding; a
// reset check needs the channel unverified or in reset mode. On success the
// channel is verified, reset mode is cleared and the code is discarded. Any
// failure leaves the channel untouched.
func (s *Service) Check(ctx context.Context, kind account.Kind, address, code string, resetMode bool) (account.Channel, error) {
	return s.CheckThen(ctx, kind, address, code, resetMode, nil)
}

// CheckThen is Check with then run inside the same transaction once the code
// has been accepted. An error from then rolls the check back and leaves the
// code usable.
func (s *Service) CheckThen(ctx context.Context, kind account.Kind, address, code string, resetMode bool, then account.ChannelHook) (account.Channel, error) {
	addr, err := s.Normalize(kind, address)
	if err != nil {
		return account.Channel{}, err
	}

	ch, err := s.store.UpdateChannelThen(ctx, kind, addr, func(ch *account.Channel) error {
		if !guard(*ch, resetMode) || ch.Code == "" || ch.Expired(s.now(), s.cfg.TTL) {
			return ErrInvalidOrExpiredCode
		}
		if subtle.ConstantTimeCompare([]byte(code), []byte(ch.Code)) != 1 {
			return ErrInvalidOrExpiredCode
		}
		ch.IsVerified = true
		ch.IsResetMode = false
		ch.Code = ""
		return nil
	}, then)
	switch {
	case err == nil:
		s.metrics.CodeChecked(string(kind), resetMode, "ok")
		return ch, nil
	case account.IsNotFound(err):
		s.metrics.CodeChecked(string(kind), resetMode, "not_registered")
		return account.Channel{}, fmt.Errorf("verification: check: %w", account.ErrAccountNotRegistered)
	case errors.Is(err, ErrInvalidOrExpiredCode):
		s.metrics.CodeChecked(string(kind), resetMode, "invalid")
		return account.Channel{}, err
	default:
		return account.Channel{}, err
	}
}

func guard(ch account.Channel, resetMode bool) bool {
	if resetMode {
		return !ch.IsVerified || ch.IsResetMode
	}
	return !ch.IsVerified && !ch.IsResetMode
}

// BuildMessage renders the delivery text for a code.
func BuildMessage(kind account.Kind, address, code string, ttl time.Duration, resetMode bool) dispatch.Message {
	minutes := int(ttl / time.Minute)
	if minutes < 1 {
		minutes = 1
	}

	msg := dispatch.Message{Kind: kind, Address: address, Purpose: dispatch.PurposeVerify}
	if resetMode {
		msg.Purpose = dispatch.PurposeReset
		msg.Subject = "Password Reset"
		msg.Body = fmt.Sprintf("Your password reset code is %s. It will be active for the next %d minutes.", code, minutes)
		return msg
	}
	msg.Subject = "Email Confirmation"
	msg.Body = fmt.Sprintf("Your activation code is %s. It will be active for the next %d minutes.", code, minutes)
	return msg
}
