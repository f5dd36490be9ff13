// Package gateway turns a username and password into session credentials.
//
// Only accounts with at least one verified channel are admitted.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/puse45/auth-ms/cmd/account"
	"github.com/puse45/auth-ms/cmd/internal/auth/session"
	"github.com/puse45/auth-ms/cmd/internal/metrics"
	"github.com/puse45/auth-ms/cmd/security/password"
)

// ErrInvalidCredentials covers an unknown username, a wrong password and an
// archived account.
var ErrInvalidCredentials = errors.New("invalid credentials")

// UnverifiedError rejects a correct login for an account with no verified channel.
type UnverifiedError struct {
	Kinds []account.Kind
}

func (e UnverifiedError) Error() string {
	return "account has no verified channel"
}

// Message names the unverified channels and how to fix them.
func (e UnverifiedError) Message() string {
	if len(e.Kinds) == 0 {
		return "Your account is not verified. Add an email or phone number and request an OTP to verify it."
	}
	labels := make([]string, 0, len(e.Kinds))
	for _, k := range e.Kinds {
		labels = append(labels, k.Label())
	}
	return fmt.Sprintf("%s not verified. Request an OTP to verify your account.", strings.Join(labels, " and "))
}

// IsUnverified reports whether err is an UnverifiedError.
func IsUnverified(err error) bool {
	var ue UnverifiedError
	return errors.As(err, &ue)
}

// Sessions issues credentials for an admitted account.
type Sessions interface {
	IssueSession(ctx context.Context, now time.Time, acc account.Account, dev session.DeviceContext) (session.Issued, error)
}

// Credential is the result of a successful login.
type Credential struct {
	Account account.Account
	Session session.Issued
}

type Gateway struct {
	store    account.Store
	sessions Sessions
	pw       password.Config
	log      *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	dummyHash string
}

type Option func(*Gateway)

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

func New(store account.Store, sessions Sessions, pw password.Config, log *slog.Logger, opts ...Option) (*Gateway, error) {
	if store == nil || sessions == nil {
		return nil, errors.New("gateway: store and sessions are required")
	}
	if log == nil {
		log = slog.Default()
	}
	g := &Gateway{
		store:    store,
		sessions: sessions,
		pw:       pw,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	// Verified against on unknown usernames so both paths cost one argon2 run.
	hash, err := pw.Hash("dummy-password-for-timing-only")
	if err != nil {
		return nil, fmt.Errorf("gateway: dummy hash: %w", err)
	}
	g.dummyHash = hash
	return g, nil
}

// Authenticate checks the password, applies the verified gate and issues
// credentials. Errors are ErrInvalidCredentials, UnverifiedError or internal.
func (g *Gateway) Authenticate(ctx context.Context, username, pw string, dev session.DeviceContext) (Credential, error) {
	username = strings.TrimSpace(username)
	if username == "" || pw == "" {
		g.metrics.Login("invalid")
		return Credential{}, ErrInvalidCredentials
	}

	acc, hash, err := g.store.LookupLogin(ctx, username)
	if err != nil {
		if account.IsNotFound(err) {
			_, _ = g.pw.Verify(g.dummyHash, pw)
			g.metrics.Login("invalid")
			return Credential{}, ErrInvalidCredentials
		}
		return Credential{}, err
	}

	ok, err := g.pw.Verify(hash, pw)
	if err != nil {
		g.log.Warn("gateway.login.hash.fail", "err", err, "account_id", acc.ID)
	}
	if err != nil || !ok || acc.Archived {
		g.metrics.Login("invalid")
		return Credential{}, ErrInvalidCredentials
	}

	if g.pw.NeedsRehash(hash) {
		g.rehash(ctx, acc.ID, pw)
	}

	return g.Admit(ctx, acc, dev)
}

// Admit applies the verified gate to an already-authenticated account, records
// the login and issues credentials. SSO logins enter here.
func (g *Gateway) Admit(ctx context.Context, acc account.Account, dev session.DeviceContext) (Credential, error) {
	if acc.Archived {
		g.metrics.Login("invalid")
		return Credential{}, ErrInvalidCredentials
	}
	if !acc.HasVerifiedChannel() {
		g.metrics.Login("unverified")
		return Credential{}, UnverifiedError{Kinds: acc.UnverifiedKinds()}
	}

	now := g.now()
	if err := g.store.TouchLastLogin(ctx, acc.ID, now); err != nil {
		return Credential{}, err
	}
	acc.LastLogin = &now

	issued, err := g.sessions.IssueSession(ctx, now, acc, dev)
	if err != nil {
		return Credential{}, err
	}
	g.metrics.Login("ok")
	return Credential{Account: acc, Session: issued}, nil
}

func (g *Gateway) rehash(ctx context.Context, accountID, pw string) {
	hash, err := g.pw.Hash(pw)
	if err != nil {
		g.log.Warn("gateway.login.rehash.fail", "err", err, "account_id", accountID)
		return
	}
	if err := g.store.SetPassword(ctx, accountID, hash, g.now()); err != nil {
		g.log.Warn("gateway.login.rehash.fail", "err", err, "account_id", accountID)
	}
}
