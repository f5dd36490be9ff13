// Package credentials replaces an account password, either through a reset
// code sent to a verified channel or voluntarily with the old password.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/puse45/auth-ms/cmd/account"
	"github.com/puse45/auth-ms/cmd/internal/auth/session"
	"github.com/puse45/auth-ms/cmd/internal/verification"
	"github.com/puse45/auth-ms/cmd/security/password"
)

// User-facing messages.
const (
	MsgInvalidPassword = "Invalid account password"
	MsgMismatch        = "Your passwords do not match"
	MsgSameAsOld       = "Your old password cannot be the same as the new password"
)

// Codes is the part of the verification service used here.
type Codes interface {
	Issue(ctx context.Context, kind account.Kind, address string, resetMode bool) (verification.Issued, error)
	CheckThen(ctx context.Context, kind account.Kind, address, code string, resetMode bool, then account.ChannelHook) (account.Channel, error)
}

// Revoker ends every session of an account.
type Revoker interface {
	RevokeAll(ctx context.Context, now time.Time, accountID, reason string) error
}

type Service struct {
	store    account.Store
	codes    Codes
	sessions Revoker
	pw       password.Config
	log      *slog.Logger
	now      func() time.Time
}

func NewService(store account.Store, codes Codes, sessions Revoker, pw password.Config, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:    store,
		codes:    codes,
		sessions: sessions,
		pw:       pw,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RequestReset issues a reset-mode code to the channel at address.
// An unknown address fails with account.ErrAccountNotRegistered.
func (s *Service) RequestReset(ctx context.Context, kind account.Kind, address string) (verification.Issued, error) {
	return s.codes.Issue(ctx, kind, address, true)
}

// ConfirmReset consumes a reset code and installs the new password in the same
// transaction, so a failed write leaves the code usable. Every session of the
// account is then revoked. Code failures are returned unchanged.
func (s *Service) ConfirmReset(ctx context.Context, kind account.Kind, address, code, p1, p2 string) error {
	if p1 != p2 {
		return account.Invalid("password2", MsgMismatch)
	}
	if err := s.pw.Validate(p1); err != nil {
		return account.Invalid("password1", s.pw.Explain(err))
	}
	hash, err := s.pw.Hash(p1)
	if err != nil {
		return fmt.Errorf("credentials: hash: %w", err)
	}

	now := s.now()
	ch, err := s.codes.CheckThen(ctx, kind, address, code, true, func(ctx context.Context, tx account.Tx, _, after account.Channel) error {
		if err := tx.SetPassword(ctx, after.AccountID, hash, now); err != nil {
			return fmt.Errorf("credentials: set password: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.sessions.RevokeAll(ctx, now, ch.AccountID, session.ReasonPasswordReset); err != nil {
		s.log.Error("credentials.reset.revoke.fail", "err", err, "account_id", ch.AccountID)
		return fmt.Errorf("credentials: revoke sessions: %w", err)
	}
	s.log.Info("credentials.reset.ok", "account_id", ch.AccountID, "kind", string(kind))
	return nil
}

// ChangePassword replaces the password of an authenticated account after
// checking the current one.
func (s *Service) ChangePassword(ctx context.Context, accountID, old, p1, p2 string) error {
	if old == "" {
		return account.Invalid("old_password", "This field may not be blank.")
	}

	current, err := s.store.PasswordHash(ctx, accountID)
	if err != nil {
		return err
	}
	ok, err := s.pw.Verify(current, old)
	if err != nil && !errors.Is(err, password.ErrInvalidHash) {
		return err
	}
	if !ok {
		return account.Invalid("old_password", MsgInvalidPassword)
	}

	if p1 != p2 {
		return account.Invalid("password2", MsgMismatch)
	}
	if old == p1 {
		return account.Invalid("old_password", MsgSameAsOld)
	}
	if err := s.pw.Validate(p1); err != nil {
		return account.Invalid("password1", s.pw.Explain(err))
	}

	hash, err := s.pw.Hash(p1)
	if err != nil {
		return fmt.Errorf("credentials: hash: %w", err)
	}
	if err := s.store.SetPassword(ctx, accountID, hash, s.now()); err != nil {
		return fmt.Errorf("credentials: set password: %w", err)
	}
	s.log.Info("credentials.change.ok", "account_id", accountID)
	return nil
}
