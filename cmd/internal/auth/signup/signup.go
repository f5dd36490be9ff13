// Package signup creates accounts: self-registration with a password, and
// provisioning or linking of identities asserted by an SSO provider.
package signup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/puse45/auth-ms/cmd/account"
	"github.com/puse45/auth-ms/cmd/internal/verification"
	"github.com/puse45/auth-ms/cmd/security/password"
)

// MsgNeedChannel is returned when neither an email nor a phone number is given.
const MsgNeedChannel = "Please provide either a phone number or an email."

// MsgSSOEmailUnverified is returned when an SSO email matches an unverified
// address on an account that has proven a different channel.
const MsgSSOEmailUnverified = "This email address is not verified on its account. Verify it with a code before signing in with SSO."

// Issuer sends the first verification code to a new channel.
type Issuer interface {
	Issue(ctx context.Context, kind account.Kind, address string, resetMode bool) (verification.Issued, error)
}

// RegisterInput is a self-registration request. Addresses are raw client input.
type RegisterInput struct {
	Username    string
	Password    string
	Email       string
	PhoneNumber string
	IDNumber    string
	FirstName   string
	LastName    string
}

// Identity is an SSO assertion reduced to what provisioning needs.
type Identity struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	GivenName     string
	FamilyName    string
}

type Service struct {
	store  account.Store
	codes  Issuer
	pw     password.Config
	region string
	log    *slog.Logger
	now    func() time.Time
}

type Option func(*Service)

// WithRegion sets the default region for phone numbers without a country code.
func WithRegion(region string) Option {
	return func(s *Service) {
		if region != "" {
			s.region = region
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(store account.Store, codes Issuer, pw password.Config, log *slog.Logger, opts ...Option) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		store:  store,
		codes:  codes,
		pw:     pw,
		region: account.DefaultRegion,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Register creates an inactive account with its channels and sends a code to
// each of them. A failed send does not undo the registration.
func (s *Service) Register(ctx context.Context, in RegisterInput) (account.Account, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return account.Account{}, account.Invalid("username", "This field may not be blank.")
	}
	if in.Password == "" {
		return account.Account{}, account.Invalid("password", "This field may not be blank.")
	}

	var channels []account.NewChannel
	for _, c := range []struct {
		kind account.Kind
		raw  string
	}{
		{account.KindEmail, in.Email},
		{account.KindPhone, in.PhoneNumber},
	} {
		if strings.TrimSpace(c.raw) == "" {
			continue
		}
		addr, err := account.NormalizeAddress(c.kind, c.raw, s.region)
		if err != nil {
			return account.Account{}, err
		}
		channels = append(channels, account.NewChannel{Kind: c.kind, Address: addr})
	}
	if len(channels) == 0 {
		return account.Account{}, account.Invalid("non_field_errors", MsgNeedChannel)
	}

	if err := s.pw.Validate(in.Password); err != nil {
		return account.Account{}, account.Invalid("password", s.pw.Explain(err))
	}
	hash, err := s.pw.Hash(in.Password)
	if err != nil {
		return account.Account{}, fmt.Errorf("signup: hash: %w", err)
	}

	var idNumber *string
	if v := strings.TrimSpace(in.IDNumber); v != "" {
		idNumber = &v
	}

	acc, err := s.store.CreateAccount(ctx, account.CreateAccountInput{
		Username:     username,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		IDNumber:     idNumber,
		Channels:     channels,
		Now:          s.now(),
	})
	if err != nil {
		return account.Account{}, err
	}

	for _, ch := range channels {
		if _, err := s.codes.Issue(ctx, ch.Kind, ch.Address, false); err != nil {
			s.log.Warn("signup.register.issue.fail", "err", err, "account_id", acc.ID, "kind", string(ch.Kind))
		}
	}
	s.log.Info("signup.register.ok", "account_id", acc.ID)
	return acc, nil
}

// AttachChannel gives an existing account a new or replacement channel and
// sends it a code. Re-attaching the current address sends nothing new.
func (s *Service) AttachChannel(ctx context.Context, accountID string, kind account.Kind, raw string) (account.Channel, error) {
	addr, err := account.NormalizeAddress(kind, raw, s.region)
	if err != nil {
		return account.Channel{}, err
	}
	ch, err := s.store.AttachChannel(ctx, accountID, kind, addr, s.now())
	if err != nil {
		return account.Channel{}, err
	}
	if ch.IsVerified || ch.Code != "" {
		return ch, nil
	}
	if _, err := s.codes.Issue(ctx, kind, addr, false); err != nil {
		s.log.Warn("signup.attach.issue.fail", "err", err, "account_id", accountID, "kind", string(kind))
	}
	return ch, nil
}

// ProvisionSSO returns the account owning the asserted email, creating one
// when none exists. The provider vouches for the address, so the email channel
// is marked verified, which activates the account through the channel hooks.
// Provisioned accounts get an unusable password, and so do existing accounts
// that had nothing verified before the link.
func (s *Service) ProvisionSSO(ctx context.Context, id Identity) (account.Account, bool, error) {
	if !id.EmailVerified {
		return account.Account{}, false, account.Invalid("email", "The identity provider did not verify this email address.")
	}
	addr, err := account.NormalizeEmail(id.Email)
	if err != nil {
		return account.Account{}, false, err
	}

	created := false
	ch, err := s.store.FindChannel(ctx, account.KindEmail, addr)
	switch {
	case err == nil:
		if !ch.IsVerified {
			if err := s.claimUnverified(ctx, ch); err != nil {
				return account.Account{}, false, err
			}
		}
	case account.IsNotFound(err):
		acc, err := s.createSSOAccount(ctx, id, addr)
		if err != nil {
			return account.Account{}, false, err
		}
		created = true
		ch = *acc.Email
	default:
		return account.Account{}, false, err
	}

	if !ch.IsVerified || ch.IsResetMode || ch.Code != "" {
		if _, err := s.store.UpdateChannel(ctx, account.KindEmail, addr, func(c *account.Channel) error {
			c.IsVerified = true
			c.IsResetMode = false
			c.Code = ""
			return nil
		}); err != nil {
			return account.Account{}, false, fmt.Errorf("signup: verify sso email: %w", err)
		}
	}

	acc, err := s.store.GetAccount(ctx, ch.AccountID)
	if err != nil {
		return account.Account{}, false, err
	}
	s.log.Info("signup.sso.ok", "account_id", acc.ID, "provider", id.Provider, "created", created)
	return acc, created, nil
}

// claimUnverified prepares an account whose email nobody has proven yet for
// an SSO link. An account with no verified channel at all may have been
// registered by someone else with this address: its password is replaced by
// password.Unusable before the email is marked verified. An account that
// proved another channel belongs to whoever owns that channel, so the link is
// refused until the email is verified with a code.
func (s *Service) claimUnverified(ctx context.Context, ch account.Channel) error {
	acc, err := s.store.GetAccount(ctx, ch.AccountID)
	if err != nil {
		return err
	}
	if acc.HasVerifiedChannel() {
		s.log.Warn("signup.sso.link.refused", "account_id", acc.ID)
		return account.Invalid("email", MsgSSOEmailUnverified)
	}
	if err := s.store.SetPassword(ctx, acc.ID, password.Unusable, s.now()); err != nil {
		return fmt.Errorf("signup: drop unproven password: %w", err)
	}
	s.log.Info("signup.sso.claim_unverified", "account_id", acc.ID)
	return nil
}

func (s *Service) createSSOAccount(ctx context.Context, id Identity, addr string) (account.Account, error) {
	base := usernameFromEmail(addr)
	username := base
	for attempt := 1; ; attempt++ {
		acc, err := s.store.CreateAccount(ctx, account.CreateAccountInput{
			Username:     username,
			PasswordHash: password.Unusable,
			FirstName:    id.GivenName,
			LastName:     id.FamilyName,
			Metadata:     map[string]any{"sso_provider": id.Provider, "sso_subject": id.Subject},
			Channels:     []account.NewChannel{{Kind: account.KindEmail, Address: addr}},
			Now:          s.now(),
		})
		if err == nil {
			return acc, nil
		}
		var ce account.ConflictError
		if !errors.As(err, &ce) || ce.Field != "username" || attempt >= maxUsernameAttempts {
			return account.Account{}, err
		}
		username = fmt.Sprintf("%s%d", base, attempt+1)
	}
}

const maxUsernameAttempts = 20

// usernameFromEmail keeps the local part of addr, restricted to [a-z0-9._-].
func usernameFromEmail(addr string) string {
	local, _, _ := strings.Cut(addr, "@")
	var b strings.Builder
	for _, r := range local {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "user"
	}
	return b.String()
}
