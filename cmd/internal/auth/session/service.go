package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/puse45/auth-ms/cmd/account"
	"github.com/puse45/auth-ms/cmd/security/token"
)

// Accounts is the account lookup needed to mint claims on refresh.
type Accounts interface {
	GetAccount(ctx context.Context, id string) (account.Account, error)
}

// Service issues, validates, rotates and revokes sessions.
type Service struct {
	cfg      Config
	tokens   AccessTokenManager
	store    Store
	accounts Accounts
}

// Issued is the result of issuing or rotating a session.
type Issued struct {
	SessionID    string
	AccessToken  string
	AccessExp    time.Time
	RefreshToken string
	RefreshExp   time.Time
}

func NewService(cfg Config, store Store, tokens AccessTokenManager, accounts Accounts) *Service {
	return &Service{cfg: cfg, store: store, tokens: tokens, accounts: accounts}
}

func (s *Service) refreshTTL(dev DeviceContext) time.Duration {
	switch dev.Platform {
	case PlatformWeb:
		return s.cfg.RefreshTTLWeb
	case PlatformIOS, PlatformAndroid, PlatformDesktop:
		if dev.RememberMe {
			return s.cfg.RefreshTTLNative
		}
		return s.cfg.RefreshTTLNativeShort
	default:
		return s.cfg.RefreshTTLWeb
	}
}

// IssueSession creates a session for acc and returns fresh tokens. Only the
// hash of the refresh token is persisted.
func (s *Service) IssueSession(ctx context.Context, now time.Time, acc account.Account, dev DeviceContext) (Issued, error) {
	refreshPlain, refreshHash, err := newOpaqueRefreshToken(s.cfg.RefreshTokenBytes)
	if err != nil {
		return Issued{}, err
	}
	refreshExp := now.Add(s.refreshTTL(dev))

	sessionID, err := s.store.Create(ctx, now, NewSession{
		AccountID:   acc.ID,
		Device:      dev,
		RefreshHash: refreshHash,
		ExpiresAt:   refreshExp,
	})
	if err != nil {
		return Issued{}, fmt.Errorf("session: create: %w", err)
	}

	accessToken, accessExp, err := s.tokens.Issue(ClaimsFor(acc, sessionID), now)
	if err != nil {
		return Issued{}, err
	}

	return Issued{
		SessionID:    sessionID,
		AccessToken:  accessToken,
		AccessExp:    accessExp,
		RefreshToken: refreshPlain,
		RefreshExp:   refreshExp,
	}, nil
}

// ValidateAccessToken verifies an access token and checks the backing session
// is still live, so revocation takes effect before the token expires.
func (s *Service) ValidateAccessToken(ctx context.Context, tok string, now time.Time) (AccessClaims, error) {
	claims, err := s.tokens.Verify(strings.TrimSpace(tok), now)
	if err != nil {
		return AccessClaims{}, err
	}

	row, err := s.store.GetByID(ctx, claims.SessionID)
	if err != nil {
		return AccessClaims{}, err
	}
	if row.AccountID != claims.AccountID {
		return AccessClaims{}, ErrInvalidToken
	}
	if row.RevokedAt != nil || row.ReplacedBySessionID != nil {
		return AccessClaims{}, ErrSessionRevoked
	}
	if !row.ExpiresAt.After(now) {
		return AccessClaims{}, ErrSessionExpired
	}
	return claims, nil
}

// RotateRefresh exchanges a refresh token for a new session. See Store.Rotate
// for the reuse-detection rules.
func (s *Service) RotateRefresh(ctx context.Context, now time.Time, refreshTokenPlain string, dev DeviceContext) (Issued, error) {
	refreshTokenPlain = strings.TrimSpace(refreshTokenPlain)
	if refreshTokenPlain == "" || len(refreshTokenPlain) > maxRefreshTokenLen {
		return Issued{}, ErrSessionNotFound
	}

	newPlain, newHash, err := newOpaqueRefreshToken(s.cfg.RefreshTokenBytes)
	if err != nil {
		return Issued{}, err
	}
	newExp := now.Add(s.refreshTTL(dev))

	old, newID, err := s.store.Rotate(ctx, now, token.HashRefreshTokenHex(refreshTokenPlain), NewSession{
		Device:      dev,
		RefreshHash: newHash,
		ExpiresAt:   newExp,
	})
	if err != nil {
		return Issued{}, err
	}

	acc, err := s.accounts.GetAccount(ctx, old.AccountID)
	if err != nil {
		return Issued{}, fmt.Errorf("session: load account: %w", err)
	}
	accessToken, accessExp, err := s.tokens.Issue(ClaimsFor(acc, newID), now)
	if err != nil {
		return Issued{}, err
	}

	return Issued{
		SessionID:    newID,
		AccessToken:  accessToken,
		AccessExp:    accessExp,
		RefreshToken: newPlain,
		RefreshExp:   newExp,
	}, nil
}

// RevokeSession revokes a single session (logout from a device).
func (s *Service) RevokeSession(ctx context.Context, now time.Time, sessionID string) error {
	return s.store.Revoke(ctx, now, sessionID, ReasonLogout)
}

// RevokeAll revokes every session of an account.
func (s *Service) RevokeAll(ctx context.Context, now time.Time, accountID, reason string) error {
	if reason == "" {
		reason = ReasonLogout
	}
	return s.store.RevokeAll(ctx, now, accountID, reason)
}

// TouchSession updates last_used_at for a session (best-effort).
func (s *Service) TouchSession(ctx context.Context, now time.Time, sessionID string) error {
	return s.store.Touch(ctx, now, sessionID)
}
