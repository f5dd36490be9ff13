package session

import (
	"time"

	"github.com/puse45/auth-ms/cmd/account"
)

// AccessClaims is the identity envelope carried by access tokens.
type AccessClaims struct {
	AccountID   string
	SessionID   string
	Username    string
	FirstName   string
	LastName    string
	Email       string
	PhoneNumber string
	Superuser   bool
	Active      bool

	ExpiresAt time.Time
	IssuedAt  time.Time
	Issuer    string
}

// AccessTokenManager issues and verifies short-lived access tokens.
// Issue reads the identity fields of c; timing fields are set by the manager.
type AccessTokenManager interface {
	Issue(c AccessClaims, now time.Time) (token string, exp time.Time, err error)
	Verify(token string, now time.Time) (AccessClaims, error)
}

// NewAccessTokenManager builds the manager selected by cfg.TokenFormat.
func NewAccessTokenManager(cfg Config) (AccessTokenManager, error) {
	switch cfg.TokenFormat {
	case FormatPaseto:
		return NewPasetoV4PublicManager(cfg)
	case FormatJWT, "":
		return NewJWTManager(cfg)
	default:
		return nil, ErrConfig
	}
}

// ClaimsFor fills the identity claims of acc for session sessionID. Only
// verified addresses are embedded.
func ClaimsFor(acc account.Account, sessionID string) AccessClaims {
	c := AccessClaims{
		AccountID: acc.ID,
		SessionID: sessionID,
		Username:  acc.Username,
		FirstName: acc.FirstName,
		LastName:  acc.LastName,
		Superuser: acc.Superuser,
		Active:    acc.Active,
	}
	if acc.Email != nil && acc.Email.IsVerified {
		c.Email = acc.Email.Address
	}
	if acc.Phone != nil && acc.Phone.IsVerified {
		c.PhoneNumber = acc.Phone.Address
	}
	return c
}
