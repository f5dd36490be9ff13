package session

import (
	"errors"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

type pasetoV4PublicManager struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

// NewPasetoV4PublicManager builds an AccessTokenManager based on PASETO v4.public.
//
// It uses an Ed25519 asymmetric keypair and enforces issuer and expiration rules.
// Clock skew is applied during verification via ValidAt.
func NewPasetoV4PublicManager(cfg Config) (AccessTokenManager, error) {
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.PasetoV4SecretKeyHex)
	if err != nil {
		return nil, ErrConfig
	}

	return &pasetoV4PublicManager{
		issuer:    cfg.Issuer,
		ttl:       cfg.AccessTokenTTL,
		clockSkew: cfg.ClockSkew,
		secret:    secret,
		public:    secret.Public(),
	}, nil
}

// PublicKeyHex exports the verification key for other services.
func (m *pasetoV4PublicManager) PublicKeyHex() string {
	return m.public.ExportHex()
}

func (m *pasetoV4PublicManager) Issue(c AccessClaims, now time.Time) (string, time.Time, error) {
	if c.AccountID == "" || c.SessionID == "" {
		return "", time.Time{}, errors.New("session: account and session id are required")
	}
	exp := now.Add(m.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(m.issuer)
	tok.SetSubject(c.AccountID)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)

	tok.SetString("id", c.AccountID)
	tok.SetString("sid", c.SessionID)
	tok.SetString("username", c.Username)
	tok.SetString("first_name", c.FirstName)
	tok.SetString("last_name", c.LastName)
	tok.SetString("email", c.Email)
	tok.SetString("phone_number", c.PhoneNumber)
	if err := tok.Set("is_superuser", c.Superuser); err != nil {
		return "", time.Time{}, err
	}
	if err := tok.Set("is_active", c.Active); err != nil {
		return "", time.Time{}, err
	}

	return tok.V4Sign(m.secret, nil), exp, nil
}

func (m *pasetoV4PublicManager) Verify(token string, now time.Time) (AccessClaims, error) {
	// Validate slightly in the future so a fast client clock does not fail "nbf".
	validNow := now.Add(m.clockSkew)

	// Fresh parser per call; rules accumulate on a shared one.
	p := paseto.NewParser()
	p.AddRule(paseto.IssuedBy(m.issuer))
	p.AddRule(paseto.ValidAt(validNow))

	parsed, err := p.ParseV4Public(m.public, token, nil)
	if err != nil {
		return AccessClaims{}, ErrInvalidToken
	}

	exp, err := parsed.GetExpiration()
	if err != nil || !now.Before(exp) {
		return AccessClaims{}, ErrInvalidToken
	}
	iss, _ := parsed.GetIssuer()
	iat, _ := parsed.GetIssuedAt()

	uid, err := parsed.GetString("id")
	if err != nil || uid == "" {
		return AccessClaims{}, ErrInvalidToken
	}
	sid, err := parsed.GetString("sid")
	if err != nil || sid == "" {
		return AccessClaims{}, ErrInvalidToken
	}

	c := AccessClaims{
		AccountID: uid,
		SessionID: sid,
		ExpiresAt: exp,
		IssuedAt:  iat,
		Issuer:    iss,
	}
	c.Username, _ = parsed.GetString("username")
	c.FirstName, _ = parsed.GetString("first_name")
	c.LastName, _ = parsed.GetString("last_name")
	c.Email, _ = parsed.GetString("email")
	c.PhoneNumber, _ = parsed.GetString("phone_number")
	_ = parsed.Get("is_superuser", &c.Superuser)
	_ = parsed.Get("is_active", &c.Active)
	return c, nil
}
