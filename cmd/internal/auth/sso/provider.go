// Package sso implements the client side of an OAuth2 authorization-code flow
// with PKCE and reduces the provider's userinfo response to an Assertion.
package sso

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

var (
	ErrExchange = errors.New("sso: token exchange failed")
	ErrProfile  = errors.New("sso: userinfo request failed")
)

// Assertion is the identity the provider vouches for.
type Assertion struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	GivenName     string
	FamilyName    string
}

type Provider interface {
	Name() string
	AuthCodeURL(state, verifier string) string
	Exchange(ctx context.Context, code, verifier string) (Assertion, error)
}

type OAuthProvider struct {
	cfg    Config
	client *http.Client
}

type Option func(*OAuthProvider)

func WithHTTPClient(c *http.Client) Option {
	return func(p *OAuthProvider) {
		if c != nil {
			p.client = c
		}
	}
}

func NewOAuthProvider(cfg Config, opts ...Option) (*OAuthProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &OAuthProvider{cfg: cfg, client: &http.Client{Timeout: cfg.HTTPTimeout}}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

func (p *OAuthProvider) Name() string { return p.cfg.Name }

func (p *OAuthProvider) AuthCodeURL(state, verifier string) string {
	u, err := url.Parse(p.cfg.AuthURL)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("response_type", "code")
	q.Set("client_id", p.cfg.ClientID)
	q.Set("redirect_uri", p.cfg.RedirectURL)
	if len(p.cfg.Scopes) > 0 {
		q.Set("scope", strings.Join(p.cfg.Scopes, " "))
	}
	q.Set("state", state)
	q.Set("code_challenge", S256Challenge(verifier))
	q.Set("code_challenge_method", "S256")
	u.RawQuery = q.Encode()
	return u.String()
}

func (p *OAuthProvider) Exchange(ctx context.Context, code, verifier string) (Assertion, error) {
	if strings.TrimSpace(code) == "" {
		return Assertion{}, fmt.Errorf("%w: missing code", ErrExchange)
	}
	accessToken, err := p.exchangeToken(ctx, code, verifier)
	if err != nil {
		return Assertion{}, err
	}
	return p.fetchProfile(ctx, accessToken)
}

func (p *OAuthProvider) exchangeToken(ctx context.Context, code, verifier string) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", p.cfg.RedirectURL)
	form.Set("client_id", p.cfg.ClientID)
	form.Set("client_secret", p.cfg.ClientSecret)
	form.Set("code_verifier", verifier)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExchange, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: status %d", ErrExchange, resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return "", fmt.Errorf("%w: %v", ErrExchange, err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("%w: missing access token", ErrExchange)
	}
	return payload.AccessToken, nil
}

func (p *OAuthProvider) fetchProfile(ctx context.Context, accessToken string) (Assertion, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.UserInfoURL, nil)
	if err != nil {
		return Assertion{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Assertion{}, fmt.Errorf("%w: %v", ErrProfile, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Assertion{}, fmt.Errorf("%w: status %d", ErrProfile, resp.StatusCode)
	}

	var payload struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified any    `json:"email_verified"`
		GivenName     string `json:"given_name"`
		FamilyName    string `json:"family_name"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return Assertion{}, fmt.Errorf("%w: %v", ErrProfile, err)
	}
	if payload.Sub == "" {
		return Assertion{}, fmt.Errorf("%w: missing subject", ErrProfile)
	}
	return Assertion{
		Provider:      p.cfg.Name,
		Subject:       payload.Sub,
		Email:         strings.TrimSpace(payload.Email),
		EmailVerified: truthy(payload.EmailVerified),
		GivenName:     strings.TrimSpace(payload.GivenName),
		FamilyName:    strings.TrimSpace(payload.FamilyName),
	}, nil
}

// Some providers send email_verified as the string "true".
func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		return strings.EqualFold(x, "true")
	default:
		return false
	}
}
