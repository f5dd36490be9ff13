package sso

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// NewVerifier returns a PKCE code verifier (RFC 7636, 43..128 chars).
func NewVerifier() (string, error) {
	return randomToken(32)
}

// NewState returns an opaque state value for the authorization redirect.
func NewState() (string, error) {
	return randomToken(24)
}

// S256Challenge derives the code_challenge for a verifier.
func S256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("sso: random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
