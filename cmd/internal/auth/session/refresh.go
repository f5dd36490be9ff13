package session

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/puse45/auth-ms/cmd/security/token"
)

// maxRefreshTokenLen bounds client input before hashing.
const maxRefreshTokenLen = 4096

func newOpaqueRefreshToken(nBytes int) (plain string, hashHex string, err error) {
	b := make([]byte, nBytes)
	if _, err = rand.Read(b); err != nil {
		return "", "", err
	}

	// URL-safe, no padding.
	plain = base64.RawURLEncoding.EncodeToString(b)

	return plain, token.HashRefreshTokenHex(plain), nil
}
