// Package token hashes opaque tokens for server-side storage.
//
// Refresh tokens are stored as a 64-char hex digest: HMAC-SHA256 when
// AUTHMS_TOKEN_HMAC_KEY is set, plain SHA-256 otherwise (development only).
// Deployments that set AUTHMS_REQUIRE_TOKEN_HMAC=true refuse to start without a
// key of at least 32 bytes.
package token
