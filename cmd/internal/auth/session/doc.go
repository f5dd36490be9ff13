// Package session implements the bearer-credential side of login.
//
// A session pairs a short-lived access token (HS256 JWT by default, PASETO
// v4.public as an alternative) with an opaque refresh token. Refresh tokens
// are stored hashed (HMAC-SHA256 when AUTHMS_TOKEN_HMAC_KEY is set, SHA-256
// otherwise) and rotate on every use; presenting a rotated token again is
// treated as theft and revokes every session of the account.
//
// Transport concerns (headers, cookies, JSON shapes) live in the api package.
package session
