package session

import (
	"context"
	"net"
	"time"
)

// Platform represents the client platform associated with a session.
type Platform string

const (
	PlatformWeb     Platform = "web"
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformDesktop Platform = "desktop"
	PlatformUnknown Platform = "unknown"
)

// ParsePlatform maps a client hint to a Platform. Unknown values map to PlatformUnknown.
func ParsePlatform(s string) Platform {
	switch p := Platform(s); p {
	case PlatformWeb, PlatformIOS, PlatformAndroid, PlatformDesktop:
		return p
	default:
		return PlatformUnknown
	}
}

// DeviceContext describes the client device that owns a session.
type DeviceContext struct {
	Platform   Platform
	RememberMe bool
	UserAgent  string
	IP         net.IP
}

// Revocation reasons recorded on session rows.
const (
	ReasonLogout        = "logout"
	ReasonRotation      = "rotation"
	ReasonReuseDetected = "reuse_detected"
	ReasonPasswordReset = "password_reset"
)

// Row mirrors a sessions row.
type Row struct {
	ID                  string
	AccountID           string
	RefreshTokenHash    string
	CreatedAt           time.Time
	LastUsedAt          *time.Time
	ExpiresAt           time.Time
	RevokedAt           *time.Time
	ReplacedBySessionID *string
	Platform            Platform
	RevocationReason    *string
}

// NewSession is the input of Create and of the replacement created by Rotate.
type NewSession struct {
	AccountID   string
	Device      DeviceContext
	RefreshHash string
	ExpiresAt   time.Time
}

// Store abstracts persistence for session state.
type Store interface {
	// Create inserts a session row and returns its id.
	Create(ctx context.Context, now time.Time, in NewSession) (sessionID string, err error)

	// GetByID loads a session row by id.
	GetByID(ctx context.Context, sessionID string) (Row, error)

	// Rotate atomically swaps the session holding refreshHash for a new one.
	//
	// Under a row lock it returns ErrSessionNotFound, ErrSessionExpired or
	// ErrSessionRevoked for a dead token. A token whose session was already
	// rotated revokes every session of the account, commits, and returns
	// ErrRefreshReuseDetected. Otherwise it creates the replacement from next
	// (AccountID is taken from the old row), marks the old row rotated and
	// returns the old row with the new session id.
	Rotate(ctx context.Context, now time.Time, refreshHash string, next NewSession) (old Row, newSessionID string, err error)

	// Touch updates last_used_at for a session.
	Touch(ctx context.Context, now time.Time, sessionID string) error

	// Revoke revokes a single session (idempotent).
	Revoke(ctx context.Context, now time.Time, sessionID string, reason string) error

	// RevokeAll revokes every live session of an account (idempotent).
	RevokeAll(ctx context.Context, now time.Time, accountID string, reason string) error
}
