package account

import (
	"context"
	"time"
)

// Tx is the view of the in-flight channel transaction given to hooks.
type Tx interface {
	// ActivateAccount sets the account active. It reports whether the flag changed.
	ActivateAccount(ctx context.Context, accountID string, now time.Time) (bool, error)
	// SetPassword replaces the credential hash of accountID on commit.
	SetPassword(ctx context.Context, accountID, hash string, now time.Time) error
	// AfterCommit schedules fn to run once the transaction has committed.
	// It never runs when the transaction rolls back.
	AfterCommit(fn func())
}

// ChannelHook runs inside UpdateChannel after a state-changing mutation. An
// error aborts the whole update. Hooks must only write through tx; calling back
// into the Store from a hook deadlocks the memory store.
type ChannelHook func(ctx context.Context, tx Tx, before, after Channel) error

// MutateFunc edits a locked channel in place. Returning an error rolls back.
type MutateFunc func(ch *Channel) error

// Store is the account persistence boundary.
type Store interface {
	CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error)
	GetAccount(ctx context.Context, id string) (Account, error)
	ListAccounts(ctx context.Context, f ListFilter) ([]Account, error)
	UpdateProfile(ctx context.Context, id string, in ProfileUpdate) (Account, error)

	// LookupLogin returns the account for a username together with its password hash.
	LookupLogin(ctx context.Context, username string) (Account, string, error)
	PasswordHash(ctx context.Context, accountID string) (string, error)
	SetPassword(ctx context.Context, accountID, hash string, now time.Time) error
	TouchLastLogin(ctx context.Context, accountID string, now time.Time) error

	// FindChannel returns the channel for a normalized address or a NotFoundError.
	FindChannel(ctx context.Context, kind Kind, address string) (Channel, error)
	// AttachChannel gives an account a channel of kind at address. Replacing an
	// existing address resets verification.
	AttachChannel(ctx context.Context, accountID string, kind Kind, address string, now time.Time) (Channel, error)
	// UpdateChannel locks the channel, applies fn and, when the state changed,
	// persists it and runs the registered hooks in the same transaction.
	UpdateChannel(ctx context.Context, kind Kind, address string, fn MutateFunc) (Channel, error)
	// UpdateChannelThen is UpdateChannel with one more hook, then, run after the
	// registered hooks in the same transaction. then only runs when the state
	// changed.
	UpdateChannelThen(ctx context.Context, kind Kind, address string, fn MutateFunc, then ChannelHook) (Channel, error)

	OnChannelUpdate(h ChannelHook)
}
