package account

import "time"

// Account is the auth-ms security principal.
type Account struct {
	ID           string
	Username     string
	UsernameNorm string

	FirstName  string
	LastName   string
	OtherNames string
	IDNumber   *string

	Active    bool
	Superuser bool
	Staff     bool
	Archived  bool
	Metadata  map[string]any

	LastLogin  *time.Time
	DateJoined time.Time
	UpdatedAt  time.Time

	Email *Channel
	Phone *Channel
}

// Channel returns the account's channel of the given kind, or nil.
func (a Account) Channel(kind Kind) *Channel {
	switch kind {
	case KindEmail:
		return a.Email
	case KindPhone:
		return a.Phone
	}
	return nil
}

// Channels returns the channels the account owns, email first.
func (a Account) Channels() []Channel {
	var out []Channel
	if a.Email != nil {
		out = append(out, *a.Email)
	}
	if a.Phone != nil {
		out = append(out, *a.Phone)
	}
	return out
}

// HasVerifiedChannel reports whether at least one owned channel is verified.
func (a Account) HasVerifiedChannel() bool {
	for _, ch := range a.Channels() {
		if ch.IsVerified {
			return true
		}
	}
	return false
}

// UnverifiedKinds lists the kinds of owned channels that are not verified yet.
func (a Account) UnverifiedKinds() []Kind {
	var out []Kind
	for _, ch := range a.Channels() {
		if !ch.IsVerified {
			out = append(out, ch.Kind)
		}
	}
	return out
}

// Channel is a verification channel: an email address or phone number owned by
// one account, with at most one outstanding one-time code.
type Channel struct {
	ID        string
	AccountID string
	Kind      Kind
	Address   string

	Code        string
	IsVerified  bool
	IsResetMode bool
	IssuedAt    *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Expired reports whether the outstanding code is past ttl at now.
// A channel that never had a code issued is expired.
func (c Channel) Expired(now time.Time, ttl time.Duration) bool {
	if c.IssuedAt == nil {
		return true
	}
	return !now.Before(c.IssuedAt.Add(ttl))
}

// stateEqual reports whether two snapshots carry the same mutable state.
func (c Channel) stateEqual(o Channel) bool {
	if c.Address != o.Address || c.Code != o.Code || c.IsVerified != o.IsVerified || c.IsResetMode != o.IsResetMode {
		return false
	}
	switch {
	case c.IssuedAt == nil && o.IssuedAt == nil:
		return true
	case c.IssuedAt == nil || o.IssuedAt == nil:
		return false
	default:
		return c.IssuedAt.Equal(*o.IssuedAt)
	}
}

// NewChannel describes a channel to create alongside an account.
type NewChannel struct {
	Kind    Kind
	Address string // already normalized
}

// CreateAccountInput describes a registration. PasswordHash is an encoded hash
// (or password.Unusable); the store never sees plain passwords.
type CreateAccountInput struct {
	Username     string
	PasswordHash string
	FirstName    string
	LastName     string
	OtherNames   string
	IDNumber     *string
	Superuser    bool
	Staff        bool
	Metadata     map[string]any
	Channels     []NewChannel
	Now          time.Time
}

// ProfileUpdate carries optional profile changes; nil fields are left alone.
type ProfileUpdate struct {
	FirstName  *string
	LastName   *string
	OtherNames *string
	IDNumber   *string
	Metadata   map[string]any
	Now        time.Time
}

// ListFilter narrows ListAccounts. An empty AccountID lists everything.
type ListFilter struct {
	AccountID       string
	IncludeArchived bool
}
