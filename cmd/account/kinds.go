package account

import "errors"

// Sentinel error kinds (stable for errors.Is and for mapping to API status codes).
var (
	ErrInvalidInput         = errors.New("invalid_input")
	ErrNotFound             = errors.New("not_found")
	ErrConflict             = errors.New("conflict")
	ErrAccountNotRegistered = errors.New("account_not_registered")
)

// Kind names a verification channel type.
type Kind string

const (
	KindEmail Kind = "email"
	KindPhone Kind = "phone"
)

// Kinds lists every channel kind in display order.
var Kinds = []Kind{KindEmail, KindPhone}

// Valid reports whether k is a known channel kind.
func (k Kind) Valid() bool { return k == KindEmail || k == KindPhone }

// Label is the human form used in API messages.
func (k Kind) Label() string {
	switch k {
	case KindEmail:
		return "Email"
	case KindPhone:
		return "Phone number"
	default:
		return string(k)
	}
}

// Field is the JSON field name clients use for this kind.
func (k Kind) Field() string {
	if k == KindPhone {
		return "phone_number"
	}
	return string(k)
}
