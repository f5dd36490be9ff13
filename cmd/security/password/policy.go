package password

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Validate checks password against the policy. Length is counted in runes.
func (c Config) Validate(password string) error {
	n := utf8.RuneCountInString(password)
	if n < c.Policy.MinLength {
		return ErrPasswordTooShort
	}
	if n > c.Policy.MaxLength {
		return ErrPasswordTooLong
	}
	if c.Policy.RejectVeryWeak && looksVeryWeak(password) {
		return ErrWeakPassword
	}
	return nil
}

// Explain turns a Validate error into a message fit for an API client.
func (c Config) Explain(err error) string {
	switch {
	case errors.Is(err, ErrPasswordTooShort):
		return fmt.Sprintf("This password is too short. It must contain at least %d characters.", c.Policy.MinLength)
	case errors.Is(err, ErrPasswordTooLong):
		return fmt.Sprintf("This password is too long. It must contain at most %d characters.", c.Policy.MaxLength)
	case errors.Is(err, ErrWeakPassword):
		return "This password is too common."
	case err == nil:
		return ""
	default:
		return "This password is not allowed."
	}
}

var commonPasswords = map[string]struct{}{
	"password":    {},
	"password1":   {},
	"password123": {},
	"passw0rd":    {},
	"qwerty":      {},
	"qwerty123":   {},
	"qwertyuiop":  {},
	"iloveyou":    {},
	"letmein":     {},
	"welcome1":    {},
	"admin123":    {},
	"abc12345":    {},
	"football":    {},
	"baseball":    {},
	"sunshine":    {},
	"princess":    {},
}

// looksVeryWeak rejects all-numeric passwords, a single repeated character and a
// short list of very common passwords. It is not a strength estimator.
func looksVeryWeak(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}

	first, _ := utf8.DecodeRuneInString(s)
	allSame, allDigits := true, true
	for _, r := range s {
		if r != first {
			allSame = false
		}
		if !unicode.IsDigit(r) {
			allDigits = false
		}
	}
	if allSame || allDigits {
		return true
	}

	_, common := commonPasswords[strings.ToLower(s)]
	return common
}
