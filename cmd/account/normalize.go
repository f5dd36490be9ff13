package account

import (
	"net/mail"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is used to parse phone numbers written without a country code.
const DefaultRegion = "KE"

// NormalizeUsername performs case-insensitive canonicalization.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeEmail trims and lower-cases an email address and checks it parses as
// a bare address (no display name).
func NormalizeEmail(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", Invalid("email", "This field may not be blank.")
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return "", Invalid("email", "Enter a valid email address.")
	}
	return s, nil
}

// NormalizePhone returns the E.164 form of s. Numbers without a leading + are
// read in region (DefaultRegion when empty).
func NormalizePhone(s, region string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", Invalid("phone_number", "This field may not be blank.")
	}
	if region == "" {
		region = DefaultRegion
	}
	num, err := phonenumbers.Parse(s, strings.ToUpper(region))
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return "", Invalid("phone_number", "Enter a valid phone number.")
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// NormalizeAddress dispatches to the per-kind normalizer.
func NormalizeAddress(kind Kind, s, region string) (string, error) {
	switch kind {
	case KindEmail:
		return NormalizeEmail(s)
	case KindPhone:
		return NormalizePhone(s, region)
	default:
		return "", Invalid("kind", "unknown channel kind")
	}
}
