// Package otp generates numeric one-time codes.
package otp

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

// DefaultLength is the number of digits in a verification code.
const DefaultLength = 6

// MaxLength bounds n so the code space fits comfortably in a big.Int draw.
const MaxLength = 12

var ErrInvalidLength = errors.New("otp: invalid length")

// Generate returns exactly n decimal digits drawn uniformly from crypto/rand.
// Leading zeros are kept. Codes are not unique.
func Generate(n int) (string, error) {
	if n <= 0 || n > MaxLength {
		return "", ErrInvalidLength
	}

	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
	v, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("otp: entropy: %w", err)
	}
	return fmt.Sprintf("%0*d", n, v), nil
}
