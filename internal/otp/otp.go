// Package otp generates and checks the 6-digit one-time passcodes used
// for email verification and login.
package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// Length is the number of digits in a generated code.
const Length = 6

// TTL is how long a freshly issued code stays valid.
const TTL = 10 * time.Minute

// codeRange spans the 6-digit codes 100000-999999 inclusive, so every
// code has a fixed width without leading zeros.
const (
	codeMin   = 100000
	codeRange = 900000
)

// Generate returns a uniformly random 6-digit code as a string.
func Generate() (string, error) {
	n, errRand := rand.Int(rand.Reader, big.NewInt(codeRange))
	if errRand != nil {
		return "", fmt.Errorf("otp: generate: %w", errRand)
	}
	return fmt.Sprintf("%d", codeMin+n.Int64()), nil
}

// Verify reports whether the submitted code exactly equals the stored
// code. No trimming or case folding happens here; input normalization
// is the caller's concern.
func Verify(submitted, stored string) bool {
	return submitted == stored
}
