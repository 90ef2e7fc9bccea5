// Package jwtx inspects bearer tokens issued by the upstream identity
// provider. The client never verifies signatures (that is the server's job);
// it only needs the registered time claims to schedule refreshes.
package jwtx

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNotJWT reports a token that does not parse as a JWT at all. Opaque
	// tokens are still usable; callers fall back to provider-supplied expiry.
	ErrNotJWT = errors.New("jwtx: token is not a jwt")

	// ErrNoExpiry reports a JWT without an exp claim.
	ErrNoExpiry = errors.New("jwtx: token has no exp claim")
)

// Expiry extracts the exp claim from a JWT without verifying its signature.
func Expiry(raw string) (time.Time, error) {
	claims := jwt.RegisteredClaims{}

	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, &claims); err != nil {
		return time.Time{}, ErrNotJWT
	}

	if claims.ExpiresAt == nil {
		return time.Time{}, ErrNoExpiry
	}

	return claims.ExpiresAt.Time, nil
}

// IssuedAt extracts the iat claim from a JWT without verifying its signature.
// Returns the zero time when the claim is absent or the token is opaque.
func IssuedAt(raw string) time.Time {
	claims := jwt.RegisteredClaims{}

	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, &claims); err != nil {
		return time.Time{}
	}

	if claims.IssuedAt == nil {
		return time.Time{}
	}

	return claims.IssuedAt.Time
}
