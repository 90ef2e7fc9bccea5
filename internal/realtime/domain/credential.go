package domain

import "time"

// Credential is the bearer token the realtime channel authenticates with.
// It is replaced wholesale on every successful refresh and cleared on
// sign-out or when the server rejects it.
type Credential struct {
	Raw       string
	IssuedAt  time.Time
	ExpiresAt time.Time // zero when the provider gave no expiry
}

// ExpiryKnown reports whether the credential carries a usable expiry.
func (c Credential) ExpiryKnown() bool {
	return !c.ExpiresAt.IsZero()
}

// TTL returns the remaining lifetime at the given instant. Credentials with
// unknown expiry report zero.
func (c Credential) TTL(now time.Time) time.Duration {
	if !c.ExpiryKnown() {
		return 0
	}
	return c.ExpiresAt.Sub(now)
}

// FresherThan reports whether the credential's expiry is further away than
// the lookahead window. Unknown expiry is treated as stale so callers verify
// upstream rather than trusting a blind token.
func (c Credential) FresherThan(now time.Time, lookahead time.Duration) bool {
	if c.Raw == "" || !c.ExpiryKnown() {
		return false
	}
	return c.ExpiresAt.After(now.Add(lookahead))
}

// IsZero reports whether no credential is held.
func (c Credential) IsZero() bool { return c.Raw == "" }
