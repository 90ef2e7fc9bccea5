package service

import (
	"errors"
	"fmt"
)

// Error taxonomy for the realtime core. Transport failures are converted
// into connection state transitions and never surface to consumers as
// returned errors; credential failures do return, classified into these
// sentinels so callers can distinguish "sign in again" from "try later".
var (
	ErrAuthRequired   = errors.New("auth_required")
	ErrAuthInvalid    = errors.New("auth_invalid")
	ErrRateLimited    = errors.New("rate_limited")
	ErrNetwork        = errors.New("network_error")
	ErrServer         = errors.New("server_error")
	ErrMalformedFrame = errors.New("malformed_frame")
	ErrQueueOverflow  = errors.New("queue_overflow")
)

// ProviderError lets the identity provider report a classified failure.
// Providers that return plain errors are classified as network failures,
// which is the safe default: a good cached credential must never be thrown
// away because the network flaked.
type ProviderError struct {
	Code    string // "expired", "invalid", "auth_required", "network"
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// SessionEnded reports whether a classified refresh failure terminates the
// session. Only these failures clear the credential cache; everything else
// keeps an otherwise-good cached token.
func SessionEnded(err error) bool {
	return errors.Is(err, ErrAuthInvalid) || errors.Is(err, ErrAuthRequired)
}

// classifyProviderError maps a provider failure into the taxonomy.
func classifyProviderError(err error) error {
	var perr *ProviderError
	if errors.As(err, &perr) {
		switch perr.Code {
		case "invalid":
			return fmt.Errorf("%w: %s", ErrAuthInvalid, perr.Message)
		case "auth_required":
			return fmt.Errorf("%w: %s", ErrAuthRequired, perr.Message)
		case "expired":
			// An expired credential is refreshable, not a session end.
			return fmt.Errorf("%w: expired: %s", ErrNetwork, perr.Message)
		default:
			return fmt.Errorf("%w: %s", ErrNetwork, perr.Message)
		}
	}

	return fmt.Errorf("%w: %v", ErrNetwork, err)
}
