package driven

import (
	"fmt"
	"time"
)

// TransientError marks a provider failure worth retrying next cycle: network
// trouble, 5xx responses, timeouts. The checkpoint for the affected
// (series, provider) pair must be left unadvanced.
type TransientError struct {
	Provider string
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient provider error: %v", e.Provider, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// AuthError marks a bad or missing provider token. The monitor surfaces it
// once per cycle and skips the provider for the remainder of the cycle.
type AuthError struct {
	Provider string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed: %v", e.Provider, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// RateLimitError marks a provider rate-limit response that survived the
// adapter's own backoff. Treated like a transient error by the monitor, but
// carries the provider's suggested wait.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: rate limited (retry after %s): %v", e.Provider, e.RetryAfter, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// MalformedResponseError marks a provider response whose envelope could not
// be decoded at all. Individual runs with unknown vocabulary do not produce
// this error; they classify as errored instead.
type MalformedResponseError struct {
	Provider string
	Err      error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s: malformed response: %v", e.Provider, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// StoreIntegrityError signals a broken store invariant, such as a second
// active attempt for a (series, provider, commit) key. Fatal at process
// scope: the monitor refuses to proceed past the affected record.
type StoreIntegrityError struct {
	Detail string
	Err    error
}

func (e *StoreIntegrityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("store integrity violation: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("store integrity violation: %s", e.Detail)
}

func (e *StoreIntegrityError) Unwrap() error { return e.Err }
