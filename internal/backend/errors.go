// ABOUTME: Error taxonomy for backend calls consumed by the session pipeline
// ABOUTME: All transport failures are mapped to these sentinels before reaching callers

package backend

import "errors"

// ErrAuthRequired is returned when no authenticated actor is available or
// the backend rejected the token. Terminal; surfaced as "please sign in".
var ErrAuthRequired = errors.New("authentication required")

// ErrNotFound is returned when the target resource does not exist or was
// deleted. Terminal and expected; never logged as an application error.
var ErrNotFound = errors.New("not found")

// ErrForbidden is returned when the actor lacks access to the target
// resource. Surfaced distinctly from ErrNotFound.
var ErrForbidden = errors.New("access denied")

// ErrUnavailable covers transport failures, timeouts, non-2xx responses
// outside the taxonomy above, and malformed payloads. Retryable only by
// user action.
var ErrUnavailable = errors.New("backend unavailable")
