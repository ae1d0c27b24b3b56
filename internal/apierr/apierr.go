// Package apierr defines the error kinds shared across the capture index
// server: canonicalization, storage, query execution, and the HTTP layer all
// return errors wrapping one of these sentinels, and the HTTP layer maps
// them to status codes in one place.
package apierr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBadRequest marks a malformed parameter, invalid URL, or conflicting
	// query parameters.
	ErrBadRequest = errors.New("cdxindex: bad request")

	// ErrNotFound marks an unknown collection, rule, or policy.
	ErrNotFound = errors.New("cdxindex: not found")

	// ErrForbidden marks a write attempted on a read-only secondary, or a
	// failed admin authentication check.
	ErrForbidden = errors.New("cdxindex: forbidden")

	// ErrConflict marks a rule or policy that failed validation. Use
	// ValidationError to attach the list of specific violations.
	ErrConflict = errors.New("cdxindex: conflict")

	// ErrSequenceTruncated marks a change-feed request for a sequence number
	// older than the oldest retained write-ahead log record.
	ErrSequenceTruncated = errors.New("cdxindex: sequence truncated")

	// ErrUnknownRecordVersion marks a stored value whose version byte is
	// newer than anything this build's codec understands.
	ErrUnknownRecordVersion = errors.New("cdxindex: unknown record version")

	// ErrStorage marks an error surfaced by the underlying storage engine.
	ErrStorage = errors.New("cdxindex: storage error")

	// ErrInternal marks anything not covered by the above.
	ErrInternal = errors.New("cdxindex: internal error")
)

// StatusCode maps an error to the HTTP status the router should send. Errors
// not wrapping one of this package's sentinels map to 500.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrBadRequest):
		return 400
	case errors.Is(err, ErrForbidden):
		return 403
	case errors.Is(err, ErrNotFound):
		return 404
	case errors.Is(err, ErrConflict):
		return 409
	case errors.Is(err, ErrSequenceTruncated):
		return 410
	case errors.Is(err, ErrUnknownRecordVersion):
		return 422
	default:
		return 500
	}
}

// BadRequest wraps msg as an ErrBadRequest.
func BadRequest(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, fmt.Sprintf(format, a...))
}

// NotFound wraps msg as an ErrNotFound.
func NotFound(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, a...))
}

// Forbidden wraps msg as an ErrForbidden.
func Forbidden(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, a...))
}

// Storage wraps an underlying engine error as ErrStorage.
func Storage(op string, cause error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorage, op, cause)
}

// ValidationError carries every violation found while validating a rule or
// policy. put_rule reports the full list rather than short-circuiting on the
// first failure.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("cdxindex: conflict: %s", strings.Join(e.Violations, "; "))
}

// Unwrap makes errors.Is(err, ErrConflict) true for a *ValidationError.
func (e *ValidationError) Unwrap() error { return ErrConflict }
