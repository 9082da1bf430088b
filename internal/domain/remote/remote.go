// Package remote classifies failures of calls to the shop backend.
package remote

import (
	"fmt"

	"github.com/go-faster/errors"
)

// ErrUnavailable marks transient failures: network errors, timeouts and
// server-side faults. The user may retry.
var ErrUnavailable = errors.New("backend unavailable")

// RejectedError carries a reason reported by the backend. Reason is shown to
// the user as is.
type RejectedError struct {
	Status int
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("rejected: %s", e.Reason)
	}
	return fmt.Sprintf("rejected (%d): %s", e.Status, e.Reason)
}

// Reject returns a RejectedError without an HTTP status.
func Reject(reason string) *RejectedError {
	return &RejectedError{Reason: reason}
}

// Retryable reports whether err is transient.
func Retryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// Reason extracts the backend reason from err, if any.
func Reason(err error) (string, bool) {
	var rej *RejectedError
	if errors.As(err, &rej) {
		return rej.Reason, true
	}
	return "", false
}
