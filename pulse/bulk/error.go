package bulk

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/teranos/zbulk/errors"
)

// Engine sentinels. Wrap with errors.Wrap; test with errors.Is.
var (
	// ErrDuplicateJob is returned when starting a job whose key is already active
	ErrDuplicateJob = errors.Wrap(errors.ErrConflict, "job already active for key")

	// ErrInvalidOptions indicates out-of-range job options
	ErrInvalidOptions = errors.Wrap(errors.ErrInvalidRequest, "invalid job options")

	// ErrUnknownJobType is returned when no handler is registered for a job type
	ErrUnknownJobType = errors.Wrap(errors.ErrNotFound, "unknown job type")

	// ErrInvalidItems indicates the item list could not be used
	ErrInvalidItems = errors.Wrap(errors.ErrInvalidRequest, "invalid items")
)

// DuplicateJobError carries the key that was already active
type DuplicateJobError struct {
	Key JobKey
}

func (e *DuplicateJobError) Error() string {
	return fmt.Sprintf("job already active for %s", e.Key)
}

// Is makes errors.Is(err, ErrDuplicateJob) hold for DuplicateJobError
func (e *DuplicateJobError) Is(target error) bool {
	return target == ErrDuplicateJob || target == errors.ErrConflict
}

func newDuplicateJobError(key JobKey) error {
	return errors.WithStack(&DuplicateJobError{Key: key})
}

// FailureReason classifies why an item failed
type FailureReason string

const (
	FailureNetwork      FailureReason = "network"      // Transport error, no response
	FailureTimeout      FailureReason = "timeout"      // Deadline exceeded
	FailureRateLimited  FailureReason = "rate_limited" // Remote throttled us (429)
	FailureServer       FailureReason = "server"       // Remote 5xx
	FailureHTTP         FailureReason = "http"         // Remote 4xx other than auth/throttle
	FailureUnauthorized FailureReason = "unauthorized" // Remote rejected credentials
	FailureRemote       FailureReason = "remote"       // 2xx with an application error code
	FailureValidation   FailureReason = "validation"   // Item rejected before any remote call
	FailureCancelled    FailureReason = "cancelled"    // Job ended mid-call
	FailurePanic        FailureReason = "panic"        // Processor panicked
	FailureUnknown      FailureReason = "unknown"
)

// Retryable reports whether a retry of the same call could plausibly succeed
func (r FailureReason) Retryable() bool {
	switch r {
	case FailureNetwork, FailureTimeout, FailureRateLimited, FailureServer:
		return true
	default:
		return false
	}
}

// ReasonError attaches a FailureReason to an error
type ReasonError struct {
	Reason FailureReason
	Err    error
}

func (e *ReasonError) Error() string {
	return e.Err.Error()
}

func (e *ReasonError) Unwrap() error {
	return e.Err
}

// WithReason tags err with a FailureReason that ClassifyError will honour
func WithReason(err error, reason FailureReason) error {
	if err == nil {
		return nil
	}
	return &ReasonError{Reason: reason, Err: err}
}

// ClassifyError maps an error to a FailureReason.
// Explicit tags win, then typed errors, then message patterns.
func ClassifyError(err error) FailureReason {
	if err == nil {
		return FailureUnknown
	}

	var tagged *ReasonError
	if errors.As(err, &tagged) {
		return tagged.Reason
	}

	switch {
	case errors.Is(err, context.Canceled):
		return FailureCancelled
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, errors.ErrTimeout):
		return FailureTimeout
	case errors.Is(err, errors.ErrUnauthorized):
		return FailureUnauthorized
	case errors.Is(err, errors.ErrInvalidRequest):
		return FailureValidation
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return FailureTimeout
		}
		return FailureNetwork
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return FailureNetwork
	}

	errLower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errLower, "deadline exceeded") || strings.Contains(errLower, "timed out") || strings.Contains(errLower, "timeout"):
		return FailureTimeout
	case strings.Contains(errLower, "connection") || strings.Contains(errLower, "network") || strings.Contains(errLower, "no such host"):
		return FailureNetwork
	case strings.Contains(errLower, "too many requests") || strings.Contains(errLower, "rate limit"):
		return FailureRateLimited
	case strings.Contains(errLower, "validation") || strings.Contains(errLower, "invalid"):
		return FailureValidation
	default:
		return FailureUnknown
	}
}
