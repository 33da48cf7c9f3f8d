package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// TransientError marks a failure worth retrying: network errors, timeouts,
// rate limits, and server-side errors.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient gateway error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError marks a failure that retrying cannot fix: auth failures,
// malformed requests, or responses missing the expected structure.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent gateway error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientError.
func Transient(err error) error {
	return &TransientError{Err: err}
}

// Permanent wraps err as a PermanentError.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err is not worth retrying.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// classifyStatus wraps err according to the HTTP status of the response.
// 408/429 and all 5xx are transient; every other non-2xx status is permanent.
func classifyStatus(status int, err error) error {
	if status == 408 || status == 429 || status >= 500 {
		return Transient(err)
	}
	return Permanent(err)
}

// classifyTransport wraps a transport-level error. Context cancellation is
// passed through untouched so cooperative shutdown is not retried.
func classifyTransport(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient(err)
	}
	// Connection resets, DNS failures, deadline exceeded: all retryable.
	return Transient(err)
}
