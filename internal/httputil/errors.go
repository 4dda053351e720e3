package httputil

import (
	"errors"
	"fmt"
	"time"
)

// TransientError is a retry-eligible failure: rate limiting, a 5xx response
// or a transport error. RetryAfter carries the server's suggested wait.
type TransientError struct {
	StatusCode int
	RetryAfter time.Duration
	Timeout    bool
	Body       string
	Err        error
}

func (e *TransientError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("transient: %v", e.Err)
	case e.RetryAfter > 0:
		return fmt.Sprintf("transient: HTTP %d (retry after %s): %s", e.StatusCode, e.RetryAfter, e.Body)
	default:
		return fmt.Sprintf("transient: HTTP %d: %s", e.StatusCode, e.Body)
	}
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError is a non-retryable client error such as a bad request or
// rejected credentials.
type PermanentError struct {
	StatusCode int
	Body       string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent: HTTP %d: %s", e.StatusCode, e.Body)
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
