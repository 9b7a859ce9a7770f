package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// Failure classes. Every error returned by Client wraps exactly one of them.
var (
	// ErrPermanent means retrying the same request cannot succeed: the
	// remote rejected it or the object is gone.
	ErrPermanent = errors.New("permanent remote failure")

	// ErrRetriable means the request may succeed later: timeouts, network
	// errors, rate limiting and server errors.
	ErrRetriable = errors.New("retriable remote failure")
)

// StatusError is a non-2xx response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Unwrap returns the failure class of the status code.
func (e *StatusError) Unwrap() error {
	return classify(e.StatusCode)
}

// classify maps a non-2xx status to its failure class. 408, 429 and 5xx
// are worth retrying; any other 4xx describes a request that will keep
// failing.
func classify(status int) error {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return ErrRetriable
	default:
		return ErrPermanent
	}
}

// IsPermanent returns true if err should not be retried.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// IsRetriable returns true if err may succeed on a later attempt.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrRetriable)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
