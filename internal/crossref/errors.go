package crossref

import (
	"errors"
	"fmt"
)

// Common errors returned by the Crossref client.
var (
	// ErrRateLimited indicates the API kept answering 429 until retries ran out.
	ErrRateLimited = errors.New("crossref rate limit exceeded")

	// ErrUnavailable indicates repeated 5xx responses.
	ErrUnavailable = errors.New("crossref service unavailable")

	// ErrBadRequest indicates a 400 that no degradation could fix.
	ErrBadRequest = errors.New("crossref rejected the request")

	// ErrUnexpectedStatus indicates any other non-success status.
	ErrUnexpectedStatus = errors.New("unexpected status from crossref")

	// ErrNetworkError indicates a network connectivity issue.
	ErrNetworkError = errors.New("network error communicating with crossref")

	// ErrInvalidResponse indicates a body that could not be decoded. It is
	// transient: the same cursor should be requested again.
	ErrInvalidResponse = errors.New("invalid response from crossref")
)

// TransportError is a fatal request failure. Err is one of the sentinel
// errors above and is reachable through errors.Is.
type TransportError struct {
	StatusCode int // 0 for network errors
	Attempts   int
	Body       string // truncated response body, for diagnostics
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%v (after %d attempts)", e.Err, e.Attempts)
	}
	return fmt.Sprintf("%v (status %d, after %d attempts)", e.Err, e.StatusCode, e.Attempts)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err should be retried by re-requesting the same cursor.
func IsTransient(err error) bool {
	return errors.Is(err, ErrInvalidResponse)
}

// IsFatal reports whether err ends a harvest run.
func IsFatal(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
