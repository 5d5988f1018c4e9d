package exchange

import (
	"errors"
	"fmt"
	"net/http"

	"spreadbot-go/internal/signal"
)

// SigningError means a request could not be authenticated; nothing was sent.
type SigningError struct {
	Reason string
}

func (e *SigningError) Error() string { return "sign request: " + e.Reason }

// HTTPError is a non-200 HTTP response.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.Status, e.Body)
}

// APIError is a 200 response whose envelope reports failure.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
}

// TransportError wraps network, timeout, decoding and circuit-breaker failures.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

// EmptyResultError means the venue returned no entry for the requested symbol.
type EmptyResultError struct {
	Symbol  string
	Segment signal.Segment
}

func (e *EmptyResultError) Error() string {
	return fmt.Sprintf("no %s ticker for %s", e.Segment, e.Symbol)
}

// Retryable reports whether err is a transient transport-level failure worth retrying.
func Retryable(err error) bool {
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status == http.StatusTooManyRequests || httpErr.Status >= 500
	}
	return false
}
