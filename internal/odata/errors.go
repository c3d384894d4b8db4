// Package odata decodes the OData v2 response envelope used by the Exact
// Online API and classifies HTTP outcomes into success, rate-limited, or
// failed responses.
package odata

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinel errors for classified responses.
// Use errors.Is(err, odata.ErrNotFound) to check.
var (
	ErrBadRequest      = errors.New("odata: bad request")
	ErrUnauthorized    = errors.New("odata: unauthorized")
	ErrPaymentRequired = errors.New("odata: payment required")
	ErrForbidden       = errors.New("odata: forbidden")
	ErrNotFound        = errors.New("odata: not found")
	ErrThrottled       = errors.New("odata: throttled")
	ErrServerError     = errors.New("odata: server error")

	ErrRateLimited               = errors.New("odata: rate limit exceeded")
	ErrMinutelyRateLimitExceeded = errors.New("odata: minutely rate limit exceeded")
	ErrDailyRateLimitExceeded    = errors.New("odata: daily rate limit exceeded")
)

// RateLimitKind identifies which rate-limit window was exhausted.
type RateLimitKind int

const (
	MinutelyRateLimit RateLimitKind = iota
	DailyRateLimit
)

func (k RateLimitKind) String() string {
	switch k {
	case MinutelyRateLimit:
		return "minutely"
	case DailyRateLimit:
		return "daily"
	default:
		return fmt.Sprintf("RateLimitKind(%d)", int(k))
	}
}

// RateLimitError is returned by NewResponse when a remaining-count header
// reports an exhausted window. It is terminal for the call; the caller owns
// backoff.
type RateLimitError struct {
	Kind       RateLimitKind
	Header     string
	Remaining  int
	Reset      time.Time // zero when the API sent no reset header
	StatusCode int
}

func (e *RateLimitError) Error() string {
	if !e.Reset.IsZero() {
		return fmt.Sprintf("odata: %s rate limit exceeded (%s=%d, resets at %s)",
			e.Kind, e.Header, e.Remaining, e.Reset.UTC().Format(time.RFC3339))
	}

	return fmt.Sprintf("odata: %s rate limit exceeded (%s=%d)", e.Kind, e.Header, e.Remaining)
}

func (e *RateLimitError) Unwrap() []error {
	if e.Kind == DailyRateLimit {
		return []error{ErrRateLimited, ErrDailyRateLimitExceeded}
	}

	return []error{ErrRateLimited, ErrMinutelyRateLimitExceeded}
}

// BadRequestError is returned by NewResponse for any status in the error
// code set. It keeps the raw response and its parser for diagnostics.
type BadRequestError struct {
	StatusCode int
	Message    string // error.message.value from the envelope, if any
	Raw        RawResponse
	Parser     *Parser
	Err        error // status sentinel, for errors.Is()
}

func (e *BadRequestError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("odata: HTTP %d: %s", e.StatusCode, e.Message)
	}

	return fmt.Sprintf("odata: HTTP %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Unwrap reports ErrBadRequest for every status in the error set, plus the
// status-specific sentinel when there is one.
func (e *BadRequestError) Unwrap() []error {
	if e.Err == nil || e.Err == ErrBadRequest {
		return []error{ErrBadRequest}
	}

	return []error{ErrBadRequest, e.Err}
}

// classifyStatus maps an error-set status code to its sentinel.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusPaymentRequired:
		return ErrPaymentRequired
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}
