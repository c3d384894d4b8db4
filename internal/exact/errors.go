// Package exact is the HTTP transport for the Exact Online REST API: URL
// resolution against the division root, OAuth2 bearer tokens, client-side
// throttling, retry of connection failures, and request metrics. Response
// classification is left to internal/odata.
package exact

import "errors"

var (
	// ErrNotLoggedIn is returned when no token file exists.
	ErrNotLoggedIn = errors.New("exact: not logged in")
	// ErrNoDivision is returned for division-scoped requests when no
	// division is configured.
	ErrNoDivision = errors.New("exact: no division configured")
)
