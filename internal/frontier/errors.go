package frontier

import "errors"

var (
	// ErrClosed is returned by Lease once the frontier is drained or shut down
	ErrClosed = errors.New("frontier closed")
	// ErrMalformedURL is returned when a URL cannot be normalized
	ErrMalformedURL = errors.New("malformed URL")
	// ErrNotInFlight is returned when completing or retrying a key that was not leased
	ErrNotInFlight = errors.New("key is not in flight")
)
