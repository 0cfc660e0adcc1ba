package sink

import "errors"

var (
	// ErrSinkFailed is returned for writes after a store write has failed
	ErrSinkFailed = errors.New("output sink failed")
	// ErrSinkClosed is returned for writes after Close
	ErrSinkClosed = errors.New("output sink closed")
)
