package frontier

import (
	"fmt"
	"net/http"
	"time"
)

// URLTask is a leased unit of work
type URLTask struct {
	URL        string    // URL as it was enqueued
	Key        string    // Normalized identity key
	Domain     string    // Host name used for politeness
	Attempt    int       // 1 on the first lease, incremented on every re-lease
	EnqueuedAt time.Time // When the URL was first discovered (UTC)
}

// FailureKind tags the reason a fetch failed
type FailureKind int

// Failure kinds understood by the retry classifier
const (
	FailureTimeout FailureKind = iota + 1
	FailureConnection
	FailureHTTPStatus
	FailureMalformed
	FailureDNS
	FailureDisallowed
	FailureCanceled
)

// String returns the kind name used in logs and persisted outcomes
func (k FailureKind) String() string {
	switch k {
	case FailureTimeout:
		return "timeout"
	case FailureConnection:
		return "connection_error"
	case FailureHTTPStatus:
		return "http_status"
	case FailureMalformed:
		return "malformed"
	case FailureDNS:
		return "dns_error"
	case FailureDisallowed:
		return "robots_disallowed"
	case FailureCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Failure describes a failed fetch attempt.
// StatusCode is only meaningful for FailureHTTPStatus.
type Failure struct {
	Kind       FailureKind
	StatusCode int
	Err        error
}

// Error implements the error interface
func (f *Failure) Error() string {
	if f.Kind == FailureHTTPStatus {
		return fmt.Sprintf("%s: HTTP %d %s", f.Kind, f.StatusCode, http.StatusText(f.StatusCode))
	}
	if f.Err != nil {
		return fmt.Sprintf("%s: %v", f.Kind, f.Err)
	}
	return f.Kind.String()
}

// Unwrap returns the underlying error
func (f *Failure) Unwrap() error {
	return f.Err
}

// Retryable reports whether another attempt could succeed.
// Timeouts, connection errors, 5xx and 429 are transient; everything else is permanent.
func (f *Failure) Retryable() bool {
	switch f.Kind {
	case FailureTimeout, FailureConnection:
		return true
	case FailureHTTPStatus:
		return f.StatusCode >= 500 || f.StatusCode == http.StatusTooManyRequests
	case FailureMalformed, FailureDNS, FailureDisallowed, FailureCanceled:
		return false
	}
	return false
}

// HTTPStatusFailure builds a failure for a non-success status code
func HTTPStatusFailure(code int) *Failure {
	return &Failure{Kind: FailureHTTPStatus, StatusCode: code}
}
