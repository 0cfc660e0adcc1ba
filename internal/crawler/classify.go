package crawler

import (
	"context"
	"errors"
	"net"

	"github.com/masahif/vectorcrawl/internal/frontier"
)

// classifyError maps a transport error from HTTPClient.Get to a failure kind
func classifyError(err error) *frontier.Failure {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return &frontier.Failure{Kind: frontier.FailureTimeout, Err: err}
		}
		if dnsErr.IsTemporary {
			return &frontier.Failure{Kind: frontier.FailureConnection, Err: err}
		}
		return &frontier.Failure{Kind: frontier.FailureDNS, Err: err}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &frontier.Failure{Kind: frontier.FailureTimeout, Err: err}
	}

	if errors.Is(err, context.Canceled) {
		return &frontier.Failure{Kind: frontier.FailureCanceled, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &frontier.Failure{Kind: frontier.FailureTimeout, Err: err}
	}

	if errors.Is(err, errInvalidRequest) {
		return &frontier.Failure{Kind: frontier.FailureMalformed, Err: err}
	}

	return &frontier.Failure{Kind: frontier.FailureConnection, Err: err}
}
