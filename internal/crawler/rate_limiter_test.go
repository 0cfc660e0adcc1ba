package crawler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// timeWaits returns how long the given sequence of Wait calls took
func timeWaits(t *testing.T, limiter *RateLimiter, urls ...string) time.Duration {
	t.Helper()

	start := time.Now()
	for _, u := range urls {
		require.NoError(t, limiter.Wait(context.Background(), u), "Wait(%s)", u)
	}
	return time.Since(start)
}

func TestRateLimiterSpacesRequestsPerHost(t *testing.T) {
	limiter := NewRateLimiter(100 * time.Millisecond)

	assert.GreaterOrEqual(t, timeWaits(t, limiter, "https://docs.example.com/a", "https://docs.example.com/b"), 100*time.Millisecond,
		"second request to the same host waits")

	// Host matching ignores case and port
	assert.GreaterOrEqual(t, timeWaits(t, limiter, "https://DOCS.example.com:443/c"), 50*time.Millisecond)

	assert.LessOrEqual(t, timeWaits(t, limiter, "https://blog.example.com/"), 20*time.Millisecond,
		"another host is not delayed")
}

func TestRateLimiterCrawlDelayRaisesInterval(t *testing.T) {
	limiter := NewRateLimiter(50 * time.Millisecond)

	// Limiter already exists before the crawl delay is learned
	timeWaits(t, limiter, "https://example.com/robots-first")
	limiter.SetDomainDelay("example.com", 200*time.Millisecond)

	assert.GreaterOrEqual(t, timeWaits(t, limiter, "https://example.com/a", "https://example.com/b"), 200*time.Millisecond)
}

func TestRateLimiterWaitErrors(t *testing.T) {
	limiter := NewRateLimiter(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, limiter.Wait(ctx, "https://example.com/1"))
	cancel()

	assert.ErrorIs(t, limiter.Wait(ctx, "https://example.com/2"), context.Canceled)
	assert.Error(t, limiter.Wait(context.Background(), "http://[::1]:namedport"), "unparsable URL")
}

func TestRateLimiterZeroDelay(t *testing.T) {
	limiter := NewRateLimiter(0)

	urls := make([]string, 5)
	for i := range urls {
		urls[i] = "https://example.com/page"
	}
	assert.LessOrEqual(t, timeWaits(t, limiter, urls...), 50*time.Millisecond)
}

func TestRateLimiterDomainDelayNeverBelowDefault(t *testing.T) {
	limiter := NewRateLimiter(200 * time.Millisecond)

	tests := []struct {
		set    time.Duration
		lookup string
		want   time.Duration
	}{
		{50 * time.Millisecond, "example.com", 200 * time.Millisecond},
		{time.Second, "EXAMPLE.COM", time.Second},
		{0, "other.com", 200 * time.Millisecond},
	}

	for _, tt := range tests {
		if tt.set > 0 {
			limiter.SetDomainDelay("Example.com", tt.set)
		}
		assert.Equal(t, tt.want, limiter.DomainDelay(tt.lookup), "after SetDomainDelay(%v)", tt.set)
	}
}
