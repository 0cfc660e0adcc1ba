package crawler

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/masahif/vectorcrawl/internal/metrics"
)

// RateLimiter spaces out requests per domain.
// All workers share one limiter per host; the map is guarded by mu.
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	delays   map[string]time.Duration
	mu       sync.RWMutex
	delay    time.Duration
}

// NewRateLimiter creates a rate limiter with the given default interval.
// A non-positive delay disables limiting.
func NewRateLimiter(defaultDelay time.Duration) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		delays:   make(map[string]time.Duration),
		delay:    defaultDelay,
	}
}

// Wait blocks until a request to urlStr's domain may proceed
func (r *RateLimiter) Wait(ctx context.Context, urlStr string) error {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return err
	}

	domain := strings.ToLower(parsedURL.Hostname())
	limiter := r.getLimiter(domain)

	start := time.Now()
	err = limiter.Wait(ctx)
	metrics.ObserveRateLimitWait(domain, time.Since(start))
	return err
}

// SetDomainDelay raises a domain's interval, e.g. from a robots.txt Crawl-delay.
// It never lowers the interval below the configured default.
func (r *RateLimiter) SetDomainDelay(domain string, delay time.Duration) {
	domain = strings.ToLower(domain)

	r.mu.Lock()
	defer r.mu.Unlock()

	if delay < r.delay {
		delay = r.delay
	}
	if current, ok := r.delays[domain]; ok && current == delay {
		return
	}

	r.delays[domain] = delay
	if limiter, ok := r.limiters[domain]; ok {
		limiter.SetLimit(limitFor(delay))
		return
	}
	r.limiters[domain] = rate.NewLimiter(limitFor(delay), 1)
}

// DomainDelay returns the interval currently applied to a domain
func (r *RateLimiter) DomainDelay(domain string) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if delay, ok := r.delays[strings.ToLower(domain)]; ok {
		return delay
	}
	return r.delay
}

// getLimiter gets or creates a rate limiter for a domain
func (r *RateLimiter) getLimiter(domain string) *rate.Limiter {
	r.mu.RLock()
	limiter, exists := r.limiters[domain]
	r.mu.RUnlock()

	if exists {
		return limiter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Check again in case another goroutine created it
	if limiter, exists := r.limiters[domain]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(limitFor(r.delay), 1)
	r.limiters[domain] = limiter
	return limiter
}

func limitFor(delay time.Duration) rate.Limit {
	if delay <= 0 {
		return rate.Inf
	}
	return rate.Every(delay)
}
