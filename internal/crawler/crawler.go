// Package crawler provides the fetch worker pool.
// It leases URLs from the frontier, fetches them politely, and hands
// successful pages to extraction, enrichment and the output sink.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/masahif/vectorcrawl/internal/config"
	"github.com/masahif/vectorcrawl/internal/extractor"
	"github.com/masahif/vectorcrawl/internal/frontier"
	"github.com/masahif/vectorcrawl/internal/metrics"
)

// statsInterval is how often progress is logged while a run is active
var statsInterval = 10 * time.Second

// DefaultCrawler implements the Crawler interface
type DefaultCrawler struct {
	config      *config.CrawlConfig
	frontier    *frontier.Frontier
	fetcher     Fetcher
	httpClient  *HTTPClient
	extractor   ContentExtractor
	enricher    Enricher
	sink        RecordSink
	rateLimiter *RateLimiter
	robots      *RobotsParser
	scope       *Scope

	// State
	stats      CrawlStats
	statsMutex sync.RWMutex
	wg         sync.WaitGroup

	stopOnce  sync.Once
	stopLease context.CancelFunc
	abortWork context.CancelCauseFunc
	abortMu   sync.Mutex
	abortErr  error
}

// Option customizes a DefaultCrawler
type Option func(*DefaultCrawler)

// WithFetcher replaces the HTTP client used for pages and robots.txt
func WithFetcher(f Fetcher) Option {
	return func(c *DefaultCrawler) { c.fetcher = f }
}

// WithExtractor replaces the content extractor
func WithExtractor(e ContentExtractor) Option {
	return func(c *DefaultCrawler) { c.extractor = e }
}

// NewCrawler creates a crawler. The enricher and sink are required; the
// HTTP client, extractor, rate limiter, robots checker and frontier are
// built from the configuration.
func NewCrawler(cfg *config.CrawlConfig, enricher Enricher, sink RecordSink, opts ...Option) (*DefaultCrawler, error) {
	if enricher == nil || sink == nil {
		return nil, errors.New("crawler requires an enricher and a sink")
	}

	httpClient := NewHTTPClient(cfg.UserAgent, cfg.RequestTimeout, cfg.MaxPageBytes)

	if cfg.Auth != nil {
		switch cfg.Auth.Type {
		case "basic":
			if username, password := cfg.GetBasicAuthCredentials(); username != "" && password != "" {
				httpClient.SetBasicAuth(username, password)
			}
		case "bearer":
			if token := cfg.GetBearerToken(); token != "" {
				httpClient.SetBearerAuth(token)
			}
		case "api-key":
			if cfg.Auth.APIKey != nil && cfg.Auth.APIKey.Header != "" {
				httpClient.SetAPIKeyAuth(cfg.Auth.APIKey.Header, cfg.Auth.APIKey.Value)
			}
		}
	}

	headers, err := cfg.ParseHeaders()
	if err != nil {
		return nil, err
	}
	if len(headers) > 0 {
		httpClient.SetCustomHeaders(headers)
		slog.Info("Set custom headers", "count", len(headers))
	}

	c := &DefaultCrawler{
		config:     cfg,
		httpClient: httpClient,
		fetcher:    httpClient,
		extractor: extractor.New(extractor.Config{
			ChunkSize: cfg.ChunkSize,
			Lookback:  cfg.ChunkLookback,
		}),
		enricher:    enricher,
		sink:        sink,
		rateLimiter: NewRateLimiter(cfg.RequestDelay),
		frontier: frontier.New(frontier.Config{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
		}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.robots = NewRobotsParser(c.fetcher, cfg.UserAgent, !cfg.RespectRobots)

	return c, nil
}

// Frontier exposes the URL tracker, e.g. to pre-mark completed URLs on resume
func (c *DefaultCrawler) Frontier() *frontier.Frontier {
	return c.frontier
}

// Start seeds the frontier, runs the worker pool until every URL is done,
// and returns. Cancelling ctx stops new fetches; in-flight pages are still
// finished and written. A sink failure aborts the run and is returned.
func (c *DefaultCrawler) Start(ctx context.Context, seedURLs []string) error {
	scope, err := NewScope(scopeBase(c.config.BaseURL, seedURLs), c.config.IncludePatterns, c.config.ExcludePatterns)
	if err != nil {
		return err
	}
	c.scope = scope

	c.statsMutex.Lock()
	c.stats = CrawlStats{StartTime: time.Now()}
	c.statsMutex.Unlock()

	// workCtx outlives the stop signal so in-flight pages can finish
	workCtx, abortWork := context.WithCancelCause(context.WithoutCancel(ctx))
	defer abortWork(nil)
	leaseCtx, stopLease := context.WithCancel(ctx)
	defer stopLease()

	c.abortMu.Lock()
	c.abortWork = abortWork
	c.stopLease = stopLease
	c.abortMu.Unlock()

	slog.Info("Starting crawler", "seed_urls", len(seedURLs), "workers", c.config.Concurrency)
	queued := c.seed(workCtx, seedURLs)
	slog.Info("Added seed URLs to frontier", "count", queued)

	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(leaseCtx, workCtx, i)
	}

	reporterDone := make(chan struct{})
	go c.statsReporter(reporterDone)

	c.wg.Wait()
	close(reporterDone)

	// Keys still waiting out a backoff become failures
	for _, task := range c.frontier.Shutdown() {
		c.recordFailure(workCtx, task, &frontier.Failure{Kind: frontier.FailureCanceled, Err: errors.New("run stopped before retry")})
	}

	c.reportStats("Crawl finished")

	if err := c.err(); err != nil {
		slog.Error("Crawl aborted", "error", err)
		return err
	}
	if ctx.Err() != nil {
		slog.Info("Crawling cancelled")
		return nil
	}
	slog.Info("Crawling completed")
	return nil
}

// Stop stops leasing new URLs; work in progress is allowed to finish
func (c *DefaultCrawler) Stop() error {
	c.abortMu.Lock()
	stop := c.stopLease
	c.abortMu.Unlock()

	if stop != nil {
		stop()
	}
	c.httpClient.Close()
	return nil
}

// Abort cancels in-flight work as well as leasing; used when output can no longer be written
func (c *DefaultCrawler) Abort(cause error) {
	c.stopOnce.Do(func() {
		c.abortMu.Lock()
		c.abortErr = cause
		abort, stop := c.abortWork, c.stopLease
		c.abortMu.Unlock()

		slog.Error("Aborting crawl", "error", cause)
		if stop != nil {
			stop()
		}
		if abort != nil {
			abort(cause)
		}
	})
}

func (c *DefaultCrawler) err() error {
	c.abortMu.Lock()
	defer c.abortMu.Unlock()
	return c.abortErr
}

// GetStats returns current crawling statistics
func (c *DefaultCrawler) GetStats() CrawlStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()

	stats := c.stats
	stats.Duration = time.Since(stats.StartTime)
	return stats
}

// seed enqueues in-scope seeds; malformed ones are recorded as failures
func (c *DefaultCrawler) seed(ctx context.Context, seedURLs []string) int {
	queued := 0
	for _, seedURL := range seedURLs {
		if c.config.Limit > 0 && queued >= c.config.Limit {
			slog.Info("Seed limit reached", "limit", c.config.Limit)
			break
		}

		if _, _, err := frontier.Normalize(seedURL); err != nil {
			slog.Warn("Skipping malformed URL", "url", seedURL, "error", err)
			c.recordFailure(ctx, frontier.URLTask{URL: seedURL}, &frontier.Failure{Kind: frontier.FailureMalformed, Err: err})
			continue
		}

		if !c.scope.Allows(seedURL) {
			slog.Info("Skipping out-of-scope URL", "url", seedURL)
			continue
		}

		added, err := c.frontier.Enqueue(seedURL)
		if err != nil {
			slog.Warn("Failed to enqueue URL", "url", seedURL, "error", err)
			continue
		}
		if added {
			queued++
		}
	}
	return queued
}

// worker leases URLs until the frontier closes or leasing is stopped
func (c *DefaultCrawler) worker(leaseCtx, workCtx context.Context, id int) {
	defer c.wg.Done()

	slog.Debug("Worker started", "worker_id", id)
	defer slog.Debug("Worker stopped", "worker_id", id)

	for {
		task, err := c.frontier.Lease(leaseCtx)
		if err != nil {
			return
		}
		c.processTask(leaseCtx, workCtx, id, task)
	}
}

// processTask runs one attempt for a leased URL and resolves it in the frontier
func (c *DefaultCrawler) processTask(leaseCtx, workCtx context.Context, id int, task frontier.URLTask) {
	if !c.checkRobots(workCtx, id, task) {
		return
	}

	// A stop signal during the politeness wait means the fetch never starts
	if err := c.rateLimiter.Wait(leaseCtx, task.URL); err != nil {
		c.handleFailure(workCtx, id, task, &frontier.Failure{Kind: frontier.FailureCanceled, Err: err})
		return
	}

	resp, err := c.fetcher.Get(workCtx, task.URL)
	if err != nil {
		failure := classifyError(err)
		metrics.ObserveFetch(task.Domain, failure.Kind.String(), 0)
		c.handleFailure(workCtx, id, task, failure)
		return
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.ObserveFetch(task.Domain, fmt.Sprintf("http_%d", resp.StatusCode), resp.Duration)
		c.handleFailure(workCtx, id, task, frontier.HTTPStatusFailure(resp.StatusCode))
		return
	}

	metrics.ObserveFetch(task.Domain, "ok", resp.Duration)
	c.updateStats(func(s *CrawlStats) { s.Fetched++ })
	slog.Info("Fetched URL", "worker_id", id, "url", task.URL, "status", resp.StatusCode,
		"bytes", len(resp.Body), "attempt", task.Attempt, "duration", resp.Duration)
	if resp.Truncated {
		slog.Warn("Response body truncated", "url", task.URL, "limit", c.config.MaxPageBytes)
	}

	result := &FetchResult{
		URL:         task.URL,
		FinalURL:    resp.FinalURL,
		StatusCode:  resp.StatusCode,
		Body:        resp.Body,
		ContentType: resp.ContentType,
		FetchedAt:   time.Now().UTC(),
		Duration:    resp.Duration,
	}
	c.handlePage(workCtx, id, task, result)
}

// checkRobots resolves disallowed URLs as permanent failures
func (c *DefaultCrawler) checkRobots(ctx context.Context, id int, task frontier.URLTask) bool {
	allowed, err := c.robots.IsAllowed(ctx, task.URL)
	if err != nil {
		slog.Warn("Worker robots.txt check failed", "worker_id", id, "url", task.URL, "error", err)
	}

	if u, parseErr := url.Parse(task.URL); parseErr == nil {
		if delay := c.robots.GetCrawlDelay(u.Host); delay > 0 {
			c.rateLimiter.SetDomainDelay(u.Hostname(), delay)
		}
	}

	if !allowed {
		slog.Info("URL disallowed by robots.txt", "worker_id", id, "url", task.URL)
		c.handleFailure(ctx, id, task, &frontier.Failure{Kind: frontier.FailureDisallowed, Err: errors.New("disallowed by robots.txt")})
		return false
	}
	return true
}

// handlePage extracts, enriches and writes one fetched page
func (c *DefaultCrawler) handlePage(ctx context.Context, id int, task frontier.URLTask, result *FetchResult) {
	if !IsHTML(result.ContentType) {
		slog.Info("No extractable content", "worker_id", id, "url", task.URL, "content_type", result.ContentType)
		c.complete(ctx, task, 0, true)
		return
	}

	chunks, err := c.extractor.Extract(task.URL, result.Body)
	if err != nil {
		slog.Debug("Extraction failed", "url", task.URL, "error", err)
	}
	if len(chunks) == 0 {
		slog.Info("No extractable content", "worker_id", id, "url", task.URL)
		c.complete(ctx, task, 0, true)
		return
	}
	metrics.AddChunks(len(chunks))

	records := c.enricher.EnrichChunks(ctx, chunks)

	fallbacks := 0
	for _, rec := range records {
		if rec.SummaryFallback || rec.EmbeddingMissing {
			fallbacks++
		}
	}
	c.updateStats(func(s *CrawlStats) {
		s.Enriched += len(chunks)
		s.Fallbacks += fallbacks
	})

	if err := c.sink.WriteRecords(ctx, records); err != nil {
		c.Abort(fmt.Errorf("failed to write records for %s: %w", task.URL, err))
		if completeErr := c.frontier.Complete(task.Key, false); completeErr != nil {
			slog.Error("Failed to complete URL", "url", task.URL, "error", completeErr)
		}
		return
	}

	c.updateStats(func(s *CrawlStats) { s.Records += len(records) })
	slog.Info("Processed URL", "worker_id", id, "url", task.URL, "chunks", len(chunks), "fallbacks", fallbacks)
	c.complete(ctx, task, len(records), false)
}

// complete marks a URL done and records its success outcome
func (c *DefaultCrawler) complete(ctx context.Context, task frontier.URLTask, records int, empty bool) {
	if err := c.frontier.Complete(task.Key, true); err != nil {
		slog.Error("Failed to complete URL", "url", task.URL, "error", err)
		return
	}

	c.updateStats(func(s *CrawlStats) {
		s.Succeeded++
		if empty {
			s.EmptyPages++
		}
	})

	outcome := &Outcome{
		URL:        task.URL,
		Key:        task.Key,
		Status:     OutcomeSucceeded,
		Attempts:   task.Attempt,
		Records:    records,
		FinishedAt: time.Now().UTC(),
	}
	if err := c.sink.RecordOutcome(ctx, outcome); err != nil {
		c.Abort(fmt.Errorf("failed to record outcome for %s: %w", task.URL, err))
	}
}

// handleFailure hands a failed attempt to the frontier's retry policy
func (c *DefaultCrawler) handleFailure(ctx context.Context, id int, task frontier.URLTask, failure *frontier.Failure) {
	slog.Warn("Fetch failed", "worker_id", id, "url", task.URL, "attempt", task.Attempt, "kind", failure.Kind.String(), "error", failure)

	decision, err := c.frontier.Retry(task.Key, failure)
	if err != nil {
		slog.Error("Failed to resolve URL", "url", task.URL, "error", err)
		return
	}

	if decision == frontier.DecisionRetry {
		metrics.IncRetry(failure.Kind.String())
		c.updateStats(func(s *CrawlStats) { s.Retried++ })
		return
	}

	c.recordFailure(ctx, task, failure)
}

// recordFailure writes the outcome of a permanently failed URL
func (c *DefaultCrawler) recordFailure(ctx context.Context, task frontier.URLTask, failure *frontier.Failure) {
	metrics.IncPermanentFailure(failure.Kind.String())
	c.updateStats(func(s *CrawlStats) { s.Failed++ })

	outcome := &Outcome{
		URL:         task.URL,
		Key:         task.Key,
		Status:      OutcomeFailed,
		Attempts:    task.Attempt,
		FailureKind: failure.Kind.String(),
		StatusCode:  failure.StatusCode,
		Message:     failure.Error(),
		FinishedAt:  time.Now().UTC(),
	}
	if outcome.Key == "" {
		outcome.Key = task.URL
	}

	if err := c.sink.RecordOutcome(ctx, outcome); err != nil {
		c.Abort(fmt.Errorf("failed to record outcome for %s: %w", task.URL, err))
	}
}

func (c *DefaultCrawler) updateStats(update func(*CrawlStats)) {
	c.statsMutex.Lock()
	defer c.statsMutex.Unlock()
	update(&c.stats)
}

// statsReporter periodically reports crawling statistics
func (c *DefaultCrawler) statsReporter(done <-chan struct{}) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.reportStats("Crawling stats")
		}
	}
}

func (c *DefaultCrawler) reportStats(msg string) {
	snap := c.frontier.Snapshot()
	metrics.SetFrontier(snap.Pending, snap.InFlight, snap.Done)

	stats := c.GetStats()
	slog.Info(msg,
		"fetched", stats.Fetched,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
		"retried", stats.Retried,
		"records", stats.Records,
		"fallbacks", stats.Fallbacks,
		"pending", snap.Pending,
		"in_flight", snap.InFlight,
		"scheduled", snap.Scheduled,
		"duration", stats.Duration)
}

// scopeBase returns the explicit base URL, or the origin of the first seed
func scopeBase(baseURL string, seeds []string) string {
	if baseURL != "" {
		return baseURL
	}
	for _, seed := range seeds {
		if _, u, err := frontier.Normalize(seed); err == nil {
			return u.Scheme + "://" + u.Host + "/"
		}
	}
	return ""
}
