package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masahif/vectorcrawl/internal/config"
	"github.com/masahif/vectorcrawl/internal/extractor"
)

func init() {
	// Set error level logging during tests to only show critical issues
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	slog.SetDefault(logger)
}

// stubEnricher produces deterministic records without a backend
type stubEnricher struct{}

func (stubEnricher) EnrichChunks(_ context.Context, chunks []extractor.Chunk) []*EnrichedRecord {
	records := make([]*EnrichedRecord, 0, len(chunks))
	for _, c := range chunks {
		records = append(records, &EnrichedRecord{
			SourceURL:   c.SourceURL,
			ChunkIndex:  c.Index,
			Title:       fmt.Sprintf("Chunk %d", c.Index),
			Summary:     "summary",
			Embedding:   []float32{0.1, 0.2, 0.3},
			Text:        c.Text,
			CharLength:  c.CharLength,
			GeneratedAt: time.Now().UTC(),
		})
	}
	return records
}

// memorySink collects records and outcomes
type memorySink struct {
	mu       sync.Mutex
	records  map[string][]*EnrichedRecord
	outcomes map[string]*Outcome
	writeErr error
}

func newMemorySink() *memorySink {
	return &memorySink{
		records:  make(map[string][]*EnrichedRecord),
		outcomes: make(map[string]*Outcome),
	}
}

func (m *memorySink) WriteRecords(_ context.Context, records []*EnrichedRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writeErr != nil {
		return m.writeErr
	}
	for _, r := range records {
		m.records[r.SourceURL] = append(m.records[r.SourceURL], r)
	}
	return nil
}

func (m *memorySink) RecordOutcome(_ context.Context, outcome *Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[outcome.URL] = outcome
	return nil
}

func (m *memorySink) recordsFor(url string) []*EnrichedRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[url]
}

func (m *memorySink) outcomeFor(url string) *Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outcomes[url]
}

// sentences builds n sentences of exactly 50 characters including the trailing space
func sentences(n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, "Sentence %03d talks about crawling many web pages. ", i)
	}
	return strings.TrimSpace(sb.String())
}

func testConfig() *config.CrawlConfig {
	cfg := config.DefaultConfig()
	cfg.Concurrency = 2
	cfg.RequestDelay = 0
	cfg.RequestTimeout = 5 * time.Second
	cfg.UserAgent = "VectorCrawl-Test/1.0"
	cfg.RespectRobots = false
	cfg.ChunkSize = 1000
	cfg.ChunkLookback = 300
	cfg.MaxAttempts = 3
	cfg.RetryBaseDelay = 10 * time.Millisecond
	cfg.RetryMaxDelay = 50 * time.Millisecond
	return cfg
}

func htmlPage(body string) string {
	return "<html><body><main><p>" + body + "</p></main></body></html>"
}

// countingSite answers every path with the same page and counts requests
func countingSite(t *testing.T, body string, hits *int32) *httptest.Server {
	t.Helper()
	return serve(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		_, _ = w.Write([]byte(htmlPage(body)))
	})
}

// crawl runs one crawler over seeds and returns it with the error of Start
func crawl(t *testing.T, cfg *config.CrawlConfig, sink RecordSink, seeds ...string) (*DefaultCrawler, error) {
	t.Helper()

	c, err := NewCrawler(cfg, stubEnricher{}, sink)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return c, c.Start(ctx, seeds)
}

func TestCrawlerFetchRetryAndPermanentFailure(t *testing.T) {
	var flakyHits int32
	server := serve(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/long":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(htmlPage(sentences(50))))
		case "/flaky":
			if atomic.AddInt32(&flakyHits, 1) <= 2 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(htmlPage("Recovered page content.")))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	longURL := server.URL + "/long"
	flakyURL := server.URL + "/flaky"
	missingURL := server.URL + "/missing"

	sink := newMemorySink()
	c, err := crawl(t, testConfig(), sink, longURL, flakyURL, missingURL)
	require.NoError(t, err)

	records := sink.recordsFor(longURL)
	require.Len(t, records, 3)
	for i, r := range records {
		assert.Equal(t, i, r.ChunkIndex)
		assert.LessOrEqual(t, r.CharLength, 1000, "chunk %d", i)
	}

	assert.Len(t, sink.recordsFor(flakyURL), 1)
	assert.Equal(t, int32(3), atomic.LoadInt32(&flakyHits))
	if out := sink.outcomeFor(flakyURL); assert.NotNil(t, out) {
		assert.Equal(t, OutcomeSucceeded, out.Status)
		assert.Equal(t, 3, out.Attempts)
	}

	assert.Empty(t, sink.recordsFor(missingURL))
	out := sink.outcomeFor(missingURL)
	require.NotNil(t, out)
	assert.Equal(t, OutcomeFailed, out.Status)
	assert.Equal(t, "http_status", out.FailureKind)
	assert.Equal(t, http.StatusNotFound, out.StatusCode)
	assert.Equal(t, 1, out.Attempts)

	stats := c.GetStats()
	assert.Equal(t, 2, stats.Succeeded)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 2, stats.Retried)
	assert.Equal(t, 4, stats.Records)

	snap := c.Frontier().Snapshot()
	assert.Zero(t, snap.Pending)
	assert.Zero(t, snap.InFlight)
	assert.Equal(t, 3, snap.Done)
}

func TestCrawlerRetriesExhausted(t *testing.T) {
	var hits int32
	server := serve(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	})

	sink := newMemorySink()
	_, err := crawl(t, testConfig(), sink, server.URL+"/down")
	require.NoError(t, err)

	assert.Equal(t, int32(3), atomic.LoadInt32(&hits), "exactly MaxAttempts fetches")
	out := sink.outcomeFor(server.URL + "/down")
	require.NotNil(t, out)
	assert.Equal(t, OutcomeFailed, out.Status)
	assert.Equal(t, http.StatusBadGateway, out.StatusCode)
	assert.Equal(t, 3, out.Attempts)
}

func TestCrawlerDeduplicatesSeeds(t *testing.T) {
	var hits int32
	server := countingSite(t, "Only once.", &hits)

	_, err := crawl(t, testConfig(), newMemorySink(),
		server.URL+"/page",
		server.URL+"/page/",
		server.URL+"/page#section",
	)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "equivalent URLs are fetched once")
}

func TestCrawlerEmptyAndNonHTMLPages(t *testing.T) {
	server := serve(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/doc.pdf" {
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte("%PDF-1.4"))
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body><nav>Menu</nav></body></html>"))
	})

	urls := []string{server.URL + "/doc.pdf", server.URL + "/empty"}
	sink := newMemorySink()
	c, err := crawl(t, testConfig(), sink, urls...)
	require.NoError(t, err)

	for _, u := range urls {
		out := sink.outcomeFor(u)
		if assert.NotNil(t, out, u) {
			assert.Equal(t, OutcomeSucceeded, out.Status, u)
			assert.Zero(t, out.Records, u)
		}
	}
	stats := c.GetStats()
	assert.Equal(t, 2, stats.EmptyPages)
	assert.Zero(t, stats.Records)
}

func TestCrawlerMalformedAndOutOfScopeSeeds(t *testing.T) {
	var hits int32
	server := countingSite(t, "In scope.", &hits)

	cfg := testConfig()
	cfg.BaseURL = server.URL + "/docs/"

	sink := newMemorySink()
	_, err := crawl(t, cfg, sink, "ftp://example.com/file", server.URL+"/blog/post", server.URL+"/docs/intro")
	require.NoError(t, err)

	out := sink.outcomeFor("ftp://example.com/file")
	require.NotNil(t, out)
	assert.Equal(t, OutcomeFailed, out.Status)
	assert.Equal(t, "malformed", out.FailureKind)

	assert.Nil(t, sink.outcomeFor(server.URL+"/blog/post"), "out-of-scope URL is not attempted")
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestCrawlerRobotsDisallowed(t *testing.T) {
	var pageHits int32
	server := serve(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
			return
		}
		atomic.AddInt32(&pageHits, 1)
		_, _ = w.Write([]byte(htmlPage("Public text.")))
	})

	cfg := testConfig()
	cfg.RespectRobots = true

	sink := newMemorySink()
	_, err := crawl(t, cfg, sink, server.URL+"/private/x", server.URL+"/public")
	require.NoError(t, err)

	out := sink.outcomeFor(server.URL + "/private/x")
	require.NotNil(t, out)
	assert.Equal(t, "robots_disallowed", out.FailureKind)
	assert.Equal(t, int32(1), atomic.LoadInt32(&pageHits), "only the allowed page is fetched")
}

func TestCrawlerResumeSkipsCompletedURLs(t *testing.T) {
	var hits int32
	server := countingSite(t, "Fresh.", &hits)

	sink := newMemorySink()
	c, err := NewCrawler(testConfig(), stubEnricher{}, sink)
	require.NoError(t, err)
	require.Equal(t, 1, c.Frontier().MarkDone([]string{server.URL + "/done/"}))

	require.NoError(t, c.Start(context.Background(), []string{server.URL + "/done", server.URL + "/new"}))

	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "only the new URL is fetched")
	assert.Empty(t, sink.recordsFor(server.URL+"/done"))
}

func TestCrawlerLimit(t *testing.T) {
	var hits int32
	server := countingSite(t, "Page.", &hits)

	cfg := testConfig()
	cfg.Limit = 2

	_, err := crawl(t, cfg, newMemorySink(), server.URL+"/1", server.URL+"/2", server.URL+"/3", server.URL+"/4")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestCrawlerSinkFailureAborts(t *testing.T) {
	var hits int32
	server := countingSite(t, "Content that cannot be stored.", &hits)

	sink := newMemorySink()
	sink.writeErr = errors.New("disk full")

	cfg := testConfig()
	cfg.Concurrency = 1

	c, err := crawl(t, cfg, sink, server.URL+"/a", server.URL+"/b", server.URL+"/c")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Zero(t, c.GetStats().Records)
}

func TestCrawlerCancelDrainsInFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var slowHits, otherHits int32

	server := serve(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			if atomic.AddInt32(&slowHits, 1) == 1 {
				close(started)
			}
			<-release
			_, _ = w.Write([]byte(htmlPage("Finished after the stop signal.")))
			return
		}
		atomic.AddInt32(&otherHits, 1)
		_, _ = w.Write([]byte(htmlPage("Never reached.")))
	})

	cfg := testConfig()
	cfg.Concurrency = 1

	sink := newMemorySink()
	c, err := NewCrawler(cfg, stubEnricher{}, sink)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Start(ctx, []string{server.URL + "/slow", server.URL + "/other"})
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for the fetch to start")
	}
	cancel()
	close(release)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after cancellation")
	}

	assert.Len(t, sink.recordsFor(server.URL+"/slow"), 1, "in-flight page is written")
	assert.Zero(t, atomic.LoadInt32(&otherHits), "nothing new is fetched after cancellation")
}

func TestCrawlerCancelDuringBackoff(t *testing.T) {
	var hits int32
	server := serve(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	cfg := testConfig()
	cfg.RetryBaseDelay = time.Minute
	cfg.RetryMaxDelay = time.Minute

	sink := newMemorySink()
	c, err := NewCrawler(cfg, stubEnricher{}, sink)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx, []string{server.URL + "/busy"}) }()

	require.Eventually(t, func() bool {
		return c.Frontier().Snapshot().Scheduled > 0
	}, 5*time.Second, 5*time.Millisecond, "retry never scheduled")
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after cancellation")
	}

	out := sink.outcomeFor(server.URL + "/busy")
	require.NotNil(t, out)
	assert.Equal(t, OutcomeFailed, out.Status)
	assert.Equal(t, "canceled", out.FailureKind)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}
