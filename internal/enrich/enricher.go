// Package enrich turns text chunks into records with a title, summary and
// embedding produced by a model-inference backend. Backend failures never
// drop a record; the affected fields fall back instead.
package enrich

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/masahif/vectorcrawl/internal/config"
	"github.com/masahif/vectorcrawl/internal/crawler"
	"github.com/masahif/vectorcrawl/internal/extractor"
	"github.com/masahif/vectorcrawl/internal/metrics"
)

// maxTitleRunes bounds the heuristic title
const maxTitleRunes = 80

// Enricher bounds and retries backend calls and assembles records
type Enricher struct {
	backend Backend
	config  config.BackendConfig
	sem     *semaphore.Weighted
	now     func() time.Time
}

// NewEnricher creates an enricher. Every backend call, from any worker,
// holds one unit of a semaphore sized cfg.Concurrency.
func NewEnricher(backend Backend, cfg config.BackendConfig) *Enricher {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Enricher{
		backend: backend,
		config:  cfg,
		sem:     semaphore.NewWeighted(int64(cfg.Concurrency)),
		now:     time.Now,
	}
}

// EnrichChunks enriches every chunk of one page. Records come back in chunk order.
func (e *Enricher) EnrichChunks(ctx context.Context, chunks []extractor.Chunk) []*crawler.EnrichedRecord {
	records := make([]*crawler.EnrichedRecord, len(chunks))

	// No more chunks in flight than backend slots
	var g errgroup.Group
	g.SetLimit(e.config.Concurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			records[i] = e.Enrich(ctx, chunk)
			return nil
		})
	}
	_ = g.Wait()

	metrics.AddRecords(len(records))
	return records
}

// Enrich produces the record for one chunk. Summary and embedding are requested concurrently.
func (e *Enricher) Enrich(ctx context.Context, chunk extractor.Chunk) *crawler.EnrichedRecord {
	var (
		title, summary string
		embedding      []float32
		summaryErr     error
		embedErr       error
	)

	var g errgroup.Group
	g.Go(func() error {
		summaryErr = e.call(ctx, "summarize", func(callCtx context.Context) error {
			var err error
			title, summary, err = e.backend.Summarize(callCtx, chunk.SourceURL, chunk.Text)
			return err
		})
		return nil
	})
	g.Go(func() error {
		embedErr = e.call(ctx, "embed", func(callCtx context.Context) error {
			var err error
			embedding, err = e.backend.Embed(callCtx, chunk.Text)
			return err
		})
		return nil
	})
	_ = g.Wait()

	record := &crawler.EnrichedRecord{
		SourceURL:   chunk.SourceURL,
		ChunkIndex:  chunk.Index,
		Text:        chunk.Text,
		CharLength:  chunk.CharLength,
		GeneratedAt: e.now().UTC(),
		Model:       e.config.Model,
		EmbedModel:  e.config.EmbedModel,
	}

	if summaryErr != nil {
		slog.Warn("Summary fallback", "url", chunk.SourceURL, "chunk_index", chunk.Index, "error", summaryErr)
		metrics.IncFallback("summary")
		record.Title = HeuristicTitle(chunk.Text)
		record.SummaryFallback = true
	} else {
		record.Title = title
		record.Summary = summary
		if record.Title == "" {
			record.Title = HeuristicTitle(chunk.Text)
		}
	}

	if embedErr != nil {
		slog.Warn("Embedding missing", "url", chunk.SourceURL, "chunk_index", chunk.Index, "error", embedErr)
		metrics.IncFallback("embedding")
		record.EmbeddingMissing = true
	} else {
		record.Embedding = embedding
	}

	return record
}

// call runs fn with a per-attempt deadline while holding a backend slot,
// retrying transient failures with jittered exponential backoff
func (e *Enricher) call(ctx context.Context, operation string, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= e.config.MaxAttempts; attempt++ {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return err
		}

		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if e.config.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, e.config.Timeout)
		}
		start := time.Now()
		err := fn(callCtx)
		cancel()
		e.sem.Release(1)

		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.ObserveBackendCall(operation, result, time.Since(start))

		if err == nil {
			return nil
		}
		lastErr = err

		// Don't retry fatal errors
		if IsFatal(err) {
			return err
		}

		if attempt < e.config.MaxAttempts {
			backoff := e.backoff(attempt)
			slog.Debug("Backend call failed, retrying",
				"operation", operation,
				"attempt", attempt,
				"max_attempts", e.config.MaxAttempts,
				"backoff", backoff,
				"error", err)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return lastErr
}

// backoff computes the delay after a failed attempt, with +/- 25% jitter
func (e *Enricher) backoff(attempt int) time.Duration {
	backoff := e.config.BackoffBase
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if e.config.MaxBackoff > 0 && backoff > e.config.MaxBackoff {
			break
		}
	}
	if e.config.MaxBackoff > 0 && backoff > e.config.MaxBackoff {
		backoff = e.config.MaxBackoff
	}

	jitter := float64(backoff) * 0.25 * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}

// HeuristicTitle returns the first non-empty line of text with markdown
// heading markers removed, cut to 80 characters
func HeuristicTitle(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#"))
		if line == "" {
			continue
		}
		if utf8.RuneCountInString(line) > maxTitleRunes {
			line = strings.TrimSpace(string([]rune(line)[:maxTitleRunes]))
		}
		return line
	}
	return ""
}
