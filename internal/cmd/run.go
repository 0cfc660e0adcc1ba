package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/masahif/vectorcrawl/internal/config"
	"github.com/masahif/vectorcrawl/internal/crawler"
	"github.com/masahif/vectorcrawl/internal/enrich"
	"github.com/masahif/vectorcrawl/internal/logging"
	"github.com/masahif/vectorcrawl/internal/metrics"
	"github.com/masahif/vectorcrawl/internal/sink"
	"github.com/masahif/vectorcrawl/internal/sitemap"
	"github.com/masahif/vectorcrawl/internal/storage"
)

// logOptions reads the logging flags, which are not part of CrawlConfig
func logOptions() logging.Config {
	logCfg := *logging.DefaultConfig()
	logCfg.Level = logging.ParseLevel(viper.GetString("log_level"))
	if format := viper.GetString("log_format"); format != "" {
		logCfg.Format = format
	}
	logCfg.FilePath = viper.GetString("log_file")
	return logCfg
}

// summary is what a run reports when it ends
type summary struct {
	RunID      string
	Stats      crawler.CrawlStats
	Written    int
	Duplicates int
	Sitemap    []string
}

// run executes one pipeline run against cfg and writes a summary to out.
// Permanent URL failures do not make it fail; output and backend errors do.
func run(ctx context.Context, cfg *config.CrawlConfig, seeds []string, logCfg logging.Config, out io.Writer) error {
	runID := uuid.NewString()
	logCfg.RunID = runID

	closer, err := logging.SetDefault(logCfg)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer func() { _ = closer.Close() }()

	if err := os.MkdirAll(cfg.OutputDir, 0750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	backend := enrich.NewOllamaClient(cfg.Backend.Endpoint, cfg.Backend.Model, cfg.Backend.EmbedModel, cfg.Backend.EmbedDim)
	if !cfg.SkipBackendCheck {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.Backend.Timeout)
		err := backend.Ping(pingCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("backend not reachable at %s: %w", cfg.Backend.Endpoint, err)
		}
	}

	store, err := storage.NewSQLiteStorage(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	existing, completed, err := prepareStore(store, cfg, runID)
	if err != nil {
		_ = store.Close()
		return err
	}

	jsonl, err := sink.NewJSONLWriter(cfg.RecordsPath())
	if err != nil {
		_ = store.Close()
		return err
	}

	// The crawler is created after the sink; a write failure aborts it
	var c *crawler.DefaultCrawler
	output := sink.New(sink.Tee(store, jsonl),
		sink.WithBuffer(cfg.SinkBuffer),
		sink.WithExisting(existing),
		sink.WithOnFatal(func(err error) {
			if c != nil {
				c.Abort(err)
			}
		}),
	)

	c, err = crawler.NewCrawler(cfg, enrich.NewEnricher(backend, cfg.Backend), output)
	if err != nil {
		_ = output.Close()
		return fmt.Errorf("failed to initialize crawler: %w", err)
	}

	if len(completed) > 0 {
		marked := c.Frontier().MarkDone(completed)
		slog.Info("Resuming run", "completed_urls", marked)
	}

	if cfg.MetricsAddr != "" {
		srv := metrics.NewServer(cfg.MetricsAddr, func() any { return c.GetStats() })
		if err := srv.Start(); err != nil {
			_ = output.Close()
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	slog.Info("Starting run",
		"seeds", len(seeds),
		"concurrency", cfg.Concurrency,
		"backend", cfg.Backend.Endpoint,
		"model", cfg.Backend.Model,
		"embed_model", cfg.Backend.EmbedModel,
		"output_dir", cfg.OutputDir)

	crawlErr := c.Start(ctx, seeds)
	_ = c.Stop()

	if err := store.SetMeta("finished_at", time.Now().UTC().Format(time.RFC3339)); err != nil {
		slog.Warn("Failed to record finish time", "error", err)
	}

	sinkErr := output.Close()

	urls := output.SitemapURLs()
	sitemapErr := sitemap.Write(cfg.SitemapPath(), urls, time.Now())
	if sitemapErr != nil {
		slog.Error("Failed to write sitemap", "error", sitemapErr)
	}

	written, duplicates := output.Written()
	result := summary{
		RunID:      runID,
		Stats:      c.GetStats(),
		Written:    written,
		Duplicates: duplicates,
		Sitemap:    urls,
	}
	printSummary(out, result)
	slog.Info("Run summary",
		"succeeded", result.Stats.Succeeded,
		"failed", result.Stats.Failed,
		"retried", result.Stats.Retried,
		"records", written,
		"duplicates_skipped", duplicates,
		"fallbacks", result.Stats.Fallbacks,
		"sitemap_urls", len(urls),
		"duration", result.Stats.Duration)

	if crawlErr != nil {
		return fmt.Errorf("run aborted: %w", crawlErr)
	}
	if sinkErr != nil {
		return fmt.Errorf("failed to write output: %w", sinkErr)
	}
	return sitemapErr
}

// prepareStore records run metadata and loads what earlier runs produced
func prepareStore(store *storage.SQLiteStorage, cfg *config.CrawlConfig, runID string) (map[string]int, []string, error) {
	if err := store.SetMeta("run_id", runID); err != nil {
		return nil, nil, err
	}
	if err := store.SetMeta("started_at", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return nil, nil, err
	}

	existing, err := store.RecordCounts()
	if err != nil {
		return nil, nil, err
	}

	if !cfg.Resume {
		return existing, nil, nil
	}

	completed, err := store.SucceededURLs()
	if err != nil {
		return nil, nil, err
	}
	return existing, completed, nil
}

func printSummary(w io.Writer, s summary) {
	fmt.Fprintf(w, "Run %s finished in %s\n", s.RunID, s.Stats.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  Completed URLs: %d\n", s.Stats.Succeeded)
	fmt.Fprintf(w, "  Failed URLs:    %d\n", s.Stats.Failed)
	fmt.Fprintf(w, "  Retries:        %d\n", s.Stats.Retried)
	fmt.Fprintf(w, "  Empty pages:    %d\n", s.Stats.EmptyPages)
	fmt.Fprintf(w, "  Records:        %d (%d duplicates skipped, %d with fallbacks)\n", s.Written, s.Duplicates, s.Stats.Fallbacks)
	fmt.Fprintf(w, "  Sitemap URLs:   %d\n", len(s.Sitemap))
}
