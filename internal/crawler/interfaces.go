package crawler

import (
	"context"

	"github.com/masahif/vectorcrawl/internal/extractor"
)

// Crawler defines the main crawling interface
type Crawler interface {
	Start(ctx context.Context, seedURLs []string) error
	Stop() error
	GetStats() CrawlStats
}

// Fetcher performs HTTP GET requests
type Fetcher interface {
	Get(ctx context.Context, url string) (*HTTPResponse, error)
}

// ContentExtractor turns a fetched page into ordered chunks
type ContentExtractor interface {
	Extract(sourceURL string, body []byte) ([]extractor.Chunk, error)
}

// Enricher turns chunks into records. It never fails: backend errors degrade
// individual fields instead. Records come back in chunk index order.
type Enricher interface {
	EnrichChunks(ctx context.Context, chunks []extractor.Chunk) []*EnrichedRecord
}

// RecordSink persists records and URL outcomes
type RecordSink interface {
	// WriteRecords appends all records of one URL as a single batch
	WriteRecords(ctx context.Context, records []*EnrichedRecord) error
	RecordOutcome(ctx context.Context, outcome *Outcome) error
}
