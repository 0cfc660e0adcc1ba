package crawler

import (
	"time"

	"github.com/masahif/vectorcrawl/internal/frontier"
)

// FetchResult is a successful HTTP fetch
type FetchResult struct {
	URL         string
	FinalURL    string // After following redirects
	StatusCode  int
	Body        []byte
	ContentType string
	FetchedAt   time.Time
	Duration    time.Duration
}

// FetchFailure is a failed fetch attempt as handed to the frontier
type FetchFailure = frontier.Failure

// EnrichedRecord is one output record: a chunk plus its generated metadata.
// Records are immutable once written.
type EnrichedRecord struct {
	SourceURL        string    `json:"source_url"`
	ChunkIndex       int       `json:"chunk_index"`
	Title            string    `json:"title"`
	Summary          string    `json:"summary"`
	Embedding        []float32 `json:"embedding"` // nil when the backend could not produce one
	Text             string    `json:"text"`
	CharLength       int       `json:"char_length"`
	GeneratedAt      time.Time `json:"generated_at"`
	SummaryFallback  bool      `json:"summary_fallback"`
	EmbeddingMissing bool      `json:"embedding_missing"`
	Model            string    `json:"model"`
	EmbedModel       string    `json:"embed_model"`
}

// OutcomeStatus is the terminal state of a URL
type OutcomeStatus string

// Terminal states
const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeFailed    OutcomeStatus = "failed"
)

// Outcome records how a URL finished
type Outcome struct {
	URL         string        `json:"url"`
	Key         string        `json:"key"`
	Status      OutcomeStatus `json:"status"`
	Attempts    int           `json:"attempts"`
	FailureKind string        `json:"failure_kind,omitempty"`
	StatusCode  int           `json:"status_code,omitempty"`
	Message     string        `json:"message,omitempty"`
	Records     int           `json:"records"`
	FinishedAt  time.Time     `json:"finished_at"`
}

// CrawlStats represents crawling statistics
type CrawlStats struct {
	Fetched    int // successful HTTP fetches
	Failed     int // URLs that ended in a permanent failure
	Succeeded  int // URLs that completed successfully
	Retried    int // retries scheduled
	Enriched   int // chunks sent through enrichment
	Records    int // records accepted by the sink
	Fallbacks  int // records with a heuristic title or a missing embedding
	EmptyPages int // successful pages with no extractable content
	StartTime  time.Time
	Duration   time.Duration
}
