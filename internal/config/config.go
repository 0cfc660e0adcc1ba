// Package config provides configuration management for vectorcrawl.
// It defines configuration structures and default values for the fetch,
// extraction, enrichment and output stages.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// HeaderEnvPrefix marks environment variables that become request headers.
// VC_HEADER_X_TRACE_ID=abc sends "X-Trace-Id: abc".
const HeaderEnvPrefix = "VC_HEADER_"

// BasicAuth contains HTTP Basic Authentication credentials
type BasicAuth struct {
	Username    string `mapstructure:"username" yaml:"username"`         // Username for basic auth
	Password    string `mapstructure:"password" yaml:"password"`         // Password for basic auth
	UsernameEnv string `mapstructure:"username_env" yaml:"username_env"` // Environment variable for username
	PasswordEnv string `mapstructure:"password_env" yaml:"password_env"` // Environment variable for password
}

// BearerAuth contains a bearer token
type BearerAuth struct {
	Token    string `mapstructure:"token" yaml:"token"`
	TokenEnv string `mapstructure:"token_env" yaml:"token_env"`
}

// APIKeyAuth sends a static key in a named header
type APIKeyAuth struct {
	Header string `mapstructure:"header" yaml:"header"`
	Value  string `mapstructure:"value" yaml:"value"`
}

// Auth contains authentication configuration for the target site
type Auth struct {
	Type   string      `mapstructure:"type" yaml:"type"` // basic, bearer or api-key
	Basic  *BasicAuth  `mapstructure:"basic" yaml:"basic"`
	Bearer *BearerAuth `mapstructure:"bearer" yaml:"bearer"`
	APIKey *APIKeyAuth `mapstructure:"apikey" yaml:"apikey"`
}

// BackendConfig describes the model-inference backend
type BackendConfig struct {
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`         // Base URL of the Ollama-compatible API
	Model       string        `mapstructure:"model" yaml:"model"`               // Generation model for title/summary
	EmbedModel  string        `mapstructure:"embed_model" yaml:"embed_model"`   // Embedding model
	EmbedDim    int           `mapstructure:"embed_dim" yaml:"embed_dim"`       // Expected embedding dimension
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`           // Deadline for a single call attempt
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"` // Attempts per call before falling back
	Concurrency int           `mapstructure:"concurrency" yaml:"concurrency"`   // Concurrent backend calls
	BackoffBase time.Duration `mapstructure:"backoff_base" yaml:"backoff_base"` // First retry delay
	MaxBackoff  time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`   // Retry delay cap
}

// CrawlConfig holds the complete run configuration
type CrawlConfig struct {
	// Seeds
	SeedURLs     []string `mapstructure:"seed_urls" yaml:"seed_urls"`         // URLs given on the command line or in the config file
	SeedsFile    string   `mapstructure:"seeds_file" yaml:"seeds_file"`       // File with one URL per line
	SeedsSitemap string   `mapstructure:"seeds_sitemap" yaml:"seeds_sitemap"` // Existing sitemap.xml to read URLs from
	BaseURL      string   `mapstructure:"base_url" yaml:"base_url"`           // Scope root; defaults to the first seed

	// Fetching
	Concurrency    int           `mapstructure:"concurrency" yaml:"concurrency"`         // Number of fetch workers
	RequestDelay   time.Duration `mapstructure:"request_delay" yaml:"request_delay"`     // Minimum interval between requests to one domain
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"` // HTTP request timeout
	UserAgent      string        `mapstructure:"user_agent" yaml:"user_agent"`           // HTTP User-Agent header
	RespectRobots  bool          `mapstructure:"respect_robots" yaml:"respect_robots"`   // Whether to respect robots.txt
	MaxPageBytes   int64         `mapstructure:"max_page_bytes" yaml:"max_page_bytes"`   // Response bodies are truncated to this size
	Limit          int           `mapstructure:"limit" yaml:"limit"`                     // Stop after N seeds (0 = unlimited)

	// Authentication and headers for the target site
	Auth    *Auth    `mapstructure:"auth" yaml:"auth"`
	Headers []string `mapstructure:"headers" yaml:"headers"` // "Name: Value" pairs

	// URL filtering
	IncludePatterns []string `mapstructure:"include_patterns" yaml:"include_patterns"` // Regex patterns for URLs to include
	ExcludePatterns []string `mapstructure:"exclude_patterns" yaml:"exclude_patterns"` // Regex patterns for URLs to exclude

	// Chunking
	ChunkSize     int `mapstructure:"chunk_size" yaml:"chunk_size"`         // Maximum characters per chunk
	ChunkLookback int `mapstructure:"chunk_lookback" yaml:"chunk_lookback"` // Window searched backwards for a boundary

	// Fetch retries
	MaxAttempts    int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay" yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay" yaml:"retry_max_delay"`

	Backend BackendConfig `mapstructure:"backend" yaml:"backend"`

	// Output
	OutputDir  string `mapstructure:"output_dir" yaml:"output_dir"`   // Directory for records, database and sitemap
	SinkBuffer int    `mapstructure:"sink_buffer" yaml:"sink_buffer"` // Queued write batches before producers block
	Resume     bool   `mapstructure:"resume" yaml:"resume"`           // Skip URLs that succeeded in a previous run

	// Operations
	MetricsAddr      string `mapstructure:"metrics_addr" yaml:"metrics_addr"`             // Listen address for /metrics; empty disables it
	SkipBackendCheck bool   `mapstructure:"skip_backend_check" yaml:"skip_backend_check"` // Skip the startup health check
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *CrawlConfig {
	return &CrawlConfig{
		Concurrency:    5,
		RequestDelay:   1 * time.Second,
		RequestTimeout: 30 * time.Second,
		UserAgent:      "VectorCrawl/1.0",
		RespectRobots:  true,
		MaxPageBytes:   10 << 20,
		Limit:          0, // unlimited
		ChunkSize:      1500,
		ChunkLookback:  300,
		MaxAttempts:    3,
		RetryBaseDelay: 1 * time.Second,
		RetryMaxDelay:  30 * time.Second,
		Backend: BackendConfig{
			Endpoint:    "http://localhost:11434",
			Model:       "llama3.2:3b",
			EmbedModel:  "nomic-embed-text",
			EmbedDim:    768,
			Timeout:     30 * time.Second,
			MaxAttempts: 3,
			Concurrency: 4,
			BackoffBase: 1 * time.Second,
			MaxBackoff:  10 * time.Second,
		},
		OutputDir:  "crawled_data",
		SinkBuffer: 64,
		Resume:     true,
	}
}

// Validate checks if the configuration is valid
func (c *CrawlConfig) Validate() error {
	// Note: seeds are checked after they are loaded, not here

	if c.Concurrency <= 0 {
		return ErrInvalidConcurrency
	}

	if c.RequestTimeout <= 0 {
		return ErrInvalidTimeout
	}

	if c.RequestDelay < 0 || c.RetryBaseDelay < 0 || c.RetryMaxDelay < 0 {
		return ErrNegativeDelay
	}

	if c.ChunkSize <= 0 {
		return ErrInvalidChunkSize
	}

	if c.ChunkLookback < 0 || c.ChunkLookback >= c.ChunkSize {
		return ErrInvalidLookback
	}

	if c.MaxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}

	if c.OutputDir == "" {
		return ErrEmptyOutputDir
	}

	if c.BaseURL != "" {
		if u, err := url.Parse(c.BaseURL); err != nil || u.Host == "" {
			return fmt.Errorf("%w: %q", ErrInvalidBaseURL, c.BaseURL)
		}
	}

	if c.Auth != nil {
		switch c.Auth.Type {
		case "", "basic", "bearer", "api-key":
		default:
			return fmt.Errorf("%w: %q", ErrInvalidAuthType, c.Auth.Type)
		}
	}

	if _, err := c.ParseHeaders(); err != nil {
		return err
	}

	return c.Backend.Validate()
}

// Validate checks the backend section
func (b *BackendConfig) Validate() error {
	u, err := url.Parse(b.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidEndpoint, b.Endpoint)
	}

	if b.Model == "" || b.EmbedModel == "" {
		return ErrEmptyModel
	}

	if b.EmbedDim <= 0 {
		return ErrInvalidEmbedDim
	}

	if b.Timeout <= 0 {
		return ErrInvalidTimeout
	}

	if b.MaxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}

	if b.Concurrency <= 0 {
		return ErrInvalidConcurrency
	}

	return nil
}

// RecordsPath returns the JSONL output file
func (c *CrawlConfig) RecordsPath() string {
	return filepath.Join(c.OutputDir, "records.jsonl")
}

// DatabasePath returns the SQLite database file
func (c *CrawlConfig) DatabasePath() string {
	return filepath.Join(c.OutputDir, "vectorcrawl.db")
}

// SitemapPath returns the sitemap output file
func (c *CrawlConfig) SitemapPath() string {
	return filepath.Join(c.OutputDir, "sitemap.xml")
}

// ParseHeaders converts "Name: Value" entries into a header map
func (c *CrawlConfig) ParseHeaders() (map[string]string, error) {
	headers := make(map[string]string, len(c.Headers))
	for _, h := range c.Headers {
		name, value, ok := strings.Cut(h, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidHeader, h)
		}
		headers[name] = strings.TrimSpace(value)
	}
	return headers, nil
}

// LoadHeadersFromEnv appends headers defined as VC_HEADER_* environment variables
func (c *CrawlConfig) LoadHeadersFromEnv() {
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, HeaderEnvPrefix) {
			continue
		}
		header := headerName(strings.TrimPrefix(name, HeaderEnvPrefix))
		if header == "" {
			continue
		}
		c.Headers = append(c.Headers, header+": "+value)
	}
}

// headerName turns X_TRACE_ID into X-Trace-Id
func headerName(envSuffix string) string {
	parts := strings.Split(strings.ToLower(envSuffix), "_")
	out := parts[:0]
	for _, p := range parts {
		if p == "" {
			continue
		}
		out = append(out, strings.ToUpper(p[:1])+p[1:])
	}
	return strings.Join(out, "-")
}

// GetBasicAuthCredentials returns the basic auth username and password,
// resolving environment variables if specified
func (c *CrawlConfig) GetBasicAuthCredentials() (username, password string) {
	if c.Auth == nil || c.Auth.Basic == nil {
		return "", ""
	}

	basic := c.Auth.Basic

	// Get username
	if basic.UsernameEnv != "" {
		username = os.Getenv(basic.UsernameEnv)
	} else {
		username = basic.Username
	}

	// Get password
	if basic.PasswordEnv != "" {
		password = os.Getenv(basic.PasswordEnv)
	} else {
		password = basic.Password
	}

	return username, password
}

// GetBearerToken returns the bearer token, resolving the environment variable if set
func (c *CrawlConfig) GetBearerToken() string {
	if c.Auth == nil || c.Auth.Bearer == nil {
		return ""
	}
	if c.Auth.Bearer.TokenEnv != "" {
		return os.Getenv(c.Auth.Bearer.TokenEnv)
	}
	return c.Auth.Bearer.Token
}
