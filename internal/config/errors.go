package config

import "errors"

var (
	// ErrNoSeedURLs is returned when no seed URLs are provided
	ErrNoSeedURLs = errors.New("no seed URLs provided")
	// ErrInvalidConcurrency is returned when concurrency is not greater than 0
	ErrInvalidConcurrency = errors.New("concurrency must be greater than 0")
	// ErrInvalidTimeout is returned when a timeout is not greater than 0
	ErrInvalidTimeout = errors.New("timeout must be greater than 0")
	// ErrNegativeDelay is returned when a delay is negative
	ErrNegativeDelay = errors.New("delays cannot be negative")
	// ErrInvalidChunkSize is returned when chunk_size is not greater than 0
	ErrInvalidChunkSize = errors.New("chunk_size must be greater than 0")
	// ErrInvalidLookback is returned when chunk_lookback is negative or not smaller than chunk_size
	ErrInvalidLookback = errors.New("chunk_lookback must be between 0 and chunk_size")
	// ErrInvalidMaxAttempts is returned when max_attempts is not greater than 0
	ErrInvalidMaxAttempts = errors.New("max_attempts must be greater than 0")
	// ErrEmptyOutputDir is returned when output_dir is empty
	ErrEmptyOutputDir = errors.New("output_dir cannot be empty")
	// ErrInvalidBaseURL is returned when base_url is not an absolute URL
	ErrInvalidBaseURL = errors.New("base_url must be an absolute URL")
	// ErrInvalidAuthType is returned for an unknown auth.type
	ErrInvalidAuthType = errors.New("auth.type must be basic, bearer or api-key")
	// ErrInvalidHeader is returned for a header not in "Name: Value" form
	ErrInvalidHeader = errors.New("header must be in 'Name: Value' format")
	// ErrInvalidEndpoint is returned when backend.endpoint is not an http(s) URL
	ErrInvalidEndpoint = errors.New("backend.endpoint must be an http(s) URL")
	// ErrEmptyModel is returned when a backend model name is missing
	ErrEmptyModel = errors.New("backend.model and backend.embed_model cannot be empty")
	// ErrInvalidEmbedDim is returned when backend.embed_dim is not greater than 0
	ErrInvalidEmbedDim = errors.New("backend.embed_dim must be greater than 0")
)
