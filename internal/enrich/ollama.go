package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

const maxResponseSize = 10 * 1024 * 1024 // 10MB

// promptTextLimit is how much of a chunk is shown to the generation model
const promptTextLimit = 1000

const summaryInstruction = `You are an AI that extracts titles and summaries from documentation chunks.
You must respond with ONLY a JSON object in this exact format:
{"title": "brief title here", "summary": "brief summary here"}

For the title: If this seems like the start of a document, extract its title. If it's a middle chunk, derive a descriptive title.
For the summary: Create a concise summary of the main points in this chunk.
Keep both title and summary concise but informative.`

// Backend generates titles, summaries and embeddings for text
type Backend interface {
	Summarize(ctx context.Context, sourceURL, text string) (title, summary string, err error)
	Embed(ctx context.Context, text string) ([]float32, error)
	Ping(ctx context.Context) error
}

// OllamaClient talks to an Ollama-compatible HTTP API
type OllamaClient struct {
	endpoint   string
	model      string
	embedModel string
	embedDim   int
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientOption configures an OllamaClient.
type ClientOption func(*OllamaClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *OllamaClient) {
		client.httpClient = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *OllamaClient) {
		client.logger = logger
	}
}

// NewOllamaClient creates a client for the API at endpoint.
// embedDim <= 0 disables the dimension check.
func NewOllamaClient(endpoint, model, embedModel string, embedDim int, opts ...ClientOption) *OllamaClient {
	c := &OllamaClient{
		endpoint:   strings.TrimRight(endpoint, "/"),
		model:      model,
		embedModel: embedModel,
		embedDim:   embedDim,
		// Per-attempt deadlines come from the caller's context
		httpClient: &http.Client{},
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Model returns the generation model name
func (c *OllamaClient) Model() string { return c.model }

// EmbedModel returns the embedding model name
func (c *OllamaClient) EmbedModel() string { return c.embedModel }

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

type embeddingsRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingsResponse struct {
	Embedding []float32 `json:"embedding"`
}

type summaryPayload struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// Summarize asks the generation model for a title and summary of text
func (c *OllamaClient) Summarize(ctx context.Context, sourceURL, text string) (string, string, error) {
	req := generateRequest{
		Model:  c.model,
		Prompt: buildPrompt(sourceURL, text),
		Stream: false,
	}

	var resp generateResponse
	if err := c.post(ctx, "/api/generate", req, &resp); err != nil {
		return "", "", err
	}

	raw := ExtractJSON(resp.Response)
	if raw == "" {
		return "", "", NewFatalError(fmt.Errorf("no JSON object in model response: %q", truncate(resp.Response, 200)))
	}

	var payload summaryPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return "", "", NewFatalError(fmt.Errorf("parse model response: %w", err))
	}

	payload.Title = strings.TrimSpace(payload.Title)
	payload.Summary = strings.TrimSpace(payload.Summary)
	if payload.Title == "" && payload.Summary == "" {
		return "", "", NewFatalError(errors.New("model response has neither title nor summary"))
	}
	return payload.Title, payload.Summary, nil
}

// Embed returns the embedding vector for text
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	req := embeddingsRequest{
		Model:  c.embedModel,
		Prompt: text,
	}

	var resp embeddingsResponse
	if err := c.post(ctx, "/api/embeddings", req, &resp); err != nil {
		return nil, err
	}

	if len(resp.Embedding) == 0 {
		return nil, NewFatalError(errors.New("empty embedding in response"))
	}
	if c.embedDim > 0 && len(resp.Embedding) != c.embedDim {
		return nil, NewFatalError(fmt.Errorf("embedding has %d dimensions, expected %d", len(resp.Embedding), c.embedDim))
	}
	return resp.Embedding, nil
}

// Ping checks that the backend is reachable
func (c *OllamaClient) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/api/version", nil)
	if err != nil {
		return NewFatalError(fmt.Errorf("create HTTP request: %w", err))
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return NewTransientError(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer func() { _ = httpResp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(httpResp.Body, maxResponseSize))

	if httpResp.StatusCode != http.StatusOK {
		return classifyHTTPError(httpResp.StatusCode, nil)
	}
	return nil
}

func (c *OllamaClient) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return NewFatalError(fmt.Errorf("build request body: %w", err))
	}

	url := c.endpoint + path
	c.logger.Debug("Sending backend request", "url", url)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return NewFatalError(fmt.Errorf("create HTTP request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Network errors and deadlines are transient
		return NewTransientError(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return NewTransientError(fmt.Errorf("read response body: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return classifyHTTPError(httpResp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return NewFatalError(fmt.Errorf("decode response from %s: %w", path, err))
	}

	c.logger.Debug("Backend request completed", "url", url, "duration", time.Since(start))
	return nil
}

// classifyHTTPError determines if an HTTP error is transient or fatal.
func classifyHTTPError(statusCode int, body []byte) error {
	err := fmt.Errorf("backend API error (status %d): %s", statusCode, truncate(string(body), 200))

	switch {
	case statusCode == http.StatusTooManyRequests:
		return NewTransientError(err)
	case statusCode >= 500:
		return NewTransientError(err)
	default:
		return NewFatalError(err)
	}
}

func buildPrompt(sourceURL, text string) string {
	return fmt.Sprintf("%s\n\nURL: %s\n\nContent:\n%s...", summaryInstruction, sourceURL, truncate(text, promptTextLimit))
}

// truncate cuts s to at most n runes
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
