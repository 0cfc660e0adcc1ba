package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/httptrace"
	"strings"
	"time"
)

var errInvalidRequest = errors.New("invalid request")

// HTTPClient performs page fetches with the configured identity and credentials
type HTTPClient struct {
	client       *http.Client
	userAgent    string
	maxBodyBytes int64
	authorize    func(*http.Request) // nil when the site needs no credentials
	headers      http.Header
}

// HTTPResponse is a completed HTTP exchange, whatever its status code
type HTTPResponse struct {
	StatusCode  int
	Headers     http.Header
	Body        []byte
	ContentType string
	FinalURL    string        // After following redirects
	TTFB        time.Duration // Time to first byte
	Duration    time.Duration // Total request time including body download
	Truncated   bool          // Body was cut at the size limit
}

// NewHTTPClient creates a new HTTP client.
// maxBodyBytes <= 0 means bodies are read in full.
func NewHTTPClient(userAgent string, timeout time.Duration, maxBodyBytes int64) *HTTPClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}

	return &HTTPClient{
		client:       client,
		userAgent:    userAgent,
		maxBodyBytes: maxBodyBytes,
		headers:      make(http.Header),
	}
}

// SetBasicAuth sends HTTP Basic credentials with every request
func (h *HTTPClient) SetBasicAuth(username, password string) {
	if username == "" || password == "" {
		return
	}
	h.authorize = func(req *http.Request) { req.SetBasicAuth(username, password) }
}

// SetBearerAuth sends an Authorization: Bearer header with every request
func (h *HTTPClient) SetBearerAuth(token string) {
	if token == "" {
		return
	}
	h.authorize = func(req *http.Request) { req.Header.Set("Authorization", "Bearer "+token) }
}

// SetAPIKeyAuth sends a static key in the named header with every request
func (h *HTTPClient) SetAPIKeyAuth(header, value string) {
	if header == "" || value == "" {
		return
	}
	h.authorize = func(req *http.Request) { req.Header.Set(header, value) }
}

// SetCustomHeaders adds headers to every request. They override the defaults.
func (h *HTTPClient) SetCustomHeaders(headers map[string]string) {
	for name, value := range headers {
		h.headers.Set(name, value)
	}
}

// Get fetches url. Non-2xx responses are returned, not turned into errors;
// the error is reserved for transport-level failures.
func (h *HTTPClient) Get(ctx context.Context, url string) (*HTTPResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidRequest, err)
	}

	req.Header.Set("User-Agent", h.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	if h.authorize != nil {
		h.authorize(req)
	}
	for name := range h.headers {
		req.Header.Set(name, h.headers.Get(name))
	}

	var firstByte time.Time
	trace := &httptrace.ClientTrace{
		GotFirstResponseByte: func() { firstByte = time.Now() },
	}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var reader io.Reader = resp.Body
	if h.maxBodyBytes > 0 {
		reader = io.LimitReader(resp.Body, h.maxBodyBytes+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	truncated := false
	if h.maxBodyBytes > 0 && int64(len(body)) > h.maxBodyBytes {
		body = body[:h.maxBodyBytes]
		truncated = true
	}

	result := &HTTPResponse{
		StatusCode:  resp.StatusCode,
		Headers:     resp.Header,
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		FinalURL:    resp.Request.URL.String(),
		Duration:    time.Since(start),
		Truncated:   truncated,
	}
	if !firstByte.IsZero() {
		result.TTFB = firstByte.Sub(start)
	}
	return result, nil
}

// Close releases idle connections
func (h *HTTPClient) Close() {
	h.client.CloseIdleConnections()
}

// IsHTML reports whether a Content-Type denotes an HTML document.
// A missing Content-Type is treated as HTML.
func IsHTML(contentType string) bool {
	if strings.TrimSpace(contentType) == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
