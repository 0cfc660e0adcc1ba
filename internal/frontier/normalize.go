package frontier

import (
	"fmt"
	"net/url"
	"strings"
)

// Normalize converts a raw URL into its identity key.
// It lowercases the scheme and host, removes default ports and fragments,
// sorts query parameters and drops a trailing slash from non-root paths.
func Normalize(rawURL string) (string, *url.URL, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return "", nil, fmt.Errorf("%w: empty URL", ErrMalformedURL)
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", nil, fmt.Errorf("%w: unsupported scheme %q", ErrMalformedURL, u.Scheme)
	}
	if u.Host == "" {
		return "", nil, fmt.Errorf("%w: missing host in %q", ErrMalformedURL, trimmed)
	}

	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil

	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}

	switch {
	case u.Path == "":
		u.Path = "/"
		u.RawPath = ""
	case len(u.Path) > 1 && strings.HasSuffix(u.Path, "/"):
		u.Path = strings.TrimRight(u.Path, "/")
		if u.Path == "" {
			u.Path = "/"
		}
		u.RawPath = ""
	}

	return u.String(), u, nil
}

// Domain returns the lowercased host name (without port) of a URL.
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
