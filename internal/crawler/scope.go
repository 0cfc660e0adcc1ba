package crawler

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

// Scope decides which URLs belong to the run: same host as the base URL,
// path under the base path, and passing the include/exclude patterns.
type Scope struct {
	host     string
	basePath string
	include  []*regexp.Regexp
	exclude  []*regexp.Regexp
}

// NewScope compiles a scope. An empty baseURL accepts every host and path.
func NewScope(baseURL string, includePatterns, excludePatterns []string) (*Scope, error) {
	s := &Scope{}

	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid base URL %q", baseURL)
		}
		s.host = hostKey(u)
		s.basePath = basePath(u.Path)
	}

	var err error
	if s.include, err = compilePatterns(includePatterns); err != nil {
		return nil, fmt.Errorf("invalid include pattern: %w", err)
	}
	if s.exclude, err = compilePatterns(excludePatterns); err != nil {
		return nil, fmt.Errorf("invalid exclude pattern: %w", err)
	}
	return s, nil
}

// Allows reports whether a URL is in scope
func (s *Scope) Allows(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	if s.host != "" {
		if hostKey(u) != s.host {
			return false
		}
		path := u.Path
		if path == "" {
			path = "/"
		}
		if !strings.HasPrefix(path, s.basePath) && path+"/" != s.basePath {
			return false
		}
	}

	if len(s.include) > 0 {
		matched := false
		for _, re := range s.include {
			if re.MatchString(rawURL) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	for _, re := range s.exclude {
		if re.MatchString(rawURL) {
			return false
		}
	}
	return true
}

// hostKey is the lowercased host with the scheme's default port removed,
// so https://Example.com:443 and https://example.com compare equal.
func hostKey(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	switch port := u.Port(); {
	case port == "":
		return host
	case port == "80" && strings.EqualFold(u.Scheme, "http"),
		port == "443" && strings.EqualFold(u.Scheme, "https"):
		return host
	default:
		return net.JoinHostPort(host, port)
	}
}

// basePath returns the directory prefix of a path, always ending in "/"
func basePath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}
