package crawler

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RobotsParser fetches robots.txt once per host and answers allow/deny questions
type RobotsParser struct {
	fetcher      Fetcher
	userAgent    string
	ignoreRobots bool

	mu    sync.Mutex
	hosts map[string]*robotsEntry
}

type robotsEntry struct {
	once  sync.Once
	rules *RobotRules
}

// RobotRules contains the rules of the group that applies to our user agent
type RobotRules struct {
	Disallowed []string
	Allowed    []string
	CrawlDelay time.Duration
	Sitemap    []string
}

// NewRobotsParser creates a robots.txt checker for the given user agent
func NewRobotsParser(fetcher Fetcher, userAgent string, ignoreRobots bool) *RobotsParser {
	return &RobotsParser{
		fetcher:      fetcher,
		userAgent:    userAgent,
		ignoreRobots: ignoreRobots,
		hosts:        make(map[string]*robotsEntry),
	}
}

// IsAllowed checks if a URL may be fetched.
// A robots.txt that cannot be fetched allows everything.
func (r *RobotsParser) IsAllowed(ctx context.Context, urlStr string) (bool, error) {
	if r.ignoreRobots {
		return true, nil
	}

	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return false, fmt.Errorf("invalid URL: %w", err)
	}

	rules := r.rulesFor(ctx, parsedURL.Scheme, parsedURL.Host)

	path := parsedURL.EscapedPath()
	if path == "" {
		path = "/"
	}
	if parsedURL.RawQuery != "" {
		path += "?" + parsedURL.RawQuery
	}
	return rules.allows(path), nil
}

// GetCrawlDelay returns the Crawl-delay for a host, or 0 if none was given
func (r *RobotsParser) GetCrawlDelay(host string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.hosts[host]
	if !ok || entry.rules == nil {
		return 0
	}
	return entry.rules.CrawlDelay
}

// rulesFor loads the rules for a host exactly once; concurrent callers wait
func (r *RobotsParser) rulesFor(ctx context.Context, scheme, host string) *RobotRules {
	r.mu.Lock()
	entry, ok := r.hosts[host]
	if !ok {
		entry = &robotsEntry{}
		r.hosts[host] = entry
	}
	r.mu.Unlock()

	entry.once.Do(func() {
		rules := r.fetchRules(ctx, scheme, host)
		r.mu.Lock()
		entry.rules = rules
		r.mu.Unlock()
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	return entry.rules
}

func (r *RobotsParser) fetchRules(ctx context.Context, scheme, host string) *RobotRules {
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", scheme, host)

	resp, err := r.fetcher.Get(ctx, robotsURL)
	if err != nil {
		slog.Warn("Failed to fetch robots.txt, allowing all", "url", robotsURL, "error", err)
		return &RobotRules{}
	}

	if resp.StatusCode != 200 {
		slog.Debug("No usable robots.txt, allowing all", "url", robotsURL, "status", resp.StatusCode)
		return &RobotRules{}
	}

	rules := parseRobotsTxt(string(resp.Body), r.userAgent)
	slog.Debug("Loaded robots.txt", "host", host,
		"disallow", len(rules.Disallowed), "allow", len(rules.Allowed), "crawl_delay", rules.CrawlDelay)
	return rules
}

// parseRobotsTxt returns the rules of the most specific group matching userAgent,
// falling back to the "*" group
func parseRobotsTxt(content, userAgent string) *RobotRules {
	token := strings.ToLower(userAgent)
	if i := strings.IndexAny(token, "/ "); i > 0 {
		token = token[:i]
	}

	type group struct {
		agents []string
		rules  RobotRules
	}

	var groups []*group
	var current *group
	var sitemaps []string
	lastWasAgent := false

	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		directive, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		directive = strings.ToLower(strings.TrimSpace(directive))
		value = strings.TrimSpace(value)

		switch directive {
		case "user-agent":
			if current == nil || !lastWasAgent {
				current = &group{}
				groups = append(groups, current)
			}
			current.agents = append(current.agents, strings.ToLower(value))
			lastWasAgent = true
			continue
		case "sitemap":
			sitemaps = append(sitemaps, value)
		case "disallow":
			if current != nil && value != "" {
				current.rules.Disallowed = append(current.rules.Disallowed, value)
			}
		case "allow":
			if current != nil && value != "" {
				current.rules.Allowed = append(current.rules.Allowed, value)
			}
		case "crawl-delay":
			if current != nil {
				if secs, err := strconv.ParseFloat(value, 64); err == nil && secs > 0 {
					current.rules.CrawlDelay = time.Duration(secs * float64(time.Second))
				}
			}
		}
		lastWasAgent = false
	}

	var best *group
	bestLen := -1
	for _, g := range groups {
		for _, agent := range g.agents {
			switch {
			case agent == "*":
				if bestLen < 0 {
					best, bestLen = g, 0
				}
			case token != "" && strings.Contains(token, agent) && len(agent) > bestLen:
				best, bestLen = g, len(agent)
			}
		}
	}

	rules := &RobotRules{}
	if best != nil {
		*rules = best.rules
	}
	rules.Sitemap = sitemaps
	return rules
}

// allows applies the longest-match rule; Allow wins a tie
func (rules *RobotRules) allows(path string) bool {
	longestDisallow := -1
	for _, pattern := range rules.Disallowed {
		if matchesPattern(path, pattern) && len(pattern) > longestDisallow {
			longestDisallow = len(pattern)
		}
	}
	if longestDisallow < 0 {
		return true
	}

	for _, pattern := range rules.Allowed {
		if matchesPattern(path, pattern) && len(pattern) >= longestDisallow {
			return true
		}
	}
	return false
}

// matchesPattern checks if a path matches a robots.txt pattern with * and $ support
func matchesPattern(path, pattern string) bool {
	anchored := strings.HasSuffix(pattern, "$")
	pattern = strings.TrimSuffix(pattern, "$")

	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(path, parts[0]) {
		return false
	}
	remaining := path[len(parts[0]):]

	for i := 1; i < len(parts); i++ {
		if parts[i] == "" {
			if i == len(parts)-1 {
				// Trailing * matches the rest of the path
				return true
			}
			continue
		}
		if i == len(parts)-1 && anchored {
			return strings.HasSuffix(remaining, parts[i])
		}
		idx := strings.Index(remaining, parts[i])
		if idx == -1 {
			return false
		}
		remaining = remaining[idx+len(parts[i]):]
	}

	if anchored {
		return remaining == ""
	}
	return true
}
