package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/masahif/vectorcrawl/internal/config"
	"github.com/masahif/vectorcrawl/internal/sitemap"
)

// errNoSeeds is returned when every seed source is empty
var errNoSeeds = errors.New("no seed URLs provided")

// loadSeeds collects seeds from the command line, the seeds file and an
// existing sitemap, in that order. Duplicates are left to the frontier.
func loadSeeds(cfg *config.CrawlConfig) ([]string, error) {
	seeds := append([]string(nil), cfg.SeedURLs...)

	if cfg.SeedsFile != "" {
		lines, err := readSeedsFile(cfg.SeedsFile)
		if err != nil {
			return nil, err
		}
		seeds = append(seeds, lines...)
	}

	if cfg.SeedsSitemap != "" {
		urls, err := sitemap.Read(cfg.SeedsSitemap)
		if err != nil {
			return nil, fmt.Errorf("failed to load seeds from sitemap: %w", err)
		}
		seeds = append(seeds, urls...)
	}

	return seeds, nil
}

// readSeedsFile reads one URL per line; blank lines and '#' comments are skipped
func readSeedsFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seeds file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var seeds []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		seeds = append(seeds, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read seeds file: %w", err)
	}
	return seeds, nil
}
