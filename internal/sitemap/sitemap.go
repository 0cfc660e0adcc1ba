// Package sitemap writes and reads sitemaps.org urlset documents.
package sitemap

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const namespace = "http://www.sitemaps.org/schemas/sitemap/0.9"

// ErrNoURLs is returned by Read when the document lists no URLs
var ErrNoURLs = errors.New("sitemap contains no URLs")

type urlset struct {
	XMLName xml.Name `xml:"urlset"`
	Xmlns   string   `xml:"xmlns,attr,omitempty"`
	URLs    []entry  `xml:"url"`
}

type entry struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

// Encode writes a sorted urlset with every entry stamped with lastmod's date
func Encode(w io.Writer, urls []string, lastmod time.Time) error {
	sorted := append([]string(nil), urls...)
	sort.Strings(sorted)

	doc := urlset{Xmlns: namespace, URLs: make([]entry, 0, len(sorted))}
	date := lastmod.UTC().Format("2006-01-02")
	for _, u := range sorted {
		doc.URLs = append(doc.URLs, entry{Loc: u, LastMod: date})
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode sitemap: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// Write replaces the sitemap at path. The file is written to a temporary
// name first and renamed into place.
func Write(path string, urls []string, lastmod time.Time) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create sitemap directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".sitemap-*.xml")
	if err != nil {
		return fmt.Errorf("failed to create sitemap: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := Encode(tmp, urls, lastmod); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write sitemap: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to write sitemap: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write sitemap: %w", err)
	}
	return nil
}

// Decode returns the <loc> values of a urlset in document order
func Decode(r io.Reader) ([]string, error) {
	var doc urlset
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse sitemap: %w", err)
	}

	urls := make([]string, 0, len(doc.URLs))
	for _, e := range doc.URLs {
		if loc := strings.TrimSpace(e.Loc); loc != "" {
			urls = append(urls, loc)
		}
	}
	if len(urls) == 0 {
		return nil, ErrNoURLs
	}
	return urls, nil
}

// Read loads the URLs of the sitemap at path
func Read(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sitemap: %w", err)
	}
	defer func() { _ = file.Close() }()

	return Decode(file)
}
