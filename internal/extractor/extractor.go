// Package extractor turns fetched HTML into clean text chunks.
// Extraction is pure: the same body and configuration always produce the same chunks.
package extractor

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"golang.org/x/net/html"
)

// Chunk is a contiguous piece of a page's text
type Chunk struct {
	SourceURL  string
	Index      int // 0-based, dense per URL
	Text       string
	CharLength int // length of Text in characters
}

// Config controls chunking
type Config struct {
	ChunkSize int
	Lookback  int
}

// DefaultConfig returns the default chunking configuration
func DefaultConfig() Config {
	return Config{ChunkSize: 1500, Lookback: 300}
}

// Extractor strips page chrome, renders the remaining markup as markdown
// text and splits it into chunks.
type Extractor struct {
	converter *md.Converter
	chunker   *Chunker
}

// New creates an extractor
func New(cfg Config) *Extractor {
	converter := md.NewConverter("", true, &md.Options{CodeBlockStyle: "fenced"})
	converter.Use(plugin.GitHubFlavored())

	return &Extractor{
		converter: converter,
		chunker:   NewChunker(cfg.ChunkSize, cfg.Lookback),
	}
}

// Extract returns the ordered chunks of a page.
// An empty or content-free page yields no chunks and no error; the error is
// only set when the body could not be processed at all.
func (e *Extractor) Extract(sourceURL string, body []byte) ([]Chunk, error) {
	text, err := e.Text(body)
	if err != nil {
		return nil, err
	}

	pieces := e.chunker.Split(text)
	chunks := make([]Chunk, 0, len(pieces))
	for i, piece := range pieces {
		chunks = append(chunks, Chunk{
			SourceURL:  sourceURL,
			Index:      i,
			Text:       piece,
			CharLength: utf8.RuneCountInString(piece),
		})
	}
	return chunks, nil
}

// Text returns the cleaned text of an HTML document
func (e *Extractor) Text(body []byte) (string, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return "", nil
	}

	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	stripBoilerplate(doc)

	root := findMainContent(doc)
	if root == nil {
		return "", nil
	}

	markdown, err := e.converter.ConvertString(renderNode(root))
	if err != nil {
		return "", fmt.Errorf("failed to convert HTML: %w", err)
	}

	return normalizeWhitespace(markdown), nil
}

var spaceRunRe = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)

// normalizeWhitespace collapses runs of spaces inside lines and runs of blank
// lines into a single paragraph break. Fenced code blocks are left as they are.
func normalizeWhitespace(s string) string {
	var out []string
	inFence := false
	blank := true

	for _, line := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			out = append(out, trimmed)
			blank = false
			continue
		}
		if inFence {
			out = append(out, strings.TrimRight(line, " \t"))
			continue
		}

		if trimmed == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}

		out = append(out, spaceRunRe.ReplaceAllString(trimmed, " "))
		blank = false
	}

	return strings.TrimSpace(strings.Join(out, "\n"))
}
