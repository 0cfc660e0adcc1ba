package sink

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/masahif/vectorcrawl/internal/crawler"
)

// JSONLWriter appends records to a file, one JSON object per line
type JSONLWriter struct {
	file    *os.File
	buf     *bufio.Writer
	encoder *json.Encoder
}

// NewJSONLWriter opens path for appending, creating it and its directory if needed
func NewJSONLWriter(path string) (*JSONLWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	buf := bufio.NewWriter(file)
	encoder := json.NewEncoder(buf)
	encoder.SetEscapeHTML(false)

	return &JSONLWriter{file: file, buf: buf, encoder: encoder}, nil
}

// SaveRecords encodes each record on its own line
func (w *JSONLWriter) SaveRecords(records []*crawler.EnrichedRecord) error {
	for _, rec := range records {
		if err := w.encoder.Encode(rec); err != nil {
			return fmt.Errorf("failed to encode record %s#%d: %w", rec.SourceURL, rec.ChunkIndex, err)
		}
	}
	// A page batch is flushed as a whole
	return w.buf.Flush()
}

// SaveOutcome is a no-op; outcomes are not part of the record stream
func (w *JSONLWriter) SaveOutcome(*crawler.Outcome) error {
	return nil
}

// Flush writes buffered data and syncs the file
func (w *JSONLWriter) Flush() error {
	if err := w.buf.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

// Close flushes and closes the file
func (w *JSONLWriter) Close() error {
	flushErr := w.buf.Flush()
	closeErr := w.file.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
