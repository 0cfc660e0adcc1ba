// Package sink serializes all output writes through a single goroutine.
// Records are append-only: a (source URL, chunk index) key is written at most
// once across the stores and across resumed runs.
package sink

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/masahif/vectorcrawl/internal/crawler"
)

const defaultBuffer = 64

// RecordStore is a destination for records and outcomes
type RecordStore interface {
	SaveRecords(records []*crawler.EnrichedRecord) error
	SaveOutcome(outcome *crawler.Outcome) error
	Flush() error
	Close() error
}

type recordKey struct {
	url   string
	index int
}

// message is one unit of work for the writer goroutine
type message struct {
	records []*crawler.EnrichedRecord
	outcome *crawler.Outcome
}

// Sink implements crawler.RecordSink on top of a RecordStore
type Sink struct {
	store   RecordStore
	onFatal func(error)

	messages chan message
	doneCh   chan struct{}

	// closeMu orders sends against Close; senders hold the read lock
	closeMu sync.RWMutex
	closed  bool

	// written by the writer goroutine, read by anyone
	mu         sync.Mutex
	seen       map[recordKey]struct{}
	urls       map[string]struct{}
	err        error
	written    int
	duplicates int
}

// Option configures a Sink
type Option func(*Sink)

// WithBuffer sets how many write batches may queue before producers block
func WithBuffer(n int) Option {
	return func(s *Sink) {
		if n > 0 {
			s.messages = make(chan message, n)
		}
	}
}

// WithOnFatal registers a callback invoked once when a store write fails
func WithOnFatal(fn func(error)) Option {
	return func(s *Sink) { s.onFatal = fn }
}

// WithExisting marks records already stored by an earlier run.
// counts maps a source URL to its number of chunks.
func WithExisting(counts map[string]int) Option {
	return func(s *Sink) {
		for url, n := range counts {
			for i := 0; i < n; i++ {
				s.seen[recordKey{url: url, index: i}] = struct{}{}
			}
			if n > 0 {
				s.urls[url] = struct{}{}
			}
		}
	}
}

// New creates a sink and starts its writer goroutine
func New(store RecordStore, opts ...Option) *Sink {
	s := &Sink{
		store:    store,
		messages: make(chan message, defaultBuffer),
		doneCh:   make(chan struct{}),
		seen:     make(map[recordKey]struct{}),
		urls:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.run()
	return s
}

// WriteRecords queues the records of one URL as a single batch
func (s *Sink) WriteRecords(ctx context.Context, records []*crawler.EnrichedRecord) error {
	if len(records) == 0 {
		return nil
	}
	return s.send(ctx, message{records: records})
}

// RecordOutcome queues the terminal outcome of a URL
func (s *Sink) RecordOutcome(ctx context.Context, outcome *crawler.Outcome) error {
	return s.send(ctx, message{outcome: outcome})
}

func (s *Sink) send(ctx context.Context, msg message) error {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()

	if s.closed {
		return ErrSinkClosed
	}
	if err := s.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSinkFailed, err)
	}

	select {
	case s.messages <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains queued writes, flushes and closes the store.
// It returns the first write error, if any.
func (s *Sink) Close() error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		<-s.doneCh
		return s.Err()
	}
	s.closed = true
	close(s.messages)
	s.closeMu.Unlock()

	<-s.doneCh

	flushErr := s.store.Flush()
	if flushErr != nil {
		slog.Error("Failed to flush output", "error", flushErr)
	}
	closeErr := s.store.Close()
	if closeErr != nil {
		slog.Error("Failed to close output", "error", closeErr)
	}

	if err := s.Err(); err != nil {
		return err
	}
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// Err returns the first fatal write error
func (s *Sink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// SitemapURLs returns the distinct source URLs with at least one record, sorted
func (s *Sink) SitemapURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	urls := make([]string, 0, len(s.urls))
	for url := range s.urls {
		urls = append(urls, url)
	}
	sort.Strings(urls)
	return urls
}

// Written returns the number of records written and duplicates skipped in this run
func (s *Sink) Written() (records, duplicates int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written, s.duplicates
}

func (s *Sink) run() {
	defer close(s.doneCh)

	for msg := range s.messages {
		// Keep draining after a failure so producers never block
		if s.Err() != nil {
			continue
		}

		var err error
		switch {
		case msg.records != nil:
			err = s.writeRecords(msg.records)
		case msg.outcome != nil:
			err = s.store.SaveOutcome(msg.outcome)
		}

		if err != nil {
			s.fail(err)
		}
	}
}

func (s *Sink) writeRecords(records []*crawler.EnrichedRecord) error {
	fresh := make([]*crawler.EnrichedRecord, 0, len(records))

	s.mu.Lock()
	for _, rec := range records {
		key := recordKey{url: rec.SourceURL, index: rec.ChunkIndex}
		if _, ok := s.seen[key]; ok {
			s.duplicates++
			slog.Warn("Duplicate record skipped", "url", rec.SourceURL, "chunk_index", rec.ChunkIndex)
			continue
		}
		fresh = append(fresh, rec)
	}
	s.mu.Unlock()

	if len(fresh) == 0 {
		return nil
	}

	if err := s.store.SaveRecords(fresh); err != nil {
		return fmt.Errorf("failed to write records for %s: %w", fresh[0].SourceURL, err)
	}

	s.mu.Lock()
	for _, rec := range fresh {
		s.seen[recordKey{url: rec.SourceURL, index: rec.ChunkIndex}] = struct{}{}
		s.urls[rec.SourceURL] = struct{}{}
	}
	s.written += len(fresh)
	s.mu.Unlock()

	slog.Debug("Records written", "url", fresh[0].SourceURL, "count", len(fresh))
	return nil
}

func (s *Sink) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()

	slog.Error("Output write failed", "error", err)
	if s.onFatal != nil {
		s.onFatal(err)
	}
}
