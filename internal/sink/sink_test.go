package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masahif/vectorcrawl/internal/crawler"
	"github.com/masahif/vectorcrawl/internal/storage"
)

type memStore struct {
	mu       sync.Mutex
	records  []*crawler.EnrichedRecord
	outcomes []*crawler.Outcome
	failOn   int // fail the nth SaveRecords call, 0 never
	calls    int
	flushed  bool
	closed   bool
}

func (m *memStore) SaveRecords(records []*crawler.EnrichedRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failOn > 0 && m.calls >= m.failOn {
		return errors.New("disk full")
	}
	m.records = append(m.records, records...)
	return nil
}

func (m *memStore) SaveOutcome(outcome *crawler.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
	return nil
}

func (m *memStore) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushed = true
	return nil
}

func (m *memStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func page(url string, n int) []*crawler.EnrichedRecord {
	records := make([]*crawler.EnrichedRecord, n)
	for i := range records {
		records[i] = &crawler.EnrichedRecord{
			SourceURL:   url,
			ChunkIndex:  i,
			Title:       "t",
			Text:        "text",
			CharLength:  4,
			GeneratedAt: time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC),
		}
	}
	return records
}

func TestSinkWritesAndDedups(t *testing.T) {
	store := &memStore{}
	s := New(store)
	ctx := context.Background()

	require.NoError(t, s.WriteRecords(ctx, page("https://example.com/b", 2)))
	require.NoError(t, s.WriteRecords(ctx, page("https://example.com/a", 3)))
	require.NoError(t, s.WriteRecords(ctx, page("https://example.com/a", 4)))
	require.NoError(t, s.WriteRecords(ctx, nil))
	require.NoError(t, s.RecordOutcome(ctx, &crawler.Outcome{URL: "https://example.com/a", Status: crawler.OutcomeSucceeded}))
	require.NoError(t, s.Close())

	assert.Len(t, store.records, 6, "only chunk 3 of the repeated page is new")
	assert.Len(t, store.outcomes, 1)
	assert.True(t, store.flushed)
	assert.True(t, store.closed)

	written, dups := s.Written()
	assert.Equal(t, 6, written)
	assert.Equal(t, 3, dups)

	assert.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, s.SitemapURLs())
}

func TestSinkPreservesBatchOrder(t *testing.T) {
	store := &memStore{}
	s := New(store, WithBuffer(1))

	require.NoError(t, s.WriteRecords(context.Background(), page("https://example.com/a", 5)))
	require.NoError(t, s.Close())

	for i, rec := range store.records {
		assert.Equal(t, i, rec.ChunkIndex)
	}
}

func TestSinkExistingRecordsAreSkipped(t *testing.T) {
	store := &memStore{}
	s := New(store, WithExisting(map[string]int{"https://example.com/a": 2}))

	require.NoError(t, s.WriteRecords(context.Background(), page("https://example.com/a", 2)))
	require.NoError(t, s.Close())

	assert.Empty(t, store.records)
	assert.Equal(t, 0, store.calls)
	assert.Equal(t, []string{"https://example.com/a"}, s.SitemapURLs())
}

func TestSinkFailureIsFatal(t *testing.T) {
	store := &memStore{failOn: 2}
	var fatal atomic.Int32
	s := New(store, WithOnFatal(func(err error) {
		fatal.Add(1)
	}))
	ctx := context.Background()

	require.NoError(t, s.WriteRecords(ctx, page("https://example.com/a", 1)))
	require.NoError(t, s.WriteRecords(ctx, page("https://example.com/b", 1)))

	require.Eventually(t, func() bool { return s.Err() != nil }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), fatal.Load())

	err := s.WriteRecords(ctx, page("https://example.com/c", 1))
	assert.ErrorIs(t, err, ErrSinkFailed)

	closeErr := s.Close()
	require.Error(t, closeErr)
	assert.Contains(t, closeErr.Error(), "disk full")
	assert.Equal(t, []string{"https://example.com/a"}, s.SitemapURLs())
}

func TestSinkWriteAfterClose(t *testing.T) {
	s := New(&memStore{})
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	err := s.WriteRecords(context.Background(), page("https://example.com/a", 1))
	assert.ErrorIs(t, err, ErrSinkClosed)
}

func TestSinkConcurrentWriters(t *testing.T) {
	store := &memStore{}
	s := New(store, WithBuffer(2))

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for p := 0; p < 10; p++ {
				url := "https://example.com/" + string(rune('a'+w)) + "/" + string(rune('0'+p))
				assert.NoError(t, s.WriteRecords(context.Background(), page(url, 2)))
			}
		}(w)
	}
	wg.Wait()
	require.NoError(t, s.Close())

	assert.Len(t, store.records, 160)
	assert.Len(t, s.SitemapURLs(), 80)

	// Records of one page are never interleaved with another page
	for i := 0; i < len(store.records); i += 2 {
		assert.Equal(t, store.records[i].SourceURL, store.records[i+1].SourceURL)
		assert.Equal(t, 0, store.records[i].ChunkIndex)
	}
}

func TestJSONLWriterAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "records.jsonl")

	for run := 0; run < 2; run++ {
		w, err := NewJSONLWriter(path)
		require.NoError(t, err)
		require.NoError(t, w.SaveRecords(page("https://example.com/run"+string(rune('0'+run)), 2)))
		require.NoError(t, w.SaveOutcome(&crawler.Outcome{}))
		require.NoError(t, w.Flush())
		require.NoError(t, w.Close())
	}

	file, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = file.Close() }()

	var lines []map[string]any
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var obj map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &obj))
		lines = append(lines, obj)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, lines, 4)
	assert.Equal(t, "https://example.com/run0", lines[0]["source_url"])
	assert.Equal(t, "https://example.com/run1", lines[3]["source_url"])
	assert.Equal(t, float64(1), lines[1]["chunk_index"])
	assert.Nil(t, lines[0]["embedding"])
	assert.Contains(t, lines[0], "summary_fallback")
}

func TestTeeWithSQLite(t *testing.T) {
	dir := t.TempDir()
	db, err := storage.NewSQLiteStorage(filepath.Join(dir, "records.db"))
	require.NoError(t, err)
	jsonl, err := NewJSONLWriter(filepath.Join(dir, "records.jsonl"))
	require.NoError(t, err)

	s := New(Tee(db, jsonl))
	require.NoError(t, s.WriteRecords(context.Background(), page("https://example.com/a", 3)))
	require.NoError(t, s.RecordOutcome(context.Background(), &crawler.Outcome{
		URL: "https://example.com/a", Key: "https://example.com/a",
		Status: crawler.OutcomeSucceeded, Attempts: 1, Records: 3, FinishedAt: time.Now(),
	}))
	require.NoError(t, s.Close())

	reopened, err := storage.NewSQLiteStorage(filepath.Join(dir, "records.db"))
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	counts, err := reopened.RecordCounts()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"https://example.com/a": 3}, counts)

	urls, err := reopened.SucceededURLs()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/a"}, urls)

	data, err := os.ReadFile(filepath.Join(dir, "records.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, 3, countLines(data))
}

func countLines(data []byte) int {
	n := 0
	for _, b := range data {
		if b == '\n' {
			n++
		}
	}
	return n
}
