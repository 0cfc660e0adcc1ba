package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masahif/vectorcrawl/internal/crawler"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()

	storage, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "test_vectorcrawl.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func testRecord(url string, index int) *crawler.EnrichedRecord {
	return &crawler.EnrichedRecord{
		SourceURL:   url,
		ChunkIndex:  index,
		Title:       "Title",
		Summary:     "Summary",
		Embedding:   []float32{0.5, -0.25, 1},
		Text:        "chunk text",
		CharLength:  10,
		GeneratedAt: time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC),
		Model:       "llama3.2:3b",
		EmbedModel:  "nomic-embed-text",
	}
}

func TestSQLiteStorage(t *testing.T) {
	storage := newTestStorage(t)

	t.Run("SaveAndRetrieveRecords", func(t *testing.T) {
		records := []*crawler.EnrichedRecord{
			testRecord("https://example.com/a", 0),
			testRecord("https://example.com/a", 1),
		}
		records[1].Embedding = nil
		records[1].EmbeddingMissing = true
		require.NoError(t, storage.SaveRecords(records))

		got, err := storage.GetRecords("https://example.com/a")
		require.NoError(t, err)
		require.Len(t, got, 2)

		assert.Equal(t, 0, got[0].ChunkIndex)
		assert.Equal(t, 1, got[1].ChunkIndex)
		assert.Equal(t, []float32{0.5, -0.25, 1}, got[0].Embedding)
		assert.Nil(t, got[1].Embedding, "a missing embedding stays nil")
		assert.True(t, got[1].EmbeddingMissing)
		assert.True(t, got[0].GeneratedAt.Equal(records[0].GeneratedAt), "GeneratedAt = %v", got[0].GeneratedAt)
		assert.Equal(t, "llama3.2:3b", got[0].Model)
		assert.Equal(t, "nomic-embed-text", got[0].EmbedModel)
	})

	t.Run("DuplicatesAreNeverOverwritten", func(t *testing.T) {
		dup := testRecord("https://example.com/a", 0)
		dup.Title = "Overwritten"

		require.ErrorIs(t, storage.InsertRecord(dup), ErrDuplicateRecord)

		// Batches skip existing keys and still insert new ones
		require.NoError(t, storage.SaveRecords([]*crawler.EnrichedRecord{dup, testRecord("https://example.com/a", 2)}))

		got, err := storage.GetRecords("https://example.com/a")
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "Title", got[0].Title)
	})

	t.Run("RecordCounts", func(t *testing.T) {
		require.NoError(t, storage.InsertRecord(testRecord("https://example.com/b", 0)))

		counts, err := storage.RecordCounts()
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"https://example.com/a": 3, "https://example.com/b": 1}, counts)

		total, err := storage.CountRecords()
		require.NoError(t, err)
		assert.Equal(t, 4, total)
	})

	t.Run("Outcomes", func(t *testing.T) {
		finished := time.Date(2026, 10, 15, 12, 30, 0, 0, time.UTC)
		failed := &crawler.Outcome{
			URL:         "https://example.com/missing",
			Key:         "https://example.com/missing",
			Status:      crawler.OutcomeFailed,
			Attempts:    1,
			FailureKind: "http_status",
			StatusCode:  404,
			Message:     "http status 404",
			FinishedAt:  finished,
		}
		require.NoError(t, storage.SaveOutcome(failed))

		got, err := storage.GetOutcome(failed.Key)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, crawler.OutcomeFailed, got.Status)
		assert.Equal(t, 404, got.StatusCode)
		assert.Equal(t, "http_status", got.FailureKind)
		assert.True(t, got.FinishedAt.Equal(finished), "FinishedAt = %v", got.FinishedAt)

		// A later success replaces the failure
		require.NoError(t, storage.SaveOutcome(&crawler.Outcome{
			URL:        failed.URL,
			Key:        failed.Key,
			Status:     crawler.OutcomeSucceeded,
			Attempts:   2,
			Records:    3,
			FinishedAt: finished.Add(time.Hour),
		}))
		require.NoError(t, storage.SaveOutcome(&crawler.Outcome{
			URL: "https://example.com/down", Key: "https://example.com/down",
			Status: crawler.OutcomeFailed, Attempts: 3, FailureKind: "timeout", FinishedAt: finished,
		}))

		urls, err := storage.SucceededURLs()
		require.NoError(t, err)
		assert.Equal(t, []string{failed.URL}, urls)

		ok, bad, err := storage.OutcomeCounts()
		require.NoError(t, err)
		assert.Equal(t, 1, ok)
		assert.Equal(t, 1, bad)

		missing, err := storage.GetOutcome("https://example.com/never")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("Meta", func(t *testing.T) {
		require.NoError(t, storage.SetMeta("run_id", "abc"))

		value, err := storage.GetMeta("run_id")
		require.NoError(t, err)
		assert.Equal(t, "abc", value)

		value, err = storage.GetMeta("missing")
		require.NoError(t, err)
		assert.Empty(t, value)
	})

	t.Run("Flush", func(t *testing.T) {
		assert.NoError(t, storage.Flush())
	})
}

func TestSQLiteStorageReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")

	storage, err := NewSQLiteStorage(dbPath)
	require.NoError(t, err)
	require.NoError(t, storage.InsertRecord(testRecord("https://example.com/a", 0)))
	require.NoError(t, storage.Close())

	storage, err = NewSQLiteStorage(dbPath)
	require.NoError(t, err)
	defer func() { _ = storage.Close() }()

	count, err := storage.CountRecords()
	require.NoError(t, err)
	assert.Equal(t, 1, count, "records survive a reopen")
}
