// Package storage provides data persistence for enriched records.
// It implements SQLite-based storage for records, URL outcomes and run metadata.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/masahif/vectorcrawl/internal/crawler"
	// SQLite database driver (CGO-free)
	_ "modernc.org/sqlite"
)

// SQLiteStorage stores records and outcomes in a single SQLite file
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool - single connection prevents lock conflicts
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	storage := &SQLiteStorage{db: db}

	// Initialize schema
	if err := storage.InitSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// InitSchema creates the database schema
func (s *SQLiteStorage) InitSchema() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000", // 64MB cache
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 30000", // 30 second timeout for locks
	}

	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Flush checkpoints the WAL so the main database file is self-contained
func (s *SQLiteStorage) Flush() error {
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("failed to checkpoint database: %w", err)
	}
	return nil
}

const insertRecordSQL = `
	INSERT INTO records (
		source_url, chunk_index, title, summary, embedding, text, char_length,
		generated_at, summary_fallback, embedding_missing, model, embed_model
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(source_url, chunk_index) DO NOTHING
`

// SaveRecords inserts the records of one URL in a single transaction.
// Records whose key already exists are skipped, never overwritten.
func (s *SQLiteStorage) SaveRecords(records []*crawler.EnrichedRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(insertRecordSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, rec := range records {
		args, err := recordArgs(rec)
		if err != nil {
			return err
		}
		result, err := stmt.Exec(args...)
		if err != nil {
			return fmt.Errorf("failed to insert record %s#%d: %w", rec.SourceURL, rec.ChunkIndex, err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			slog.Warn("Duplicate record skipped", "url", rec.SourceURL, "chunk_index", rec.ChunkIndex)
		}
	}

	return tx.Commit()
}

// InsertRecord inserts a single record, returning ErrDuplicateRecord if its key exists
func (s *SQLiteStorage) InsertRecord(rec *crawler.EnrichedRecord) error {
	args, err := recordArgs(rec)
	if err != nil {
		return err
	}

	result, err := s.db.Exec(insertRecordSQL, args...)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check inserted rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s#%d", ErrDuplicateRecord, rec.SourceURL, rec.ChunkIndex)
	}
	return nil
}

func recordArgs(rec *crawler.EnrichedRecord) ([]any, error) {
	var embedding any
	if rec.Embedding != nil {
		data, err := json.Marshal(rec.Embedding)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal embedding: %w", err)
		}
		embedding = string(data)
	}

	return []any{
		rec.SourceURL,
		rec.ChunkIndex,
		rec.Title,
		rec.Summary,
		embedding,
		rec.Text,
		rec.CharLength,
		rec.GeneratedAt.UTC().Format(time.RFC3339Nano),
		rec.SummaryFallback,
		rec.EmbeddingMissing,
		rec.Model,
		rec.EmbedModel,
	}, nil
}

// GetRecords returns the records of a URL in chunk order
func (s *SQLiteStorage) GetRecords(sourceURL string) ([]*crawler.EnrichedRecord, error) {
	rows, err := s.db.Query(`
		SELECT source_url, chunk_index, title, summary, embedding, text, char_length,
			generated_at, summary_fallback, embedding_missing, model, embed_model
		FROM records
		WHERE source_url = ?
		ORDER BY chunk_index ASC
	`, sourceURL)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*crawler.EnrichedRecord
	for rows.Next() {
		var (
			rec         crawler.EnrichedRecord
			embedding   sql.NullString
			generatedAt string
			model       sql.NullString
			embedModel  sql.NullString
		)
		if err := rows.Scan(&rec.SourceURL, &rec.ChunkIndex, &rec.Title, &rec.Summary, &embedding,
			&rec.Text, &rec.CharLength, &generatedAt, &rec.SummaryFallback, &rec.EmbeddingMissing,
			&model, &embedModel); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		if embedding.Valid {
			if err := json.Unmarshal([]byte(embedding.String), &rec.Embedding); err != nil {
				return nil, fmt.Errorf("failed to unmarshal embedding: %w", err)
			}
		}
		if rec.GeneratedAt, err = time.Parse(time.RFC3339Nano, generatedAt); err != nil {
			return nil, fmt.Errorf("failed to parse generated_at: %w", err)
		}
		rec.Model = model.String
		rec.EmbedModel = embedModel.String
		records = append(records, &rec)
	}

	return records, rows.Err()
}

// CountRecords returns the total number of stored records
func (s *SQLiteStorage) CountRecords() (int, error) {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM records").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// RecordCounts returns the number of stored chunks per source URL
func (s *SQLiteStorage) RecordCounts() (map[string]int, error) {
	rows, err := s.db.Query("SELECT source_url, chunks FROM page_records")
	if err != nil {
		return nil, fmt.Errorf("failed to query record counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var url string
		var chunks int
		if err := rows.Scan(&url, &chunks); err != nil {
			return nil, fmt.Errorf("failed to scan record count: %w", err)
		}
		counts[url] = chunks
	}
	return counts, rows.Err()
}

// SaveOutcome records the terminal state of a URL, replacing an older outcome for the same key
func (s *SQLiteStorage) SaveOutcome(outcome *crawler.Outcome) error {
	var statusCode any
	if outcome.StatusCode != 0 {
		statusCode = outcome.StatusCode
	}

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO url_outcomes (
			key, url, status, attempts, failure_kind, status_code, message, records, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		outcome.Key,
		outcome.URL,
		string(outcome.Status),
		outcome.Attempts,
		outcome.FailureKind,
		statusCode,
		outcome.Message,
		outcome.Records,
		outcome.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save outcome: %w", err)
	}
	return nil
}

// GetOutcome returns the outcome stored for a key, or nil if there is none
func (s *SQLiteStorage) GetOutcome(key string) (*crawler.Outcome, error) {
	var (
		outcome     crawler.Outcome
		status      string
		failureKind sql.NullString
		statusCode  sql.NullInt64
		message     sql.NullString
		finishedAt  string
	)

	err := s.db.QueryRow(`
		SELECT key, url, status, attempts, failure_kind, status_code, message, records, finished_at
		FROM url_outcomes WHERE key = ?
	`, key).Scan(&outcome.Key, &outcome.URL, &status, &outcome.Attempts, &failureKind,
		&statusCode, &message, &outcome.Records, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get outcome: %w", err)
	}

	outcome.Status = crawler.OutcomeStatus(status)
	outcome.FailureKind = failureKind.String
	outcome.StatusCode = int(statusCode.Int64)
	outcome.Message = message.String
	if outcome.FinishedAt, err = time.Parse(time.RFC3339Nano, finishedAt); err != nil {
		return nil, fmt.Errorf("failed to parse finished_at: %w", err)
	}
	return &outcome, nil
}

// SucceededURLs returns the URLs whose last outcome was a success
func (s *SQLiteStorage) SucceededURLs() ([]string, error) {
	rows, err := s.db.Query("SELECT url FROM url_outcomes WHERE status = 'succeeded' ORDER BY url")
	if err != nil {
		return nil, fmt.Errorf("failed to query succeeded URLs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var urls []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("failed to scan URL: %w", err)
		}
		urls = append(urls, url)
	}
	return urls, rows.Err()
}

// OutcomeCounts returns the number of succeeded and failed URLs
func (s *SQLiteStorage) OutcomeCounts() (succeeded, failed int, err error) {
	err = s.db.QueryRow(`
		SELECT
			COALESCE(SUM(CASE WHEN status = 'succeeded' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)
		FROM url_outcomes
	`).Scan(&succeeded, &failed)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count outcomes: %w", err)
	}
	return succeeded, failed, nil
}

// GetMeta retrieves a metadata value
func (s *SQLiteStorage) GetMeta(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM crawl_meta WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get meta: %w", err)
	}
	return value, nil
}

// SetMeta stores a metadata value
func (s *SQLiteStorage) SetMeta(key, value string) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO crawl_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set meta: %w", err)
	}
	return nil
}
