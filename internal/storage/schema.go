package storage

const schemaSQL = `
-- One row per chunk; records are append-only and never updated
CREATE TABLE IF NOT EXISTS records (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source_url TEXT NOT NULL,
    chunk_index INTEGER NOT NULL,
    title TEXT NOT NULL,
    summary TEXT NOT NULL,
    embedding TEXT,                    -- JSON array, NULL when the backend produced none
    text TEXT NOT NULL,
    char_length INTEGER NOT NULL,
    generated_at TEXT NOT NULL,        -- RFC 3339, UTC
    summary_fallback INTEGER NOT NULL DEFAULT 0,
    embedding_missing INTEGER NOT NULL DEFAULT 0,
    model TEXT,
    embed_model TEXT,
    UNIQUE(source_url, chunk_index)
);

CREATE INDEX IF NOT EXISTS idx_records_source ON records(source_url);

-- Terminal state of every URL attempted, keyed by normalized URL
CREATE TABLE IF NOT EXISTS url_outcomes (
    key TEXT PRIMARY KEY NOT NULL,
    url TEXT NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('succeeded', 'failed')),
    attempts INTEGER NOT NULL DEFAULT 0,
    failure_kind TEXT,
    status_code INTEGER,
    message TEXT,
    records INTEGER NOT NULL DEFAULT 0,
    finished_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_outcomes_status ON url_outcomes(status);

-- View for per-page record counts (for analysis/reporting)
CREATE VIEW IF NOT EXISTS page_records AS
SELECT
    source_url,
    COUNT(*) as chunks,
    SUM(summary_fallback) as summary_fallbacks,
    SUM(embedding_missing) as missing_embeddings,
    MAX(generated_at) as generated_at
FROM records
GROUP BY source_url;

-- Crawl meta table stores metadata as key-value pairs
CREATE TABLE IF NOT EXISTS crawl_meta (
    key TEXT PRIMARY KEY NOT NULL,
    value TEXT NOT NULL
);
`
