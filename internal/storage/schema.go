package storage

// EmbeddingDim is the fixed dimension of entry embeddings. It must match
// the embedding model on both the ingestion and query paths.
const EmbeddingDim = 768

const Schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS feeds (
    id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    url TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    category TEXT,
    last_updated TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS feed_entries (
    id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    feed_id BIGINT NOT NULL REFERENCES feeds(id) ON DELETE CASCADE,
    title TEXT NOT NULL,
    content TEXT NOT NULL,
    link TEXT NOT NULL,
    published_date TIMESTAMPTZ NOT NULL,
    embedding VECTOR(768) NOT NULL,
    UNIQUE(feed_id, link)
);

CREATE INDEX IF NOT EXISTS idx_feed_entries_feed_id ON feed_entries(feed_id);
CREATE INDEX IF NOT EXISTS idx_feed_entries_published ON feed_entries(published_date DESC);
CREATE INDEX IF NOT EXISTS idx_feed_entries_embedding
    ON feed_entries USING hnsw (embedding vector_l2_ops);
`
