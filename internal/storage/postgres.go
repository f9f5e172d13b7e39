package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// PostgresStore is the pgx-backed Store implementation.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database, registers the pgvector type,
// and initializes the schema.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// GetFeedByURL returns the feed row for url, or nil when no row exists.
func (s *PostgresStore) GetFeedByURL(ctx context.Context, url string) (*Feed, error) {
	var f Feed
	var category *string
	err := s.pool.QueryRow(ctx,
		`SELECT id, url, name, description, category, last_updated
		 FROM feeds WHERE url = $1`, url,
	).Scan(&f.ID, &f.URL, &f.Name, &f.Description, &category, &f.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get feed by url: %w", err)
	}
	if category != nil {
		f.Category = *category
	}
	return &f, nil
}

// EntryLinks returns the set of persisted entry links for a feed.
func (s *PostgresStore) EntryLinks(ctx context.Context, feedID int64) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT link FROM feed_entries WHERE feed_id = $1", feedID)
	if err != nil {
		return nil, fmt.Errorf("get entry links: %w", err)
	}
	defer rows.Close()

	links := make(map[string]bool)
	for rows.Next() {
		var link string
		if err := rows.Scan(&link); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		links[link] = true
	}
	return links, rows.Err()
}

// SaveFetch upserts the feed row by URL and inserts the admitted entries
// in one transaction. The UNIQUE(feed_id, link) constraint backstops the
// pipeline's duplicate check; conflicting inserts are silently dropped.
func (s *PostgresStore) SaveFetch(ctx context.Context, feed *Feed, entries []Entry) (*Feed, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	saved := *feed
	err = tx.QueryRow(ctx,
		`INSERT INTO feeds (url, name, description, category, last_updated)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		 ON CONFLICT (url) DO UPDATE SET
		   name = EXCLUDED.name,
		   description = EXCLUDED.description,
		   category = EXCLUDED.category,
		   last_updated = EXCLUDED.last_updated
		 RETURNING id`,
		feed.URL, feed.Name, feed.Description, feed.Category, feed.LastUpdated,
	).Scan(&saved.ID)
	if err != nil {
		return nil, fmt.Errorf("upsert feed %s: %w", feed.URL, err)
	}

	for _, e := range entries {
		_, err := tx.Exec(ctx,
			`INSERT INTO feed_entries (feed_id, title, content, link, published_date, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (feed_id, link) DO NOTHING`,
			saved.ID, e.Title, e.Content, e.Link, e.Published, pgvector.NewVector(e.Embedding),
		)
		if err != nil {
			return nil, fmt.Errorf("insert entry %s: %w", e.Link, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit fetch cycle: %w", err)
	}
	return &saved, nil
}

// ListFeeds returns all persisted feeds ordered by name.
func (s *PostgresStore) ListFeeds(ctx context.Context) ([]Feed, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, url, name, description, category, last_updated
		 FROM feeds ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list feeds: %w", err)
	}
	defer rows.Close()
	return scanFeeds(rows)
}

// GetFeed returns a single feed by ID, or nil when no row exists.
func (s *PostgresStore) GetFeed(ctx context.Context, feedID int64) (*Feed, error) {
	var f Feed
	var category *string
	err := s.pool.QueryRow(ctx,
		`SELECT id, url, name, description, category, last_updated
		 FROM feeds WHERE id = $1`, feedID,
	).Scan(&f.ID, &f.URL, &f.Name, &f.Description, &category, &f.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get feed %d: %w", feedID, err)
	}
	if category != nil {
		f.Category = *category
	}
	return &f, nil
}

// FeedEntries returns a feed's entries, newest first.
func (s *PostgresStore) FeedEntries(ctx context.Context, feedID int64, limit int) ([]Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, feed_id, title, content, link, published_date, embedding
		 FROM feed_entries
		 WHERE feed_id = $1
		 ORDER BY published_date DESC
		 LIMIT $2`, feedID, limit)
	if err != nil {
		return nil, fmt.Errorf("get feed entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SearchEntries runs the HNSW approximate-nearest-neighbor query. SET
// LOCAL scopes ef_search to this transaction only, so concurrent queries
// with different accuracy settings don't interfere.
func (s *PostgresStore) SearchEntries(ctx context.Context, queryEmbedding []float32, limit, efSearch int) ([]EntryMatch, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin search: %w", err)
	}
	defer tx.Rollback(ctx)

	// SET LOCAL cannot take bind parameters; efSearch is clamped to a
	// sane range rather than interpolated raw.
	if efSearch < 1 {
		efSearch = 1
	}
	if efSearch > 1000 {
		efSearch = 1000
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", efSearch)); err != nil {
		return nil, fmt.Errorf("set ef_search: %w", err)
	}

	rows, err := tx.Query(ctx,
		`SELECT id, feed_id, title, content, link, published_date, embedding,
		        embedding <-> $1 AS distance
		 FROM feed_entries
		 ORDER BY embedding <-> $1
		 LIMIT $2`,
		pgvector.NewVector(queryEmbedding), limit)
	if err != nil {
		return nil, fmt.Errorf("similarity query: %w", err)
	}
	defer rows.Close()

	var matches []EntryMatch
	for rows.Next() {
		var m EntryMatch
		var vec pgvector.Vector
		if err := rows.Scan(&m.ID, &m.FeedID, &m.Title, &m.Content, &m.Link,
			&m.Published, &vec, &m.Distance); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		m.Embedding = vec.Slice()
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit search: %w", err)
	}
	return matches, nil
}

func scanFeeds(rows pgx.Rows) ([]Feed, error) {
	var feeds []Feed
	for rows.Next() {
		var f Feed
		var category *string
		if err := rows.Scan(&f.ID, &f.URL, &f.Name, &f.Description, &category, &f.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan feed: %w", err)
		}
		if category != nil {
			f.Category = *category
		}
		feeds = append(feeds, f)
	}
	return feeds, rows.Err()
}

func scanEntry(rows pgx.Rows) (Entry, error) {
	var e Entry
	var vec pgvector.Vector
	if err := rows.Scan(&e.ID, &e.FeedID, &e.Title, &e.Content, &e.Link,
		&e.Published, &vec); err != nil {
		return Entry{}, fmt.Errorf("scan entry: %w", err)
	}
	e.Embedding = vec.Slice()
	return e, nil
}
