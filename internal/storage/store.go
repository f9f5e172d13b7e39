// Package storage persists feeds and their embedded entries in Postgres,
// with pgvector providing the approximate-nearest-neighbor index used by
// similarity search.
package storage

import (
	"context"
	"time"
)

// Feed is a persisted feed row. URL is the sole identity key across fetch
// cycles: re-fetching the same URL updates the row in place.
type Feed struct {
	ID          int64
	URL         string
	Name        string
	Description string
	Category    string // empty when the URL matched no registry category
	LastUpdated time.Time
}

// Entry is a persisted feed entry. (FeedID, Link) is unique; rows are
// never mutated after insertion.
type Entry struct {
	ID        int64
	FeedID    int64
	Title     string
	Content   string
	Link      string
	Published time.Time
	Embedding []float32
}

// EntryMatch is an entry returned by similarity search together with its
// L2 distance from the query vector (smaller is closer).
type EntryMatch struct {
	Entry
	Distance float64
}

// Store defines the persistence interface for beacon's data layer.
type Store interface {
	Close()

	// GetFeedByURL returns the feed row for url, or nil when absent.
	GetFeedByURL(ctx context.Context, url string) (*Feed, error)

	// EntryLinks returns the set of links already persisted for a feed,
	// used by the admission pipeline's duplicate check.
	EntryLinks(ctx context.Context, feedID int64) (map[string]bool, error)

	// SaveFetch commits one fetch cycle atomically: the feed row is
	// upserted by URL and all admitted entries inserted in a single
	// transaction. Any database error rolls back the whole cycle.
	// Returns the persisted feed with its resolved ID.
	SaveFetch(ctx context.Context, feed *Feed, entries []Entry) (*Feed, error)

	ListFeeds(ctx context.Context) ([]Feed, error)
	GetFeed(ctx context.Context, feedID int64) (*Feed, error)

	// FeedEntries returns a feed's entries, newest first.
	FeedEntries(ctx context.Context, feedID int64, limit int) ([]Entry, error)

	// SearchEntries runs an approximate-nearest-neighbor query over the
	// entry embeddings, returning up to limit candidates ordered by L2
	// distance. efSearch tunes HNSW recall against latency.
	SearchEntries(ctx context.Context, queryEmbedding []float32, limit, efSearch int) ([]EntryMatch, error)
}
