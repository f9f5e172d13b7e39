package beacon

import "time"

// EngineConfig configures the Beacon feed engine.
type EngineConfig struct {
	DatabaseURL       string
	OllamaBaseURL     string
	EmbeddingModel    string
	RegistryPath      string
	MaxEntriesPerFeed int
	MaxAgeHours       int
	RejectUndated     bool // when true, entries without a parseable date are skipped
	EfSearch          int  // HNSW search breadth; higher is more accurate and slower
	Overfetch         int  // candidate multiplier for post-search re-ranking
}

// Feed represents a persisted RSS/Atom feed.
type Feed struct {
	ID          int64      `json:"id"`
	URL         string     `json:"url"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Category    string     `json:"category,omitempty"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
}

// Entry represents a persisted feed entry.
type Entry struct {
	ID        int64      `json:"id"`
	FeedID    int64      `json:"feed_id"`
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	Link      string     `json:"link"`
	Published *time.Time `json:"published,omitempty"`
}

// FetchResult reports the outcome of ingesting one feed.
type FetchResult struct {
	Feed           Feed           `json:"feed"`
	EntriesAdded   int            `json:"entries_added"`
	EntriesSkipped int            `json:"entries_skipped"`
	Rejections     map[string]int `json:"rejections,omitempty"`
}

// FeedError records a feed that failed during a bulk fetch.
type FeedError struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// FetchAllResult aggregates a fetch across every registered feed.
type FetchAllResult struct {
	FeedsTotal   int           `json:"feeds_total"`
	FeedsFetched int           `json:"feeds_fetched"`
	FeedsErrored int           `json:"feeds_errored"`
	EntriesAdded int           `json:"entries_added"`
	Results      []FetchResult `json:"results"`
	Errors       []FeedError   `json:"errors,omitempty"`
}

// SearchOptions controls a semantic search.
type SearchOptions struct {
	Limit      int    // max entries and feeds returned; defaults to 5
	TimeFilter string // "", "24h", "week", or "month"
	SortBy     string // "relevance" (default), "recent", or "combined"
}

// SearchEntry is one ranked search hit.
type SearchEntry struct {
	Entry
	FeedName string  `json:"feed_name"`
	Score    float64 `json:"score"`
}

// SearchFeed is a feed ranked by how strongly its entries matched.
type SearchFeed struct {
	Feed    Feed          `json:"feed"`
	Score   float64       `json:"score"`
	Entries []SearchEntry `json:"entries"`
}

// SearchResult holds both views of one query: ranked entries and the feeds
// they came from. FilteredOut is true when matches existed but the time
// filter removed every one.
type SearchResult struct {
	Query       string        `json:"query"`
	Entries     []SearchEntry `json:"entries"`
	Feeds       []SearchFeed  `json:"feeds"`
	FilteredOut bool          `json:"filtered_out,omitempty"`
}

// FeedDetails is a feed with its recent entries bucketed by age.
type FeedDetails struct {
	Feed      Feed    `json:"feed"`
	Last24h   []Entry `json:"last_24h"`
	LastWeek  []Entry `json:"last_week"`
	LastMonth []Entry `json:"last_month"`
	Older     []Entry `json:"older"`
}

// CategoryFeed pairs a registered feed with its configured name.
type CategoryFeed struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}
