// Package beacon ingests RSS/Atom feeds into Postgres with pgvector
// embeddings and answers semantic search queries over the stored entries.
package beacon

import (
	"context"
	"fmt"
	"log"
	"time"

	embedding "github.com/matthewjhunter/go-embedding"

	"github.com/matthewjhunter/beacon/internal/ai"
	"github.com/matthewjhunter/beacon/internal/feeds"
	"github.com/matthewjhunter/beacon/internal/registry"
	"github.com/matthewjhunter/beacon/internal/search"
	"github.com/matthewjhunter/beacon/internal/storage"
)

// DefaultSearchLimit is used when SearchOptions.Limit is zero.
const DefaultSearchLimit = 5

// Engine is the public API for beacon's feed pipeline. It wraps the
// internal storage, feed fetcher, embedding provider, and category
// registry.
type Engine struct {
	store        storage.Store
	fetcher      *feeds.Fetcher
	pipeline     *feeds.Pipeline
	embedder     embedding.Embedder
	registry     *registry.Registry
	registryPath string
	params       feeds.Params
	efSearch     int
	overfetch    int
}

// NewEngine creates a beacon engine backed by the given Postgres database.
// The schema is applied on connect; Ollama is only contacted when entries
// are ingested or a search runs.
func NewEngine(ctx context.Context, cfg EngineConfig) (*Engine, error) {
	if cfg.OllamaBaseURL == "" {
		cfg.OllamaBaseURL = "http://127.0.0.1:11434"
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "nomic-embed-text"
	}
	if cfg.RegistryPath == "" {
		cfg.RegistryPath = "feeds.yaml"
	}
	if cfg.MaxEntriesPerFeed == 0 {
		cfg.MaxEntriesPerFeed = 10
	}
	if cfg.MaxAgeHours == 0 {
		cfg.MaxAgeHours = 24
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 40
	}
	if cfg.Overfetch == 0 {
		cfg.Overfetch = 3
	}

	store, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	reg, err := registry.Load(cfg.RegistryPath)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("load feed registry: %w", err)
	}

	embedder, err := ai.NewOllamaEmbedder(cfg.OllamaBaseURL, cfg.EmbeddingModel)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	return &Engine{
		store:        store,
		fetcher:      feeds.NewFetcher(feeds.DefaultTimeout),
		pipeline:     feeds.NewPipeline(embedder),
		embedder:     embedder,
		registry:     reg,
		registryPath: cfg.RegistryPath,
		params: feeds.Params{
			MaxEntries:   cfg.MaxEntriesPerFeed,
			MaxAge:       time.Duration(cfg.MaxAgeHours) * time.Hour,
			AdmitUndated: !cfg.RejectUndated,
		},
		efSearch:  cfg.EfSearch,
		overfetch: cfg.Overfetch,
	}, nil
}

// Close releases the database pool.
func (e *Engine) Close() {
	e.store.Close()
}

// FetchFeed downloads one feed, admits its new entries through the
// filtering pipeline, and persists the feed row and entries in a single
// transaction. The feed does not need to be registered.
func (e *Engine) FetchFeed(ctx context.Context, url string) (*FetchResult, error) {
	parsed, err := e.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	existing := map[string]bool{}
	stored, err := e.store.GetFeedByURL(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("look up feed %s: %w", url, err)
	}
	if stored != nil {
		existing, err = e.store.EntryLinks(ctx, stored.ID)
		if err != nil {
			return nil, fmt.Errorf("load entry links for feed %d: %w", stored.ID, err)
		}
	}

	params := e.params
	params.Now = time.Now().UTC()
	admitted, counts := e.pipeline.Run(ctx, parsed.Items, existing, params)

	category, _ := e.registry.CategoryFor(url)
	feed := &storage.Feed{
		URL:         url,
		Name:        parsed.Title,
		Description: feeds.Description(parsed),
		Category:    category,
		LastUpdated: params.Now,
	}
	if feed.Name == "" {
		feed.Name = url
	}

	entries := make([]storage.Entry, len(admitted))
	for i, a := range admitted {
		entries[i] = storage.Entry{
			Title:     a.Title,
			Content:   a.Content,
			Link:      a.Link,
			Published: a.Published,
			Embedding: a.Embedding,
		}
	}

	saved, err := e.store.SaveFetch(ctx, feed, entries)
	if err != nil {
		return nil, fmt.Errorf("save feed %s: %w", url, err)
	}

	return &FetchResult{
		Feed:           feedFromStorage(*saved),
		EntriesAdded:   counts.Added,
		EntriesSkipped: counts.Skipped,
		Rejections:     rejectionMap(counts),
	}, nil
}

// FetchAll ingests every registered feed. Individual feed failures are
// logged and reported; they do not abort the run.
func (e *Engine) FetchAll(ctx context.Context) (*FetchAllResult, error) {
	all := e.registry.AllFeeds()
	result := &FetchAllResult{FeedsTotal: len(all)}

	for _, fd := range all {
		fr, err := e.FetchFeed(ctx, fd.URL)
		if err != nil {
			log.Printf("beacon: fetch failed for %s: %v", fd.URL, err)
			result.FeedsErrored++
			result.Errors = append(result.Errors, FeedError{URL: fd.URL, Error: err.Error()})
			continue
		}
		result.FeedsFetched++
		result.EntriesAdded += fr.EntriesAdded
		result.Results = append(result.Results, *fr)
	}

	return result, nil
}

// Search embeds the query, runs approximate nearest-neighbor retrieval
// over the stored entries, and re-ranks the candidates by the requested
// sort mode and time filter.
func (e *Engine) Search(ctx context.Context, query string, opts SearchOptions) (*SearchResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = DefaultSearchLimit
	}
	window, err := search.ParseWindow(opts.TimeFilter)
	if err != nil {
		return nil, err
	}
	mode, err := search.ParseMode(opts.SortBy)
	if err != nil {
		return nil, err
	}

	vec, err := embedding.Single(ctx, e.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	// Over-fetch so the time filter and re-ranking have slack to work with.
	cands, err := e.store.SearchEntries(ctx, vec, opts.Limit*e.overfetch, e.efSearch)
	if err != nil {
		return nil, fmt.Errorf("search entries: %w", err)
	}

	feedRows, err := e.store.ListFeeds(ctx)
	if err != nil {
		return nil, fmt.Errorf("list feeds: %w", err)
	}
	feedsByID := make(map[int64]storage.Feed, len(feedRows))
	for _, f := range feedRows {
		feedsByID[f.ID] = f
	}

	ranked := search.Rank(cands, feedsByID, search.Options{
		Limit:  opts.Limit,
		Window: window,
		Mode:   mode,
	})

	out := &SearchResult{
		Query:       query,
		FilteredOut: ranked.Outcome == search.OutcomeFilteredEmpty,
	}
	for _, se := range ranked.Entries {
		out.Entries = append(out.Entries, searchEntryFromScored(se, feedsByID))
	}
	for _, g := range ranked.Feeds {
		sf := SearchFeed{Feed: feedFromStorage(g.Feed), Score: g.Score}
		for _, se := range g.Entries {
			sf.Entries = append(sf.Entries, searchEntryFromScored(se, feedsByID))
		}
		out.Feeds = append(out.Feeds, sf)
	}
	return out, nil
}

// ListFeeds returns every persisted feed.
func (e *Engine) ListFeeds(ctx context.Context) ([]Feed, error) {
	rows, err := e.store.ListFeeds(ctx)
	if err != nil {
		return nil, fmt.Errorf("list feeds: %w", err)
	}
	out := make([]Feed, len(rows))
	for i, f := range rows {
		out[i] = feedFromStorage(f)
	}
	return out, nil
}

// GetFeedDetails returns a feed with its recent entries bucketed by age.
func (e *Engine) GetFeedDetails(ctx context.Context, feedID int64) (*FeedDetails, error) {
	feed, err := e.store.GetFeed(ctx, feedID)
	if err != nil {
		return nil, fmt.Errorf("get feed %d: %w", feedID, err)
	}
	if feed == nil {
		return nil, fmt.Errorf("feed %d not found", feedID)
	}

	entries, err := e.store.FeedEntries(ctx, feedID, 50)
	if err != nil {
		return nil, fmt.Errorf("load entries for feed %d: %w", feedID, err)
	}

	details := &FeedDetails{Feed: feedFromStorage(*feed)}
	now := time.Now().UTC()
	for _, ent := range entries {
		pub := ent.Published
		item := entryFromStorage(ent)
		switch {
		case !pub.IsZero() && now.Sub(pub) <= 24*time.Hour:
			details.Last24h = append(details.Last24h, item)
		case !pub.IsZero() && now.Sub(pub) <= 7*24*time.Hour:
			details.LastWeek = append(details.LastWeek, item)
		case !pub.IsZero() && now.Sub(pub) <= 30*24*time.Hour:
			details.LastMonth = append(details.LastMonth, item)
		default:
			details.Older = append(details.Older, item)
		}
	}
	return details, nil
}

// Categories returns the registered category names in file order.
func (e *Engine) Categories() []string {
	return e.registry.Categories()
}

// CategoryFeeds returns the registered feeds in a category. The lookup is
// case-insensitive; an unknown category yields an empty slice.
func (e *Engine) CategoryFeeds(category string) []CategoryFeed {
	var out []CategoryFeed
	for _, fd := range e.registry.FeedsIn(category) {
		out = append(out, CategoryFeed{Name: fd.Name, URL: fd.URL})
	}
	return out
}

// AddFeed registers a feed under a category and persists the registry.
func (e *Engine) AddFeed(category, name, url string) error {
	if err := e.registry.Add(category, registry.FeedDescriptor{URL: url, Name: name}); err != nil {
		return err
	}
	if err := e.registry.Save(e.registryPath); err != nil {
		return fmt.Errorf("save feed registry: %w", err)
	}
	return nil
}

// RefreshInterval returns the shortest configured feed update interval,
// or fallback when no feed sets one.
func (e *Engine) RefreshInterval(fallback time.Duration) time.Duration {
	return e.registry.MinUpdateInterval(fallback)
}

func feedFromStorage(f storage.Feed) Feed {
	out := Feed{
		ID:          f.ID,
		URL:         f.URL,
		Name:        f.Name,
		Description: f.Description,
		Category:    f.Category,
	}
	if !f.LastUpdated.IsZero() {
		t := f.LastUpdated
		out.LastUpdated = &t
	}
	return out
}

func entryFromStorage(e storage.Entry) Entry {
	out := Entry{
		ID:      e.ID,
		FeedID:  e.FeedID,
		Title:   e.Title,
		Content: e.Content,
		Link:    e.Link,
	}
	if !e.Published.IsZero() {
		t := e.Published
		out.Published = &t
	}
	return out
}

func searchEntryFromScored(se search.ScoredEntry, feedsByID map[int64]storage.Feed) SearchEntry {
	return SearchEntry{
		Entry:    entryFromStorage(se.Entry),
		FeedName: feedsByID[se.Entry.FeedID].Name,
		Score:    se.Score,
	}
}

func rejectionMap(c feeds.Counts) map[string]int {
	if len(c.Reasons) == 0 {
		return nil
	}
	out := make(map[string]int, len(c.Reasons))
	for reason, n := range c.Reasons {
		if reason == feeds.Admitted {
			continue
		}
		out[reason.String()] = n
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
