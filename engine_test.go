package beacon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/matthewjhunter/beacon/internal/feeds"
	"github.com/matthewjhunter/beacon/internal/registry"
	"github.com/matthewjhunter/beacon/internal/storage"
)

// mockEmbedder returns a fixed-size vector per input, or fails outright.
type mockEmbedder struct {
	fail bool
}

func (m *mockEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if m.fail {
		return nil, errors.New("embedding provider unavailable")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 1, 0}
	}
	return out, nil
}

func (m *mockEmbedder) Model() string { return "test-model" }

// mockStore is an in-memory storage.Store.
type mockStore struct {
	feeds   map[string]*storage.Feed
	entries map[int64][]storage.Entry
	nextID  int64
	matches []storage.EntryMatch

	searchLimit    int
	searchEf       int
	saveFetchCalls int
}

func newMockStore() *mockStore {
	return &mockStore{
		feeds:   make(map[string]*storage.Feed),
		entries: make(map[int64][]storage.Entry),
		nextID:  1,
	}
}

func (m *mockStore) Close() {}

func (m *mockStore) GetFeedByURL(_ context.Context, url string) (*storage.Feed, error) {
	if f, ok := m.feeds[url]; ok {
		cp := *f
		return &cp, nil
	}
	return nil, nil
}

func (m *mockStore) EntryLinks(_ context.Context, feedID int64) (map[string]bool, error) {
	links := make(map[string]bool)
	for _, e := range m.entries[feedID] {
		links[e.Link] = true
	}
	return links, nil
}

func (m *mockStore) SaveFetch(_ context.Context, feed *storage.Feed, entries []storage.Entry) (*storage.Feed, error) {
	m.saveFetchCalls++
	existing, ok := m.feeds[feed.URL]
	if !ok {
		cp := *feed
		cp.ID = m.nextID
		m.nextID++
		m.feeds[feed.URL] = &cp
		existing = &cp
	} else {
		existing.Name = feed.Name
		existing.Description = feed.Description
		existing.Category = feed.Category
		existing.LastUpdated = feed.LastUpdated
	}
	for _, e := range entries {
		e.ID = m.nextID
		m.nextID++
		e.FeedID = existing.ID
		m.entries[existing.ID] = append(m.entries[existing.ID], e)
	}
	cp := *existing
	return &cp, nil
}

func (m *mockStore) ListFeeds(_ context.Context) ([]storage.Feed, error) {
	var out []storage.Feed
	for _, f := range m.feeds {
		out = append(out, *f)
	}
	return out, nil
}

func (m *mockStore) GetFeed(_ context.Context, feedID int64) (*storage.Feed, error) {
	for _, f := range m.feeds {
		if f.ID == feedID {
			cp := *f
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockStore) FeedEntries(_ context.Context, feedID int64, limit int) ([]storage.Entry, error) {
	entries := m.entries[feedID]
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (m *mockStore) SearchEntries(_ context.Context, _ []float32, limit, efSearch int) ([]storage.EntryMatch, error) {
	m.searchLimit = limit
	m.searchEf = efSearch
	if limit > 0 && len(m.matches) > limit {
		return m.matches[:limit], nil
	}
	return m.matches, nil
}

func testEngine(store storage.Store, emb *mockEmbedder) *Engine {
	return &Engine{
		store:    store,
		fetcher:  feeds.NewFetcher(feeds.DefaultTimeout),
		pipeline: feeds.NewPipeline(emb),
		embedder: emb,
		registry: registry.New(),
		params: feeds.Params{
			MaxEntries:   10,
			MaxAge:       24 * time.Hour,
			AdmitUndated: true,
		},
		efSearch:  40,
		overfetch: 3,
	}
}

func feedXML(entries int) string {
	body := `<?xml version="1.0"?><rss version="2.0"><channel><title>Test Feed</title><description>A test feed</description>`
	now := time.Now().UTC()
	for i := 0; i < entries; i++ {
		body += fmt.Sprintf(
			`<item><title>Entry %d</title><link>https://example.com/%d</link><description>Body %d</description><pubDate>%s</pubDate></item>`,
			i, i, i, now.Add(-time.Duration(i)*time.Minute).Format(time.RFC1123Z),
		)
	}
	return body + `</channel></rss>`
}

func TestFetchFeedPersistsNewEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, feedXML(3))
	}))
	defer srv.Close()

	store := newMockStore()
	eng := testEngine(store, &mockEmbedder{})

	res, err := eng.FetchFeed(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchFeed: %v", err)
	}
	if res.EntriesAdded != 3 {
		t.Errorf("EntriesAdded = %d, want 3", res.EntriesAdded)
	}
	if res.Feed.Name != "Test Feed" {
		t.Errorf("feed name = %q, want Test Feed", res.Feed.Name)
	}
	if res.Feed.Description != "A test feed" {
		t.Errorf("feed description = %q", res.Feed.Description)
	}
	if len(store.entries[res.Feed.ID]) != 3 {
		t.Errorf("stored entries = %d, want 3", len(store.entries[res.Feed.ID]))
	}
}

func TestFetchFeedIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, feedXML(3))
	}))
	defer srv.Close()

	store := newMockStore()
	eng := testEngine(store, &mockEmbedder{})

	if _, err := eng.FetchFeed(context.Background(), srv.URL); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	res, err := eng.FetchFeed(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if res.EntriesAdded != 0 {
		t.Errorf("second fetch added %d entries, want 0", res.EntriesAdded)
	}
	if res.Rejections["duplicate"] != 3 {
		t.Errorf("duplicate rejections = %v, want 3", res.Rejections)
	}
	if len(store.entries[res.Feed.ID]) != 3 {
		t.Errorf("stored entries = %d, want 3 after refetch", len(store.entries[res.Feed.ID]))
	}
	if store.saveFetchCalls != 2 {
		t.Errorf("SaveFetch calls = %d, want 2 (feed row refreshes even with no new entries)", store.saveFetchCalls)
	}
}

func TestFetchFeedUsesRegistryCategory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, feedXML(1))
	}))
	defer srv.Close()

	store := newMockStore()
	eng := testEngine(store, &mockEmbedder{})
	if err := eng.registry.Add("Tech", registry.FeedDescriptor{URL: srv.URL, Name: "Test"}); err != nil {
		t.Fatal(err)
	}

	res, err := eng.FetchFeed(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchFeed: %v", err)
	}
	if res.Feed.Category != "Tech" {
		t.Errorf("category = %q, want Tech", res.Feed.Category)
	}
}

func TestFetchAllIsolatesFailures(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, feedXML(2))
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	store := newMockStore()
	eng := testEngine(store, &mockEmbedder{})
	for i, url := range []string{bad.URL, good.URL} {
		if err := eng.registry.Add("News", registry.FeedDescriptor{URL: url, Name: fmt.Sprintf("Feed %d", i)}); err != nil {
			t.Fatal(err)
		}
	}

	res, err := eng.FetchAll(context.Background())
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if res.FeedsTotal != 2 || res.FeedsFetched != 1 || res.FeedsErrored != 1 {
		t.Errorf("totals = %d/%d/%d, want 2/1/1", res.FeedsTotal, res.FeedsFetched, res.FeedsErrored)
	}
	if res.EntriesAdded != 2 {
		t.Errorf("EntriesAdded = %d, want 2", res.EntriesAdded)
	}
	if len(res.Errors) != 1 || res.Errors[0].URL != bad.URL {
		t.Errorf("errors = %v, want one for the failing feed", res.Errors)
	}
}

func searchFixtures(store *mockStore, now time.Time) {
	store.feeds["https://a.example.com/rss"] = &storage.Feed{
		ID: 1, URL: "https://a.example.com/rss", Name: "Alpha Feed", LastUpdated: now,
	}
	store.matches = []storage.EntryMatch{
		{Entry: storage.Entry{ID: 11, FeedID: 1, Title: "Fresh", Link: "https://a.example.com/1", Published: now.Add(-time.Hour)}, Distance: 0.1},
		{Entry: storage.Entry{ID: 12, FeedID: 1, Title: "Stale", Link: "https://a.example.com/2", Published: now.Add(-60 * 24 * time.Hour)}, Distance: 0.2},
	}
}

func TestSearchReturnsRankedEntries(t *testing.T) {
	store := newMockStore()
	searchFixtures(store, time.Now().UTC())
	eng := testEngine(store, &mockEmbedder{})

	res, err := eng.Search(context.Background(), "anything", SearchOptions{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(res.Entries))
	}
	if res.Entries[0].Title != "Fresh" {
		t.Errorf("top entry = %q, want Fresh", res.Entries[0].Title)
	}
	if res.Entries[0].FeedName != "Alpha Feed" {
		t.Errorf("feed name = %q, want Alpha Feed", res.Entries[0].FeedName)
	}
	if len(res.Feeds) != 1 || res.Feeds[0].Feed.Name != "Alpha Feed" {
		t.Errorf("feeds view = %+v, want one Alpha Feed group", res.Feeds)
	}
	// Default limit 5, overfetch 3, and the configured ef_search reach the store.
	if store.searchLimit != 15 {
		t.Errorf("candidate limit = %d, want 15", store.searchLimit)
	}
	if store.searchEf != 40 {
		t.Errorf("ef_search = %d, want 40", store.searchEf)
	}
}

func TestSearchTimeFilterDistinguishesEmpty(t *testing.T) {
	store := newMockStore()
	now := time.Now().UTC()
	searchFixtures(store, now)
	// Only the stale entry survives as a candidate.
	store.matches = store.matches[1:]
	eng := testEngine(store, &mockEmbedder{})

	res, err := eng.Search(context.Background(), "anything", SearchOptions{TimeFilter: "24h"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Entries) != 0 {
		t.Errorf("entries = %d, want 0", len(res.Entries))
	}
	if !res.FilteredOut {
		t.Error("FilteredOut = false, want true when matches exist outside the window")
	}

	store.matches = nil
	res, err = eng.Search(context.Background(), "anything", SearchOptions{TimeFilter: "24h"})
	if err != nil {
		t.Fatalf("Search with no candidates: %v", err)
	}
	if res.FilteredOut {
		t.Error("FilteredOut = true for a query with no matches at all")
	}
}

func TestSearchRejectsBadOptions(t *testing.T) {
	eng := testEngine(newMockStore(), &mockEmbedder{})
	if _, err := eng.Search(context.Background(), "q", SearchOptions{TimeFilter: "fortnight"}); err == nil {
		t.Error("want error for unknown time filter")
	}
	if _, err := eng.Search(context.Background(), "q", SearchOptions{SortBy: "newest"}); err == nil {
		t.Error("want error for unknown sort mode")
	}
}

func TestSearchFailsWhenEmbedderDown(t *testing.T) {
	store := newMockStore()
	searchFixtures(store, time.Now().UTC())
	eng := testEngine(store, &mockEmbedder{fail: true})

	if _, err := eng.Search(context.Background(), "anything", SearchOptions{}); err == nil {
		t.Error("want error when the embedding provider is unavailable")
	}
}

func TestGetFeedDetailsBuckets(t *testing.T) {
	store := newMockStore()
	now := time.Now().UTC()
	store.feeds["https://a.example.com/rss"] = &storage.Feed{ID: 1, URL: "https://a.example.com/rss", Name: "Alpha"}
	store.entries[1] = []storage.Entry{
		{ID: 1, FeedID: 1, Title: "today", Published: now.Add(-2 * time.Hour)},
		{ID: 2, FeedID: 1, Title: "this week", Published: now.Add(-3 * 24 * time.Hour)},
		{ID: 3, FeedID: 1, Title: "this month", Published: now.Add(-20 * 24 * time.Hour)},
		{ID: 4, FeedID: 1, Title: "ancient", Published: now.Add(-90 * 24 * time.Hour)},
		{ID: 5, FeedID: 1, Title: "undated"},
	}
	eng := testEngine(store, &mockEmbedder{})

	details, err := eng.GetFeedDetails(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetFeedDetails: %v", err)
	}
	if len(details.Last24h) != 1 || details.Last24h[0].Title != "today" {
		t.Errorf("Last24h = %+v", details.Last24h)
	}
	if len(details.LastWeek) != 1 || details.LastWeek[0].Title != "this week" {
		t.Errorf("LastWeek = %+v", details.LastWeek)
	}
	if len(details.LastMonth) != 1 || details.LastMonth[0].Title != "this month" {
		t.Errorf("LastMonth = %+v", details.LastMonth)
	}
	if len(details.Older) != 2 {
		t.Errorf("Older = %+v, want ancient and undated", details.Older)
	}
}

func TestGetFeedDetailsUnknownFeed(t *testing.T) {
	eng := testEngine(newMockStore(), &mockEmbedder{})
	if _, err := eng.GetFeedDetails(context.Background(), 99); err == nil {
		t.Error("want error for unknown feed ID")
	}
}
