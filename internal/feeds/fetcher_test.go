package feeds

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mmcdole/gofeed"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Test Feed</title>
    <description>A feed for testing</description>
    <link>https://example.com</link>
    <item>
      <title>First Post</title>
      <link>https://example.com/first</link>
      <description>First post body</description>
      <pubDate>Mon, 02 Jan 2006 15:04:05 GMT</pubDate>
    </item>
  </channel>
</rss>`

func TestFetchParsesFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != "beacon/1.0" {
			t.Errorf("unexpected user agent %q", ua)
		}
		w.Write([]byte(sampleRSS))
	}))
	defer srv.Close()

	f := NewFetcher(0)
	feed, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if feed.Title != "Test Feed" {
		t.Errorf("title: got %q", feed.Title)
	}
	if len(feed.Items) != 1 || feed.Items[0].Link != "https://example.com/first" {
		t.Errorf("items not parsed: %+v", feed.Items)
	}
}

func TestFetchLossyDecode(t *testing.T) {
	// Invalid UTF-8 in an item body must not fail the fetch.
	mangled := bytes.Replace([]byte(sampleRSS),
		[]byte("First post body"), []byte("First \xff\xfe post body"), 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(mangled)
	}))
	defer srv.Close()

	f := NewFetcher(0)
	feed, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch with invalid UTF-8: %v", err)
	}
	if feed.Title != "Test Feed" {
		t.Errorf("title: got %q", feed.Title)
	}
}

func TestFetchTotalFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewFetcher(0)
	if _, err := f.Fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("expected failure when both direct and fallback parse fail")
	}
}

func TestFetchRejectsEmptyDocument(t *testing.T) {
	// A well-formed but hollow document parses without error on both
	// paths; it must still be treated as a failed fetch, not persisted
	// as a feed with no title and no entries.
	empty := `<?xml version="1.0"?><rss version="2.0"><channel></channel></rss>`
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Write([]byte(empty))
	}))
	defer srv.Close()

	f := NewFetcher(0)
	feed, err := f.Fetch(context.Background(), srv.URL)
	if err == nil {
		t.Fatalf("expected failure for empty document, got feed %+v", feed)
	}
	if requests != 2 {
		t.Errorf("expected 2 requests (direct + fallback), got %d", requests)
	}
}

func TestFetchFallbackOnMalformedBody(t *testing.T) {
	// First response is unparseable garbage; the fallback URL parse (a
	// second request) gets a well-formed document.
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 1 {
			w.Write([]byte("this is not xml"))
			return
		}
		w.Write([]byte(sampleRSS))
	}))
	defer srv.Close()

	f := NewFetcher(0)
	feed, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if feed.Title != "Test Feed" {
		t.Errorf("fallback parse failed: %q", feed.Title)
	}
	if requests != 2 {
		t.Errorf("expected 2 requests (direct + fallback), got %d", requests)
	}
}

func TestDescriptionAliasChain(t *testing.T) {
	tests := []struct {
		name string
		feed *gofeed.Feed
		want string
	}{
		{"description", &gofeed.Feed{Description: "desc"}, "desc"},
		{"custom subtitle", &gofeed.Feed{Custom: map[string]string{"subtitle": "sub"}}, "sub"},
		{"custom tagline", &gofeed.Feed{Custom: map[string]string{"tagline": "tag"}}, "tag"},
		{"priority order", &gofeed.Feed{Description: "desc", Custom: map[string]string{"subtitle": "sub"}}, "desc"},
		{"nothing", &gofeed.Feed{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Description(tt.feed); got != tt.want {
				t.Errorf("Description() = %q, want %q", got, tt.want)
			}
		})
	}
}
