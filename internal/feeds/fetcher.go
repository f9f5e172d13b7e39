// Package feeds fetches syndication documents and runs entries through the
// admission pipeline that decides what gets persisted.
package feeds

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// DefaultTimeout bounds the HTTP leg of a fetch.
const DefaultTimeout = 10 * time.Second

// Fetcher retrieves and parses a single feed URL into a gofeed document.
type Fetcher struct {
	parser *gofeed.Parser
	client *http.Client
}

// NewFetcher creates a fetcher with the given HTTP timeout. A zero timeout
// uses DefaultTimeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	parser := gofeed.NewParser()
	parser.UserAgent = "beacon/1.0"
	return &Fetcher{
		parser: parser,
		client: &http.Client{Timeout: timeout},
	}
}

// Fetch retrieves the feed at url and parses it. The primary path fetches
// raw bytes, decodes them as UTF-8 with invalid sequences replaced, and
// parses the resulting string; if either the transport or the parse fails,
// one fallback parse directly by URL is attempted before the whole fetch
// is declared failed. No partial document is ever returned.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*gofeed.Feed, error) {
	parsed, primaryErr := f.fetchDirect(ctx, url)
	if primaryErr == nil {
		return parsed, nil
	}

	// Best-effort fallback: let gofeed do its own retrieval. The empty-result
	// check applies here too, so a hollow document can't sneak through as
	// success just because it arrived via the fallback.
	parsed, fallbackErr := f.parser.ParseURLWithContext(url, ctx)
	if fallbackErr == nil {
		if parsed != nil && (parsed.Title != "" || len(parsed.Items) > 0) {
			return parsed, nil
		}
		fallbackErr = fmt.Errorf("empty parse result")
	}

	return nil, fmt.Errorf("fetch %s failed: %v (fallback: %v)", url, primaryErr, fallbackErr)
}

func (f *Fetcher) fetchDirect(ctx context.Context, url string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "beacon/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	// Lossy decode: malformed feeds are common enough that replacing bad
	// sequences beats failing the whole fetch.
	content := strings.ToValidUTF8(string(body), "�")

	parsed, err := f.parser.ParseString(content)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if parsed == nil || (parsed.Title == "" && len(parsed.Items) == 0) {
		return nil, fmt.Errorf("empty parse result")
	}

	return parsed, nil
}

// Description resolves the feed-level description through a priority-ordered
// alias chain. Feeds disagree on field naming: gofeed folds RSS description
// and Atom subtitle into Description, while summary/tagline variants surface
// through Custom or the iTunes extension.
func Description(feed *gofeed.Feed) string {
	if feed.Description != "" {
		return feed.Description
	}
	for _, key := range []string{"subtitle", "summary", "tagline"} {
		if v := feed.Custom[key]; v != "" {
			return v
		}
	}
	if feed.ITunesExt != nil {
		if feed.ITunesExt.Subtitle != "" {
			return feed.ITunesExt.Subtitle
		}
		if feed.ITunesExt.Summary != "" {
			return feed.ITunesExt.Summary
		}
	}
	return ""
}
