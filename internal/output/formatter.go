package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	beacon "github.com/matthewjhunter/beacon"
)

type Format string

const (
	FormatJSON  Format = "json"
	FormatText  Format = "text"
	FormatHuman Format = "human"
)

type Formatter struct {
	format Format
	out    io.Writer
	err    io.Writer
}

// NewFormatter creates a new output formatter
func NewFormatter(format Format) *Formatter {
	return &Formatter{
		format: format,
		out:    os.Stdout,
		err:    os.Stderr,
	}
}

// NewFormatterWithWriters creates a formatter with custom output writers for testability
func NewFormatterWithWriters(format Format, out, errW io.Writer) *Formatter {
	return &Formatter{
		format: format,
		out:    out,
		err:    errW,
	}
}

// OutputFetchResult outputs a single-feed fetch result in the configured format
func (f *Formatter) OutputFetchResult(result *beacon.FetchResult) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(result)
	case FormatText:
		fmt.Fprintf(f.out, "feed=%s\tadded=%d\tskipped=%d\n",
			result.Feed.URL, result.EntriesAdded, result.EntriesSkipped)
		for reason, n := range result.Rejections {
			fmt.Fprintf(f.out, "rejected\treason=%s\tcount=%d\n", reason, n)
		}
		return nil
	case FormatHuman:
		fmt.Fprintf(f.out, "Fetched %s: %d new entries", result.Feed.Name, result.EntriesAdded)
		if result.EntriesSkipped > 0 {
			fmt.Fprintf(f.out, " (%d skipped)", result.EntriesSkipped)
		}
		fmt.Fprintln(f.out)
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// OutputFetchAllResult outputs the aggregate of a fetch across all registered feeds
func (f *Formatter) OutputFetchAllResult(result *beacon.FetchAllResult) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(result)
	case FormatText:
		fmt.Fprintf(f.out, "feeds_total=%d\tfeeds_fetched=%d\tfeeds_errored=%d\tentries_added=%d\n",
			result.FeedsTotal, result.FeedsFetched, result.FeedsErrored, result.EntriesAdded)
		for _, e := range result.Errors {
			fmt.Fprintf(f.out, "error\tfeed=%s\tmessage=%s\n", e.URL, e.Error)
		}
		return nil
	case FormatHuman:
		fmt.Fprintf(f.out, "Fetched %d/%d feeds, %d new entries\n",
			result.FeedsFetched, result.FeedsTotal, result.EntriesAdded)
		for _, e := range result.Errors {
			fmt.Fprintf(f.out, "  failed: %s (%s)\n", e.URL, e.Error)
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// OutputFeedList outputs the persisted feeds
func (f *Formatter) OutputFeedList(feeds []beacon.Feed) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(feeds)
	case FormatText:
		for _, fd := range feeds {
			fmt.Fprintf(f.out, "id=%d\tname=%s\turl=%s\tcategory=%s\tupdated=%s\n",
				fd.ID, fd.Name, fd.URL, fd.Category, formatTime(fd.LastUpdated))
		}
		return nil
	case FormatHuman:
		if len(feeds) == 0 {
			fmt.Fprintln(f.out, "No feeds stored")
			return nil
		}
		fmt.Fprintf(f.out, "Feeds (%d):\n\n", len(feeds))
		for _, fd := range feeds {
			fmt.Fprintf(f.out, "ID: %d\n", fd.ID)
			fmt.Fprintf(f.out, "Name: %s\n", fd.Name)
			fmt.Fprintf(f.out, "URL: %s\n", fd.URL)
			if fd.Category != "" {
				fmt.Fprintf(f.out, "Category: %s\n", fd.Category)
			}
			if fd.LastUpdated != nil {
				fmt.Fprintf(f.out, "Updated: %s\n", fd.LastUpdated.Format("2006-01-02 15:04"))
			}
			fmt.Fprintln(f.out, "---")
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// OutputSearchResult outputs ranked search hits
func (f *Formatter) OutputSearchResult(result *beacon.SearchResult) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(result)
	case FormatText:
		if result.FilteredOut {
			fmt.Fprintln(f.out, "filtered_out=true")
		}
		for _, e := range result.Entries {
			fmt.Fprintf(f.out, "score=%.3f\tfeed=%s\ttitle=%s\tlink=%s\n",
				e.Score, e.FeedName, e.Title, e.Link)
		}
		return nil
	case FormatHuman:
		if len(result.Entries) == 0 {
			if result.FilteredOut {
				fmt.Fprintln(f.out, "Matches exist, but none inside the requested time window")
			} else {
				fmt.Fprintln(f.out, "No matches")
			}
			return nil
		}
		fmt.Fprintf(f.out, "Results for %q:\n\n", result.Query)
		for _, e := range result.Entries {
			fmt.Fprintf(f.out, "  [%.2f] %s — %s\n", e.Score, e.FeedName, e.Title)
			fmt.Fprintf(f.out, "    %s\n", e.Link)
			if e.Published != nil {
				fmt.Fprintf(f.out, "    %s\n", e.Published.Format("2006-01-02 15:04"))
			}
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// OutputFeedDetails outputs one feed with its entries bucketed by age
func (f *Formatter) OutputFeedDetails(details *beacon.FeedDetails) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(details)
	case FormatText:
		fmt.Fprintf(f.out, "feed=%s\tlast_24h=%d\tlast_week=%d\tlast_month=%d\tolder=%d\n",
			details.Feed.URL, len(details.Last24h), len(details.LastWeek),
			len(details.LastMonth), len(details.Older))
		return nil
	case FormatHuman:
		fmt.Fprintf(f.out, "%s (%s)\n", details.Feed.Name, details.Feed.URL)
		buckets := []struct {
			label   string
			entries []beacon.Entry
		}{
			{"Last 24 hours", details.Last24h},
			{"Last week", details.LastWeek},
			{"Last month", details.LastMonth},
			{"Older", details.Older},
		}
		for _, b := range buckets {
			if len(b.entries) == 0 {
				continue
			}
			fmt.Fprintf(f.out, "\n%s:\n", b.label)
			for _, e := range b.entries {
				fmt.Fprintf(f.out, "  • %s\n    %s\n", e.Title, e.Link)
			}
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// OutputCategories outputs the registered category names
func (f *Formatter) OutputCategories(categories []string) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(categories)
	case FormatText:
		for _, c := range categories {
			fmt.Fprintln(f.out, c)
		}
		return nil
	case FormatHuman:
		if len(categories) == 0 {
			fmt.Fprintln(f.out, "No categories registered")
			return nil
		}
		fmt.Fprintf(f.out, "Categories (%d):\n", len(categories))
		for _, c := range categories {
			fmt.Fprintf(f.out, "  • %s\n", c)
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// OutputCategoryFeeds outputs the registered feeds of one category
func (f *Formatter) OutputCategoryFeeds(category string, feeds []beacon.CategoryFeed) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(map[string]interface{}{
			"category": category,
			"feeds":    feeds,
		})
	case FormatText:
		for _, fd := range feeds {
			fmt.Fprintf(f.out, "category=%s\tname=%s\turl=%s\n", category, fd.Name, fd.URL)
		}
		return nil
	case FormatHuman:
		if len(feeds) == 0 {
			fmt.Fprintf(f.out, "No feeds in category %q\n", category)
			return nil
		}
		fmt.Fprintf(f.out, "%s (%d feeds):\n", category, len(feeds))
		for _, fd := range feeds {
			fmt.Fprintf(f.out, "  • %s\n    %s\n", fd.Name, fd.URL)
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// Error outputs an error message to stderr
func (f *Formatter) Error(format string, args ...interface{}) {
	fmt.Fprintf(f.err, format+"\n", args...)
}

// Warning outputs a warning message to stderr
func (f *Formatter) Warning(format string, args ...interface{}) {
	fmt.Fprintf(f.err, "Warning: "+format+"\n", args...)
}

// formatTime formats a time pointer for output
func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
