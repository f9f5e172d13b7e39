package feeds

import (
	"context"
	"html"
	"log"
	"strings"
	"time"

	embedding "github.com/matthewjhunter/go-embedding"
	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"
)

// Reason is the terminal state an entry reaches in the admission pipeline.
// Each candidate reaches exactly one; the first applicable rule wins.
type Reason int

const (
	Admitted Reason = iota
	DateRejected
	FieldInvalid
	Duplicate
	EmbedFailed
)

func (r Reason) String() string {
	switch r {
	case Admitted:
		return "admitted"
	case DateRejected:
		return "date_rejected"
	case FieldInvalid:
		return "field_invalid"
	case Duplicate:
		return "duplicate"
	case EmbedFailed:
		return "embed_failed"
	}
	return "unknown"
}

// Params controls a single pipeline run.
type Params struct {
	MaxEntries   int           // cap on admissions per fetch
	MaxAge       time.Duration // entries older than this are rejected
	AdmitUndated bool          // substitute fetch time for unparseable/missing dates
	Now          time.Time     // fetch time; zero means time.Now
}

// Entry is an admitted entry, ready for persistence.
type Entry struct {
	Title     string
	Content   string
	Link      string
	Published time.Time
	Embedding []float32
}

// Counts aggregates the outcome of a pipeline run. Entries never considered
// because the cap was already reached are neither added nor skipped.
type Counts struct {
	Added   int
	Skipped int
	Reasons map[Reason]int
}

// Pipeline filters raw feed items and computes embeddings for the
// survivors. One pipeline is safe to reuse across fetches.
type Pipeline struct {
	embedder  embedding.Embedder
	sanitizer *bluemonday.Policy
}

// NewPipeline creates an admission pipeline backed by the given embedder.
func NewPipeline(embedder embedding.Embedder) *Pipeline {
	return &Pipeline{
		embedder:  embedder,
		sanitizer: bluemonday.StrictPolicy(),
	}
}

// Run evaluates items in order (newest first, per the parser) against the
// admission rules: cap, date/age, required fields, duplicate link, and
// embedding. existing holds the links already persisted for this feed. An
// embedding failure rejects only that entry; processing continues, so one
// transient provider hiccup never aborts the feed.
func (p *Pipeline) Run(ctx context.Context, items []*gofeed.Item, existing map[string]bool, params Params) ([]Entry, Counts) {
	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()
	cutoff := now.Add(-params.MaxAge)

	seen := make(map[string]bool, len(existing))
	for link := range existing {
		seen[link] = true
	}

	counts := Counts{Reasons: make(map[Reason]int)}
	reject := func(r Reason) {
		counts.Skipped++
		counts.Reasons[r]++
	}

	var admitted []Entry
	for _, item := range items {
		if counts.Added >= params.MaxEntries {
			break
		}

		published, ok := entryTimestamp(item)
		if !ok {
			if !params.AdmitUndated {
				reject(DateRejected)
				continue
			}
			// Undated entries are treated as fresh.
			published = now
		}

		// Inclusive boundary: an entry aged exactly MaxAge passes.
		if published.Before(cutoff) {
			reject(DateRejected)
			continue
		}

		title := strings.TrimSpace(item.Title)
		content := item.Content
		if content == "" {
			content = item.Description
		}
		link := item.Link
		if title == "" || content == "" || link == "" {
			reject(FieldInvalid)
			continue
		}

		if seen[link] {
			reject(Duplicate)
			continue
		}

		vector, err := embedding.Single(ctx, p.embedder, p.embedText(title, content))
		if err != nil {
			log.Printf("beacon: embedding failed for entry %q: %v", title, err)
			reject(EmbedFailed)
			continue
		}

		admitted = append(admitted, Entry{
			Title:     title,
			Content:   content,
			Link:      link,
			Published: published,
			Embedding: vector,
		})
		seen[link] = true
		counts.Added++
	}

	return admitted, counts
}

// embedText builds the embedding input from title and content, with markup
// stripped so the vector reflects the text rather than the HTML.
func (p *Pipeline) embedText(title, content string) string {
	plain := html.UnescapeString(p.sanitizer.Sanitize(content))
	return title + " " + strings.Join(strings.Fields(plain), " ")
}
