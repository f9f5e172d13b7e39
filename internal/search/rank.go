// Package search re-ranks approximate-nearest-neighbor candidates with a
// blend of semantic relevance and recency, and derives both a flat entry
// view and a per-feed grouped view from the same ranked set.
package search

import (
	"fmt"
	"sort"
	"time"

	"github.com/matthewjhunter/beacon/internal/storage"
)

// EntriesPerFeed caps how many matching entries are reported per feed in
// the grouped view.
const EntriesPerFeed = 3

// Window restricts candidates to a recent time period before ranking.
type Window int

const (
	WindowAll Window = iota
	WindowDay
	WindowWeek
	WindowMonth
)

// ParseWindow maps the wire names ("", "24h", "week", "month") to a Window.
func ParseWindow(s string) (Window, error) {
	switch s {
	case "", "all":
		return WindowAll, nil
	case "24h":
		return WindowDay, nil
	case "week":
		return WindowWeek, nil
	case "month":
		return WindowMonth, nil
	}
	return WindowAll, fmt.Errorf("unknown time filter %q (want 24h, week, or month)", s)
}

// Duration returns the window length; ok is false for WindowAll.
func (w Window) Duration() (time.Duration, bool) {
	switch w {
	case WindowDay:
		return 24 * time.Hour, true
	case WindowWeek:
		return 7 * 24 * time.Hour, true
	case WindowMonth:
		return 30 * 24 * time.Hour, true
	}
	return 0, false
}

// Mode selects the scoring blend.
type Mode int

const (
	// ModeRelevance scores by semantic rank alone (the default).
	ModeRelevance Mode = iota
	// ModeRecent scores by recency alone.
	ModeRecent
	// ModeCombined blends relevance and recency 70/30.
	ModeCombined
)

// ParseMode maps the wire names ("relevance", "recent", "combined").
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "relevance":
		return ModeRelevance, nil
	case "recent":
		return ModeRecent, nil
	case "combined":
		return ModeCombined, nil
	}
	return ModeRelevance, fmt.Errorf("unknown sort mode %q (want relevance, recent, or combined)", s)
}

// Outcome distinguishes why a result set is the shape it is. Callers need
// to tell "nothing matched the query" from "matches existed but the time
// filter removed them all".
type Outcome int

const (
	OutcomeMatched Outcome = iota
	OutcomeNoMatches
	OutcomeFilteredEmpty
)

// Options controls one ranking pass.
type Options struct {
	Limit  int
	Window Window
	Mode   Mode
	Now    time.Time // zero means time.Now
}

// ScoredEntry is a candidate with its blended score.
type ScoredEntry struct {
	Entry storage.Entry
	Score float64
}

// FeedGroup is a feed ranked by the aggregate score of its matching
// entries, carrying its top entries.
type FeedGroup struct {
	Feed    storage.Feed
	Score   float64
	Entries []ScoredEntry
}

// Result is the ranked output: a flat deduplicated entry list and a
// per-feed grouping, both derived from the same candidate set.
type Result struct {
	Outcome Outcome
	Entries []ScoredEntry
	Feeds   []FeedGroup
}

// Rank filters, scores, and orders ANN candidates. cands must be in the
// index's distance order (closest first); feeds maps feed IDs to their
// persisted rows for the grouped view.
func Rank(cands []storage.EntryMatch, feeds map[int64]storage.Feed, opts Options) Result {
	if len(cands) == 0 {
		return Result{Outcome: OutcomeNoMatches}
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	// Time-window filter runs before ranking so the semantic positions
	// below still reflect the full candidate set.
	type candidate struct {
		entry    storage.Entry
		semantic float64
		recency  float64
	}
	var kept []candidate
	windowDur, windowed := opts.Window.Duration()
	for i, c := range cands {
		if windowed && now.Sub(c.Published) > windowDur {
			continue
		}
		kept = append(kept, candidate{
			entry:    c.Entry,
			semantic: 1.0 - float64(i)/float64(len(cands)),
			recency:  recencyScore(c.Published, now),
		})
	}
	if len(kept) == 0 {
		return Result{Outcome: OutcomeFilteredEmpty}
	}

	score := func(c candidate) float64 {
		switch opts.Mode {
		case ModeRecent:
			return c.recency
		case ModeCombined:
			return 0.7*c.semantic + 0.3*c.recency
		}
		return c.semantic
	}

	scored := make([]ScoredEntry, len(kept))
	for i, c := range kept {
		scored[i] = ScoredEntry{Entry: c.entry, Score: score(c)}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	result := Result{Outcome: OutcomeMatched}

	// Flat view: deduplicated by entry ID, capped at the limit.
	seen := make(map[int64]bool)
	for _, se := range scored {
		if opts.Limit > 0 && len(result.Entries) >= opts.Limit {
			break
		}
		if seen[se.Entry.ID] {
			continue
		}
		seen[se.Entry.ID] = true
		result.Entries = append(result.Entries, se)
	}

	// Grouped view: feeds ranked by aggregate entry score, top entries each.
	groups := make(map[int64]*FeedGroup)
	var order []int64
	for _, se := range scored {
		g, ok := groups[se.Entry.FeedID]
		if !ok {
			g = &FeedGroup{Feed: feeds[se.Entry.FeedID]}
			groups[se.Entry.FeedID] = g
			order = append(order, se.Entry.FeedID)
		}
		g.Score += se.Score
		if len(g.Entries) < EntriesPerFeed {
			g.Entries = append(g.Entries, se)
		}
	}
	for _, id := range order {
		result.Feeds = append(result.Feeds, *groups[id])
	}
	sort.SliceStable(result.Feeds, func(i, j int) bool {
		return result.Feeds[i].Score > result.Feeds[j].Score
	})
	if opts.Limit > 0 && len(result.Feeds) > opts.Limit {
		result.Feeds = result.Feeds[:opts.Limit]
	}

	return result
}

// recencyScore decays linearly from 1.0 at age zero to 0.5 at 30 days,
// flooring at 0.5 so old entries are discounted but never buried entirely.
// Entries with no known date score 1.0.
func recencyScore(published, now time.Time) float64 {
	if published.IsZero() {
		return 1.0
	}
	age := now.Sub(published)
	if age < 0 {
		age = 0
	}
	const month = 30 * 24 * time.Hour
	score := 1.0 - (age.Seconds()/month.Seconds())*0.5
	if score < 0.5 {
		return 0.5
	}
	return score
}
