package feeds

import (
	"time"

	"github.com/araddon/dateparse"
	"github.com/mmcdole/gofeed"
)

// tzOffsets maps common US timezone abbreviations (plus UTC/GMT) to their
// offsets in seconds. Go's date parsing accepts these abbreviations but
// leaves the offset at zero when the zone isn't the local one, so entries
// stamped "EST" would otherwise be treated as UTC and fail the age filter
// five hours early.
var tzOffsets = map[string]int{
	"EST": -5 * 3600,
	"EDT": -4 * 3600,
	"CST": -6 * 3600,
	"CDT": -5 * 3600,
	"MST": -7 * 3600,
	"MDT": -6 * 3600,
	"PST": -8 * 3600,
	"PDT": -7 * 3600,
	"GMT": 0,
	"UTC": 0,
}

// parseDate parses a raw feed timestamp and normalizes it to UTC. Inputs
// without any timezone information are assumed to already be UTC. Bare
// abbreviations from tzOffsets are resolved as a supplementary step after
// the main parse.
func parseDate(raw string) (time.Time, error) {
	t, err := dateparse.ParseAny(raw)
	if err != nil {
		return time.Time{}, err
	}

	if name, offset := t.Zone(); offset == 0 {
		if secs, ok := tzOffsets[name]; ok && secs != 0 {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(),
				t.Second(), t.Nanosecond(), time.FixedZone(name, secs))
		}
	}

	return t.UTC(), nil
}

// entryTimestamp resolves an entry's effective timestamp from the first
// usable of its published/updated fields. Raw strings are preferred so the
// abbreviation table applies; the parser's own pre-parsed times are the
// fallback. The second return is false when no field yields a date.
func entryTimestamp(item *gofeed.Item) (time.Time, bool) {
	for _, raw := range []string{item.Published, item.Updated} {
		if raw == "" {
			continue
		}
		if t, err := parseDate(raw); err == nil {
			return t, true
		}
	}

	if item.PublishedParsed != nil {
		return item.PublishedParsed.UTC(), true
	}
	if item.UpdatedParsed != nil {
		return item.UpdatedParsed.UTC(), true
	}

	return time.Time{}, false
}
