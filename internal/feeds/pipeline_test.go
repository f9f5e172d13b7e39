package feeds

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"
)

// mockEmbedder returns a deterministic vector per input, or an error for
// inputs matching failOn.
type mockEmbedder struct {
	failOn string
	calls  int
}

func (m *mockEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	m.calls++
	var out [][]float32
	for _, text := range texts {
		if m.failOn != "" && strings.Contains(text, m.failOn) {
			return nil, fmt.Errorf("embedding service unavailable")
		}
		out = append(out, []float32{float32(len(text)), 0.5, 0.25})
	}
	return out, nil
}

func (m *mockEmbedder) Model() string { return "mock-embed" }

func testItem(i int, published time.Time) *gofeed.Item {
	return &gofeed.Item{
		Title:     fmt.Sprintf("Entry %d", i),
		Content:   fmt.Sprintf("<p>Body of entry %d</p>", i),
		Link:      fmt.Sprintf("https://example.com/post/%d", i),
		Published: published.UTC().Format(time.RFC1123Z),
	}
}

func testParams(now time.Time) Params {
	return Params{
		MaxEntries:   10,
		MaxAge:       24 * time.Hour,
		AdmitUndated: true,
		Now:          now,
	}
}

func TestRunAgeFilterScenario(t *testing.T) {
	// Entries dated [now, now-1h, now-25h] with max_age=24h: 2 admitted, 1 skipped.
	now := time.Now().UTC()
	items := []*gofeed.Item{
		testItem(1, now),
		testItem(2, now.Add(-time.Hour)),
		testItem(3, now.Add(-25*time.Hour)),
	}

	p := NewPipeline(&mockEmbedder{})
	admitted, counts := p.Run(context.Background(), items, nil, testParams(now))

	if counts.Added != 2 || counts.Skipped != 1 {
		t.Fatalf("added=%d skipped=%d, want 2/1", counts.Added, counts.Skipped)
	}
	if counts.Reasons[DateRejected] != 1 {
		t.Errorf("expected 1 date rejection, got %d", counts.Reasons[DateRejected])
	}
	if len(admitted) != 2 || admitted[0].Title != "Entry 1" || admitted[1].Title != "Entry 2" {
		t.Errorf("admitted set wrong: %+v", admitted)
	}
}

func TestRunAgeBoundaryInclusive(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	items := []*gofeed.Item{
		testItem(1, now.Add(-24*time.Hour)),             // exactly at the cutoff: admitted
		testItem(2, now.Add(-24*time.Hour-time.Second)), // one second older: rejected
	}

	p := NewPipeline(&mockEmbedder{})
	admitted, counts := p.Run(context.Background(), items, nil, testParams(now))

	if counts.Added != 1 || counts.Skipped != 1 {
		t.Fatalf("added=%d skipped=%d, want 1/1", counts.Added, counts.Skipped)
	}
	if admitted[0].Link != "https://example.com/post/1" {
		t.Errorf("boundary entry should be the admitted one, got %s", admitted[0].Link)
	}
}

func TestRunCapEnforcement(t *testing.T) {
	// 20 candidates, max_entries=5: exactly the 5 newest (in parser order)
	// are admitted, and the rest are not counted as skipped.
	now := time.Now().UTC()
	var items []*gofeed.Item
	for i := 1; i <= 20; i++ {
		items = append(items, testItem(i, now.Add(-time.Duration(i)*time.Minute)))
	}

	params := testParams(now)
	params.MaxEntries = 5
	p := NewPipeline(&mockEmbedder{})
	admitted, counts := p.Run(context.Background(), items, nil, params)

	if counts.Added != 5 {
		t.Fatalf("expected 5 admissions, got %d", counts.Added)
	}
	if counts.Skipped != 0 {
		t.Errorf("capped-out entries must not count as skipped, got %d", counts.Skipped)
	}
	for i, e := range admitted {
		if want := fmt.Sprintf("Entry %d", i+1); e.Title != want {
			t.Errorf("admitted[%d] = %q, want %q", i, e.Title, want)
		}
	}
}

func TestRunFieldValidation(t *testing.T) {
	now := time.Now().UTC()
	noTitle := testItem(1, now)
	noTitle.Title = "  "
	noLink := testItem(2, now)
	noLink.Link = ""
	noBody := testItem(3, now)
	noBody.Content = ""
	noBody.Description = ""
	descOnly := testItem(4, now)
	descOnly.Content = ""
	descOnly.Description = "summary text stands in for content"

	p := NewPipeline(&mockEmbedder{})
	admitted, counts := p.Run(context.Background(), []*gofeed.Item{noTitle, noLink, noBody, descOnly}, nil, testParams(now))

	if counts.Reasons[FieldInvalid] != 3 {
		t.Fatalf("expected 3 field rejections, got %d", counts.Reasons[FieldInvalid])
	}
	if len(admitted) != 1 || admitted[0].Content != "summary text stands in for content" {
		t.Fatalf("description fallback not applied: %+v", admitted)
	}
}

func TestRunDuplicateDetection(t *testing.T) {
	now := time.Now().UTC()
	existing := map[string]bool{"https://example.com/post/1": true}

	// Entry 1 is already persisted; entry 2 appears twice in the same batch.
	items := []*gofeed.Item{
		testItem(1, now),
		testItem(2, now),
		testItem(2, now.Add(-time.Minute)),
	}
	items[2].Title = "Entry 2 retitled" // same link, different title: still a duplicate

	p := NewPipeline(&mockEmbedder{})
	admitted, counts := p.Run(context.Background(), items, existing, testParams(now))

	if counts.Added != 1 || counts.Reasons[Duplicate] != 2 {
		t.Fatalf("added=%d duplicates=%d, want 1/2", counts.Added, counts.Reasons[Duplicate])
	}
	if admitted[0].Title != "Entry 2" {
		t.Errorf("wrong survivor: %s", admitted[0].Title)
	}
}

func TestRunEmbeddingFailureIsolated(t *testing.T) {
	// A provider failure on entry #3 of 10 must not affect the other nine.
	now := time.Now().UTC()
	var items []*gofeed.Item
	for i := 1; i <= 10; i++ {
		items = append(items, testItem(i, now.Add(-time.Duration(i)*time.Minute)))
	}

	p := NewPipeline(&mockEmbedder{failOn: "entry 3"})
	admitted, counts := p.Run(context.Background(), items, nil, testParams(now))

	if counts.Added != 9 {
		t.Fatalf("expected 9 admissions, got %d", counts.Added)
	}
	if counts.Reasons[EmbedFailed] != 1 {
		t.Fatalf("expected 1 embed failure, got %d", counts.Reasons[EmbedFailed])
	}
	for _, e := range admitted {
		if e.Title == "Entry 3" {
			t.Error("failed entry leaked into admitted set")
		}
		if len(e.Embedding) == 0 {
			t.Errorf("admitted entry %q has no embedding", e.Title)
		}
	}
}

func TestRunUndatedPolicy(t *testing.T) {
	now := time.Now().UTC()
	undated := &gofeed.Item{
		Title:   "No date at all",
		Content: "body",
		Link:    "https://example.com/undated",
	}

	p := NewPipeline(&mockEmbedder{})

	params := testParams(now)
	admitted, counts := p.Run(context.Background(), []*gofeed.Item{undated}, nil, params)
	if counts.Added != 1 {
		t.Fatalf("undated entry should be admitted by default, got %+v", counts)
	}
	if !admitted[0].Published.Equal(now) {
		t.Errorf("undated entry should carry the fetch time, got %v", admitted[0].Published)
	}

	params.AdmitUndated = false
	_, counts = p.Run(context.Background(), []*gofeed.Item{undated}, nil, params)
	if counts.Reasons[DateRejected] != 1 {
		t.Errorf("with AdmitUndated=false the entry should be date-rejected, got %+v", counts)
	}
}

func TestEmbedTextStripsMarkup(t *testing.T) {
	p := NewPipeline(&mockEmbedder{})
	got := p.embedText("Title", "<p>Hello <b>world</b> &amp; friends</p><script>alert(1)</script>")
	if strings.Contains(got, "<") || strings.Contains(got, "script") {
		t.Errorf("markup not stripped: %q", got)
	}
	if !strings.Contains(got, "Hello world & friends") {
		t.Errorf("text content lost: %q", got)
	}
}
