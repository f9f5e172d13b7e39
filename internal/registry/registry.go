// Package registry holds the category -> feed mapping that drives fetching.
// The registry is an explicit object constructed at startup and passed to
// whoever needs it; it is loaded from a YAML file and rewritten wholesale
// on every save.
package registry

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultUpdateInterval is assigned to descriptors that don't specify one.
const DefaultUpdateInterval = time.Hour

// FeedDescriptor identifies a feed within the registry. URL is the unique
// key across all categories.
type FeedDescriptor struct {
	URL            string   `yaml:"url"`
	Name           string   `yaml:"name"`
	UpdateInterval Duration `yaml:"update_interval,omitempty"`
}

// Category is a named, ordered list of feed descriptors.
type Category struct {
	Name  string           `yaml:"name"`
	Feeds []FeedDescriptor `yaml:"feeds"`
}

// Duration wraps time.Duration with YAML support for "1h30m" style strings.
type Duration time.Duration

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

type registryFile struct {
	Categories []Category `yaml:"categories"`
}

// Registry is the category -> feed-descriptor store. Category order and
// feed order within a category are preserved across load/save cycles.
type Registry struct {
	mu         sync.RWMutex
	categories []Category
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

// Load reads a registry file. A missing file yields an empty registry, not
// an error, so a fresh install works before init-config has run.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry %s: %w", path, err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse registry %s: %w", path, err)
	}

	return &Registry{categories: file.Categories}, nil
}

// Save rewrites the registry file in full. There is no partial patch
// format; the file on disk always reflects the complete in-memory state.
func (r *Registry) Save(path string) error {
	r.mu.RLock()
	file := registryFile{Categories: r.categories}
	data, err := yaml.Marshal(&file)
	r.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write registry %s: %w", path, err)
	}
	return nil
}

// Categories returns category names in registry order.
func (r *Registry) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.categories))
	for i, c := range r.categories {
		names[i] = c.Name
	}
	return names
}

// FeedsIn returns the descriptors in the named category. The match is
// case-insensitive; a nil slice means the category doesn't exist.
func (r *Registry) FeedsIn(category string) []FeedDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.categories {
		if strings.EqualFold(c.Name, category) {
			out := make([]FeedDescriptor, len(c.Feeds))
			copy(out, c.Feeds)
			return out
		}
	}
	return nil
}

// AllFeeds returns every descriptor across all categories, in order.
func (r *Registry) AllFeeds() []FeedDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []FeedDescriptor
	for _, c := range r.categories {
		out = append(out, c.Feeds...)
	}
	return out
}

// CategoryFor reverse-looks-up the first category whose feed list contains
// the given URL. The second return is false when no category matches.
func (r *Registry) CategoryFor(url string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.categories {
		for _, f := range c.Feeds {
			if f.URL == url {
				return c.Name, true
			}
		}
	}
	return "", false
}

// FeedByName returns the first descriptor with the given display name.
func (r *Registry) FeedByName(name string) (FeedDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.categories {
		for _, f := range c.Feeds {
			if f.Name == name {
				return f, true
			}
		}
	}
	return FeedDescriptor{}, false
}

// Add inserts a descriptor into the named category, creating the category
// if needed. A URL already present anywhere in the registry is an error.
func (r *Registry) Add(category string, fd FeedDescriptor) error {
	if fd.URL == "" {
		return fmt.Errorf("feed URL is required")
	}
	if fd.UpdateInterval == 0 {
		fd.UpdateInterval = Duration(DefaultUpdateInterval)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.categories {
		for _, f := range c.Feeds {
			if f.URL == fd.URL {
				return fmt.Errorf("feed %s already registered in category %q", fd.URL, c.Name)
			}
		}
	}

	for i, c := range r.categories {
		if strings.EqualFold(c.Name, category) {
			r.categories[i].Feeds = append(r.categories[i].Feeds, fd)
			return nil
		}
	}
	r.categories = append(r.categories, Category{Name: category, Feeds: []FeedDescriptor{fd}})
	return nil
}

// Merge inserts the incoming categories without creating duplicates: a URL
// already present anywhere is skipped, and a name collision on a distinct
// URL is renamed "Name (n)". New categories are appended after existing
// ones, preserving the incoming order. Returns the number of feeds added.
func (r *Registry) Merge(incoming []Category) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	urls := make(map[string]bool)
	names := make(map[string]bool)
	for _, c := range r.categories {
		for _, f := range c.Feeds {
			urls[f.URL] = true
			names[f.Name] = true
		}
	}

	added := 0
	for _, in := range incoming {
		idx := -1
		for i, c := range r.categories {
			if strings.EqualFold(c.Name, in.Name) {
				idx = i
				break
			}
		}
		if idx < 0 {
			r.categories = append(r.categories, Category{Name: in.Name})
			idx = len(r.categories) - 1
		}

		for _, f := range in.Feeds {
			if urls[f.URL] {
				continue
			}
			base := f.Name
			for n := 1; names[f.Name]; n++ {
				f.Name = fmt.Sprintf("%s (%d)", base, n)
			}
			if f.UpdateInterval == 0 {
				f.UpdateInterval = Duration(DefaultUpdateInterval)
			}
			r.categories[idx].Feeds = append(r.categories[idx].Feeds, f)
			urls[f.URL] = true
			names[f.Name] = true
			added++
		}
	}
	return added
}

// MinUpdateInterval returns the smallest update interval across all
// registered feeds, or fallback when the registry is empty.
func (r *Registry) MinUpdateInterval(fallback time.Duration) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	min := fallback
	for _, c := range r.categories {
		for _, f := range c.Feeds {
			if iv := time.Duration(f.UpdateInterval); iv > 0 && iv < min {
				min = iv
			}
		}
	}
	return min
}
