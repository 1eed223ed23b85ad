// Package catalogue holds the fixed set of Bolt Depot pages the scraper knows how to walk.
package catalogue

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// Kind selects how a walker parses its pages.
type Kind int

const (
	// KindProduct walks catalogue listings down to product detail pages.
	KindProduct Kind = iota
	// KindMetrics reads a single reference table from each entry page.
	KindMetrics
)

func (k Kind) String() string {
	switch k {
	case KindProduct:
		return "product"
	case KindMetrics:
		return "metrics"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Walker describes one feed: its name, how to parse it and where to start.
type Walker struct {
	Name      string
	Kind      Kind
	StartURLs []string
}

// Registry is an immutable name -> Walker lookup.
type Registry struct {
	walkers map[string]Walker
}

// NewRegistry builds a registry. Names must be unique and non-empty and every
// walker needs at least one start URL.
func NewRegistry(walkers ...Walker) (*Registry, error) {
	r := &Registry{walkers: make(map[string]Walker, len(walkers))}
	for _, w := range walkers {
		if strings.TrimSpace(w.Name) == "" {
			return nil, fmt.Errorf("walker name cannot be empty")
		}
		if _, dup := r.walkers[w.Name]; dup {
			return nil, fmt.Errorf("duplicate walker %q", w.Name)
		}
		if len(w.StartURLs) == 0 {
			return nil, fmt.Errorf("walker %q has no start urls", w.Name)
		}
		r.walkers[w.Name] = cloneWalker(w)
	}
	return r, nil
}

// Get returns a copy of the named walker.
func (r *Registry) Get(name string) (Walker, bool) {
	w, ok := r.walkers[name]
	if !ok {
		return Walker{}, false
	}
	return cloneWalker(w), true
}

// Names returns the sorted names of all walkers of the given kind.
func (r *Registry) Names(kind Kind) []string {
	var names []string
	for name, w := range r.walkers {
		if w.Kind == kind {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Filter matches a comma-separated list of glob patterns against the product
// catalogue names and returns the sorted union of the matches.
func (r *Registry) Filter(patterns string) ([]string, error) {
	names := r.Names(KindProduct)
	matched := make(map[string]struct{})
	for _, pattern := range strings.Split(patterns, ",") {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid catalogue pattern %q: %w", pattern, err)
		}
		for _, name := range names {
			if g.Match(name) {
				matched[name] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(matched))
	for name := range matched {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func cloneWalker(w Walker) Walker {
	urls := make([]string, len(w.StartURLs))
	copy(urls, w.StartURLs)
	w.StartURLs = urls
	return w
}
