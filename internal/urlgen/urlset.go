package urlgen

import (
	"fmt"

	"github.com/JakeFAU/urlcrawl/internal/crawler"
)

// URLSet is the ordered union of all expanded descriptors. Each target keeps
// the name of the descriptor that produced it.
type URLSet struct {
	targets []crawler.Target
	groups  []string
	skipped error
}

// NewURLSet builds a set from already expanded targets, preserving order.
func NewURLSet(targets []crawler.Target) *URLSet {
	s := &URLSet{targets: targets}
	seen := make(map[string]struct{})
	for _, t := range targets {
		if _, ok := seen[t.Group]; ok {
			continue
		}
		seen[t.Group] = struct{}{}
		s.groups = append(s.groups, t.Group)
	}
	return s
}

// Len returns the number of targets.
func (s *URLSet) Len() int {
	return len(s.targets)
}

// Targets returns the targets in generation order.
func (s *URLSet) Targets() []crawler.Target {
	out := make([]crawler.Target, len(s.targets))
	copy(out, s.targets)
	return out
}

// URLs returns the target URLs in generation order.
func (s *URLSet) URLs() []string {
	out := make([]string, len(s.targets))
	for i, t := range s.targets {
		out[i] = t.URL
	}
	return out
}

// Groups returns descriptor names in first-seen order.
func (s *URLSet) Groups() []string {
	out := make([]string, len(s.groups))
	copy(out, s.groups)
	return out
}

// Group returns the targets produced by one descriptor.
func (s *URLSet) Group(name string) []crawler.Target {
	var out []crawler.Target
	for _, t := range s.targets {
		if t.Group == name {
			out = append(out, t)
		}
	}
	return out
}

// Lookup returns the first target with the given URL.
func (s *URLSet) Lookup(rawURL string) (crawler.Target, bool) {
	for _, t := range s.targets {
		if t.URL == rawURL {
			return t, true
		}
	}
	return crawler.Target{}, false
}

// Skipped returns the aggregated descriptor errors tolerated by a
// best-effort load, or nil.
func (s *URLSet) Skipped() error {
	return s.skipped
}

// Only keeps the targets of a single descriptor. An unknown name is an error.
func (s *URLSet) Only(name string) (*URLSet, error) {
	for _, g := range s.groups {
		if g == name {
			return NewURLSet(s.Group(name)), nil
		}
	}
	return nil, fmt.Errorf("unknown descriptor %q", name)
}

// LimitPerGroup keeps at most n targets per descriptor. n <= 0 keeps everything.
func (s *URLSet) LimitPerGroup(n int) *URLSet {
	if n <= 0 {
		return s
	}
	counts := make(map[string]int)
	out := make([]crawler.Target, 0, len(s.targets))
	for _, t := range s.targets {
		if counts[t.Group] >= n {
			continue
		}
		counts[t.Group]++
		out = append(out, t)
	}
	return NewURLSet(out)
}

// Without drops the targets for which skip returns true.
func (s *URLSet) Without(skip func(crawler.Target) bool) *URLSet {
	out := make([]crawler.Target, 0, len(s.targets))
	for _, t := range s.targets {
		if !skip(t) {
			out = append(out, t)
		}
	}
	return NewURLSet(out)
}
