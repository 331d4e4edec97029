package fetcher

import (
	"github.com/JakeFAU/urlcrawl/internal/crawler"
)

// Registry maps scraper kinds onto fetchers.
type Registry struct {
	fallback crawler.Fetcher
	byKind   map[crawler.ScraperKind]crawler.Fetcher
}

// NewRegistry builds a Registry whose default kind is served by fallback.
func NewRegistry(fallback crawler.Fetcher) *Registry {
	return &Registry{
		fallback: fallback,
		byKind:   map[crawler.ScraperKind]crawler.Fetcher{crawler.ScraperDefault: fallback},
	}
}

// Register binds a fetcher to a kind, replacing any previous binding.
func (r *Registry) Register(kind crawler.ScraperKind, f crawler.Fetcher) *Registry {
	if f != nil {
		r.byKind[kind] = f
	}
	return r
}

// Resolve returns the fetcher for kind, or the default fetcher when the kind
// has none registered.
func (r *Registry) Resolve(kind crawler.ScraperKind) crawler.Fetcher {
	if f, ok := r.byKind[kind]; ok {
		return f
	}
	return r.fallback
}
