// Package novelty decides whether a fetched listing page still carries items
// that have not been seen before. Known items are loaded from a CSV file
// and every novel item found during a run is added to the index, so a later
// page that repeats them reports zero novelty.
package novelty

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/urlcrawl/internal/crawler"
)

const (
	// DefaultColumn is the CSV column holding item URLs.
	DefaultColumn = "item_url"
	// DefaultSelector matches every link on the page.
	DefaultSelector = "a[href]"
)

// Config configures an Index.
type Config struct {
	KnownItemsFile  string
	Column          string
	DefaultSelector string
	// KeepQuery retains query strings when normalizing item URLs. Listing
	// sites often append session tokens, so it is off by default.
	KeepQuery bool
}

// Index is a concurrency-safe set of known item URLs that implements
// crawler.NoveltyChecker.
type Index struct {
	cfg    Config
	logger *zap.Logger

	mu    sync.Mutex
	known map[string]struct{}
	added []string
	// col and width describe the known-items file layout so appended rows
	// line up with its header.
	col   int
	width int
}

// Open loads the known-items file. A missing file yields an empty index.
func Open(cfg Config, logger *zap.Logger) (*Index, error) {
	if cfg.Column == "" {
		cfg.Column = DefaultColumn
	}
	if cfg.DefaultSelector == "" {
		cfg.DefaultSelector = DefaultSelector
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	idx := &Index{
		cfg:    cfg,
		logger: logger.Named("novelty"),
		known:  make(map[string]struct{}),
		width:  1,
	}
	if cfg.KnownItemsFile == "" {
		return idx, nil
	}
	f, err := os.Open(cfg.KnownItemsFile)
	if errors.Is(err, os.ErrNotExist) {
		idx.logger.Info("known items file not found, starting empty", zap.String("path", cfg.KnownItemsFile))
		return idx, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open known items: %w", err)
	}
	defer func() { _ = f.Close() }()
	if err := idx.load(f); err != nil {
		return nil, fmt.Errorf("load known items %s: %w", cfg.KnownItemsFile, err)
	}
	idx.logger.Info("loaded known items", zap.Int("count", len(idx.known)))
	return idx, nil
}

func (i *Index) load(r io.Reader) error {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	col := -1
	for n, name := range header {
		if strings.TrimSpace(name) == i.cfg.Column {
			col = n
			break
		}
	}
	if col < 0 {
		return fmt.Errorf("column %q not found", i.cfg.Column)
	}
	i.col, i.width = col, len(header)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read record: %w", err)
		}
		if col >= len(record) {
			continue
		}
		if item := strings.TrimSpace(record[col]); item != "" {
			i.known[item] = struct{}{}
		}
	}
}

// Len reports how many items are known.
func (i *Index) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.known)
}

// Known reports whether an item URL has been seen.
func (i *Index) Known(item string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.known[item]
	return ok
}

// Check extracts the items on a page and counts the unseen ones. Novel
// items are remembered immediately.
func (i *Index) Check(_ context.Context, input crawler.NoveltyInput) (crawler.NoveltyResult, error) {
	selector := input.ItemSelector
	if selector == "" {
		selector = i.cfg.DefaultSelector
	}
	items, err := i.Extract(input.URL, input.Body, selector)
	if err != nil {
		return crawler.NoveltyResult{}, err
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	novel := 0
	for _, item := range items {
		if _, ok := i.known[item]; ok {
			continue
		}
		i.known[item] = struct{}{}
		i.added = append(i.added, item)
		novel++
	}
	i.logger.Debug("novelty checked",
		zap.String("url", input.URL),
		zap.Int("items", len(items)),
		zap.Int("novel", novel),
	)
	return crawler.NoveltyResult{Novel: novel, Total: len(items)}, nil
}

// Extract returns the distinct item URLs matched by selector, resolved
// against pageURL. Matches without an href are ignored.
func (i *Index) Extract(pageURL string, body []byte, selector string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse page %s: %w", pageURL, err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url %s: %w", pageURL, err)
	}

	seen := make(map[string]struct{})
	var items []string
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			href, ok = s.Find("a[href]").First().Attr("href")
		}
		if !ok {
			return
		}
		item := i.normalize(base, href)
		if item == "" {
			return
		}
		if _, dup := seen[item]; dup {
			return
		}
		seen[item] = struct{}{}
		items = append(items, item)
	})
	return items, nil
}

func (i *Index) normalize(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref)
	abs.Fragment = ""
	if !i.cfg.KeepQuery {
		abs.RawQuery = ""
	}
	return abs.String()
}

// Save appends the items discovered since Open to the known-items file,
// writing a header when the file is new. It is a no-op without a file.
func (i *Index) Save() error {
	if i.cfg.KnownItemsFile == "" {
		return nil
	}
	i.mu.Lock()
	pending := append([]string(nil), i.added...)
	i.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(i.cfg.KnownItemsFile), 0o755); err != nil {
		return fmt.Errorf("create known items dir: %w", err)
	}
	info, statErr := os.Stat(i.cfg.KnownItemsFile)
	fresh := errors.Is(statErr, os.ErrNotExist) || (statErr == nil && info.Size() == 0)

	f, err := os.OpenFile(i.cfg.KnownItemsFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open known items for append: %w", err)
	}
	w := csv.NewWriter(f)
	if fresh {
		i.col, i.width = 0, 1
		_ = w.Write([]string{i.cfg.Column})
	}
	for _, item := range pending {
		row := make([]string, i.width)
		row[i.col] = item
		_ = w.Write(row)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("write known items: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close known items: %w", err)
	}

	i.mu.Lock()
	i.added = i.added[len(pending):]
	i.mu.Unlock()
	i.logger.Info("saved new items", zap.Int("count", len(pending)), zap.String("path", i.cfg.KnownItemsFile))
	return nil
}
