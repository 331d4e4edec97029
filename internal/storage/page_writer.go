package storage

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/urlcrawl/internal/crawler"
	"github.com/JakeFAU/urlcrawl/internal/hash/sha256"
)

const defaultMaxNameLen = 100

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// PageWriterConfig controls how pages are named and rendered.
type PageWriterConfig struct {
	// MaxNameLen caps the file name length, excluding the extension.
	MaxNameLen int
	// FullDocument keeps the whole HTML document instead of only the body.
	FullDocument bool
}

// PageWriter stores fetched pages through a BlobStore.
type PageWriter struct {
	store  crawler.BlobStore
	cfg    PageWriterConfig
	logger *zap.Logger
}

// NewPageWriter constructs a PageWriter.
func NewPageWriter(store crawler.BlobStore, cfg PageWriterConfig, logger *zap.Logger) *PageWriter {
	if cfg.MaxNameLen <= 0 {
		cfg.MaxNameLen = defaultMaxNameLen
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PageWriter{store: store, cfg: cfg, logger: logger.Named("page_writer")}
}

// WritePage renders the page with its metadata header and stores it under
// the page prefix. It returns the storage URI.
func (w *PageWriter) WritePage(ctx context.Context, page crawler.Page) (string, error) {
	contentType := page.Response.ContentType()
	ext := Extension(contentType)
	name := FileName(page.URL, w.cfg.MaxNameLen) + ext
	key := name
	if page.Prefix != "" {
		key = path.Join(page.Prefix, name)
	}
	body, err := w.render(page, ext)
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = mime.TypeByExtension(ext)
	}
	uri, err := w.store.PutObject(ctx, key, contentType, body)
	if err != nil {
		return "", fmt.Errorf("store page: %w", err)
	}
	w.logger.Debug("page stored", zap.String("url", page.URL), zap.String("uri", uri), zap.Int("bytes", len(body)))
	return uri, nil
}

func (w *PageWriter) render(page crawler.Page, ext string) ([]byte, error) {
	body := page.Response.Body
	switch ext {
	case ".json":
		return body, nil
	case ".txt":
		var buf bytes.Buffer
		for _, line := range metadataLines(page) {
			buf.WriteString("# " + line + "\n")
		}
		buf.WriteString("\n")
		buf.Write(body)
		return buf.Bytes(), nil
	default:
		if !w.cfg.FullDocument {
			extracted, err := extractBody(body)
			if err != nil {
				return nil, err
			}
			body = extracted
		}
		var buf bytes.Buffer
		for _, line := range metadataLines(page) {
			buf.WriteString("<!-- " + strings.ReplaceAll(line, "--", "- -") + " -->\n")
		}
		buf.Write(body)
		return buf.Bytes(), nil
	}
}

func metadataLines(page crawler.Page) []string {
	fetched := page.FetchedAt
	if fetched.IsZero() {
		fetched = time.Now().UTC()
	}
	return []string{
		"Scraped from: " + page.URL,
		"Timestamp: " + fetched.Format(time.RFC3339),
		"Config: " + page.Group,
		"Domain: " + Domain(page.URL),
		"Crawl Session: " + page.Session,
	}
}

// extractBody returns the inner HTML of <body>, or the input when the
// document has no body element.
func extractBody(raw []byte) ([]byte, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	body := doc.Find("body").First()
	if body.Length() == 0 {
		return raw, nil
	}
	inner, err := body.Html()
	if err != nil {
		return nil, fmt.Errorf("render body: %w", err)
	}
	inner = strings.TrimSpace(inner)
	if inner == "" {
		return raw, nil
	}
	return []byte(inner + "\n"), nil
}

// Extension maps a content type onto a file extension.
func Extension(contentType string) string {
	media, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		media = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch {
	case strings.Contains(media, "json"):
		return ".json"
	case media == "text/plain":
		return ".txt"
	default:
		return ".html"
	}
}

// Domain returns the lowercase host of rawURL, or "unknown".
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// FileName derives a file name from the URL path and query. Names longer
// than maxLen are truncated and suffixed with a digest of the URL so that
// distinct URLs keep distinct names.
func FileName(rawURL string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = defaultMaxNameLen
	}
	name := "index"
	if u, err := url.Parse(rawURL); err == nil {
		if p := strings.Trim(u.Path, "/"); p != "" {
			name = p
		}
		if u.RawQuery != "" {
			name += "_" + u.RawQuery
		}
	} else {
		name = rawURL
	}
	name = strings.Trim(unsafeName.ReplaceAllString(name, "_"), "._")
	if name == "" {
		name = "index"
	}
	if len(name) <= maxLen {
		return name
	}
	digest := sha256.Short(rawURL, 8)
	keep := maxLen - len(digest) - 1
	if keep < 1 {
		return digest[:maxLen]
	}
	return name[:keep] + "_" + digest
}
