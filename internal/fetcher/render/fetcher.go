// Package render dumps fetched HTML as plain text with the w3m browser.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/urlcrawl/internal/crawler"
)

const (
	defaultBinary  = "w3m"
	defaultTimeout = 30 * time.Second
)

// Config controls the w3m invocation.
type Config struct {
	// Binary is the w3m executable; looked up on PATH when not absolute.
	Binary  string
	Timeout time.Duration
}

// Fetcher wraps another Fetcher and converts successful bodies to text.
// When w3m is missing or fails the text is extracted with goquery instead.
type Fetcher struct {
	base   crawler.Fetcher
	cfg    Config
	logger *zap.Logger
	dump   func(ctx context.Context, html []byte) ([]byte, error)
}

// New wraps base.
func New(base crawler.Fetcher, cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Binary == "" {
		cfg.Binary = defaultBinary
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Fetcher{base: base, cfg: cfg, logger: logger.Named("render")}
	f.dump = f.w3mDump
	return f
}

// Fetch delegates to the wrapped fetcher and renders 200 responses as
// text/plain.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	resp, err := f.base.Fetch(ctx, request)
	if err != nil || resp.StatusCode != http.StatusOK {
		return resp, err
	}

	text, dumpErr := f.dump(ctx, resp.Body)
	if dumpErr != nil {
		if ctx.Err() != nil {
			return resp, fmt.Errorf("render %s: %w", request.URL, ctx.Err())
		}
		f.logger.Warn("w3m unavailable, extracting text with goquery",
			zap.String("url", request.URL),
			zap.Error(dumpErr),
		)
		text, err = PlainText(resp.Body)
		if err != nil {
			return resp, fmt.Errorf("render %s: %w", request.URL, err)
		}
	}

	resp.Body = text
	if resp.Headers == nil {
		resp.Headers = http.Header{}
	} else {
		resp.Headers = resp.Headers.Clone()
	}
	resp.Headers.Set("Content-Type", "text/plain; charset=utf-8")
	return resp, nil
}

func (f *Fetcher) w3mDump(ctx context.Context, html []byte) ([]byte, error) {
	path, err := exec.LookPath(f.cfg.Binary)
	if err != nil {
		return nil, fmt.Errorf("locate w3m: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, "-T", "text/html", "-dump")
	cmd.Stdin = bytes.NewReader(html)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("w3m timed out after %s", f.cfg.Timeout)
		}
		return nil, fmt.Errorf("w3m: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

var (
	blankRuns  = regexp.MustCompile(`\n{3,}`)
	spaceRuns  = regexp.MustCompile(`[ \t]+`)
	blockLevel = "p, div, li, tr, h1, h2, h3, h4, h5, h6, br, section, article, header, footer"
)

// PlainText approximates a text browser dump: scripts and styles are
// dropped and block elements end with a newline.
func PlainText(body []byte) ([]byte, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript").Remove()
	doc.Find(blockLevel).Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	lines := strings.Split(doc.Text(), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRuns.ReplaceAllString(line, " "))
	}
	text := blankRuns.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return []byte(strings.TrimSpace(text) + "\n"), nil
}
