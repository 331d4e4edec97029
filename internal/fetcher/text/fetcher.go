// Package text reduces fetched HTML to its title, headings and paragraphs.
package text

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/urlcrawl/internal/crawler"
)

// Fetcher wraps another Fetcher and rewrites successful HTML bodies into a
// compact document of <h1> title, <h2> headings and <p> paragraphs.
type Fetcher struct {
	base crawler.Fetcher
}

// New wraps base.
func New(base crawler.Fetcher) *Fetcher {
	return &Fetcher{base: base}
}

// Fetch delegates to the wrapped fetcher and simplifies the body. Non-200
// responses are returned untouched.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	resp, err := f.base.Fetch(ctx, request)
	if err != nil || resp.StatusCode != http.StatusOK {
		return resp, err
	}
	simplified, err := Simplify(resp.Body)
	if err != nil {
		return resp, fmt.Errorf("simplify %s: %w", request.URL, err)
	}
	resp.Body = simplified
	if resp.Headers == nil {
		resp.Headers = http.Header{}
	} else {
		resp.Headers = resp.Headers.Clone()
	}
	resp.Headers.Set("Content-Type", "text/html; charset=utf-8")
	return resp, nil
}

// Simplify extracts the structural text of an HTML document. A page with no
// title, headings or paragraphs falls back to its full text.
func Simplify(body []byte) ([]byte, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var parts []string
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		parts = append(parts, "<h1>"+html.EscapeString(title)+"</h1>")
	}
	for level := 1; level <= 6; level++ {
		doc.Find(fmt.Sprintf("h%d", level)).Each(func(_ int, s *goquery.Selection) {
			if heading := strings.TrimSpace(s.Text()); heading != "" {
				parts = append(parts, "<h2>"+html.EscapeString(heading)+"</h2>")
			}
		})
	}
	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		if para := strings.TrimSpace(s.Text()); para != "" {
			parts = append(parts, "<p>"+html.EscapeString(para)+"</p>")
		}
	})

	if len(parts) == 0 {
		return []byte(doc.Text()), nil
	}
	return []byte(strings.Join(parts, "\n")), nil
}
