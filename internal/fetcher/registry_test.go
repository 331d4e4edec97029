package fetcher

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/urlcrawl/internal/crawler"
)

type namedFetcher string

func (n namedFetcher) Fetch(context.Context, crawler.FetchRequest) (crawler.FetchResponse, error) {
	return crawler.FetchResponse{URL: string(n)}, nil
}

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(namedFetcher("default")).
		Register(crawler.ScraperText, namedFetcher("text")).
		Register(crawler.ScraperRender, nil)

	assert.Equal(t, namedFetcher("default"), reg.Resolve(crawler.ScraperDefault))
	assert.Equal(t, namedFetcher("text"), reg.Resolve(crawler.ScraperText))
	assert.Equal(t, namedFetcher("default"), reg.Resolve(crawler.ScraperRender))
	assert.Equal(t, namedFetcher("default"), reg.Resolve(crawler.ScraperHeadless))
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		resp      crawler.FetchResponse
		err       error
		wantOK    bool
		retryable bool
	}{
		{name: "ok", resp: crawler.FetchResponse{StatusCode: http.StatusOK}, wantOK: true},
		{name: "created is not success", resp: crawler.FetchResponse{StatusCode: http.StatusCreated}},
		{name: "not found", resp: crawler.FetchResponse{StatusCode: http.StatusNotFound}},
		{name: "server error", resp: crawler.FetchResponse{StatusCode: http.StatusBadGateway}, retryable: true},
		{name: "deadline", err: context.DeadlineExceeded, retryable: true},
		{name: "net timeout", err: timeoutErr{}, retryable: true},
		{name: "transport", err: errors.New("connection refused")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Classify("https://example.com", tt.resp, tt.err)
			if tt.wantOK {
				require.NoError(t, err)
				return
			}
			var fetchErr *crawler.FetchError
			require.ErrorAs(t, err, &fetchErr)
			assert.Equal(t, tt.retryable, fetchErr.Retryable)
			assert.Equal(t, "https://example.com", fetchErr.URL)
		})
	}
}
