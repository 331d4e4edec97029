package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/JakeFAU/urlcrawl/internal/crawler"
)

// Classify turns a fetch result into nil (HTTP 200) or a *crawler.FetchError.
// Server errors and timeouts are retryable; everything else is terminal.
func Classify(url string, resp crawler.FetchResponse, err error) error {
	if err != nil {
		return &crawler.FetchError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Retryable:  isTimeout(err),
			Err:        err,
		}
	}
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode >= http.StatusInternalServerError:
		return &crawler.FetchError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Retryable:  true,
			Err:        fmt.Errorf("HTTP %d", resp.StatusCode),
		}
	default:
		return &crawler.FetchError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("HTTP %d", resp.StatusCode),
		}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
