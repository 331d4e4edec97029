package headless

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/urlcrawl/internal/crawler"
)

// ErrUnavailable is returned when headless rendering is disabled.
var ErrUnavailable = errors.New("headless browser not enabled")

// Unavailable stands in for the browser when headless.enabled is false so
// descriptors that ask for it fail per URL instead of aborting the run.
type Unavailable struct{}

// Fetch always fails with ErrUnavailable.
func (Unavailable) Fetch(_ context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, ErrUnavailable)
}
