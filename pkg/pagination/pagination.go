package pagination

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

const (
	// DefaultPageSize is requested from upstream list endpoints.
	DefaultPageSize = 200
	// MaxPages bounds how many pages Collect will follow.
	MaxPages = 500
)

// Page is the envelope upstream list endpoints wrap their results in.
type Page[T any] struct {
	Count    int     `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  []T     `json:"results"`
}

// HasNext returns true if the page links to a following page.
func (p *Page[T]) HasNext() bool {
	return p.Next != nil && *p.Next != ""
}

// Fetcher retrieves the page at url.
type Fetcher[T any] func(ctx context.Context, url string) (*Page[T], error)

// Collect fetches first and then every page linked through Next, returning
// the concatenated results.
func Collect[T any](ctx context.Context, first string, fetch Fetcher[T]) ([]T, error) {
	var all []T
	visited := make(map[string]bool)
	next := first

	for pages := 0; next != ""; pages++ {
		if pages >= MaxPages {
			return nil, fmt.Errorf("pagination exceeded %d pages at %s", MaxPages, next)
		}
		if visited[next] {
			return nil, fmt.Errorf("pagination loop detected at %s", next)
		}
		visited[next] = true

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := fetch(ctx, next)
		if err != nil {
			return nil, err
		}
		if all == nil && page.Count > 0 {
			all = make([]T, 0, page.Count)
		}
		all = append(all, page.Results...)

		next = ""
		if page.HasNext() {
			next = *page.Next
		}
	}

	if all == nil {
		all = []T{}
	}
	return all, nil
}

// WithPageSize returns rawURL with its page_size query parameter set.
func WithPageSize(rawURL string, size int) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	q := u.Query()
	q.Set("page_size", strconv.Itoa(size))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
