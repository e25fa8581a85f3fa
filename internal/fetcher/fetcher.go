// Package fetcher holds the page type shared by the static loader, the
// headless renderer and the promotion detector.
package fetcher

import (
	"context"
	"net/http"
	"time"
)

// Page is a fetched or rendered HTTP resource.
type Page struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// ContentType returns the response Content-Type header.
func (p Page) ContentType() string {
	if p.Headers == nil {
		return ""
	}
	return p.Headers.Get("Content-Type")
}

// Renderer loads a URL in a JavaScript-capable browser.
type Renderer interface {
	Render(ctx context.Context, rawURL string) (Page, error)
}

// Detector decides whether a statically fetched page needs rendering.
type Detector interface {
	ShouldPromote(page Page) bool
}

// Waiter paces requests per host.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}
