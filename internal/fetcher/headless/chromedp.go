// Package headless renders pages in headless Chrome for documents whose text
// only appears after JavaScript runs.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	"github.com/shivamtherexpandey/usm-app/internal/fetcher"
)

// Config controls the renderer.
type Config struct {
	// MaxParallel caps concurrent browser tabs. Zero means unbounded.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// Settle is how long to wait after the body is ready for client rendering.
	Settle time.Duration
}

// Renderer implements fetcher.Renderer with one shared Chrome process and a
// tab per render.
type Renderer struct {
	cfg         Config
	tabs        *semaphore.Weighted
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a renderer. Chrome starts lazily on the first Render.
func NewChromedp(cfg Config) (*Renderer, error) {
	if cfg.MaxParallel < 0 {
		return nil, errors.New("headless.max_parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.Settle <= 0 {
		cfg.Settle = 500 * time.Millisecond
	}
	r := &Renderer{cfg: cfg}
	if cfg.MaxParallel > 0 {
		r.tabs = semaphore.NewWeighted(int64(cfg.MaxParallel))
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	r.allocator, r.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	return r, nil
}

// Close shuts the browser down.
func (r *Renderer) Close() {
	r.allocCancel()
}

// Render loads rawURL in a fresh tab and returns the DOM after scripts ran.
func (r *Renderer) Render(ctx context.Context, rawURL string) (fetcher.Page, error) {
	if r.tabs != nil {
		if err := r.tabs.Acquire(ctx, 1); err != nil {
			return fetcher.Page{}, fmt.Errorf("wait for browser tab: %w", err)
		}
		defer r.tabs.Release(1)
	}

	tab, closeTab := chromedp.NewContext(r.allocator)
	defer closeTab()
	tab, cancel := context.WithTimeout(tab, r.cfg.NavigationTimeout)
	defer cancel()
	// the tab is rooted at the allocator, so tie it to the caller as well
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var nav navigation
	chromedp.ListenTarget(tab, nav.observe)

	start := time.Now()
	var html, location string
	err := chromedp.Run(tab,
		r.prepareTab(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(r.cfg.Settle),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fetcher.Page{}, fmt.Errorf("render %s: %w", rawURL, ctxErr)
		}
		return fetcher.Page{}, fmt.Errorf("render %s: %w", rawURL, err)
	}

	page := nav.page(rawURL, location)
	page.Body = []byte(html)
	page.Duration = time.Since(start)
	page.UsedHeadless = true
	return page, nil
}

func (r *Renderer) prepareTab() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network events: %w", err)
		}
		if r.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("override user agent: %w", err)
		}
		return nil
	})
}

// navigation remembers the response for the top-level document. Later
// document responses belong to iframes and are ignored.
type navigation struct {
	mu      sync.Mutex
	seen    bool
	status  int
	url     string
	headers http.Header
}

func (n *navigation) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.seen {
		return
	}
	n.seen = true
	n.status = int(resp.Response.Status)
	n.url = resp.Response.URL
	n.headers = toHeader(resp.Response.Headers)
}

// page builds the response half of a fetcher.Page. When no document event
// arrived the render is treated as a 200 for location, or rawURL.
func (n *navigation) page(rawURL, location string) fetcher.Page {
	n.mu.Lock()
	defer n.mu.Unlock()
	p := fetcher.Page{URL: location, StatusCode: n.status, Headers: n.headers.Clone()}
	if p.URL == "" {
		p.URL = n.url
	}
	if p.URL == "" {
		p.URL = rawURL
	}
	if p.StatusCode == 0 {
		p.StatusCode = http.StatusOK
	}
	if p.Headers == nil {
		p.Headers = http.Header{}
	}
	return p
}

func toHeader(in network.Headers) http.Header {
	out := make(http.Header, len(in))
	for key, value := range in {
		switch v := value.(type) {
		case string:
			out.Add(key, v)
		case []any:
			for _, item := range v {
				out.Add(key, fmt.Sprint(item))
			}
		default:
			out.Add(key, fmt.Sprint(v))
		}
	}
	return out
}
