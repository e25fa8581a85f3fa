// Package collyfetcher loads web documents for summarization using gocolly,
// promoting client-rendered pages to a headless browser when needed.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/shivamtherexpandey/usm-app/internal/fetcher"
	"github.com/shivamtherexpandey/usm-app/internal/summary"
)

// Config controls collector behavior.
type Config struct {
	UserAgent   string
	Timeout     time.Duration
	MaxBodySize int
}

// Loader implements summary.DocumentLoader on top of a Colly collector.
type Loader struct {
	cfg           Config
	baseCollector *colly.Collector
	waiter        fetcher.Waiter
	renderer      fetcher.Renderer
	detector      fetcher.Detector
	logger        *zap.Logger
}

// Option customizes a Loader.
type Option func(*Loader)

// WithWaiter paces every fetch through w.
func WithWaiter(w fetcher.Waiter) Option {
	return func(l *Loader) { l.waiter = w }
}

// WithRenderer enables headless promotion for pages the detector flags.
func WithRenderer(r fetcher.Renderer, d fetcher.Detector) Option {
	return func(l *Loader) {
		l.renderer = r
		l.detector = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// WithTransport overrides the HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(l *Loader) { l.baseCollector.WithTransport(rt) }
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Loader.
func New(cfg Config, opts ...Option) *Loader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 10 << 20
	}
	// clones share the visited-URL store, so revisits must be allowed for retries
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.MaxBodySize(cfg.MaxBodySize),
	)
	c.WithTransport(newHTTPTransport())

	l := &Loader{
		cfg:           cfg,
		baseCollector: c,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load fetches rawURL and returns its readable text. Failures wrap
// summary.ErrTransientFetch unless the context ended.
func (l *Loader) Load(ctx context.Context, rawURL string) (summary.Document, error) {
	page, err := l.Fetch(ctx, rawURL)
	if err != nil {
		return summary.Document{}, err
	}
	page = l.maybePromote(ctx, page)

	doc, err := Extract(page)
	if err != nil {
		return summary.Document{}, fmt.Errorf("%w: %w", summary.ErrTransientFetch, err)
	}
	if doc.Text == "" {
		return summary.Document{}, fmt.Errorf("%w: no readable text at %s", summary.ErrTransientFetch, rawURL)
	}
	return doc, nil
}

// Fetch executes a single HTTP GET using Colly.
func (l *Loader) Fetch(ctx context.Context, rawURL string) (fetcher.Page, error) {
	if l.waiter != nil {
		if err := l.waiter.Wait(ctx, rawURL); err != nil {
			return fetcher.Page{}, err
		}
	}
	var (
		result   fetcher.Page
		fetchErr error
	)
	start := time.Now()
	collector := l.buildCollector(start, &result, &fetchErr)
	if err := l.runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return fetcher.Page{}, err
	}
	return result, nil
}

func (l *Loader) maybePromote(ctx context.Context, page fetcher.Page) fetcher.Page {
	if l.renderer == nil || l.detector == nil || !l.detector.ShouldPromote(page) {
		return page
	}
	rendered, err := l.renderer.Render(ctx, page.URL)
	if err != nil {
		l.logger.Warn("headless render failed, using static page",
			zap.String("url", page.URL),
			zap.Error(err),
		)
		return page
	}
	l.logger.Debug("page rendered headless",
		zap.String("url", page.URL),
		zap.Duration("duration", rendered.Duration),
	)
	return rendered
}

func (l *Loader) buildCollector(start time.Time, result *fetcher.Page, fetchErr *error) *colly.Collector {
	collector := l.baseCollector.Clone()
	if l.cfg.UserAgent != "" {
		collector.UserAgent = l.cfg.UserAgent
	}
	collector.SetRequestTimeout(l.cfg.Timeout)
	l.configureCollectorHooks(collector, start, result, fetchErr)
	return collector
}

func (l *Loader) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *fetcher.Page,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = fetcher.Page{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			err = fmt.Errorf("status %d: %w", r.StatusCode, err)
		}
		*fetchErr = err
	})
}

func (l *Loader) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("colly visit failed: %w", err)
			}
			return fmt.Errorf("%w: colly visit failed: %w", summary.ErrTransientFetch, err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("%w: colly response failed: %w", summary.ErrTransientFetch, *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
