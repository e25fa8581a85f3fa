// Package probe classifies a URL as a summarizable web page before a job is
// accepted. Anything it cannot confirm is rejected.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shivamtherexpandey/usm-app/internal/metrics"
)

// DefaultUserAgent is sent with probe requests.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// sniffLimit caps how much body is read when Content-Length is absent.
const sniffLimit = 1024

var blockedExtensions = map[string]struct{}{}

func init() {
	for _, ext := range []string{
		// images
		".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp", ".svg", ".ico", ".tiff",
		// documents
		".pdf", ".doc", ".docx", ".txt", ".rtf", ".odt", ".ppt", ".pptx", ".xls", ".xlsx",
		// archives
		".zip", ".rar", ".7z", ".tar", ".gz",
		// video
		".mp4", ".avi", ".mov", ".wmv", ".flv", ".webm", ".mkv", ".m4v",
		// audio
		".mp3", ".wav", ".ogg", ".flac", ".aac", ".m4a",
		// binaries
		".exe", ".dmg", ".pkg", ".deb", ".rpm",
	} {
		blockedExtensions[ext] = struct{}{}
	}
}

var pageContentTypes = map[string]struct{}{
	"text/html":             {},
	"text/plain":            {},
	"application/xhtml+xml": {},
	"application/json":      {},
	"application/xml":       {},
	"text/xml":              {},
}

// Config tunes the probe.
type Config struct {
	Timeout          time.Duration
	MinContentLength int64
	UserAgent        string
}

// Prober performs HEAD and GET checks against a URL.
type Prober struct {
	client    *http.Client
	minLength int64
	userAgent string
	logger    *zap.Logger
}

// New builds a Prober. A nil client gets a fresh one with cfg.Timeout.
func New(cfg Config, client *http.Client, logger *zap.Logger) *Prober {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MinContentLength <= 0 {
		cfg.MinContentLength = 100
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if client == nil {
		client = &http.Client{}
	}
	if client.Timeout == 0 || client.Timeout > cfg.Timeout {
		clone := *client
		clone.Timeout = cfg.Timeout
		client = &clone
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{
		client:    client,
		minLength: cfg.MinContentLength,
		userAgent: cfg.UserAgent,
		logger:    logger,
	}
}

// HasBlockedExtension reports whether the URL path ends in a known non-page
// file extension.
func HasBlockedExtension(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if ext == "" {
		return false
	}
	_, blocked := blockedExtensions[ext]
	return blocked
}

// IsPageContentType reports whether a Content-Type header value belongs to
// the web page family.
func IsPageContentType(header string) bool {
	mediaType := strings.ToLower(strings.TrimSpace(strings.Split(header, ";")[0]))
	if parsed, _, err := mime.ParseMediaType(header); err == nil {
		mediaType = parsed
	}
	if _, ok := pageContentTypes[mediaType]; ok {
		return true
	}
	return strings.HasPrefix(mediaType, "text/")
}

// IsWebPage reports whether rawURL serves page-like content of at least the
// minimum length. Network failures classify as not a page; the returned error
// is only non-nil when ctx itself ended.
func (p *Prober) IsWebPage(ctx context.Context, rawURL string) (bool, error) {
	ok, reason := p.check(ctx, rawURL)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, fmt.Errorf("probe canceled: %w", ctxErr)
	}
	verdict := "page"
	if !ok {
		verdict = "rejected"
		p.logger.Debug("url rejected by probe", zap.String("url", rawURL), zap.String("reason", reason))
	}
	metrics.ObserveProbe(verdict)
	return ok, nil
}

func (p *Prober) check(ctx context.Context, rawURL string) (bool, string) {
	if HasBlockedExtension(rawURL) {
		return false, "blocked extension"
	}

	resp, err := p.do(ctx, http.MethodHead, rawURL)
	if err == nil {
		drain(resp)
		if resp.StatusCode != http.StatusOK {
			return false, "head status " + strconv.Itoa(resp.StatusCode)
		}
		if !IsPageContentType(resp.Header.Get("Content-Type")) {
			return false, "head content type " + resp.Header.Get("Content-Type")
		}
	}

	resp, err = p.do(ctx, http.MethodGet, rawURL)
	if err != nil {
		return false, "get failed: " + err.Error()
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return false, "get status " + strconv.Itoa(resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	length, err := contentLength(resp)
	if err != nil {
		return false, "read body: " + err.Error()
	}
	if !IsPageContentType(contentType) {
		return false, "get content type " + contentType
	}
	if length < p.minLength {
		return false, "content too short"
	}
	return true, ""
}

func (p *Prober) do(ctx context.Context, method, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("User-Agent", p.userAgent)
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, rawURL, err)
	}
	return resp, nil
}

// contentLength trusts a valid Content-Length header and otherwise counts at
// most sniffLimit bytes of body.
func contentLength(resp *http.Response) (int64, error) {
	if resp.ContentLength >= 0 {
		return resp.ContentLength, nil
	}
	if header := resp.Header.Get("Content-Length"); header != "" {
		if n, err := strconv.ParseInt(header, 10, 64); err == nil && n >= 0 {
			return n, nil
		}
	}
	n, err := io.Copy(io.Discard, io.LimitReader(resp.Body, sniffLimit))
	if err != nil && !errors.Is(err, io.EOF) {
		return n, err
	}
	return n, nil
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, sniffLimit))
	_ = resp.Body.Close()
}
