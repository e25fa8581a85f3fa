// Package ratelimit paces document fetches with a token bucket per host.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/shivamtherexpandey/usm-app/internal/metrics"
)

// Config sets the bucket for every host. A non-positive RPS disables pacing.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	// HostRPS overrides DefaultRPS for specific hosts, keyed without "www.".
	HostRPS map[string]float64
}

// Limiter implements fetcher.Waiter. Buckets are created lazily per host.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	rps     rate.Limit
	burst   int
	hosts   map[string]rate.Limit
}

// New creates a Limiter from cfg.
func New(cfg Config) *Limiter {
	burst := max(cfg.DefaultBurst, 1)
	hosts := make(map[string]rate.Limit, len(cfg.HostRPS))
	for host, rps := range cfg.HostRPS {
		hosts[strings.ToLower(strings.TrimPrefix(host, "www."))] = toLimit(rps)
	}
	return &Limiter{
		buckets: make(map[string]*rate.Limiter),
		rps:     toLimit(cfg.DefaultRPS),
		burst:   burst,
		hosts:   hosts,
	}
}

func toLimit(rps float64) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}

// Wait blocks until rawURL's host may be fetched or ctx ends.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := strings.TrimPrefix(metrics.SanitizeSite(rawURL), "www.")
	bucket := l.bucket(host)

	start := time.Now()
	if err := bucket.Wait(ctx); err != nil {
		return fmt.Errorf("wait for %s: %w", host, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

func (l *Limiter) bucket(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[host]; ok {
		return b
	}
	limit, ok := l.hosts[host]
	if !ok {
		limit = l.rps
	}
	b := rate.NewLimiter(limit, l.burst)
	l.buckets[host] = b
	return b
}
