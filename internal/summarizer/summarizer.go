// Package summarizer produces a summary for a URL by loading its text and
// running a map-reduce chain over a chat model.
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shivamtherexpandey/usm-app/internal/metrics"
	"github.com/shivamtherexpandey/usm-app/internal/summary"
)

const (
	mapPrompt = "Write a concise summary of the following text. " +
		"Keep names, figures and conclusions. Reply with the summary only."
	collapsePrompt = "The following are partial summaries of one document. " +
		"Merge them into a single concise summary. Reply with the summary only."
	reducePrompt = "The following are summaries of consecutive parts of one web page. " +
		"Write a final concise summary of the whole page. Reply with the summary only."
)

// maxCollapseRounds bounds the collapse loop when the model returns long output.
const maxCollapseRounds = 4

// Completer issues one chat completion.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Config tunes the chain.
type Config struct {
	// ChunkSize is the maximum characters of page text per map call.
	ChunkSize int
	// TokenMax is the character budget for the combined partial summaries
	// before they are collapsed.
	TokenMax    int
	MaxParallel int
}

// MapReduce implements summary.Summarizer.
type MapReduce struct {
	loader summary.DocumentLoader
	model  Completer
	cfg    Config
	retry  *summary.ExponentialRetryPolicy
	sleep  summary.SleepFunc
	logger *zap.Logger
}

// Option customizes a MapReduce.
type Option func(*MapReduce)

// WithRetryPolicy sets the policy applied separately to loading and to summarizing.
func WithRetryPolicy(p *summary.ExponentialRetryPolicy) Option {
	return func(m *MapReduce) {
		if p != nil {
			m.retry = p
		}
	}
}

// WithSleep overrides how retry waits are performed.
func WithSleep(sleep summary.SleepFunc) Option {
	return func(m *MapReduce) { m.sleep = sleep }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *MapReduce) { m.logger = logger }
}

// New builds a MapReduce summarizer.
func New(loader summary.DocumentLoader, model Completer, cfg Config, opts ...Option) *MapReduce {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 4000
	}
	if cfg.TokenMax <= 0 {
		cfg.TokenMax = 4000
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}
	m := &MapReduce{
		loader: loader,
		model:  model,
		cfg:    cfg,
		retry:  summary.NewExponentialRetryPolicy(3, 4*time.Second, 10*time.Second),
		sleep:  summary.Sleep,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Summarize loads rawURL and summarizes its text. Loading and summarizing
// are retried independently under the inner retry policy.
func (m *MapReduce) Summarize(ctx context.Context, rawURL string) (string, error) {
	start := time.Now()

	var doc summary.Document
	err := summary.Retry(ctx, m.retry, m.sleep, func(ctx context.Context, attempt int) error {
		loaded, err := m.loader.Load(ctx, rawURL)
		if err != nil {
			m.logger.Warn("document load failed",
				zap.String("url", rawURL),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return err
		}
		doc = loaded
		return nil
	})
	if err != nil {
		metrics.ObserveSummarize("load_error", time.Since(start))
		return "", fmt.Errorf("load document: %w", err)
	}

	var text string
	err = summary.Retry(ctx, m.retry, m.sleep, func(ctx context.Context, attempt int) error {
		out, err := m.run(ctx, doc)
		if err != nil {
			m.logger.Warn("summarize failed",
				zap.String("url", rawURL),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return err
		}
		text = out
		return nil
	})
	if err != nil {
		metrics.ObserveSummarize("model_error", time.Since(start))
		return "", fmt.Errorf("summarize document: %w", err)
	}
	metrics.ObserveSummarize("ok", time.Since(start))
	return text, nil
}

func (m *MapReduce) run(ctx context.Context, doc summary.Document) (string, error) {
	chunks := SplitText(doc.Text, m.cfg.ChunkSize)
	if len(chunks) == 0 {
		return "", errors.New("document has no text")
	}
	if len(chunks) == 1 {
		return m.model.Complete(ctx, reducePrompt, withTitle(doc.Title, chunks[0]))
	}

	partials, err := m.mapAll(ctx, mapPrompt, chunks)
	if err != nil {
		return "", err
	}
	for round := 0; totalLen(partials) > m.cfg.TokenMax && len(partials) > 1; round++ {
		if round == maxCollapseRounds {
			return "", fmt.Errorf("partial summaries still exceed %d chars after %d collapse rounds", m.cfg.TokenMax, round)
		}
		partials, err = m.mapAll(ctx, collapsePrompt, groupByLen(partials, m.cfg.TokenMax))
		if err != nil {
			return "", err
		}
	}
	return m.model.Complete(ctx, reducePrompt, withTitle(doc.Title, strings.Join(partials, "\n\n")))
}

// mapAll completes every input with prompt, keeping input order.
func (m *MapReduce) mapAll(ctx context.Context, prompt string, inputs []string) ([]string, error) {
	out := make([]string, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.MaxParallel)
	for i, input := range inputs {
		g.Go(func() error {
			res, err := m.model.Complete(gctx, prompt, input)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func withTitle(title, text string) string {
	if title == "" {
		return text
	}
	return "Title: " + title + "\n\n" + text
}

func totalLen(parts []string) int {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	return n
}

// groupByLen joins consecutive parts into groups of at most limit characters.
// A part longer than limit forms its own group.
func groupByLen(parts []string, limit int) []string {
	var (
		groups  []string
		current []string
		size    int
	)
	for _, p := range parts {
		if len(current) > 0 && size+len(p) > limit {
			groups = append(groups, strings.Join(current, "\n\n"))
			current, size = nil, 0
		}
		current = append(current, p)
		size += len(p)
	}
	if len(current) > 0 {
		groups = append(groups, strings.Join(current, "\n\n"))
	}
	return groups
}
