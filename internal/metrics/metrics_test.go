package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]string{
		"https://News.Example.com/article?id=7": "news.example.com",
		"example.com/path":                      "example.com",
		"blog.example.org:8443/post":            "blog.example.org",
		"http://%":                              "unknown",
		"":                                      "unknown",
	} {
		require.Equal(t, want, SanitizeSite(in), in)
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	first := jobOutcomesTotal
	Init()
	if jobOutcomesTotal != first {
		t.Fatal("Init() replaced collectors on second call")
	}
}

func TestJobCounters(t *testing.T) {
	Init()
	before := testutil.ToFloat64(jobOutcomesTotal.WithLabelValues("retryable"))
	ObserveJobOutcome("retryable")
	if got := testutil.ToFloat64(jobOutcomesTotal.WithLabelValues("retryable")); got != before+1 {
		t.Errorf("expected retryable outcome count %f, got %f", before+1, got)
	}

	exhausted := testutil.ToFloat64(jobAttemptsExhaustedTotal)
	ObserveAttemptsExhausted()
	if got := testutil.ToFloat64(jobAttemptsExhaustedTotal); got != exhausted+1 {
		t.Errorf("expected exhausted count %f, got %f", exhausted+1, got)
	}

	IncActiveWorkers()
	DecActiveWorkers()

	ObserveSubmission("accepted")
	ObserveProbe("page")
	ObserveSummarize("ok", time.Second)
	ObserveRateLimitDelay("example.com", 10*time.Millisecond)
	if testutil.CollectAndCount(summarizeDurationSeconds) == 0 {
		t.Error("expected summarize histogram to be observed")
	}
}

func FuzzSanitizeSiteNeverEmpty(f *testing.F) {
	for _, seed := range []string{"https://example.com/article", "mailto:someone", "//"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, raw string) {
		if SanitizeSite(raw) == "" {
			t.Fatalf("empty label for %q", raw)
		}
	})
}
