package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shivamtherexpandey/usm-app/internal/probe"
	"github.com/shivamtherexpandey/usm-app/internal/storage/memory"
	"github.com/shivamtherexpandey/usm-app/internal/summary"
)

const articleURL = "https://example.com/article"

func TestSubmitCreatesPendingJobAndOneMessage(t *testing.T) {
	t.Parallel()

	svc, store, pub, _ := newTestService(true)
	id, err := svc.Submit(context.Background(), 7, articleURL)
	require.NoError(t, err)
	require.Equal(t, []string{id}, pub.published())

	job, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, summary.StatusPending, job.Status)
	require.Equal(t, int64(7), job.OwnerID)
	require.Equal(t, articleURL, job.URL)
}

func TestSubmitScenarioDuplicateAfterProcessing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, store, pub, _ := newTestService(true)
	id, err := svc.Submit(ctx, 7, articleURL)
	require.NoError(t, err)

	// pending jobs do not block a resubmission
	_, err = svc.Submit(ctx, 7, articleURL)
	require.NoError(t, err)

	require.NoError(t, store.MarkProcessed(ctx, id, "Example summary"))
	_, err = svc.Submit(ctx, 7, articleURL)
	require.ErrorIs(t, err, summary.ErrDuplicateJob)
	require.Len(t, pub.published(), 2)

	// another owner is unaffected
	_, err = svc.Submit(ctx, 8, articleURL)
	require.NoError(t, err)

	// a deleted processed job no longer counts
	require.NoError(t, store.SoftDelete(ctx, id, 7))
	_, err = svc.Submit(ctx, 7, articleURL)
	require.NoError(t, err)
}

func TestSubmitRejectsInvalidURL(t *testing.T) {
	t.Parallel()

	svc, store, pub, prober := newTestService(true)
	_, err := svc.Submit(context.Background(), 7, "not-a-url")
	require.ErrorIs(t, err, summary.ErrInvalidInput)
	require.Empty(t, pub.published())
	require.Zero(t, prober.calls)

	jobs, err := store.List(context.Background(), 7, summary.Page{Number: 1, Size: 10})
	require.NoError(t, err)
	require.Empty(t, jobs)
}

func TestSubmitExtensionShortCircuitsWithoutNetwork(t *testing.T) {
	t.Parallel()

	store := memory.NewJobStore(stepClock{})
	pub := &recordingPublisher{}
	// a real prober with a transport that fails the test if used
	p := probe.New(probe.Config{}, &http.Client{Transport: failTransport{t: t}}, nil)
	svc := NewService(store, pub, p, &seqIDs{}, stepClock{}, nil)

	_, err := svc.Submit(context.Background(), 7, "https://example.com/image.png")
	require.ErrorIs(t, err, summary.ErrNotSummarizable)
	require.Empty(t, pub.published())
}

func TestSubmitNotAPage(t *testing.T) {
	t.Parallel()

	svc, _, pub, _ := newTestService(false)
	_, err := svc.Submit(context.Background(), 7, articleURL)
	require.ErrorIs(t, err, summary.ErrNotSummarizable)
	require.Empty(t, pub.published())
}

func TestSubmitPublishFailureWithdrawsJob(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, store, pub, _ := newTestService(true)
	pub.err = errors.New("broker down")

	_, err := svc.Submit(ctx, 7, articleURL)
	require.ErrorIs(t, err, summary.ErrQueueUnavailable)

	jobs, err := store.List(ctx, 7, summary.Page{Number: 1, Size: 10})
	require.NoError(t, err)
	require.Empty(t, jobs)
}

func TestListValidatesPaging(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _, _, _ := newTestService(true)
	for i := 0; i < 3; i++ {
		_, err := svc.Submit(ctx, 7, fmt.Sprintf("https://example.com/%d", i))
		require.NoError(t, err)
	}

	_, err := svc.List(ctx, 7, summary.Page{Number: 0, Size: 10})
	require.ErrorIs(t, err, summary.ErrInvalidInput)
	_, err = svc.List(ctx, 7, summary.Page{Number: 1, Size: 101})
	require.ErrorIs(t, err, summary.ErrInvalidInput)
	_, err = svc.List(ctx, 7, summary.Page{Number: 1, Size: 0})
	require.ErrorIs(t, err, summary.ErrInvalidInput)

	jobs, err := svc.List(ctx, 7, summary.Page{Number: 1, Size: 2})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, "https://example.com/2", jobs[0].URL)

	jobs, err = svc.List(ctx, 7, summary.Page{Number: 2, Size: 2})
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	jobs, err = svc.List(ctx, 7, summary.Page{Number: 1e17, Size: 100})
	require.NoError(t, err)
	require.Empty(t, jobs)
}

func TestGetAndRemoveAreOwnerScoped(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _, _, _ := newTestService(true)
	id, err := svc.Submit(ctx, 7, articleURL)
	require.NoError(t, err)

	_, err = svc.Get(ctx, 8, id)
	require.ErrorIs(t, err, summary.ErrNotFound)
	require.ErrorIs(t, svc.Remove(ctx, 8, id), summary.ErrNotFound)

	job, err := svc.Get(ctx, 7, id)
	require.NoError(t, err)
	require.Equal(t, id, job.ID)

	require.NoError(t, svc.Remove(ctx, 7, id))
	_, err = svc.Get(ctx, 7, id)
	require.ErrorIs(t, err, summary.ErrNotFound)
	require.ErrorIs(t, svc.Remove(ctx, 7, id), summary.ErrNotFound)
}

func newTestService(isPage bool) (*Service, *memory.JobStore, *recordingPublisher, *stubProber) {
	store := memory.NewJobStore(stepClock{})
	pub := &recordingPublisher{}
	prober := &stubProber{ok: isPage}
	return NewService(store, pub, prober, &seqIDs{}, stepClock{}, nil), store, pub, prober
}

type stubProber struct {
	ok    bool
	calls int
}

func (p *stubProber) IsWebPage(context.Context, string) (bool, error) {
	p.calls++
	return p.ok, nil
}

type recordingPublisher struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (p *recordingPublisher) Publish(_ context.Context, id string) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, id)
	return nil
}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.ids...)
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("job-%03d", g.n), nil
}

type stepClock struct{}

var (
	clockMu  sync.Mutex
	clockNow = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
)

func (stepClock) Now() time.Time {
	clockMu.Lock()
	defer clockMu.Unlock()
	clockNow = clockNow.Add(time.Second)
	return clockNow
}

type failTransport struct {
	t *testing.T
}

func (f failTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	f.t.Errorf("unexpected network call to %s", r.URL)
	return nil, errors.New("network disabled")
}
