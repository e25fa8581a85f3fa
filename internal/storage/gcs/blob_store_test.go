package gcs_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/shivamtherexpandey/usm-app/internal/storage/gcs"
)

type uploadRecorder struct {
	mu     sync.Mutex
	names  []string
	bodies []string
	status int
}

func (u *uploadRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.status != 0 {
		w.WriteHeader(u.status)
		_, _ = io.WriteString(w, `{"error":{"code":403,"message":"denied"}}`)
		return
	}
	body, _ := io.ReadAll(r.Body)
	name := r.URL.Query().Get("name")
	u.names = append(u.names, name)
	u.bodies = append(u.bodies, string(body))
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"bucket":"archive","name":%q}`, name)
}

func newTestStore(t *testing.T, rec *uploadRecorder) *gcs.BlobStore {
	t.Helper()
	srv := httptest.NewServer(rec)
	t.Cleanup(srv.Close)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(srv.URL),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := gcs.New(client, gcs.Config{Bucket: "archive"})
	require.NoError(t, err)
	return store
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := gcs.New(nil, gcs.Config{Bucket: "archive"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()
	_, err = gcs.New(client, gcs.Config{})
	require.Error(t, err)
}

func TestPutObjectUploads(t *testing.T) {
	t.Parallel()

	rec := &uploadRecorder{}
	store := newTestStore(t, rec)

	uri, err := store.PutObject(context.Background(), "/summaries/7/job-1/abc.txt", "text/plain; charset=utf-8", strings.NewReader("A summary."))
	require.NoError(t, err)
	require.Equal(t, "gs://archive/summaries/7/job-1/abc.txt", uri)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Equal(t, []string{"summaries/7/job-1/abc.txt"}, rec.names)
	require.Contains(t, rec.bodies[0], "A summary.")
}

func TestPutObjectSurfacesUploadError(t *testing.T) {
	t.Parallel()

	rec := &uploadRecorder{status: http.StatusForbidden}
	store := newTestStore(t, rec)

	_, err := store.PutObject(context.Background(), "a.txt", "text/plain", strings.NewReader("x"))
	require.ErrorContains(t, err, "gs://archive/a.txt")
}

func TestPutObjectRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, &uploadRecorder{})
	_, err := store.PutObject(context.Background(), " / ", "", strings.NewReader("x"))
	require.Error(t, err)
}
