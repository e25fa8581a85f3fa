package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/shivamtherexpandey/usm-app/internal/auth"
	"github.com/shivamtherexpandey/usm-app/internal/clock/system"
	"github.com/shivamtherexpandey/usm-app/internal/gateway"
	"github.com/shivamtherexpandey/usm-app/internal/id/uuid"
	"github.com/shivamtherexpandey/usm-app/internal/identity"
	"github.com/shivamtherexpandey/usm-app/internal/storage/memory"
)

type stubProber struct{ ok bool }

func (p stubProber) IsWebPage(context.Context, string) (bool, error) { return p.ok, nil }

type recordingPublisher struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (p *recordingPublisher) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.ids...)
}

func (p *recordingPublisher) Publish(_ context.Context, jobID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.ids = append(p.ids, jobID)
	return nil
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type harness struct {
	srv  *httptest.Server
	jobs *memory.JobStore
	pub  *recordingPublisher
}

func newHarness(t *testing.T, checks map[string]Pinger) *harness {
	t.Helper()
	jobs := memory.NewJobStore(nil)
	users := memory.NewUserStore(nil)
	pub := &recordingPublisher{}
	tokens, err := auth.NewTokens("test-secret", time.Hour)
	require.NoError(t, err)

	summaries := gateway.NewService(jobs, pub, stubProber{ok: true}, uuid.New(), system.New(), nil)
	accounts := identity.NewService(users, identity.NewBcryptHasher(bcrypt.MinCost), tokens, nil)
	authn := auth.NewMiddleware(tokens, users, auth.DefaultExcludedPaths, nil)

	s := NewServer(summaries, accounts, authn, checks, Config{RequestTimeout: 5 * time.Second}, nil)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &harness{srv: srv, jobs: jobs, pub: pub}
}

func (h *harness) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, h.srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var payload map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return resp, payload
}

func (h *harness) signup(t *testing.T, email string) string {
	t.Helper()
	resp, body := h.do(t, http.MethodPost, "/v1/auth/signup", "", map[string]string{
		"username": email,
		"password": "correct-horse",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	token, _ := body["access_token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestHealthAndRequestID(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	resp, body := h.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body["status"])
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestReadyzReportsFailingDependency(t *testing.T) {
	t.Parallel()

	h := newHarness(t, map[string]Pinger{
		"queue": pingFunc(func(context.Context) error { return errors.New("down") }),
	})
	resp, body := h.do(t, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Equal(t, "queue unavailable", body["error"])
}

func TestSignupLoginProfile(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	token := h.signup(t, "reader@example.com")

	resp, body := h.do(t, http.MethodPost, "/v1/auth/signup", "", map[string]string{
		"email":    "reader@example.com",
		"password": "another-pass",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "An active user with this email already exists", body["error"])

	resp, body = h.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"username": "reader@example.com",
		"password": "wrong-password",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "Invalid credentials", body["error"])

	resp, body = h.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"username": "nobody@example.com",
		"password": "correct-horse",
	})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "No active user found with this email", body["error"])

	resp, body = h.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"username": "reader@example.com",
		"password": "correct-horse",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Login successful", body["msg"])

	resp, body = h.do(t, http.MethodGet, "/v1/auth/profile", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "reader@example.com", body["email"])
	sub, ok := body["subscription"].(map[string]any)
	require.True(t, ok)
	plan, ok := sub["plan"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "Free", plan["name"])
}

func TestSignupRejectsShortPassword(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	resp, body := h.do(t, http.MethodPost, "/v1/auth/signup", "", map[string]string{
		"username": "short@example.com",
		"password": "short",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, body["error"], "at least 8")
}

func TestSummariesRequireAuthentication(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	resp, body := h.do(t, http.MethodGet, "/v1/summaries", "", nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "Not authenticated", body["error"])

	resp, _ = h.do(t, http.MethodGet, "/v1/summaries", "not-a-token", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSummaryLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, nil)
	token := h.signup(t, "owner@example.com")
	other := h.signup(t, "other@example.com")

	resp, body := h.do(t, http.MethodPost, "/v1/summaries", token, map[string]string{"url": "https://example.com/post"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	require.Equal(t, []string{id}, h.pub.published())

	resp, body = h.do(t, http.MethodGet, "/v1/summaries/"+id, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Nil(t, body["summary"])
	require.EqualValues(t, 0, body["processed"])

	require.NoError(t, h.jobs.MarkProcessed(ctx, id, "A short summary."))

	resp, body = h.do(t, http.MethodGet, "/v1/summaries?page=1&offset=5", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	items, ok := body["summaries"].([]any)
	require.True(t, ok)
	require.Len(t, items, 1)
	first, _ := items[0].(map[string]any)
	require.Equal(t, "A short summary.", first["summary"])
	require.EqualValues(t, 1, first["processed"])
	require.EqualValues(t, 5, body["offset"])

	resp, body = h.do(t, http.MethodPost, "/v1/summaries", token, map[string]string{"url": "https://example.com/post"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "Summary already exists for this URL", body["error"])

	resp, _ = h.do(t, http.MethodGet, "/v1/summaries/"+id, other, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = h.do(t, http.MethodDelete, "/v1/summaries/"+id, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Summary deleted", body["msg"])

	resp, _ = h.do(t, http.MethodGet, "/v1/summaries/"+id, token, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListValidatesPaging(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	token := h.signup(t, "pager@example.com")

	tests := []struct {
		query string
		msg   string
	}{
		{query: "page=0", msg: "page needs to be more than 0"},
		{query: "offset=101", msg: "offset needs to be between 1 and 100"},
		{query: "page=abc", msg: "page must be an integer"},
	}
	for _, tt := range tests {
		resp, body := h.do(t, http.MethodGet, "/v1/summaries?"+tt.query, token, nil)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, tt.query)
		require.Contains(t, body["error"], tt.msg, tt.query)
	}

	resp, body := h.do(t, http.MethodGet, "/v1/summaries?page=100000000000000000&offset=100", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, body["summaries"])
}

func TestSubmitQueueUnavailable(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	token := h.signup(t, "queue@example.com")
	h.pub.fail(errors.New("broker offline"))

	resp, body := h.do(t, http.MethodPost, "/v1/summaries", token, map[string]string{"url": "https://example.com/a"})
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.True(t, strings.Contains(body["error"].(string), "unavailable"))
}

func TestSubmitRejectsMalformedBody(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	token := h.signup(t, "json@example.com")
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, h.srv.URL+"/v1/summaries", strings.NewReader("{"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
