package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shivamtherexpandey/usm-app/internal/summary"
)

func completionServer(t *testing.T, status int, payload any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req chatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.Model != "demo-model" || len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(payload)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func reply(content string) map[string]any {
	return map[string]any{
		"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": content}}},
	}
}

func TestCompleteReturnsContent(t *testing.T) {
	t.Parallel()

	srv := completionServer(t, http.StatusOK, reply("  a short summary \n"))
	c := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL, Model: "demo-model"})

	got, err := c.Complete(context.Background(), "be brief", "some text")
	require.NoError(t, err)
	require.Equal(t, "a short summary", got)
}

func TestCompleteEmptyReplyIsTransient(t *testing.T) {
	t.Parallel()

	srv := completionServer(t, http.StatusOK, reply(""))
	c := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL, Model: "demo-model"})

	_, err := c.Complete(context.Background(), "sys", "text")
	require.ErrorIs(t, err, summary.ErrTransientModel)
}

func TestCompleteStatusClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusBadRequest, false},
	}
	for _, tc := range tests {
		srv := completionServer(t, tc.status, map[string]string{"error": "nope"})
		c := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL, Model: "demo-model"})

		_, err := c.Complete(context.Background(), "sys", "text")
		require.Error(t, err)
		require.Equal(t, tc.transient, errors.Is(err, summary.ErrTransientModel), "status %d", tc.status)

		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		require.Equal(t, tc.status, statusErr.StatusCode)
	}
}

func TestCompleteRequiresKeyAndPrompt(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{}).Complete(context.Background(), "sys", "text")
	require.ErrorContains(t, err, "api key required")

	_, err = NewClient(Config{APIKey: "k"}).Complete(context.Background(), "sys", "   ")
	require.ErrorContains(t, err, "user prompt required")
}

func TestNewClientDefaults(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{APIKey: " k "})
	require.Equal(t, "k", c.cfg.APIKey)
	require.Equal(t, defaultBaseURL, c.cfg.BaseURL)
	require.Equal(t, defaultModel, c.cfg.Model)
	require.Equal(t, defaultHTTPTimeout, c.httpClient.Timeout)

	custom := &http.Client{}
	require.Same(t, custom, NewClient(Config{}, WithHTTPClient(custom)).httpClient)
}
