package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shivamtherexpandey/usm-app/internal/identity"
)

type stubUsers map[int64]identity.User

func (s stubUsers) GetUser(_ context.Context, id int64) (identity.User, error) {
	if id == 500 {
		return identity.User{}, errors.New("db down")
	}
	user, ok := s[id]
	if !ok {
		return identity.User{}, identity.ErrUserNotFound
	}
	return user, nil
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	now := time.Now()
	tokens := newTestTokens(t, now)
	users := stubUsers{
		1: {ID: 1, Email: "active@example.com", Active: true},
		2: {ID: 2, Email: "inactive@example.com", Active: false},
	}
	mustIssue := func(id int64) string {
		raw, err := tokens.Issue(id)
		require.NoError(t, err)
		return raw
	}
	expired, err := newTestTokens(t, now.Add(-2*time.Hour)).Issue(1)
	require.NoError(t, err)

	handler := NewMiddleware(tokens, users, nil, nil).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if ok {
			w.Header().Set("X-User", user.Email)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name      string
		path      string
		header    string
		status    int
		msg       string
		challenge bool
		user      string
	}{
		{name: "excluded", path: "/health", status: http.StatusNoContent},
		{name: "excluded login", path: "/v1/auth/login", status: http.StatusNoContent},
		{name: "missing", path: "/v1/summaries", status: http.StatusForbidden, msg: "Not authenticated"},
		{name: "basic scheme", path: "/v1/summaries", header: "Basic abc", status: http.StatusUnauthorized, msg: "Invalid Authorization header"},
		{name: "empty bearer", path: "/v1/summaries", header: "Bearer ", status: http.StatusUnauthorized, msg: "Invalid Authorization header"},
		{name: "garbage", path: "/v1/summaries", header: "Bearer nope", status: http.StatusUnauthorized, msg: "Invalid token", challenge: true},
		{name: "expired", path: "/v1/summaries", header: "Bearer " + expired, status: http.StatusUnauthorized, msg: "Token has expired", challenge: true},
		{name: "unknown user", path: "/v1/summaries", header: "Bearer " + mustIssue(9), status: http.StatusUnauthorized, msg: "User not found", challenge: true},
		{name: "inactive", path: "/v1/summaries", header: "Bearer " + mustIssue(2), status: http.StatusForbidden, msg: "User is inactive"},
		{name: "lookup failure", path: "/v1/summaries", header: "Bearer " + mustIssue(500), status: http.StatusInternalServerError, msg: "Internal server error"},
		{name: "ok", path: "/v1/summaries", header: "Bearer " + mustIssue(1), status: http.StatusNoContent, user: "active@example.com"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			require.Equal(t, tc.status, rec.Code)
			require.Equal(t, tc.user, rec.Header().Get("X-User"))
			if tc.challenge {
				require.Equal(t, `Bearer error="invalid_token"`, rec.Header().Get("WWW-Authenticate"))
			} else {
				require.Empty(t, rec.Header().Get("WWW-Authenticate"))
			}
			if tc.msg != "" {
				var body struct {
					Error      string `json:"error"`
					StatusCode int    `json:"status_code"`
				}
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				require.Equal(t, tc.msg, body.Error)
				require.Equal(t, tc.status, body.StatusCode)
			}
		})
	}
}
