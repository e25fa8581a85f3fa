package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/shivamtherexpandey/usm-app/internal/identity"
)

// DefaultExcludedPaths skip authentication.
var DefaultExcludedPaths = []string{"/health", "/readyz", "/metrics", "/v1/auth/login", "/v1/auth/signup"}

// Verifier resolves a bearer token to a user id.
type Verifier interface {
	Verify(raw string) (int64, error)
}

// UserLookup loads accounts by id.
type UserLookup interface {
	GetUser(ctx context.Context, id int64) (identity.User, error)
}

type userKey struct{}

// WithUser stores user on ctx.
func WithUser(ctx context.Context, user identity.User) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFromContext returns the authenticated user.
func UserFromContext(ctx context.Context) (identity.User, bool) {
	user, ok := ctx.Value(userKey{}).(identity.User)
	return user, ok
}

// Middleware authenticates requests with a bearer access token.
type Middleware struct {
	verifier Verifier
	users    UserLookup
	excluded []string
	logger   *zap.Logger
}

// NewMiddleware builds the middleware. A nil excluded list uses DefaultExcludedPaths.
func NewMiddleware(verifier Verifier, users UserLookup, excluded []string, logger *zap.Logger) *Middleware {
	if excluded == nil {
		excluded = DefaultExcludedPaths
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Middleware{verifier: verifier, users: users, excluded: excluded, logger: logger}
}

// Handler wraps next.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.isExcluded(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if header == "" {
			writeError(w, http.StatusForbidden, "Not authenticated", false)
			return
		}
		scheme, token, ok := strings.Cut(header, " ")
		token = strings.TrimSpace(token)
		if !ok || scheme != "Bearer" || token == "" {
			writeError(w, http.StatusUnauthorized, "Invalid Authorization header", false)
			return
		}

		userID, err := m.verifier.Verify(token)
		switch {
		case errors.Is(err, ErrTokenExpired):
			writeError(w, http.StatusUnauthorized, "Token has expired", true)
			return
		case errors.Is(err, ErrNoUserClaim):
			writeError(w, http.StatusUnauthorized, "Token payload does not contain user identifier", true)
			return
		case err != nil:
			m.logger.Debug("token rejected", zap.Error(err))
			writeError(w, http.StatusUnauthorized, "Invalid token", true)
			return
		}

		user, err := m.users.GetUser(r.Context(), userID)
		switch {
		case errors.Is(err, identity.ErrUserNotFound):
			writeError(w, http.StatusUnauthorized, "User not found", true)
			return
		case err != nil:
			m.logger.Error("resolve user failed", zap.Int64("user_id", userID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Internal server error", false)
			return
		case !user.Active:
			writeError(w, http.StatusForbidden, "User is inactive", false)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

func (m *Middleware) isExcluded(path string) bool {
	for _, prefix := range m.excluded {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func writeError(w http.ResponseWriter, status int, msg string, challenge bool) {
	if challenge {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg, "status_code": status})
}
