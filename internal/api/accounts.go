package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/shivamtherexpandey/usm-app/internal/auth"
	"github.com/shivamtherexpandey/usm-app/internal/identity"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c credentialsRequest) email() string {
	if c.Username != "" {
		return c.Username
	}
	return c.Email
}

type sessionResponse struct {
	AccessToken string `json:"access_token"`
	UserEmail   string `json:"user_email"`
	Msg         string `json:"msg"`
}

type planResponse struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	Description      string `json:"description"`
	TimeDurationDays int    `json:"time_duration_days"`
	IsActive         bool   `json:"is_active"`
}

type subscriptionResponse struct {
	ID       int64        `json:"id"`
	IsActive bool         `json:"is_active"`
	Plan     planResponse `json:"plan"`
}

type profileResponse struct {
	ID           int64                 `json:"id"`
	Email        string                `json:"email"`
	IsActive     bool                  `json:"is_active"`
	Subscription *subscriptionResponse `json:"subscription"`
}

func (s *Server) signup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	session, err := s.accounts.Signup(r.Context(), req.email(), req.Password)
	if err != nil {
		s.writeAccountError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{
		AccessToken: session.AccessToken,
		UserEmail:   session.User.Email,
		Msg:         "User created successfully",
	})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	session, err := s.accounts.Login(r.Context(), req.email(), req.Password)
	if err != nil {
		s.writeAccountError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		AccessToken: session.AccessToken,
		UserEmail:   session.User.Email,
		Msg:         "Login successful",
	})
}

func (s *Server) profile(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusForbidden, "Not authenticated")
		return
	}
	resp := profileResponse{ID: user.ID, Email: user.Email, IsActive: user.Active}
	if sub := user.Subscription; sub != nil {
		resp.Subscription = &subscriptionResponse{
			ID:       sub.ID,
			IsActive: sub.Active,
			Plan: planResponse{
				ID:               sub.Plan.ID,
				Name:             sub.Plan.Name,
				Description:      sub.Plan.Description,
				TimeDurationDays: sub.Plan.DurationDays,
				IsActive:         sub.Plan.Active,
			},
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeAccountError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, identity.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, identity.ErrEmailTaken):
		writeError(w, http.StatusBadRequest, "An active user with this email already exists")
	case errors.Is(err, identity.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "No active user found with this email")
	case errors.Is(err, identity.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
	default:
		s.logger.Error("account request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
