package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"go.uber.org/zap"
)

// Session is the result of a successful signup or login.
type Session struct {
	AccessToken string
	User        User
}

// Service implements signup, login and profile lookups.
type Service struct {
	store  Store
	hasher PasswordHasher
	tokens TokenIssuer
	logger *zap.Logger
}

// NewService wires a Service.
func NewService(store Store, hasher PasswordHasher, tokens TokenIssuer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, hasher: hasher, tokens: tokens, logger: logger}
}

// Signup creates an account on the free plan and returns a session.
func (s *Service) Signup(ctx context.Context, email, password string) (Session, error) {
	addr, err := normalizeEmail(email)
	if err != nil {
		return Session{}, err
	}
	if len(password) < MinPasswordLength {
		return Session{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, MinPasswordLength)
	}
	if _, err := s.store.FindActiveUserByEmail(ctx, addr); err == nil {
		return Session{}, ErrEmailTaken
	} else if !errors.Is(err, ErrUserNotFound) {
		return Session{}, fmt.Errorf("lookup user: %w", err)
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.CreateUser(ctx, NewUser{Email: addr, PasswordHash: hash, PlanID: FreePlanID})
	if err != nil {
		return Session{}, fmt.Errorf("create user: %w", err)
	}
	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	s.logger.Info("user signed up", zap.Int64("user_id", user.ID))
	return Session{AccessToken: token, User: user}, nil
}

// Login verifies credentials for an active account.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	addr, err := normalizeEmail(email)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.FindActiveUserByEmail(ctx, addr)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Session{}, ErrUserNotFound
		}
		return Session{}, fmt.Errorf("lookup user: %w", err)
	}
	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		return Session{}, err
	}
	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	return Session{AccessToken: token, User: user}, nil
}

// Profile returns the account for id.
func (s *Service) Profile(ctx context.Context, id int64) (User, error) {
	user, err := s.store.GetUser(ctx, id)
	if err != nil {
		return User{}, fmt.Errorf("get user %d: %w", id, err)
	}
	return user, nil
}

func normalizeEmail(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || len(trimmed) > 254 {
		return "", fmt.Errorf("%w: a valid email is required", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed {
		return "", fmt.Errorf("%w: a valid email is required", ErrInvalidInput)
	}
	return strings.ToLower(addr.Address), nil
}
