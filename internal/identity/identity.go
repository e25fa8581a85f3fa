// Package identity manages accounts, subscriptions and plans.
package identity

import (
	"context"
	"errors"
	"time"
)

// FreePlanID is the plan every new account is subscribed to.
const FreePlanID int64 = 1

// MinPasswordLength is the shortest password accepted at signup.
const MinPasswordLength = 8

var (
	// ErrInvalidInput is returned for malformed emails or short passwords.
	ErrInvalidInput = errors.New("invalid input")
	// ErrEmailTaken is returned when an active account already uses the email.
	ErrEmailTaken = errors.New("user with this email already exists")
	// ErrUserNotFound is returned when no matching account exists.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidCredentials is returned when a password does not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInactiveUser is returned for disabled accounts.
	ErrInactiveUser = errors.New("user is inactive")
	// ErrPlanUnavailable is returned when the signup plan is missing or inactive.
	ErrPlanUnavailable = errors.New("subscription plan unavailable")
)

// Plan is a subscription tier.
type Plan struct {
	ID           int64
	Name         string
	Description  string
	DurationDays int
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Subscription links an account to a plan.
type Subscription struct {
	ID        int64
	PlanID    int64
	Active    bool
	Plan      Plan
	CreatedAt time.Time
	UpdatedAt time.Time
}

// User is an account. Email is the login name.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	Active       bool
	Staff        bool
	Superuser    bool
	Subscription *Subscription
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewUser carries what the store needs to create an account.
type NewUser struct {
	Email        string
	PasswordHash string
	PlanID       int64
}

// Store persists accounts.
type Store interface {
	// CreateUser creates the subscription and the user in one unit.
	CreateUser(ctx context.Context, in NewUser) (User, error)
	GetUser(ctx context.Context, id int64) (User, error)
	FindActiveUserByEmail(ctx context.Context, email string) (User, error)
}

// TokenIssuer mints access tokens for a user id.
type TokenIssuer interface {
	Issue(userID int64) (string, error)
}
