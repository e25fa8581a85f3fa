package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/shivamtherexpandey/usm-app/internal/clock/system"
	"github.com/shivamtherexpandey/usm-app/internal/identity"
	"github.com/shivamtherexpandey/usm-app/internal/summary"
)

const usersEmailKey = "users_email_key"

const userSelect = `
SELECT u.id, u.email, u.password, u.is_active, u.is_staff, u.is_superuser, u.created_at, u.updated_at,
	s.id, s.is_active, s.created_at, s.updated_at,
	p.id, p.name, p.description, p.time_duration, p.is_active
FROM users u
LEFT JOIN subscriptions s ON s.id = u.subscription_id
LEFT JOIN subscription_plans p ON p.id = s.plan_id`

// UserStore persists accounts and their subscriptions.
type UserStore struct {
	db    DB
	clock summary.Clock
}

// NewUserStore wraps db. A nil clock uses the system clock.
func NewUserStore(db DB, clock summary.Clock) (*UserStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if clock == nil {
		clock = system.New()
	}
	return &UserStore{db: db, clock: clock}, nil
}

// CreateUser subscribes a new account to in.PlanID in one transaction.
func (s *UserStore) CreateUser(ctx context.Context, in identity.NewUser) (identity.User, error) {
	now := s.clock.Now()
	email := strings.ToLower(in.Email)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return identity.User{}, fmt.Errorf("begin create user: %w", err)
	}
	committed := false
	defer rollback(ctx, tx, &committed)

	var plan identity.Plan
	err = tx.QueryRow(ctx,
		"SELECT id, name, description, time_duration, is_active FROM subscription_plans WHERE id = $1",
		in.PlanID,
	).Scan(&plan.ID, &plan.Name, &plan.Description, &plan.DurationDays, &plan.Active)
	if err != nil {
		if isNoRows(err) {
			return identity.User{}, identity.ErrPlanUnavailable
		}
		return identity.User{}, fmt.Errorf("load plan: %w", err)
	}
	if !plan.Active {
		return identity.User{}, identity.ErrPlanUnavailable
	}

	sub := identity.Subscription{PlanID: plan.ID, Active: true, Plan: plan, CreatedAt: now, UpdatedAt: now}
	err = tx.QueryRow(ctx,
		"INSERT INTO subscriptions (plan_id, is_active, created_at, updated_at) VALUES ($1, TRUE, $2, $2) RETURNING id",
		plan.ID, now,
	).Scan(&sub.ID)
	if err != nil {
		return identity.User{}, fmt.Errorf("insert subscription: %w", err)
	}

	user := identity.User{
		Email:        email,
		PasswordHash: in.PasswordHash,
		Active:       true,
		Subscription: &sub,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = tx.QueryRow(ctx, `
INSERT INTO users (email, password, subscription_id, is_active, is_staff, is_superuser, created_at, updated_at)
VALUES ($1, $2, $3, TRUE, FALSE, FALSE, $4, $4) RETURNING id`,
		email, in.PasswordHash, sub.ID, now,
	).Scan(&user.ID)
	if err != nil {
		if isUniqueViolation(err, usersEmailKey) {
			return identity.User{}, identity.ErrEmailTaken
		}
		return identity.User{}, fmt.Errorf("insert user: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return identity.User{}, fmt.Errorf("commit user: %w", err)
	}
	committed = true
	return user, nil
}

// GetUser loads an account with its subscription and plan.
func (s *UserStore) GetUser(ctx context.Context, id int64) (identity.User, error) {
	user, err := scanUser(s.db.QueryRow(ctx, userSelect+" WHERE u.id = $1", id))
	if err != nil {
		if isNoRows(err) {
			return identity.User{}, identity.ErrUserNotFound
		}
		return identity.User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// FindActiveUserByEmail loads the active account using email.
func (s *UserStore) FindActiveUserByEmail(ctx context.Context, email string) (identity.User, error) {
	user, err := scanUser(s.db.QueryRow(ctx, userSelect+" WHERE u.email = $1 AND u.is_active", strings.ToLower(email)))
	if err != nil {
		if isNoRows(err) {
			return identity.User{}, identity.ErrUserNotFound
		}
		return identity.User{}, fmt.Errorf("find user by email: %w", err)
	}
	return user, nil
}

func scanUser(row pgx.Row) (identity.User, error) {
	var (
		user       identity.User
		subID      *int64
		subActive  *bool
		subCreated *time.Time
		subUpdated *time.Time
		planID     *int64
		planName   *string
		planDesc   *string
		planDays   *int
		planActive *bool
	)
	if err := row.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.Active, &user.Staff, &user.Superuser,
		&user.CreatedAt, &user.UpdatedAt,
		&subID, &subActive, &subCreated, &subUpdated,
		&planID, &planName, &planDesc, &planDays, &planActive,
	); err != nil {
		return identity.User{}, err
	}
	if subID == nil {
		return user, nil
	}
	sub := identity.Subscription{ID: *subID, Active: deref(subActive)}
	sub.CreatedAt = deref(subCreated)
	sub.UpdatedAt = deref(subUpdated)
	if planID != nil {
		sub.PlanID = *planID
		sub.Plan = identity.Plan{
			ID:           *planID,
			Name:         deref(planName),
			Description:  deref(planDesc),
			DurationDays: deref(planDays),
			Active:       deref(planActive),
		}
	}
	user.Subscription = &sub
	return user, nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
