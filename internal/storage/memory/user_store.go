package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/shivamtherexpandey/usm-app/internal/clock/system"
	"github.com/shivamtherexpandey/usm-app/internal/identity"
	"github.com/shivamtherexpandey/usm-app/internal/summary"
)

// UserStore keeps accounts, subscriptions and plans in memory. It is seeded
// with the free plan.
type UserStore struct {
	mu            sync.RWMutex
	users         map[int64]identity.User
	subscriptions map[int64]identity.Subscription
	plans         map[int64]identity.Plan
	nextUserID    int64
	nextSubID     int64
	clock         summary.Clock
}

// NewUserStore constructs a UserStore. A nil clock uses the system clock.
func NewUserStore(clock summary.Clock) *UserStore {
	if clock == nil {
		clock = system.New()
	}
	now := clock.Now()
	return &UserStore{
		users:         make(map[int64]identity.User),
		subscriptions: make(map[int64]identity.Subscription),
		plans: map[int64]identity.Plan{
			identity.FreePlanID: {
				ID:          identity.FreePlanID,
				Name:        "Free",
				Description: "Default plan for new accounts",
				Active:      true,
				CreatedAt:   now,
				UpdatedAt:   now,
			},
		},
		clock: clock,
	}
}

// PutPlan inserts or replaces a plan.
func (s *UserStore) PutPlan(plan identity.Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[plan.ID] = plan
}

// SetActive toggles an account's active flag.
func (s *UserStore) SetActive(id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return identity.ErrUserNotFound
	}
	user.Active = active
	user.UpdatedAt = s.clock.Now()
	s.users[id] = user
	return nil
}

// CreateUser creates a subscription to in.PlanID and an active user.
func (s *UserStore) CreateUser(_ context.Context, in identity.NewUser) (identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(in.Email)
	for _, u := range s.users {
		if u.Email == email {
			return identity.User{}, identity.ErrEmailTaken
		}
	}
	plan, ok := s.plans[in.PlanID]
	if !ok || !plan.Active {
		return identity.User{}, identity.ErrPlanUnavailable
	}
	now := s.clock.Now()
	s.nextSubID++
	sub := identity.Subscription{
		ID:        s.nextSubID,
		PlanID:    plan.ID,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.subscriptions[sub.ID] = sub
	s.nextUserID++
	user := identity.User{
		ID:           s.nextUserID,
		Email:        email,
		PasswordHash: in.PasswordHash,
		Active:       true,
		Subscription: &identity.Subscription{ID: sub.ID},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.users[user.ID] = user
	return s.hydrateLocked(user), nil
}

// GetUser returns the account with id.
func (s *UserStore) GetUser(_ context.Context, id int64) (identity.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return identity.User{}, identity.ErrUserNotFound
	}
	return s.hydrateLocked(user), nil
}

// FindActiveUserByEmail returns the active account using email.
func (s *UserStore) FindActiveUserByEmail(_ context.Context, email string) (identity.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	email = strings.ToLower(email)
	for _, user := range s.users {
		if user.Email == email && user.Active {
			return s.hydrateLocked(user), nil
		}
	}
	return identity.User{}, identity.ErrUserNotFound
}

func (s *UserStore) hydrateLocked(user identity.User) identity.User {
	if user.Subscription == nil {
		return user
	}
	sub, ok := s.subscriptions[user.Subscription.ID]
	if !ok {
		user.Subscription = nil
		return user
	}
	sub.Plan = s.plans[sub.PlanID]
	user.Subscription = &sub
	return user
}
