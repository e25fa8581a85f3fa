package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/shivamtherexpandey/usm-app/internal/identity"
)

var userColumnNames = []string{
	"id", "email", "password", "is_active", "is_staff", "is_superuser", "created_at", "updated_at",
	"sub_id", "sub_active", "sub_created", "sub_updated",
	"plan_id", "plan_name", "plan_description", "plan_duration", "plan_active",
}

func newMockUserStore(t *testing.T) (*UserStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewUserStore(mock, fixedClock{now: testNow})
	require.NoError(t, err)
	return store, mock
}

func ptr[T any](v T) *T { return &v }

func expectFreePlan(mock pgxmock.PgxPoolIface) {
	mock.ExpectQuery("SELECT id, name, description, time_duration, is_active FROM subscription_plans").
		WithArgs(identity.FreePlanID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "description", "time_duration", "is_active"}).
			AddRow(int64(1), "Free", "Default plan", 0, true))
}

func TestUserStoreCreateUser(t *testing.T) {
	t.Parallel()

	store, mock := newMockUserStore(t)
	mock.ExpectBegin()
	expectFreePlan(mock)
	mock.ExpectQuery("INSERT INTO subscriptions").
		WithArgs(int64(1), testNow).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectQuery("INSERT INTO users").
		WithArgs("ada@example.com", "hash", int64(11), testNow).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(5)))
	mock.ExpectCommit()

	user, err := store.CreateUser(context.Background(), identity.NewUser{Email: "Ada@example.com", PasswordHash: "hash", PlanID: identity.FreePlanID})
	require.NoError(t, err)
	require.Equal(t, int64(5), user.ID)
	require.Equal(t, "ada@example.com", user.Email)
	require.NotNil(t, user.Subscription)
	require.Equal(t, int64(11), user.Subscription.ID)
	require.Equal(t, "Free", user.Subscription.Plan.Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserStoreCreateUserEmailTaken(t *testing.T) {
	t.Parallel()

	store, mock := newMockUserStore(t)
	mock.ExpectBegin()
	expectFreePlan(mock)
	mock.ExpectQuery("INSERT INTO subscriptions").
		WithArgs(int64(1), testNow).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectQuery("INSERT INTO users").
		WithArgs("ada@example.com", "hash", int64(11), testNow).
		WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: usersEmailKey})
	mock.ExpectRollback()

	_, err := store.CreateUser(context.Background(), identity.NewUser{Email: "ada@example.com", PasswordHash: "hash", PlanID: identity.FreePlanID})
	require.ErrorIs(t, err, identity.ErrEmailTaken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserStoreCreateUserMissingPlan(t *testing.T) {
	t.Parallel()

	store, mock := newMockUserStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, name, description, time_duration, is_active FROM subscription_plans").
		WithArgs(identity.FreePlanID).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := store.CreateUser(context.Background(), identity.NewUser{Email: "ada@example.com", PasswordHash: "hash", PlanID: identity.FreePlanID})
	require.ErrorIs(t, err, identity.ErrPlanUnavailable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserStoreGetUser(t *testing.T) {
	t.Parallel()

	store, mock := newMockUserStore(t)
	mock.ExpectQuery("FROM users u").
		WithArgs(int64(5)).
		WillReturnRows(pgxmock.NewRows(userColumnNames).AddRow(
			int64(5), "ada@example.com", "hash", true, false, false, testNow, testNow,
			ptr(int64(11)), ptr(true), ptr(testNow), ptr(testNow),
			ptr(int64(1)), ptr("Free"), ptr("Default plan"), ptr(0), ptr(true),
		))

	user, err := store.GetUser(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, "ada@example.com", user.Email)
	require.NotNil(t, user.Subscription)
	require.Equal(t, int64(1), user.Subscription.PlanID)
	require.True(t, user.Subscription.Plan.Active)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserStoreGetUserWithoutSubscription(t *testing.T) {
	t.Parallel()

	store, mock := newMockUserStore(t)
	mock.ExpectQuery("FROM users u").
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows(userColumnNames).AddRow(
			int64(1), "root@example.com", "hash", true, true, true, testNow, testNow,
			(*int64)(nil), (*bool)(nil), (*time.Time)(nil), (*time.Time)(nil),
			(*int64)(nil), (*string)(nil), (*string)(nil), (*int)(nil), (*bool)(nil),
		))

	user, err := store.GetUser(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, user.Superuser)
	require.Nil(t, user.Subscription)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserStoreFindActiveUserByEmailMissing(t *testing.T) {
	t.Parallel()

	store, mock := newMockUserStore(t)
	mock.ExpectQuery("FROM users u").
		WithArgs("nobody@example.com").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.FindActiveUserByEmail(context.Background(), "Nobody@example.com")
	require.ErrorIs(t, err, identity.ErrUserNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
