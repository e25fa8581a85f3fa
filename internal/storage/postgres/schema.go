package postgres

import (
	"context"
	"fmt"
)

// Schema returns the DDL for the account tables and the summaries table.
func Schema(summariesTable string) ([]string, error) {
	table, err := tableName(summariesTable, defaultSummariesTable)
	if err != nil {
		return nil, err
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS subscription_plans (
	id BIGSERIAL PRIMARY KEY,
	name VARCHAR(100) NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	time_duration INTEGER NOT NULL DEFAULT 0,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
	id BIGSERIAL PRIMARY KEY,
	plan_id BIGINT NOT NULL REFERENCES subscription_plans(id),
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE TABLE IF NOT EXISTS users (
	id BIGSERIAL PRIMARY KEY,
	email VARCHAR(254) NOT NULL,
	password TEXT NOT NULL,
	subscription_id BIGINT REFERENCES subscriptions(id),
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	is_staff BOOLEAN NOT NULL DEFAULT FALSE,
	is_superuser BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT ` + usersEmailKey + ` UNIQUE (email)
)`,
		`INSERT INTO subscription_plans (id, name, description, time_duration, is_active)
VALUES (1, 'Free', 'Default plan for new accounts', 0, TRUE)
ON CONFLICT (id) DO NOTHING`,
		`SELECT setval(pg_get_serial_sequence('subscription_plans', 'id'), GREATEST((SELECT MAX(id) FROM subscription_plans), 1))`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	url VARCHAR(2048) NOT NULL,
	user_id BIGINT NOT NULL REFERENCES users(id),
	summary TEXT,
	status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'processed')),
	is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
	deleted_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	CHECK ((status = 'processed') = (summary IS NOT NULL))
)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_owner_url_idx ON %[1]s (user_id, url) WHERE NOT is_deleted`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_owner_updated_idx ON %[1]s (user_id, updated_at DESC) WHERE NOT is_deleted`, table),
	}, nil
}

// Migrate applies Schema inside a single transaction.
func Migrate(ctx context.Context, db DB, summariesTable string) error {
	stmts, err := Schema(summariesTable)
	if err != nil {
		return err
	}
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	committed := false
	defer rollback(ctx, tx, &committed)
	for i, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration statement %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	committed = true
	return nil
}
