package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootCommandListsSubcommands(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	names := make([]string, 0, len(root.Commands()))
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	require.Subset(t, names, []string{"serve", "worker", "migrate"})
}

// Not parallel: mutates the environment.
func TestMigrateRequiresDSN(t *testing.T) {
	t.Setenv("USM_AUTH_SECRET_KEY", "0123456789abcdef0123")
	t.Setenv("USM_DATABASE_DSN", "")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"migrate"})

	err := root.ExecuteContext(context.Background())
	require.ErrorContains(t, err, "database.dsn is required")
}

func TestInvalidConfigFailsBeforeRun(t *testing.T) {
	t.Setenv("USM_AUTH_SECRET_KEY", "short")

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"worker"})

	err := root.ExecuteContext(context.Background())
	require.ErrorContains(t, err, "auth.secret_key")
}

func TestConfigFromMissing(t *testing.T) {
	t.Parallel()

	_, err := configFrom(context.Background())
	require.Error(t, err)
}
