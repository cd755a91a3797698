//go:build integration

package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ligun0805/mempool-searcher/internal/domain"
)

func setupTestDB(t *testing.T) *Pool {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("audit"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, RunMigrations(ctx, pool))
	require.NoError(t, RunMigrations(ctx, pool), "migrations are idempotent")
	return pool
}

func TestPostgresStore(t *testing.T) {
	ctx := context.Background()
	s := NewPostgresStore(setupTestDB(t))

	now := time.Now().UTC().Truncate(time.Microsecond)
	old := FromResult(result(domain.Submitted, now.Add(-48*time.Hour)))
	recent := FromResult(result(domain.Submitted, now.Add(-time.Hour)))
	failed := FromResult(result(domain.Failed, now))
	for _, r := range []Record{old, recent, failed} {
		require.NoError(t, s.Append(ctx, r))
	}
	assert.ErrorIs(t, s.Append(ctx, recent), ErrDuplicateKey)

	got, err := s.Submitted(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assertRecord(t, recent, got[0])
}
