package history

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// newTestStore starts a disposable PostgreSQL container, opens a connection
// via the pgx driver, and applies migrations, mirroring the teacher's
// newTestClient helper (pkg/database/client_test.go) minus the Ent layer.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("history_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("pgx", connStr)
	require.NoError(t, err)
	require.NoError(t, db.PingContext(ctx))
	require.NoError(t, runMigrations(db))

	return NewWithDB(db)
}

func TestStore_RecordThenForRoot(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Record(ctx, RecordFields{
		RootID: "E1", RootType: "Epic", Success: true, Significance: 0.8,
		StoriesCreated: 2, SyncedAt: now,
	}))
	require.NoError(t, store.Record(ctx, RecordFields{
		RootID: "E1", RootType: "Epic", Success: false, ErrorMessage: "tracker unavailable",
		SyncedAt: now.Add(time.Hour),
	}))

	records, err := store.ForRoot(ctx, "E1", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.False(t, records[0].Success) // newest first
	assert.Equal(t, "tracker unavailable", records[0].ErrorMessage)
	assert.True(t, records[1].Success)
	assert.Equal(t, 2, records[1].StoriesCreated)
}

func TestStore_RecentAcrossRoots(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Record(ctx, RecordFields{RootID: "E1", RootType: "Epic", Success: true, SyncedAt: now}))
	require.NoError(t, store.Record(ctx, RecordFields{RootID: "E2", RootType: "Epic", Success: true, SyncedAt: now.Add(time.Minute)}))

	records, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "E2", records[0].RootID)
}

func TestStore_ForRoot_RespectsLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Record(ctx, RecordFields{
			RootID: "E1", RootType: "Epic", Success: true,
			SyncedAt: now.Add(time.Duration(i) * time.Minute),
		}))
	}

	records, err := store.ForRoot(ctx, "E1", 2)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}
