package history

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

//go:embed migrations
var migrationsFS embed.FS

// Record is one row of the sync_results audit trail: the outcome of a
// single syncworker.SyncRoot call.
type Record struct {
	ID               int64
	RootID           string
	RootType         string
	Success          bool
	Significance     float64
	StoriesCreated   int
	StoriesUpdated   int
	StoriesUnchanged int
	TestCasesCreated int
	ErrorMessage     string
	SyncedAt         time.Time
}

// Store is the Sync History Store: a PostgreSQL-backed table of sync
// results, written through Record and read back through ForRoot and
// Recent. cmd/sync-engine opens it when history is enabled, but the sync
// worker does not call Record and no control-surface endpoint reads from
// it. Grounded in the teacher's database.Client connection-pool
// setup and migration runner, with Ent's generated client replaced by
// hand-written SQL since no codegen runs in this exercise.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL via the pgx database/sql driver, configures
// the connection pool, and applies any pending migrations.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping history database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run history migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an already-open *sql.DB without running migrations,
// used by tests that manage migrations themselves (e.g. against a
// testcontainers-provisioned database).
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func runMigrations(db *sql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres migration driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "history", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	// Do not call m.Close(): it would close db via the shared postgres
	// driver. Only the migration source needs releasing.
	return sourceDriver.Close()
}

// DB returns the underlying connection for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordFields is the subset of syncworker.SyncResult the history store
// persists. Declared locally (rather than importing syncworker) to avoid a
// pkg/history → pkg/syncworker dependency. Nothing outside the tests
// builds one from a SyncResult.
type RecordFields struct {
	RootID           string
	RootType         string
	Success          bool
	Significance     float64
	StoriesCreated   int
	StoriesUpdated   int
	StoriesUnchanged int
	TestCasesCreated int
	ErrorMessage     string
	SyncedAt         time.Time
}

// Record inserts one audit-trail row for a completed sync.
func (s *Store) Record(ctx context.Context, f RecordFields) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_results
			(root_id, root_type, success, significance, stories_created,
			 stories_updated, stories_unchanged, test_cases_created, error_message, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		f.RootID, f.RootType, f.Success, f.Significance, f.StoriesCreated,
		f.StoriesUpdated, f.StoriesUnchanged, f.TestCasesCreated, nullableString(f.ErrorMessage), f.SyncedAt,
	)
	if err != nil {
		return fmt.Errorf("insert sync result: %w", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ForRoot returns the most recent sync-result rows for rootID, newest
// first, bounded by limit.
func (s *Store) ForRoot(ctx context.Context, rootID string, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, root_id, root_type, success, significance, stories_created,
		       stories_updated, stories_unchanged, test_cases_created,
		       COALESCE(error_message, ''), synced_at
		FROM sync_results
		WHERE root_id = $1
		ORDER BY synced_at DESC
		LIMIT $2`, rootID, limit)
	if err != nil {
		return nil, fmt.Errorf("query sync results for root: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Recent returns the most recent sync-result rows across all roots, newest
// first, bounded by limit.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, root_id, root_type, success, significance, stories_created,
		       stories_updated, stories_unchanged, test_cases_created,
		       COALESCE(error_message, ''), synced_at
		FROM sync_results
		ORDER BY synced_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent sync results: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.RootID, &r.RootType, &r.Success, &r.Significance,
			&r.StoriesCreated, &r.StoriesUpdated, &r.StoriesUnchanged, &r.TestCasesCreated,
			&r.ErrorMessage, &r.SyncedAt); err != nil {
			return nil, fmt.Errorf("scan sync result row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync result rows: %w", err)
	}
	return out, nil
}
