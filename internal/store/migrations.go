package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
)

// Migration represents a schema migration step.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// MigrationStatus reports the current and available migration versions.
type MigrationStatus struct {
	CurrentVersion   int             `json:"current_version"`
	AvailableVersion int             `json:"available_version"`
	Pending          []MigrationInfo `json:"pending"`
}

// MigrationInfo describes a single migration.
type MigrationInfo struct {
	Version     int    `json:"version"`
	Description string `json:"description"`
}

// migrations is the ordered list of all schema migrations. Every statement
// must be idempotent: several processes may start against the same
// database at once and each one runs EnsureSchema.
var migrations = []Migration{
	{
		Version:     1,
		Description: "stored_images table keyed by unique content hash",
		SQL: `
CREATE TABLE IF NOT EXISTS stored_images (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  filename TEXT NOT NULL,
  mimetype TEXT NOT NULL,
  content_hash TEXT NOT NULL UNIQUE,
  size_bytes INTEGER NOT NULL,
  data BLOB,
  created_at TEXT NOT NULL
);
`,
	},
	{
		Version:     2,
		Description: "filename lookup index",
		SQL: `
CREATE INDEX IF NOT EXISTS idx_stored_images_filename_id ON stored_images(filename, id DESC);
`,
	},
}

const migrationsTableSQL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at TEXT NOT NULL
);
`

// EnsureSchema applies all pending migrations. It is idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.withConn(ctx, func(conn *sql.Conn) error {
		return runMigrations(ctx, conn)
	})
}

// MigrationPlan returns the current migration status without applying anything.
func (s *Store) MigrationPlan(ctx context.Context) (*MigrationStatus, error) {
	var status *MigrationStatus
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		var err error
		status, err = migrationPlan(ctx, conn)
		return err
	})
	return status, err
}

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// ensureMigrationsTable creates the schema_migrations table if it doesn't exist.
func ensureMigrationsTable(ctx context.Context, db execQuerier) error {
	_, err := db.ExecContext(ctx, migrationsTableSQL)
	return err
}

// currentVersion returns the highest applied migration version, or 0 if none.
func currentVersion(ctx context.Context, db execQuerier) (int, error) {
	var version int
	err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

func sortedMigrations() []Migration {
	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })
	return sorted
}

// runMigrations applies all pending migrations in order.
func runMigrations(ctx context.Context, db execQuerier) error {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return unavailable("create migrations table", err)
	}

	current, err := currentVersion(ctx, db)
	if err != nil {
		return unavailable("get current version", err)
	}

	for _, m := range sortedMigrations() {
		if m.Version <= current {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return unavailable(fmt.Sprintf("begin migration %d", m.Version), err)
		}

		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}

		// A concurrent process may have recorded this version already.
		if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO schema_migrations (version, applied_at) VALUES (?, datetime('now'))", m.Version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return unavailable(fmt.Sprintf("commit migration %d", m.Version), err)
		}
	}

	return nil
}

func migrationPlan(ctx context.Context, db execQuerier) (*MigrationStatus, error) {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return nil, unavailable("create migrations table", err)
	}

	current, err := currentVersion(ctx, db)
	if err != nil {
		return nil, unavailable("get current version", err)
	}

	sorted := sortedMigrations()
	available := 0
	if len(sorted) > 0 {
		available = sorted[len(sorted)-1].Version
	}

	var pending []MigrationInfo
	for _, m := range sorted {
		if m.Version > current {
			pending = append(pending, MigrationInfo{Version: m.Version, Description: m.Description})
		}
	}

	return &MigrationStatus{
		CurrentVersion:   current,
		AvailableVersion: available,
		Pending:          pending,
	}, nil
}
