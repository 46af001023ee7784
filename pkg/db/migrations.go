package db

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// Migration is one schema change. Version is a YYYYMMDDHHmmss timestamp and
// orders migrations; Down is optional and only needed for rollback.
type Migration struct {
	Version     int64
	Description string
	Up          func(*sql.Tx) error
	Down        func(*sql.Tx) error
}

// MigrationStatus reports whether a known migration has been applied.
type MigrationStatus struct {
	Migration
	Applied bool
}

// MigrationRunner applies and reverts migrations, tracking them in the
// schema_migrations table.
type MigrationRunner struct {
	db *sqlx.DB
}

// NewMigrationRunner creates a runner over db.
func NewMigrationRunner(db *sqlx.DB) *MigrationRunner {
	return &MigrationRunner{db: db}
}

func sortedByVersion(migrations []Migration) []Migration {
	sorted := append([]Migration(nil), migrations...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Version < sorted[j].Version
	})
	return sorted
}

// Run applies every pending migration, oldest first, each in its own
// transaction.
func (r *MigrationRunner) Run(ctx context.Context, migrations []Migration) error {
	applied, err := r.appliedSet(ctx)
	if err != nil {
		return err
	}

	for _, m := range sortedByVersion(migrations) {
		if applied[m.Version] {
			continue
		}
		if err := r.inTx(ctx, func(tx *sqlx.Tx) error {
			if err := m.Up(tx.Tx); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
				m.Version, time.Now().UTC(), m.Description)
			return errors.Wrap(err, "failed to record migration")
		}); err != nil {
			return errors.Wrapf(err, "failed to apply migration %d: %s", m.Version, m.Description)
		}
	}
	return nil
}

// Status lists migrations in version order with their applied state.
func (r *MigrationRunner) Status(ctx context.Context, migrations []Migration) ([]MigrationStatus, error) {
	applied, err := r.appliedSet(ctx)
	if err != nil {
		return nil, err
	}

	sorted := sortedByVersion(migrations)
	statuses := make([]MigrationStatus, 0, len(sorted))
	for _, m := range sorted {
		statuses = append(statuses, MigrationStatus{Migration: m, Applied: applied[m.Version]})
	}
	return statuses, nil
}

// Rollback reverts the most recently applied migration and returns it. It
// returns nil when nothing has been applied.
func (r *MigrationRunner) Rollback(ctx context.Context, migrations []Migration) (*Migration, error) {
	versions, err := r.GetAppliedVersions(ctx)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, nil
	}
	latest := versions[len(versions)-1]

	var target *Migration
	for idx := range migrations {
		if migrations[idx].Version == latest {
			target = &migrations[idx]
			break
		}
	}
	if target == nil {
		return nil, errors.Errorf("migration %d not found in provided migrations", latest)
	}
	if target.Down == nil {
		return nil, errors.Errorf("migration %d has no rollback function", latest)
	}

	err = r.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := target.Down(tx.Tx); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", latest)
		return errors.Wrap(err, "failed to remove migration record")
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to roll back migration %d", latest)
	}
	return target, nil
}

// GetAppliedVersions returns the applied versions in ascending order.
func (r *MigrationRunner) GetAppliedVersions(ctx context.Context) ([]int64, error) {
	if err := r.ensureMigrationsTable(ctx); err != nil {
		return nil, err
	}

	versions := []int64{}
	if err := r.db.SelectContext(ctx, &versions, "SELECT version FROM schema_migrations ORDER BY version"); err != nil {
		return nil, errors.Wrap(err, "failed to read applied migrations")
	}
	return versions, nil
}

func (r *MigrationRunner) appliedSet(ctx context.Context) (map[int64]bool, error) {
	versions, err := r.GetAppliedVersions(ctx)
	if err != nil {
		return nil, err
	}
	applied := make(map[int64]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}

func (r *MigrationRunner) ensureMigrationsTable(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME NOT NULL,
			description TEXT
		)
	`)
	return errors.Wrap(err, "failed to create schema_migrations table")
}

func (r *MigrationRunner) inTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
