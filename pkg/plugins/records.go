package plugins

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillkit/pkg/db"
	"github.com/jingkaihe/skillkit/pkg/db/migrations"
	"github.com/jingkaihe/skillkit/pkg/skills"
)

// ErrRecordNotFound is returned when no install record exists for a name.
var ErrRecordNotFound = errors.New("install record not found")

// RecordStore persists install records: where a plugin came from and
// whether the operator has it enabled. Discovery reads the enabled flags
// through skills.WithPlugins.
type RecordStore struct {
	db *sqlx.DB
}

// NewRecordStore wraps an already migrated database.
func NewRecordStore(db *sqlx.DB) *RecordStore {
	return &RecordStore{db: db}
}

// OpenRecordStore opens the database at dbPath and applies migrations.
func OpenRecordStore(ctx context.Context, dbPath string) (*RecordStore, error) {
	sqlDB, err := db.OpenMigrated(ctx, dbPath, migrations.All())
	if err != nil {
		return nil, errors.Wrap(err, "failed to open install record store")
	}
	return &RecordStore{db: sqlDB}, nil
}

// Close closes the underlying database.
func (s *RecordStore) Close() error {
	return s.db.Close()
}

// Upsert inserts or replaces the record for rec.Name. A zero InstalledAt is
// set to the current time.
func (s *RecordStore) Upsert(ctx context.Context, rec skills.InstallRecord) error {
	if rec.InstalledAt.IsZero() {
		rec.InstalledAt = time.Now()
	}
	rec.InstalledAt = rec.InstalledAt.UTC()

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO plugin_installs (name, url, ref, enabled, installed_at)
		VALUES (:name, :url, :ref, :enabled, :installed_at)
		ON CONFLICT(name) DO UPDATE SET
			url = excluded.url,
			ref = excluded.ref,
			enabled = excluded.enabled,
			installed_at = excluded.installed_at
	`, rec)
	return errors.Wrapf(err, "failed to save install record for %q", rec.Name)
}

// Get returns the record for name or ErrRecordNotFound.
func (s *RecordStore) Get(ctx context.Context, name string) (*skills.InstallRecord, error) {
	var rec skills.InstallRecord
	err := s.db.GetContext(ctx, &rec, `
		SELECT name, url, ref, enabled, installed_at FROM plugin_installs WHERE name = ?
	`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load install record for %q", name)
	}
	return &rec, nil
}

// List returns all records ordered by name.
func (s *RecordStore) List(ctx context.Context) ([]skills.InstallRecord, error) {
	records := []skills.InstallRecord{}
	err := s.db.SelectContext(ctx, &records, `
		SELECT name, url, ref, enabled, installed_at FROM plugin_installs ORDER BY name
	`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list install records")
	}
	return records, nil
}

// SetEnabled flips the enabled flag of an existing record.
func (s *RecordStore) SetEnabled(ctx context.Context, name string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, "UPDATE plugin_installs SET enabled = ? WHERE name = ?", enabled, name)
	if err != nil {
		return errors.Wrapf(err, "failed to update install record for %q", name)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// Delete removes the record for name and reports whether one existed.
func (s *RecordStore) Delete(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM plugin_installs WHERE name = ?", name)
	if err != nil {
		return false, errors.Wrapf(err, "failed to delete install record for %q", name)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read affected rows")
	}
	return n > 0, nil
}
