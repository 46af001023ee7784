package migrations

import (
	"database/sql"

	"github.com/pkg/errors"

	"github.com/jingkaihe/skillkit/pkg/db"
)

// Migration20261019120000CreatePluginInstalls creates the plugin_installs table.
func Migration20261019120000CreatePluginInstalls() db.Migration {
	return db.Migration{
		Version:     20261019120000,
		Description: "Create plugin_installs table",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS plugin_installs (
					name TEXT PRIMARY KEY,
					url TEXT NOT NULL,
					ref TEXT NOT NULL DEFAULT '',
					enabled BOOLEAN NOT NULL DEFAULT 1,
					installed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)
			`); err != nil {
				return errors.Wrap(err, "failed to create plugin_installs table")
			}

			if _, err := tx.Exec(`
				CREATE INDEX IF NOT EXISTS idx_plugin_installs_installed_at
				ON plugin_installs(installed_at)
			`); err != nil {
				return errors.Wrap(err, "failed to create installed_at index")
			}

			return nil
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP TABLE IF EXISTS plugin_installs")
			return errors.Wrap(err, "failed to drop plugin_installs table")
		},
	}
}
