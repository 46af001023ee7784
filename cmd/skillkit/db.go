package main

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jingkaihe/skillkit/pkg/db"
	"github.com/jingkaihe/skillkit/pkg/db/migrations"
	"github.com/jingkaihe/skillkit/pkg/logger"
	"github.com/jingkaihe/skillkit/pkg/presenter"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the install record database",
	Long:  `Inspect and roll back the migrations of the database holding plugin install records.`,
	Run: func(cmd *cobra.Command, _ []string) {
		_ = cmd.Help()
	},
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied and pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, err := dbPath(viper.GetViper())
		if err != nil {
			return err
		}
		return printDBStatus(cmd.Context(), cmd.OutOrStdout(), path)
	},
}

var dbRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Roll back the most recent migration",
	Long: `Roll back the most recently applied migration. The install records it
created are dropped; the next plugin command migrates the database again.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, err := dbPath(viper.GetViper())
		if err != nil {
			return err
		}
		rolled, err := rollbackDB(cmd.Context(), path)
		if err != nil {
			return err
		}
		if rolled == nil {
			presenter.Warning("No migrations to roll back")
			return nil
		}
		presenter.Success(fmt.Sprintf("Rolled back migration %d: %s", rolled.Version, rolled.Description))
		return nil
	},
}

func init() {
	dbCmd.AddCommand(dbStatusCmd)
	dbCmd.AddCommand(dbRollbackCmd)
	withTracing(dbCmd)
}

func openDB(ctx context.Context, path string) (*dbHandle, error) {
	sqlDB, err := db.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := db.VerifyConfiguration(sqlDB); err != nil {
		sqlDB.Close()
		return nil, errors.Wrap(err, "database is misconfigured")
	}
	return &dbHandle{runner: db.NewMigrationRunner(sqlDB), close: sqlDB.Close}, nil
}

type dbHandle struct {
	runner *db.MigrationRunner
	close  func() error
}

func (h *dbHandle) release() {
	if err := h.close(); err != nil {
		logger.L.WithError(err).Warn("failed to close database")
	}
}

func printDBStatus(ctx context.Context, w io.Writer, path string) error {
	h, err := openDB(ctx, path)
	if err != nil {
		return err
	}
	defer h.release()

	statuses, err := h.runner.Status(ctx, migrations.All())
	if err != nil {
		return errors.Wrap(err, "failed to get migration status")
	}

	fmt.Fprintf(w, "Database: %s\n\n", path)
	applied := 0
	for _, s := range statuses {
		mark := "[ ]"
		if s.Applied {
			mark = "[x]"
			applied++
		}
		fmt.Fprintf(w, "%s %d - %s\n", mark, s.Version, s.Description)
	}
	fmt.Fprintf(w, "\nApplied: %d/%d migrations\n", applied, len(statuses))
	return nil
}

func rollbackDB(ctx context.Context, path string) (*db.Migration, error) {
	h, err := openDB(ctx, path)
	if err != nil {
		return nil, err
	}
	defer h.release()

	rolled, err := h.runner.Rollback(ctx, migrations.All())
	if err != nil {
		return nil, errors.Wrap(err, "failed to roll back migration")
	}
	return rolled, nil
}
