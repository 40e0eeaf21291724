package main

import (
	"database/sql"
	"fmt"

	"vendorbox/internal/config"
	"vendorbox/migrations"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or inspect database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()
		if err := migrations.Up(db, cfg.MigrationsDir); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied")
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()
		return migrations.Status(db)
	},
}

func init() {
	migrateCmd.PersistentFlags().String("dir", "", "migrations directory (default: embedded)")
	_ = v.BindPFlag(config.KeyMigrationsDir, migrateCmd.PersistentFlags().Lookup("dir"))
	migrateCmd.AddCommand(migrateUpCmd, migrateStatusCmd)
}

func openDB() (*sql.DB, error) {
	if cfg.Store != config.StorePostgres {
		return nil, fmt.Errorf("migrations need the postgres store, configured store is %s", cfg.Store)
	}
	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}
