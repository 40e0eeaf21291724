// Package migrations embeds the goose SQL migrations and runs them.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"

	"github.com/pressly/goose/v3"
)

//go:embed *.sql
var FS embed.FS

// Up applies pending migrations. An empty dir uses the embedded files.
func Up(db *sql.DB, dir string) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}

	var source fs.FS = FS
	if dir != "" {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return fmt.Errorf("migrations directory not found: %s", dir)
		}
		source = os.DirFS(dir)
	}
	goose.SetBaseFS(source)
	defer goose.SetBaseFS(nil)

	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Status logs the applied state of every migration.
func Status(db *sql.DB) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	goose.SetBaseFS(FS)
	defer goose.SetBaseFS(nil)
	return goose.Status(db, ".")
}
