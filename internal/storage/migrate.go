package storage

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed all:migrations
var embeddedMigrations embed.FS

// migrate applies every pending migration under migrations/ using goose.
// goose's own goose_db_version table doubles as the migrations ledger
// required alongside download_batches.
func migrate(db *sql.DB) error {
	goose.SetBaseFS(embeddedMigrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("storage: set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("storage: run migrations: %w", err)
	}
	return nil
}
