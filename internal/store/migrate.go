/**
 * @description
 * Embedded goose migrations for the ledger schema. Migrations run once at
 * service startup against a short-lived database/sql connection; the pgx
 * pool used for serving traffic is opened separately.
 *
 * @dependencies
 * - embed, database/sql: Standard Go libraries.
 * - github.com/pressly/goose/v3: Migration runner.
 * - github.com/lib/pq: database/sql Postgres driver used only for goose.
 */

package store

import (
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// RunMigrations applies any pending schema migrations.
func RunMigrations(databaseURL string) error {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
