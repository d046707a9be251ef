package database

import (
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// RunMigrations applies all up migrations found at path against databaseURL.
// A database already at the latest version is not an error.
func RunMigrations(databaseURL, path string) error {
	// golang-migrate selects the pgx/v5 driver by URL scheme.
	url := strings.Replace(databaseURL, "postgres://", "pgx5://", 1)

	m, err := migrate.New(fmt.Sprintf("file://%s", path), url)
	if err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	defer m.Close()

	err = m.Up()
	if err == migrate.ErrNoChange {
		return nil
	}
	return err
}
