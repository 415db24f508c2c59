// Package migrations embeds the schema for every supported store.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
)

//go:embed mysql/*.sql sqlite/*.sql clickhouse/*.sql
var files embed.FS

// FS returns the embedded migration tree.
func FS() fs.FS { return files }

// dirFor maps a sqlx driver name to its migration directory.
func dirFor(driver string) (string, error) {
	switch driver {
	case "mysql":
		return "mysql", nil
	case "sqlite", "sqlite3":
		return "sqlite", nil
	case "clickhouse":
		return "clickhouse", nil
	default:
		return "", fmt.Errorf("no migrations for driver %q", driver)
	}
}

// Statements returns the ordered statements for driver.
func Statements(driver string) ([]string, error) {
	dir, err := dirFor(driver)
	if err != nil {
		return nil, err
	}
	entries, err := fs.ReadDir(files, dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []string
	for _, name := range names {
		raw, err := fs.ReadFile(files, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		for _, stmt := range strings.Split(string(raw), ";") {
			if s := strings.TrimSpace(stmt); s != "" {
				out = append(out, s)
			}
		}
	}
	return out, nil
}

// Apply runs every migration for the connection's driver (dev: DROP & CREATE).
func Apply(ctx context.Context, db *sqlx.DB) error {
	stmts, err := Statements(db.DriverName())
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}
