package sqlstore

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

//go:embed migrations
var migrationFS embed.FS

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
  version VARCHAR(64) NOT NULL PRIMARY KEY,
  applied_at BIGINT NOT NULL
)`

// Migrate applies every embedded migration for the store's dialect that
// is not yet recorded in schema_migrations. It is safe to call on every
// start.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("sqlstore: create schema_migrations: %w", err)
	}

	dir := path.Join("migrations", s.dialect.String())
	entries, err := fs.ReadDir(migrationFS, dir)
	if err != nil {
		return fmt.Errorf("sqlstore: read migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		version := strings.TrimSuffix(name, ".sql")

		var applied int
		if err := s.db.GetContext(ctx, &applied, s.rebind(`SELECT COUNT(1) FROM schema_migrations WHERE version = ?`), version); err != nil {
			return fmt.Errorf("sqlstore: check migration %s: %w", version, err)
		}
		if applied > 0 {
			continue
		}

		body, err := migrationFS.ReadFile(path.Join(dir, name))
		if err != nil {
			return fmt.Errorf("sqlstore: read migration %s: %w", version, err)
		}
		if err := s.applyMigration(ctx, version, string(body)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, version, body string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, stmt := range splitStatements(body) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("sqlstore: apply migration %s: %w", version, err)
			}
		}
		_, err := tx.ExecContext(ctx,
			tx.Rebind(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`),
			version, millis(time.Now()),
		)
		return err
	})
}

// splitStatements splits a migration on semicolons at line ends. The mysql
// driver rejects multi-statement Exec calls by default.
func splitStatements(body string) []string {
	var out []string
	for _, part := range strings.Split(body, ";\n") {
		stmt := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(part), ";"))
		if stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
