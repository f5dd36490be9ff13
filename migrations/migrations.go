// Package migrations embeds the Postgres schema and applies it to a target schema.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed *.sql
var files embed.FS

// Names returns the embedded migration file names in apply order.
func Names() ([]string, error) {
	names, err := fs.Glob(files, "*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Render returns the SQL of one migration with the schema placeholder filled in.
func Render(name, schema string) (string, error) {
	b, err := files.ReadFile(name)
	if err != nil {
		return "", fmt.Errorf("migrations: read %s: %w", name, err)
	}
	return strings.ReplaceAll(string(b), "{{schema}}", pgx.Identifier{schema}.Sanitize()), nil
}

// Apply runs every migration against schema. The statements are idempotent.
func Apply(ctx context.Context, pool *pgxpool.Pool, schema string) error {
	if pool == nil {
		return fmt.Errorf("migrations: nil pool")
	}
	names, err := Names()
	if err != nil {
		return err
	}
	for _, name := range names {
		sql, err := Render(name, schema)
		if err != nil {
			return err
		}
		if _, err := pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("migrations: apply %s: %w", name, err)
		}
	}
	return nil
}
