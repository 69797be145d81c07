// Package migrations embeds the repository schema for each supported
// database dialect and applies it with goose.
package migrations

import (
    "context"
    "database/sql"
    "embed"
    "fmt"
    "io/fs"
    "log/slog"

    "github.com/pressly/goose/v3"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

var dialects = map[string]goose.Dialect{
    "postgres": goose.DialectPostgres,
    "sqlite":   goose.DialectSQLite3,
}

// Up applies every pending migration for the named dialect.
func Up(ctx context.Context, db *sql.DB, dialect string) error {
    d, ok := dialects[dialect]
    if !ok { return fmt.Errorf("no migrations for dialect %q", dialect) }
    fsys, err := fs.Sub(files, dialect)
    if err != nil { return err }
    provider, err := goose.NewProvider(d, db, fsys)
    if err != nil { return fmt.Errorf("goose provider: %w", err) }
    results, err := provider.Up(ctx)
    if err != nil { return fmt.Errorf("migrate %s: %w", dialect, err) }
    for _, r := range results {
        slog.Info("applied migration", "dialect", dialect, "version", r.Source.Version, "duration", r.Duration)
    }
    return nil
}
