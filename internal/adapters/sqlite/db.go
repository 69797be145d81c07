// Package sqlite is the single-host repository backend. Write transactions
// begin IMMEDIATE so a claim holds the database write lock from its first
// read.
package sqlite

import (
    "context"
    "database/sql"
    "errors"
    "fmt"
    "net/url"
    "strings"
    "time"

    _ "modernc.org/sqlite"

    "github.com/odomlab/odom-data-processing/internal/domain"
    "github.com/odomlab/odom-data-processing/internal/migrations"
    "github.com/odomlab/odom-data-processing/internal/ports"
)

type Store struct {
    db *sql.DB
}

var _ ports.Repository = (*Store)(nil)

// DSN builds a modernc connection string with the pragmas the store relies on.
// The path is escaped so '#', '?' and '%' stay part of the filename.
func DSN(path string) string {
    q := url.Values{}
    q.Add("_pragma", "busy_timeout(5000)")
    q.Add("_pragma", "foreign_keys(1)")
    q.Add("_pragma", "journal_mode(WAL)")
    q.Set("_txlock", "immediate")
    return (&url.URL{Scheme: "file", Path: path, RawQuery: q.Encode()}).String()
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(ctx context.Context, path string) (*Store, error) {
    dsn := path
    if !strings.HasPrefix(path, "file:") { dsn = DSN(path) }
    db, err := sql.Open("sqlite", dsn)
    if err != nil { return nil, err }
    if err := db.PingContext(ctx); err != nil {
        db.Close()
        return nil, err
    }
    if err := migrations.Up(ctx, db, "sqlite"); err != nil {
        db.Close()
        return nil, err
    }
    return &Store{db: db}, nil
}

func (s *Store) Close() { _ = s.db.Close() }

// DB exposes the handle for fixtures and ad-hoc maintenance.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
    tx, err := s.db.BeginTx(ctx, nil)
    if err != nil { return err }
    defer func() {
        if err != nil { _ = tx.Rollback() } else { err = tx.Commit() }
    }()
    return fn(tx)
}

func millis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func placeholders(n int) string {
    if n == 0 { return "" }
    return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func wrapNotFound(err error, format string, args ...any) error {
    if errors.Is(err, sql.ErrNoRows) {
        return fmt.Errorf(format+": %w", append(args, domain.ErrNotFound)...)
    }
    return err
}
