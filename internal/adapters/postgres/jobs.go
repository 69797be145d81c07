package postgres

import (
    "context"
    "errors"
    "fmt"
    "strings"
    "time"

    "github.com/jackc/pgx/v5"

    "github.com/odomlab/odom-data-processing/internal/domain"
)

const chainColumns = `id, kind, lane_id, run_number, library, genome, job_ids, marker, status, submitted_at, completed_at`

func scanChain(row pgx.Row) (domain.JobChain, error) {
    var c domain.JobChain
    var kind, status, jobIDs string
    err := row.Scan(&c.ID, &kind, &c.LaneID, &c.RunNumber, &c.Library, &c.Genome, &jobIDs, &c.Marker, &status, &c.SubmittedAt, &c.CompletedAt)
    c.Kind = domain.ChainKind(kind)
    c.Status = domain.ChainStatus(status)
    if jobIDs != "" { c.JobIDs = strings.Split(jobIDs, ",") }
    return c, err
}

func (db *DB) RecordJobChain(ctx context.Context, c domain.JobChain) error {
    if c.Status == "" { c.Status = domain.ChainPending }
    _, err := db.Pool.Exec(ctx, `
        INSERT INTO job_chains (id, kind, lane_id, run_number, library, genome, job_ids, marker, status, submitted_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    `, c.ID, string(c.Kind), c.LaneID, c.RunNumber, c.Library, c.Genome, strings.Join(c.JobIDs, ","), c.Marker, string(c.Status), c.SubmittedAt)
    return err
}

func (db *DB) PendingJobChains(ctx context.Context) ([]domain.JobChain, error) {
    rows, err := db.Pool.Query(ctx, `SELECT `+chainColumns+` FROM job_chains WHERE status = 'pending' ORDER BY submitted_at`)
    if err != nil { return nil, err }
    defer rows.Close()
    var out []domain.JobChain
    for rows.Next() {
        c, err := scanChain(rows)
        if err != nil { return nil, err }
        out = append(out, c)
    }
    return out, rows.Err()
}

func (db *DB) PendingChainForLane(ctx context.Context, laneID int64, kind domain.ChainKind) (domain.JobChain, bool, error) {
    c, err := scanChain(db.Pool.QueryRow(ctx, `
        SELECT `+chainColumns+` FROM job_chains
        WHERE lane_id = $1 AND kind = $2 AND status = 'pending'
        ORDER BY submitted_at DESC LIMIT 1
    `, laneID, string(kind)))
    if errors.Is(err, pgx.ErrNoRows) { return c, false, nil }
    if err != nil { return c, false, err }
    return c, true, nil
}

func (db *DB) FindJobChainByMarker(ctx context.Context, marker string) (domain.JobChain, error) {
    c, err := scanChain(db.Pool.QueryRow(ctx, `
        SELECT `+chainColumns+` FROM job_chains WHERE marker = $1
        ORDER BY (status = 'pending') DESC, submitted_at DESC LIMIT 1
    `, marker))
    if errors.Is(err, pgx.ErrNoRows) {
        return c, fmt.Errorf("job chain for marker %s: %w", marker, domain.ErrNotFound)
    }
    return c, err
}

func (db *DB) CompleteJobChains(ctx context.Context, marker string, at time.Time) (int, error) {
    tag, err := db.Pool.Exec(ctx, `
        UPDATE job_chains SET status = 'complete', completed_at = $2 WHERE marker = $1 AND status = 'pending'
    `, marker, at)
    if err != nil { return 0, err }
    return int(tag.RowsAffected()), nil
}
