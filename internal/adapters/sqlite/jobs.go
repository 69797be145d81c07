package sqlite

import (
    "context"
    "database/sql"
    "errors"
    "strings"
    "time"

    "github.com/odomlab/odom-data-processing/internal/domain"
)

const chainColumns = `id, kind, lane_id, run_number, library, genome, job_ids, marker, status, submitted_at, completed_at`

func scanChain(row scanner) (domain.JobChain, error) {
    var c domain.JobChain
    var kind, status, jobIDs string
    var submitted int64
    var completed sql.NullInt64
    err := row.Scan(&c.ID, &kind, &c.LaneID, &c.RunNumber, &c.Library, &c.Genome, &jobIDs, &c.Marker, &status, &submitted, &completed)
    c.Kind = domain.ChainKind(kind)
    c.Status = domain.ChainStatus(status)
    c.SubmittedAt = fromMillis(submitted)
    if completed.Valid {
        t := fromMillis(completed.Int64)
        c.CompletedAt = &t
    }
    if jobIDs != "" { c.JobIDs = strings.Split(jobIDs, ",") }
    return c, err
}

func (s *Store) RecordJobChain(ctx context.Context, c domain.JobChain) error {
    if c.Status == "" { c.Status = domain.ChainPending }
    _, err := s.db.ExecContext(ctx, `
        INSERT INTO job_chains (id, kind, lane_id, run_number, library, genome, job_ids, marker, status, submitted_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, c.ID, string(c.Kind), c.LaneID, c.RunNumber, c.Library, c.Genome, strings.Join(c.JobIDs, ","), c.Marker, string(c.Status), millis(c.SubmittedAt))
    return err
}

func (s *Store) PendingJobChains(ctx context.Context) ([]domain.JobChain, error) {
    rows, err := s.db.QueryContext(ctx, `SELECT `+chainColumns+` FROM job_chains WHERE status = 'pending' ORDER BY submitted_at`)
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

func (s *Store) PendingChainForLane(ctx context.Context, laneID int64, kind domain.ChainKind) (domain.JobChain, bool, error) {
    c, err := scanChain(s.db.QueryRowContext(ctx, `
        SELECT `+chainColumns+` FROM job_chains
        WHERE lane_id = ? AND kind = ? AND status = 'pending'
        ORDER BY submitted_at DESC LIMIT 1
    `, laneID, string(kind)))
    if errors.Is(err, sql.ErrNoRows) { return c, false, nil }
    if err != nil { return c, false, err }
    return c, true, nil
}

func (s *Store) FindJobChainByMarker(ctx context.Context, marker string) (domain.JobChain, error) {
    c, err := scanChain(s.db.QueryRowContext(ctx, `
        SELECT `+chainColumns+` FROM job_chains WHERE marker = ?
        ORDER BY (status = 'pending') DESC, submitted_at DESC LIMIT 1
    `, marker))
    if err != nil { return c, wrapNotFound(err, "job chain for marker %s", marker) }
    return c, nil
}

func (s *Store) CompleteJobChains(ctx context.Context, marker string, at time.Time) (int, error) {
    res, err := s.db.ExecContext(ctx, `
        UPDATE job_chains SET status = 'complete', completed_at = ? WHERE marker = ? AND status = 'pending'
    `, millis(at), marker)
    if err != nil { return 0, err }
    n, err := res.RowsAffected()
    return int(n), err
}
