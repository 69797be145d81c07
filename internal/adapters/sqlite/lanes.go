package sqlite

import (
    "context"
    "database/sql"
    "fmt"
    "time"

    "github.com/odomlab/odom-data-processing/internal/domain"
    "github.com/odomlab/odom-data-processing/internal/ports"
)

const laneColumns = `l.id, b.code, l.run_number, l.flowcell, l.flowlane, l.facility, l.lane_num, l.status, l.status_updated_at`

type scanner interface{ Scan(dest ...any) error }

func scanLane(row scanner) (domain.Lane, error) {
    var l domain.Lane
    var status string
    var updated int64
    err := row.Scan(&l.ID, &l.Library, &l.RunNumber, &l.Flowcell, &l.Flowlane, &l.Facility, &l.LaneNum, &status, &updated)
    l.Status = domain.LaneStatus(status)
    l.StatusUpdatedAt = fromMillis(updated)
    return l, err
}

func collectLanes(rows *sql.Rows) ([]domain.Lane, error) {
    defer rows.Close()
    var out []domain.Lane
    for rows.Next() {
        l, err := scanLane(rows)
        if err != nil { return nil, err }
        out = append(out, l)
    }
    return out, rows.Err()
}

func (s *Store) EnsureLanes(ctx context.Context, lanes []domain.Lane) error {
    now := millis(time.Now())
    return s.withTx(ctx, func(tx *sql.Tx) error {
        for _, l := range lanes {
            if _, err := tx.ExecContext(ctx, `
                INSERT INTO lanes (library_id, run_number, flowcell, flowlane, facility, lane_num, status, status_updated_at, created_at)
                SELECT b.id, ?, ?, ?, ?,
                       COALESCE((SELECT MAX(lane_num) FROM lanes WHERE library_id = b.id AND facility = ?), 0) + 1,
                       'ready', ?, ?
                FROM libraries b WHERE b.code = ?
                ON CONFLICT DO NOTHING
            `, l.RunNumber, l.Flowcell, l.Flowlane, l.Facility, l.Facility, now, now, l.Library); err != nil {
                return fmt.Errorf("ensure lane %s/%d/%s: %w", l.RunNumber, l.Flowlane, l.Library, err)
            }
        }
        return nil
    })
}

// ClaimReadyLanes reads and updates inside one IMMEDIATE transaction, which
// serialises concurrent claimers on the database write lock.
func (s *Store) ClaimReadyLanes(ctx context.Context, req ports.ClaimRequest) (lanes []domain.Lane, err error) {
    err = s.withTx(ctx, func(tx *sql.Tx) error {
        query := `SELECT ` + laneColumns + ` FROM lanes l JOIN libraries b ON b.id = l.library_id
            WHERE l.status = ? AND l.facility = ?`
        args := []any{string(domain.StatusReady), req.Facility}
        if len(req.Keys) > 0 {
            query += ` AND l.run_number || '|' || l.flowlane || '|' || b.code IN (` + placeholders(len(req.Keys)) + `)`
            for _, k := range req.Keys {
                args = append(args, fmt.Sprintf("%s|%d|%s", k.RunNumber, k.Flowlane, k.Library))
            }
        }
        query += ` ORDER BY l.run_number, l.flowlane, b.code`
        rows, err := tx.QueryContext(ctx, query, args...)
        if err != nil { return err }
        lanes, err = collectLanes(rows)
        if err != nil || len(lanes) == 0 { return err }

        now := time.Now().UTC()
        ids := make([]any, 0, len(lanes)+2)
        ids = append(ids, string(domain.StatusMarked), millis(now))
        for _, l := range lanes {
            ids = append(ids, l.ID)
        }
        if _, err := tx.ExecContext(ctx, `UPDATE lanes SET status = ?, status_updated_at = ? WHERE id IN (`+placeholders(len(lanes))+`)`, ids...); err != nil {
            return err
        }
        for i := range lanes {
            lanes[i].Status = domain.StatusMarked
            lanes[i].StatusUpdatedAt = fromMillis(millis(now))
        }
        return nil
    })
    if err != nil { return nil, err }
    return lanes, nil
}

func (s *Store) ReleaseLanes(ctx context.Context, laneIDs []int64) (int, error) {
    if len(laneIDs) == 0 { return 0, nil }
    args := []any{string(domain.StatusReady), millis(time.Now()), string(domain.StatusMarked)}
    for _, id := range laneIDs {
        args = append(args, id)
    }
    res, err := s.db.ExecContext(ctx, `
        UPDATE lanes SET status = ?, status_updated_at = ? WHERE status = ? AND id IN (`+placeholders(len(laneIDs))+`)
    `, args...)
    if err != nil { return 0, err }
    n, err := res.RowsAffected()
    return int(n), err
}

func (s *Store) findLane(ctx context.Context, where string, args ...any) (domain.Lane, error) {
    return scanLane(s.db.QueryRowContext(ctx, `
        SELECT `+laneColumns+` FROM lanes l JOIN libraries b ON b.id = l.library_id WHERE `+where, args...))
}

func (s *Store) FindLane(ctx context.Context, q domain.LaneLookup) (domain.Lane, error) {
    l, err := s.findLane(ctx, `b.code = ? AND l.flowcell = ? AND l.flowlane = ? AND l.facility = ?`,
        q.Library, q.Flowcell, q.Flowlane, q.Facility)
    if err != nil { return l, wrapNotFound(err, "lane %s %s:%d (%s)", q.Library, q.Flowcell, q.Flowlane, q.Facility) }
    return l, nil
}

func (s *Store) FindLaneByNumber(ctx context.Context, library, facility string, laneNum int) (domain.Lane, error) {
    l, err := s.findLane(ctx, `b.code = ? AND l.facility = ? AND l.lane_num = ?`, library, facility, laneNum)
    if err != nil { return l, wrapNotFound(err, "lane %s %s%d", library, facility, laneNum) }
    return l, nil
}

func (s *Store) LanesForRun(ctx context.Context, runNumber string) ([]domain.Lane, error) {
    rows, err := s.db.QueryContext(ctx, `
        SELECT `+laneColumns+` FROM lanes l JOIN libraries b ON b.id = l.library_id
        WHERE l.run_number = ? ORDER BY l.flowlane, b.code
    `, runNumber)
    if err != nil { return nil, err }
    return collectLanes(rows)
}

func (s *Store) LanesForLibrary(ctx context.Context, library string) ([]domain.Lane, error) {
    rows, err := s.db.QueryContext(ctx, `
        SELECT `+laneColumns+` FROM lanes l JOIN libraries b ON b.id = l.library_id
        WHERE b.code = ? ORDER BY l.facility, l.lane_num
    `, library)
    if err != nil { return nil, err }
    return collectLanes(rows)
}

func (s *Store) TransitionLane(ctx context.Context, laneID int64, from, to domain.LaneStatus) (bool, error) {
    if !domain.CanAdvance(from, to) {
        return false, fmt.Errorf("lane %d: status may not move from %q to %q", laneID, from, to)
    }
    res, err := s.db.ExecContext(ctx, `
        UPDATE lanes SET status = ?, status_updated_at = ? WHERE id = ? AND status = ?
    `, string(to), millis(time.Now()), laneID, string(from))
    if err != nil { return false, err }
    n, err := res.RowsAffected()
    return n == 1, err
}

func (s *Store) ForceLaneStatus(ctx context.Context, laneID int64, to domain.LaneStatus) error {
    res, err := s.db.ExecContext(ctx, `UPDATE lanes SET status = ?, status_updated_at = ? WHERE id = ?`, string(to), millis(time.Now()), laneID)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return fmt.Errorf("lane %d: %w", laneID, domain.ErrNotFound) }
    return nil
}

func (s *Store) AddLaneFile(ctx context.Context, f domain.LaneFile) error {
    _, err := s.db.ExecContext(ctx, `
        INSERT INTO lane_files (lane_id, filename, filetype, checksum, size, readlength, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (lane_id, filename) DO NOTHING
    `, f.LaneID, f.Filename, f.FileType, f.Checksum, f.Size, f.ReadLength, millis(time.Now()))
    return err
}

func (s *Store) LaneFiles(ctx context.Context, laneID int64) ([]domain.LaneFile, error) {
    rows, err := s.db.QueryContext(ctx, `
        SELECT id, lane_id, filename, filetype, checksum, size, readlength
        FROM lane_files WHERE lane_id = ? ORDER BY filename
    `, laneID)
    if err != nil { return nil, err }
    defer rows.Close()
    var out []domain.LaneFile
    for rows.Next() {
        var f domain.LaneFile
        if err := rows.Scan(&f.ID, &f.LaneID, &f.Filename, &f.FileType, &f.Checksum, &f.Size, &f.ReadLength); err != nil { return nil, err }
        out = append(out, f)
    }
    return out, rows.Err()
}
