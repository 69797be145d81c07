package postgres

import (
    "context"
    "errors"
    "fmt"
    "sort"
    "time"

    "github.com/jackc/pgx/v5"

    "github.com/odomlab/odom-data-processing/internal/domain"
    "github.com/odomlab/odom-data-processing/internal/ports"
)

const laneColumns = `l.id, b.code, l.run_number, l.flowcell, l.flowlane, l.facility, l.lane_num, l.status, l.status_updated_at`

func scanLane(row pgx.Row) (domain.Lane, error) {
    var l domain.Lane
    var status string
    err := row.Scan(&l.ID, &l.Library, &l.RunNumber, &l.Flowcell, &l.Flowlane, &l.Facility, &l.LaneNum, &status, &l.StatusUpdatedAt)
    l.Status = domain.LaneStatus(status)
    return l, err
}

func collectLanes(rows pgx.Rows) ([]domain.Lane, error) {
    defer rows.Close()
    var out []domain.Lane
    for rows.Next() {
        l, err := scanLane(rows)
        if err != nil { return nil, err }
        out = append(out, l)
    }
    return out, rows.Err()
}

func laneKeyString(k domain.LaneKey) string {
    return fmt.Sprintf("%s|%d|%s", k.RunNumber, k.Flowlane, k.Library)
}

// EnsureLanes creates the missing lanes. Numbering holds the library row lock
// so concurrent callers never hand out the same lane_num; libraries are
// locked in code order.
func (db *DB) EnsureLanes(ctx context.Context, lanes []domain.Lane) (err error) {
    ordered := append([]domain.Lane(nil), lanes...)
    sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Library < ordered[j].Library })

    tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
    if err != nil { return err }
    defer func() {
        if err != nil { _ = tx.Rollback(ctx) } else { err = tx.Commit(ctx) }
    }()
    for _, l := range ordered {
        var libID int64
        err = tx.QueryRow(ctx, `SELECT id FROM libraries WHERE code = $1 FOR UPDATE`, l.Library).Scan(&libID)
        if errors.Is(err, pgx.ErrNoRows) {
            err = nil
            continue
        }
        if err != nil { return fmt.Errorf("lock library %s: %w", l.Library, err) }
        if _, err = tx.Exec(ctx, `
            INSERT INTO lanes (library_id, run_number, flowcell, flowlane, facility, lane_num, status)
            VALUES ($1, $2, $3, $4, $5,
                    COALESCE((SELECT MAX(lane_num) FROM lanes WHERE library_id = $1 AND facility = $5), 0) + 1,
                    'ready')
            ON CONFLICT (run_number, flowlane, library_id) DO NOTHING
        `, libID, l.RunNumber, l.Flowcell, l.Flowlane, l.Facility); err != nil {
            return fmt.Errorf("ensure lane %s/%d/%s: %w", l.RunNumber, l.Flowlane, l.Library, err)
        }
    }
    return nil
}

// ClaimReadyLanes locks the matching ready lanes with SKIP LOCKED and marks
// them for processing in the same transaction, so concurrent invocations
// never claim the same lane.
func (db *DB) ClaimReadyLanes(ctx context.Context, req ports.ClaimRequest) (lanes []domain.Lane, err error) {
    tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
    if err != nil { return nil, err }
    defer func() {
        if err != nil { _ = tx.Rollback(ctx) } else { err = tx.Commit(ctx) }
    }()

    keys := make([]string, 0, len(req.Keys))
    for _, k := range req.Keys {
        keys = append(keys, laneKeyString(k))
    }
    rows, err := tx.Query(ctx, `
        SELECT `+laneColumns+`
        FROM lanes l JOIN libraries b ON b.id = l.library_id
        WHERE l.status = $1 AND l.facility = $2
          AND (cardinality($3::text[]) = 0 OR l.run_number || '|' || l.flowlane || '|' || b.code = ANY($3::text[]))
        ORDER BY l.run_number, l.flowlane, b.code
        FOR UPDATE OF l SKIP LOCKED
    `, string(domain.StatusReady), req.Facility, keys)
    if err != nil { return nil, err }
    lanes, err = collectLanes(rows)
    if err != nil || len(lanes) == 0 { return nil, err }

    ids := make([]int64, len(lanes))
    for i := range lanes {
        ids[i] = lanes[i].ID
    }
    now := time.Now().UTC()
    if _, err = tx.Exec(ctx, `
        UPDATE lanes SET status = $2, status_updated_at = $3 WHERE id = ANY($1::bigint[])
    `, ids, string(domain.StatusMarked), now); err != nil {
        return nil, err
    }
    for i := range lanes {
        lanes[i].Status = domain.StatusMarked
        lanes[i].StatusUpdatedAt = now
    }
    return lanes, nil
}

func (db *DB) ReleaseLanes(ctx context.Context, laneIDs []int64) (int, error) {
    if len(laneIDs) == 0 { return 0, nil }
    tag, err := db.Pool.Exec(ctx, `
        UPDATE lanes SET status = $2, status_updated_at = $3 WHERE id = ANY($1::bigint[]) AND status = $4
    `, laneIDs, string(domain.StatusReady), time.Now().UTC(), string(domain.StatusMarked))
    if err != nil { return 0, err }
    return int(tag.RowsAffected()), nil
}

func (db *DB) findLane(ctx context.Context, where string, args ...any) (domain.Lane, error) {
    l, err := scanLane(db.Pool.QueryRow(ctx, `
        SELECT `+laneColumns+` FROM lanes l JOIN libraries b ON b.id = l.library_id WHERE `+where, args...))
    if errors.Is(err, pgx.ErrNoRows) {
        return l, domain.ErrNotFound
    }
    return l, err
}

func (db *DB) FindLane(ctx context.Context, q domain.LaneLookup) (domain.Lane, error) {
    l, err := db.findLane(ctx, `b.code = $1 AND l.flowcell = $2 AND l.flowlane = $3 AND l.facility = $4`,
        q.Library, q.Flowcell, q.Flowlane, q.Facility)
    if err != nil { return l, fmt.Errorf("lane %s %s:%d (%s): %w", q.Library, q.Flowcell, q.Flowlane, q.Facility, err) }
    return l, nil
}

func (db *DB) FindLaneByNumber(ctx context.Context, library, facility string, laneNum int) (domain.Lane, error) {
    l, err := db.findLane(ctx, `b.code = $1 AND l.facility = $2 AND l.lane_num = $3`, library, facility, laneNum)
    if err != nil { return l, fmt.Errorf("lane %s %s%d: %w", library, facility, laneNum, err) }
    return l, nil
}

func (db *DB) LanesForRun(ctx context.Context, runNumber string) ([]domain.Lane, error) {
    rows, err := db.Pool.Query(ctx, `
        SELECT `+laneColumns+` FROM lanes l JOIN libraries b ON b.id = l.library_id
        WHERE l.run_number = $1 ORDER BY l.flowlane, b.code
    `, runNumber)
    if err != nil { return nil, err }
    return collectLanes(rows)
}

func (db *DB) LanesForLibrary(ctx context.Context, library string) ([]domain.Lane, error) {
    rows, err := db.Pool.Query(ctx, `
        SELECT `+laneColumns+` FROM lanes l JOIN libraries b ON b.id = l.library_id
        WHERE b.code = $1 ORDER BY l.facility, l.lane_num
    `, library)
    if err != nil { return nil, err }
    return collectLanes(rows)
}

func (db *DB) TransitionLane(ctx context.Context, laneID int64, from, to domain.LaneStatus) (bool, error) {
    if !domain.CanAdvance(from, to) {
        return false, fmt.Errorf("lane %d: status may not move from %q to %q", laneID, from, to)
    }
    tag, err := db.Pool.Exec(ctx, `
        UPDATE lanes SET status = $3, status_updated_at = now() WHERE id = $1 AND status = $2
    `, laneID, string(from), string(to))
    if err != nil { return false, err }
    return tag.RowsAffected() == 1, nil
}

func (db *DB) ForceLaneStatus(ctx context.Context, laneID int64, to domain.LaneStatus) error {
    tag, err := db.Pool.Exec(ctx, `UPDATE lanes SET status = $2, status_updated_at = now() WHERE id = $1`, laneID, string(to))
    if err != nil { return err }
    if tag.RowsAffected() == 0 { return fmt.Errorf("lane %d: %w", laneID, domain.ErrNotFound) }
    return nil
}

func (db *DB) AddLaneFile(ctx context.Context, f domain.LaneFile) error {
    _, err := db.Pool.Exec(ctx, `
        INSERT INTO lane_files (lane_id, filename, filetype, checksum, size, readlength)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (lane_id, filename) DO NOTHING
    `, f.LaneID, f.Filename, f.FileType, f.Checksum, f.Size, f.ReadLength)
    return err
}

func (db *DB) LaneFiles(ctx context.Context, laneID int64) ([]domain.LaneFile, error) {
    rows, err := db.Pool.Query(ctx, `
        SELECT id, lane_id, filename, filetype, checksum, size, readlength
        FROM lane_files WHERE lane_id = $1 ORDER BY filename
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
