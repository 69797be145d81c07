package postgres

import (
    "context"
    "errors"
    "fmt"
    "time"

    "github.com/jackc/pgx/v5"

    "github.com/odomlab/odom-data-processing/internal/domain"
)

const libraryColumns = `id, code, libtype, genome, sample, adapter, adapter_protocol`

func scanLibrary(row pgx.Row) (domain.Library, error) {
    var l domain.Library
    err := row.Scan(&l.ID, &l.Code, &l.LibType, &l.Genome, &l.Sample, &l.Adapter, &l.AdapterProtocol)
    return l, err
}

// LibraryRepository
func (db *DB) Libraries(ctx context.Context, codes []string) (map[string]domain.Library, error) {
    out := make(map[string]domain.Library, len(codes))
    if len(codes) == 0 { return out, nil }
    rows, err := db.Pool.Query(ctx, `SELECT `+libraryColumns+` FROM libraries WHERE code = ANY($1::text[])`, codes)
    if err != nil { return nil, err }
    defer rows.Close()
    for rows.Next() {
        l, err := scanLibrary(rows)
        if err != nil { return nil, err }
        out[l.Code] = l
    }
    return out, rows.Err()
}

func (db *DB) Library(ctx context.Context, code string) (domain.Library, error) {
    l, err := scanLibrary(db.Pool.QueryRow(ctx, `SELECT `+libraryColumns+` FROM libraries WHERE code = $1`, code))
    if errors.Is(err, pgx.ErrNoRows) {
        return l, fmt.Errorf("library %s: %w", code, domain.ErrNotFound)
    }
    return l, err
}

// CreateLibrary registers a library. Curators normally do this through the
// repository web front end; the pipeline only uses it for fixtures.
func (db *DB) CreateLibrary(ctx context.Context, l domain.Library) (domain.Library, error) {
    err := db.Pool.QueryRow(ctx, `
        INSERT INTO libraries (code, libtype, genome, sample, adapter, adapter_protocol)
        VALUES ($1, $2, $3, $4, $5, $6) RETURNING id
    `, l.Code, l.LibType, l.Genome, l.Sample, l.Adapter, l.AdapterProtocol).Scan(&l.ID)
    return l, err
}

func (db *DB) FillLibraryAdapter(ctx context.Context, code, protocol, adapter string) (bool, error) {
    tag, err := db.Pool.Exec(ctx, `
        UPDATE libraries SET adapter = $3, adapter_protocol = $2 WHERE code = $1 AND adapter = ''
    `, code, protocol, adapter)
    if err != nil { return false, err }
    return tag.RowsAffected() == 1, nil
}

// AlignmentRepository
func (db *DB) AlignmentsForLane(ctx context.Context, laneID int64) ([]domain.Alignment, error) {
    rows, err := db.Pool.Query(ctx, `
        SELECT id, lane_id, genome, mapped_percent, total_reads, mapped_reads, created_at
        FROM alignments WHERE lane_id = $1 ORDER BY id
    `, laneID)
    if err != nil { return nil, err }
    var alns []domain.Alignment
    index := map[int64]int{}
    for rows.Next() {
        var a domain.Alignment
        if err := rows.Scan(&a.ID, &a.LaneID, &a.Genome, &a.MappedPercent, &a.TotalReads, &a.MappedReads, &a.CreatedAt); err != nil {
            rows.Close()
            return nil, err
        }
        index[a.ID] = len(alns)
        alns = append(alns, a)
    }
    rows.Close()
    if err := rows.Err(); err != nil { return nil, err }
    if len(alns) == 0 { return nil, nil }

    frows, err := db.Pool.Query(ctx, `
        SELECT f.id, f.alignment_id, f.filename, f.filetype, f.checksum
        FROM alignment_files f JOIN alignments a ON a.id = f.alignment_id
        WHERE a.lane_id = $1 ORDER BY f.filename
    `, laneID)
    if err != nil { return nil, err }
    for frows.Next() {
        var f domain.AlnFile
        if err := frows.Scan(&f.ID, &f.AlignmentID, &f.Filename, &f.FileType, &f.Checksum); err != nil {
            frows.Close()
            return nil, err
        }
        i := index[f.AlignmentID]
        alns[i].Files = append(alns[i].Files, f)
    }
    frows.Close()
    if err := frows.Err(); err != nil { return nil, err }

    qrows, err := db.Pool.Query(ctx, `
        SELECT q.id, q.alignment_id, q.program, q.kind, q.nsc, q.rsc, q.payload
        FROM qc_reports q JOIN alignments a ON a.id = q.alignment_id
        WHERE a.lane_id = $1 ORDER BY q.id
    `, laneID)
    if err != nil { return nil, err }
    defer qrows.Close()
    for qrows.Next() {
        var q domain.QCReport
        if err := qrows.Scan(&q.ID, &q.AlignmentID, &q.Program, &q.Kind, &q.NSC, &q.RSC, &q.Payload); err != nil { return nil, err }
        i := index[q.AlignmentID]
        alns[i].QCReports = append(alns[i].QCReports, q)
    }
    return alns, qrows.Err()
}

func (db *DB) CreateAlignment(ctx context.Context, a domain.Alignment) (domain.Alignment, bool, error) {
    err := db.Pool.QueryRow(ctx, `
        INSERT INTO alignments (lane_id, genome, mapped_percent, total_reads, mapped_reads)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (lane_id, genome) DO NOTHING
        RETURNING id, created_at
    `, a.LaneID, a.Genome, a.MappedPercent, a.TotalReads, a.MappedReads).Scan(&a.ID, &a.CreatedAt)
    if err == nil { return a, true, nil }
    if !errors.Is(err, pgx.ErrNoRows) { return a, false, err }
    err = db.Pool.QueryRow(ctx, `
        SELECT id, mapped_percent, total_reads, mapped_reads, created_at FROM alignments WHERE lane_id = $1 AND genome = $2
    `, a.LaneID, a.Genome).Scan(&a.ID, &a.MappedPercent, &a.TotalReads, &a.MappedReads, &a.CreatedAt)
    return a, false, err
}

func (db *DB) AddAlignmentFile(ctx context.Context, f domain.AlnFile) error {
    _, err := db.Pool.Exec(ctx, `
        INSERT INTO alignment_files (alignment_id, filename, filetype, checksum)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (alignment_id, filename) DO NOTHING
    `, f.AlignmentID, f.Filename, f.FileType, f.Checksum)
    return err
}

func (db *DB) AddQCReport(ctx context.Context, r domain.QCReport) error {
    _, err := db.Pool.Exec(ctx, `
        INSERT INTO qc_reports (alignment_id, program, kind, nsc, rsc, payload)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (alignment_id, kind) DO UPDATE
        SET program = EXCLUDED.program, nsc = EXCLUDED.nsc, rsc = EXCLUDED.rsc, payload = EXCLUDED.payload, created_at = now()
    `, r.AlignmentID, r.Program, r.Kind, r.NSC, r.RSC, r.Payload)
    return err
}

// CheckpointRepository
func (db *DB) LastCheck(ctx context.Context, name string) (time.Time, bool, error) {
    var at time.Time
    err := db.Pool.QueryRow(ctx, `SELECT checked_at FROM checkpoints WHERE name = $1`, name).Scan(&at)
    if errors.Is(err, pgx.ErrNoRows) { return at, false, nil }
    if err != nil { return at, false, err }
    return at, true, nil
}

func (db *DB) SaveCheck(ctx context.Context, name string, at time.Time) error {
    _, err := db.Pool.Exec(ctx, `
        INSERT INTO checkpoints (name, checked_at) VALUES ($1, $2)
        ON CONFLICT (name) DO UPDATE SET checked_at = EXCLUDED.checked_at
    `, name, at)
    return err
}
