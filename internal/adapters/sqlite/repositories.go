package sqlite

import (
    "context"
    "database/sql"
    "errors"
    "time"

    "github.com/odomlab/odom-data-processing/internal/domain"
)

const libraryColumns = `id, code, libtype, genome, sample, adapter, adapter_protocol`

func scanLibrary(row scanner) (domain.Library, error) {
    var l domain.Library
    err := row.Scan(&l.ID, &l.Code, &l.LibType, &l.Genome, &l.Sample, &l.Adapter, &l.AdapterProtocol)
    return l, err
}

func (s *Store) Libraries(ctx context.Context, codes []string) (map[string]domain.Library, error) {
    out := make(map[string]domain.Library, len(codes))
    if len(codes) == 0 { return out, nil }
    args := make([]any, len(codes))
    for i, c := range codes {
        args[i] = c
    }
    rows, err := s.db.QueryContext(ctx, `SELECT `+libraryColumns+` FROM libraries WHERE code IN (`+placeholders(len(codes))+`)`, args...)
    if err != nil { return nil, err }
    defer rows.Close()
    for rows.Next() {
        l, err := scanLibrary(rows)
        if err != nil { return nil, err }
        out[l.Code] = l
    }
    return out, rows.Err()
}

func (s *Store) Library(ctx context.Context, code string) (domain.Library, error) {
    l, err := scanLibrary(s.db.QueryRowContext(ctx, `SELECT `+libraryColumns+` FROM libraries WHERE code = ?`, code))
    if err != nil { return l, wrapNotFound(err, "library %s", code) }
    return l, nil
}

// CreateLibrary registers a library. Curators normally do this through the
// repository web front end; the pipeline only uses it for fixtures.
func (s *Store) CreateLibrary(ctx context.Context, l domain.Library) (domain.Library, error) {
    res, err := s.db.ExecContext(ctx, `
        INSERT INTO libraries (code, libtype, genome, sample, adapter, adapter_protocol) VALUES (?, ?, ?, ?, ?, ?)
    `, l.Code, l.LibType, l.Genome, l.Sample, l.Adapter, l.AdapterProtocol)
    if err != nil { return l, err }
    l.ID, err = res.LastInsertId()
    return l, err
}

func (s *Store) FillLibraryAdapter(ctx context.Context, code, protocol, adapter string) (bool, error) {
    res, err := s.db.ExecContext(ctx, `
        UPDATE libraries SET adapter = ?, adapter_protocol = ? WHERE code = ? AND adapter = ''
    `, adapter, protocol, code)
    if err != nil { return false, err }
    n, err := res.RowsAffected()
    return n == 1, err
}

func (s *Store) AlignmentsForLane(ctx context.Context, laneID int64) ([]domain.Alignment, error) {
    rows, err := s.db.QueryContext(ctx, `
        SELECT id, lane_id, genome, mapped_percent, total_reads, mapped_reads, created_at
        FROM alignments WHERE lane_id = ? ORDER BY id
    `, laneID)
    if err != nil { return nil, err }
    var alns []domain.Alignment
    index := map[int64]int{}
    for rows.Next() {
        var a domain.Alignment
        var created int64
        if err := rows.Scan(&a.ID, &a.LaneID, &a.Genome, &a.MappedPercent, &a.TotalReads, &a.MappedReads, &created); err != nil {
            rows.Close()
            return nil, err
        }
        a.CreatedAt = fromMillis(created)
        index[a.ID] = len(alns)
        alns = append(alns, a)
    }
    rows.Close()
    if err := rows.Err(); err != nil { return nil, err }
    if len(alns) == 0 { return nil, nil }

    frows, err := s.db.QueryContext(ctx, `
        SELECT f.id, f.alignment_id, f.filename, f.filetype, f.checksum
        FROM alignment_files f JOIN alignments a ON a.id = f.alignment_id
        WHERE a.lane_id = ? ORDER BY f.filename
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

    qrows, err := s.db.QueryContext(ctx, `
        SELECT q.id, q.alignment_id, q.program, q.kind, q.nsc, q.rsc, q.payload
        FROM qc_reports q JOIN alignments a ON a.id = q.alignment_id
        WHERE a.lane_id = ? ORDER BY q.id
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

func (s *Store) CreateAlignment(ctx context.Context, a domain.Alignment) (domain.Alignment, bool, error) {
    now := time.Now()
    var created int64
    err := s.db.QueryRowContext(ctx, `
        INSERT INTO alignments (lane_id, genome, mapped_percent, total_reads, mapped_reads, created_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT (lane_id, genome) DO NOTHING
        RETURNING id, created_at
    `, a.LaneID, a.Genome, a.MappedPercent, a.TotalReads, a.MappedReads, millis(now)).Scan(&a.ID, &created)
    if err == nil {
        a.CreatedAt = fromMillis(created)
        return a, true, nil
    }
    if !errors.Is(err, sql.ErrNoRows) { return a, false, err }
    err = s.db.QueryRowContext(ctx, `
        SELECT id, mapped_percent, total_reads, mapped_reads, created_at FROM alignments WHERE lane_id = ? AND genome = ?
    `, a.LaneID, a.Genome).Scan(&a.ID, &a.MappedPercent, &a.TotalReads, &a.MappedReads, &created)
    a.CreatedAt = fromMillis(created)
    return a, false, err
}

func (s *Store) AddAlignmentFile(ctx context.Context, f domain.AlnFile) error {
    _, err := s.db.ExecContext(ctx, `
        INSERT INTO alignment_files (alignment_id, filename, filetype, checksum)
        VALUES (?, ?, ?, ?)
        ON CONFLICT (alignment_id, filename) DO NOTHING
    `, f.AlignmentID, f.Filename, f.FileType, f.Checksum)
    return err
}

func (s *Store) AddQCReport(ctx context.Context, r domain.QCReport) error {
    _, err := s.db.ExecContext(ctx, `
        INSERT INTO qc_reports (alignment_id, program, kind, nsc, rsc, payload, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (alignment_id, kind) DO UPDATE
        SET program = excluded.program, nsc = excluded.nsc, rsc = excluded.rsc, payload = excluded.payload, created_at = excluded.created_at
    `, r.AlignmentID, r.Program, r.Kind, r.NSC, r.RSC, r.Payload, millis(time.Now()))
    return err
}

func (s *Store) LastCheck(ctx context.Context, name string) (time.Time, bool, error) {
    var ms int64
    err := s.db.QueryRowContext(ctx, `SELECT checked_at FROM checkpoints WHERE name = ?`, name).Scan(&ms)
    if errors.Is(err, sql.ErrNoRows) { return time.Time{}, false, nil }
    if err != nil { return time.Time{}, false, err }
    return fromMillis(ms), true, nil
}

func (s *Store) SaveCheck(ctx context.Context, name string, at time.Time) error {
    _, err := s.db.ExecContext(ctx, `
        INSERT INTO checkpoints (name, checked_at) VALUES (?, ?)
        ON CONFLICT (name) DO UPDATE SET checked_at = excluded.checked_at
    `, name, millis(at))
    return err
}
