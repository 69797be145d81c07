package pipeline

import (
    "bufio"
    "context"
    "errors"
    "fmt"
    "log/slog"
    "os"
    "path/filepath"
    "sort"
    "strconv"
    "strings"
    "time"

    "github.com/odomlab/odom-data-processing/internal/domain"
    "github.com/odomlab/odom-data-processing/internal/fastqname"
    "github.com/odomlab/odom-data-processing/internal/fileutil"
    "github.com/odomlab/odom-data-processing/internal/metrics"
    "github.com/odomlab/odom-data-processing/internal/ports"
    "github.com/odomlab/odom-data-processing/internal/services/alignment"
    "github.com/odomlab/odom-data-processing/internal/services/fileproc"
)

// Reconciler registers the results of finished job chains. A chain reports
// completion by leaving "<artefact>.done" in the alignments delivery
// directory; the marker is removed only after everything else succeeded, so
// an interrupted reconciliation is simply repeated.
type Reconciler struct {
    repo     ports.Repository
    dir      string
    repoDir  string
    facility string
    timeout  time.Duration
    now      func() time.Time
    log      *slog.Logger
}

func NewReconciler(repo ports.Repository, incomingDir, repoDir, facility string, chainTimeout time.Duration, logger *slog.Logger) *Reconciler {
    if logger == nil { logger = slog.Default() }
    return &Reconciler{
        repo: repo, dir: filepath.Join(incomingDir, alignment.AlignmentsDir), repoDir: repoDir,
        facility: facility, timeout: chainTimeout, now: time.Now, log: logger,
    }
}

type ReconcileSummary struct {
    Alignments int
    Reports    int
    Stale      []domain.JobChain
}

// Reconcile processes every marker present and then reports pending chains
// older than the chain timeout.
func (r *Reconciler) Reconcile(ctx context.Context) (ReconcileSummary, error) {
    var sum ReconcileSummary
    markers, err := filepath.Glob(filepath.Join(r.dir, "*"+alignment.MarkerExt))
    if err != nil { return sum, err }
    sort.Strings(markers)

    var errs []error
    for _, m := range markers {
        if err := ctx.Err(); err != nil { return sum, err }
        kind, err := r.reconcileMarker(ctx, filepath.Base(m))
        if err != nil {
            r.log.Error("reconcile failed", "marker", filepath.Base(m), "error", err)
            errs = append(errs, fmt.Errorf("%s: %w", filepath.Base(m), err))
            continue
        }
        if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) { errs = append(errs, err) }
        switch kind {
        case domain.ChainXcor:
            sum.Reports++
        default:
            sum.Alignments++
            metrics.AlignmentsReconciled.Inc()
        }
    }

    pending, err := r.repo.PendingJobChains(ctx)
    if err != nil { return sum, errors.Join(append(errs, err)...) }
    metrics.PendingChains.Set(float64(len(pending)))
    for _, c := range pending {
        if r.timeout > 0 && r.now().Sub(c.SubmittedAt) > r.timeout {
            sum.Stale = append(sum.Stale, c)
            r.log.Warn("job chain overdue", "chain", c.ID, "kind", c.Kind, "library", c.Library, "run", c.RunNumber,
                "jobs", c.JobIDs, "submitted", c.SubmittedAt)
        }
    }
    r.log.Info("reconciliation finished", "alignments", sum.Alignments, "reports", sum.Reports, "pending", len(pending), "stale", len(sum.Stale))
    return sum, errors.Join(errs...)
}

func (r *Reconciler) reconcileMarker(ctx context.Context, marker string) (domain.ChainKind, error) {
    artefact := strings.TrimSuffix(marker, alignment.MarkerExt)
    chain, err := r.repo.FindJobChainByMarker(ctx, marker)
    var c *domain.JobChain
    switch {
    case err == nil:
        c = &chain
    case errors.Is(err, domain.ErrNotFound):
        r.log.Warn("no job chain recorded for marker, resolving from filename", "marker", marker)
    default:
        return "", err
    }

    switch {
    case strings.HasSuffix(artefact, alignment.XcorExt):
        return domain.ChainXcor, r.reconcileXcor(ctx, artefact, c)
    case strings.HasSuffix(artefact, alignment.BamExt):
        return domain.ChainAlignment, r.reconcileBam(ctx, artefact, c)
    }
    return "", fmt.Errorf("%w: %s", domain.ErrUnrecognisedFilename, marker)
}

// resolve finds the lane and genome an artefact belongs to.
func (r *Reconciler) resolve(ctx context.Context, bam string, c *domain.JobChain) (domain.Lane, string, error) {
    name, err := fastqname.ParseRepositoryFilename(bam)
    if err != nil { return domain.Lane{}, "", err }
    lane, err := r.repo.FindLaneByNumber(ctx, name.Library, name.Facility, name.LaneNum)
    if err != nil { return domain.Lane{}, "", err }
    if c != nil && c.Genome != "" { return lane, c.Genome, nil }
    lib, err := r.repo.Library(ctx, lane.Library)
    if err != nil { return domain.Lane{}, "", err }
    return lane, lib.Genome, nil
}

// place moves a delivered file into the library's repository directory and
// returns its new path. A file already moved by an earlier attempt is found
// at its destination.
func (r *Reconciler) place(library, name string) (string, error) {
    src := filepath.Join(r.dir, name)
    dest := filepath.Join(fileproc.LibraryDir(r.repoDir, library), name)
    if _, err := os.Stat(src); err == nil {
        return dest, fileutil.MoveFile(src, dest)
    }
    if _, err := os.Stat(dest); err != nil { return "", fmt.Errorf("%s not delivered: %w", name, err) }
    return dest, nil
}

func (r *Reconciler) reconcileBam(ctx context.Context, bam string, c *domain.JobChain) error {
    lane, genome, err := r.resolve(ctx, bam, c)
    if err != nil { return err }
    base := strings.TrimSuffix(bam, alignment.BamExt)
    log := r.log.With("lane", lane.ID, "library", lane.Library, "genome", genome)

    statsPath, err := r.place(lane.Library, base+alignment.FlagstatExt)
    if err != nil { return err }
    stats, err := ParseFlagstat(statsPath)
    if err != nil { return err }
    aln, created, err := r.repo.CreateAlignment(ctx, domain.Alignment{
        LaneID: lane.ID, Genome: genome, MappedPercent: stats.MappedPercent(), TotalReads: stats.Total, MappedReads: stats.Mapped,
    })
    if err != nil { return err }
    if !created { log.Info("alignment already registered, attaching files") }

    bamPath, err := r.place(lane.Library, bam)
    if err != nil { return err }
    sum, err := fileutil.Checksum(bamPath)
    if err != nil { return err }
    if err := r.repo.AddAlignmentFile(ctx, domain.AlnFile{AlignmentID: aln.ID, Filename: bam, FileType: domain.FileTypeBam, Checksum: sum}); err != nil { return err }

    if _, err := os.Stat(filepath.Join(r.dir, base+alignment.XcorExt)); err == nil {
        if err := r.attachXcor(ctx, lane.Library, base+alignment.XcorExt, aln.ID); err != nil { return err }
    }

    if err := r.completeChains(ctx, c, log); err != nil { return err }
    switch {
    case domain.CanAdvance(lane.Status, domain.StatusComplete):
        if _, err := r.repo.TransitionLane(ctx, lane.ID, lane.Status, domain.StatusComplete); err != nil { return err }
    case lane.Status != domain.StatusComplete:
        log.Warn("alignment delivered for lane that cannot complete", "status", lane.Status)
    }
    log.Info("alignment registered", "bam", bam, "mapped_percent", aln.MappedPercent)
    return nil
}

func (r *Reconciler) attachXcor(ctx context.Context, library, report string, alignmentID int64) error {
    path, err := r.place(library, report)
    if err != nil { return err }
    x, err := ParseXcor(path)
    if err != nil { return err }
    return r.repo.AddQCReport(ctx, domain.QCReport{AlignmentID: alignmentID, Program: "run_spp", Kind: domain.QCKindXcor, NSC: x.NSC, RSC: x.RSC, Payload: x.Line})
}

func (r *Reconciler) reconcileXcor(ctx context.Context, report string, c *domain.JobChain) error {
    bam := strings.TrimSuffix(report, alignment.XcorExt) + alignment.BamExt
    lane, genome, err := r.resolve(ctx, bam, c)
    if err != nil { return err }
    alns, err := r.repo.AlignmentsForLane(ctx, lane.ID)
    if err != nil { return err }
    var target *domain.Alignment
    for i := range alns {
        if alns[i].Genome == genome { target = &alns[i] }
    }
    if target == nil { return fmt.Errorf("lane %d has no %s alignment for %s: %w", lane.ID, genome, report, domain.ErrNotFound) }
    if err := r.attachXcor(ctx, lane.Library, report, target.ID); err != nil { return err }
    if err := r.completeChains(ctx, c, r.log.With("lane", lane.ID)); err != nil { return err }
    r.log.Info("xcor report registered", "lane", lane.ID, "report", report)
    return nil
}

// completeChains closes every pending chain waiting on the marker, including
// chains left behind by a forced resubmission.
func (r *Reconciler) completeChains(ctx context.Context, c *domain.JobChain, log *slog.Logger) error {
    if c == nil { return nil }
    n, err := r.repo.CompleteJobChains(ctx, c.Marker, r.now().UTC())
    if err != nil { return err }
    if n > 1 { log.Info("closed duplicate job chains", "marker", c.Marker, "chains", n) }
    return nil
}

// Flagstat holds the read counts of a samtools flagstat report.
type Flagstat struct {
    Total  int64
    Mapped int64
}

func (f Flagstat) MappedPercent() float64 {
    if f.Total == 0 { return 0 }
    return float64(f.Mapped) * 100 / float64(f.Total)
}

// ParseFlagstat reads the "in total" and "mapped" lines of a flagstat report.
func ParseFlagstat(path string) (Flagstat, error) {
    f, err := os.Open(path)
    if err != nil { return Flagstat{}, err }
    defer f.Close()
    var out Flagstat
    var haveTotal, haveMapped bool
    sc := bufio.NewScanner(f)
    for sc.Scan() {
        line := sc.Text()
        qc, rest, ok := strings.Cut(line, " + ")
        if !ok { continue }
        n, err := strconv.ParseInt(strings.TrimSpace(qc), 10, 64)
        if err != nil { continue }
        _, label, _ := strings.Cut(rest, " ")
        switch {
        case strings.HasPrefix(label, "in total"):
            out.Total, haveTotal = n, true
        case strings.HasPrefix(label, "mapped (") && !haveMapped:
            out.Mapped, haveMapped = n, true
        }
    }
    if err := sc.Err(); err != nil { return Flagstat{}, err }
    if !haveTotal || !haveMapped { return Flagstat{}, fmt.Errorf("%s: not a flagstat report", filepath.Base(path)) }
    return out, nil
}

// Xcor holds the quality coefficients of a run_spp report.
type Xcor struct {
    NSC  float64
    RSC  float64
    Line string
}

// ParseXcor reads the tab-separated run_spp output line; NSC and RSC are
// its ninth and tenth columns.
func ParseXcor(path string) (Xcor, error) {
    b, err := os.ReadFile(path)
    if err != nil { return Xcor{}, err }
    for _, line := range strings.Split(string(b), "\n") {
        line = strings.TrimSpace(line)
        if line == "" { continue }
        cols := strings.Split(line, "\t")
        if len(cols) < 10 { return Xcor{}, fmt.Errorf("%s: expected at least 10 columns, got %d", filepath.Base(path), len(cols)) }
        nsc, err := strconv.ParseFloat(cols[8], 64)
        if err != nil { return Xcor{}, fmt.Errorf("%s: NSC: %w", filepath.Base(path), err) }
        rsc, err := strconv.ParseFloat(cols[9], 64)
        if err != nil { return Xcor{}, fmt.Errorf("%s: RSC: %w", filepath.Base(path), err) }
        return Xcor{NSC: nsc, RSC: rsc, Line: line}, nil
    }
    return Xcor{}, fmt.Errorf("%s: empty report", filepath.Base(path))
}
