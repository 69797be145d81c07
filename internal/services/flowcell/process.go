package flowcell

import (
    "context"
    "errors"
    "fmt"
    "log/slog"
    "os"
    "path/filepath"
    "sort"
    "strings"
    "time"

    "github.com/odomlab/odom-data-processing/internal/domain"
    "github.com/odomlab/odom-data-processing/internal/fastqname"
    "github.com/odomlab/odom-data-processing/internal/fileutil"
    "github.com/odomlab/odom-data-processing/internal/libcode"
    "github.com/odomlab/odom-data-processing/internal/ports"
    "github.com/odomlab/odom-data-processing/internal/services/watcher"
)

// Repository is the part of the repository a flow cell run touches.
type Repository interface {
    ports.LaneRepository
    ports.LibraryRepository
}

// Options control one flow cell run.
type Options struct {
    // DestDir receives downloaded and demultiplexed files.
    DestDir string
    // Flowlanes restricts the run; empty means every lane.
    Flowlanes []int
    // TestMode reports what would happen without downloading or writing
    // to the repository.
    TestMode bool
    // LibraryCheck refuses the run when a lane library is not registered.
    LibraryCheck bool
    // ForcePrimary proceeds with a run that is only primary complete.
    ForcePrimary bool
    // ForceAll proceeds regardless of the LIMS run status.
    ForceAll bool
    // ForceDownload refetches files and reprocesses lanes already in process.
    ForceDownload bool
    // TrustLimsAdapters fills missing library adapters from the LIMS using
    // the named adapter protocol.
    TrustLimsAdapters string
}

// Result reports how far a run got.
type Result struct {
    RunID    string
    Flowcell string
    State    domain.RunState
    Files    []string
    Groups   []PairGroup
    // Skipped lists flowlanes left alone because they were already in
    // process or beyond.
    Skipped []int
}

// RetryPolicy bounds download attempts.
type RetryPolicy struct {
    Attempts int
    Sleep    time.Duration
}

type Process struct {
    lims     ports.Lims
    repo     Repository
    fetcher  ports.Fetcher
    facility string
    retry    RetryPolicy
    demux    Demuxer
    sleep    func(ctx context.Context, d time.Duration) error
    log      *slog.Logger
}

func NewProcess(lims ports.Lims, repo Repository, fetcher ports.Fetcher, facility string, retry RetryPolicy, demux Demuxer, logger *slog.Logger) *Process {
    if logger == nil { logger = slog.Default() }
    if retry.Attempts < 1 { retry.Attempts = 1 }
    return &Process{lims: lims, repo: repo, fetcher: fetcher, facility: facility, retry: retry, demux: demux, sleep: sleepCtx, log: logger}
}

// WithSleep replaces the pause between download attempts.
func (p *Process) WithSleep(fn func(ctx context.Context, d time.Duration) error) *Process {
    p.sleep = fn
    return p
}

func sleepCtx(ctx context.Context, d time.Duration) error {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return ctx.Err()
    case <-t.C:
        return nil
    }
}

func gate(state domain.RunState, opts Options) bool {
    switch state {
    case domain.RunSecondaryComplete:
        return true
    case domain.RunPrimaryComplete:
        return opts.ForcePrimary || opts.ForceAll
    }
    return opts.ForceAll
}

func wanted(flowlane int, only []int) bool {
    if len(only) == 0 { return true }
    for _, l := range only {
        if l == flowlane { return true }
    }
    return false
}

type laneWork struct {
    lims  domain.LimsLane
    codes []string
}

// Run takes a flow cell from the LIMS to a set of paired fastq files in
// opts.DestDir, moving its repository lanes to in process. The result
// carries the state reached even when an error is returned.
func (p *Process) Run(ctx context.Context, runID string, opts Options) (*Result, error) {
    run, err := p.lims.RunInfo(ctx, runID)
    if err != nil { return &Result{RunID: runID}, fmt.Errorf("run %s: %w", runID, err) }
    res := &Result{RunID: runID, Flowcell: run.Flowcell, State: domain.RunStateFromLims(run.Status)}
    if !gate(res.State, opts) {
        return res, fmt.Errorf("run %s is %q: %w", runID, run.Status, domain.ErrRunNotReady)
    }
    log := p.log.With("run", runID, "flowcell", run.Flowcell)

    var work []laneWork
    var all []string
    for _, ll := range run.Lanes {
        if !wanted(ll.Flowlane, opts.Flowlanes) { continue }
        codes, err := watcher.ExpandCodes(ll.LibraryCodes())
        if err != nil { return res, fmt.Errorf("run %s lane %d: %w", runID, ll.Flowlane, err) }
        work = append(work, laneWork{lims: ll, codes: codes})
        all = append(all, codes...)
    }
    known, err := p.repo.Libraries(ctx, all)
    if err != nil { return res, err }
    if opts.LibraryCheck {
        var missing []string
        for _, c := range all {
            if _, ok := known[c]; !ok { missing = append(missing, c) }
        }
        if len(missing) > 0 {
            sort.Strings(missing)
            return res, fmt.Errorf("run %s: %w", runID, &domain.MissingLibrariesError{Codes: missing})
        }
    }
    if opts.TrustLimsAdapters != "" && !opts.TestMode {
        if err := p.fillAdapters(ctx, work, known, opts.TrustLimsAdapters); err != nil { return res, err }
    }

    lanes, err := p.repositoryLanes(ctx, run, work, known, opts)
    if err != nil { return res, err }

    var files []string
    for _, w := range work {
        if !opts.ForceDownload && laneStarted(lanes, w.lims.Flowlane) {
            log.Info("lane already in process, skipping", "flowlane", w.lims.Flowlane)
            res.Skipped = append(res.Skipped, w.lims.Flowlane)
            continue
        }
        got, err := p.fetchLane(ctx, run, w, opts)
        if err != nil { return res, err }
        files = append(files, got...)
    }
    res.State = domain.RunDownloaded
    res.Files = files

    if !opts.TestMode {
        for _, l := range lanes {
            if !wanted(l.Flowlane, opts.Flowlanes) || contains(res.Skipped, l.Flowlane) { continue }
            if l.Status.AtLeast(domain.StatusInProcess) || l.Status == domain.StatusFailed { continue }
            ok, err := p.repo.TransitionLane(ctx, l.ID, l.Status, domain.StatusInProcess)
            if err != nil { return res, err }
            if !ok { log.Warn("lane status changed concurrently", "lane", l.ID, "library", l.Library) }
        }
    }

    groups, err := PairFiles(files)
    if err != nil { return res, err }
    res.Groups = groups
    res.State = domain.RunPaired
    log.Info("flow cell downloaded and paired", "files", len(files), "groups", len(groups), "skipped", len(res.Skipped))
    return res, nil
}

func contains(xs []int, x int) bool {
    for _, v := range xs {
        if v == x { return true }
    }
    return false
}

// laneStarted reports whether every repository lane on the flowlane has
// already reached in process.
func laneStarted(lanes []domain.Lane, flowlane int) bool {
    seen := false
    for _, l := range lanes {
        if l.Flowlane != flowlane { continue }
        seen = true
        if !l.Status.AtLeast(domain.StatusInProcess) { return false }
    }
    return seen
}

func (p *Process) repositoryLanes(ctx context.Context, run domain.LimsRun, work []laneWork, known map[string]domain.Library, opts Options) ([]domain.Lane, error) {
    if !opts.TestMode {
        var ensure []domain.Lane
        for _, w := range work {
            for _, c := range w.codes {
                if _, ok := known[c]; !ok { continue }
                ensure = append(ensure, domain.Lane{Library: c, RunNumber: run.RunID, Flowcell: run.Flowcell, Flowlane: w.lims.Flowlane, Facility: p.facility})
            }
        }
        if err := p.repo.EnsureLanes(ctx, ensure); err != nil { return nil, err }
    }
    lanes, err := p.repo.LanesForRun(ctx, run.RunID)
    if err != nil { return nil, err }
    out := lanes[:0]
    for _, l := range lanes {
        if l.Facility == p.facility { out = append(out, l) }
    }
    return out, nil
}

func (p *Process) fillAdapters(ctx context.Context, work []laneWork, known map[string]domain.Library, protocol string) error {
    for _, w := range work {
        for _, lib := range w.lims.Libraries {
            if lib.Adapter == "" { continue }
            if _, ok := known[lib.Code]; !ok { continue }
            set, err := p.repo.FillLibraryAdapter(ctx, lib.Code, protocol, lib.Adapter)
            if err != nil { return err }
            if set { p.log.Info("library adapter filled from lims", "library", lib.Code, "adapter", lib.Adapter) }
        }
    }
    return nil
}

// fetchLane downloads the lane's fastq files and splits multiplexed ones.
// It returns the per-library fastq paths.
func (p *Process) fetchLane(ctx context.Context, run domain.LimsRun, w laneWork, opts Options) ([]string, error) {
    var out []string
    for _, lf := range w.lims.Files {
        in, err := fastqname.ParseIncomingFastqName(lf.Filename)
        if err != nil {
            p.log.Debug("ignoring non-fastq lims file", "file", lf.Filename)
            continue
        }
        dest := filepath.Join(opts.DestDir, filepath.Base(lf.Filename))
        if opts.TestMode {
            p.log.Info("would download", "url", lf.URL, "dest", dest)
        } else if err := p.download(ctx, lf, dest, opts.ForceDownload); err != nil {
            return nil, err
        }

        if !libcode.IsMultiplexed(in.Sample) {
            out = append(out, dest)
            continue
        }
        split, err := p.split(dest, in, w.lims, opts)
        if err != nil { return nil, err }
        out = append(out, split...)
    }
    return out, nil
}

func (p *Process) split(src string, in fastqname.Incoming, ll domain.LimsLane, opts Options) ([]string, error) {
    codes, err := libcode.Expand(in.Sample)
    if err != nil { return nil, fmt.Errorf("demultiplex %s: %w", src, err) }
    lims := map[string]string{}
    for _, lib := range ll.Libraries {
        lims[lib.Code] = lib.Barcode
    }
    barcodes := map[string]string{}
    for _, c := range codes {
        barcodes[c] = lims[c]
    }
    outPath := func(code string) string {
        name := fastqname.BuildIncomingFastqName(code, in.Flowcell, in.Flowlane, in.Flowpair) + fastqname.GzipExt
        return filepath.Join(opts.DestDir, name)
    }
    if opts.TestMode {
        var out []string
        for _, c := range codes {
            p.log.Info("would demultiplex", "src", src, "library", c, "dest", outPath(c))
            out = append(out, outPath(c))
        }
        return out, nil
    }
    written, counts, err := p.demux.Split(src, barcodes, outPath)
    if err != nil { return nil, err }
    var out []string
    for _, c := range codes {
        if f, ok := written[c]; ok { out = append(out, f) }
    }
    p.log.Info("demultiplexed", "src", filepath.Base(src), "libraries", len(out), "undetermined", counts[Undetermined])
    return out, nil
}

// download fetches lf into dest unless a verified copy is already there.
// Failures are retried under the retry policy and reported as a
// DownloadError.
func (p *Process) download(ctx context.Context, lf domain.LimsFile, dest string, force bool) error {
    if !force {
        if _, err := os.Stat(dest); err == nil {
            if lf.MD5 == "" { return nil }
            if sum, err := fileutil.RawChecksum(dest); err == nil && strings.EqualFold(sum, lf.MD5) { return nil }
            p.log.Warn("existing file checksum mismatch, refetching", "file", dest)
        }
    }
    var lastErr error
    for attempt := 1; attempt <= p.retry.Attempts; attempt++ {
        lastErr = p.fetchOnce(ctx, lf, dest)
        if lastErr == nil { return nil }
        if errors.Is(lastErr, context.Canceled) { break }
        p.log.Warn("download failed", "url", lf.URL, "attempt", attempt, "attempts", p.retry.Attempts, "error", lastErr)
        if attempt == p.retry.Attempts { break }
        if err := p.sleep(ctx, p.retry.Sleep); err != nil {
            lastErr = err
            break
        }
    }
    return &domain.DownloadError{File: filepath.Base(dest), Attempts: p.retry.Attempts, Err: lastErr}
}

func (p *Process) fetchOnce(ctx context.Context, lf domain.LimsFile, dest string) error {
    if _, err := p.fetcher.Fetch(ctx, lf.URL, dest); err != nil { return err }
    if lf.MD5 == "" { return nil }
    sum, err := fileutil.RawChecksum(dest)
    if err != nil { return err }
    if !strings.EqualFold(sum, lf.MD5) {
        os.Remove(dest)
        return fmt.Errorf("checksum mismatch for %s: got %s, want %s", filepath.Base(dest), sum, lf.MD5)
    }
    return nil
}
