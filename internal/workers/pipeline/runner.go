// Package pipeline runs the unattended batch: claim ready lanes, take each
// run through download, pairing and dispatch, then reconcile finished
// cluster jobs.
package pipeline

import (
    "context"
    "errors"
    "fmt"
    "log/slog"
    "sort"
    "strings"
    "sync"
    "sync/atomic"
    "time"

    "github.com/odomlab/odom-data-processing/internal/domain"
    "github.com/odomlab/odom-data-processing/internal/metrics"
    "github.com/odomlab/odom-data-processing/internal/ports"
    "github.com/odomlab/odom-data-processing/internal/services/fileproc"
    "github.com/odomlab/odom-data-processing/internal/services/flowcell"
)

// LimsCheckpoint names the repository checkpoint of the last successful
// LIMS poll.
const LimsCheckpoint = "lims"

type LaneFinder interface {
    FindReadyLanes(ctx context.Context, since time.Time) ([]domain.Lane, error)
    MissingLibraries() []string
}

type RunQuerier interface {
    Query(ctx context.Context, runID string, quiet bool) (flowcell.QueryResult, error)
}

type RunProcessor interface {
    Run(ctx context.Context, runID string, opts flowcell.Options) (*flowcell.Result, error)
}

type FileProcessor interface {
    Run(ctx context.Context, files []string) (fileproc.Outcome, error)
}

type Config struct {
    Facility    string
    IncomingDir string
    Lookback    time.Duration
    // Workers bounds how many runs are processed at once.
    Workers int
}

type Pipeline struct {
    repo     ports.Repository
    finder   LaneFinder
    query    RunQuerier
    process  RunProcessor
    files    FileProcessor
    notifier ports.Notifier
    cfg      Config
    now      func() time.Time
    log      *slog.Logger
}

func New(repo ports.Repository, finder LaneFinder, query RunQuerier, process RunProcessor, files FileProcessor, notifier ports.Notifier, cfg Config, logger *slog.Logger) *Pipeline {
    if logger == nil { logger = slog.Default() }
    if cfg.Workers < 1 { cfg.Workers = 1 }
    return &Pipeline{repo: repo, finder: finder, query: query, process: process, files: files, notifier: notifier, cfg: cfg, now: time.Now, log: logger}
}

type Options struct {
    // RecentOnly claims just the lanes the LIMS reported in this poll
    // instead of every ready lane of the facility.
    RecentOnly bool
    TestMode   bool
}

type RunSummary struct {
    RunID  string
    State  domain.RunState
    Lanes  int
    Groups int
    Err    error
}

type Summary struct {
    Claimed int
    Missing []string
    Runs    []RunSummary
}

// ProcessReadyLanes polls the LIMS, claims ready lanes atomically and
// processes each affected run. Runs are independent: a data problem in one
// is reported and the others continue. A transient failure (LIMS, download,
// transfer, cluster) stops the invocation.
func (p *Pipeline) ProcessReadyLanes(ctx context.Context, opts Options) (Summary, error) {
    var sum Summary
    started := p.now()
    since, ok, err := p.repo.LastCheck(ctx, LimsCheckpoint)
    if err != nil { return sum, err }
    if !ok { since = started.Add(-p.cfg.Lookback) }

    found, err := p.finder.FindReadyLanes(ctx, since)
    if err != nil { return sum, err }
    sum.Missing = p.finder.MissingLibraries()
    if len(sum.Missing) > 0 && !opts.TestMode { p.notifyMissing(ctx, sum.Missing) }

    var claimed []domain.Lane
    if opts.TestMode {
        claimed = found
        p.log.Info("test mode: lanes would be claimed", "lanes", len(found))
    } else {
        if err := p.repo.EnsureLanes(ctx, found); err != nil { return sum, err }
        req := ports.ClaimRequest{Facility: p.cfg.Facility}
        if opts.RecentOnly {
            if len(found) == 0 { return sum, p.repo.SaveCheck(ctx, LimsCheckpoint, started) }
            for _, l := range found {
                req.Keys = append(req.Keys, l.Key())
            }
        }
        claimed, err = p.repo.ClaimReadyLanes(ctx, req)
        if err != nil { return sum, fmt.Errorf("claim ready lanes: %w", err) }
        metrics.LanesClaimed.Add(float64(len(claimed)))
        if err := p.repo.SaveCheck(ctx, LimsCheckpoint, started); err != nil { return sum, err }
    }
    sum.Claimed = len(claimed)
    p.log.Info("ready lanes claimed", "found", len(found), "claimed", len(claimed), "missing_libraries", len(sum.Missing))

    sum.Runs, err = p.processRuns(ctx, groupByRun(claimed), opts)
    return sum, err
}

func groupByRun(lanes []domain.Lane) map[string][]domain.Lane {
    out := map[string][]domain.Lane{}
    for _, l := range lanes {
        out[l.RunNumber] = append(out[l.RunNumber], l)
    }
    return out
}

func (p *Pipeline) notifyMissing(ctx context.Context, codes []string) {
    body := "Data for the following libraries is available in the LIMS, but the\n" +
        "library has not yet been entered in the repository:\n" + strings.Join(codes, "\n") + "\n"
    if err := p.notifier.EmailAdmins(ctx, "Libraries to be loaded", body); err != nil {
        p.log.Error("missing library notification failed", "error", err)
    }
}

// processRuns feeds runs to a fixed pool of workers. After the first
// transient failure no further run is started; runs already in flight are
// left to finish.
func (p *Pipeline) processRuns(ctx context.Context, runs map[string][]domain.Lane, opts Options) ([]RunSummary, error) {
    ids := make([]string, 0, len(runs))
    for id := range runs {
        ids = append(ids, id)
    }
    sort.Strings(ids)

    jobs := make(chan string)
    results := make([]RunSummary, len(ids))
    index := map[string]int{}
    for i, id := range ids {
        index[id] = i
    }
    var halted atomic.Bool

    var wg sync.WaitGroup
    for i := 0; i < p.cfg.Workers; i++ {
        wg.Add(1)
        go func(worker int) {
            defer wg.Done()
            for id := range jobs {
                if halted.Load() { continue }
                rs := p.processRun(ctx, id, runs[id], opts)
                results[index[id]] = rs
                if rs.Err != nil {
                    p.log.Error("run failed", "worker", worker, "run", id, "state", rs.State.String(), "error", rs.Err)
                    if domain.IsTransient(rs.Err) { halted.Store(true) }
                }
            }
        }(i)
    }
dispatch:
    for _, id := range ids {
        if halted.Load() { break }
        select {
        case jobs <- id:
        case <-ctx.Done():
            break dispatch
        }
    }
    close(jobs)
    wg.Wait()

    var errs []error
    var out []RunSummary
    for _, rs := range results {
        if rs.RunID == "" { continue }
        out = append(out, rs)
        if rs.Err != nil { errs = append(errs, fmt.Errorf("run %s: %w", rs.RunID, rs.Err)) }
    }
    if skipped := len(ids) - len(out); skipped > 0 { p.log.Warn("runs left claimed", "runs", skipped) }
    return out, errors.Join(errs...)
}

func flowlanes(lanes []domain.Lane) []int {
    seen := map[int]bool{}
    var out []int
    for _, l := range lanes {
        if !seen[l.Flowlane] {
            seen[l.Flowlane] = true
            out = append(out, l.Flowlane)
        }
    }
    sort.Ints(out)
    return out
}

func (p *Pipeline) processRun(ctx context.Context, runID string, lanes []domain.Lane, opts Options) (rs RunSummary) {
    rs = RunSummary{RunID: runID, Lanes: len(lanes)}
    log := p.log.With("run", runID)
    defer func() {
        outcome := "dispatched"
        switch {
        case rs.Err == nil:
        case errors.Is(rs.Err, domain.ErrRunNotReady):
            outcome = "not-ready"
        case domain.IsDataInconsistency(rs.Err):
            outcome = "inconsistent"
        case domain.IsTransient(rs.Err):
            outcome = "transient"
        default:
            outcome = "failed"
        }
        metrics.RunsProcessed.WithLabelValues(outcome).Inc()
        if rs.Err == nil || opts.TestMode { return }
        switch {
        case errors.Is(rs.Err, domain.ErrRunNotReady):
            p.releaseLanes(ctx, runID, lanes)
        case domain.IsDataInconsistency(rs.Err):
            p.failLanes(ctx, runID, lanes)
        }
    }()

    wanted := flowlanes(lanes)
    q, err := p.query.Query(ctx, runID, false)
    if err != nil {
        rs.Err = err
        return rs
    }
    var empty []string
    for _, fl := range q.Lanes.EmptyLanes() {
        for _, w := range wanted {
            if w == fl { empty = append(empty, fmt.Sprint(fl)) }
        }
    }
    if len(empty) > 0 {
        rs.Err = fmt.Errorf("%w: no libraries found for lanes %s", domain.ErrLibraryNotRegistered, strings.Join(empty, ", "))
        return rs
    }

    res, err := p.process.Run(ctx, runID, flowcell.Options{
        DestDir: p.cfg.IncomingDir, Flowlanes: wanted, LibraryCheck: true, TestMode: opts.TestMode,
    })
    if res != nil { rs.State = res.State }
    if err != nil {
        rs.Err = err
        return rs
    }
    rs.Groups = len(res.Groups)
    if opts.TestMode {
        logGroups(log, res.Groups)
        return rs
    }
    if err := p.dispatch(ctx, log, res.Groups); err != nil {
        rs.Err = err
        return rs
    }
    rs.State = domain.RunDispatched
    log.Info("run dispatched", "groups", rs.Groups)
    return rs
}

// ProcessFlowcell handles one run on operator request. Nothing is claimed
// and lanes are not marked failed; the LIMS status gate and forcing follow
// opts.
func (p *Pipeline) ProcessFlowcell(ctx context.Context, runID string, opts flowcell.Options) (RunSummary, error) {
    rs := RunSummary{RunID: runID}
    log := p.log.With("run", runID)
    if opts.DestDir == "" { opts.DestDir = p.cfg.IncomingDir }
    res, err := p.process.Run(ctx, runID, opts)
    if res != nil {
        rs.State = res.State
        rs.Groups = len(res.Groups)
    }
    if err != nil {
        rs.Err = err
        return rs, err
    }
    if opts.TestMode {
        logGroups(log, res.Groups)
        return rs, nil
    }
    if err := p.dispatch(ctx, log, res.Groups); err != nil {
        rs.Err = err
        return rs, err
    }
    rs.State = domain.RunDispatched
    log.Info("run dispatched", "groups", rs.Groups, "skipped_flowlanes", res.Skipped)
    return rs, nil
}

func logGroups(log *slog.Logger, groups []flowcell.PairGroup) {
    for _, g := range groups {
        log.Info("test mode: would process lane files", "library", g.Library, "flowlane", g.Flowlane, "files", g.Paths())
    }
}

// dispatch hands every file group to the file processing manager. A data
// problem in one group does not stop the others; a transient failure does.
func (p *Pipeline) dispatch(ctx context.Context, log *slog.Logger, groups []flowcell.PairGroup) error {
    var errs []error
    for _, g := range groups {
        out, err := p.files.Run(ctx, g.Paths())
        if err != nil {
            if domain.IsTransient(err) || ctx.Err() != nil { return errors.Join(append(errs, err)...) }
            log.Warn("lane processing failed", "library", g.Library, "flowlane", g.Flowlane, "error", err)
            errs = append(errs, fmt.Errorf("%s: %w", g.Key(), err))
            continue
        }
        if out.Skipped { log.Info("lane already processed", "library", g.Library, "flowlane", g.Flowlane) }
    }
    return errors.Join(errs...)
}

// releaseLanes returns the claims of a run the LIMS has not finished, so
// a later invocation picks its lanes up again.
func (p *Pipeline) releaseLanes(ctx context.Context, runID string, claimed []domain.Lane) {
    ids := make([]int64, 0, len(claimed))
    for _, l := range claimed {
        ids = append(ids, l.ID)
    }
    n, err := p.repo.ReleaseLanes(ctx, ids)
    if err != nil {
        p.log.Error("release lanes", "run", runID, "error", err)
        return
    }
    p.log.Info("run not ready, lanes released", "run", runID, "lanes", n)
}

// failLanes marks the claimed lanes of a run that cannot be processed
// without a human correcting upstream data. Lanes that already reached
// staged are left alone.
func (p *Pipeline) failLanes(ctx context.Context, runID string, claimed []domain.Lane) {
    ids := map[int64]bool{}
    for _, l := range claimed {
        ids[l.ID] = true
    }
    current, err := p.repo.LanesForRun(ctx, runID)
    if err != nil {
        p.log.Error("mark lanes failed", "run", runID, "error", err)
        return
    }
    for _, l := range current {
        if !ids[l.ID] || l.Status.AtLeast(domain.StatusStaged) || l.Status == domain.StatusFailed { continue }
        ok, err := p.repo.TransitionLane(ctx, l.ID, l.Status, domain.StatusFailed)
        if err != nil {
            p.log.Error("mark lane failed", "lane", l.ID, "error", err)
            continue
        }
        if ok { p.log.Warn("lane marked failed", "lane", l.ID, "run", l.RunNumber, "flowlane", l.Flowlane, "library", l.Library) }
    }
}
