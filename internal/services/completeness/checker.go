// Package completeness confirms that every lane of a flow cell has raw data
// and a usable alignment, and resubmits alignments that never arrived.
package completeness

import (
    "context"
    "fmt"
    "log/slog"
    "path/filepath"
    "sort"

    "github.com/odomlab/odom-data-processing/internal/domain"
    "github.com/odomlab/odom-data-processing/internal/ports"
    "github.com/odomlab/odom-data-processing/internal/services/alignment"
    "github.com/odomlab/odom-data-processing/internal/services/fileproc"
    "github.com/odomlab/odom-data-processing/internal/services/flowcell"
)

// MinMappedPercent is the lowest acceptable mapping rate.
const MinMappedPercent = 50.0

type ProblemKind string

const (
    MissingLibrary ProblemKind = "missing-library"
    MissingLane    ProblemKind = "missing-lane"
    NoRawData      ProblemKind = "no-raw-data"
    NoAlignment    ProblemKind = "no-alignment"
    NoBam          ProblemKind = "no-bam"
    LowMappingRate ProblemKind = "low-mapping-rate"
)

type Problem struct {
    Kind     ProblemKind `json:"kind"`
    Library  string      `json:"library"`
    Flowlane int         `json:"flowlane"`
    Genome   string      `json:"genome,omitempty"`
    Detail   string      `json:"detail"`
}

type Report struct {
    RunID       string    `json:"run_id"`
    Complete    bool      `json:"complete"`
    Problems    []Problem `json:"problems"`
    Resubmitted []string  `json:"resubmitted,omitempty"`
}

type Options struct {
    Resubmit bool
    // Algorithm overrides the bwa algorithm for resubmitted lanes.
    Algorithm string
    // Force resubmits even when a chain for the lane is still pending.
    Force bool
}

// LaneQuerier resolves the libraries a run is expected to hold.
type LaneQuerier interface {
    Query(ctx context.Context, runID string, quiet bool) (flowcell.QueryResult, error)
}

type Resubmitter interface {
    SubmitAlignment(ctx context.Context, req alignment.Request) (domain.JobChain, error)
}

type Repository interface {
    ports.LaneRepository
    ports.LibraryRepository
    ports.AlignmentRepository
    ports.JobChainRepository
}

type Checker struct {
    query     LaneQuerier
    repo      Repository
    submitter Resubmitter
    repoDir   string
    log       *slog.Logger
}

func New(query LaneQuerier, repo Repository, submitter Resubmitter, repoDir string, logger *slog.Logger) *Checker {
    if logger == nil { logger = slog.Default() }
    return &Checker{query: query, repo: repo, submitter: submitter, repoDir: repoDir, log: logger}
}

// ConfirmComplete lists every problem that keeps the run from being
// complete. With opts.Resubmit, lanes that have raw data but no alignment
// get a new alignment chain unless one is already pending.
func (c *Checker) ConfirmComplete(ctx context.Context, runID string, opts Options) (Report, error) {
    q, err := c.query.Query(ctx, runID, true)
    if err != nil { return Report{}, err }
    lanes, err := c.repo.LanesForRun(ctx, runID)
    if err != nil { return Report{}, err }
    byKey := map[domain.LaneKey]domain.Lane{}
    for _, l := range lanes {
        byKey[l.Key()] = l
    }

    rep := Report{RunID: runID, Problems: []Problem{}}
    flowlanes := make([]int, 0, len(q.Lanes))
    for fl := range q.Lanes {
        flowlanes = append(flowlanes, fl)
    }
    sort.Ints(flowlanes)
    for _, fl := range flowlanes {
        for _, code := range q.Missing[fl] {
            rep.Problems = append(rep.Problems, Problem{Kind: MissingLibrary, Library: code, Flowlane: fl, Detail: "library not registered in repository"})
        }
        for _, code := range q.Lanes[fl] {
            lane, ok := byKey[domain.LaneKey{RunNumber: runID, Flowlane: fl, Library: code}]
            if !ok {
                rep.Problems = append(rep.Problems, Problem{Kind: MissingLane, Library: code, Flowlane: fl, Detail: "no lane record"})
                continue
            }
            probs, err := c.checkLane(ctx, lane, opts, &rep)
            if err != nil { return rep, err }
            rep.Problems = append(rep.Problems, probs...)
        }
    }
    rep.Complete = len(rep.Problems) == 0
    c.log.Info("completeness checked", "run", runID, "complete", rep.Complete, "problems", len(rep.Problems), "resubmitted", len(rep.Resubmitted))
    return rep, nil
}

func (c *Checker) checkLane(ctx context.Context, lane domain.Lane, opts Options, rep *Report) ([]Problem, error) {
    base := Problem{Library: lane.Library, Flowlane: lane.Flowlane}
    files, err := c.repo.LaneFiles(ctx, lane.ID)
    if err != nil { return nil, err }
    var raw []domain.LaneFile
    for _, f := range files {
        if f.FileType == domain.FileTypeFastq || f.FileType == domain.FileTypeTar { raw = append(raw, f) }
    }
    if len(raw) == 0 {
        p := base
        p.Kind, p.Detail = NoRawData, "no fastq or tar files registered"
        return []Problem{p}, nil
    }
    alns, err := c.repo.AlignmentsForLane(ctx, lane.ID)
    if err != nil { return nil, err }
    if len(alns) == 0 {
        p := base
        p.Kind, p.Detail = NoAlignment, "no alignment registered"
        if opts.Resubmit {
            id, err := c.resubmit(ctx, lane, raw, opts)
            if err != nil { return nil, err }
            if id != "" {
                rep.Resubmitted = append(rep.Resubmitted, id)
                p.Detail += "; resubmitted as " + id
            }
        }
        return []Problem{p}, nil
    }
    var out []Problem
    for _, a := range alns {
        if a.BamFiles() == 0 {
            p := base
            p.Kind, p.Genome, p.Detail = NoBam, a.Genome, "alignment has no bam file"
            out = append(out, p)
        }
        if a.MappedPercent < MinMappedPercent {
            p := base
            p.Kind, p.Genome, p.Detail = LowMappingRate, a.Genome, fmt.Sprintf("%.2f%% of reads mapped", a.MappedPercent)
            out = append(out, p)
        }
    }
    return out, nil
}

func (c *Checker) resubmit(ctx context.Context, lane domain.Lane, raw []domain.LaneFile, opts Options) (string, error) {
    if c.submitter == nil { return "", nil }
    if !opts.Force {
        pending, ok, err := c.repo.PendingChainForLane(ctx, lane.ID, domain.ChainAlignment)
        if err != nil { return "", err }
        if ok {
            c.log.Info("alignment already pending, not resubmitting", "lane", lane.ID, "chain", pending.ID, "submitted", pending.SubmittedAt)
            return "", nil
        }
    }
    lib, err := c.repo.Library(ctx, lane.Library)
    if err != nil { return "", err }
    var fastqs []string
    readLength := 0
    for _, f := range raw {
        if f.FileType != domain.FileTypeFastq { continue }
        fastqs = append(fastqs, filepath.Join(fileproc.LibraryDir(c.repoDir, lane.Library), f.Filename))
        if readLength == 0 { readLength = f.ReadLength }
    }
    if len(fastqs) == 0 {
        c.log.Warn("lane has no fastq files to realign", "lane", lane.ID)
        return "", nil
    }
    chain, err := c.submitter.SubmitAlignment(ctx, alignment.Request{Lane: lane, Library: lib, Fastqs: fastqs, Algorithm: opts.Algorithm, ReadLength: readLength})
    if err != nil { return "", err }
    return chain.ID, nil
}
