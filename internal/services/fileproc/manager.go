// Package fileproc registers one lane's incoming fastq files in the
// repository, moves them into place and hands the lane to alignment.
package fileproc

import (
    "context"
    "errors"
    "fmt"
    "log/slog"
    "os"
    "path/filepath"
    "strings"

    "github.com/odomlab/odom-data-processing/internal/domain"
    "github.com/odomlab/odom-data-processing/internal/fastqname"
    "github.com/odomlab/odom-data-processing/internal/fileutil"
    "github.com/odomlab/odom-data-processing/internal/ports"
    "github.com/odomlab/odom-data-processing/internal/services/alignment"
)

// Dispatcher submits the alignment chain for a staged lane.
type Dispatcher interface {
    SubmitAlignment(ctx context.Context, req alignment.Request) (domain.JobChain, error)
}

type Repository interface {
    ports.LaneRepository
    ports.LibraryRepository
}

// Outcome describes what a run did to the lane.
type Outcome struct {
    Lane    domain.Lane
    Skipped bool
    Files   []domain.LaneFile
    Chain   *domain.JobChain
}

type Manager struct {
    repo       Repository
    dispatcher Dispatcher
    facility   string
    repoDir    string
    testMode   bool
    log        *slog.Logger
}

func New(repo Repository, dispatcher Dispatcher, facility, repoDir string, logger *slog.Logger) *Manager {
    if logger == nil { logger = slog.Default() }
    return &Manager{repo: repo, dispatcher: dispatcher, facility: facility, repoDir: repoDir, log: logger}
}

// WithTestMode makes Run report its plan without changing anything.
func (m *Manager) WithTestMode(on bool) *Manager {
    m.testMode = on
    return m
}

// LibraryDir is the repository directory holding a library's files.
func LibraryDir(repoDir, library string) string { return filepath.Join(repoDir, library) }

// Run processes the one or two fastq files of a single lane. It is
// idempotent: a lane already staged or beyond is left alone, and files
// already moved are picked up from their destination.
func (m *Manager) Run(ctx context.Context, files []string) (Outcome, error) {
    files = append([]string(nil), files...)
    parsed, err := m.validate(files)
    if err != nil { return Outcome{}, err }
    first := parsed[0]
    lane, err := m.repo.FindLane(ctx, domain.LaneLookup{Library: first.Sample, Flowcell: first.Flowcell, Flowlane: first.Flowlane, Facility: m.facility})
    if err != nil { return Outcome{}, fmt.Errorf("lane for %s: %w", filepath.Base(files[0]), err) }
    out := Outcome{Lane: lane}
    log := m.log.With("library", lane.Library, "run", lane.RunNumber, "flowlane", lane.Flowlane, "lane", lane.ID)

    if lane.Status.AtLeast(domain.StatusStaged) {
        log.Info("lane already staged, nothing to do", "status", lane.Status)
        out.Skipped = true
        return out, nil
    }
    lib, err := m.repo.Library(ctx, lane.Library)
    if err != nil { return out, err }

    paired := len(parsed) == 2
    var dests []string
    for i, in := range parsed {
        pair := 0
        if paired { pair = in.Flowpair }
        name := fastqname.BuildRepositoryFilename(lane.Library, lane.Flowcell, lane.Facility, lane.LaneNum, pair, fastqname.FastqExt+fastqname.GzipExt)
        if !in.Gzipped { name = strings.TrimSuffix(name, fastqname.GzipExt) }
        dest := filepath.Join(LibraryDir(m.repoDir, lane.Library), name)
        if m.testMode {
            log.Info("would register and move", "src", files[i], "dest", dest)
            dests = append(dests, dest)
            continue
        }
        src := files[i]
        if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
            if _, derr := os.Stat(dest); derr != nil { return out, fmt.Errorf("%s: neither source nor destination exists", filepath.Base(src)) }
            src = dest
        }
        lf, err := m.describe(lane.ID, src, name)
        if err != nil { return out, err }
        if err := m.repo.AddLaneFile(ctx, lf); err != nil { return out, err }
        if src != dest {
            if err := fileutil.MoveFile(src, dest); err != nil { return out, err }
        }
        out.Files = append(out.Files, lf)
        dests = append(dests, dest)
    }
    if m.testMode { return out, nil }

    if domain.CanAdvance(lane.Status, domain.StatusStaged) {
        ok, err := m.repo.TransitionLane(ctx, lane.ID, lane.Status, domain.StatusStaged)
        if err != nil { return out, err }
        if !ok {
            log.Warn("lane moved by another process, leaving it")
            out.Skipped = true
            return out, nil
        }
        lane.Status = domain.StatusStaged
        out.Lane = lane
    }
    if m.dispatcher == nil { return out, nil }

    readLength := 0
    if len(out.Files) > 0 { readLength = out.Files[0].ReadLength }
    chain, err := m.dispatcher.SubmitAlignment(ctx, alignment.Request{Lane: lane, Library: lib, Fastqs: dests, ReadLength: readLength})
    if err != nil { return out, fmt.Errorf("dispatch lane %d: %w", lane.ID, err) }
    out.Chain = &chain
    return out, nil
}

func (m *Manager) validate(files []string) ([]fastqname.Incoming, error) {
    if len(files) == 0 || len(files) > 2 { return nil, fmt.Errorf("expected one or two files for a lane, got %d", len(files)) }
    var out []fastqname.Incoming
    for _, f := range files {
        in, err := fastqname.ParseIncomingFastqName(f)
        if err != nil { return nil, err }
        if len(out) > 0 {
            p := out[0]
            if in.Sample != p.Sample || in.Flowcell != p.Flowcell || in.Flowlane != p.Flowlane {
                return nil, fmt.Errorf("%s and %s are not from the same lane", filepath.Base(files[0]), filepath.Base(f))
            }
            if in.Flowpair == p.Flowpair {
                return nil, &domain.PairingInconsistency{Key: fmt.Sprintf("%s:%d", in.Sample, in.Flowlane), Flowpair: in.Flowpair, Files: files, Reason: "duplicate flowpair"}
            }
        }
        out = append(out, in)
    }
    if len(out) == 2 && out[0].Flowpair > out[1].Flowpair {
        out[0], out[1] = out[1], out[0]
        files[0], files[1] = files[1], files[0]
    }
    return out, nil
}

func (m *Manager) describe(laneID int64, path, name string) (domain.LaneFile, error) {
    sum, err := fileutil.Checksum(path)
    if err != nil { return domain.LaneFile{}, err }
    size, err := fileutil.Size(path)
    if err != nil { return domain.LaneFile{}, err }
    rl, err := fileutil.ReadLength(path)
    if err != nil { return domain.LaneFile{}, err }
    return domain.LaneFile{LaneID: laneID, Filename: name, FileType: domain.FileTypeFastq, Checksum: sum, Size: size, ReadLength: rl}, nil
}
