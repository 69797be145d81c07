// Package xcor backfills cross-correlation QC reports for alignments that
// lack one.
package xcor

import (
    "context"
    "fmt"
    "log/slog"
    "path/filepath"
    "strings"

    "github.com/odomlab/odom-data-processing/internal/domain"
    "github.com/odomlab/odom-data-processing/internal/ports"
    "github.com/odomlab/odom-data-processing/internal/services/alignment"
    "github.com/odomlab/odom-data-processing/internal/services/fileproc"
)

type Submitter interface {
    SubmitXcor(ctx context.Context, req alignment.XcorRequest) (domain.JobChain, error)
}

type Repository interface {
    ports.LaneRepository
    ports.LibraryRepository
    ports.AlignmentRepository
    ports.JobChainRepository
}

type Request struct {
    Library  string
    Facility string
    // LaneNum restricts the request to one lane; zero means all.
    LaneNum int
    // Force regenerates reports that already exist.
    Force bool
}

type Service struct {
    repo      Repository
    submitter Submitter
    libTypes  []string
    repoDir   string
    log       *slog.Logger
}

func New(repo Repository, submitter Submitter, libTypes []string, repoDir string, logger *slog.Logger) *Service {
    if logger == nil { logger = slog.Default() }
    return &Service{repo: repo, submitter: submitter, libTypes: libTypes, repoDir: repoDir, log: logger}
}

func (s *Service) supported(libType string) bool {
    for _, t := range s.libTypes {
        if strings.EqualFold(t, libType) { return true }
    }
    return false
}

func hasXcor(a domain.Alignment) bool {
    for _, r := range a.QCReports {
        if r.Kind == domain.QCKindXcor { return true }
    }
    return false
}

// Generate submits an xcor chain for each of the library's alignments that
// has a bam but no xcor report. Alignments with a pending xcor chain are
// skipped unless forced.
func (s *Service) Generate(ctx context.Context, req Request) ([]domain.JobChain, error) {
    lib, err := s.repo.Library(ctx, req.Library)
    if err != nil { return nil, err }
    if !s.supported(lib.LibType) {
        return nil, fmt.Errorf("library %s is %s; xcor reports are only generated for %s", lib.Code, lib.LibType, strings.Join(s.libTypes, ", "))
    }
    lanes, err := s.repo.LanesForLibrary(ctx, lib.Code)
    if err != nil { return nil, err }

    var chains []domain.JobChain
    for _, lane := range lanes {
        if req.Facility != "" && lane.Facility != req.Facility { continue }
        if req.LaneNum != 0 && lane.LaneNum != req.LaneNum { continue }
        if !req.Force {
            if pending, ok, err := s.repo.PendingChainForLane(ctx, lane.ID, domain.ChainXcor); err != nil {
                return chains, err
            } else if ok {
                s.log.Info("xcor already pending", "lane", lane.ID, "chain", pending.ID)
                continue
            }
        }
        alns, err := s.repo.AlignmentsForLane(ctx, lane.ID)
        if err != nil { return chains, err }
        for _, a := range alns {
            if hasXcor(a) && !req.Force { continue }
            bam := ""
            for _, f := range a.Files {
                if f.FileType == domain.FileTypeBam { bam = f.Filename }
            }
            if bam == "" {
                s.log.Warn("alignment has no bam, skipping", "lane", lane.ID, "genome", a.Genome)
                continue
            }
            chain, err := s.submitter.SubmitXcor(ctx, alignment.XcorRequest{
                Lane: lane, Library: lib, Genome: a.Genome,
                Bam: filepath.Join(fileproc.LibraryDir(s.repoDir, lib.Code), bam),
            })
            if err != nil { return chains, err }
            chains = append(chains, chain)
        }
    }
    s.log.Info("xcor generation submitted", "library", lib.Code, "chains", len(chains))
    return chains, nil
}
