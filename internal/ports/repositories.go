package ports

import (
    "context"
    "time"

    "github.com/odomlab/odom-data-processing/internal/domain"
)

// ClaimRequest selects lanes for an atomic ready -> marked transition. With
// no keys every ready lane of the facility is claimed.
type ClaimRequest struct {
    Facility string
    Keys     []domain.LaneKey
}

// LaneRepository stores lanes and their raw-data files.
type LaneRepository interface {
    // EnsureLanes creates missing lanes with status ready, numbering them
    // per library and facility. Existing lanes are left untouched. Only the
    // library, run, flowcell, flowlane and facility fields are read.
    EnsureLanes(ctx context.Context, lanes []domain.Lane) error
    // ClaimReadyLanes moves every matching ready lane to marked for
    // processing inside one transaction and returns the lanes it moved.
    ClaimReadyLanes(ctx context.Context, req ClaimRequest) ([]domain.Lane, error)
    // ReleaseLanes puts claimed lanes that are still marked for processing
    // back to ready and returns how many moved.
    ReleaseLanes(ctx context.Context, laneIDs []int64) (int, error)
    FindLane(ctx context.Context, q domain.LaneLookup) (domain.Lane, error)
    FindLaneByNumber(ctx context.Context, library, facility string, laneNum int) (domain.Lane, error)
    LanesForRun(ctx context.Context, runNumber string) ([]domain.Lane, error)
    LanesForLibrary(ctx context.Context, library string) ([]domain.Lane, error)
    // TransitionLane is a compare-and-set; it reports false when the lane
    // was no longer in status from.
    TransitionLane(ctx context.Context, laneID int64, from, to domain.LaneStatus) (bool, error)
    ForceLaneStatus(ctx context.Context, laneID int64, to domain.LaneStatus) error
    AddLaneFile(ctx context.Context, f domain.LaneFile) error
    LaneFiles(ctx context.Context, laneID int64) ([]domain.LaneFile, error)
}

// LibraryRepository reads library records. Libraries are created by
// curators, never by the pipeline.
type LibraryRepository interface {
    Libraries(ctx context.Context, codes []string) (map[string]domain.Library, error)
    Library(ctx context.Context, code string) (domain.Library, error)
    // FillLibraryAdapter sets the adapter only when none is recorded.
    FillLibraryAdapter(ctx context.Context, code, protocol, adapter string) (bool, error)
}

// AlignmentRepository stores alignments with their files and QC reports.
type AlignmentRepository interface {
    AlignmentsForLane(ctx context.Context, laneID int64) ([]domain.Alignment, error)
    // CreateAlignment returns the existing alignment for (lane, genome) with
    // created=false instead of inserting a duplicate.
    CreateAlignment(ctx context.Context, a domain.Alignment) (out domain.Alignment, created bool, err error)
    AddAlignmentFile(ctx context.Context, f domain.AlnFile) error
    AddQCReport(ctx context.Context, r domain.QCReport) error
}

// JobChainRepository persists submitted job chains so reconciliation does
// not depend on the submitting process.
type JobChainRepository interface {
    RecordJobChain(ctx context.Context, c domain.JobChain) error
    PendingJobChains(ctx context.Context) ([]domain.JobChain, error)
    PendingChainForLane(ctx context.Context, laneID int64, kind domain.ChainKind) (domain.JobChain, bool, error)
    FindJobChainByMarker(ctx context.Context, marker string) (domain.JobChain, error)
    // CompleteJobChains marks every pending chain waiting on marker complete
    // and returns how many it closed. A resubmission leaves several.
    CompleteJobChains(ctx context.Context, marker string, at time.Time) (int, error)
}

// CheckpointRepository remembers when a named poller last succeeded.
type CheckpointRepository interface {
    LastCheck(ctx context.Context, name string) (time.Time, bool, error)
    SaveCheck(ctx context.Context, name string, at time.Time) error
}

// Repository is everything the pipeline needs from the database.
type Repository interface {
    LaneRepository
    LibraryRepository
    AlignmentRepository
    JobChainRepository
    CheckpointRepository
    Close()
}
