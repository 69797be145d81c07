package ports

import (
    "context"
    "io"
    "time"

    "github.com/odomlab/odom-data-processing/internal/domain"
)

// Lims is the read-only view of the sequencing facility's LIMS.
type Lims interface {
    // RecentRuns lists runs completed since the given time; the zero time
    // lists every run.
    RecentRuns(ctx context.Context, since time.Time) ([]domain.LimsRun, error)
    RunInfo(ctx context.Context, runID string) (domain.LimsRun, error)
}

// Fetcher copies a raw-data artefact to a local path and returns the bytes
// written.
type Fetcher interface {
    Fetch(ctx context.Context, url, dest string) (int64, error)
}

// Opener streams a remote artefact.
type Opener interface {
    Open(ctx context.Context, url string) (io.ReadCloser, error)
}

// Remote runs commands and moves files on the compute cluster.
type Remote interface {
    // Path qualifies a cluster path for use as a transfer endpoint.
    Path(path string) string
    MkdirAll(ctx context.Context, dir string) error
    Run(ctx context.Context, command string) (string, error)
    Exists(ctx context.Context, path string) (bool, error)
    WriteFile(ctx context.Context, path, content string, appendTo bool) error
    // Transfer copies with bounded retry; exhaustion yields ErrTransferFailed.
    Transfer(ctx context.Context, src, dst string) error
}

// JobRequest is one batch job submission.
type JobRequest struct {
    Name        string
    Command     string
    MemoryMB    int
    Threads     int
    AutoRequeue bool
    DependOn    []string
    LogFile     string
}

// Scheduler submits batch jobs and returns the scheduler's opaque job id.
type Scheduler interface {
    Submit(ctx context.Context, req JobRequest) (string, error)
}

// Notifier alerts the repository administrators.
type Notifier interface {
    EmailAdmins(ctx context.Context, subject, body string) error
}
