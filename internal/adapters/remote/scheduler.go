package remote

import (
    "context"
    "fmt"
    "regexp"
    "strconv"
    "strings"

    "github.com/odomlab/odom-data-processing/internal/domain"
    "github.com/odomlab/odom-data-processing/internal/fileutil"
    "github.com/odomlab/odom-data-processing/internal/ports"
)

// shellRunner is the slice of Remote the submitters need.
type shellRunner interface {
    Run(ctx context.Context, command string) (string, error)
}

// NewScheduler returns the submitter for the named batch system.
func NewScheduler(kind string, sh shellRunner) (ports.Scheduler, error) {
    switch kind {
    case "lsf":
        return &LSF{sh: sh}, nil
    case "slurm":
        return &Slurm{sh: sh}, nil
    }
    return nil, fmt.Errorf("unknown scheduler %q", kind)
}

func shellQuote(s string) string {
    return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// LSF submits with bsub on the cluster head node.
type LSF struct{ sh shellRunner }

var lsfJobRe = regexp.MustCompile(`Job <(\d+)> is submitted`)

func (s *LSF) command(req ports.JobRequest) string {
    args := []string{"bsub"}
    if req.Name != "" { args = append(args, "-J", fileutil.BashQuote(req.Name)) }
    if req.MemoryMB > 0 {
        mem := strconv.Itoa(req.MemoryMB)
        args = append(args, "-M", mem, "-R", shellQuote("rusage[mem="+mem+"]"))
    }
    if req.Threads > 1 {
        args = append(args, "-n", strconv.Itoa(req.Threads), "-R", shellQuote("span[hosts=1]"))
    }
    if req.AutoRequeue { args = append(args, "-r") }
    if len(req.DependOn) > 0 {
        conds := make([]string, len(req.DependOn))
        for i, id := range req.DependOn {
            conds[i] = "done(" + id + ")"
        }
        args = append(args, "-w", shellQuote(strings.Join(conds, " && ")))
    }
    if req.LogFile != "" { args = append(args, "-o", fileutil.BashQuote(req.LogFile)) }
    args = append(args, shellQuote(req.Command))
    return strings.Join(args, " ")
}

func (s *LSF) Submit(ctx context.Context, req ports.JobRequest) (string, error) {
    out, err := s.sh.Run(ctx, s.command(req))
    if err != nil { return "", fmt.Errorf("%w: bsub: %v", domain.ErrSubmitFailed, err) }
    m := lsfJobRe.FindStringSubmatch(out)
    if m == nil { return "", fmt.Errorf("%w: unexpected bsub output %q", domain.ErrSubmitFailed, strings.TrimSpace(out)) }
    return m[1], nil
}

// Slurm submits with sbatch --parsable on the cluster head node.
type Slurm struct{ sh shellRunner }

var slurmJobRe = regexp.MustCompile(`^(\d+)(;\S+)?$`)

func (s *Slurm) command(req ports.JobRequest) string {
    args := []string{"sbatch", "--parsable"}
    if req.Name != "" { args = append(args, "--job-name="+fileutil.BashQuote(req.Name)) }
    if req.MemoryMB > 0 { args = append(args, fmt.Sprintf("--mem=%dM", req.MemoryMB)) }
    if req.Threads > 1 { args = append(args, fmt.Sprintf("--cpus-per-task=%d", req.Threads)) }
    if req.AutoRequeue {
        args = append(args, "--requeue")
    } else {
        args = append(args, "--no-requeue")
    }
    if len(req.DependOn) > 0 { args = append(args, "--dependency=afterok:"+strings.Join(req.DependOn, ":")) }
    if req.LogFile != "" { args = append(args, "--output="+fileutil.BashQuote(req.LogFile)) }
    args = append(args, "--wrap="+shellQuote(req.Command))
    return strings.Join(args, " ")
}

func (s *Slurm) Submit(ctx context.Context, req ports.JobRequest) (string, error) {
    out, err := s.sh.Run(ctx, s.command(req))
    if err != nil { return "", fmt.Errorf("%w: sbatch: %v", domain.ErrSubmitFailed, err) }
    m := slurmJobRe.FindStringSubmatch(strings.TrimSpace(out))
    if m == nil { return "", fmt.Errorf("%w: unexpected sbatch output %q", domain.ErrSubmitFailed, strings.TrimSpace(out)) }
    return m[1], nil
}
