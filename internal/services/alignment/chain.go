package alignment

import (
    "context"
    "fmt"
    "log/slog"
    "path"
    "path/filepath"
    "strings"
    "time"

    "github.com/google/uuid"

    "github.com/odomlab/odom-data-processing/internal/domain"
    "github.com/odomlab/odom-data-processing/internal/fastqname"
    "github.com/odomlab/odom-data-processing/internal/fileutil"
    "github.com/odomlab/odom-data-processing/internal/metrics"
    "github.com/odomlab/odom-data-processing/internal/ports"
)

const (
    BamExt      = ".bam"
    FlagstatExt = ".flagstat"
    XcorExt     = ".xcor.txt"
    MarkerExt   = ".done"

    // AlignmentsDir is where finished chains deliver, below the data host's
    // incoming directory.
    AlignmentsDir = "alignments"
)

// Config describes the cluster and the data host the chains run between.
type Config struct {
    Facility    string
    WorkDir     string
    GenomeDir   string
    MemoryMB    int
    Threads     int
    AutoRequeue bool
    // DataHost is "[user@]host"; empty means the cluster shares the
    // incoming filesystem.
    DataHost     string
    IncomingDir  string
    XcorLibTypes []string
}

func (c Config) xcor(libType string) bool {
    for _, t := range c.XcorLibTypes {
        if strings.EqualFold(t, libType) { return true }
    }
    return false
}

// Repository is what chain submission records.
type Repository interface {
    TransitionLane(ctx context.Context, laneID int64, from, to domain.LaneStatus) (bool, error)
    RecordJobChain(ctx context.Context, c domain.JobChain) error
}

// Request asks for a lane's fastq files to be aligned. Fastqs are local
// repository paths in flowpair order.
type Request struct {
    Lane       domain.Lane
    Library    domain.Library
    Fastqs     []string
    Algorithm  string
    ReadLength int
}

// XcorRequest asks for a cross-correlation report on an existing bam.
type XcorRequest struct {
    Lane    domain.Lane
    Library domain.Library
    Genome  string
    Bam     string
}

type Submitter struct {
    remote ports.Remote
    sched  ports.Scheduler
    repo   Repository
    cfg    Config
    newID  func() string
    now    func() time.Time
    log    *slog.Logger
}

func NewSubmitter(remote ports.Remote, sched ports.Scheduler, repo Repository, cfg Config, logger *slog.Logger) *Submitter {
    if logger == nil { logger = slog.Default() }
    if cfg.Threads < 1 { cfg.Threads = 1 }
    return &Submitter{remote: remote, sched: sched, repo: repo, cfg: cfg, newID: uuid.NewString, now: time.Now, log: logger}
}

// BamName is the repository name of a lane's alignment.
func BamName(lane domain.Lane, genome string) string {
    return fastqname.BuildRepositoryFilename(lane.Library, genome, lane.Facility, lane.LaneNum, 0, BamExt)
}

func (s *Submitter) deliveryDir() string { return path.Join(s.cfg.IncomingDir, AlignmentsDir) }

func (s *Submitter) onDataHost(cmd string) string {
    if s.cfg.DataHost == "" { return cmd }
    return fmt.Sprintf("ssh -o BatchMode=yes %s %s", s.cfg.DataHost, fileutil.BashQuote(cmd))
}

func (s *Submitter) deliveryTarget() string {
    dir := s.deliveryDir() + "/"
    if s.cfg.DataHost == "" { return dir }
    return s.cfg.DataHost + ":" + dir
}

// registerCommand copies artefacts to the data host and then touches the
// marker that tells reconciliation the chain finished.
func (s *Submitter) registerCommand(wd string, artefacts []string, marker string) string {
    dir := s.deliveryDir()
    return fmt.Sprintf("cd %s && %s && rsync -a %s %s && %s",
        fileutil.BashQuote(wd),
        s.onDataHost("mkdir -p "+dir),
        strings.Join(quoteAll(artefacts), " "), fileutil.BashQuote(s.deliveryTarget()),
        s.onDataHost("touch "+path.Join(dir, marker)))
}

func xcorCommand(bam, report string) string {
    return fmt.Sprintf("Rscript $(which run_spp.R) -c=%s -savp=%s -out=%s",
        fileutil.BashQuote(bam), fileutil.BashQuote(strings.TrimSuffix(report, ".txt")+".pdf"), fileutil.BashQuote(report))
}

func (s *Submitter) stage(ctx context.Context, id string, files []string) (string, []string, error) {
    wd := path.Join(s.cfg.WorkDir, id)
    if err := s.remote.MkdirAll(ctx, wd); err != nil { return "", nil, err }
    var remote []string
    for _, f := range files {
        dst := path.Join(wd, filepath.Base(f))
        if err := s.remote.Transfer(ctx, f, s.remote.Path(dst)); err != nil { return "", nil, err }
        remote = append(remote, dst)
    }
    return wd, remote, nil
}

func (s *Submitter) submit(ctx context.Context, kind domain.ChainKind, step string, req ports.JobRequest) (string, error) {
    if req.MemoryMB == 0 { req.MemoryMB = s.cfg.MemoryMB }
    if req.Threads == 0 { req.Threads = s.cfg.Threads }
    id, err := s.sched.Submit(ctx, req)
    if err != nil { return "", fmt.Errorf("submit %s: %w", req.Name, err) }
    metrics.JobsSubmitted.WithLabelValues(string(kind), step).Inc()
    s.log.Debug("job submitted", "name", req.Name, "job", id, "depends", req.DependOn)
    return id, nil
}

// SubmitAlignment stages the lane's fastq files on the cluster and submits
// the align, post-process and register jobs, each depending on the one
// before. The chain is recorded and the lane moved to aligning.
func (s *Submitter) SubmitAlignment(ctx context.Context, req Request) (domain.JobChain, error) {
    lib := req.Library
    if lib.Genome == "" { return domain.JobChain{}, fmt.Errorf("library %s has no genome", lib.Code) }
    if len(req.Fastqs) == 0 || len(req.Fastqs) > 2 {
        return domain.JobChain{}, fmt.Errorf("lane %d: expected one or two fastq files, got %d", req.Lane.ID, len(req.Fastqs))
    }
    aligner, err := Select(lib.LibType, req.Algorithm, req.ReadLength)
    if err != nil { return domain.JobChain{}, err }

    genomeDir := path.Join(s.cfg.GenomeDir, lib.Genome)
    ok, err := s.remote.Exists(ctx, genomeDir)
    if err != nil { return domain.JobChain{}, err }
    if !ok { return domain.JobChain{}, fmt.Errorf("genome %s is not installed on the cluster (%s)", lib.Genome, genomeDir) }

    id := s.newID()
    wd, fastqs, err := s.stage(ctx, id, req.Fastqs)
    if err != nil { return domain.JobChain{}, err }

    bam := BamName(req.Lane, lib.Genome)
    base := strings.TrimSuffix(bam, BamExt)
    raw := base + ".raw" + BamExt
    logs := path.Join(wd, base)

    align := aligner.Command(Input{
        Fastqs: fastqs, GenomeDir: s.cfg.GenomeDir, Genome: lib.Genome, Threads: s.cfg.Threads,
        Output:    path.Join(wd, raw),
        ReadGroup: ReadGroup{ID: base, Sample: lib.Sample, Library: lib.Code},
    })
    alignID, err := s.submit(ctx, domain.ChainAlignment, "align", ports.JobRequest{
        Name: base + "_align", Command: "cd " + fileutil.BashQuote(wd) + " && " + align,
        AutoRequeue: s.cfg.AutoRequeue, LogFile: logs + ".align.log",
    })
    if err != nil { return domain.JobChain{}, err }

    steps := []string{"picard CleanSam I=" + raw + " O=" + base + ".clean.bam"}
    if len(fastqs) == 2 {
        steps = append(steps, "picard FixMateInformation I="+base+".clean.bam O="+bam+" SORT_ORDER=coordinate")
    } else {
        steps = append(steps, "mv "+base+".clean.bam "+bam)
    }
    steps = append(steps, "samtools index "+bam, "samtools flagstat "+bam+" > "+base+FlagstatExt)
    artefacts := []string{bam, base + FlagstatExt}
    if s.cfg.xcor(lib.LibType) {
        steps = append(steps, xcorCommand(bam, base+XcorExt))
        artefacts = append(artefacts, base+XcorExt)
    }
    postID, err := s.submit(ctx, domain.ChainAlignment, "postprocess", ports.JobRequest{
        Name: base + "_post", Command: "cd " + fileutil.BashQuote(wd) + " && " + strings.Join(steps, " && "),
        Threads: 1, DependOn: []string{alignID}, LogFile: logs + ".post.log",
    })
    if err != nil { return domain.JobChain{}, err }

    marker := bam + MarkerExt
    regID, err := s.submit(ctx, domain.ChainAlignment, "register", ports.JobRequest{
        Name: base + "_register", Command: s.registerCommand(wd, artefacts, marker),
        MemoryMB: 1024, Threads: 1, DependOn: []string{postID}, LogFile: logs + ".register.log",
    })
    if err != nil { return domain.JobChain{}, err }

    chain := domain.JobChain{
        ID: id, Kind: domain.ChainAlignment, LaneID: req.Lane.ID, RunNumber: req.Lane.RunNumber,
        Library: lib.Code, Genome: lib.Genome, JobIDs: []string{alignID, postID, regID},
        Marker: marker, Status: domain.ChainPending, SubmittedAt: s.now().UTC(),
    }
    if err := s.repo.RecordJobChain(ctx, chain); err != nil { return chain, err }

    if domain.CanAdvance(req.Lane.Status, domain.StatusAligning) {
        ok, err := s.repo.TransitionLane(ctx, req.Lane.ID, req.Lane.Status, domain.StatusAligning)
        if err != nil { return chain, err }
        if !ok { s.log.Warn("lane status changed before aligning", "lane", req.Lane.ID) }
    }
    s.log.Info("alignment chain submitted", "chain", id, "lane", req.Lane.ID, "library", lib.Code,
        "aligner", aligner.Name(), "jobs", chain.JobIDs)
    return chain, nil
}

// SubmitXcor stages an existing bam and submits a cross-correlation job
// followed by a register job that delivers the report.
func (s *Submitter) SubmitXcor(ctx context.Context, req XcorRequest) (domain.JobChain, error) {
    id := s.newID()
    wd, files, err := s.stage(ctx, id, []string{req.Bam})
    if err != nil { return domain.JobChain{}, err }
    bam := path.Base(files[0])
    base := strings.TrimSuffix(bam, BamExt)
    report := base + XcorExt

    xcorID, err := s.submit(ctx, domain.ChainXcor, "xcor", ports.JobRequest{
        Name: base + "_xcor", Command: "cd " + fileutil.BashQuote(wd) + " && " + xcorCommand(bam, report),
        AutoRequeue: s.cfg.AutoRequeue, LogFile: path.Join(wd, base+".xcor.log"),
    })
    if err != nil { return domain.JobChain{}, err }
    marker := report + MarkerExt
    regID, err := s.submit(ctx, domain.ChainXcor, "register", ports.JobRequest{
        Name: base + "_register", Command: s.registerCommand(wd, []string{report}, marker),
        MemoryMB: 1024, Threads: 1, DependOn: []string{xcorID}, LogFile: path.Join(wd, base+".register.log"),
    })
    if err != nil { return domain.JobChain{}, err }

    chain := domain.JobChain{
        ID: id, Kind: domain.ChainXcor, LaneID: req.Lane.ID, RunNumber: req.Lane.RunNumber,
        Library: req.Library.Code, Genome: req.Genome, JobIDs: []string{xcorID, regID},
        Marker: marker, Status: domain.ChainPending, SubmittedAt: s.now().UTC(),
    }
    if err := s.repo.RecordJobChain(ctx, chain); err != nil { return chain, err }
    s.log.Info("xcor chain submitted", "chain", id, "lane", req.Lane.ID, "bam", bam)
    return chain, nil
}
