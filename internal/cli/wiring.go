package cli

import (
    "context"
    "fmt"

    "github.com/odomlab/odom-data-processing/internal/adapters/fetch"
    "github.com/odomlab/odom-data-processing/internal/adapters/lims"
    "github.com/odomlab/odom-data-processing/internal/adapters/postgres"
    "github.com/odomlab/odom-data-processing/internal/adapters/remote"
    "github.com/odomlab/odom-data-processing/internal/adapters/smtp"
    "github.com/odomlab/odom-data-processing/internal/adapters/sqlite"
    "github.com/odomlab/odom-data-processing/internal/config"
    "github.com/odomlab/odom-data-processing/internal/domain"
    "github.com/odomlab/odom-data-processing/internal/ports"
    "github.com/odomlab/odom-data-processing/internal/services/alignment"
    "github.com/odomlab/odom-data-processing/internal/services/completeness"
    "github.com/odomlab/odom-data-processing/internal/services/fileproc"
    "github.com/odomlab/odom-data-processing/internal/services/flowcell"
    "github.com/odomlab/odom-data-processing/internal/services/watcher"
    "github.com/odomlab/odom-data-processing/internal/services/xcor"
    "github.com/odomlab/odom-data-processing/internal/workers/pipeline"
)

func openRepository(ctx context.Context, db config.Database) (ports.Repository, error) {
    switch db.Driver {
    case "sqlite":
        store, err := sqlite.Open(ctx, db.URL)
        if err != nil { return nil, err }
        return store, nil
    case "postgres":
        if db.URL == "" { return nil, fmt.Errorf("database url is required for postgres") }
        pg, err := postgres.Connect(ctx, db.URL)
        if err != nil { return nil, err }
        return pg, nil
    }
    return nil, fmt.Errorf("unknown database driver %q", db.Driver)
}

func limsClient() *lims.Client {
    return lims.New(cfg.Lims.BaseURL, cfg.Lims.Token, cfg.Lims.Timeout)
}

// fetcher streams LIMS URLs through the LIMS client and s3:// URLs through
// the object store.
func fetcher(ctx context.Context, client *lims.Client) (ports.Fetcher, error) {
    f := fetch.New(client)
    s3, err := fetch.NewS3Opener(ctx, fetch.S3Config{Region: cfg.S3.Region, Endpoint: cfg.S3.Endpoint, PathStyle: cfg.S3.PathStyle})
    if err != nil { return nil, fmt.Errorf("s3 client: %w", err) }
    return f.Register("s3", s3), nil
}

func clusterRemote() *remote.Remote {
    return remote.New(remote.ExecRunner{}, remote.Options{
        User: cfg.Cluster.User, Host: cfg.Cluster.Host, SSHKey: cfg.Cluster.SSHKey,
        Attempts: cfg.Transfer.Attempts, Sleep: cfg.Transfer.Sleep,
    }, logger)
}

func dataHost() string {
    if cfg.DataHost.Host == "" || cfg.DataHost.User == "" { return cfg.DataHost.Host }
    return cfg.DataHost.User + "@" + cfg.DataHost.Host
}

func submitter() (*alignment.Submitter, error) {
    r := clusterRemote()
    sched, err := remote.NewScheduler(cfg.Cluster.Scheduler, r)
    if err != nil { return nil, err }
    return alignment.NewSubmitter(r, sched, repo, alignment.Config{
        Facility: cfg.Facility, WorkDir: cfg.Cluster.WorkDir, GenomeDir: cfg.Cluster.GenomeDir,
        MemoryMB: cfg.Cluster.MemoryMB, Threads: cfg.Cluster.Threads, AutoRequeue: cfg.Cluster.AutoRequeue,
        DataHost: dataHost(), IncomingDir: cfg.Paths.Incoming, XcorLibTypes: cfg.Alignment.XcorLibTypes,
    }, logger), nil
}

func notifier() ports.Notifier {
    if cfg.SMTP.Host == "" { return smtp.LogNotifier{Log: logger} }
    return smtp.New(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.From, cfg.SMTP.Admins, logger)
}

// alignmentDispatcher applies the configured bwa algorithm to every chain
// dispatched after file processing.
type alignmentDispatcher struct {
    sub       *alignment.Submitter
    algorithm string
}

func (d alignmentDispatcher) SubmitAlignment(ctx context.Context, req alignment.Request) (domain.JobChain, error) {
    if req.Algorithm == "" { req.Algorithm = d.algorithm }
    return d.sub.SubmitAlignment(ctx, req)
}

func buildPipeline(ctx context.Context, testMode bool) (*pipeline.Pipeline, error) {
    client := limsClient()
    f, err := fetcher(ctx, client)
    if err != nil { return nil, err }
    sub, err := submitter()
    if err != nil { return nil, err }
    process := flowcell.NewProcess(client, repo, f, cfg.Facility,
        flowcell.RetryPolicy{Attempts: cfg.Transfer.Attempts, Sleep: cfg.Transfer.Sleep},
        flowcell.Demuxer{Mismatches: cfg.Alignment.BarcodeMismatch}, logger)
    files := fileproc.New(repo, alignmentDispatcher{sub: sub, algorithm: cfg.Alignment.BWAAlgorithm}, cfg.Facility, cfg.Paths.Repository, logger).
        WithTestMode(testMode)
    return pipeline.New(repo,
        watcher.New(client, repo, cfg.Facility, logger),
        flowcell.NewQuery(client, repo, logger),
        process, files, notifier(),
        pipeline.Config{Facility: cfg.Facility, IncomingDir: cfg.Paths.Incoming, Lookback: cfg.Lims.Lookback, Workers: cfg.Watch.Workers},
        logger), nil
}

func reconciler() *pipeline.Reconciler {
    return pipeline.NewReconciler(repo, cfg.Paths.Incoming, cfg.Paths.Repository, cfg.Facility, cfg.Alignment.ChainTimeout, logger)
}

func checker() (*completeness.Checker, error) {
    sub, err := submitter()
    if err != nil { return nil, err }
    return completeness.New(flowcell.NewQuery(limsClient(), repo, logger), repo, sub, cfg.Paths.Repository, logger), nil
}

func xcorService() (*xcor.Service, error) {
    sub, err := submitter()
    if err != nil { return nil, err }
    return xcor.New(repo, sub, cfg.Alignment.XcorLibTypes, cfg.Paths.Repository, logger), nil
}
