package remote

import (
    "context"
    "fmt"
    "log/slog"
    "strings"
    "time"

    "github.com/odomlab/odom-data-processing/internal/domain"
    "github.com/odomlab/odom-data-processing/internal/fileutil"
    "github.com/odomlab/odom-data-processing/internal/metrics"
    "github.com/odomlab/odom-data-processing/internal/ports"
)

const rsyncChmod = "--chmod=Du=rwx,Dg=r,Do=,Fu=rw,Fg=r,Fo="

// Options configure a Remote. An empty Host runs commands locally.
type Options struct {
    User     string
    Host     string
    SSHKey   string
    Attempts int
    Sleep    time.Duration
}

// Remote runs shell commands on one host and moves files to and from it.
type Remote struct {
    runner Runner
    opts   Options
    log    *slog.Logger
    sleep  func(ctx context.Context, d time.Duration) error
}

var _ ports.Remote = (*Remote)(nil)

func New(runner Runner, opts Options, logger *slog.Logger) *Remote {
    if opts.Attempts < 1 { opts.Attempts = 1 }
    if logger == nil { logger = slog.Default() }
    return &Remote{runner: runner, opts: opts, log: logger, sleep: sleepCtx}
}

// WithSleep replaces the pause between transfer attempts.
func (r *Remote) WithSleep(fn func(ctx context.Context, d time.Duration) error) *Remote {
    r.sleep = fn
    return r
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

func (r *Remote) target() string {
    if r.opts.User == "" { return r.opts.Host }
    return r.opts.User + "@" + r.opts.Host
}

// Path returns path qualified with the remote host, as rsync expects it.
func (r *Remote) Path(path string) string {
    if r.opts.Host == "" { return path }
    return r.target() + ":" + path
}

func (r *Remote) sshOptions() []string {
    opts := []string{"-o", "BatchMode=yes", "-o", "StrictHostKeyChecking=no"}
    if r.opts.SSHKey != "" { opts = append(opts, "-i", r.opts.SSHKey) }
    return opts
}

func (r *Remote) shell(command string) Command {
    if r.opts.Host == "" { return Command{Name: "sh", Args: []string{"-c", command}} }
    args := append(r.sshOptions(), r.target(), command)
    return Command{Name: "ssh", Args: args}
}

// Run executes command through the remote shell and returns its stdout. A
// failure is fatal for the caller; it is not retried.
func (r *Remote) Run(ctx context.Context, command string) (string, error) {
    res, err := r.runner.Run(ctx, r.shell(command))
    if err != nil {
        return res.Stdout, fmt.Errorf("%w on %s: %v", domain.ErrRemoteCommand, r.hostName(), err)
    }
    return res.Stdout, nil
}

func (r *Remote) hostName() string {
    if r.opts.Host == "" { return "localhost" }
    return r.opts.Host
}

func (r *Remote) MkdirAll(ctx context.Context, dir string) error {
    _, err := r.Run(ctx, "mkdir -p "+fileutil.BashQuote(dir))
    return err
}

// Exists reports whether path exists on the remote host.
func (r *Remote) Exists(ctx context.Context, path string) (bool, error) {
    out, err := r.Run(ctx, "test -e "+fileutil.BashQuote(path)+" && echo yes || echo no")
    if err != nil { return false, err }
    return strings.TrimSpace(out) == "yes", nil
}

// WriteFile streams content into path on the remote host.
func (r *Remote) WriteFile(ctx context.Context, path, content string, appendTo bool) error {
    redirect := ">"
    if appendTo { redirect = ">>" }
    cmd := r.shell("cat - " + redirect + " " + fileutil.BashQuote(path))
    cmd.Stdin = strings.NewReader(content)
    if _, err := r.runner.Run(ctx, cmd); err != nil {
        return fmt.Errorf("%w: write %s on %s: %v", domain.ErrRemoteCommand, path, r.hostName(), err)
    }
    return nil
}

// Transfer rsyncs src to dst, retrying a fixed number of times with a fixed
// pause. Either side may be host-qualified (see Path).
func (r *Remote) Transfer(ctx context.Context, src, dst string) error {
    sshCmd := "ssh " + strings.Join(r.sshOptions(), " ")
    cmd := Command{Name: "rsync", Args: []string{"-a", "--partial", rsyncChmod, "-e", sshCmd, src, dst}}
    var lastErr error
    for attempt := 1; attempt <= r.opts.Attempts; attempt++ {
        metrics.TransferAttempts.Inc()
        _, err := r.runner.Run(ctx, cmd)
        if err == nil {
            if attempt > 1 { r.log.Info("transfer succeeded after retry", "src", src, "dst", dst, "attempt", attempt) }
            return nil
        }
        lastErr = err
        r.log.Warn("transfer failed", "src", src, "dst", dst, "attempt", attempt, "attempts", r.opts.Attempts, "error", err)
        if attempt == r.opts.Attempts { break }
        if err := r.sleep(ctx, r.opts.Sleep); err != nil { return err }
    }
    metrics.TransferFailures.Inc()
    return fmt.Errorf("%w: %s -> %s after %d attempt(s): %v", domain.ErrTransferFailed, src, dst, r.opts.Attempts, lastErr)
}
