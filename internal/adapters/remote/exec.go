// Package remote runs subprocesses locally and on the compute cluster over
// ssh, moves files with rsync, and submits batch jobs.
package remote

import (
    "bytes"
    "context"
    "errors"
    "fmt"
    "io"
    "os/exec"
    "strings"

    "golang.org/x/sync/errgroup"
)

type Command struct {
    Name  string
    Args  []string
    Stdin io.Reader
}

func (c Command) String() string { return strings.Join(append([]string{c.Name}, c.Args...), " ") }

type Result struct {
    Stdout   string
    Stderr   string
    ExitCode int
}

// Runner executes one command to completion.
type Runner interface {
    Run(ctx context.Context, cmd Command) (Result, error)
}

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
    Command  string
    ExitCode int
    Stderr   string
}

func (e *ExitError) Error() string {
    return fmt.Sprintf("%s: exit status %d: %s", e.Command, e.ExitCode, strings.TrimSpace(e.Stderr))
}

// ExecRunner runs commands with os/exec. Stdout and stderr are drained
// concurrently so a chatty stderr cannot block the child on a full pipe.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
    cmd := exec.CommandContext(ctx, c.Name, c.Args...)
    if c.Stdin != nil { cmd.Stdin = c.Stdin }
    stdout, err := cmd.StdoutPipe()
    if err != nil { return Result{}, err }
    stderr, err := cmd.StderrPipe()
    if err != nil { return Result{}, err }
    if err := cmd.Start(); err != nil { return Result{}, fmt.Errorf("start %s: %w", c.Name, err) }

    var outBuf, errBuf bytes.Buffer
    var g errgroup.Group
    g.Go(func() error { _, err := io.Copy(&outBuf, stdout); return err })
    g.Go(func() error { _, err := io.Copy(&errBuf, stderr); return err })
    drainErr := g.Wait()
    waitErr := cmd.Wait()

    res := Result{Stdout: outBuf.String(), Stderr: errBuf.String()}
    if waitErr != nil {
        var ee *exec.ExitError
        if errors.As(waitErr, &ee) {
            res.ExitCode = ee.ExitCode()
            return res, &ExitError{Command: c.String(), ExitCode: res.ExitCode, Stderr: res.Stderr}
        }
        return res, waitErr
    }
    return res, drainErr
}
