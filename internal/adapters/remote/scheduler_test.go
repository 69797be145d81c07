package remote

import (
    "context"
    "errors"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/odomlab/odom-data-processing/internal/domain"
    "github.com/odomlab/odom-data-processing/internal/ports"
)

type fakeShell struct {
    commands []string
    out      string
    err      error
}

func (f *fakeShell) Run(_ context.Context, command string) (string, error) {
    f.commands = append(f.commands, command)
    return f.out, f.err
}

func TestLSFSubmit(t *testing.T) {
    sh := &fakeShell{out: "Job <4242> is submitted to default queue <normal>.\n"}
    s, err := NewScheduler("lsf", sh)
    require.NoError(t, err)
    id, err := s.Submit(context.Background(), ports.JobRequest{
        Name: "align_do1", Command: "bwa mem ref r1.fq > out.sam", MemoryMB: 8000, Threads: 4,
        AutoRequeue: true, DependOn: []string{"11", "12"},
    })
    require.NoError(t, err)
    assert.Equal(t, "4242", id)
    assert.Equal(t,
        `bsub -J align_do1 -M 8000 -R 'rusage[mem=8000]' -n 4 -R 'span[hosts=1]' -r -w 'done(11) && done(12)' 'bwa mem ref r1.fq > out.sam'`,
        sh.commands[0])
}

func TestSlurmSubmit(t *testing.T) {
    sh := &fakeShell{out: "777;cluster\n"}
    s, err := NewScheduler("slurm", sh)
    require.NoError(t, err)
    id, err := s.Submit(context.Background(), ports.JobRequest{Command: "echo 'hi'", MemoryMB: 2000, DependOn: []string{"5"}})
    require.NoError(t, err)
    assert.Equal(t, "777", id)
    assert.Equal(t, `sbatch --parsable --mem=2000M --no-requeue --dependency=afterok:5 --wrap='echo '\''hi'\'''`, sh.commands[0])
}

func TestSubmitFailures(t *testing.T) {
    sh := &fakeShell{err: errors.New("ssh: connect refused")}
    s, _ := NewScheduler("lsf", sh)
    _, err := s.Submit(context.Background(), ports.JobRequest{Command: "true"})
    assert.ErrorIs(t, err, domain.ErrSubmitFailed)

    sh = &fakeShell{out: "Request aborted by esub."}
    s, _ = NewScheduler("lsf", sh)
    _, err = s.Submit(context.Background(), ports.JobRequest{Command: "true"})
    assert.ErrorIs(t, err, domain.ErrSubmitFailed)

    _, err = NewScheduler("pbs", sh)
    assert.Error(t, err)
}
