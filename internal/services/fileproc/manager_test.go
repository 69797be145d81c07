package fileproc_test

import (
    "context"
    "os"
    "path/filepath"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/odomlab/odom-data-processing/internal/adapters/sqlite"
    "github.com/odomlab/odom-data-processing/internal/domain"
    "github.com/odomlab/odom-data-processing/internal/services/alignment"
    "github.com/odomlab/odom-data-processing/internal/services/fileproc"
    "github.com/odomlab/odom-data-processing/internal/testutil"
)

type recordingDispatcher struct {
    requests []alignment.Request
}

func (d *recordingDispatcher) SubmitAlignment(_ context.Context, req alignment.Request) (domain.JobChain, error) {
    d.requests = append(d.requests, req)
    return domain.JobChain{ID: "chain", LaneID: req.Lane.ID, Status: domain.ChainPending}, nil
}

type fixture struct {
    store    *sqlite.Store
    incoming string
    repo     string
    disp     *recordingDispatcher
    fpm      *fileproc.Manager
}

func newFixture(t *testing.T, status domain.LaneStatus) fixture {
    t.Helper()
    ctx := context.Background()
    store := testutil.NewStore(t, domain.Library{Code: "do5", LibType: "chipseq", Genome: "GRCh38"})
    require.NoError(t, store.EnsureLanes(ctx, []domain.Lane{
        {Library: "do5", RunNumber: "RUN0", Flowcell: "FC0", Flowlane: 1, Facility: "CRI"},
        {Library: "do5", RunNumber: "RUN1", Flowcell: "FC1", Flowlane: 2, Facility: "CRI"},
    }))
    lane, err := store.FindLaneByNumber(ctx, "do5", "CRI", 2)
    require.NoError(t, err)
    require.NoError(t, store.ForceLaneStatus(ctx, lane.ID, status))

    f := fixture{store: store, incoming: t.TempDir(), repo: t.TempDir(), disp: &recordingDispatcher{}}
    f.fpm = fileproc.New(store, f.disp, "CRI", f.repo, nil)
    return f
}

func (f fixture) write(t *testing.T, name string) string {
    t.Helper()
    p := filepath.Join(f.incoming, name)
    require.NoError(t, os.WriteFile(p, testutil.Fastq(4, 51, ""), 0o644))
    return p
}

func TestRunPairedLane(t *testing.T) {
    ctx := context.Background()
    f := newFixture(t, domain.StatusInProcess)
    r2 := f.write(t, "do5.FC1.s_2.r_2.fq")
    r1 := f.write(t, "do5.FC1.s_2.r_1.fq")

    out, err := f.fpm.Run(ctx, []string{r2, r1})
    require.NoError(t, err)
    assert.False(t, out.Skipped)
    assert.Equal(t, domain.StatusStaged, out.Lane.Status)
    require.Len(t, out.Files, 2)
    assert.Equal(t, "do5_FC1_CRI2p1.fq", out.Files[0].Filename)
    assert.Equal(t, 51, out.Files[0].ReadLength)

    dest := filepath.Join(f.repo, "do5", "do5_FC1_CRI2p2.fq")
    assert.FileExists(t, dest)
    assert.NoFileExists(t, r2)

    require.Len(t, f.disp.requests, 1)
    req := f.disp.requests[0]
    assert.Equal(t, []string{filepath.Join(f.repo, "do5", "do5_FC1_CRI2p1.fq"), dest}, req.Fastqs)
    assert.Equal(t, 51, req.ReadLength)
    assert.Equal(t, "GRCh38", req.Library.Genome)

    files, err := f.store.LaneFiles(ctx, out.Lane.ID)
    require.NoError(t, err)
    assert.Len(t, files, 2)
}

func TestRunIsIdempotent(t *testing.T) {
    ctx := context.Background()
    f := newFixture(t, domain.StatusInProcess)
    r1 := f.write(t, "do5.FC1.s_2.r_1.fq")

    _, err := f.fpm.Run(ctx, []string{r1})
    require.NoError(t, err)
    again, err := f.fpm.Run(ctx, []string{r1})
    require.NoError(t, err)
    assert.True(t, again.Skipped)
    assert.Len(t, f.disp.requests, 1)

    files, err := f.store.LaneFiles(ctx, again.Lane.ID)
    require.NoError(t, err)
    require.Len(t, files, 1)
    assert.Equal(t, "do5_FC1_CRI2.fq", files[0].Filename)
}

func TestRunResumesAfterMove(t *testing.T) {
    ctx := context.Background()
    f := newFixture(t, domain.StatusInProcess)
    r1 := f.write(t, "do5.FC1.s_2.r_1.fq")
    dest := filepath.Join(f.repo, "do5", "do5_FC1_CRI2.fq")
    require.NoError(t, os.MkdirAll(filepath.Dir(dest), 0o755))
    require.NoError(t, os.Rename(r1, dest))

    out, err := f.fpm.Run(ctx, []string{r1})
    require.NoError(t, err)
    assert.Equal(t, domain.StatusStaged, out.Lane.Status)
    assert.FileExists(t, dest)
}

func TestRunRejectsMixedLanes(t *testing.T) {
    f := newFixture(t, domain.StatusInProcess)
    a := f.write(t, "do5.FC1.s_2.r_1.fq")
    b := f.write(t, "do5.FC1.s_1.r_2.fq")
    _, err := f.fpm.Run(context.Background(), []string{a, b})
    assert.Error(t, err)

    _, err = f.fpm.Run(context.Background(), []string{a, a})
    assert.True(t, domain.IsDataInconsistency(err))
}

func TestRunUnknownLane(t *testing.T) {
    f := newFixture(t, domain.StatusInProcess)
    p := f.write(t, "do5.FC9.s_1.r_1.fq")
    _, err := f.fpm.Run(context.Background(), []string{p})
    assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRunTestMode(t *testing.T) {
    ctx := context.Background()
    f := newFixture(t, domain.StatusInProcess)
    r1 := f.write(t, "do5.FC1.s_2.r_1.fq")
    out, err := f.fpm.WithTestMode(true).Run(ctx, []string{r1})
    require.NoError(t, err)
    assert.FileExists(t, r1)
    assert.Empty(t, f.disp.requests)
    assert.Equal(t, domain.StatusInProcess, out.Lane.Status)
}
