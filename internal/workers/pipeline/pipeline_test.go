package pipeline_test

import (
    "context"
    "os"
    "path/filepath"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/odomlab/odom-data-processing/internal/adapters/sqlite"
    "github.com/odomlab/odom-data-processing/internal/domain"
    "github.com/odomlab/odom-data-processing/internal/services/alignment"
    "github.com/odomlab/odom-data-processing/internal/services/fileproc"
    "github.com/odomlab/odom-data-processing/internal/services/flowcell"
    "github.com/odomlab/odom-data-processing/internal/services/watcher"
    "github.com/odomlab/odom-data-processing/internal/testutil"
    "github.com/odomlab/odom-data-processing/internal/workers/pipeline"
)

type env struct {
    store    *sqlite.Store
    lims     *testutil.Lims
    fetcher  *testutil.Fetcher
    sched    *testutil.Scheduler
    notifier *testutil.Notifier
    incoming string
    repo     string
    pipe     *pipeline.Pipeline
}

func noSleep(context.Context, time.Duration) error { return nil }

func limsFile(f *testutil.Fetcher, name string, body []byte) domain.LimsFile {
    url := "https://lims.example/files/" + name
    f.Content[url] = body
    return domain.LimsFile{Filename: name, URL: url}
}

func newEnv(t *testing.T) *env {
    t.Helper()
    e := &env{
        store: testutil.NewStore(t,
            domain.Library{Code: "do1", LibType: "chipseq", Genome: "GRCh38"},
            domain.Library{Code: "do2", LibType: "chipseq", Genome: "GRCh38"},
            domain.Library{Code: "do3", LibType: "rnaseq", Genome: "GRCm39"},
        ),
        fetcher: testutil.NewFetcher(), sched: &testutil.Scheduler{}, notifier: &testutil.Notifier{},
        incoming: t.TempDir(), repo: t.TempDir(),
    }
    done := time.Now().Add(-time.Hour)
    fq := testutil.Fastq(4, 80, "")
    e.lims = testutil.NewLims(
        domain.LimsRun{RunID: "RUN1", Flowcell: "FC1", Status: domain.LimsSecondaryComplete, CompletedAt: &done, Lanes: []domain.LimsLane{
            {Flowlane: 1, Ready: true, Libraries: []domain.LimsLibrary{{Code: "do1"}}, Files: []domain.LimsFile{
                limsFile(e.fetcher, "do1.FC1.s_1.r_1.fq", fq), limsFile(e.fetcher, "do1.FC1.s_1.r_2.fq", fq),
            }},
            {Flowlane: 2, Ready: true, Libraries: []domain.LimsLibrary{{Code: "do2"}}, Files: []domain.LimsFile{
                limsFile(e.fetcher, "do2.FC1.s_2.r_1.fq", fq),
            }},
            {Flowlane: 3, Ready: true, Libraries: []domain.LimsLibrary{{Code: "do404"}}},
        }},
    )

    sub := alignment.NewSubmitter(&testutil.Remote{}, e.sched, e.store, alignment.Config{
        Facility: "CRI", WorkDir: "/scratch", GenomeDir: "/genomes", IncomingDir: e.incoming, Threads: 2, XcorLibTypes: []string{"chipseq"},
    }, nil)
    e.pipe = pipeline.New(e.store,
        watcher.New(e.lims, e.store, "CRI", nil),
        flowcell.NewQuery(e.lims, e.store, nil),
        flowcell.NewProcess(e.lims, e.store, e.fetcher, "CRI", flowcell.RetryPolicy{Attempts: 2}, flowcell.Demuxer{}, nil).WithSleep(noSleep),
        fileproc.New(e.store, sub, "CRI", e.repo, nil),
        e.notifier,
        pipeline.Config{Facility: "CRI", IncomingDir: e.incoming, Lookback: 24 * time.Hour, Workers: 1}, nil)
    return e
}

func (e *env) statuses(t *testing.T, run string) map[string]domain.LaneStatus {
    t.Helper()
    lanes, err := e.store.LanesForRun(context.Background(), run)
    require.NoError(t, err)
    out := map[string]domain.LaneStatus{}
    for _, l := range lanes {
        out[l.Library] = l.Status
    }
    return out
}

func TestProcessReadyLanes(t *testing.T) {
    ctx := context.Background()
    e := newEnv(t)

    sum, err := e.pipe.ProcessReadyLanes(ctx, pipeline.Options{})
    require.NoError(t, err)
    assert.Equal(t, 2, sum.Claimed)
    assert.Equal(t, []string{"do404"}, sum.Missing)
    require.Len(t, sum.Runs, 1)
    assert.Equal(t, domain.RunDispatched, sum.Runs[0].State)
    assert.Equal(t, 2, sum.Runs[0].Groups)

    assert.Equal(t, map[string]domain.LaneStatus{"do1": domain.StatusAligning, "do2": domain.StatusAligning}, e.statuses(t, "RUN1"))
    assert.Len(t, e.sched.Requests, 6)
    require.Len(t, e.notifier.Bodies, 1)
    assert.Contains(t, e.notifier.Bodies[0], "do404")
    assert.FileExists(t, filepath.Join(e.repo, "do1", "do1_FC1_CRI1p2.fq"))

    _, ok, err := e.store.LastCheck(ctx, pipeline.LimsCheckpoint)
    require.NoError(t, err)
    assert.True(t, ok)

    // Nothing is ready any more; a second pass claims nothing.
    sum, err = e.pipe.ProcessReadyLanes(ctx, pipeline.Options{RecentOnly: true})
    require.NoError(t, err)
    assert.Zero(t, sum.Claimed)
    assert.Empty(t, sum.Runs)
    assert.Len(t, e.sched.Requests, 6)
}

func TestProcessReadyLanesIsolatesRuns(t *testing.T) {
    ctx := context.Background()
    e := newEnv(t)
    done := time.Now().Add(-time.Minute)
    fq := testutil.Fastq(2, 50, "")
    e.lims.Runs["RUN2"] = domain.LimsRun{RunID: "RUN2", Flowcell: "FC2", Status: domain.LimsSecondaryComplete, CompletedAt: &done, Lanes: []domain.LimsLane{
        {Flowlane: 1, Ready: true, Libraries: []domain.LimsLibrary{{Code: "do3"}}, Files: []domain.LimsFile{
            limsFile(e.fetcher, "do3.FC2.s_1.r_1.fq", fq), limsFile(e.fetcher, "do3.FC2.s_1.r_1.fq.gz", fq),
        }},
    }}

    sum, err := e.pipe.ProcessReadyLanes(ctx, pipeline.Options{})
    require.Error(t, err)
    assert.True(t, domain.IsDataInconsistency(err))
    assert.False(t, domain.IsTransient(err))
    require.Len(t, sum.Runs, 2)
    assert.Equal(t, domain.RunDispatched, sum.Runs[0].State)
    assert.Equal(t, domain.RunDownloaded, sum.Runs[1].State)

    assert.Equal(t, domain.StatusAligning, e.statuses(t, "RUN1")["do1"])
    assert.Equal(t, domain.StatusFailed, e.statuses(t, "RUN2")["do3"])
}

func TestProcessReadyLanesTransientFailure(t *testing.T) {
    e := newEnv(t)
    for url := range e.fetcher.Content {
        e.fetcher.FailFirst[url] = 10
    }
    _, err := e.pipe.ProcessReadyLanes(context.Background(), pipeline.Options{})
    require.Error(t, err)
    assert.True(t, domain.IsTransient(err))
    // Lanes stay claimed; an operator or a forced run picks them up.
    assert.Equal(t, map[string]domain.LaneStatus{"do1": domain.StatusMarked, "do2": domain.StatusMarked}, e.statuses(t, "RUN1"))
}

func TestProcessReadyLanesStopsAfterTransientFailure(t *testing.T) {
    ctx := context.Background()
    e := newEnv(t)
    for url := range e.fetcher.Content {
        e.fetcher.FailFirst[url] = 10
    }
    done := time.Now().Add(-time.Minute)
    e.lims.Runs["RUN2"] = domain.LimsRun{RunID: "RUN2", Flowcell: "FC2", Status: domain.LimsSecondaryComplete, CompletedAt: &done, Lanes: []domain.LimsLane{
        {Flowlane: 1, Ready: true, Libraries: []domain.LimsLibrary{{Code: "do3"}}, Files: []domain.LimsFile{
            limsFile(e.fetcher, "do3.FC2.s_1.r_1.fq", testutil.Fastq(2, 50, "")),
        }},
    }}

    sum, err := e.pipe.ProcessReadyLanes(ctx, pipeline.Options{})
    require.Error(t, err)
    assert.True(t, domain.IsTransient(err))
    assert.Equal(t, 3, sum.Claimed)
    require.Len(t, sum.Runs, 1)
    assert.Equal(t, "RUN1", sum.Runs[0].RunID)

    // RUN2 was never started: still claimed, nothing fetched for it.
    assert.Equal(t, map[string]domain.LaneStatus{"do3": domain.StatusMarked}, e.statuses(t, "RUN2"))
    for url := range e.fetcher.Fetches {
        assert.NotContains(t, url, "do3")
    }
}

func TestProcessReadyLanesReleasesRunNotReady(t *testing.T) {
    ctx := context.Background()
    e := newEnv(t)
    run := e.lims.Runs["RUN1"]
    run.Status = domain.LimsPrimaryComplete
    e.lims.Runs["RUN1"] = run

    sum, err := e.pipe.ProcessReadyLanes(ctx, pipeline.Options{})
    assert.ErrorIs(t, err, domain.ErrRunNotReady)
    assert.Equal(t, 2, sum.Claimed)
    assert.Equal(t, map[string]domain.LaneStatus{"do1": domain.StatusReady, "do2": domain.StatusReady}, e.statuses(t, "RUN1"))
    assert.Empty(t, e.fetcher.Fetches)

    run.Status = domain.LimsSecondaryComplete
    e.lims.Runs["RUN1"] = run
    sum, err = e.pipe.ProcessReadyLanes(ctx, pipeline.Options{})
    require.NoError(t, err)
    assert.Equal(t, 2, sum.Claimed)
    assert.Equal(t, map[string]domain.LaneStatus{"do1": domain.StatusAligning, "do2": domain.StatusAligning}, e.statuses(t, "RUN1"))
}

func TestProcessReadyLanesLimsDown(t *testing.T) {
    ctx := context.Background()
    e := newEnv(t)
    e.lims.Err = domain.ErrLimsUnavailable
    _, err := e.pipe.ProcessReadyLanes(ctx, pipeline.Options{})
    assert.ErrorIs(t, err, domain.ErrLimsUnavailable)
    _, ok, err := e.store.LastCheck(ctx, pipeline.LimsCheckpoint)
    require.NoError(t, err)
    assert.False(t, ok)
}

func TestProcessReadyLanesTestMode(t *testing.T) {
    e := newEnv(t)
    sum, err := e.pipe.ProcessReadyLanes(context.Background(), pipeline.Options{TestMode: true})
    require.NoError(t, err)
    assert.Equal(t, 2, sum.Claimed)
    assert.Empty(t, e.statuses(t, "RUN1"))
    assert.Empty(t, e.notifier.Bodies)
    assert.Empty(t, e.sched.Requests)
    entries, err := os.ReadDir(e.incoming)
    require.NoError(t, err)
    assert.Empty(t, entries)
}

func TestProcessFlowcell(t *testing.T) {
    ctx := context.Background()
    e := newEnv(t)
    rs, err := e.pipe.ProcessFlowcell(ctx, "RUN1", flowcell.Options{Flowlanes: []int{1}})
    require.NoError(t, err)
    assert.Equal(t, domain.RunDispatched, rs.State)
    assert.Equal(t, 1, rs.Groups)
    assert.Equal(t, map[string]domain.LaneStatus{"do1": domain.StatusAligning}, e.statuses(t, "RUN1"))
    assert.Len(t, e.sched.Requests, 3)

    // Without forcing, a lane already aligning is left alone.
    rs, err = e.pipe.ProcessFlowcell(ctx, "RUN1", flowcell.Options{Flowlanes: []int{1}})
    require.NoError(t, err)
    assert.Zero(t, rs.Groups)
    assert.Len(t, e.sched.Requests, 3)
}
