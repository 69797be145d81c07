package alignment

import (
    "context"
    "fmt"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/odomlab/odom-data-processing/internal/adapters/sqlite"
    "github.com/odomlab/odom-data-processing/internal/domain"
    "github.com/odomlab/odom-data-processing/internal/testutil"
)

func stagedLane(t *testing.T, lib domain.Library) (*testutil.Remote, *testutil.Scheduler, domain.Lane, *Submitter, *sqlite.Store) {
    t.Helper()
    ctx := context.Background()
    store := testutil.NewStore(t, lib)
    require.NoError(t, store.EnsureLanes(ctx, []domain.Lane{{Library: lib.Code, RunNumber: "RUN1", Flowcell: "FC1", Flowlane: 3, Facility: "CRI"}}))
    lane, err := store.FindLaneByNumber(ctx, lib.Code, "CRI", 1)
    require.NoError(t, err)
    require.NoError(t, store.ForceLaneStatus(ctx, lane.ID, domain.StatusStaged))
    lane.Status = domain.StatusStaged

    remote := &testutil.Remote{}
    sched := &testutil.Scheduler{}
    s := NewSubmitter(remote, sched, store, Config{
        Facility: "CRI", WorkDir: "/scratch/osq", GenomeDir: "/genomes", MemoryMB: 8000, Threads: 4,
        AutoRequeue: true, DataHost: "pipe@data", IncomingDir: "/data/incoming", XcorLibTypes: []string{"ChIPseq"},
    }, nil)
    n := 0
    s.newID = func() string { n++; return fmt.Sprintf("chain-%d", n) }
    s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
    return remote, sched, lane, s, store
}

func TestSubmitAlignment(t *testing.T) {
    ctx := context.Background()
    lib := domain.Library{Code: "do7", LibType: "chipseq", Genome: "GRCh38", Sample: "liver"}
    remote, sched, lane, s, store := stagedLane(t, lib)

    chain, err := s.SubmitAlignment(ctx, Request{
        Lane: lane, Library: lib, ReadLength: 50,
        Fastqs: []string{"/repo/do7/do7_FC1_CRI1p1.fq.gz", "/repo/do7/do7_FC1_CRI1p2.fq.gz"},
    })
    require.NoError(t, err)

    assert.Equal(t, []string{"/scratch/osq/chain-1"}, remote.Dirs)
    assert.Equal(t, [][2]string{
        {"/repo/do7/do7_FC1_CRI1p1.fq.gz", "cluster:/scratch/osq/chain-1/do7_FC1_CRI1p1.fq.gz"},
        {"/repo/do7/do7_FC1_CRI1p2.fq.gz", "cluster:/scratch/osq/chain-1/do7_FC1_CRI1p2.fq.gz"},
    }, remote.Transfers)

    require.Len(t, sched.Requests, 3)
    align, post, reg := sched.Requests[0], sched.Requests[1], sched.Requests[2]
    assert.Contains(t, align.Command, "bwa sampe")
    assert.True(t, align.AutoRequeue)
    assert.Equal(t, 8000, align.MemoryMB)
    assert.Equal(t, []string{"101"}, post.DependOn)
    assert.Contains(t, post.Command, "FixMateInformation")
    assert.Contains(t, post.Command, "samtools flagstat do7_GRCh38_CRI1.bam > do7_GRCh38_CRI1.flagstat")
    assert.Contains(t, post.Command, "run_spp.R")
    assert.Equal(t, []string{"102"}, reg.DependOn)
    assert.Contains(t, reg.Command, "rsync -a do7_GRCh38_CRI1.bam do7_GRCh38_CRI1.flagstat do7_GRCh38_CRI1.xcor.txt pipe\\@data\\:/data/incoming/alignments/")
    assert.Contains(t, reg.Command, "touch\\ /data/incoming/alignments/do7_GRCh38_CRI1.bam.done")

    assert.Equal(t, "do7_GRCh38_CRI1.bam.done", chain.Marker)
    assert.Equal(t, []string{"101", "102", "103"}, chain.JobIDs)

    got, ok, err := store.PendingChainForLane(ctx, lane.ID, domain.ChainAlignment)
    require.NoError(t, err)
    require.True(t, ok)
    assert.Equal(t, "chain-1", got.ID)

    lanes, err := store.LanesForRun(ctx, "RUN1")
    require.NoError(t, err)
    assert.Equal(t, domain.StatusAligning, lanes[0].Status)
}

func TestSubmitAlignmentSingleEndNoXcor(t *testing.T) {
    lib := domain.Library{Code: "do8", LibType: "rnaseq", Genome: "GRCm39"}
    _, sched, lane, s, _ := stagedLane(t, lib)
    _, err := s.SubmitAlignment(context.Background(), Request{Lane: lane, Library: lib, Fastqs: []string{"/repo/do8/do8_FC1_CRI1.fq.gz"}})
    require.NoError(t, err)
    require.Len(t, sched.Requests, 3)
    assert.Contains(t, sched.Requests[0].Command, "tophat2")
    assert.Contains(t, sched.Requests[1].Command, "mv do8_GRCm39_CRI1.clean.bam do8_GRCm39_CRI1.bam")
    assert.NotContains(t, sched.Requests[1].Command, "run_spp.R")
}

func TestSubmitAlignmentTransferFailure(t *testing.T) {
    lib := domain.Library{Code: "do9", LibType: "chipseq", Genome: "GRCh38"}
    remote, sched, lane, s, store := stagedLane(t, lib)
    remote.TransferErr = fmt.Errorf("%w: rsync exit 12", domain.ErrTransferFailed)
    _, err := s.SubmitAlignment(context.Background(), Request{Lane: lane, Library: lib, Fastqs: []string{"/repo/x.fq.gz"}})
    assert.ErrorIs(t, err, domain.ErrTransferFailed)
    assert.Empty(t, sched.Requests)
    _, ok, err := store.PendingChainForLane(context.Background(), lane.ID, domain.ChainAlignment)
    require.NoError(t, err)
    assert.False(t, ok)
}

func TestSubmitAlignmentNeedsGenome(t *testing.T) {
    lib := domain.Library{Code: "do10", LibType: "chipseq"}
    _, _, lane, s, _ := stagedLane(t, lib)
    _, err := s.SubmitAlignment(context.Background(), Request{Lane: lane, Library: lib, Fastqs: []string{"/repo/x.fq.gz"}})
    assert.Error(t, err)
}

func TestSubmitAlignmentGenomeNotInstalled(t *testing.T) {
    lib := domain.Library{Code: "do12", LibType: "chipseq", Genome: "hg19"}
    remote, sched, lane, s, _ := stagedLane(t, lib)
    remote.Absent = []string{"/genomes/hg19"}
    _, err := s.SubmitAlignment(context.Background(), Request{Lane: lane, Library: lib, Fastqs: []string{"/repo/x.fq.gz"}})
    require.Error(t, err)
    assert.Contains(t, err.Error(), "hg19")
    assert.Empty(t, remote.Transfers)
    assert.Empty(t, sched.Requests)
}

func TestSubmitXcor(t *testing.T) {
    lib := domain.Library{Code: "do11", LibType: "chipseq", Genome: "GRCh38"}
    remote, sched, lane, s, store := stagedLane(t, lib)
    chain, err := s.SubmitXcor(context.Background(), XcorRequest{Lane: lane, Library: lib, Genome: "GRCh38", Bam: "/repo/do11/do11_GRCh38_CRI1.bam"})
    require.NoError(t, err)
    assert.Equal(t, domain.ChainXcor, chain.Kind)
    assert.Equal(t, "do11_GRCh38_CRI1.xcor.txt.done", chain.Marker)
    assert.Len(t, remote.Transfers, 1)
    require.Len(t, sched.Requests, 2)
    assert.Contains(t, sched.Requests[0].Command, "-out=do11_GRCh38_CRI1.xcor.txt")

    got, ok, err := store.PendingChainForLane(context.Background(), lane.ID, domain.ChainXcor)
    require.NoError(t, err)
    require.True(t, ok)
    assert.Equal(t, chain.ID, got.ID)
}
