//go:build integration

package postgres_test

import (
    "context"
    "fmt"
    "os"
    "sync"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "github.com/testcontainers/testcontainers-go"
    "github.com/testcontainers/testcontainers-go/wait"

    "github.com/odomlab/odom-data-processing/internal/adapters/postgres"
    "github.com/odomlab/odom-data-processing/internal/domain"
    "github.com/odomlab/odom-data-processing/internal/ports"
)

func startPostgres(t *testing.T) *postgres.DB {
    t.Helper()
    if testing.Short() { t.Skip("integration test") }
    os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
    ctx := context.Background()

    c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
        ContainerRequest: testcontainers.ContainerRequest{
            Image:        "postgres:16-alpine",
            ExposedPorts: []string{"5432/tcp"},
            Env:          map[string]string{"POSTGRES_USER": "osq", "POSTGRES_PASSWORD": "osq", "POSTGRES_DB": "repository"},
            WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
        },
        Started: true,
    })
    require.NoError(t, err)
    t.Cleanup(func() { _ = c.Terminate(ctx) })

    host, err := c.Host(ctx)
    require.NoError(t, err)
    if host == "" || host == "null" { host = "localhost" }
    port, err := c.MappedPort(ctx, "5432")
    require.NoError(t, err)

    db, err := postgres.Connect(ctx, fmt.Sprintf("postgres://osq:osq@%s:%s/repository?sslmode=disable", host, port.Port()))
    require.NoError(t, err)
    t.Cleanup(db.Close)
    require.NoError(t, db.Migrate(ctx))
    return db
}

func TestRepositoryRoundTrip(t *testing.T) {
    db := startPostgres(t)
    ctx := context.Background()

    _, err := db.CreateLibrary(ctx, domain.Library{Code: "do1", LibType: "chipseq", Genome: "GRCh38"})
    require.NoError(t, err)
    require.NoError(t, db.EnsureLanes(ctx, []domain.Lane{
        {Library: "do1", RunNumber: "RUN1", Flowcell: "FC1", Flowlane: 1, Facility: "CRI"},
        {Library: "do1", RunNumber: "RUN1", Flowcell: "FC1", Flowlane: 2, Facility: "CRI"},
    }))
    // Ensuring again changes nothing.
    require.NoError(t, db.EnsureLanes(ctx, []domain.Lane{{Library: "do1", RunNumber: "RUN1", Flowcell: "FC1", Flowlane: 1, Facility: "CRI"}}))

    lanes, err := db.LanesForRun(ctx, "RUN1")
    require.NoError(t, err)
    require.Len(t, lanes, 2)
    assert.Equal(t, 1, lanes[0].LaneNum)
    assert.Equal(t, 2, lanes[1].LaneNum)
    assert.Equal(t, domain.StatusReady, lanes[0].Status)

    found, err := db.FindLane(ctx, domain.LaneLookup{Library: "do1", Flowcell: "FC1", Flowlane: 2, Facility: "CRI"})
    require.NoError(t, err)
    assert.Equal(t, lanes[1].ID, found.ID)
    _, err = db.FindLaneByNumber(ctx, "do1", "CRI", 9)
    assert.ErrorIs(t, err, domain.ErrNotFound)

    ok, err := db.TransitionLane(ctx, lanes[0].ID, domain.StatusMarked, domain.StatusInProcess)
    require.NoError(t, err)
    assert.False(t, ok)

    a, created, err := db.CreateAlignment(ctx, domain.Alignment{LaneID: lanes[0].ID, Genome: "GRCh38", MappedPercent: 91.5, TotalReads: 200, MappedReads: 183})
    require.NoError(t, err)
    assert.True(t, created)
    again, created, err := db.CreateAlignment(ctx, domain.Alignment{LaneID: lanes[0].ID, Genome: "GRCh38"})
    require.NoError(t, err)
    assert.False(t, created)
    assert.Equal(t, a.ID, again.ID)
    require.NoError(t, db.AddAlignmentFile(ctx, domain.AlnFile{AlignmentID: a.ID, Filename: "do1_GRCh38_CRI1.bam", FileType: domain.FileTypeBam}))
    require.NoError(t, db.AddQCReport(ctx, domain.QCReport{AlignmentID: a.ID, Program: "run_spp", Kind: domain.QCKindXcor, NSC: 1.1, RSC: 0.9}))
    alns, err := db.AlignmentsForLane(ctx, lanes[0].ID)
    require.NoError(t, err)
    require.Len(t, alns, 1)
    assert.Equal(t, 1, alns[0].BamFiles())
    assert.Len(t, alns[0].QCReports, 1)

    at := time.Now().UTC().Truncate(time.Millisecond)
    require.NoError(t, db.RecordJobChain(ctx, domain.JobChain{
        ID: "chain-1", Kind: domain.ChainAlignment, LaneID: lanes[0].ID, RunNumber: "RUN1", Library: "do1",
        Genome: "GRCh38", JobIDs: []string{"1", "2", "3"}, Marker: "do1_GRCh38_CRI1.bam.done", SubmittedAt: at,
    }))
    c, err := db.FindJobChainByMarker(ctx, "do1_GRCh38_CRI1.bam.done")
    require.NoError(t, err)
    assert.Equal(t, []string{"1", "2", "3"}, c.JobIDs)
    n, err := db.CompleteJobChains(ctx, "do1_GRCh38_CRI1.bam.done", at)
    require.NoError(t, err)
    assert.Equal(t, 1, n)
    pending, err := db.PendingJobChains(ctx)
    require.NoError(t, err)
    assert.Empty(t, pending)

    require.NoError(t, db.SaveCheck(ctx, "lims", at))
    last, ok, err := db.LastCheck(ctx, "lims")
    require.NoError(t, err)
    assert.True(t, ok)
    assert.True(t, at.Equal(last.UTC()))
}

func TestConcurrentClaimsAreDisjoint(t *testing.T) {
    db := startPostgres(t)
    ctx := context.Background()
    _, err := db.CreateLibrary(ctx, domain.Library{Code: "do2", LibType: "chipseq", Genome: "GRCh38"})
    require.NoError(t, err)
    var lanes []domain.Lane
    for fl := 1; fl <= 8; fl++ {
        lanes = append(lanes, domain.Lane{Library: "do2", RunNumber: "RUN2", Flowcell: "FC2", Flowlane: fl, Facility: "CRI"})
    }
    require.NoError(t, db.EnsureLanes(ctx, lanes))

    var mu sync.Mutex
    seen := map[int64]int{}
    var wg sync.WaitGroup
    for i := 0; i < 4; i++ {
        wg.Add(1)
        go func() {
            defer wg.Done()
            got, err := db.ClaimReadyLanes(ctx, ports.ClaimRequest{Facility: "CRI"})
            assert.NoError(t, err)
            mu.Lock()
            defer mu.Unlock()
            for _, l := range got {
                seen[l.ID]++
            }
        }()
    }
    wg.Wait()
    assert.Len(t, seen, 8)
    for id, n := range seen {
        assert.Equal(t, 1, n, "lane %d claimed more than once", id)
    }
}

func TestConcurrentEnsureLanesNumbersEveryRun(t *testing.T) {
    db := startPostgres(t)
    ctx := context.Background()
    _, err := db.CreateLibrary(ctx, domain.Library{Code: "do3", LibType: "chipseq", Genome: "GRCh38"})
    require.NoError(t, err)

    const runs = 6
    var wg sync.WaitGroup
    for r := 1; r <= runs; r++ {
        wg.Add(1)
        go func(r int) {
            defer wg.Done()
            assert.NoError(t, db.EnsureLanes(ctx, []domain.Lane{{
                Library: "do3", RunNumber: fmt.Sprintf("RUN%d", r), Flowcell: fmt.Sprintf("FC%d", r), Flowlane: 1, Facility: "CRI",
            }}))
        }(r)
    }
    wg.Wait()

    nums := map[int]bool{}
    for r := 1; r <= runs; r++ {
        lanes, err := db.LanesForRun(ctx, fmt.Sprintf("RUN%d", r))
        require.NoError(t, err)
        require.Len(t, lanes, 1, "run %d has no lane", r)
        nums[lanes[0].LaneNum] = true
    }
    assert.Len(t, nums, runs)
    for n := 1; n <= runs; n++ {
        assert.True(t, nums[n], "lane_num %d missing", n)
    }
}
