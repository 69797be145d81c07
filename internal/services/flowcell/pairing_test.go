package flowcell_test

import (
    "errors"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/odomlab/odom-data-processing/internal/domain"
    "github.com/odomlab/odom-data-processing/internal/services/flowcell"
)

func TestPairFiles(t *testing.T) {
    files := []string{
        "/in/do2.FC1.s_1.r_2.fq.gz",
        "/in/do1.FC1.s_2.r_1.fq",
        "/in/do2.FC1.s_1.r_1.fq.gz",
        "/in/do1.FC1.s_1.r_1.fq",
    }
    groups, err := flowcell.PairFiles(files)
    require.NoError(t, err)
    require.Len(t, groups, 3)

    assert.Equal(t, "do1:1", groups[0].Key())
    assert.False(t, groups[0].Paired())
    assert.Equal(t, "do1:2", groups[1].Key())
    assert.Equal(t, "do2:1", groups[2].Key())
    assert.True(t, groups[2].Paired())
    assert.Equal(t, []string{"/in/do2.FC1.s_1.r_1.fq.gz", "/in/do2.FC1.s_1.r_2.fq.gz"}, groups[2].Paths())

    // Every input lands in exactly one group.
    seen := map[string]int{}
    for _, g := range groups {
        for _, p := range g.Paths() {
            seen[p]++
        }
    }
    assert.Len(t, seen, len(files))
    for _, n := range seen {
        assert.Equal(t, 1, n)
    }
}

func TestPairFilesDuplicateFlowpair(t *testing.T) {
    _, err := flowcell.PairFiles([]string{"do1.FC1.s_1.r_1.fq", "x/do1.FC1.s_1.r_1.fq.gz"})
    var pi *domain.PairingInconsistency
    require.True(t, errors.As(err, &pi))
    assert.Equal(t, "do1:1", pi.Key)
    assert.Equal(t, 1, pi.Flowpair)
    assert.True(t, domain.IsDataInconsistency(err))
}

func TestPairFilesBadFlowpair(t *testing.T) {
    _, err := flowcell.PairFiles([]string{"do1.FC1.s_1.r_3.fq"})
    var pi *domain.PairingInconsistency
    require.True(t, errors.As(err, &pi))
    assert.Equal(t, 3, pi.Flowpair)
}

func TestPairFilesUnparseable(t *testing.T) {
    _, err := flowcell.PairFiles([]string{"SLX-1234.bam"})
    assert.ErrorIs(t, err, domain.ErrUnrecognisedFilename)
}
