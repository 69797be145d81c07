package fastqname_test

import (
    "errors"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/odomlab/odom-data-processing/internal/domain"
    "github.com/odomlab/odom-data-processing/internal/fastqname"
)

func TestIncomingRoundTrip(t *testing.T) {
    tests := []struct {
        sample, flowcell string
        lane, pair       int
    }{
        {"do123", "HXXXXBBXX", 1, 1},
        {"do123", "HXXXXBBXX", 8, 2},
        {"do11,do13,do42-do45", "000000000-A1B2C", 1, 1},
        {"SLX-1234", "FC.v2", 3, 2},
    }
    for _, tt := range tests {
        name := fastqname.BuildIncomingFastqName(tt.sample, tt.flowcell, tt.lane, tt.pair)
        in, err := fastqname.ParseIncomingFastqName(name)
        require.NoError(t, err, name)
        assert.Equal(t, tt.sample, in.Sample)
        assert.Equal(t, tt.flowcell, in.Flowcell)
        assert.Equal(t, tt.lane, in.Flowlane)
        assert.Equal(t, tt.pair, in.Flowpair)
        assert.False(t, in.Gzipped)
        assert.Equal(t, name, in.Name())

        gz, err := fastqname.ParseIncomingFastqName("/data/incoming/" + name + ".gz")
        require.NoError(t, err)
        assert.True(t, gz.Gzipped)
        assert.Equal(t, name+".gz", gz.Name())
    }
}

func TestParseIncomingRejects(t *testing.T) {
    for _, name := range []string{"do123.fq", "do123.FC1.s_1.r_1.fastq", "do123.FC1.s_x.r_1.fq", "notes.txt"} {
        _, err := fastqname.ParseIncomingFastqName(name)
        assert.True(t, errors.Is(err, domain.ErrUnrecognisedFilename), name)
    }
}

func TestParseRepositoryFilename(t *testing.T) {
    tests := []struct {
        name string
        want fastqname.Repository
    }{
        {"do123_GRCh38_CRI5.bam", fastqname.Repository{Library: "do123", Facility: "CRI", LaneNum: 5, Pipeline: "chipseq"}},
        {"do7_HXXX_CRI2p1.fq.gz", fastqname.Repository{Library: "do7", Facility: "CRI", LaneNum: 2, Pipeline: "chipseq"}},
        {"do7_hg19_SAN12_chr21.rnaseq.bam", fastqname.Repository{Library: "do7", Facility: "SAN", LaneNum: 12, Pipeline: "rnaseq"}},
        {"/repo/do9/do9_mm10_CRI1.mga.pdf", fastqname.Repository{Library: "do9", Facility: "CRI", LaneNum: 1, Pipeline: "mga"}},
    }
    for _, tt := range tests {
        got, err := fastqname.ParseRepositoryFilename(tt.name)
        require.NoError(t, err, tt.name)
        assert.Equal(t, tt.want, got, tt.name)
    }

    _, err := fastqname.ParseRepositoryFilename("do123.FC1.s_1.r_1.fq")
    assert.ErrorIs(t, err, domain.ErrUnrecognisedFilename)
}

func TestRepositoryRoundTrip(t *testing.T) {
    name := fastqname.BuildRepositoryFilename("do55", "HXXXXBBXX", "CRI", 4, 2, ".fq.gz")
    assert.Equal(t, "do55_HXXXXBBXX_CRI4p2.fq.gz", name)

    bam := fastqname.BuildRepositoryFilename("do55", "GRCh38", "CRI", 4, 0, ".bam")
    got, err := fastqname.ParseRepositoryFilename(bam)
    require.NoError(t, err)
    assert.Equal(t, fastqname.Repository{Library: "do55", Facility: "CRI", LaneNum: 4, Pipeline: "chipseq"}, got)
}

func TestLibraryCode(t *testing.T) {
    assert.Equal(t, "do123", fastqname.LibraryCode("do123_GRCh38_CRI5.bam"))
    assert.Equal(t, "do123", fastqname.LibraryCode("/x/do123.FC.s_1.r_1.fq"))
}
