package flowcell_test

import (
    "os"
    "path/filepath"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/odomlab/odom-data-processing/internal/fileutil"
    "github.com/odomlab/odom-data-processing/internal/services/flowcell"
    "github.com/odomlab/odom-data-processing/internal/testutil"
)

func TestDemuxSplit(t *testing.T) {
    dir := t.TempDir()
    src := filepath.Join(dir, "do1-do2.FC1.s_1.r_1.fq")
    var data []byte
    data = append(data, testutil.Fastq(3, 20, "AAAAAA")...)
    data = append(data, testutil.Fastq(2, 20, "CCCCCA")...) // one mismatch from CCCCCC
    data = append(data, testutil.Fastq(1, 20, "GGGGGG")...)
    require.NoError(t, os.WriteFile(src, data, 0o644))

    out := func(code string) string { return filepath.Join(dir, code+".fq.gz") }
    written, counts, err := flowcell.Demuxer{Mismatches: 1}.Split(src,
        map[string]string{"do1": "AAAAAA", "do2": "cccccc"}, out)
    require.NoError(t, err)

    assert.Equal(t, map[string]int{"do1": 3, "do2": 2, flowcell.Undetermined: 1}, counts)
    assert.Equal(t, out("do2"), written["do2"])
    zipped, err := fileutil.IsGzipped(written["do1"])
    require.NoError(t, err)
    assert.True(t, zipped)
    n, err := fileutil.ReadLength(written["do2"])
    require.NoError(t, err)
    assert.Equal(t, 20, n)

    _, err = os.Stat(out("do1") + ".part")
    assert.True(t, os.IsNotExist(err))
}

func TestDemuxAmbiguousBarcodeIsUndetermined(t *testing.T) {
    dir := t.TempDir()
    src := filepath.Join(dir, "in.fq")
    require.NoError(t, os.WriteFile(src, testutil.Fastq(1, 10, "AC"), 0o644))
    _, counts, err := flowcell.Demuxer{Mismatches: 1}.Split(src,
        map[string]string{"do1": "AA", "do2": "CC"}, func(code string) string { return filepath.Join(dir, code) })
    require.NoError(t, err)
    assert.Equal(t, map[string]int{flowcell.Undetermined: 1}, counts)
}

func TestDemuxRequiresBarcodes(t *testing.T) {
    _, _, err := flowcell.Demuxer{}.Split("unused", map[string]string{"do1": ""}, nil)
    assert.Error(t, err)
}
