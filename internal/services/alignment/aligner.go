// Package alignment builds and submits the cluster job chains that align a
// lane and carry the results back to the data host.
package alignment

import (
    "fmt"
    "path"
    "strings"

    "github.com/odomlab/odom-data-processing/internal/fileutil"
)

const (
    AlgorithmAln = "aln"
    AlgorithmMem = "mem"

    // memMinReadLength is the shortest read bwa mem is chosen for by default.
    memMinReadLength = 70
)

// Input describes one alignment on the cluster. Paths are cluster paths.
type Input struct {
    Fastqs    []string
    GenomeDir string
    Genome    string
    Threads   int
    Output    string
    ReadGroup ReadGroup
}

type ReadGroup struct {
    ID      string
    Sample  string
    Library string
}

func (rg ReadGroup) header() string {
    return fmt.Sprintf(`@RG\tID:%s\tSM:%s\tLB:%s\tPL:ILLUMINA`, rg.ID, fileutil.SanitizeSampleName(rg.Sample), rg.Library)
}

// Aligner renders the shell command that turns fastq files into a
// coordinate-sorted bam at Input.Output.
type Aligner interface {
    Name() string
    Command(in Input) string
}

// Select picks the aligner for a library type. rnaseq libraries need a
// splice-aware aligner; everything else uses bwa, with the algorithm chosen
// from read length unless one is given.
func Select(libType, algorithm string, readLength int) (Aligner, error) {
    if libType == "rnaseq" { return SpliceAware{}, nil }
    switch algorithm {
    case AlgorithmAln, AlgorithmMem:
    case "":
        algorithm = AlgorithmAln
        if readLength >= memMinReadLength { algorithm = AlgorithmMem }
    default:
        return nil, fmt.Errorf("unknown bwa algorithm %q", algorithm)
    }
    return ShortRead{Algorithm: algorithm}, nil
}

func index(genomeDir, genome, aligner string) string {
    return path.Join(genomeDir, genome, aligner, genome)
}

// ShortRead aligns with bwa.
type ShortRead struct {
    Algorithm string
}

func (a ShortRead) Name() string { return "bwa-" + a.Algorithm }

func (a ShortRead) Command(in Input) string {
    idx := fileutil.BashQuote(index(in.GenomeDir, in.Genome, "bwa"))
    rg := "'" + in.ReadGroup.header() + "'"
    sorted := fmt.Sprintf("samtools sort -@ %d -o %s -", in.Threads, fileutil.BashQuote(in.Output))
    fq := quoteAll(in.Fastqs)
    if a.Algorithm == AlgorithmMem {
        return fmt.Sprintf("bwa mem -t %d -R %s %s %s | %s", in.Threads, rg, idx, strings.Join(fq, " "), sorted)
    }
    var steps []string
    var sais []string
    for _, f := range fq {
        sai := f + ".sai"
        steps = append(steps, fmt.Sprintf("bwa aln -t %d %s %s > %s", in.Threads, idx, f, sai))
        sais = append(sais, sai)
    }
    mode := "samse"
    if len(fq) == 2 { mode = "sampe" }
    steps = append(steps, fmt.Sprintf("bwa %s -r %s %s %s %s | %s", mode, rg, idx, strings.Join(sais, " "), strings.Join(fq, " "), sorted))
    return strings.Join(steps, " && ")
}

// SpliceAware aligns with tophat2.
type SpliceAware struct{}

func (SpliceAware) Name() string { return "tophat2" }

func (SpliceAware) Command(in Input) string {
    out := fileutil.BashQuote(in.Output)
    dir := out + ".tophat"
    return fmt.Sprintf("tophat2 -p %d -o %s --rg-id %s --rg-sample %s --rg-library %s %s %s && mv %s/accepted_hits.bam %s",
        in.Threads, dir, fileutil.BashQuote(in.ReadGroup.ID), fileutil.BashQuote(fileutil.SanitizeSampleName(in.ReadGroup.Sample)),
        fileutil.BashQuote(in.ReadGroup.Library), fileutil.BashQuote(index(in.GenomeDir, in.Genome, "bowtie2")),
        strings.Join(quoteAll(in.Fastqs), " "), dir, out)
}

func quoteAll(xs []string) []string {
    out := make([]string, len(xs))
    for i, x := range xs {
        out[i] = fileutil.BashQuote(x)
    }
    return out
}
