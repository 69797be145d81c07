// Package fastqname builds and parses the filenames the pipeline moves
// between the LIMS, the incoming directory and the repository.
package fastqname

import (
    "fmt"
    "path/filepath"
    "regexp"
    "strconv"
    "strings"

    "github.com/odomlab/odom-data-processing/internal/domain"
)

const (
    FastqExt = ".fq"
    GzipExt  = ".gz"

    // DefaultPipeline is reported for repository names without a pipeline tag.
    DefaultPipeline = "chipseq"
)

var (
    incomingRe   = regexp.MustCompile(`^([^.]+)\.([.\w-]+)\.s_(\d+)\.r_(\d+)\.fq$`)
    repositoryRe = regexp.MustCompile(`^([a-zA-Z]+\d+)_.*_([A-Z]+)(\d+)(p[12])?(_chr21)?(\.[a-z]+)?\.`)
    libcodeRe    = regexp.MustCompile(`^([^._]+)`)
)

// Incoming is the decoded form of an incoming fastq filename. Sample holds
// the library code, or the LIMS code list for multiplexed files.
type Incoming struct {
    Sample   string
    Flowcell string
    Flowlane int
    Flowpair int
    Gzipped  bool
}

// BuildIncomingFastqName returns "<sample>.<flowcell>.s_<flowlane>.r_<flowpair>.fq".
func BuildIncomingFastqName(sample, flowcell string, flowlane, flowpair int) string {
    return fmt.Sprintf("%s.%s.s_%d.r_%d%s", sample, flowcell, flowlane, flowpair, FastqExt)
}

// Name rebuilds the filename, keeping the gzip suffix if the original had one.
func (in Incoming) Name() string {
    name := BuildIncomingFastqName(in.Sample, in.Flowcell, in.Flowlane, in.Flowpair)
    if in.Gzipped { name += GzipExt }
    return name
}

// ParseIncomingFastqName decodes a name produced by BuildIncomingFastqName,
// optionally followed by ".gz". Directory components are ignored.
func ParseIncomingFastqName(name string) (Incoming, error) {
    base := filepath.Base(name)
    in := Incoming{}
    if strings.HasSuffix(base, GzipExt) {
        base = strings.TrimSuffix(base, GzipExt)
        in.Gzipped = true
    }
    m := incomingRe.FindStringSubmatch(base)
    if m == nil {
        return Incoming{}, fmt.Errorf("%w: incoming file name structure not recognised: %s", domain.ErrUnrecognisedFilename, name)
    }
    in.Sample = m[1]
    in.Flowcell = m[2]
    var err error
    if in.Flowlane, err = strconv.Atoi(m[3]); err != nil { return Incoming{}, fmt.Errorf("%w: %s", domain.ErrUnrecognisedFilename, name) }
    if in.Flowpair, err = strconv.Atoi(m[4]); err != nil { return Incoming{}, fmt.Errorf("%w: %s", domain.ErrUnrecognisedFilename, name) }
    return in, nil
}

// Repository is the decoded form of a repository filename.
type Repository struct {
    Library  string
    Facility string
    LaneNum  int
    Pipeline string
}

// ParseRepositoryFilename extracts library, facility, lane number and pipeline
// from names like "do123_GRCh38_CRI5.bam" or "do7_hg19_CRI2p1.fq.gz".
func ParseRepositoryFilename(name string) (Repository, error) {
    base := strings.TrimSuffix(filepath.Base(name), GzipExt)
    m := repositoryRe.FindStringSubmatch(base)
    if m == nil {
        return Repository{}, fmt.Errorf("%w: repository file name not recognised: %s", domain.ErrUnrecognisedFilename, name)
    }
    lane, err := strconv.Atoi(m[3])
    if err != nil { return Repository{}, fmt.Errorf("%w: %s", domain.ErrUnrecognisedFilename, name) }
    r := Repository{Library: m[1], Facility: m[2], LaneNum: lane, Pipeline: DefaultPipeline}
    if m[6] != "" { r.Pipeline = m[6][1:] }
    return r, nil
}

// BuildRepositoryFilename returns "<library>_<tag>_<FACILITY><lanenum>[p<pair>]<ext>".
// The tag is usually the flowcell or genome; pair 0 omits the pair suffix.
func BuildRepositoryFilename(library, tag, facility string, laneNum, pair int, ext string) string {
    var b strings.Builder
    fmt.Fprintf(&b, "%s_%s_%s%d", library, tag, facility, laneNum)
    if pair > 0 { fmt.Fprintf(&b, "p%d", pair) }
    b.WriteString(ext)
    return b.String()
}

// LibraryCode returns the filename prefix up to the first '_' or '.'.
func LibraryCode(name string) string {
    m := libcodeRe.FindStringSubmatch(filepath.Base(name))
    if m == nil { return "" }
    return m[1]
}
