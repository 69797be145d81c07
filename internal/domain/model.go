package domain

import "time"

// Core repository records. LIMS-side types are prefixed with Lims and are
// never persisted; the repository is the system of record only for lanes,
// files, alignments and the job chains submitted on their behalf.

type Library struct {
    ID              int64
    Code            string
    LibType         string
    Genome          string
    Sample          string
    Adapter         string
    AdapterProtocol string
}

// LaneKey identifies a sequencing lane as the LIMS reports it.
type LaneKey struct {
    RunNumber string
    Flowlane  int
    Library   string
}

// LaneLookup identifies a lane from an incoming fastq filename.
type LaneLookup struct {
    Library  string
    Flowcell string
    Flowlane int
    Facility string
}

type Lane struct {
    ID              int64
    Library         string
    RunNumber       string
    Flowcell        string
    Flowlane        int
    Facility        string
    LaneNum         int
    Status          LaneStatus
    StatusUpdatedAt time.Time
}

func (l Lane) Key() LaneKey {
    return LaneKey{RunNumber: l.RunNumber, Flowlane: l.Flowlane, Library: l.Library}
}

const (
    FileTypeFastq = "fq"
    FileTypeTar   = "tar"
    FileTypeBam   = "bam"
)

type LaneFile struct {
    ID         int64
    LaneID     int64
    Filename   string
    FileType   string
    Checksum   string
    Size       int64
    ReadLength int
}

type Alignment struct {
    ID            int64
    LaneID        int64
    Genome        string
    MappedPercent float64
    TotalReads    int64
    MappedReads   int64
    CreatedAt     time.Time
    Files         []AlnFile
    QCReports     []QCReport
}

// BamFiles counts the output bam files attached to the alignment.
func (a Alignment) BamFiles() int {
    n := 0
    for _, f := range a.Files {
        if f.FileType == FileTypeBam { n++ }
    }
    return n
}

type AlnFile struct {
    ID          int64
    AlignmentID int64
    Filename    string
    FileType    string
    Checksum    string
}

const QCKindXcor = "xcor"

type QCReport struct {
    ID          int64
    AlignmentID int64
    Program     string
    Kind        string
    NSC         float64
    RSC         float64
    Payload     string
}

type ChainKind string

const (
    ChainAlignment ChainKind = "alignment"
    ChainXcor      ChainKind = "xcor"
)

type ChainStatus string

const (
    ChainPending  ChainStatus = "pending"
    ChainComplete ChainStatus = "complete"
)

// JobChain links a submitted cluster job chain to the lane it serves. The
// marker is the artefact the final job leaves behind; reconciliation finds
// the chain through it.
type JobChain struct {
    ID          string
    Kind        ChainKind
    LaneID      int64
    RunNumber   string
    Library     string
    Genome      string
    JobIDs      []string
    Marker      string
    Status      ChainStatus
    SubmittedAt time.Time
    CompletedAt *time.Time
}

// LIMS run states, in the order the facility reports them.
const (
    LimsIncomplete        = "INCOMPLETE"
    LimsPrimaryComplete   = "PRIMARY COMPLETE"
    LimsSecondaryComplete = "SECONDARY COMPLETE"
)

type LimsRun struct {
    RunID       string     `json:"run_id"`
    Flowcell    string     `json:"flowcell"`
    Status      string     `json:"status"`
    CompletedAt *time.Time `json:"completed_at,omitempty"`
    Lanes       []LimsLane `json:"lanes"`
}

type LimsLane struct {
    Flowlane  int           `json:"flowlane"`
    Ready     bool          `json:"ready"`
    Libraries []LimsLibrary `json:"libraries"`
    Files     []LimsFile    `json:"files"`
}

type LimsLibrary struct {
    Code    string `json:"code"`
    Barcode string `json:"barcode,omitempty"`
    Adapter string `json:"adapter,omitempty"`
}

type LimsFile struct {
    Filename string `json:"filename"`
    URL      string `json:"url"`
    MD5      string `json:"md5,omitempty"`
}

// Lane returns the LIMS lane with the given flowlane number.
func (r LimsRun) Lane(flowlane int) (LimsLane, bool) {
    for _, l := range r.Lanes {
        if l.Flowlane == flowlane { return l, true }
    }
    return LimsLane{}, false
}

// LibraryCodes lists the library codes of the lane in LIMS order.
func (l LimsLane) LibraryCodes() []string {
    out := make([]string, 0, len(l.Libraries))
    for _, lib := range l.Libraries {
        out = append(out, lib.Code)
    }
    return out
}
