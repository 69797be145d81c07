// Package flowcell drives one flow cell from the LIMS into the incoming
// directory: it resolves lane libraries, downloads and demultiplexes raw
// data and pairs the resulting fastq files.
package flowcell

import (
    "context"
    "fmt"
    "log/slog"
    "sort"

    "github.com/odomlab/odom-data-processing/internal/domain"
    "github.com/odomlab/odom-data-processing/internal/ports"
    "github.com/odomlab/odom-data-processing/internal/services/watcher"
)

// LaneLibraries maps each flowlane to the sorted library codes the
// repository knows for it.
type LaneLibraries map[int][]string

// EmptyLanes lists the flowlanes with no registered library.
func (ll LaneLibraries) EmptyLanes() []int {
    var out []int
    for lane, codes := range ll {
        if len(codes) == 0 { out = append(out, lane) }
    }
    sort.Ints(out)
    return out
}

// QueryResult is the answer to a flow cell query.
type QueryResult struct {
    Run     domain.LimsRun
    Lanes   LaneLibraries
    Missing map[int][]string
}

type Query struct {
    lims ports.Lims
    libs ports.LibraryRepository
    log  *slog.Logger
}

func NewQuery(lims ports.Lims, libs ports.LibraryRepository, logger *slog.Logger) *Query {
    if logger == nil { logger = slog.Default() }
    return &Query{lims: lims, libs: libs, log: logger}
}

// Query maps every flowlane of the run to the set of its libraries present
// in the repository. Unknown libraries are logged unless quiet is set.
func (q *Query) Query(ctx context.Context, runID string, quiet bool) (QueryResult, error) {
    run, err := q.lims.RunInfo(ctx, runID)
    if err != nil { return QueryResult{}, fmt.Errorf("run %s: %w", runID, err) }

    perLane := map[int][]string{}
    var all []string
    for _, ll := range run.Lanes {
        codes, err := watcher.ExpandCodes(ll.LibraryCodes())
        if err != nil { return QueryResult{}, fmt.Errorf("run %s lane %d: %w", runID, ll.Flowlane, err) }
        perLane[ll.Flowlane] = codes
        all = append(all, codes...)
    }
    known, err := q.libs.Libraries(ctx, all)
    if err != nil { return QueryResult{}, err }

    res := QueryResult{Run: run, Lanes: LaneLibraries{}, Missing: map[int][]string{}}
    for lane, codes := range perLane {
        found := []string{}
        for _, c := range codes {
            if _, ok := known[c]; ok {
                found = append(found, c)
                continue
            }
            res.Missing[lane] = append(res.Missing[lane], c)
            if !quiet { q.log.Warn("library not found in repository", "run", runID, "flowlane", lane, "library", c) }
        }
        sort.Strings(found)
        res.Lanes[lane] = found
    }
    return res, nil
}
