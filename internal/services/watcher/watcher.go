// Package watcher polls the LIMS for lanes whose sequencing data is ready.
package watcher

import (
    "context"
    "fmt"
    "log/slog"
    "sort"
    "sync"
    "time"

    "github.com/odomlab/odom-data-processing/internal/domain"
    "github.com/odomlab/odom-data-processing/internal/libcode"
    "github.com/odomlab/odom-data-processing/internal/ports"
)

type Service struct {
    lims     ports.Lims
    libs     ports.LibraryRepository
    facility string
    log      *slog.Logger

    mu      sync.Mutex
    missing map[string]struct{}
}

func New(lims ports.Lims, libs ports.LibraryRepository, facility string, logger *slog.Logger) *Service {
    if logger == nil { logger = slog.Default() }
    return &Service{lims: lims, libs: libs, facility: facility, log: logger, missing: map[string]struct{}{}}
}

// ExpandCodes flattens LIMS library entries, some of which are code ranges.
func ExpandCodes(entries []string) ([]string, error) {
    var out []string
    for _, e := range entries {
        if !libcode.IsMultiplexed(e) {
            out = append(out, e)
            continue
        }
        codes, err := libcode.Expand(e)
        if err != nil { return nil, err }
        out = append(out, codes...)
    }
    return out, nil
}

// FindReadyLanes returns the lanes the LIMS reports ready since the given
// time (every run for the zero time) whose libraries are registered in the
// repository. Libraries that are not registered are remembered and reported
// by MissingLibraries. The returned lanes are not yet persisted.
func (s *Service) FindReadyLanes(ctx context.Context, since time.Time) ([]domain.Lane, error) {
    runs, err := s.lims.RecentRuns(ctx, since)
    if err != nil { return nil, fmt.Errorf("query lims for ready lanes: %w", err) }

    type candidate struct {
        lane  domain.Lane
        codes []string
    }
    var cands []candidate
    var all []string
    for _, run := range runs {
        for _, ll := range run.Lanes {
            if !ll.Ready { continue }
            codes, err := ExpandCodes(ll.LibraryCodes())
            if err != nil {
                s.log.Warn("skipping lane with unparseable library list", "run", run.RunID, "flowlane", ll.Flowlane, "error", err)
                continue
            }
            cands = append(cands, candidate{
                lane:  domain.Lane{RunNumber: run.RunID, Flowcell: run.Flowcell, Flowlane: ll.Flowlane, Facility: s.facility},
                codes: codes,
            })
            all = append(all, codes...)
        }
    }
    known, err := s.libs.Libraries(ctx, all)
    if err != nil { return nil, fmt.Errorf("look up libraries: %w", err) }

    var out []domain.Lane
    s.mu.Lock()
    defer s.mu.Unlock()
    for _, c := range cands {
        for _, code := range c.codes {
            if _, ok := known[code]; !ok {
                s.missing[code] = struct{}{}
                s.log.Warn("library not registered in repository", "run", c.lane.RunNumber, "flowlane", c.lane.Flowlane, "library", code)
                continue
            }
            l := c.lane
            l.Library = code
            l.Status = domain.StatusReady
            out = append(out, l)
        }
    }
    sort.Slice(out, func(i, j int) bool {
        a, b := out[i], out[j]
        if a.RunNumber != b.RunNumber { return a.RunNumber < b.RunNumber }
        if a.Flowlane != b.Flowlane { return a.Flowlane < b.Flowlane }
        return a.Library < b.Library
    })
    s.log.Debug("lims ready lanes", "since", since, "runs", len(runs), "lanes", len(out))
    return out, nil
}

// MissingLibraries lists, sorted, every library code seen in a ready lane
// that the repository does not know.
func (s *Service) MissingLibraries() []string {
    s.mu.Lock()
    defer s.mu.Unlock()
    out := make([]string, 0, len(s.missing))
    for code := range s.missing {
        out = append(out, code)
    }
    sort.Strings(out)
    return out
}
