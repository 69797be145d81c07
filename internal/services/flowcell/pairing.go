package flowcell

import (
    "fmt"
    "path/filepath"
    "sort"

    "github.com/odomlab/odom-data-processing/internal/domain"
    "github.com/odomlab/odom-data-processing/internal/fastqname"
)

// PairGroup is the one or two fastq files of a single library on a single
// flowlane, indexed by flowpair.
type PairGroup struct {
    Library  string
    Flowcell string
    Flowlane int
    Files    [2]string
}

// Key is "<library>:<flowlane>".
func (g PairGroup) Key() string { return fmt.Sprintf("%s:%d", g.Library, g.Flowlane) }

// Paired reports whether both ends are present.
func (g PairGroup) Paired() bool { return g.Files[0] != "" && g.Files[1] != "" }

// Paths returns the present files in flowpair order.
func (g PairGroup) Paths() []string {
    var out []string
    for _, f := range g.Files {
        if f != "" { out = append(out, f) }
    }
    return out
}

// PairFiles groups fastq files by library and flowlane. Every file lands in
// exactly one group; a duplicate flowpair or one other than 1 or 2 is a
// PairingInconsistency. Groups are returned sorted by key.
func PairFiles(files []string) ([]PairGroup, error) {
    groups := map[string]*PairGroup{}
    for _, f := range files {
        in, err := fastqname.ParseIncomingFastqName(f)
        if err != nil { return nil, err }
        key := fmt.Sprintf("%s:%d", in.Sample, in.Flowlane)
        g, ok := groups[key]
        if !ok {
            g = &PairGroup{Library: in.Sample, Flowcell: in.Flowcell, Flowlane: in.Flowlane}
            groups[key] = g
        }
        if in.Flowpair != 1 && in.Flowpair != 2 {
            return nil, &domain.PairingInconsistency{Key: key, Flowpair: in.Flowpair, Files: []string{filepath.Base(f)}, Reason: "flowpair must be 1 or 2"}
        }
        if prev := g.Files[in.Flowpair-1]; prev != "" {
            return nil, &domain.PairingInconsistency{Key: key, Flowpair: in.Flowpair,
                Files: []string{filepath.Base(prev), filepath.Base(f)}, Reason: "more than one file for flowpair"}
        }
        g.Files[in.Flowpair-1] = f
    }
    out := make([]PairGroup, 0, len(groups))
    for _, g := range groups {
        out = append(out, *g)
    }
    sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
    return out, nil
}
