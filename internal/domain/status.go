package domain

import "fmt"

// LaneStatus is the repository processing state of a lane. The values are
// stored verbatim in the lanes table.
type LaneStatus string

const (
    StatusReady     LaneStatus = "ready"
    StatusMarked    LaneStatus = "marked for processing"
    StatusInProcess LaneStatus = "in process"
    StatusStaged    LaneStatus = "staged"
    StatusAligning  LaneStatus = "aligning"
    StatusComplete  LaneStatus = "complete"
    StatusFailed    LaneStatus = "failed"
)

var statusRank = map[LaneStatus]int{
    StatusReady:     10,
    StatusMarked:    20,
    StatusInProcess: 30,
    StatusStaged:    40,
    StatusAligning:  50,
    StatusComplete:  60,
}

// ParseLaneStatus validates a stored or user supplied status code.
func ParseLaneStatus(s string) (LaneStatus, error) {
    st := LaneStatus(s)
    if _, ok := statusRank[st]; ok || st == StatusFailed { return st, nil }
    return "", fmt.Errorf("unknown lane status %q", s)
}

// Rank orders statuses along the processing path; failed has no rank.
func (s LaneStatus) Rank() int { return statusRank[s] }

// AtLeast reports whether s is at or beyond other on the processing path.
func (s LaneStatus) AtLeast(other LaneStatus) bool {
    if s == StatusFailed { return false }
    return s.Rank() >= other.Rank()
}

// CanAdvance reports whether moving a lane from one status to another keeps
// the status monotonic. Any non-complete lane may fail; nothing leaves
// failed or complete without an operator override.
func CanAdvance(from, to LaneStatus) bool {
    if from == StatusFailed || from == StatusComplete { return false }
    if to == StatusFailed { return true }
    fr, ok1 := statusRank[from]
    tr, ok2 := statusRank[to]
    return ok1 && ok2 && tr > fr
}

// RunState tracks one invocation's progress through a flow cell.
type RunState int

const (
    RunNotReady RunState = iota
    RunPrimaryComplete
    RunSecondaryComplete
    RunDownloaded
    RunPaired
    RunDispatched
)

func (s RunState) String() string {
    switch s {
    case RunNotReady:
        return "not-ready"
    case RunPrimaryComplete:
        return "primary-complete"
    case RunSecondaryComplete:
        return "secondary-complete"
    case RunDownloaded:
        return "downloaded"
    case RunPaired:
        return "paired"
    case RunDispatched:
        return "dispatched"
    }
    return fmt.Sprintf("RunState(%d)", int(s))
}

// RunStateFromLims maps the LIMS run status onto the first states of the run
// state machine.
func RunStateFromLims(status string) RunState {
    switch status {
    case LimsSecondaryComplete:
        return RunSecondaryComplete
    case LimsPrimaryComplete:
        return RunPrimaryComplete
    }
    return RunNotReady
}
