package cli

import (
    "fmt"

    "github.com/spf13/cobra"

    "github.com/odomlab/odom-data-processing/internal/domain"
)

var forceOpts struct {
    run, library, status string
    flowlane             int
}

var forceStatusCmd = &cobra.Command{
    Use:   "force-status",
    Short: "Set the status of lanes by hand, e.g. to retry a failed lane",
    Long: `Set lane status regardless of the normal forward-only ordering. This is
the only way a lane moves backwards, typically from failed to ready once the
upstream data has been corrected.

Example:
  osqpipe force-status --run 140122_HWI-ST1234_0456_AC3ABCACXX --flowlane 3 --status ready`,
    Args: cobra.NoArgs,
    RunE: func(cmd *cobra.Command, args []string) error {
        if forceOpts.run == "" { return fmt.Errorf("--run is required") }
        to, err := domain.ParseLaneStatus(forceOpts.status)
        if err != nil { return err }
        lanes, err := repo.LanesForRun(cmd.Context(), forceOpts.run)
        if err != nil { return err }
        n := 0
        for _, l := range lanes {
            if forceOpts.flowlane > 0 && l.Flowlane != forceOpts.flowlane { continue }
            if forceOpts.library != "" && l.Library != forceOpts.library { continue }
            if err := repo.ForceLaneStatus(cmd.Context(), l.ID, to); err != nil { return err }
            logger.Warn("lane status forced", "run", l.RunNumber, "flowlane", l.Flowlane, "library", l.Library, "from", l.Status, "to", to)
            n++
        }
        if n == 0 { return fmt.Errorf("no lanes of run %s match: %w", forceOpts.run, domain.ErrNotFound) }
        fmt.Fprintf(cmd.OutOrStdout(), "%d lane(s) set to %s\n", n, to)
        return nil
    },
}

func init() {
    f := forceStatusCmd.Flags()
    f.StringVar(&forceOpts.run, "run", "", "run number")
    f.IntVar(&forceOpts.flowlane, "flowlane", 0, "restrict to one flowlane")
    f.StringVar(&forceOpts.library, "library", "", "restrict to one library")
    f.StringVar(&forceOpts.status, "status", "", "new lane status")
}
