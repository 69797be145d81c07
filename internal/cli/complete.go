package cli

import (
    "encoding/json"
    "fmt"

    "github.com/spf13/cobra"

    "github.com/odomlab/odom-data-processing/internal/services/alignment"
    "github.com/odomlab/odom-data-processing/internal/services/completeness"
)

var completeOpts struct {
    resubmit, force, json bool
    algorithm             string
}

var confirmCompleteCmd = &cobra.Command{
    Use:   "confirm-complete <run>",
    Short: "Check that every lane of a run has raw data and a good alignment",
    Long: `Compare the run's LIMS lanes with the repository and report missing lanes,
missing raw data, missing or poor alignments. With --resubmit, lanes lacking
an alignment get a new job chain.

Exits 4 when the run is incomplete.`,
    Args: cobra.ExactArgs(1),
    RunE: func(cmd *cobra.Command, args []string) error {
        switch completeOpts.algorithm {
        case "", alignment.AlgorithmAln, alignment.AlgorithmMem:
        default:
            return fmt.Errorf("--algorithm must be %s or %s", alignment.AlgorithmAln, alignment.AlgorithmMem)
        }
        c, err := checker()
        if err != nil { return err }
        report, err := c.ConfirmComplete(cmd.Context(), args[0], completeness.Options{
            Resubmit: completeOpts.resubmit, Algorithm: completeOpts.algorithm, Force: completeOpts.force,
        })
        if err != nil { return err }

        out := cmd.OutOrStdout()
        if completeOpts.json {
            enc := json.NewEncoder(out)
            enc.SetIndent("", "  ")
            if err := enc.Encode(report); err != nil { return err }
        } else {
            for _, p := range report.Problems {
                fmt.Fprintf(out, "%s\tlane %d\t%s\t%s\n", p.Kind, p.Flowlane, p.Library, p.Detail)
            }
            for _, id := range report.Resubmitted {
                fmt.Fprintf(out, "resubmitted\t%s\n", id)
            }
        }
        if !report.Complete { return fmt.Errorf("%s: %d problem(s): %w", args[0], len(report.Problems), errIncomplete) }
        return nil
    },
}

func init() {
    f := confirmCompleteCmd.Flags()
    f.BoolVarP(&completeOpts.resubmit, "resubmit", "r", false, "resubmit alignments for lanes that lack one")
    f.StringVar(&completeOpts.algorithm, "algorithm", "", "bwa algorithm for resubmitted lanes (aln|mem)")
    f.BoolVar(&completeOpts.force, "force", false, "resubmit even when a job chain is still pending")
    f.BoolVar(&completeOpts.json, "json", false, "print the report as JSON")
}
