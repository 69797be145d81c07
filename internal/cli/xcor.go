package cli

import (
    "fmt"

    "github.com/spf13/cobra"

    "github.com/odomlab/odom-data-processing/internal/services/xcor"
)

var xcorReq xcor.Request

var generateXcorCmd = &cobra.Command{
    Use:   "generate-xcor",
    Short: "Submit cross-correlation QC for alignments that lack a report",
    Args:  cobra.NoArgs,
    RunE: func(cmd *cobra.Command, args []string) error {
        if xcorReq.Library == "" { return fmt.Errorf("--library is required") }
        if xcorReq.Facility == "" { xcorReq.Facility = cfg.Facility }
        svc, err := xcorService()
        if err != nil { return err }
        chains, err := svc.Generate(cmd.Context(), xcorReq)
        for _, c := range chains {
            fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", c.ID, c.Library, c.Marker)
        }
        return err
    },
}

func init() {
    f := generateXcorCmd.Flags()
    f.StringVar(&xcorReq.Library, "library", "", "library code")
    f.StringVar(&xcorReq.Facility, "facility", "", "facility code (default from config)")
    f.IntVar(&xcorReq.LaneNum, "lanenum", 0, "restrict to one lane number")
    f.BoolVar(&xcorReq.Force, "force", false, "regenerate reports that already exist")
}
