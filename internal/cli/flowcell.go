package cli

import (
    "fmt"
    "strconv"

    "github.com/spf13/cobra"

    "github.com/odomlab/odom-data-processing/internal/services/flowcell"
)

var flowcellOpts struct {
    test, dbCheck, forcePrimary, forceAll, forceDownload bool
    destDir, trustAdapters                                string
}

var processFlowcellCmd = &cobra.Command{
    Use:   "process-flowcell <run> [flowlane]",
    Short: "Download, pair and dispatch one flow cell run",
    Long: `Take a single run through download, demultiplexing, pairing, file
processing and alignment dispatch, without claiming lanes.

Examples:
  osqpipe process-flowcell 140122_HWI-ST1234_0456_AC3ABCACXX
  osqpipe process-flowcell 140122_HWI-ST1234_0456_AC3ABCACXX 3 --force-download`,
    Args: cobra.RangeArgs(1, 2),
    RunE: func(cmd *cobra.Command, args []string) error {
        opts := flowcell.Options{
            DestDir: flowcellOpts.destDir, TestMode: flowcellOpts.test, LibraryCheck: flowcellOpts.dbCheck,
            ForcePrimary: flowcellOpts.forcePrimary, ForceAll: flowcellOpts.forceAll,
            ForceDownload: flowcellOpts.forceDownload, TrustLimsAdapters: flowcellOpts.trustAdapters,
        }
        if len(args) == 2 {
            fl, err := strconv.Atoi(args[1])
            if err != nil || fl < 1 { return fmt.Errorf("flowlane must be a positive integer, got %q", args[1]) }
            opts.Flowlanes = []int{fl}
        }
        p, err := buildPipeline(cmd.Context(), opts.TestMode)
        if err != nil { return err }
        rs, err := p.ProcessFlowcell(cmd.Context(), args[0], opts)
        fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tgroups=%d\n", rs.RunID, rs.State, rs.Groups)
        return err
    },
}

func init() {
    f := processFlowcellCmd.Flags()
    f.BoolVarP(&flowcellOpts.test, "test", "t", false, "report what would be done without changing anything")
    f.BoolVarP(&flowcellOpts.dbCheck, "db-library-check", "n", false, "refuse the run when a library is not in the repository")
    f.BoolVarP(&flowcellOpts.forcePrimary, "force-primary", "f", false, "process a run that is only primary complete")
    f.BoolVar(&flowcellOpts.forceAll, "force-all", false, "process the run whatever its LIMS status")
    f.BoolVar(&flowcellOpts.forceDownload, "force-download", false, "refetch files and reprocess lanes already in process")
    f.StringVarP(&flowcellOpts.destDir, "destination", "d", "", "download directory (default: incoming directory)")
    f.StringVar(&flowcellOpts.trustAdapters, "trust-lims-adapters", "", "fill missing library adapters from the LIMS under this protocol")
}
