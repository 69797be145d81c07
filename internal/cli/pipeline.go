package cli

import (
    "context"
    "fmt"
    "net/http"
    "time"

    "github.com/spf13/cobra"

    httpadapter "github.com/odomlab/odom-data-processing/internal/adapters/http"
    "github.com/odomlab/odom-data-processing/internal/workers/pipeline"
)

var (
    recentOnly   bool
    pipelineTest bool

    watchInterval time.Duration
    watchListen   string
)

var runPipelineCmd = &cobra.Command{
    Use:   "run-pipeline",
    Short: "Claim ready lanes from the LIMS and dispatch their alignments",
    Long: `Poll the LIMS for lanes that are ready, claim them in the repository and
take each affected flow cell through download, pairing, file processing and
alignment dispatch.

Exit status: 2 when upstream data needs correcting, 3 when a service was
unavailable (rerun later).`,
    Args: cobra.NoArgs,
    RunE: func(cmd *cobra.Command, args []string) error {
        p, err := buildPipeline(cmd.Context(), pipelineTest)
        if err != nil { return err }
        sum, err := p.ProcessReadyLanes(cmd.Context(), pipeline.Options{RecentOnly: recentOnly, TestMode: pipelineTest})
        for _, rs := range sum.Runs {
            fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tlanes=%d\tgroups=%d\n", rs.RunID, rs.State, rs.Lanes, rs.Groups)
        }
        return err
    },
}

var reconcileCmd = &cobra.Command{
    Use:   "reconcile",
    Short: "Register alignments delivered by finished job chains",
    Args:  cobra.NoArgs,
    RunE: func(cmd *cobra.Command, args []string) error {
        sum, err := reconciler().Reconcile(cmd.Context())
        fmt.Fprintf(cmd.OutOrStdout(), "alignments=%d reports=%d stale=%d\n", sum.Alignments, sum.Reports, len(sum.Stale))
        for _, c := range sum.Stale {
            fmt.Fprintf(cmd.OutOrStdout(), "stale\t%s\t%s\t%s\t%s\n", c.ID, c.RunNumber, c.Library, c.SubmittedAt.Format(time.RFC3339))
        }
        return err
    },
}

var watchCmd = &cobra.Command{
    Use:   "watch",
    Short: "Run the pipeline and reconciliation on an interval, serving status over HTTP",
    Args:  cobra.NoArgs,
    RunE: func(cmd *cobra.Command, args []string) error {
        ctx := cmd.Context()
        interval := cfg.Watch.Interval
        if cmd.Flags().Changed("interval") { interval = watchInterval }
        listen := cfg.HTTP.Listen
        if cmd.Flags().Changed("listen") { listen = watchListen }

        p, err := buildPipeline(ctx, false)
        if err != nil { return err }
        c, err := checker()
        if err != nil { return err }

        srv := &http.Server{Addr: listen, Handler: httpadapter.New(c, repo, logger).Routes(), ReadHeaderTimeout: 10 * time.Second}
        errCh := make(chan error, 1)
        go func() { errCh <- srv.ListenAndServe() }()
        logger.Info("status server listening", "addr", listen, "interval", interval)

        done := make(chan struct{})
        go func() {
            defer close(done)
            pipeline.Watch(ctx, interval, pipeline.Batch(p, reconciler(), pipeline.Options{RecentOnly: recentOnly}), logger)
        }()

        select {
        case <-ctx.Done():
        case err := <-errCh:
            return fmt.Errorf("status server: %w", err)
        }
        <-done
        shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
        defer cancel()
        return srv.Shutdown(shutdown)
    },
}

func init() {
    runPipelineCmd.Flags().BoolVar(&recentOnly, "recent-only", false, "claim only lanes reported by this LIMS poll")
    runPipelineCmd.Flags().BoolVarP(&pipelineTest, "test", "t", false, "report what would be done without changing anything")

    watchCmd.Flags().DurationVar(&watchInterval, "interval", 15*time.Minute, "time between passes")
    watchCmd.Flags().StringVar(&watchListen, "listen", ":8080", "status server address")
    watchCmd.Flags().BoolVar(&recentOnly, "recent-only", false, "claim only lanes reported by each LIMS poll")
}
