// Package cli provides the osqpipe command-line interface. Each command is
// one pipeline stage, suitable for cron.
package cli

import (
    "context"
    "errors"
    "fmt"
    "log/slog"
    "os"
    "os/signal"
    "syscall"

    "github.com/google/uuid"
    "github.com/spf13/cobra"

    "github.com/odomlab/odom-data-processing/internal/config"
    "github.com/odomlab/odom-data-processing/internal/domain"
    "github.com/odomlab/odom-data-processing/internal/ports"
)

// Version is set at build time.
var Version = "0.1.0"

var (
    configPath string
    verbose    bool

    cfg      config.Config
    logger   *slog.Logger
    closeLog = func() error { return nil }
    repo     ports.Repository
)

var rootCmd = &cobra.Command{
    Use:   "osqpipe",
    Short: "Sequencing data intake and alignment pipeline",
    Long: `osqpipe pulls finished flow cells from the LIMS, registers their lanes in
the repository, and dispatches alignment job chains to the compute cluster.

Commands are idempotent and safe to run from cron; overlapping invocations
never process the same lane twice.`,
    Version:       Version,
    SilenceUsage:  true,
    SilenceErrors: true,
    PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
        if cmd.Name() == "help" || cmd.Name() == "version" { return nil }
        var err error
        cfg, err = config.Load(configPath)
        if err != nil { return fmt.Errorf("load config: %w", err) }
        level := cfg.LogLevel()
        if verbose { level = slog.LevelDebug }
        logger, closeLog = config.SetupLogger(cfg.Log.File, level)
        logger = logger.With("invocation", uuid.NewString(), "command", cmd.Name())
        slog.SetDefault(logger)

        repo, err = openRepository(cmd.Context(), cfg.Database)
        if err != nil { return fmt.Errorf("open repository: %w", err) }
        return nil
    },
}

func init() {
    rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (default $OSQPIPE_CONFIG)")
    rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

    rootCmd.AddCommand(runPipelineCmd)
    rootCmd.AddCommand(processFlowcellCmd)
    rootCmd.AddCommand(confirmCompleteCmd)
    rootCmd.AddCommand(reconcileCmd)
    rootCmd.AddCommand(generateXcorCmd)
    rootCmd.AddCommand(forceStatusCmd)
    rootCmd.AddCommand(watchCmd)
    rootCmd.AddCommand(migrateCmd)
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    defer stop()
    err := run(ctx)
    code := ExitCode(err)
    if logger != nil {
        if err != nil {
            logger.Error("command failed", "error", err, "exit_code", code)
        } else {
            logger.Info("command finished")
        }
        _ = closeLog()
    } else if err != nil {
        fmt.Fprintf(os.Stderr, "Error: %v\n", err)
    }
    return code
}

// run executes the selected command. The repository is closed whether or
// not the command succeeded; cobra skips post-run hooks after an error.
func run(ctx context.Context) error {
    defer closeRepository()
    return rootCmd.ExecuteContext(ctx)
}

func closeRepository() {
    if repo == nil { return }
    repo.Close()
    repo = nil
}

// errIncomplete is returned when a completeness check found problems.
var errIncomplete = errors.New("run incomplete")

const (
    ExitOK           = 0
    ExitFailure      = 1
    ExitInconsistent = 2
    ExitTransient    = 3
    ExitIncomplete   = 4
)

// ExitCode maps an error to the exit status cron alerting keys on.
func ExitCode(err error) int {
    switch {
    case err == nil:
        return ExitOK
    case errors.Is(err, errIncomplete):
        return ExitIncomplete
    case domain.IsDataInconsistency(err):
        return ExitInconsistent
    case domain.IsTransient(err):
        return ExitTransient
    }
    return ExitFailure
}
