package cli

import (
    "context"

    "github.com/spf13/cobra"
)

type migrator interface {
    Migrate(ctx context.Context) error
}

var migrateCmd = &cobra.Command{
    Use:   "migrate",
    Short: "Apply pending repository schema migrations",
    Args:  cobra.NoArgs,
    RunE: func(cmd *cobra.Command, args []string) error {
        // sqlite migrates when opened.
        if m, ok := repo.(migrator); ok { return m.Migrate(cmd.Context()) }
        return nil
    },
}
