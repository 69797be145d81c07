// Package main provides the entry point for the osqpipe CLI.
package main

import (
    "os"

    "github.com/odomlab/odom-data-processing/internal/cli"
)

func main() {
    os.Exit(cli.Execute())
}
