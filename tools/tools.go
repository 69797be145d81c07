//go:build tools

package tools

// This file tracks tool dependencies for reproducible builds.
// The goose CLI applies internal/migrations by hand when needed.

import (
    _ "github.com/pressly/goose/v3/cmd/goose"
)
