// Package fetch copies raw sequencing data from where the LIMS says it lives
// to the local incoming directory.
package fetch

import (
    "context"
    "fmt"
    "io"
    "os"
    "path/filepath"
    "strings"

    "github.com/odomlab/odom-data-processing/internal/ports"
)

// Fetcher picks an opener by URL scheme and writes through a ".part" file so
// a partial download never carries the final name.
type Fetcher struct {
    schemes  map[string]ports.Opener
    fallback ports.Opener
}

var _ ports.Fetcher = (*Fetcher)(nil)

// New returns a fetcher that uses fallback for URLs whose scheme has no
// registered opener (including relative LIMS paths).
func New(fallback ports.Opener) *Fetcher {
    return &Fetcher{schemes: map[string]ports.Opener{}, fallback: fallback}
}

// Register routes URLs with the given scheme ("s3") to op.
func (f *Fetcher) Register(scheme string, op ports.Opener) *Fetcher {
    f.schemes[scheme] = op
    return f
}

func (f *Fetcher) opener(url string) (ports.Opener, error) {
    if scheme, _, ok := strings.Cut(url, "://"); ok {
        if op, ok := f.schemes[strings.ToLower(scheme)]; ok { return op, nil }
    }
    if f.fallback == nil { return nil, fmt.Errorf("no opener for %s", url) }
    return f.fallback, nil
}

func (f *Fetcher) Fetch(ctx context.Context, url, dest string) (int64, error) {
    op, err := f.opener(url)
    if err != nil { return 0, err }
    rc, err := op.Open(ctx, url)
    if err != nil { return 0, err }
    defer rc.Close()

    if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil { return 0, err }
    part := dest + ".part"
    out, err := os.Create(part)
    if err != nil { return 0, err }
    n, err := io.Copy(out, rc)
    if cerr := out.Close(); err == nil { err = cerr }
    if err != nil {
        _ = os.Remove(part)
        return n, fmt.Errorf("copy %s: %w", url, err)
    }
    if err := os.Rename(part, dest); err != nil { return n, err }
    return n, nil
}
