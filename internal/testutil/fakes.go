// Package testutil provides in-memory stand-ins for the pipeline's outer
// ports and a throwaway SQLite repository.
package testutil

import (
    "context"
    "fmt"
    "os"
    "path/filepath"
    "strconv"
    "sync"
    "testing"
    "time"

    "github.com/stretchr/testify/require"

    "github.com/odomlab/odom-data-processing/internal/adapters/sqlite"
    "github.com/odomlab/odom-data-processing/internal/domain"
    "github.com/odomlab/odom-data-processing/internal/ports"
)

// NewStore opens a migrated SQLite repository in the test's temp dir and
// registers the given libraries.
func NewStore(t *testing.T, libs ...domain.Library) *sqlite.Store {
    t.Helper()
    s, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "repo.db"))
    require.NoError(t, err)
    t.Cleanup(s.Close)
    for _, l := range libs {
        _, err := s.CreateLibrary(context.Background(), l)
        require.NoError(t, err)
    }
    return s
}

// Lims serves runs from memory.
type Lims struct {
    mu    sync.Mutex
    Runs  map[string]domain.LimsRun
    Err   error
    Calls int
}

func NewLims(runs ...domain.LimsRun) *Lims {
    l := &Lims{Runs: map[string]domain.LimsRun{}}
    for _, r := range runs {
        l.Runs[r.RunID] = r
    }
    return l
}

func (l *Lims) RecentRuns(_ context.Context, since time.Time) ([]domain.LimsRun, error) {
    l.mu.Lock()
    defer l.mu.Unlock()
    l.Calls++
    if l.Err != nil { return nil, l.Err }
    var out []domain.LimsRun
    for _, r := range l.Runs {
        if since.IsZero() || r.CompletedAt == nil || !r.CompletedAt.Before(since) { out = append(out, r) }
    }
    return out, nil
}

func (l *Lims) RunInfo(_ context.Context, id string) (domain.LimsRun, error) {
    l.mu.Lock()
    defer l.mu.Unlock()
    l.Calls++
    if l.Err != nil { return domain.LimsRun{}, l.Err }
    r, ok := l.Runs[id]
    if !ok { return domain.LimsRun{}, fmt.Errorf("run %s: %w", id, domain.ErrNotFound) }
    return r, nil
}

// Fetcher writes canned content for each URL. FailFirst makes the first n
// fetches of a URL fail.
type Fetcher struct {
    mu        sync.Mutex
    Content   map[string][]byte
    FailFirst map[string]int
    Fetches   map[string]int
}

func NewFetcher() *Fetcher {
    return &Fetcher{Content: map[string][]byte{}, FailFirst: map[string]int{}, Fetches: map[string]int{}}
}

func (f *Fetcher) Fetch(_ context.Context, url, dest string) (int64, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    f.Fetches[url]++
    if f.FailFirst[url] > 0 {
        f.FailFirst[url]--
        return 0, fmt.Errorf("fetch %s: connection reset", url)
    }
    body, ok := f.Content[url]
    if !ok { return 0, fmt.Errorf("fetch %s: %w", url, domain.ErrNotFound) }
    if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil { return 0, err }
    return int64(len(body)), os.WriteFile(dest, body, 0o644)
}

// Remote records cluster operations.
type Remote struct {
    mu          sync.Mutex
    Dirs        []string
    Commands    []string
    Transfers   [][2]string
    TransferErr error
    // Absent lists paths Exists reports as missing.
    Absent []string
}

func (r *Remote) Path(path string) string { return "cluster:" + path }

func (r *Remote) MkdirAll(_ context.Context, dir string) error {
    r.mu.Lock()
    defer r.mu.Unlock()
    r.Dirs = append(r.Dirs, dir)
    return nil
}

func (r *Remote) Run(_ context.Context, cmd string) (string, error) {
    r.mu.Lock()
    defer r.mu.Unlock()
    r.Commands = append(r.Commands, cmd)
    return "", nil
}

func (r *Remote) Exists(_ context.Context, path string) (bool, error) {
    for _, p := range r.Absent {
        if p == path { return false, nil }
    }
    return true, nil
}

func (r *Remote) WriteFile(context.Context, string, string, bool) error { return nil }

func (r *Remote) Transfer(_ context.Context, src, dst string) error {
    r.mu.Lock()
    defer r.mu.Unlock()
    if r.TransferErr != nil { return r.TransferErr }
    r.Transfers = append(r.Transfers, [2]string{src, dst})
    return nil
}

// Scheduler hands out sequential job ids.
type Scheduler struct {
    mu       sync.Mutex
    Requests []ports.JobRequest
    Err      error
}

func (s *Scheduler) Submit(_ context.Context, req ports.JobRequest) (string, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.Err != nil { return "", s.Err }
    s.Requests = append(s.Requests, req)
    return strconv.Itoa(100 + len(s.Requests)), nil
}

// Notifier records e-mails.
type Notifier struct {
    mu       sync.Mutex
    Subjects []string
    Bodies   []string
}

func (n *Notifier) EmailAdmins(_ context.Context, subject, body string) error {
    n.mu.Lock()
    defer n.mu.Unlock()
    n.Subjects = append(n.Subjects, subject)
    n.Bodies = append(n.Bodies, body)
    return nil
}

var (
    _ ports.Lims      = (*Lims)(nil)
    _ ports.Fetcher   = (*Fetcher)(nil)
    _ ports.Remote    = (*Remote)(nil)
    _ ports.Scheduler = (*Scheduler)(nil)
    _ ports.Notifier  = (*Notifier)(nil)
)

// Fastq renders n reads of the given length, each carrying barcode in its
// header comment.
func Fastq(n, length int, barcode string) []byte {
    var b []byte
    for i := 0; i < n; i++ {
        seq := make([]byte, length)
        qual := make([]byte, length)
        for j := range seq {
            seq[j] = "ACGT"[(i+j)%4]
            qual[j] = 'I'
        }
        b = fmt.Appendf(b, "@read%d 1:N:0:%s\n%s\n+\n%s\n", i, barcode, seq, qual)
    }
    return b
}
