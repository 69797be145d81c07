package lims_test

import (
    "context"
    "encoding/json"
    "io"
    "net/http"
    "net/http/httptest"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/odomlab/odom-data-processing/internal/adapters/lims"
    "github.com/odomlab/odom-data-processing/internal/domain"
)

func newServer(t *testing.T) *httptest.Server {
    t.Helper()
    mux := http.NewServeMux()
    mux.HandleFunc("/api/runs", func(w http.ResponseWriter, r *http.Request) {
        if r.Header.Get("Authorization") != "Token s3cret" {
            w.WriteHeader(http.StatusUnauthorized)
            return
        }
        runs := []domain.LimsRun{{RunID: "R1", Flowcell: "FC1", Status: domain.LimsSecondaryComplete, Lanes: []domain.LimsLane{{
            Flowlane: 1, Ready: true, Libraries: []domain.LimsLibrary{{Code: "do1"}},
        }}}}
        if r.URL.Query().Get("completed_since") == "" {
            runs = append(runs, domain.LimsRun{RunID: "R0", Status: domain.LimsSecondaryComplete})
        }
        _ = json.NewEncoder(w).Encode(runs)
    })
    mux.HandleFunc("/api/runs/R1", func(w http.ResponseWriter, r *http.Request) {
        _ = json.NewEncoder(w).Encode(domain.LimsRun{RunID: "R1", Flowcell: "FC1", Status: domain.LimsPrimaryComplete})
    })
    mux.HandleFunc("/api/runs/DOWN", func(w http.ResponseWriter, r *http.Request) {
        http.Error(w, "maintenance", http.StatusServiceUnavailable)
    })
    mux.HandleFunc("/api/files/a.fq.gz", func(w http.ResponseWriter, r *http.Request) {
        _, _ = io.WriteString(w, "payload")
    })
    srv := httptest.NewServer(mux)
    t.Cleanup(srv.Close)
    return srv
}

func TestRecentRuns(t *testing.T) {
    srv := newServer(t)
    c := lims.New(srv.URL+"/api/", "s3cret", time.Second)

    runs, err := c.RecentRuns(context.Background(), time.Now().Add(-time.Hour))
    require.NoError(t, err)
    require.Len(t, runs, 1)
    assert.Equal(t, "R1", runs[0].RunID)
    assert.Equal(t, []string{"do1"}, runs[0].Lanes[0].LibraryCodes())

    all, err := c.RecentRuns(context.Background(), time.Time{})
    require.NoError(t, err)
    assert.Len(t, all, 2)
}

func TestRunInfoErrors(t *testing.T) {
    srv := newServer(t)
    c := lims.New(srv.URL+"/api", "s3cret", time.Second)

    run, err := c.RunInfo(context.Background(), "R1")
    require.NoError(t, err)
    assert.Equal(t, domain.LimsPrimaryComplete, run.Status)

    _, err = c.RunInfo(context.Background(), "NOPE")
    assert.ErrorIs(t, err, domain.ErrNotFound)

    _, err = c.RunInfo(context.Background(), "DOWN")
    assert.ErrorIs(t, err, domain.ErrLimsUnavailable)
    assert.True(t, domain.IsTransient(err))
}

func TestUnreachableLimsIsUnavailable(t *testing.T) {
    srv := newServer(t)
    url := srv.URL
    srv.Close()
    _, err := lims.New(url, "", time.Second).RecentRuns(context.Background(), time.Time{})
    assert.ErrorIs(t, err, domain.ErrLimsUnavailable)
}

func TestOpenRelativeURL(t *testing.T) {
    srv := newServer(t)
    c := lims.New(srv.URL+"/api", "s3cret", time.Second)
    rc, err := c.Open(context.Background(), "files/a.fq.gz")
    require.NoError(t, err)
    defer rc.Close()
    b, err := io.ReadAll(rc)
    require.NoError(t, err)
    assert.Equal(t, "payload", string(b))
}
